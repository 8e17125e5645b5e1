package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var (
	edt      = time.FixedZone("EDT", -4*3600)
	newYork  = Location{Latitude: 40.7128, Longitude: -74.0060}
	solstice = time.Date(2024, 6, 21, 0, 0, 0, 0, edt)
	array    = PanelSpec{WattsPerPanel: 300, PanelCount: 20, Efficiency: 0.18, TiltDeg: 30, AzimuthDeg: 180}
)

// flatWeather returns hourly samples covering the whole day
func flatWeather(day time.Time, cloud, tempC float64) []WeatherSample {
	samples := make([]WeatherSample, 0, 24)
	for h := 0; h < 24; h++ {
		samples = append(samples, WeatherSample{
			Time:       day.Add(time.Duration(h) * time.Hour),
			CloudCover: cloud,
			TempC:      tempC,
		})
	}
	return samples
}

func sunnyCurve(t *testing.T, interval time.Duration) DailyProductionCurve {
	t.Helper()
	curve, err := ComputeCurve(newYork, array, solstice, flatWeather(solstice, 0, 25), interval)
	require.NoError(t, err)
	return curve
}

// hourlyCurve builds a curve from sparse hour -> kW values
func hourlyCurve(values map[int]float64) DailyProductionCurve {
	day := time.Date(2024, 6, 21, 0, 0, 0, 0, time.UTC)
	curve := DailyProductionCurve{Date: day, Interval: time.Hour}
	for h := 0; h < 24; h++ {
		curve.Points = append(curve.Points, ProductionPoint{
			Time:    day.Add(time.Duration(h) * time.Hour),
			PowerKW: values[h],
		})
	}
	return curve
}

func overlaps(a, b ScheduleItem) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}
