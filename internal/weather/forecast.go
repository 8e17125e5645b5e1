package weather

import (
	"math"
	"sort"
	"time"

	"github.com/awaistahir/solar-run/internal/engine"
)

// DaySummary condenses one calendar day of samples
type DaySummary struct {
	Date          time.Time `json:"date"`
	Samples       int       `json:"samples"`
	AvgCloudCover float64   `json:"avg_cloud_cover"` // 0-1
	MaxTempC      float64   `json:"max_temp_c"`
	MinTempC      float64   `json:"min_temp_c"`
	IsSunny       bool      `json:"is_sunny"`
}

// Sky buckets the average cloud cover the way the daily outlook shows it
func (d DaySummary) Sky() string {
	switch {
	case d.AvgCloudCover < 0.3:
		return "sunny"
	case d.AvgCloudCover < 0.7:
		return "partly cloudy"
	default:
		return "cloudy"
	}
}

// Summarize groups samples by calendar day in zone, in date order. Days with
// no samples are omitted.
func Summarize(samples []engine.WeatherSample, zone *time.Location) []DaySummary {
	var days []DaySummary
	index := map[time.Time]int{}
	sums := []float64{}

	for _, s := range samples {
		day := engine.StartOfDay(s.Time.In(zone))
		i, ok := index[day]
		if !ok {
			i = len(days)
			index[day] = i
			days = append(days, DaySummary{Date: day, MaxTempC: math.Inf(-1), MinTempC: math.Inf(1)})
			sums = append(sums, 0)
		}
		d := &days[i]
		d.Samples++
		sums[i] += s.CloudCover
		d.MaxTempC = math.Max(d.MaxTempC, s.TempC)
		d.MinTempC = math.Min(d.MinTempC, s.TempC)
	}

	for i := range days {
		days[i].AvgCloudCover = sums[i] / float64(days[i].Samples)
		days[i].IsSunny = days[i].AvgCloudCover < 0.3
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Date.Before(days[j].Date) })
	return days
}
