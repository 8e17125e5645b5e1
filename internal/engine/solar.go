package engine

import (
	"fmt"
	"math"
	"sort"
	"time"
)

const (
	solarConstantWm2 = 1353.0 // extraterrestrial beam irradiance used by the Meinel model
	stcIrradianceWm2 = 1000.0 // irradiance at which panels are rated
	stcTempC         = 25.0
	skyDiffuseRatio  = 0.1 // clear-sky diffuse horizontal as a fraction of beam
	minutesPerDay    = 24 * 60
)

// ModelConfig tunes the production model
type ModelConfig struct {
	// AttenuationCoefficient scales how much full cloud cover removes, in (0, 1].
	AttenuationCoefficient float64
	// TempCoefficient is the relative efficiency change per degree above 25°C.
	TempCoefficient float64
	// MaxWeatherGap is the widest spacing between samples that is still interpolated.
	MaxWeatherGap time.Duration
}

// DefaultModelConfig returns the documented defaults
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		AttenuationCoefficient: 1.0,
		TempCoefficient:        -0.004,
		MaxWeatherGap:          3 * time.Hour,
	}
}

// Validate checks the tunables
func (c ModelConfig) Validate() error {
	if !finite(c.AttenuationCoefficient) || c.AttenuationCoefficient <= 0 || c.AttenuationCoefficient > 1 {
		return fmt.Errorf("%w: attenuation coefficient %v outside (0, 1]", ErrInvalidConfiguration, c.AttenuationCoefficient)
	}
	if !finite(c.TempCoefficient) || c.TempCoefficient > 0 {
		return fmt.Errorf("%w: temperature coefficient %v must be <= 0", ErrInvalidConfiguration, c.TempCoefficient)
	}
	if c.MaxWeatherGap <= 0 {
		return fmt.Errorf("%w: max weather gap must be positive", ErrInvalidConfiguration)
	}
	return nil
}

// Model converts weather into PV output for a site
type Model struct {
	cfg ModelConfig
}

// NewModel creates a production model
func NewModel(cfg ModelConfig) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Model{cfg: cfg}, nil
}

// ComputeCurve runs the model with default tunables
func ComputeCurve(loc Location, panel PanelSpec, date time.Time, series []WeatherSample, interval time.Duration) (DailyProductionCurve, error) {
	m := &Model{cfg: DefaultModelConfig()}
	return m.ComputeCurve(loc, panel, date, series, interval)
}

// ComputeCurve predicts the output of every slot of the day containing date.
// Slots are laid out from local midnight in date's time zone.
func (m *Model) ComputeCurve(loc Location, panel PanelSpec, date time.Time, series []WeatherSample, interval time.Duration) (DailyProductionCurve, error) {
	if err := loc.Validate(); err != nil {
		return DailyProductionCurve{}, err
	}
	if err := panel.Validate(); err != nil {
		return DailyProductionCurve{}, err
	}
	slots, err := slotCount(interval)
	if err != nil {
		return DailyProductionCurve{}, err
	}

	samples, err := prepareSeries(series)
	if err != nil {
		return DailyProductionCurve{}, err
	}

	dayStart := StartOfDay(date)
	curve := DailyProductionCurve{
		Date:     dayStart,
		Interval: interval,
		Points:   make([]ProductionPoint, 0, slots),
	}

	for i := 0; i < slots; i++ {
		start := dayStart.Add(time.Duration(i) * interval)
		mid := start.Add(interval / 2)

		w, err := sampleAt(samples, mid, m.cfg.MaxWeatherGap)
		if err != nil {
			return DailyProductionCurve{}, err
		}

		sun := SunPosition(loc, mid)
		curve.Points = append(curve.Points, ProductionPoint{
			Time:            start,
			PowerKW:         m.power(panel, sun, mid, w),
			SunElevationDeg: sun.ElevationDeg,
		})
	}

	return curve, nil
}

func (m *Model) power(panel PanelSpec, sun Sun, t time.Time, w WeatherSample) float64 {
	if sun.ElevationDeg <= 0 {
		return 0
	}

	capacity := panel.CapacityKW()
	if capacity == 0 {
		return 0
	}

	sky := clearSky(sun, panel, t)
	var poa float64
	if w.IrradianceWm2 != nil {
		// measurements already include cloud effects
		if sky.ghi > 0 {
			poa = *w.IrradianceWm2 * sky.poa / sky.ghi
		}
	} else {
		poa = sky.poa * (1 - w.CloudCover*m.cfg.AttenuationCoefficient)
	}

	ratio := m.EffectiveEfficiency(panel, w.TempC) / panel.Efficiency
	kw := poa / stcIrradianceWm2 * capacity * ratio
	return math.Min(math.Max(kw, 0), capacity)
}

// EffectiveEfficiency derates the rated efficiency for ambient temperature
func (m *Model) EffectiveEfficiency(panel PanelSpec, tempC float64) float64 {
	eff := panel.Efficiency * (1 + m.cfg.TempCoefficient*(tempC-stcTempC))
	return math.Max(eff, 0)
}

// Sun is the sun's apparent position
type Sun struct {
	ElevationDeg float64
	AzimuthDeg   float64 // clockwise from north
}

// SunPosition computes solar elevation and azimuth for a location and instant
func SunPosition(loc Location, t time.Time) Sun {
	utc := t.UTC()
	hours := float64(utc.Hour()) + float64(utc.Minute())/60 + float64(utc.Second())/3600

	// fractional year
	g := 2 * math.Pi / 365 * (float64(utc.YearDay()-1) + (hours-12)/24)

	eotMin := 229.18 * (0.000075 + 0.001868*math.Cos(g) - 0.032077*math.Sin(g) -
		0.014615*math.Cos(2*g) - 0.040849*math.Sin(2*g))
	decl := 0.006918 - 0.399912*math.Cos(g) + 0.070257*math.Sin(g) -
		0.006758*math.Cos(2*g) + 0.000907*math.Sin(2*g) -
		0.002697*math.Cos(3*g) + 0.00148*math.Sin(3*g)

	solarMin := hours*60 + eotMin + 4*loc.Longitude
	hourAngle := rad(solarMin/4 - 180)
	lat := rad(loc.Latitude)

	sinEl := math.Sin(lat)*math.Sin(decl) + math.Cos(lat)*math.Cos(decl)*math.Cos(hourAngle)
	sinEl = math.Max(-1, math.Min(1, sinEl))
	el := math.Asin(sinEl)

	az := math.Atan2(math.Sin(hourAngle), math.Cos(hourAngle)*math.Sin(lat)-math.Tan(decl)*math.Cos(lat))
	azDeg := math.Mod(deg(az)+180, 360)

	return Sun{ElevationDeg: deg(el), AzimuthDeg: azDeg}
}

// IncidenceDeg is the angle between the sun's rays and the panel normal
func IncidenceDeg(sun Sun, panel PanelSpec) float64 {
	return deg(math.Acos(cosIncidence(sun, panel)))
}

func cosIncidence(sun Sun, panel PanelSpec) float64 {
	el := rad(sun.ElevationDeg)
	tilt := rad(panel.TiltDeg)
	c := math.Sin(el)*math.Cos(tilt) + math.Cos(el)*math.Sin(tilt)*math.Cos(rad(sun.AzimuthDeg-panel.AzimuthDeg))
	return math.Max(-1, math.Min(1, c))
}

type irradiance struct {
	ghi float64 // global horizontal
	poa float64 // plane of array
}

// clearSky uses the Meinel air-mass model with an isotropic sky
func clearSky(sun Sun, panel PanelSpec, t time.Time) irradiance {
	if sun.ElevationDeg <= 0 {
		return irradiance{}
	}

	zenith := 90 - sun.ElevationDeg
	// Kasten-Young air mass
	am := 1 / (math.Cos(rad(zenith)) + 0.50572*math.Pow(96.07995-zenith, -1.6364))

	doy := float64(t.UTC().YearDay())
	seasonal := 1 + 0.033*math.Cos(2*math.Pi*doy/365)

	dni := solarConstantWm2 * seasonal * math.Pow(0.7, math.Pow(am, 0.678))
	dhi := skyDiffuseRatio * dni

	beam := 0.0
	if ci := cosIncidence(sun, panel); ci > 0 {
		beam = dni * ci
	}

	return irradiance{
		ghi: dni*math.Sin(rad(sun.ElevationDeg)) + dhi,
		poa: beam + dhi*(1+math.Cos(rad(panel.TiltDeg)))/2,
	}
}

// StartOfDay returns local midnight of t's calendar day
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func slotCount(interval time.Duration) (int, error) {
	if interval <= 0 || interval%time.Minute != 0 {
		return 0, fmt.Errorf("%w: interval %v must be a positive whole number of minutes", ErrInvalidConfiguration, interval)
	}
	mins := int(interval / time.Minute)
	if minutesPerDay%mins != 0 {
		return 0, fmt.Errorf("%w: interval %v does not divide a day evenly", ErrInvalidConfiguration, interval)
	}
	return minutesPerDay / mins, nil
}

// prepareSeries validates and time-orders a copy of the series
func prepareSeries(series []WeatherSample) ([]WeatherSample, error) {
	if len(series) == 0 {
		return nil, fmt.Errorf("%w: weather series is empty", ErrInsufficientData)
	}
	out := make([]WeatherSample, len(series))
	copy(out, series)

	for _, w := range out {
		if !finite(w.CloudCover) || w.CloudCover < 0 || w.CloudCover > 1 {
			return nil, fmt.Errorf("%w: cloud cover %v at %s outside [0, 1]", ErrInsufficientData, w.CloudCover, w.Time.Format(time.RFC3339))
		}
		if !finite(w.TempC) {
			return nil, fmt.Errorf("%w: temperature at %s is not a number", ErrInsufficientData, w.Time.Format(time.RFC3339))
		}
		if w.IrradianceWm2 != nil && (!finite(*w.IrradianceWm2) || *w.IrradianceWm2 < 0) {
			return nil, fmt.Errorf("%w: irradiance %v at %s must be >= 0", ErrInsufficientData, *w.IrradianceWm2, w.Time.Format(time.RFC3339))
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Time.Before(out[j].Time)
	})
	return out, nil
}

// sampleAt interpolates the weather at t, holding the edge samples
func sampleAt(samples []WeatherSample, t time.Time, maxGap time.Duration) (WeatherSample, error) {
	// first sample strictly after t
	next := sort.Search(len(samples), func(i int) bool {
		return samples[i].Time.After(t)
	})

	switch {
	case next == 0:
		first := samples[0]
		if first.Time.Sub(t) > maxGap {
			return WeatherSample{}, fmt.Errorf("%w: no weather before %s (series starts %s)",
				ErrInsufficientData, t.Format(time.RFC3339), first.Time.Format(time.RFC3339))
		}
		return held(first, t), nil

	case next == len(samples):
		last := samples[len(samples)-1]
		if t.Sub(last.Time) > maxGap {
			return WeatherSample{}, fmt.Errorf("%w: no weather after %s (series ends %s)",
				ErrInsufficientData, last.Time.Format(time.RFC3339), t.Format(time.RFC3339))
		}
		return held(last, t), nil
	}

	a, b := samples[next-1], samples[next]
	span := b.Time.Sub(a.Time)
	if span > maxGap {
		return WeatherSample{}, fmt.Errorf("%w: gap of %v between %s and %s",
			ErrInsufficientData, span, a.Time.Format(time.RFC3339), b.Time.Format(time.RFC3339))
	}

	f := float64(t.Sub(a.Time)) / float64(span)
	out := WeatherSample{
		Time:       t,
		CloudCover: lerp(a.CloudCover, b.CloudCover, f),
		TempC:      lerp(a.TempC, b.TempC, f),
	}
	switch {
	case a.IrradianceWm2 != nil && b.IrradianceWm2 != nil:
		v := lerp(*a.IrradianceWm2, *b.IrradianceWm2, f)
		out.IrradianceWm2 = &v
	case a.IrradianceWm2 != nil:
		v := *a.IrradianceWm2
		out.IrradianceWm2 = &v
	case b.IrradianceWm2 != nil:
		v := *b.IrradianceWm2
		out.IrradianceWm2 = &v
	}
	return out, nil
}

func held(w WeatherSample, t time.Time) WeatherSample {
	w.Time = t
	return w
}

func lerp(a, b, f float64) float64 {
	return a + (b-a)*f
}

func rad(d float64) float64 { return d * math.Pi / 180 }
func deg(r float64) float64 { return r * 180 / math.Pi }

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
