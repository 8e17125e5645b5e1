package weather

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/awaistahir/solar-run/internal/engine"
)

// Profile shapes the cloud cover of synthetic weather
type Profile string

const (
	ProfileSunny    Profile = "sunny"
	ProfileMixed    Profile = "mixed"
	ProfileCloudy   Profile = "cloudy"
	ProfileOvercast Profile = "overcast"
)

// ParseProfile validates a profile name
func ParseProfile(s string) (Profile, error) {
	switch p := Profile(s); p {
	case ProfileSunny, ProfileMixed, ProfileCloudy, ProfileOvercast:
		return p, nil
	}
	return "", fmt.Errorf("%w: unknown weather profile %q", engine.ErrInvalidConfiguration, s)
}

// Synthetic generates hourly weather without network access. The same date
// always yields the same samples, so plans are reproducible offline.
type Synthetic struct {
	profile Profile
}

func NewSynthetic(p Profile) *Synthetic {
	return &Synthetic{profile: p}
}

// Forecast returns hourly samples from the start of from's day through the
// first hour after the last day
func (s *Synthetic) Forecast(ctx context.Context, _ engine.Location, from time.Time, days int) ([]engine.WeatherSample, error) {
	if days < 1 {
		return nil, fmt.Errorf("%w: days %d must be >= 1", engine.ErrInvalidConfiguration, days)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := engine.StartOfDay(from)
	end := start.AddDate(0, 0, days)
	var out []engine.WeatherSample
	for t := start; !t.After(end); t = t.Add(time.Hour) {
		out = append(out, s.sample(t))
	}
	return out, nil
}

func (s *Synthetic) sample(t time.Time) engine.WeatherSample {
	hour := float64(t.Hour()) + float64(t.Minute())/60
	phase := 2 * math.Pi * hour / 24

	return engine.WeatherSample{
		Time:       t,
		CloudCover: s.cloud(t, phase),
		TempC:      20 + 10*math.Sin(phase),
	}
}

func (s *Synthetic) cloud(t time.Time, phase float64) float64 {
	switch s.profile {
	case ProfileSunny:
		return 0.05
	case ProfileCloudy:
		return 0.75
	case ProfileOvercast:
		return 1
	}
	// shift the cloud band through the week so days differ
	shift := float64(t.YearDay()%7) * math.Pi / 3.5
	cover := 0.3 + 0.4*math.Sin(phase+math.Pi/4+shift)
	return math.Max(0, math.Min(1, cover))
}
