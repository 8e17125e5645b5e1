package engine

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Thresholds are fractions of the day's peak used for tiering
type Thresholds struct {
	High float64 // at or above is HIGH
	Low  float64 // at or below is LOW
}

// DefaultThresholds returns high=0.6, low=0.2
func DefaultThresholds() Thresholds {
	return Thresholds{High: 0.6, Low: 0.2}
}

// Validate checks 0 <= Low < High <= 1
func (t Thresholds) Validate() error {
	if !finite(t.High) || !finite(t.Low) || t.Low < 0 || t.High > 1 || t.Low >= t.High {
		return fmt.Errorf("%w: thresholds low=%v high=%v must satisfy 0 <= low < high <= 1",
			ErrInvalidConfiguration, t.Low, t.High)
	}
	return nil
}

// Classify returns a copy of the curve with every slot tiered against the peak.
// A zero curve is entirely LOW.
func Classify(curve DailyProductionCurve, t Thresholds) (DailyProductionCurve, error) {
	if err := t.Validate(); err != nil {
		return DailyProductionCurve{}, err
	}

	out := curve
	out.Points = make([]ProductionPoint, len(curve.Points))
	copy(out.Points, curve.Points)

	peak := curve.PeakKW()
	for i := range out.Points {
		out.Points[i].Tier = tierFor(out.Points[i].PowerKW, peak, t)
	}
	return out, nil
}

func tierFor(kw, peak float64, t Thresholds) Tier {
	switch {
	case kw <= t.Low*peak:
		return TierLow
	case kw >= t.High*peak:
		return TierHigh
	default:
		return TierMedium
	}
}

// FindOptimalWindows merges contiguous MEDIUM-or-better slots into windows,
// drops those shorter than minDuration and orders the rest best first
// (energy descending, then earliest start).
func FindOptimalWindows(curve DailyProductionCurve, minDuration time.Duration) []Window {
	windows := []Window{}

	var current *Window
	flush := func() {
		if current != nil && current.Duration() >= minDuration {
			windows = append(windows, *current)
		}
		current = nil
	}

	for i, p := range curve.Points {
		if p.Tier < TierMedium {
			flush()
			continue
		}
		if current == nil {
			current = &Window{Start: p.Time}
		}
		current.End = p.Time.Add(curve.Interval)
		current.EnergyKWh += curve.SlotEnergyKWh(i)
		current.PeakKW = math.Max(current.PeakKW, p.PowerKW)
	}
	flush()

	sort.SliceStable(windows, func(i, j int) bool {
		if windows[i].EnergyKWh != windows[j].EnergyKWh {
			return windows[i].EnergyKWh > windows[j].EnergyKWh
		}
		return windows[i].Start.Before(windows[j].Start)
	})
	return windows
}

// SurplusPoint is production left after the household base load
type SurplusPoint struct {
	Time      time.Time `json:"time"`
	SurplusKW float64   `json:"surplus_kw"`
}

// Surplus estimates the headroom available for heavy loads or battery charging
func Surplus(curve DailyProductionCurve, baseLoadKW float64) []SurplusPoint {
	out := make([]SurplusPoint, len(curve.Points))
	for i, p := range curve.Points {
		out[i] = SurplusPoint{Time: p.Time, SurplusKW: math.Max(0, p.PowerKW-baseLoadKW)}
	}
	return out
}
