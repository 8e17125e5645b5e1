package engine

import (
	"fmt"
	"strings"
	"time"
)

// Location is a site position in signed decimal degrees
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// NewLocation builds a validated Location
func NewLocation(lat, lon float64) (Location, error) {
	l := Location{Latitude: lat, Longitude: lon}
	if err := l.Validate(); err != nil {
		return Location{}, err
	}
	return l, nil
}

// Validate checks the coordinate ranges
func (l Location) Validate() error {
	if !finite(l.Latitude) || l.Latitude < -90 || l.Latitude > 90 {
		return fmt.Errorf("%w: latitude %v outside [-90, 90]", ErrInvalidConfiguration, l.Latitude)
	}
	if !finite(l.Longitude) || l.Longitude < -180 || l.Longitude > 180 {
		return fmt.Errorf("%w: longitude %v outside [-180, 180]", ErrInvalidConfiguration, l.Longitude)
	}
	return nil
}

// PanelSpec describes the PV array
type PanelSpec struct {
	WattsPerPanel float64 `json:"watts_per_panel"`
	PanelCount    int     `json:"panel_count"`
	Efficiency    float64 `json:"efficiency"`  // 0-1 (18% = 0.18)
	TiltDeg       float64 `json:"tilt_deg"`    // 0 = flat, 90 = vertical
	AzimuthDeg    float64 `json:"azimuth_deg"` // 180 = south
}

// NewPanelSpec builds a validated PanelSpec
func NewPanelSpec(watts float64, count int, efficiency, tilt, azimuth float64) (PanelSpec, error) {
	p := PanelSpec{
		WattsPerPanel: watts,
		PanelCount:    count,
		Efficiency:    efficiency,
		TiltDeg:       tilt,
		AzimuthDeg:    azimuth,
	}
	if err := p.Validate(); err != nil {
		return PanelSpec{}, err
	}
	return p, nil
}

// Validate checks the panel ranges
func (p PanelSpec) Validate() error {
	switch {
	case !finite(p.WattsPerPanel) || p.WattsPerPanel <= 0:
		return fmt.Errorf("%w: panel wattage %v must be > 0", ErrInvalidConfiguration, p.WattsPerPanel)
	case p.PanelCount < 0:
		return fmt.Errorf("%w: panel count %d must be >= 0", ErrInvalidConfiguration, p.PanelCount)
	case !finite(p.Efficiency) || p.Efficiency <= 0 || p.Efficiency > 1:
		return fmt.Errorf("%w: efficiency %v outside (0, 1]", ErrInvalidConfiguration, p.Efficiency)
	case !finite(p.TiltDeg) || p.TiltDeg < 0 || p.TiltDeg > 90:
		return fmt.Errorf("%w: tilt %v outside [0, 90]", ErrInvalidConfiguration, p.TiltDeg)
	case !finite(p.AzimuthDeg) || p.AzimuthDeg < 0 || p.AzimuthDeg > 360:
		return fmt.Errorf("%w: azimuth %v outside [0, 360]", ErrInvalidConfiguration, p.AzimuthDeg)
	}
	return nil
}

// CapacityKW is the rated DC capacity of the whole array
func (p PanelSpec) CapacityKW() float64 {
	return p.WattsPerPanel * float64(p.PanelCount) / 1000.0
}

// WeatherSample is one reading from a weather source
type WeatherSample struct {
	Time          time.Time `json:"time"`
	CloudCover    float64   `json:"cloud_cover"` // 0-1
	TempC         float64   `json:"temp_c"`
	IrradianceWm2 *float64  `json:"irradiance_wm2,omitempty"` // measured global horizontal, optional
}

// Tier labels a slot's production relative to the day's peak
type Tier int

// The zero Tier means the curve has not been classified yet
const (
	TierLow Tier = iota + 1
	TierMedium
	TierHigh
)

func (t Tier) String() string {
	switch t {
	case TierLow:
		return "low"
	case TierMedium:
		return "medium"
	case TierHigh:
		return "high"
	default:
		return "unclassified"
	}
}

// Color is the traffic-light name used by the front ends
func (t Tier) Color() string {
	switch t {
	case TierHigh:
		return "green"
	case TierMedium:
		return "yellow"
	case TierLow:
		return "red"
	default:
		return ""
	}
}

func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Tier) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "low", "red":
		*t = TierLow
	case "medium", "yellow":
		*t = TierMedium
	case "high", "green":
		*t = TierHigh
	case "unclassified", "":
		*t = 0
	default:
		return fmt.Errorf("unknown production tier %q", string(b))
	}
	return nil
}

// ProductionPoint is one slot of the daily curve
type ProductionPoint struct {
	Time            time.Time `json:"time"` // slot start
	PowerKW         float64   `json:"power_kw"`
	SunElevationDeg float64   `json:"sun_elevation_deg"` // at the slot midpoint
	Tier            Tier      `json:"tier"`
}

// DailyProductionCurve is the ordered slot sequence for one day
type DailyProductionCurve struct {
	Date     time.Time         `json:"date"` // local midnight
	Interval time.Duration     `json:"interval"`
	Points   []ProductionPoint `json:"points"`
}

// PeakKW returns the highest slot output
func (c DailyProductionCurve) PeakKW() float64 {
	peak := 0.0
	for _, p := range c.Points {
		if p.PowerKW > peak {
			peak = p.PowerKW
		}
	}
	return peak
}

// SlotEnergyKWh converts one slot's power to energy
func (c DailyProductionCurve) SlotEnergyKWh(i int) float64 {
	return c.Points[i].PowerKW * c.Interval.Hours()
}

// TotalKWh integrates the curve over the day
func (c DailyProductionCurve) TotalKWh() float64 {
	total := 0.0
	for i := range c.Points {
		total += c.SlotEnergyKWh(i)
	}
	return total
}

// End is the exclusive end of the simulated day
func (c DailyProductionCurve) End() time.Time {
	return c.Date.Add(time.Duration(len(c.Points)) * c.Interval)
}

// Priority orders appliances competing for the same solar time
type Priority int

const (
	PriorityLow Priority = iota + 1
	PriorityMedium
	PriorityHigh
)

// ParsePriority accepts low, medium or high
func ParsePriority(s string) (Priority, error) {
	var p Priority
	if err := p.UnmarshalText([]byte(s)); err != nil {
		return 0, err
	}
	return p, nil
}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

func (p Priority) valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

func (p Priority) MarshalText() ([]byte, error) {
	if !p.valid() {
		return nil, fmt.Errorf("%w: unknown priority %d", ErrInvalidConfiguration, int(p))
	}
	return []byte(p.String()), nil
}

func (p *Priority) UnmarshalText(b []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(b))) {
	case "low":
		*p = PriorityLow
	case "medium":
		*p = PriorityMedium
	case "high":
		*p = PriorityHigh
	default:
		return fmt.Errorf("%w: unknown priority %q", ErrInvalidConfiguration, string(b))
	}
	return nil
}

// Appliance is a flexible household load
type Appliance struct {
	Name          string   `json:"name"`
	PowerKW       float64  `json:"power_kw"`
	DurationHours float64  `json:"duration_hours"`
	Flexibility   int      `json:"flexibility"` // 0-10, higher = more freely shifted
	Priority      Priority `json:"priority"`
}

// NewAppliance builds a validated Appliance
func NewAppliance(name string, powerKW, durationHours float64, flexibility int, priority Priority) (Appliance, error) {
	a := Appliance{
		Name:          name,
		PowerKW:       powerKW,
		DurationHours: durationHours,
		Flexibility:   flexibility,
		Priority:      priority,
	}
	if err := a.Validate(); err != nil {
		return Appliance{}, err
	}
	return a, nil
}

// Validate checks the appliance ranges
func (a Appliance) Validate() error {
	switch {
	case strings.TrimSpace(a.Name) == "":
		return fmt.Errorf("%w: appliance name is empty", ErrInvalidConfiguration)
	case !finite(a.PowerKW) || a.PowerKW <= 0:
		return fmt.Errorf("%w: %s: power %v kW must be > 0", ErrInvalidConfiguration, a.Name, a.PowerKW)
	case !finite(a.DurationHours) || a.DurationHours <= 0:
		return fmt.Errorf("%w: %s: duration %v h must be > 0", ErrInvalidConfiguration, a.Name, a.DurationHours)
	case a.DurationHours > 24:
		return fmt.Errorf("%w: %s: duration %v h exceeds one day", ErrInvalidConfiguration, a.Name, a.DurationHours)
	case a.Flexibility < 0 || a.Flexibility > 10:
		return fmt.Errorf("%w: %s: flexibility %d outside [0, 10]", ErrInvalidConfiguration, a.Name, a.Flexibility)
	case !a.Priority.valid():
		return fmt.Errorf("%w: %s: unknown priority %d", ErrInvalidConfiguration, a.Name, int(a.Priority))
	}
	return nil
}

// EnergyKWh is the total demand of one run
func (a Appliance) EnergyKWh() float64 {
	return a.PowerKW * a.DurationHours
}

// Duration rounds the run length up to whole minutes
func (a Appliance) Duration() time.Duration {
	return time.Duration(durationMinutes(a.DurationHours)) * time.Minute
}

// ScheduleItem is one committed appliance run
type ScheduleItem struct {
	Appliance     Appliance `json:"appliance"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	SolarCoverage float64   `json:"solar_coverage"` // 0-1
	SolarKWh      float64   `json:"solar_kwh"`
	GridKWh       float64   `json:"grid_kwh"`
	Savings       float64   `json:"savings"`
}

// Recommendation proposes a better window for a poorly covered appliance
type Recommendation struct {
	Appliance         string    `json:"appliance"`
	Start             time.Time `json:"start"`
	End               time.Time `json:"end"`
	CurrentCoverage   float64   `json:"current_coverage"`
	ProjectedCoverage float64   `json:"projected_coverage"`
	Rationale         string    `json:"rationale"`
}

// Schedule is the optimizer's complete output for one day
type Schedule struct {
	Date            time.Time        `json:"date"`
	GridPricePerKWh float64          `json:"grid_price_per_kwh"`
	Items           []ScheduleItem   `json:"items"`
	TotalEnergyKWh  float64          `json:"total_energy_kwh"`
	SolarEnergyKWh  float64          `json:"solar_energy_kwh"`
	GridEnergyKWh   float64          `json:"grid_energy_kwh"`
	SolarCoverage   float64          `json:"solar_coverage"` // energy-weighted
	TotalSavings    float64          `json:"total_savings"`
	Recommendations []Recommendation `json:"recommendations"`
}

// Window is a contiguous stretch of useful production
type Window struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	EnergyKWh float64   `json:"energy_kwh"`
	PeakKW    float64   `json:"peak_kw"`
}

// Duration of the window
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}
