package engine

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

var (
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrInsufficientData     = errors.New("insufficient weather data")
	ErrNoFeasibleSchedule   = errors.New("appliances cannot fit in one day")
)

// scores closer than this are treated as equal so the earliest start wins
const scoreEpsilon = 1e-9

// OptimizerConfig tunes placement and recommendations
type OptimizerConfig struct {
	Thresholds           Thresholds
	MinWindow            time.Duration // shortest window worth recommending
	TargetCoverage       float64       // recommend when coverage is below this
	FlexibilityThreshold int           // and flexibility is at least this
	BaseLoadKW           float64       // household draw served before appliances
}

// DefaultOptimizerConfig returns the documented defaults
func DefaultOptimizerConfig() OptimizerConfig {
	return OptimizerConfig{
		Thresholds:           DefaultThresholds(),
		MinWindow:            time.Hour,
		TargetCoverage:       0.5,
		FlexibilityThreshold: 5,
		BaseLoadKW:           0,
	}
}

// Validate checks the tunables
func (c OptimizerConfig) Validate() error {
	if err := c.Thresholds.Validate(); err != nil {
		return err
	}
	switch {
	case c.MinWindow < 0:
		return fmt.Errorf("%w: min window %v is negative", ErrInvalidConfiguration, c.MinWindow)
	case !finite(c.TargetCoverage) || c.TargetCoverage < 0 || c.TargetCoverage > 1:
		return fmt.Errorf("%w: target coverage %v outside [0, 1]", ErrInvalidConfiguration, c.TargetCoverage)
	case c.FlexibilityThreshold < 0 || c.FlexibilityThreshold > 10:
		return fmt.Errorf("%w: flexibility threshold %d outside [0, 10]", ErrInvalidConfiguration, c.FlexibilityThreshold)
	case !finite(c.BaseLoadKW) || c.BaseLoadKW < 0:
		return fmt.Errorf("%w: base load %v kW must be >= 0", ErrInvalidConfiguration, c.BaseLoadKW)
	}
	return nil
}

// Optimizer assigns appliances to solar windows with a deterministic greedy
// pass. It does not search for a global optimum: each appliance takes the
// best start left by the ones placed before it.
type Optimizer struct {
	cfg OptimizerConfig
}

// NewOptimizer creates an optimizer
func NewOptimizer(cfg OptimizerConfig) (*Optimizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Optimizer{cfg: cfg}, nil
}

// Config returns the optimizer's tunables
func (o *Optimizer) Config() OptimizerConfig {
	return o.cfg
}

// Optimize runs the optimizer with default tunables
func Optimize(curve DailyProductionCurve, appliances []Appliance, gridPricePerKWh float64) (Schedule, error) {
	o := &Optimizer{cfg: DefaultOptimizerConfig()}
	return o.Optimize(curve, appliances, gridPricePerKWh)
}

// dayPlan holds the per-run working state derived from the curve
type dayPlan struct {
	curve     DailyProductionCurve
	slotMin   int
	available []float64 // kW left after base load, per slot
}

// Optimize places every appliance exactly once without overlaps and reports
// coverage, savings and recommendations. It fails only when the appliances
// cannot run back to back within the day.
func (o *Optimizer) Optimize(curve DailyProductionCurve, appliances []Appliance, gridPricePerKWh float64) (Schedule, error) {
	if !finite(gridPricePerKWh) || gridPricePerKWh < 0 {
		return Schedule{}, fmt.Errorf("%w: grid price %v must be >= 0", ErrInvalidConfiguration, gridPricePerKWh)
	}
	plan, err := o.prepare(curve)
	if err != nil {
		return Schedule{}, err
	}
	if err := validateAppliances(appliances); err != nil {
		return Schedule{}, err
	}

	durations := make([]int, len(appliances))
	totalHours, totalMin := 0.0, 0
	for i, a := range appliances {
		durations[i] = durationMinutes(a.DurationHours)
		totalHours += a.DurationHours
		totalMin += durations[i]
	}
	if totalHours > 24+scoreEpsilon || totalMin > minutesPerDay {
		return Schedule{}, fmt.Errorf("%w: %d appliances need %.2f h", ErrNoFeasibleSchedule, len(appliances), totalHours)
	}

	order := placementOrder(appliances)
	occ := NewOccupancy(minutesPerDay)
	placed := make([]Interval, len(appliances))

	rest := totalMin
	for _, idx := range order {
		rest -= durations[idx]
		iv, ok := plan.bestStart(occ, appliances[idx], durations[idx], rest)
		if !ok {
			// unreachable: the largest gap always holds this appliance and the rest
			return Schedule{}, fmt.Errorf("%w: no start left for %s", ErrNoFeasibleSchedule, appliances[idx].Name)
		}
		occ = occ.Book(iv)
		placed[idx] = iv
	}

	schedule := Schedule{
		Date:            plan.curve.Date,
		GridPricePerKWh: gridPricePerKWh,
		Items:           make([]ScheduleItem, 0, len(appliances)),
		Recommendations: []Recommendation{},
	}
	for i, a := range appliances {
		item := plan.item(a, placed[i], gridPricePerKWh)
		schedule.Items = append(schedule.Items, item)
		schedule.TotalEnergyKWh += item.SolarKWh + item.GridKWh
		schedule.SolarEnergyKWh += item.SolarKWh
		schedule.GridEnergyKWh += item.GridKWh
		schedule.TotalSavings += item.Savings
	}
	if schedule.TotalEnergyKWh > 0 {
		schedule.SolarCoverage = schedule.SolarEnergyKWh / schedule.TotalEnergyKWh
	}

	sort.SliceStable(schedule.Items, func(i, j int) bool {
		return schedule.Items[i].Start.Before(schedule.Items[j].Start)
	})

	schedule.Recommendations = o.recommend(plan, schedule.Items, occ)
	return schedule, nil
}

func (o *Optimizer) prepare(curve DailyProductionCurve) (dayPlan, error) {
	slots, err := slotCount(curve.Interval)
	if err != nil {
		return dayPlan{}, err
	}
	if len(curve.Points) != slots {
		return dayPlan{}, fmt.Errorf("%w: curve has %d slots of %v, a day needs %d",
			ErrInsufficientData, len(curve.Points), curve.Interval, slots)
	}

	classified, err := Classify(curve, o.cfg.Thresholds)
	if err != nil {
		return dayPlan{}, err
	}

	available := make([]float64, slots)
	for i, p := range classified.Points {
		if !finite(p.PowerKW) || p.PowerKW < 0 {
			return dayPlan{}, fmt.Errorf("%w: slot %d power %v must be >= 0", ErrInsufficientData, i, p.PowerKW)
		}
		available[i] = math.Max(0, p.PowerKW-o.cfg.BaseLoadKW)
	}

	return dayPlan{
		curve:     classified,
		slotMin:   int(curve.Interval / time.Minute),
		available: available,
	}, nil
}

func validateAppliances(appliances []Appliance) error {
	seen := make(map[string]bool, len(appliances))
	for _, a := range appliances {
		if err := a.Validate(); err != nil {
			return err
		}
		if seen[a.Name] {
			return fmt.Errorf("%w: duplicate appliance name %q", ErrInvalidConfiguration, a.Name)
		}
		seen[a.Name] = true
	}
	return nil
}

// placementOrder sorts by priority (high first), then flexibility (least
// flexible first), then input order.
func placementOrder(appliances []Appliance) []int {
	order := make([]int, len(appliances))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		a, b := appliances[order[i]], appliances[order[j]]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.Flexibility < b.Flexibility
	})
	return order
}

// candidates are every slot start plus every free-gap start, ascending
func (p dayPlan) candidates(occ Occupancy) []int {
	set := map[int]bool{}
	for s := 0; s < minutesPerDay; s += p.slotMin {
		set[s] = true
	}
	for _, g := range occ.Gaps() {
		set[g.Start] = true
	}
	out := make([]int, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Ints(out)
	return out
}

// bestStart picks the free start covering the most of a's demand from
// production, then the most production overall, then the earliest. A start is
// only taken if the remaining appliances still fit back to back in one free
// stretch, which keeps the start of the largest gap always eligible.
func (p dayPlan) bestStart(occ Occupancy, a Appliance, length, rest int) (Interval, bool) {
	var best Interval
	bestSolar, bestRaw := math.Inf(-1), math.Inf(-1)
	found := false

	for _, s := range p.candidates(occ) {
		iv := Interval{Start: s, End: s + length}
		if !occ.Free(iv) {
			continue
		}
		if rest > 0 && largestGap(occ.Book(iv).Gaps()) < rest {
			continue
		}
		solar := p.solarKWh(a, iv)
		raw := p.integrate(iv, func(kw float64) float64 { return kw })
		better := solar > bestSolar+scoreEpsilon ||
			(math.Abs(solar-bestSolar) <= scoreEpsilon && raw > bestRaw+scoreEpsilon)
		if !found || better {
			best, bestSolar, bestRaw, found = iv, solar, raw, true
		}
	}
	return best, found
}

// integrate sums f(available kW) x hours over the slots iv overlaps
func (p dayPlan) integrate(iv Interval, f func(kw float64) float64) float64 {
	total := 0.0
	first := iv.Start / p.slotMin
	for i := first; i < len(p.available); i++ {
		slot := Interval{Start: i * p.slotMin, End: (i + 1) * p.slotMin}
		if slot.Start >= iv.End {
			break
		}
		overlap := min(slot.End, iv.End) - max(slot.Start, iv.Start)
		if overlap > 0 {
			total += f(p.available[i]) * float64(overlap) / 60
		}
	}
	return total
}

// solarKWh is the appliance demand met by production inside iv
func (p dayPlan) solarKWh(a Appliance, iv Interval) float64 {
	return p.integrate(iv, func(kw float64) float64 { return math.Min(a.PowerKW, kw) })
}

func (p dayPlan) coverage(a Appliance, iv Interval) float64 {
	demand := a.PowerKW * float64(iv.Len()) / 60
	if demand <= 0 {
		return 0
	}
	return math.Min(1, p.solarKWh(a, iv)/demand)
}

// item prices a run of a over iv. Coverage comes from the booked interval,
// energy from the appliance rating, so rounding up to whole minutes adds none.
func (p dayPlan) item(a Appliance, iv Interval, price float64) ScheduleItem {
	cov := p.coverage(a, iv)
	demand := a.EnergyKWh()
	solar := cov * demand
	return ScheduleItem{
		Appliance:     a,
		Start:         p.at(iv.Start),
		End:           p.at(iv.End),
		SolarCoverage: cov,
		SolarKWh:      solar,
		GridKWh:       demand - solar,
		Savings:       solar * price,
	}
}

func (p dayPlan) at(minute int) time.Time {
	return p.curve.Date.Add(time.Duration(minute) * time.Minute)
}

func (p dayPlan) minuteOf(t time.Time) int {
	return int(t.Sub(p.curve.Date) / time.Minute)
}

func durationMinutes(hours float64) int {
	return int(math.Ceil(hours*60 - scoreEpsilon))
}
