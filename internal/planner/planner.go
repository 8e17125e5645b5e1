package planner

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/awaistahir/solar-run/internal/engine"
	"github.com/awaistahir/solar-run/internal/logging"
	"github.com/awaistahir/solar-run/internal/weather"
)

// WeatherSource returns samples covering whole days starting at from's day
type WeatherSource interface {
	Forecast(ctx context.Context, loc engine.Location, from time.Time, days int) ([]engine.WeatherSample, error)
}

// PriceSource returns the grid price for a day in currency per kWh
type PriceSource interface {
	PricePerKWh(ctx context.Context, day time.Time) (float64, error)
}

// Recorder receives every completed plan
type Recorder interface {
	RecordPlan(ctx context.Context, curve engine.DailyProductionCurve, schedule engine.Schedule) error
}

// SiteSource supplies the installation and the appliances to plan
type SiteSource interface {
	Site() (engine.Location, engine.PanelSpec, error)
	Appliances() ([]engine.Appliance, error)
}

// Forecast is one day's production prediction
type Forecast struct {
	Curve   engine.DailyProductionCurve `json:"curve"`
	Windows []engine.Window             `json:"windows"`
	Surplus []engine.SurplusPoint       `json:"surplus"` // over the configured base load
	Weather []engine.WeatherSample      `json:"-"`
}

// DayOutlook is one row of the multi-day outlook
type DayOutlook struct {
	weather.DaySummary
	Sky      string  `json:"sky"`
	TotalKWh float64 `json:"total_kwh"`
	PeakKW   float64 `json:"peak_kw"`
}

// Outlook ranks upcoming days for energy-hungry tasks
type Outlook struct {
	Days     []DayOutlook `json:"days"`
	BestDays []DayOutlook `json:"best_days"`
}

// Planner runs weather -> curve -> classification -> schedule
type Planner struct {
	site      SiteSource
	weather   WeatherSource
	prices    PriceSource
	model     *engine.Model
	optimizer *engine.Optimizer
	interval  time.Duration
	zone      *time.Location
	recorders []Recorder
	log       *logging.Logger
}

// Option configures a Planner
type Option func(*Planner)

// WithRecorders adds sinks that receive each completed plan
func WithRecorders(r ...Recorder) Option {
	return func(p *Planner) { p.recorders = append(p.recorders, r...) }
}

func WithLogger(l *logging.Logger) Option {
	return func(p *Planner) { p.log = l }
}

// WithZone sets the time zone days are laid out in. Defaults to time.Local.
func WithZone(z *time.Location) Option {
	return func(p *Planner) { p.zone = z }
}

func New(site SiteSource, ws WeatherSource, ps PriceSource, model *engine.Model, opt *engine.Optimizer, interval time.Duration, opts ...Option) *Planner {
	p := &Planner{
		site:      site,
		weather:   ws,
		prices:    ps,
		model:     model,
		optimizer: opt,
		interval:  interval,
		zone:      time.Local,
		log:       logging.Discard(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Forecast predicts and classifies production for the day containing date
func (p *Planner) Forecast(ctx context.Context, date time.Time) (Forecast, error) {
	loc, panel, err := p.site.Site()
	if err != nil {
		return Forecast{}, err
	}
	day := engine.StartOfDay(date.In(p.zone))

	samples, err := p.weather.Forecast(ctx, loc, day, 1)
	if err != nil {
		return Forecast{}, fmt.Errorf("fetching weather: %w", err)
	}
	curve, err := p.model.ComputeCurve(loc, panel, day, samples, p.interval)
	if err != nil {
		return Forecast{}, err
	}
	curve, err = engine.Classify(curve, p.optimizer.Config().Thresholds)
	if err != nil {
		return Forecast{}, err
	}

	p.log.Debug("forecast computed", "date", day.Format("2006-01-02"), "total_kwh", curve.TotalKWh(), "peak_kw", curve.PeakKW())
	return Forecast{
		Curve:   curve,
		Windows: engine.FindOptimalWindows(curve, p.optimizer.Config().MinWindow),
		Surplus: engine.Surplus(curve, p.optimizer.Config().BaseLoadKW),
		Weather: samples,
	}, nil
}

// Plan schedules the stored appliances on date and hands the result to the
// recorders. A recorder failure is logged and does not fail the plan.
func (p *Planner) Plan(ctx context.Context, date time.Time) (Forecast, engine.Schedule, error) {
	fc, err := p.Forecast(ctx, date)
	if err != nil {
		return Forecast{}, engine.Schedule{}, err
	}
	appliances, err := p.site.Appliances()
	if err != nil {
		return Forecast{}, engine.Schedule{}, err
	}
	price, err := p.prices.PricePerKWh(ctx, fc.Curve.Date)
	if err != nil {
		return Forecast{}, engine.Schedule{}, fmt.Errorf("fetching grid price: %w", err)
	}

	schedule, err := p.optimizer.Optimize(fc.Curve, appliances, price)
	if err != nil {
		return Forecast{}, engine.Schedule{}, err
	}

	p.log.Info("plan ready",
		"date", fc.Curve.Date.Format("2006-01-02"),
		"appliances", len(schedule.Items),
		"solar_coverage", schedule.SolarCoverage,
		"savings", schedule.TotalSavings,
		"recommendations", len(schedule.Recommendations),
	)

	for _, r := range p.recorders {
		if err := r.RecordPlan(ctx, fc.Curve, schedule); err != nil {
			p.log.Warn("recording plan failed", "recorder", fmt.Sprintf("%T", r), "error", err)
		}
	}
	return fc, schedule, nil
}

// Outlook forecasts days consecutive days from today and picks the three most
// productive
func (p *Planner) Outlook(ctx context.Context, from time.Time, days int) (Outlook, error) {
	if days < 1 {
		return Outlook{}, fmt.Errorf("%w: days %d must be >= 1", engine.ErrInvalidConfiguration, days)
	}
	loc, panel, err := p.site.Site()
	if err != nil {
		return Outlook{}, err
	}
	start := engine.StartOfDay(from.In(p.zone))

	samples, err := p.weather.Forecast(ctx, loc, start, days)
	if err != nil {
		return Outlook{}, fmt.Errorf("fetching weather: %w", err)
	}

	out := Outlook{Days: []DayOutlook{}}
	for _, summary := range weather.Summarize(samples, p.zone) {
		if summary.Date.Before(start) || !summary.Date.Before(start.AddDate(0, 0, days)) {
			continue
		}
		curve, err := p.model.ComputeCurve(loc, panel, summary.Date, samples, p.interval)
		if err != nil {
			// a day at the edge of the forecast horizon may be incomplete
			p.log.Debug("skipping day", "date", summary.Date.Format("2006-01-02"), "error", err)
			continue
		}
		out.Days = append(out.Days, DayOutlook{
			DaySummary: summary,
			Sky:        summary.Sky(),
			TotalKWh:   curve.TotalKWh(),
			PeakKW:     curve.PeakKW(),
		})
	}

	best := append([]DayOutlook(nil), out.Days...)
	sort.SliceStable(best, func(i, j int) bool { return best[i].TotalKWh > best[j].TotalKWh })
	if len(best) > 3 {
		best = best[:3]
	}
	out.BestDays = best
	if out.BestDays == nil {
		out.BestDays = []DayOutlook{}
	}
	return out, nil
}
