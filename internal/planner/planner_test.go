package planner

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awaistahir/solar-run/internal/engine"
	"github.com/awaistahir/solar-run/internal/prices"
	"github.com/awaistahir/solar-run/internal/store"
	"github.com/awaistahir/solar-run/internal/weather"
)

var (
	edt     = time.FixedZone("EDT", -4*3600)
	newYork = engine.Location{Latitude: 40.7128, Longitude: -74.0060}
	array   = engine.PanelSpec{WattsPerPanel: 300, PanelCount: 20, Efficiency: 0.18, TiltDeg: 30, AzimuthDeg: 180}
)

type fakeSite struct {
	appliances []engine.Appliance
	err        error
}

func (f fakeSite) Site() (engine.Location, engine.PanelSpec, error) {
	return newYork, array, f.err
}

func (f fakeSite) Appliances() ([]engine.Appliance, error) { return f.appliances, nil }

type fakeRecorder struct {
	calls int
	err   error
}

func (f *fakeRecorder) RecordPlan(context.Context, engine.DailyProductionCurve, engine.Schedule) error {
	f.calls++
	return f.err
}

type failingWeather struct{}

func (failingWeather) Forecast(context.Context, engine.Location, time.Time, int) ([]engine.WeatherSample, error) {
	return nil, errors.New("boom")
}

func defaultAppliances() []engine.Appliance {
	return []engine.Appliance{
		{Name: "Dishwasher", PowerKW: 1.5, DurationHours: 1.5, Flexibility: 8, Priority: engine.PriorityMedium},
		{Name: "Washing Machine", PowerKW: 0.8, DurationHours: 1, Flexibility: 9, Priority: engine.PriorityMedium},
		{Name: "Dryer", PowerKW: 3, DurationHours: 1.5, Flexibility: 7, Priority: engine.PriorityMedium},
		{Name: "EV Charging", PowerKW: 7.2, DurationHours: 6, Flexibility: 6, Priority: engine.PriorityHigh},
	}
}

func newPlanner(t *testing.T, site SiteSource, ws WeatherSource, opts ...Option) *Planner {
	t.Helper()
	model, err := engine.NewModel(engine.DefaultModelConfig())
	require.NoError(t, err)
	opt, err := engine.NewOptimizer(engine.DefaultOptimizerConfig())
	require.NoError(t, err)
	opts = append([]Option{WithZone(edt)}, opts...)
	return New(site, ws, prices.Fixed(0.12), model, opt, time.Hour, opts...)
}

func TestForecast(t *testing.T) {
	p := newPlanner(t, fakeSite{}, weather.NewSynthetic(weather.ProfileSunny))

	fc, err := p.Forecast(context.Background(), time.Date(2024, 6, 21, 15, 0, 0, 0, edt))
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 6, 21, 0, 0, 0, 0, edt), fc.Curve.Date)
	require.Len(t, fc.Curve.Points, 24)
	for _, pt := range fc.Curve.Points {
		assert.NotZero(t, pt.Tier, "classified")
	}
	require.NotEmpty(t, fc.Windows)
	assert.NotEmpty(t, fc.Weather)

	require.Len(t, fc.Surplus, 24)
	for i, s := range fc.Surplus {
		assert.Equal(t, fc.Curve.Points[i].PowerKW, s.SurplusKW, "no base load configured")
	}
}

func TestPlanRecordsAndSurvivesRecorderFailure(t *testing.T) {
	good, bad := &fakeRecorder{}, &fakeRecorder{err: errors.New("disk full")}
	p := newPlanner(t, fakeSite{appliances: defaultAppliances()}, weather.NewSynthetic(weather.ProfileSunny),
		WithRecorders(bad, good))

	fc, schedule, err := p.Plan(context.Background(), time.Date(2024, 6, 21, 8, 0, 0, 0, edt))
	require.NoError(t, err)
	assert.Len(t, schedule.Items, 4)
	assert.Equal(t, 0.12, schedule.GridPricePerKWh)
	assert.Equal(t, fc.Curve.Date, schedule.Date)
	assert.Greater(t, schedule.SolarCoverage, 0.0)

	assert.Equal(t, 1, bad.calls)
	assert.Equal(t, 1, good.calls)
}

func TestPlanOvercastStillSchedules(t *testing.T) {
	rec := &fakeRecorder{}
	p := newPlanner(t, fakeSite{appliances: defaultAppliances()}, weather.NewSynthetic(weather.ProfileOvercast), WithRecorders(rec))

	_, schedule, err := p.Plan(context.Background(), time.Date(2024, 6, 21, 8, 0, 0, 0, edt))
	require.NoError(t, err)
	assert.Len(t, schedule.Items, 4)
	assert.Zero(t, schedule.SolarCoverage)
	assert.Equal(t, 1, rec.calls)
}

func TestPlanInfeasibleIsNotRecorded(t *testing.T) {
	rec := &fakeRecorder{}
	appliances := []engine.Appliance{
		{Name: "Kiln", PowerKW: 5, DurationHours: 13, Flexibility: 2, Priority: engine.PriorityHigh},
		{Name: "Heat Pump", PowerKW: 2, DurationHours: 12, Flexibility: 2, Priority: engine.PriorityLow},
	}
	p := newPlanner(t, fakeSite{appliances: appliances}, weather.NewSynthetic(weather.ProfileSunny), WithRecorders(rec))

	_, _, err := p.Plan(context.Background(), time.Date(2024, 6, 21, 8, 0, 0, 0, edt))
	assert.ErrorIs(t, err, engine.ErrNoFeasibleSchedule)
	assert.Zero(t, rec.calls)
}

func TestPlanPropagatesSourceErrors(t *testing.T) {
	p := newPlanner(t, fakeSite{err: store.ErrNotFound}, weather.NewSynthetic(weather.ProfileSunny))
	_, _, err := p.Plan(context.Background(), time.Now())
	assert.ErrorIs(t, err, store.ErrNotFound)

	p = newPlanner(t, fakeSite{}, failingWeather{})
	_, err = p.Forecast(context.Background(), time.Now())
	assert.ErrorContains(t, err, "fetching weather")
}

func TestOutlookRanksDays(t *testing.T) {
	p := newPlanner(t, fakeSite{}, weather.NewSynthetic(weather.ProfileMixed))

	out, err := p.Outlook(context.Background(), time.Date(2024, 6, 21, 12, 0, 0, 0, edt), 7)
	require.NoError(t, err)
	require.Len(t, out.Days, 7)
	require.Len(t, out.BestDays, 3)

	for i, d := range out.Days {
		assert.Equal(t, time.Date(2024, 6, 21+i, 0, 0, 0, 0, edt), d.Date)
		assert.Greater(t, d.TotalKWh, 0.0)
		assert.NotEmpty(t, d.Sky)
	}
	assert.GreaterOrEqual(t, out.BestDays[0].TotalKWh, out.BestDays[1].TotalKWh)
	assert.GreaterOrEqual(t, out.BestDays[1].TotalKWh, out.BestDays[2].TotalKWh)
	for _, d := range out.Days {
		if d.TotalKWh > out.BestDays[0].TotalKWh {
			t.Errorf("%s beats the best day", d.Date.Format("2006-01-02"))
		}
	}

	_, err = p.Outlook(context.Background(), time.Now(), 0)
	assert.ErrorIs(t, err, engine.ErrInvalidConfiguration)
}

func TestStoreSite(t *testing.T) {
	st, err := store.NewStore(filepath.Join(t.TempDir(), "planner.db"))
	require.NoError(t, err)
	defer st.Close()

	src := StoreSite{Store: st}
	_, _, err = src.Site()
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = st.SaveSite(store.Site{Location: newYork, Panel: array})
	require.NoError(t, err)
	for _, a := range defaultAppliances() {
		_, err := st.SaveAppliance(a)
		require.NoError(t, err)
	}

	loc, panel, err := src.Site()
	require.NoError(t, err)
	assert.Equal(t, newYork, loc)
	assert.Equal(t, array, panel)

	appliances, err := src.Appliances()
	require.NoError(t, err)
	assert.Equal(t, defaultAppliances(), appliances)

	rec := &fakeRecorder{}
	p := newPlanner(t, src, weather.NewSynthetic(weather.ProfileSunny), WithRecorders(st, rec))
	_, _, err = p.Plan(context.Background(), time.Date(2024, 6, 21, 8, 0, 0, 0, edt))
	require.NoError(t, err)

	latest, err := st.LatestSchedule()
	require.NoError(t, err)
	assert.Len(t, latest.Schedule.Items, 4)
}
