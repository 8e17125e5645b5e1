package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awaistahir/solar-run/internal/engine"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := NewStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestSiteRoundTrip(t *testing.T) {
	st := newTestStore(t)

	_, err := st.GetSite()
	assert.ErrorIs(t, err, ErrNotFound)

	site := Site{
		Location: engine.Location{Latitude: 40.7128, Longitude: -74.006},
		Panel:    engine.PanelSpec{WattsPerPanel: 300, PanelCount: 20, Efficiency: 0.18, TiltDeg: 30, AzimuthDeg: 180},
	}
	saved, err := st.SaveSite(site)
	require.NoError(t, err)
	assert.False(t, saved.UpdatedAt.IsZero())

	got, err := st.GetSite()
	require.NoError(t, err)
	assert.Equal(t, site.Location, got.Location)
	assert.Equal(t, site.Panel, got.Panel)

	site.Panel.PanelCount = 10
	_, err = st.SaveSite(site)
	require.NoError(t, err)
	got, err = st.GetSite()
	require.NoError(t, err)
	assert.Equal(t, 10, got.Panel.PanelCount)
}

func TestSaveSiteValidates(t *testing.T) {
	st := newTestStore(t)
	_, err := st.SaveSite(Site{Location: engine.Location{Latitude: 100}})
	assert.ErrorIs(t, err, engine.ErrInvalidConfiguration)
}

func TestApplianceLifecycle(t *testing.T) {
	st := newTestStore(t)

	ev := engine.Appliance{Name: "EV Charging", PowerKW: 7.2, DurationHours: 6, Flexibility: 6, Priority: engine.PriorityHigh}
	dw := engine.Appliance{Name: "Dishwasher", PowerKW: 1.5, DurationHours: 1.5, Flexibility: 8, Priority: engine.PriorityMedium}

	evRec, err := st.SaveAppliance(ev)
	require.NoError(t, err)
	require.NotEmpty(t, evRec.ID)
	_, err = st.SaveAppliance(dw)
	require.NoError(t, err)

	list, err := st.ListAppliances()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "EV Charging", list[0].Name, "insertion order")
	assert.Equal(t, engine.PriorityHigh, list[0].Priority)

	// same name updates in place
	ev.PowerKW = 11
	updated, err := st.SaveAppliance(ev)
	require.NoError(t, err)
	assert.Equal(t, evRec.ID, updated.ID)

	got, err := st.GetAppliance("EV Charging")
	require.NoError(t, err)
	assert.Equal(t, 11.0, got.PowerKW)

	got, err = st.GetAppliance(evRec.ID)
	require.NoError(t, err)
	assert.Equal(t, "EV Charging", got.Name)

	require.NoError(t, st.DeleteAppliance(evRec.ID))
	assert.ErrorIs(t, st.DeleteAppliance(evRec.ID), ErrNotFound)
	_, err = st.GetAppliance("EV Charging")
	assert.ErrorIs(t, err, ErrNotFound)

	list, err = st.ListAppliances()
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSaveApplianceValidates(t *testing.T) {
	st := newTestStore(t)
	_, err := st.SaveAppliance(engine.Appliance{Name: "Broken", PowerKW: -1, DurationHours: 1, Priority: engine.PriorityLow})
	assert.ErrorIs(t, err, engine.ErrInvalidConfiguration)
}

func TestUpdateAppliance(t *testing.T) {
	st := newTestStore(t)

	dryer, err := st.SaveAppliance(engine.Appliance{Name: "Dryer", PowerKW: 3, DurationHours: 1.5, Flexibility: 7, Priority: engine.PriorityMedium})
	require.NoError(t, err)
	_, err = st.SaveAppliance(engine.Appliance{Name: "Dishwasher", PowerKW: 1.5, DurationHours: 1.5, Flexibility: 8, Priority: engine.PriorityMedium})
	require.NoError(t, err)

	renamed := engine.Appliance{Name: "Heat Pump Dryer", PowerKW: 1, DurationHours: 2.5, Flexibility: 7, Priority: engine.PriorityLow}
	rec, err := st.UpdateAppliance(dryer.ID, renamed)
	require.NoError(t, err)
	assert.Equal(t, dryer.ID, rec.ID)

	got, err := st.GetAppliance(dryer.ID)
	require.NoError(t, err)
	assert.Equal(t, renamed, got.Appliance)

	renamed.Name = "Dishwasher"
	_, err = st.UpdateAppliance(dryer.ID, renamed)
	assert.ErrorIs(t, err, engine.ErrInvalidConfiguration)

	_, err = st.UpdateAppliance("missing", engine.Appliance{Name: "Kettle", PowerKW: 2, DurationHours: 0.1, Priority: engine.PriorityLow})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecordPlanAndLatestSchedule(t *testing.T) {
	st := newTestStore(t)

	_, err := st.LatestSchedule()
	assert.ErrorIs(t, err, ErrNotFound)

	day := time.Date(2024, 6, 21, 0, 0, 0, 0, time.UTC)
	curve := engine.DailyProductionCurve{Date: day, Interval: time.Hour}
	for h := 0; h < 24; h++ {
		curve.Points = append(curve.Points, engine.ProductionPoint{Time: day.Add(time.Duration(h) * time.Hour), Tier: engine.TierLow})
	}

	first := engine.Schedule{Date: day, GridPricePerKWh: 0.12, Items: []engine.ScheduleItem{}}
	second := engine.Schedule{
		Date:            day,
		GridPricePerKWh: 0.12,
		Items: []engine.ScheduleItem{{
			Appliance:     engine.Appliance{Name: "Dryer", PowerKW: 3, DurationHours: 1.5, Flexibility: 7, Priority: engine.PriorityMedium},
			Start:         day.Add(11 * time.Hour),
			End:           day.Add(12*time.Hour + 30*time.Minute),
			SolarCoverage: 0.8,
			SolarKWh:      3.6,
			GridKWh:       0.9,
			Savings:       0.432,
		}},
		TotalEnergyKWh: 4.5,
		SolarEnergyKWh: 3.6,
		GridEnergyKWh:  0.9,
		SolarCoverage:  0.8,
		TotalSavings:   0.432,
	}

	require.NoError(t, st.RecordPlan(context.Background(), curve, first))
	require.NoError(t, st.RecordPlan(context.Background(), curve, second))

	latest, err := st.LatestSchedule()
	require.NoError(t, err)
	assert.NotEmpty(t, latest.ID)
	require.Len(t, latest.Schedule.Items, 1)
	item := latest.Schedule.Items[0]
	assert.Equal(t, "Dryer", item.Appliance.Name)
	assert.Equal(t, engine.PriorityMedium, item.Appliance.Priority)
	assert.True(t, item.Start.Equal(second.Items[0].Start))
	assert.InDelta(t, 0.432, latest.Schedule.TotalSavings, 1e-12)
}

func TestCorruptTimestampsSurface(t *testing.T) {
	st := newTestStore(t)

	_, err := st.SaveSite(Site{
		Location: engine.Location{Latitude: 40.7128, Longitude: -74.006},
		Panel:    engine.PanelSpec{WattsPerPanel: 300, PanelCount: 20, Efficiency: 0.18, TiltDeg: 30, AzimuthDeg: 180},
	})
	require.NoError(t, err)
	_, err = st.db.Exec(`UPDATE sites SET updated_at = 'yesterday'`)
	require.NoError(t, err)
	_, err = st.GetSite()
	assert.ErrorContains(t, err, "parsing site timestamp")

	day := time.Date(2024, 6, 21, 0, 0, 0, 0, time.UTC)
	_, err = st.SaveSchedule(engine.Schedule{Date: day, Items: []engine.ScheduleItem{}})
	require.NoError(t, err)
	_, err = st.db.Exec(`UPDATE schedules SET created_at = 'not a time'`)
	require.NoError(t, err)
	_, err = st.LatestSchedule()
	assert.ErrorContains(t, err, "timestamp")
}
