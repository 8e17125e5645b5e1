package publish

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awaistahir/solar-run/internal/config"
	"github.com/awaistahir/solar-run/internal/engine"
)

type message struct {
	topic    string
	payload  []byte
	retained bool
}

type fakeSender struct {
	sent   []message
	failAt int
	closed bool
}

func (f *fakeSender) send(topic string, payload []byte, retained bool) error {
	if f.failAt > 0 && len(f.sent)+1 == f.failAt {
		return ErrNotConnected
	}
	f.sent = append(f.sent, message{topic, payload, retained})
	return nil
}

func (f *fakeSender) close() { f.closed = true }

func testPlan() (engine.DailyProductionCurve, engine.Schedule) {
	day := time.Date(2024, 6, 21, 0, 0, 0, 0, time.UTC)
	curve := engine.DailyProductionCurve{Date: day, Interval: time.Hour}
	for h := 0; h < 24; h++ {
		pt := engine.ProductionPoint{Time: day.Add(time.Duration(h) * time.Hour), Tier: engine.TierLow}
		if h >= 9 && h <= 15 {
			pt.PowerKW = 3
			pt.Tier = engine.TierHigh
		}
		curve.Points = append(curve.Points, pt)
	}
	schedule := engine.Schedule{
		Date: day,
		Items: []engine.ScheduleItem{
			{Appliance: engine.Appliance{Name: "EV Charging", PowerKW: 7.2, DurationHours: 1, Priority: engine.PriorityHigh}, Start: day.Add(9 * time.Hour), End: day.Add(10 * time.Hour)},
			{Appliance: engine.Appliance{Name: "Dishwasher", PowerKW: 1.5, DurationHours: 1, Priority: engine.PriorityMedium}, Start: day.Add(11 * time.Hour), End: day.Add(12 * time.Hour)},
		},
	}
	return curve, schedule
}

func TestConnectDisabled(t *testing.T) {
	_, err := Connect(config.MQTTConfig{Enabled: false})
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestRecordPlanTopics(t *testing.T) {
	out := &fakeSender{}
	p := &Publisher{out: out, prefix: "solarrun"}
	curve, schedule := testPlan()

	require.NoError(t, p.RecordPlan(context.Background(), curve, schedule))

	topics := make([]string, 0, len(out.sent))
	for _, m := range out.sent {
		topics = append(topics, m.topic)
		assert.True(t, m.retained, m.topic)
	}
	assert.Equal(t, []string{
		"solarrun/production/latest",
		"solarrun/schedule/latest",
		"solarrun/appliance/ev-charging/schedule",
		"solarrun/appliance/dishwasher/schedule",
	}, topics)

	var summary productionSummary
	require.NoError(t, json.Unmarshal(out.sent[0].payload, &summary))
	assert.InDelta(t, 21.0, summary.TotalKWh, 1e-9)
	assert.Equal(t, 7, summary.HighSlots)
	require.NotNil(t, summary.FirstSlot)
	assert.Equal(t, 9, summary.FirstSlot.Hour())
	assert.Equal(t, 15, summary.LastSlot.Hour())

	var item engine.ScheduleItem
	require.NoError(t, json.Unmarshal(out.sent[3].payload, &item))
	assert.Equal(t, "Dishwasher", item.Appliance.Name)
}

func TestRecordPlanStopsOnFailure(t *testing.T) {
	out := &fakeSender{failAt: 2}
	p := &Publisher{out: out, prefix: "solarrun"}
	curve, schedule := testPlan()

	err := p.RecordPlan(context.Background(), curve, schedule)
	assert.True(t, errors.Is(err, ErrNotConnected))
	assert.Len(t, out.sent, 1)
}

func TestClosePublishesOffline(t *testing.T) {
	out := &fakeSender{}
	p := &Publisher{out: out, prefix: "home/solar"}
	require.NoError(t, p.Close())
	require.Len(t, out.sent, 1)
	assert.Equal(t, "home/solar/status", out.sent[0].topic)
	assert.Equal(t, "offline", string(out.sent[0].payload))
	assert.True(t, out.closed)
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "ev-charging", Slug("EV Charging"))
	assert.Equal(t, "washer-dryer-2", Slug("  Washer/Dryer #2 "))
}
