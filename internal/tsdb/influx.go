package tsdb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/awaistahir/solar-run/internal/config"
	"github.com/awaistahir/solar-run/internal/engine"
)

var (
	// ErrDisabled means InfluxDB export is switched off in configuration
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	ErrConnectionFailed = errors.New("influxdb: connection failed")
)

const (
	defaultConnectTimeout = 10 * time.Second
	millisecondsPerSecond = 1000
)

// pointWriter is the part of api.WriteAPI the exporter needs
type pointWriter interface {
	WritePoint(point *write.Point)
	Flush()
}

// Exporter writes production curves and schedules to InfluxDB. Writes are
// batched and non-blocking; async failures go to the error callback.
type Exporter struct {
	client influxdb2.Client
	writer pointWriter

	mu      sync.RWMutex
	onError func(err error)
}

// Connect pings the server and sets up the batching write API
func Connect(cfg config.InfluxDBConfig) (*Exporter, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = 10
	}

	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(batchSize)).
			SetFlushInterval(uint(flushInterval)*millisecondsPerSecond),
	)

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	e := &Exporter{client: client, writer: writeAPI}
	go e.handleWriteErrors(writeAPI.Errors())
	return e, nil
}

func (e *Exporter) handleWriteErrors(errorsCh <-chan error) {
	for err := range errorsCh {
		e.mu.RLock()
		callback := e.onError
		e.mu.RUnlock()

		if callback != nil {
			callback(err)
		}
	}
}

// SetOnError registers a callback for async write failures
func (e *Exporter) SetOnError(callback func(err error)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onError = callback
}

// Close flushes pending points and closes the client
func (e *Exporter) Close() error {
	if e.writer != nil {
		e.writer.Flush()
	}
	if e.client != nil {
		e.client.Close()
	}
	return nil
}

// RecordPlan queues one point per production slot and per scheduled
// appliance, plus a daily summary
func (e *Exporter) RecordPlan(ctx context.Context, curve engine.DailyProductionCurve, schedule engine.Schedule) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, p := range productionPoints(curve) {
		e.writer.WritePoint(p)
	}
	for _, p := range schedulePoints(schedule) {
		e.writer.WritePoint(p)
	}
	return nil
}

func productionPoints(curve engine.DailyProductionCurve) []*write.Point {
	points := make([]*write.Point, 0, len(curve.Points))
	for i, p := range curve.Points {
		points = append(points, write.NewPoint(
			"solar_production",
			map[string]string{"tier": p.Tier.String()},
			map[string]interface{}{
				"power_kw":          p.PowerKW,
				"energy_kwh":        curve.SlotEnergyKWh(i),
				"sun_elevation_deg": p.SunElevationDeg,
			},
			p.Time,
		))
	}
	return points
}

func schedulePoints(s engine.Schedule) []*write.Point {
	points := make([]*write.Point, 0, len(s.Items)+1)
	for _, it := range s.Items {
		points = append(points, write.NewPoint(
			"appliance_run",
			map[string]string{
				"appliance": it.Appliance.Name,
				"priority":  it.Appliance.Priority.String(),
			},
			map[string]interface{}{
				"power_kw":       it.Appliance.PowerKW,
				"duration_hours": it.End.Sub(it.Start).Hours(),
				"solar_coverage": it.SolarCoverage,
				"solar_kwh":      it.SolarKWh,
				"grid_kwh":       it.GridKWh,
				"savings":        it.Savings,
			},
			it.Start,
		))
	}
	points = append(points, write.NewPoint(
		"schedule_summary",
		nil,
		map[string]interface{}{
			"total_kwh":       s.TotalEnergyKWh,
			"solar_kwh":       s.SolarEnergyKWh,
			"grid_kwh":        s.GridEnergyKWh,
			"solar_coverage":  s.SolarCoverage,
			"total_savings":   s.TotalSavings,
			"grid_price":      s.GridPricePerKWh,
			"recommendations": len(s.Recommendations),
		},
		s.Date,
	))
	return points
}
