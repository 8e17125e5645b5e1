// Package app wires configuration into a ready planner. The CLI and the
// daemon share it.
package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/awaistahir/solar-run/internal/config"
	"github.com/awaistahir/solar-run/internal/engine"
	"github.com/awaistahir/solar-run/internal/logging"
	"github.com/awaistahir/solar-run/internal/planner"
	"github.com/awaistahir/solar-run/internal/prices"
	"github.com/awaistahir/solar-run/internal/publish"
	"github.com/awaistahir/solar-run/internal/store"
	"github.com/awaistahir/solar-run/internal/tsdb"
	"github.com/awaistahir/solar-run/internal/weather"
)

// App holds the opened resources. Close releases them in reverse order.
type App struct {
	Config  config.Config
	Log     *logging.Logger
	Store   *store.Store
	Planner *planner.Planner

	closers []func() error
}

// Open connects everything cfg enables. InfluxDB and MQTT are optional sinks:
// when enabled but unreachable they are logged and skipped.
func Open(cfg config.Config, log *logging.Logger) (*App, error) {
	if log == nil {
		log = logging.Discard()
	}
	a := &App{Config: cfg, Log: log}

	zone, err := cfg.Site.Zone()
	if err != nil {
		return nil, err
	}
	model, err := engine.NewModel(cfg.Model.Engine())
	if err != nil {
		return nil, err
	}
	opt, err := engine.NewOptimizer(cfg.Optimizer.Engine())
	if err != nil {
		return nil, err
	}
	ws, err := WeatherSource(cfg.Weather)
	if err != nil {
		return nil, err
	}
	ps, err := PriceSource(cfg.Prices)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}
	st, err := store.NewStore(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	a.Store = st
	a.closers = append(a.closers, st.Close)
	log.Debug("database opened", "path", cfg.Database.Path)

	recorders := []planner.Recorder{st}

	exporter, err := tsdb.Connect(cfg.InfluxDB)
	switch {
	case errors.Is(err, tsdb.ErrDisabled):
		log.Debug("InfluxDB disabled")
	case err != nil:
		log.Warn("InfluxDB unavailable, continuing without export", "url", cfg.InfluxDB.URL, "error", err)
	default:
		exporter.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		recorders = append(recorders, exporter)
		a.closers = append(a.closers, exporter.Close)
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	publisher, err := publish.Connect(cfg.MQTT)
	switch {
	case errors.Is(err, publish.ErrDisabled):
		log.Debug("MQTT disabled")
	case err != nil:
		log.Warn("MQTT unavailable, continuing without publishing",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Host, cfg.MQTT.Port), "error", err)
	default:
		recorders = append(recorders, publisher)
		a.closers = append(a.closers, publisher.Close)
		log.Info("MQTT connected", "broker", fmt.Sprintf("%s:%d", cfg.MQTT.Host, cfg.MQTT.Port))
	}

	a.Planner = planner.New(planner.StoreSite{Store: st}, ws, ps, model, opt, cfg.Model.Interval,
		planner.WithZone(zone),
		planner.WithRecorders(recorders...),
		planner.WithLogger(log.With("component", "planner")),
	)
	return a, nil
}

func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// WeatherSource builds the configured forecast source
func WeatherSource(cfg config.WeatherConfig) (planner.WeatherSource, error) {
	switch cfg.Source {
	case "openmeteo":
		return weather.NewOpenMeteoClient(cfg.Timeout), nil
	case "synthetic":
		profile, err := weather.ParseProfile(cfg.Profile)
		if err != nil {
			return nil, err
		}
		return weather.NewSynthetic(profile), nil
	default:
		return nil, fmt.Errorf("%w: weather source %q", engine.ErrInvalidConfiguration, cfg.Source)
	}
}

// PriceSource builds the configured grid price source
func PriceSource(cfg config.PricesConfig) (planner.PriceSource, error) {
	switch cfg.Source {
	case "fixed":
		return prices.Fixed(cfg.FixedPerKWh), nil
	case "octopus":
		return prices.NewOctopusClient(cfg.OctopusRegion, cfg.Timeout), nil
	default:
		return nil, fmt.Errorf("%w: price source %q", engine.ErrInvalidConfiguration, cfg.Source)
	}
}

// DefaultAppliances are the loads a fresh install starts with
func DefaultAppliances() []engine.Appliance {
	return []engine.Appliance{
		{Name: "Dishwasher", PowerKW: 1.5, DurationHours: 1.5, Flexibility: 8, Priority: engine.PriorityMedium},
		{Name: "Washing Machine", PowerKW: 0.8, DurationHours: 1, Flexibility: 9, Priority: engine.PriorityMedium},
		{Name: "Dryer", PowerKW: 3, DurationHours: 1.5, Flexibility: 7, Priority: engine.PriorityMedium},
		{Name: "EV Charging", PowerKW: 7.2, DurationHours: 6, Flexibility: 6, Priority: engine.PriorityHigh},
	}
}

// Seed stores the configured site and, when withAppliances is set, the default
// appliances. Existing appliances of the same name are overwritten.
func (a *App) Seed(withAppliances bool) (store.Site, error) {
	loc, err := a.Config.Site.Location()
	if err != nil {
		return store.Site{}, err
	}
	panel, err := a.Config.Site.Panel()
	if err != nil {
		return store.Site{}, err
	}
	site, err := a.Store.SaveSite(store.Site{Location: loc, Panel: panel})
	if err != nil {
		return store.Site{}, err
	}
	if !withAppliances {
		return site, nil
	}
	for _, appliance := range DefaultAppliances() {
		if _, err := a.Store.SaveAppliance(appliance); err != nil {
			return store.Site{}, err
		}
	}
	return site, nil
}
