package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/awaistahir/solar-run/internal/engine"
)

// EnvPrefix is prepended to every environment override, e.g. SOLARRUN_API_PORT
const EnvPrefix = "SOLARRUN"

// Config is the root configuration for the CLI and the daemon
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	API       APIConfig       `mapstructure:"api"`
	Site      SiteConfig      `mapstructure:"site"`
	Model     ModelConfig     `mapstructure:"model"`
	Optimizer OptimizerConfig `mapstructure:"optimizer"`
	Weather   WeatherConfig   `mapstructure:"weather"`
	Prices    PricesConfig    `mapstructure:"prices"`
	InfluxDB  InfluxDBConfig  `mapstructure:"influxdb"`
	MQTT      MQTTConfig      `mapstructure:"mqtt"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig selects level (debug|info|warn|error), format (json|text)
// and output (stdout|stderr)
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

type APIConfig struct {
	Port    int           `mapstructure:"port"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// SiteConfig seeds the stored site on first run
type SiteConfig struct {
	Timezone      string  `mapstructure:"timezone"`
	Latitude      float64 `mapstructure:"latitude"`
	Longitude     float64 `mapstructure:"longitude"`
	WattsPerPanel float64 `mapstructure:"watts_per_panel"`
	PanelCount    int     `mapstructure:"panel_count"`
	Efficiency    float64 `mapstructure:"efficiency"`
	TiltDeg       float64 `mapstructure:"tilt_deg"`
	AzimuthDeg    float64 `mapstructure:"azimuth_deg"`
}

type ModelConfig struct {
	Interval               time.Duration `mapstructure:"interval"`
	AttenuationCoefficient float64       `mapstructure:"attenuation_coefficient"`
	TempCoefficient        float64       `mapstructure:"temp_coefficient"`
	MaxWeatherGap          time.Duration `mapstructure:"max_weather_gap"`
}

type OptimizerConfig struct {
	HighThreshold        float64       `mapstructure:"high_threshold"`
	LowThreshold         float64       `mapstructure:"low_threshold"`
	MinWindow            time.Duration `mapstructure:"min_window"`
	TargetCoverage       float64       `mapstructure:"target_coverage"`
	FlexibilityThreshold int           `mapstructure:"flexibility_threshold"`
	BaseLoadKW           float64       `mapstructure:"base_load_kw"`
}

// WeatherConfig picks the forecast source: openmeteo or synthetic
type WeatherConfig struct {
	Source  string        `mapstructure:"source"`
	Profile string        `mapstructure:"profile"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// PricesConfig picks the grid price source: fixed or octopus
type PricesConfig struct {
	Source        string        `mapstructure:"source"`
	FixedPerKWh   float64       `mapstructure:"fixed_per_kwh"`
	OctopusRegion string        `mapstructure:"octopus_region"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type InfluxDBConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	URL           string `mapstructure:"url"`
	Token         string `mapstructure:"token"`
	Org           string `mapstructure:"org"`
	Bucket        string `mapstructure:"bucket"`
	BatchSize     int    `mapstructure:"batch_size"`
	FlushInterval int    `mapstructure:"flush_interval"` // seconds
}

type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	TLS         bool   `mapstructure:"tls"`
	ClientID    string `mapstructure:"client_id"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	QoS         int    `mapstructure:"qos"`
	TopicPrefix string `mapstructure:"topic_prefix"`
}

// Dir returns ~/.solarrun, or the working directory when there is no home
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".solarrun")
}

// Default returns the configuration of a fresh install: a 6 kW array in New
// York, synthetic weather and a flat 0.12 per kWh tariff.
func Default() Config {
	model := engine.DefaultModelConfig()
	opt := engine.DefaultOptimizerConfig()

	return Config{
		Database: DatabaseConfig{Path: filepath.Join(Dir(), "solarrun.db")},
		Logging:  LoggingConfig{Level: "info", Format: "text", Output: "stderr"},
		API:      APIConfig{Port: 8080, Timeout: 60 * time.Second},
		Site: SiteConfig{
			Timezone:      "Local",
			Latitude:      40.7128,
			Longitude:     -74.0060,
			WattsPerPanel: 300,
			PanelCount:    20,
			Efficiency:    0.18,
			TiltDeg:       30,
			AzimuthDeg:    180,
		},
		Model: ModelConfig{
			Interval:               time.Hour,
			AttenuationCoefficient: model.AttenuationCoefficient,
			TempCoefficient:        model.TempCoefficient,
			MaxWeatherGap:          model.MaxWeatherGap,
		},
		Optimizer: OptimizerConfig{
			HighThreshold:        opt.Thresholds.High,
			LowThreshold:         opt.Thresholds.Low,
			MinWindow:            opt.MinWindow,
			TargetCoverage:       opt.TargetCoverage,
			FlexibilityThreshold: opt.FlexibilityThreshold,
			BaseLoadKW:           opt.BaseLoadKW,
		},
		Weather: WeatherConfig{Source: "synthetic", Profile: "mixed", Timeout: 30 * time.Second},
		Prices:  PricesConfig{Source: "fixed", FixedPerKWh: 0.12, OctopusRegion: "C", Timeout: 30 * time.Second},
		InfluxDB: InfluxDBConfig{
			URL:           "http://localhost:8086",
			Org:           "solarrun",
			Bucket:        "solar",
			BatchSize:     100,
			FlushInterval: 10,
		},
		MQTT: MQTTConfig{
			Host:        "localhost",
			Port:        1883,
			ClientID:    "solarrun",
			QoS:         1,
			TopicPrefix: "solarrun",
		},
	}
}

// Load reads file (or config.yaml in Dir when file is empty) over the
// defaults, then applies SOLARRUN_* environment overrides. A missing default
// file is not an error.
func Load(v *viper.Viper, file string) (Config, error) {
	setDefaults(v, Default())

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.AddConfigPath(Dir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults registers every key so env overrides work without a file
func setDefaults(v *viper.Viper, d Config) {
	defaults := map[string]any{
		"database.path": d.Database.Path,

		"logging.level":  d.Logging.Level,
		"logging.format": d.Logging.Format,
		"logging.output": d.Logging.Output,

		"api.port":    d.API.Port,
		"api.timeout": d.API.Timeout,

		"site.timezone":        d.Site.Timezone,
		"site.latitude":        d.Site.Latitude,
		"site.longitude":       d.Site.Longitude,
		"site.watts_per_panel": d.Site.WattsPerPanel,
		"site.panel_count":     d.Site.PanelCount,
		"site.efficiency":      d.Site.Efficiency,
		"site.tilt_deg":        d.Site.TiltDeg,
		"site.azimuth_deg":     d.Site.AzimuthDeg,

		"model.interval":                d.Model.Interval,
		"model.attenuation_coefficient": d.Model.AttenuationCoefficient,
		"model.temp_coefficient":        d.Model.TempCoefficient,
		"model.max_weather_gap":         d.Model.MaxWeatherGap,

		"optimizer.high_threshold":        d.Optimizer.HighThreshold,
		"optimizer.low_threshold":         d.Optimizer.LowThreshold,
		"optimizer.min_window":            d.Optimizer.MinWindow,
		"optimizer.target_coverage":       d.Optimizer.TargetCoverage,
		"optimizer.flexibility_threshold": d.Optimizer.FlexibilityThreshold,
		"optimizer.base_load_kw":          d.Optimizer.BaseLoadKW,

		"weather.source":   d.Weather.Source,
		"weather.profile":  d.Weather.Profile,
		"weather.timeout":  d.Weather.Timeout,

		"prices.source":         d.Prices.Source,
		"prices.fixed_per_kwh":  d.Prices.FixedPerKWh,
		"prices.octopus_region": d.Prices.OctopusRegion,
		"prices.timeout":        d.Prices.Timeout,

		"influxdb.enabled":        d.InfluxDB.Enabled,
		"influxdb.url":            d.InfluxDB.URL,
		"influxdb.token":          d.InfluxDB.Token,
		"influxdb.org":            d.InfluxDB.Org,
		"influxdb.bucket":         d.InfluxDB.Bucket,
		"influxdb.batch_size":     d.InfluxDB.BatchSize,
		"influxdb.flush_interval": d.InfluxDB.FlushInterval,

		"mqtt.enabled":      d.MQTT.Enabled,
		"mqtt.host":         d.MQTT.Host,
		"mqtt.port":         d.MQTT.Port,
		"mqtt.tls":          d.MQTT.TLS,
		"mqtt.client_id":    d.MQTT.ClientID,
		"mqtt.username":     d.MQTT.Username,
		"mqtt.password":     d.MQTT.Password,
		"mqtt.qos":          d.MQTT.QoS,
		"mqtt.topic_prefix": d.MQTT.TopicPrefix,
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
}

// Validate checks the sections that can be checked without I/O
func (c Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("%w: database path is empty", engine.ErrInvalidConfiguration)
	}
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("%w: api port %d", engine.ErrInvalidConfiguration, c.API.Port)
	}
	if _, err := c.Site.Zone(); err != nil {
		return err
	}
	if _, err := c.Site.Location(); err != nil {
		return err
	}
	if _, err := c.Site.Panel(); err != nil {
		return err
	}
	if iv := c.Model.Interval; iv < time.Minute || iv%time.Minute != 0 || (24*time.Hour)%iv != 0 {
		return fmt.Errorf("%w: interval %v must be whole minutes dividing a day", engine.ErrInvalidConfiguration, iv)
	}
	if _, err := engine.NewModel(c.Model.Engine()); err != nil {
		return err
	}
	if _, err := engine.NewOptimizer(c.Optimizer.Engine()); err != nil {
		return err
	}

	switch c.Weather.Source {
	case "openmeteo":
	case "synthetic":
		switch c.Weather.Profile {
		case "sunny", "mixed", "cloudy", "overcast":
		default:
			return fmt.Errorf("%w: weather profile %q", engine.ErrInvalidConfiguration, c.Weather.Profile)
		}
	default:
		return fmt.Errorf("%w: weather source %q (want openmeteo or synthetic)", engine.ErrInvalidConfiguration, c.Weather.Source)
	}
	switch c.Prices.Source {
	case "fixed":
		if c.Prices.FixedPerKWh < 0 {
			return fmt.Errorf("%w: fixed price %v must be >= 0", engine.ErrInvalidConfiguration, c.Prices.FixedPerKWh)
		}
	case "octopus":
		if c.Prices.OctopusRegion == "" {
			return fmt.Errorf("%w: octopus region is empty", engine.ErrInvalidConfiguration)
		}
	default:
		return fmt.Errorf("%w: price source %q (want fixed or octopus)", engine.ErrInvalidConfiguration, c.Prices.Source)
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("%w: mqtt qos %d", engine.ErrInvalidConfiguration, c.MQTT.QoS)
	}
	return nil
}

// Zone resolves the timezone days are planned in; "Local" is the host zone
func (s SiteConfig) Zone() (*time.Location, error) {
	zone, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q: %v", engine.ErrInvalidConfiguration, s.Timezone, err)
	}
	return zone, nil
}

func (s SiteConfig) Location() (engine.Location, error) {
	return engine.NewLocation(s.Latitude, s.Longitude)
}

func (s SiteConfig) Panel() (engine.PanelSpec, error) {
	return engine.NewPanelSpec(s.WattsPerPanel, s.PanelCount, s.Efficiency, s.TiltDeg, s.AzimuthDeg)
}

// Engine converts to the model tunables. The interval is passed separately.
func (m ModelConfig) Engine() engine.ModelConfig {
	return engine.ModelConfig{
		AttenuationCoefficient: m.AttenuationCoefficient,
		TempCoefficient:        m.TempCoefficient,
		MaxWeatherGap:          m.MaxWeatherGap,
	}
}

func (o OptimizerConfig) Engine() engine.OptimizerConfig {
	return engine.OptimizerConfig{
		Thresholds:           engine.Thresholds{High: o.HighThreshold, Low: o.LowThreshold},
		MinWindow:            o.MinWindow,
		TargetCoverage:       o.TargetCoverage,
		FlexibilityThreshold: o.FlexibilityThreshold,
		BaseLoadKW:           o.BaseLoadKW,
	}
}
