// Package config loads the engine configuration: defaults first, then an
// optional YAML file, then environment overrides, then validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Store     StoreConfig     `yaml:"store"`
	NATS      NATSConfig      `yaml:"nats"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type StoreConfig struct {
	// Backend selects the persistence layer: "memory" or "badger".
	Backend string `yaml:"backend"`
	// Path is the Badger data directory; unused for the memory backend.
	Path string `yaml:"path"`
}

type NATSConfig struct {
	// URL of the NATS server. Empty disables messaging entirely; the engine
	// then runs with a no-op notifier and no ingest subscribers.
	URL string `yaml:"url"`
}

type SchedulerConfig struct {
	SweepInterval time.Duration `yaml:"sweep_interval"`
	// DefaultAccept moves a PROPOSED operation that sweeps clear straight to
	// ACCEPTED. When false it parks in PENDING for manual acceptance.
	DefaultAccept bool `yaml:"default_accept"`
	// AutoClosePending closes PENDING operations whose window has expired.
	AutoClosePending bool `yaml:"auto_close_pending"`
}

type IngestConfig struct {
	// ReportsPerSecond caps position report throughput per vehicle.
	ReportsPerSecond float64 `yaml:"reports_per_second"`
	Burst            int     `yaml:"burst"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "text" or "json"
}

func Load(configPath string) (*Config, error) {
	config := &Config{}

	config.setDefaults()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	config.loadFromEnv()

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func (c *Config) setDefaults() {
	c.Store.Backend = "memory"
	c.Store.Path = "data/utm"

	c.NATS.URL = ""

	c.Scheduler.SweepInterval = 30 * time.Second
	c.Scheduler.DefaultAccept = true
	c.Scheduler.AutoClosePending = true

	c.Ingest.ReportsPerSecond = 10
	c.Ingest.Burst = 20

	c.Metrics.Addr = ":9090"

	c.Tracing.Enabled = false
	c.Tracing.SampleRatio = 1.0

	c.Logging.Level = "info"
	c.Logging.Format = "text"
}

func (c *Config) loadFromEnv() {
	if backend := os.Getenv("UTM_STORE_BACKEND"); backend != "" {
		c.Store.Backend = backend
	}

	if path := os.Getenv("UTM_STORE_PATH"); path != "" {
		c.Store.Path = path
	}

	if url := os.Getenv("UTM_NATS_URL"); url != "" {
		c.NATS.URL = url
	}

	if interval := os.Getenv("UTM_SWEEP_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			c.Scheduler.SweepInterval = d
		}
	}

	if accept := os.Getenv("UTM_DEFAULT_ACCEPT"); accept != "" {
		if b, err := strconv.ParseBool(accept); err == nil {
			c.Scheduler.DefaultAccept = b
		}
	}

	if autoClose := os.Getenv("UTM_AUTO_CLOSE_PENDING"); autoClose != "" {
		if b, err := strconv.ParseBool(autoClose); err == nil {
			c.Scheduler.AutoClosePending = b
		}
	}

	if rps := os.Getenv("UTM_INGEST_RPS"); rps != "" {
		if r, err := strconv.ParseFloat(rps, 64); err == nil {
			c.Ingest.ReportsPerSecond = r
		}
	}

	if addr := os.Getenv("UTM_METRICS_ADDR"); addr != "" {
		c.Metrics.Addr = addr
	}

	if enabled := os.Getenv("UTM_TRACING_ENABLED"); enabled != "" {
		if b, err := strconv.ParseBool(enabled); err == nil {
			c.Tracing.Enabled = b
		}
	}

	if level := os.Getenv("UTM_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}

	if format := os.Getenv("UTM_LOG_FORMAT"); format != "" {
		c.Logging.Format = format
	}
}

func (c *Config) validate() error {
	if c.Store.Backend != "memory" && c.Store.Backend != "badger" {
		return fmt.Errorf("store backend must be 'memory' or 'badger'")
	}

	if c.Store.Backend == "badger" && c.Store.Path == "" {
		return fmt.Errorf("badger backend requires a store path")
	}

	if c.Scheduler.SweepInterval < time.Second {
		return fmt.Errorf("sweep interval must be at least 1s")
	}

	if c.Ingest.ReportsPerSecond <= 0 {
		return fmt.Errorf("ingest reports per second must be positive")
	}

	if c.Ingest.Burst < 1 {
		return fmt.Errorf("ingest burst must be at least 1")
	}

	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing sample ratio must be in [0, 1]")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log level must be 'debug', 'info', 'warn', or 'error'")
	}

	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("log format must be 'text' or 'json'")
	}

	return nil
}
