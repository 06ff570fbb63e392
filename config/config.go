package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk configuration of a loader.
type Config struct {
	Workers       uint   `yaml:"workers"`
	Importers     int    `yaml:"importers"`
	Retries       int    `yaml:"retries"`
	RetryBackoff  string `yaml:"retry_backoff"`
	FrameInterval string `yaml:"frame_interval"`
	LogLevel      string `yaml:"log_level"`

	Journal JournalConfig `yaml:"journal"`
	Metrics MetricsConfig `yaml:"metrics"`

	// Assets are the files loaded on start-up
	Assets []string `yaml:"assets,omitempty"`
}

type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

func Default() *Config {
	return &Config{
		Workers:       4,
		Importers:     4,
		Retries:       1,
		RetryBackoff:  "100ms",
		FrameInterval: "16ms",
		LogLevel:      "info",
		Journal: JournalConfig{
			Enabled: false,
			Path:    "litepool.db",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9090",
		},
	}
}

// Load reads a YAML file on top of the defaults.
func Load(path string) (*Config, error) {
	// #nosec G304 -- path comes from the command line
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the configuration as YAML.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write YAML file: %w", err)
	}

	return nil
}

func (c *Config) Validate() error {
	if c.Importers < 1 {
		return fmt.Errorf("importers must be at least 1")
	}

	if c.Retries < 0 {
		return fmt.Errorf("retries must be non-negative")
	}

	if _, err := c.Backoff(); err != nil {
		return err
	}

	if _, err := c.Frame(); err != nil {
		return err
	}

	if _, err := c.Level(); err != nil {
		return err
	}

	if c.Journal.Enabled && c.Journal.Path == "" {
		return fmt.Errorf("journal.path is required when the journal is enabled")
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics are enabled")
	}

	return nil
}

func (c *Config) Backoff() (time.Duration, error) {
	d, err := time.ParseDuration(c.RetryBackoff)
	if err != nil {
		return 0, fmt.Errorf("invalid retry_backoff: %w", err)
	}
	return d, nil
}

func (c *Config) Frame() (time.Duration, error) {
	d, err := time.ParseDuration(c.FrameInterval)
	if err != nil {
		return 0, fmt.Errorf("invalid frame_interval: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("frame_interval must be positive")
	}
	return d, nil
}

func (c *Config) Level() (slog.Level, error) {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log_level: %s", c.LogLevel)
	}
}
