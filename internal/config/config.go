// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Browser drivers.
const (
	DriverChromedp = "chromedp"
	DriverRod      = "rod"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	Browser BrowserConfig `mapstructure:"browser"`
	// Services is keyed by lower-case service name ("cgc", "wata").
	Services map[string]ServiceConfig `mapstructure:"services"`
	Archive  ArchiveConfig            `mapstructure:"archive"`
	History  HistoryConfig            `mapstructure:"history"`
	Events   EventsConfig             `mapstructure:"events"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// BrowserConfig selects and configures the automation driver.
type BrowserConfig struct {
	Driver       string        `mapstructure:"driver"`
	Headless     bool          `mapstructure:"headless"`
	NoSandbox    bool          `mapstructure:"no_sandbox"`
	Stealth      bool          `mapstructure:"stealth"`
	UserAgent    string        `mapstructure:"user_agent"`
	WindowWidth  int           `mapstructure:"window_width"`
	WindowHeight int           `mapstructure:"window_height"`
	ExtraFlags   []string      `mapstructure:"extra_flags"`
	IdleWindow   time.Duration `mapstructure:"idle_window"`
}

// ServiceConfig tunes one grading service. Zero durations fall back to the
// built-in site defaults.
type ServiceConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	URL               string        `mapstructure:"url"`
	LaunchTimeout     time.Duration `mapstructure:"launch_timeout"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	SelectorTimeout   time.Duration `mapstructure:"selector_timeout"`
	ResultTimeout     time.Duration `mapstructure:"result_timeout"`
	MinInterval       time.Duration `mapstructure:"min_interval"`
}

// ArchiveConfig controls where result-page snapshots are written.
type ArchiveConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Backend   string `mapstructure:"backend"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// HistoryConfig controls lookup history persistence.
type HistoryConfig struct {
	Backend  string `mapstructure:"backend"`
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// EventsConfig controls lookup event publication.
type EventsConfig struct {
	Backend   string `mapstructure:"backend"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CERTLOOKUP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.request_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("browser.driver", DriverChromedp)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.no_sandbox", true)
	v.SetDefault("browser.stealth", false)
	v.SetDefault("browser.window_width", 1920)
	v.SetDefault("browser.window_height", 1080)
	v.SetDefault("browser.extra_flags", []string{
		"disable-setuid-sandbox",
		"disable-dev-shm-usage",
		"disable-accelerated-2d-canvas",
		"disable-gpu",
	})
	v.SetDefault("browser.idle_window", 500*time.Millisecond)
	v.SetDefault("services.cgc.enabled", true)
	v.SetDefault("services.cgc.url", "https://www.cgcvideogames.com/en-US/cert-lookup")
	v.SetDefault("services.cgc.min_interval", time.Second)
	v.SetDefault("services.wata.enabled", false)
	v.SetDefault("services.wata.url", "https://www.watagames.com/verify")
	v.SetDefault("services.wata.result_timeout", 5*time.Second)
	v.SetDefault("services.wata.min_interval", time.Second)
	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.backend", "memory")
	v.SetDefault("archive.base_dir", "snapshots")
	v.SetDefault("archive.prefix", "snapshots")
	v.SetDefault("history.backend", "memory")
	v.SetDefault("history.table", "lookups")
	v.SetDefault("history.max_conns", 4)
	v.SetDefault("events.backend", "none")
	v.SetDefault("events.topic", "certlookup-lookups")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.RequestTimeout <= 0 {
		return fmt.Errorf("server.request_timeout must be > 0")
	}
	switch c.Browser.Driver {
	case DriverChromedp, DriverRod:
	default:
		return fmt.Errorf("browser.driver must be %q or %q, got %q", DriverChromedp, DriverRod, c.Browser.Driver)
	}
	if c.Browser.Stealth && c.Browser.Driver != DriverRod {
		return fmt.Errorf("browser.stealth requires browser.driver %q", DriverRod)
	}
	for name, svc := range c.Services {
		if svc.Enabled && svc.URL == "" {
			return fmt.Errorf("services.%s.url must be set when enabled", name)
		}
		for key, d := range map[string]time.Duration{
			"launch_timeout":     svc.LaunchTimeout,
			"navigation_timeout": svc.NavigationTimeout,
			"selector_timeout":   svc.SelectorTimeout,
			"result_timeout":     svc.ResultTimeout,
			"min_interval":       svc.MinInterval,
		} {
			if d < 0 {
				return fmt.Errorf("services.%s.%s must be >= 0", name, key)
			}
		}
	}
	if c.Archive.Enabled {
		switch c.Archive.Backend {
		case "memory":
		case "local":
			if c.Archive.BaseDir == "" {
				return fmt.Errorf("archive.base_dir must be set for the local backend")
			}
		case "gcs":
			if c.Archive.GCSBucket == "" {
				return fmt.Errorf("archive.gcs_bucket must be set for the gcs backend")
			}
		default:
			return fmt.Errorf("archive.backend %q is not supported", c.Archive.Backend)
		}
	}
	switch c.History.Backend {
	case "memory":
	case "postgres":
		if c.History.DSN == "" {
			return fmt.Errorf("history.dsn must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("history.backend %q is not supported", c.History.Backend)
	}
	switch c.Events.Backend {
	case "none", "memory":
	case "pubsub":
		if c.Events.ProjectID == "" || c.Events.Topic == "" {
			return fmt.Errorf("events.project_id and events.topic must be set for the pubsub backend")
		}
	default:
		return fmt.Errorf("events.backend %q is not supported", c.Events.Backend)
	}
	return nil
}

// Service returns the configuration for name (case-insensitive).
func (c Config) Service(name string) (ServiceConfig, bool) {
	svc, ok := c.Services[strings.ToLower(name)]
	return svc, ok
}
