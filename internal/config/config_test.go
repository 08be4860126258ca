package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, DriverChromedp, cfg.Browser.Driver)
	assert.True(t, cfg.Browser.Headless)
	assert.True(t, cfg.Browser.NoSandbox)
	assert.Equal(t, 1920, cfg.Browser.WindowWidth)
	assert.Contains(t, cfg.Browser.ExtraFlags, "disable-dev-shm-usage")

	cgc, ok := cfg.Service("CGC")
	require.True(t, ok)
	assert.True(t, cgc.Enabled)
	assert.Equal(t, "https://www.cgcvideogames.com/en-US/cert-lookup", cgc.URL)

	wata, ok := cfg.Service("wata")
	require.True(t, ok)
	assert.False(t, wata.Enabled)
	assert.Equal(t, 5*time.Second, wata.ResultTimeout)

	assert.Equal(t, "memory", cfg.History.Backend)
	assert.Equal(t, "none", cfg.Events.Backend)
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
server:
  port: 9090
  request_timeout: 45s
logging:
  development: true
  level: debug
browser:
  driver: rod
  stealth: true
  extra_flags: ["lang=en-US"]
services:
  cgc:
    navigation_timeout: 20s
  wata:
    enabled: true
archive:
  enabled: true
  backend: local
  base_dir: /tmp/snaps
history:
  backend: postgres
  dsn: postgres://user@localhost/certlookup
events:
  backend: pubsub
  project_id: proj
  topic: lookups
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 45*time.Second, cfg.Server.RequestTimeout)
	assert.True(t, cfg.Logging.Development)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, DriverRod, cfg.Browser.Driver)
	assert.Equal(t, []string{"lang=en-US"}, cfg.Browser.ExtraFlags)

	cgc, _ := cfg.Service("cgc")
	assert.True(t, cgc.Enabled, "defaults survive a partial override")
	assert.Equal(t, 20*time.Second, cgc.NavigationTimeout)
	wata, _ := cfg.Service("wata")
	assert.True(t, wata.Enabled)
	assert.Equal(t, "https://www.watagames.com/verify", wata.URL)

	assert.Equal(t, "/tmp/snaps", cfg.Archive.BaseDir)
	assert.Equal(t, "postgres", cfg.History.Backend)
	assert.Equal(t, "lookups", cfg.Events.Topic)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"request timeout", func(c *Config) { c.Server.RequestTimeout = 0 }, "server.request_timeout"},
		{"driver", func(c *Config) { c.Browser.Driver = "selenium" }, "browser.driver"},
		{"stealth without rod", func(c *Config) { c.Browser.Stealth = true }, "browser.stealth"},
		{"service url", func(c *Config) { c.Services["wata"] = ServiceConfig{Enabled: true} }, "services.wata.url"},
		{"negative timeout", func(c *Config) {
			c.Services["cgc"] = ServiceConfig{Enabled: true, URL: "https://x", SelectorTimeout: -time.Second}
		}, "services.cgc.selector_timeout"},
		{"archive backend", func(c *Config) { c.Archive = ArchiveConfig{Enabled: true, Backend: "s3"} }, "archive.backend"},
		{"gcs bucket", func(c *Config) { c.Archive = ArchiveConfig{Enabled: true, Backend: "gcs"} }, "archive.gcs_bucket"},
		{"postgres dsn", func(c *Config) { c.History.Backend = "postgres" }, "history.dsn"},
		{"events backend", func(c *Config) { c.Events.Backend = "kafka" }, "events.backend"},
		{"pubsub project", func(c *Config) { c.Events.Backend = "pubsub" }, "events.project_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			cfg.Services = map[string]ServiceConfig{}
			for k, v := range base.Services {
				cfg.Services[k] = v
			}
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	require.NoError(t, base.Validate())
}
