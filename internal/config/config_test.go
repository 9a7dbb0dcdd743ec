package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "fieldsync.db", cfg.DB.Path)
	assert.Equal(t, 15*time.Second, cfg.Remote.Timeout)
	assert.Equal(t, 50, cfg.Sync.BatchSize)
	assert.Equal(t, 3, cfg.Sync.RejectBudget)
	assert.Zero(t, cfg.Sync.Interval)
	assert.Equal(t, 2*time.Second, cfg.Network.Debounce)
	assert.Equal(t, 10*time.Second, cfg.Network.ProbeInterval)
	assert.Equal(t, 150.0, cfg.Geofence.DeliveryToleranceM)
	assert.Equal(t, 100.0, cfg.Geofence.ServiceOrderToleranceM)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "fieldsync", cfg.Tracing.ServiceName)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fieldsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
db:
  path: /var/lib/fieldsync/local.db
remote:
  base_url: https://api.example.com/v1
  timeout: 5s
sync:
  batch_size: 20
  interval: 1m
geofence:
  delivery_tolerance_m: 200
log:
  format: text
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/fieldsync/local.db", cfg.DB.Path)
	assert.Equal(t, "https://api.example.com/v1", cfg.Remote.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.Remote.Timeout)
	assert.Equal(t, 20, cfg.Sync.BatchSize)
	assert.Equal(t, time.Minute, cfg.Sync.Interval)
	assert.Equal(t, 200.0, cfg.Geofence.DeliveryToleranceM)
	assert.Equal(t, 100.0, cfg.Geofence.ServiceOrderToleranceM)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, 3, cfg.Sync.RejectBudget)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fieldsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sync:\n  batch_size: 20\n"), 0o644))

	t.Setenv("FIELDSYNC_SYNC_BATCH_SIZE", "7")
	t.Setenv("FIELDSYNC_REMOTE_TOKEN", "secret")
	t.Setenv("FIELDSYNC_NETWORK_DEBOUNCE", "500ms")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Sync.BatchSize)
	assert.Equal(t, "secret", cfg.Remote.Token)
	assert.Equal(t, 500*time.Millisecond, cfg.Network.Debounce)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"empty db path", func(c *Config) { c.DB.Path = " " }, "db.path"},
		{"zero batch", func(c *Config) { c.Sync.BatchSize = 0 }, "sync.batch_size"},
		{"zero budget", func(c *Config) { c.Sync.RejectBudget = 0 }, "sync.reject_budget"},
		{"negative interval", func(c *Config) { c.Sync.Interval = -time.Second }, "sync.interval"},
		{"zero tolerance", func(c *Config) { c.Geofence.DeliveryToleranceM = 0 }, "delivery_tolerance_m"},
		{"probe without interval", func(c *Config) {
			c.Network.ProbeAddr = "example.com:443"
			c.Network.ProbeInterval = 0
		}, "probe_interval"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}

	assert.NoError(t, Default().Validate())
}
