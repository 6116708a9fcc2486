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

func TestLoad_DryRunNeedsNoCredentials(t *testing.T) {
	path := writeConfig(t, `
app:
  dry_run: true
engine:
  instruments: [ETH-USDT]
  reconcile_interval: 30s
tracker:
  poll_interval: 2s
execution:
  limit:
    timeout: 45s
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.App.DryRun)
	assert.Equal(t, []string{"ETH-USDT"}, cfg.Engine.Instruments)
	assert.Equal(t, 30*time.Second, cfg.Engine.ReconcileInterval)
	assert.Equal(t, 2*time.Second, cfg.Tracker.PollInterval)
	assert.Equal(t, 60, cfg.Tracker.MaxAttempts)
	assert.Equal(t, 45*time.Second, cfg.Execution.Limit.Timeout)
	assert.True(t, cfg.Execution.Limit.FallbackToMarket)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, 10.0, cfg.Risk.MaxOrderSize)
}

func TestLoad_LiveRequiresCredentials(t *testing.T) {
	path := writeConfig(t, "app:\n  dry_run: false\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("EXCHANGE_API_KEY", "key")
	t.Setenv("EXCHANGE_API_SECRET", "secret")
	t.Setenv("EXCHANGE_PASSPHRASE", "pass")
	t.Setenv("EXCHANGE_DEMO", "true")
	t.Setenv("STORAGE_DRIVER", "sqlite")
	t.Setenv("ENGINE_INSTRUMENTS", "BTC-USDT, ETH-USDT")
	t.Setenv("RISK_MAX_ORDER_SIZE", "2.5")

	cfg, err := Load(writeConfig(t, "app:\n  name: test\n"))
	require.NoError(t, err)

	assert.Equal(t, "key", cfg.Exchange.APIKey)
	assert.True(t, cfg.Exchange.Demo)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, []string{"BTC-USDT", "ETH-USDT"}, cfg.Engine.Instruments)
	assert.Equal(t, 2.5, cfg.Risk.MaxOrderSize)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mongo" }, true},
		{"sqlite without path", func(c *Config) { c.Storage.Driver = "sqlite"; c.Storage.SQLite.Path = "" }, true},
		{"no instruments", func(c *Config) { c.Engine.Instruments = nil }, true},
		{"bad trade mode", func(c *Config) { c.Exchange.TradeMode = "margin" }, true},
		{"min above max", func(c *Config) { c.Risk.MinOrderSize = 100 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			c.App.DryRun = true
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
