package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sandbox-trader/internal/models"
)

func TestLoadDefaultsWithoutConfigFile(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 10000000.0, cfg.Sandbox.StartingCapital)
	assert.Equal(t, 1, cfg.Sandbox.SettlementDays)
	assert.Equal(t, "Asia/Kolkata", cfg.Sandbox.Timezone)
	assert.Equal(t, 5.0, cfg.Leverage.EquityMIS)
	assert.Equal(t, 1.0, cfg.Leverage.EquityCNC)
	assert.Equal(t, 10.0, cfg.Leverage.Derivative)
	assert.Equal(t, "static", cfg.Quotes.Provider)
	assert.Equal(t, 10.0, cfg.Quotes.RateLimit)
	assert.Equal(t, 20, cfg.Quotes.BatchSize)
	assert.Equal(t, "info", cfg.Logging.Level)

	assert.Equal(t, 5*time.Second, cfg.OrderCheckInterval())
	assert.Equal(t, 5*time.Second, cfg.MTMInterval())
	assert.Equal(t, time.Sunday, cfg.ResetWeekday())
}

func TestLoadReadsTOMLOverrides(t *testing.T) {
	dir := t.TempDir()
	content := `
[sandbox]
starting_capital = 500000.0
settlement_days = 2

[leverage]
equity_mis = 4.0

[squareoff]
equity = "15:00"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 500000.0, cfg.Sandbox.StartingCapital)
	assert.Equal(t, 2, cfg.Sandbox.SettlementDays)
	assert.Equal(t, 4.0, cfg.Leverage.EquityMIS)

	// Overridden equity cutoff, defaults elsewhere.
	h, m := cfg.SquareOffClock(models.ClassEquity)
	assert.Equal(t, 15, h)
	assert.Equal(t, 0, m)
	h, m = cfg.SquareOffClock(models.ClassCurrency)
	assert.Equal(t, 16, h)
	assert.Equal(t, 45, m)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	content := `
[sandbox]
starting_capital = -100.0
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0o644))

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestValidateFailures(t *testing.T) {
	base := func() *Config {
		cfg, err := Load(t.TempDir())
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero capital", func(c *Config) { c.Sandbox.StartingCapital = 0 }},
		{"zero order interval", func(c *Config) { c.Sandbox.OrderCheckInterval = 0 }},
		{"negative settlement", func(c *Config) { c.Sandbox.SettlementDays = -1 }},
		{"zero leverage", func(c *Config) { c.Leverage.Derivative = 0 }},
		{"zero rate limit", func(c *Config) { c.Quotes.RateLimit = 0 }},
		{"bad reset day", func(c *Config) { c.Sandbox.ResetDay = "Someday" }},
		{"bad reset time", func(c *Config) { c.Sandbox.ResetTime = "24:99" }},
		{"bad squareoff clock", func(c *Config) { c.SquareOff.Commodity = "half past" }},
		{"bad timezone", func(c *Config) { c.Sandbox.Timezone = "Mars/Olympus" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestParseClock(t *testing.T) {
	h, m, err := ParseClock("15:15")
	require.NoError(t, err)
	assert.Equal(t, 15, h)
	assert.Equal(t, 15, m)

	h, m, err = ParseClock("00:00")
	require.NoError(t, err)
	assert.Equal(t, 0, h)
	assert.Equal(t, 0, m)

	for _, bad := range []string{"", "15", "25:00", "12:60", "ab:cd"} {
		_, _, err := ParseClock(bad)
		assert.Error(t, err, "expected error for %q", bad)
	}
}
