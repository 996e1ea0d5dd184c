// Package config provides configuration management for the sandbox engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"sandbox-trader/internal/models"
)

// Config holds all application configuration.
type Config struct {
	Sandbox   SandboxConfig   `mapstructure:"sandbox"`
	Leverage  LeverageConfig  `mapstructure:"leverage"`
	SquareOff SquareOffConfig `mapstructure:"squareoff"`
	Quotes    QuoteConfig     `mapstructure:"quotes"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// SandboxConfig holds the core simulation tunables.
type SandboxConfig struct {
	StartingCapital    float64 `mapstructure:"starting_capital"`
	OrderCheckInterval int     `mapstructure:"order_check_interval"` // seconds
	MTMInterval        int     `mapstructure:"mtm_interval"`         // seconds
	SettlementDays     int     `mapstructure:"settlement_days"`      // T+n
	ResetDay           string  `mapstructure:"reset_day"`            // weekday name
	ResetTime          string  `mapstructure:"reset_time"`           // HH:MM
	Timezone           string  `mapstructure:"timezone"`
}

// LeverageConfig holds margin multipliers by product class.
type LeverageConfig struct {
	EquityMIS  float64 `mapstructure:"equity_mis"`
	EquityCNC  float64 `mapstructure:"equity_cnc"`
	Derivative float64 `mapstructure:"derivative"`
}

// SquareOffConfig holds the forced intraday close schedule.
type SquareOffConfig struct {
	Equity             string `mapstructure:"equity"`    // HH:MM, also applies to derivatives
	Currency           string `mapstructure:"currency"`  // HH:MM
	Commodity          string `mapstructure:"commodity"` // HH:MM
	WarnMinutes        int    `mapstructure:"warn_minutes"`
	CancelAfterMinutes int    `mapstructure:"cancel_after_minutes"`
}

// QuoteConfig holds quote gateway selection and rate limiting.
type QuoteConfig struct {
	Provider     string  `mapstructure:"provider"`       // selected once at startup
	RateLimit    float64 `mapstructure:"rate_limit"`     // external calls per second
	BatchSize    int     `mapstructure:"batch_size"`     // symbols per external call
	BatchDelayMS int     `mapstructure:"batch_delay_ms"` // delay between sub-batches
	TimeoutMS    int     `mapstructure:"timeout_ms"`     // per-fetch timeout
}

// DatabaseConfig holds the sandbox persistence settings.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	File  bool   `mapstructure:"file"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/sandbox-trader"
	}
	return filepath.Join(home, ".config", "sandbox-trader")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine: defaults fully describe a working sandbox.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("sandbox.starting_capital", 10000000.0) // 1 crore
	v.SetDefault("sandbox.order_check_interval", 5)
	v.SetDefault("sandbox.mtm_interval", 5)
	v.SetDefault("sandbox.settlement_days", 1) // T+1
	v.SetDefault("sandbox.reset_day", "Sunday")
	v.SetDefault("sandbox.reset_time", "00:00")
	v.SetDefault("sandbox.timezone", "Asia/Kolkata")

	v.SetDefault("leverage.equity_mis", 5.0)
	v.SetDefault("leverage.equity_cnc", 1.0)
	v.SetDefault("leverage.derivative", 10.0)

	v.SetDefault("squareoff.equity", "15:15")
	v.SetDefault("squareoff.currency", "16:45")
	v.SetDefault("squareoff.commodity", "23:30")
	v.SetDefault("squareoff.warn_minutes", 5)
	v.SetDefault("squareoff.cancel_after_minutes", 30)

	v.SetDefault("quotes.provider", "static")
	v.SetDefault("quotes.rate_limit", 10.0)
	v.SetDefault("quotes.batch_size", 20)
	v.SetDefault("quotes.batch_delay_ms", 200)
	v.SetDefault("quotes.timeout_ms", 2000)

	v.SetDefault("database.path", filepath.Join(DefaultConfigDir(), "sandbox.db"))

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", true)
}

// Validate checks the configuration. A systemic misconfiguration is fatal at
// startup, not at runtime.
func (c *Config) Validate() error {
	if c.Sandbox.StartingCapital <= 0 {
		return fmt.Errorf("sandbox.starting_capital must be positive, got %.2f", c.Sandbox.StartingCapital)
	}
	if c.Sandbox.OrderCheckInterval <= 0 {
		return fmt.Errorf("sandbox.order_check_interval must be positive")
	}
	if c.Sandbox.MTMInterval <= 0 {
		return fmt.Errorf("sandbox.mtm_interval must be positive")
	}
	if c.Sandbox.SettlementDays < 0 {
		return fmt.Errorf("sandbox.settlement_days must be non-negative")
	}
	if c.Leverage.EquityMIS <= 0 || c.Leverage.EquityCNC <= 0 || c.Leverage.Derivative <= 0 {
		return fmt.Errorf("all leverage multipliers must be positive")
	}
	if c.Quotes.RateLimit <= 0 {
		return fmt.Errorf("quotes.rate_limit must be positive")
	}
	if c.Quotes.BatchSize <= 0 {
		return fmt.Errorf("quotes.batch_size must be positive")
	}
	if _, err := parseWeekday(c.Sandbox.ResetDay); err != nil {
		return err
	}
	for _, t := range []string{c.Sandbox.ResetTime, c.SquareOff.Equity, c.SquareOff.Currency, c.SquareOff.Commodity} {
		if _, _, err := ParseClock(t); err != nil {
			return err
		}
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Sandbox.Timezone, err)
	}
	return nil
}

// Location returns the configured market timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Sandbox.Timezone)
}

// OrderCheckInterval returns the execution engine polling interval.
func (c *Config) OrderCheckInterval() time.Duration {
	return time.Duration(c.Sandbox.OrderCheckInterval) * time.Second
}

// MTMInterval returns the mark-to-market refresh interval.
func (c *Config) MTMInterval() time.Duration {
	return time.Duration(c.Sandbox.MTMInterval) * time.Second
}

// ResetWeekday returns the configured weekly funds reset day.
func (c *Config) ResetWeekday() time.Weekday {
	d, _ := parseWeekday(c.Sandbox.ResetDay)
	return d
}

// SquareOffClock returns the square-off hour and minute for an exchange class.
func (c *Config) SquareOffClock(class models.ExchangeClass) (hour, minute int) {
	var s string
	switch class {
	case models.ClassCurrency:
		s = c.SquareOff.Currency
	case models.ClassCommodity:
		s = c.SquareOff.Commodity
	default:
		// Equity and equity derivatives share the 15:15 close.
		s = c.SquareOff.Equity
	}
	hour, minute, _ = ParseClock(s)
	return hour, minute
}

// ParseClock parses an "HH:MM" wall-clock string.
func ParseClock(s string) (hour, minute int, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid clock time %q, want HH:MM", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in clock time %q", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in clock time %q", s)
	}
	return hour, minute, nil
}

func parseWeekday(s string) (time.Weekday, error) {
	switch strings.ToLower(s) {
	case "sunday":
		return time.Sunday, nil
	case "monday":
		return time.Monday, nil
	case "tuesday":
		return time.Tuesday, nil
	case "wednesday":
		return time.Wednesday, nil
	case "thursday":
		return time.Thursday, nil
	case "friday":
		return time.Friday, nil
	case "saturday":
		return time.Saturday, nil
	}
	return 0, fmt.Errorf("invalid weekday %q", s)
}
