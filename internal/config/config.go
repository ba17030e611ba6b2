// Package config defines runtime configuration for the market daemon.
// Values come from a TOML file, then MARKET_* environment variables
// override individual fields.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig  `toml:"server"`
	Market   MarketConfig  `toml:"market"`
	Journal  JournalConfig `toml:"journal"`
	LogLevel string        `toml:"log_level"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port            int      `toml:"port"`
	ReadTimeout     duration `toml:"read_timeout"`
	WriteTimeout    duration `toml:"write_timeout"`
	IdleTimeout     duration `toml:"idle_timeout"`
	ShutdownTimeout duration `toml:"shutdown_timeout"`
}

// MarketConfig holds matching and sweep parameters.
type MarketConfig struct {
	SweepInterval duration `toml:"sweep_interval"`
	StatsWindow   duration `toml:"stats_window"`
}

// JournalConfig holds the durable trade journal parameters. An empty
// dir disables journaling and keeps executions in memory only.
type JournalConfig struct {
	Dir string `toml:"dir"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder
// can parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     duration{5 * time.Second},
			WriteTimeout:    duration{10 * time.Second},
			IdleTimeout:     duration{60 * time.Second},
			ShutdownTimeout: duration{10 * time.Second},
		},
		Market: MarketConfig{
			SweepInterval: duration{time.Second},
			StatsWindow:   duration{24 * time.Hour},
		},
		LogLevel: "info",
	}
}

// Load reads a TOML configuration file at path (skipped when path is
// empty), merges it on top of the built-in defaults, applies MARKET_*
// environment variable overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("decode config file %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides reads well-known MARKET_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	setInt(&cfg.Server.Port, "MARKET_PORT")
	setDuration(&cfg.Server.ReadTimeout, "MARKET_READ_TIMEOUT")
	setDuration(&cfg.Server.WriteTimeout, "MARKET_WRITE_TIMEOUT")
	setDuration(&cfg.Server.IdleTimeout, "MARKET_IDLE_TIMEOUT")
	setDuration(&cfg.Server.ShutdownTimeout, "MARKET_SHUTDOWN_TIMEOUT")

	setDuration(&cfg.Market.SweepInterval, "MARKET_SWEEP_INTERVAL")
	setDuration(&cfg.Market.StatsWindow, "MARKET_STATS_WINDOW")

	setStr(&cfg.Journal.Dir, "MARKET_JOURNAL_DIR")
	setStr(&cfg.LogLevel, "MARKET_LOG_LEVEL")
}

// Validate checks the configuration for invalid values, collecting all
// problems into a single error.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port %d out of range", c.Server.Port))
	}
	if c.Market.SweepInterval.Duration <= 0 {
		errs = append(errs, "market: sweep_interval must be positive")
	}
	if c.Market.StatsWindow.Duration <= 0 {
		errs = append(errs, "market: stats_window must be positive")
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// SlogLevel maps the configured log level to its slog constant.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
