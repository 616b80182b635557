// Package config loads process configuration from the environment, layered
// under an optional .env file, the way the teacher's cmd/server wires
// config.Load() before anything else starts.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config is the full process configuration for claude-pilotd.
type Config struct {
	// DatabasePath is the primary Store file. Default ./claude-pilot.db per §6.
	DatabasePath string `default:"./claude-pilot.db" validate:"required"`

	// CLIPath is the external AI CLI binary invoked by the Executor.
	CLIPath string `default:"claude" validate:"required"`

	// AllowSkipPermissions mirrors CLAUDE_ALLOW_SKIP_PERMISSIONS.
	AllowSkipPermissions bool

	// Timezone is the fallback heuristic's daily anchor timezone (§4.3).
	Timezone string `default:"Local"`

	// MonitorInterval is read from CLAUDE_PILOT_MONITOR_INTERVAL. Nothing
	// consumes it: the Adaptive Monitor always sleeps for its mode's
	// DefaultInterval.
	MonitorInterval time.Duration `default:"10m"`

	// HTTPAddr is the optional read-only status server's listen address.
	HTTPAddr string `default:":8088"`

	// LogLevel and LogPretty configure pkg/logger.
	LogLevel  string `default:"info"`
	LogPretty bool   `default:"true"`

	// GlobalConcurrency bounds simultaneous in-flight job dispatches across
	// all jobs (§4.8 "optional global cap").
	GlobalConcurrency int `default:"4" validate:"min=1"`

	// Location is the parsed form of Timezone, resolved by Load.
	Location *time.Location `validate:"-"`
}

var validate = validator.New()

// Load reads configuration from a .env file (if present, ignored if absent)
// and the process environment, filling unset fields with struct-tag
// defaults and validating the result.
func Load() (*Config, error) {
	// godotenv.Load is a no-op error we swallow when the file is simply
	// absent; any other error (malformed file) is surfaced.
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: reading .env: %w", err)
		}
	}

	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("config: applying defaults: %w", err)
	}

	if v := os.Getenv("CLAUDE_PILOT_DB_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	if v := os.Getenv("CLAUDE_PILOT_CLI_PATH"); v != "" {
		cfg.CLIPath = v
	}
	if v := os.Getenv("CLAUDE_ALLOW_SKIP_PERMISSIONS"); v != "" {
		cfg.AllowSkipPermissions = v == "true"
	}
	if v := os.Getenv("CLAUDE_PILOT_TIMEZONE"); v != "" {
		cfg.Timezone = v
	}
	if v := os.Getenv("CLAUDE_PILOT_MONITOR_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("config: CLAUDE_PILOT_MONITOR_INTERVAL: %w", err)
		}
		cfg.MonitorInterval = d
	}
	if v := os.Getenv("CLAUDE_PILOT_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("CLAUDE_PILOT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CLAUDE_PILOT_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("config: CLAUDE_PILOT_CONCURRENCY: %w", err)
		}
		cfg.GlobalConcurrency = n
	}

	loc := time.Local
	if cfg.Timezone != "" && cfg.Timezone != "Local" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("config: invalid timezone %q: %w", cfg.Timezone, err)
		}
		loc = l
	}
	cfg.Location = loc

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}
