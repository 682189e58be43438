// Package config loads the daemon configuration from an optional TOML
// file with environment-variable overrides applied on top.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"

	"github.com/console-host-control/engine/internal/macro"
	"github.com/console-host-control/engine/internal/model"
)

// Config is the daemon's full configuration tree.
type Config struct {
	Listen   string `toml:"listen" env:"HOSTCTL_LISTEN"`
	LogLevel string `toml:"log_level" env:"HOSTCTL_LOG_LEVEL"`

	Host     Host     `toml:"host"`
	Macro    Macro    `toml:"macro"`
	Sessions Sessions `toml:"sessions"`
}

// Host configures the console-emulator host binary.
type Host struct {
	Executable    string `toml:"executable" env:"HOSTCTL_HOST_EXECUTABLE"`
	ShowStatusBar bool   `toml:"show_status_bar" env:"HOSTCTL_HOST_STATUS_BAR"`
}

// Macro configures the command transport.
type Macro struct {
	Transport    string `toml:"transport" env:"HOSTCTL_MACRO_TRANSPORT"`
	HelperPath   string `toml:"helper_path" env:"HOSTCTL_MACRO_HELPER"`
	ExtenderPath string `toml:"extender_path" env:"HOSTCTL_MACRO_EXTENDER"`
	CallTimeout  string `toml:"call_timeout" env:"HOSTCTL_MACRO_TIMEOUT"`
}

// Sessions configures per-session behavior and registry limits.
type Sessions struct {
	Max           int    `toml:"max" env:"HOSTCTL_SESSIONS_MAX"`
	TempRoot      string `toml:"temp_root" env:"HOSTCTL_SESSIONS_TEMP_ROOT"`
	QueryInterval string `toml:"query_interval" env:"HOSTCTL_SESSIONS_QUERY_INTERVAL"`
	HistoryBytes  int    `toml:"history_bytes" env:"HOSTCTL_SESSIONS_HISTORY_BYTES"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Listen:   ":8090",
		LogLevel: "info",
		Macro: Macro{
			Transport:   string(macro.ModeOutOfProcess),
			CallTimeout: "10s",
		},
		Sessions: Sessions{
			Max:           10,
			QueryInterval: "250ms",
			HistoryBytes:  64 * 1024,
		},
	}
}

// Load builds the effective configuration: defaults, then the TOML file
// (path may be empty), then environment overrides, then validation.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("load config %s: %w", path, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field consistency.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Listen) == "" {
		return fmt.Errorf("%w: listen address is empty", model.ErrConfiguration)
	}
	if strings.TrimSpace(c.Host.Executable) == "" {
		return fmt.Errorf("%w: host executable is not set", model.ErrConfiguration)
	}
	switch macro.Mode(c.Macro.Transport) {
	case macro.ModeInProcess:
		return fmt.Errorf("%w: in-process transport requires embedding, not daemon config", model.ErrConfiguration)
	case macro.ModeOutOfProcess:
		if strings.TrimSpace(c.Macro.HelperPath) == "" {
			return fmt.Errorf("%w: helper transport requires macro.helper_path", model.ErrConfiguration)
		}
	default:
		return fmt.Errorf("%w: unknown macro transport %q", model.ErrConfiguration, c.Macro.Transport)
	}
	if _, err := c.MacroCallTimeout(); err != nil {
		return err
	}
	if _, err := c.SessionQueryInterval(); err != nil {
		return err
	}
	if c.Sessions.Max <= 0 {
		return fmt.Errorf("%w: sessions.max must be positive", model.ErrConfiguration)
	}
	return nil
}

// MacroCallTimeout parses the macro call timeout.
func (c Config) MacroCallTimeout() (time.Duration, error) {
	return c.duration(c.Macro.CallTimeout, "macro.call_timeout")
}

// SessionQueryInterval parses the exit-resolver query interval.
func (c Config) SessionQueryInterval() (time.Duration, error) {
	return c.duration(c.Sessions.QueryInterval, "sessions.query_interval")
}

func (c Config) duration(raw, field string) (time.Duration, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: parse %s: %v", model.ErrConfiguration, field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%w: %s is negative", model.ErrConfiguration, field)
	}
	return d, nil
}
