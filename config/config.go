// Package config loads Kairoi's configuration from a TOML file, with a
// thin environment-variable overlay for secrets that should never be
// committed to disk (same "file + env override" shape the teacher's own
// deployments layer onto its env-only config).
package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

type Config struct {
	Env string `toml:"env" validate:"required,oneof=local staging production"`

	Controller ControllerConfig `toml:"controller"`
	Database   DatabaseConfig   `toml:"database"`
	Runner     RunnerConfig     `toml:"runner"`
	Notify     NotifyConfig     `toml:"notify"`
	AdminHTTP  AdminHTTPConfig  `toml:"admin_http"`
	Log        LogConfig        `toml:"log"`
}

type ControllerConfig struct {
	Listen string `toml:"listen" validate:"required"`
}

type DatabaseConfig struct {
	JournalPath    string `toml:"journal_path" validate:"required"`
	FsyncOnPersist bool   `toml:"fsync_on_persist"`
	Framerate      int    `toml:"framerate" validate:"min=1,max=65535"`
}

type RunnerConfig struct {
	ShellEnabled bool `toml:"shell_enabled"`
	AMQPEnabled  bool `toml:"amqp_enabled"`
}

type NotifyConfig struct {
	Enabled            bool   `toml:"enabled"`
	ResendAPIKey       string `toml:"resend_api_key" env:"KAIROI_NOTIFY_RESEND_API_KEY"`
	ResendFrom         string `toml:"resend_from"`
	To                 string `toml:"to" validate:"required_if=Enabled true"`
	MinIntervalSeconds int    `toml:"min_interval_seconds" validate:"min=0"`
}

type AdminHTTPConfig struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
}

type LogConfig struct {
	Level string `toml:"level" validate:"required,oneof=debug info warn error"`
}

// Defaults applied before the TOML file is parsed, mirroring the
// teacher's envDefault tags.
func defaults() Config {
	return Config{
		Env: "local",
		Controller: ControllerConfig{
			Listen: ":7670",
		},
		Database: DatabaseConfig{
			JournalPath:    "kairoi.journal",
			FsyncOnPersist: true,
			Framerate:      512,
		},
		Runner: RunnerConfig{
			ShellEnabled: true,
			AMQPEnabled:  false,
		},
		AdminHTTP: AdminHTTPConfig{
			Enabled: true,
			Listen:  ":7671",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads path (TOML), overlays secrets from the environment, then
// validates the result.
func Load(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("apply env overlay: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// SlogLevel converts the configured log level to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch c.Log.Level {
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
