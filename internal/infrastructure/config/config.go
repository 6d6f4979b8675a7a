// Package config loads subsystem configuration from the environment.
package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all subsystem configuration.
type Config struct {
	Server    ServerConfig
	Terminal  TerminalConfig
	Reconnect ReconnectConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8400"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// TerminalConfig holds PTY session configuration.
type TerminalConfig struct {
	Shell         string `envconfig:"TERM_SHELL" default:""`
	ScrollbackMiB int    `envconfig:"TERM_SCROLLBACK_MIB" default:"1"`
	DefaultCols   int    `envconfig:"TERM_COLS" default:"80"`
	DefaultRows   int    `envconfig:"TERM_ROWS" default:"24"`
}

// ReconnectConfig holds reconnection backoff configuration.
type ReconnectConfig struct {
	BaseDelayMs int `envconfig:"RECONNECT_BASE_MS" default:"1000"`
	MaxDelayMs  int `envconfig:"RECONNECT_MAX_MS" default:"30000"`
	MaxAttempts int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"10"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds API rate limit configuration.
type RateLimitConfig struct {
	RequestsPerSecond int `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int `envconfig:"RATE_LIMIT_BURST" default:"200"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("termpanel", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Reconnect.BaseDelayMs <= 0 {
		return fmt.Errorf("reconnect base delay must be positive, got %d", c.Reconnect.BaseDelayMs)
	}
	if c.Reconnect.MaxDelayMs < c.Reconnect.BaseDelayMs {
		return fmt.Errorf("reconnect max delay %d below base delay %d", c.Reconnect.MaxDelayMs, c.Reconnect.BaseDelayMs)
	}
	if c.Reconnect.MaxAttempts <= 0 {
		return fmt.Errorf("reconnect max attempts must be positive, got %d", c.Reconnect.MaxAttempts)
	}
	if c.Terminal.ScrollbackMiB <= 0 {
		return fmt.Errorf("scrollback size must be positive, got %d", c.Terminal.ScrollbackMiB)
	}
	return nil
}
