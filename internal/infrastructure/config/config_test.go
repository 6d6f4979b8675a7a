package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8400", cfg.Server.Port)
	assert.Equal(t, 1000, cfg.Reconnect.BaseDelayMs)
	assert.Equal(t, 30000, cfg.Reconnect.MaxDelayMs)
	assert.Equal(t, 10, cfg.Reconnect.MaxAttempts)
	assert.Equal(t, 1, cfg.Terminal.ScrollbackMiB)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults ok", func(c *Config) {}, false},
		{"zero base delay", func(c *Config) { c.Reconnect.BaseDelayMs = 0 }, true},
		{"max below base", func(c *Config) { c.Reconnect.MaxDelayMs = 500 }, true},
		{"zero attempts", func(c *Config) { c.Reconnect.MaxAttempts = 0 }, true},
		{"zero scrollback", func(c *Config) { c.Terminal.ScrollbackMiB = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)
			tt.mutate(cfg)
			err = cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
