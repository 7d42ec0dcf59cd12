package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Env:                  "development",
		JWTSecret:            "secure-secret-at-least-32-chars-long",
		DBPassword:           "secure-password",
		DBDriver:             "postgres",
		Port:                 "8080",
		StoreTimeoutSeconds:  5,
		ChatMaxMessageLength: 500,
		ChatSlowModeSeconds:  3,
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(c *Config)
		expectError bool
	}{
		{"valid development", func(c *Config) {}, false},
		{"missing port", func(c *Config) { c.Port = "" }, true},
		{"missing secret", func(c *Config) { c.JWTSecret = "" }, true},
		{"unknown driver", func(c *Config) { c.DBDriver = "mysql" }, true},
		{"sqlite driver", func(c *Config) { c.DBDriver = "sqlite" }, false},
		{"zero max length", func(c *Config) { c.ChatMaxMessageLength = 0 }, true},
		{"negative slow mode", func(c *Config) { c.ChatSlowModeSeconds = -1 }, true},
		{"slow mode disabled", func(c *Config) { c.ChatSlowModeSeconds = 0 }, false},
		{"zero store timeout", func(c *Config) { c.StoreTimeoutSeconds = 0 }, true},
		{"production default secret", func(c *Config) {
			c.Env = "production"
			c.JWTSecret = defaultJWTSecret
		}, true},
		{"production short secret", func(c *Config) {
			c.Env = "prod"
			c.JWTSecret = "short"
		}, true},
		{"production weak db password", func(c *Config) {
			c.Env = "production"
			c.DBPassword = "password"
		}, true},
		{"production sqlite ignores db password", func(c *Config) {
			c.Env = "production"
			c.DBDriver = "sqlite"
			c.DBPassword = ""
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadConfig_DefaultsAndEnvOverrides(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	t.Setenv("APP_ENV", "test")
	t.Setenv("CHAT_SLOW_MODE_SECONDS", "10")
	t.Setenv("DB_DRIVER", "sqlite")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.Env)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, 10, cfg.ChatSlowModeSeconds)
	assert.Equal(t, 500, cfg.ChatMaxMessageLength)
	assert.Equal(t, 2, cfg.ChatDuplicateThreshold)
	assert.Equal(t, "reactions=on,replies=on,mentions=on", cfg.ChatFeatures)
	assert.Equal(t, 5*time.Second, cfg.StoreTimeout())
}

func TestConfig_DurationFallbacks(t *testing.T) {
	c := &Config{}
	assert.Equal(t, 5*time.Second, c.StoreTimeout())
	assert.Equal(t, 10*time.Second, c.HTTPRateWindow())

	c.StoreTimeoutSeconds = 2
	c.HTTPRateWindowSeconds = 60
	assert.Equal(t, 2*time.Second, c.StoreTimeout())
	assert.Equal(t, time.Minute, c.HTTPRateWindow())
}
