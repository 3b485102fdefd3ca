package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"utilpanel/internal/errors"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"GRANULARITY", "WINDOW_START", "WINDOW_END", "WORKERS", "ALLOW_UNCALIBRATED",
		"K_BIN_MIN", "K_BIN_MAX", "DATABASE_DRIVER", "DATABASE_URL", "HTTP_PORT", "LOG_LEVEL"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "month", cfg.Pipeline.Granularity)
	assert.Equal(t, 4, cfg.Pipeline.Workers)
	assert.Equal(t, -6, cfg.Pipeline.KBinMin)
	assert.Equal(t, 6, cfg.Pipeline.KBinMax)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Nil(t, cfg.Pipeline.WindowStart)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("GRANULARITY", "Day")
	t.Setenv("WINDOW_START", "2024-01-01")
	t.Setenv("WINDOW_END", "2024-06-30T00:00:00Z")
	t.Setenv("WORKERS", "8")
	t.Setenv("ALLOW_UNCALIBRATED", "true")
	t.Setenv("DATABASE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/panel?sslmode=disable")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "day", cfg.Pipeline.Granularity)
	assert.Equal(t, 8, cfg.Pipeline.Workers)
	assert.True(t, cfg.Pipeline.AllowUncalibrated)
	require.NotNil(t, cfg.Pipeline.WindowStart)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), *cfg.Pipeline.WindowStart)
	assert.Equal(t, "postgres", cfg.Database.Driver)
}

func TestLoad_InvalidDate(t *testing.T) {
	t.Setenv("WINDOW_START", "01/02/2024")
	_, err := Load()
	require.Error(t, err)
	assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		ok     bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"bad granularity", func(c *Config) { c.Pipeline.Granularity = "quarter" }, false},
		{"zero workers", func(c *Config) { c.Pipeline.Workers = 0 }, false},
		{"positive k min", func(c *Config) { c.Pipeline.KBinMin = 1 }, false},
		{"bad driver", func(c *Config) { c.Database.Driver = "mysql" }, false},
		{"non numeric port", func(c *Config) { c.Server.Port = "http" }, false},
		{"inverted window", func(c *Config) {
			s := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
			e := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
			c.Pipeline.WindowStart, c.Pipeline.WindowEnd = &s, &e
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))
		})
	}
}
