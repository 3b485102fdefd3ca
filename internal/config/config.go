package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"utilpanel/internal/errors"
)

// Config represents the complete application configuration
type Config struct {
	Pipeline PipelineConfig `validate:"required"`
	Database DatabaseConfig `validate:"required"`
	Server   ServerConfig   `validate:"required"`
	LogLevel string
}

// PipelineConfig holds the knobs of one preparation run
type PipelineConfig struct {
	Granularity       string `validate:"required,oneof=day week month"`
	WindowStart       *time.Time
	WindowEnd         *time.Time
	Workers           int  `validate:"min=1,max=256"`
	AllowUncalibrated bool // explicit partial-run mode when no calibration data exists
	KBinMin           int  `validate:"max=-1,ltfield=KBinMax"`
	KBinMax           int  `validate:"min=0"`
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver string `validate:"required,oneof=sqlite postgres"`
	URL    string `validate:"required"`
}

// ServerConfig holds web server settings
type ServerConfig struct {
	Port string `validate:"required,numeric"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	pipeline, err := loadPipelineConfig()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load pipeline configuration")
	}

	config := &Config{
		Pipeline: *pipeline,
		Database: *loadDatabaseConfig(),
		Server:   *loadServerConfig(),
		LogLevel: getEnvOrDefault("LOG_LEVEL", "INFO"),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Default returns the configuration used when no environment is set.
func Default() *Config {
	return &Config{
		Pipeline: PipelineConfig{
			Granularity: "month",
			Workers:     4,
			KBinMin:     -6,
			KBinMax:     6,
		},
		Database: DatabaseConfig{Driver: "sqlite", URL: "file:utilpanel.db?_pragma=foreign_keys(1)"},
		Server:   ServerConfig{Port: "8080"},
		LogLevel: "INFO",
	}
}

// Validate checks struct tags and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ConfigInvalid(describe(err)), "configuration validation failed")
	}
	p := c.Pipeline
	if p.WindowStart != nil && p.WindowEnd != nil && p.WindowEnd.Before(*p.WindowStart) {
		return errors.Wrap(errors.ConfigInvalid("WINDOW_END precedes WINDOW_START"), "configuration validation failed")
	}
	return nil
}

func describe(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fe.Namespace()+" failed "+fe.Tag())
	}
	return strings.Join(parts, "; ")
}

func loadPipelineConfig() (*PipelineConfig, error) {
	def := Default().Pipeline

	start, err := getEnvTime("WINDOW_START")
	if err != nil {
		return nil, err
	}
	end, err := getEnvTime("WINDOW_END")
	if err != nil {
		return nil, err
	}

	return &PipelineConfig{
		Granularity:       strings.ToLower(getEnvOrDefault("GRANULARITY", def.Granularity)),
		WindowStart:       start,
		WindowEnd:         end,
		Workers:           getEnvIntOrDefault("WORKERS", def.Workers),
		AllowUncalibrated: getEnvBoolOrDefault("ALLOW_UNCALIBRATED", false),
		KBinMin:           getEnvIntOrDefault("K_BIN_MIN", def.KBinMin),
		KBinMax:           getEnvIntOrDefault("K_BIN_MAX", def.KBinMax),
	}, nil
}

func loadDatabaseConfig() *DatabaseConfig {
	def := Default().Database
	return &DatabaseConfig{
		Driver: getEnvOrDefault("DATABASE_DRIVER", def.Driver),
		URL:    getEnvOrDefault("DATABASE_URL", def.URL),
	}
}

func loadServerConfig() *ServerConfig {
	return &ServerConfig{
		Port: getEnvOrDefault("HTTP_PORT", Default().Server.Port),
	}
}

// ParseDate accepts RFC3339 or a plain calendar date.
func ParseDate(value string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.ConfigInvalid("invalid date " + strconv.Quote(value) + " (use YYYY-MM-DD or RFC3339)")
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvTime(key string) (*time.Time, error) {
	value := os.Getenv(key)
	if value == "" {
		return nil, nil
	}
	t, err := ParseDate(value)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", key)
	}
	return &t, nil
}
