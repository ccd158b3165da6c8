// Package config loads driver configuration from a YAML file, environment
// variables (GOBOLT_* prefix, for keys the file sets), and built-in defaults,
// validating the result. Grounded on the teacher's
// viper + mapstructure + validator configuration loader, adapted from a
// server's static configuration to a Bolt driver's connection settings.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/marmos91/gobolt/internal/bytesize"
)

// Config is the complete, validated configuration for a gobolt driver
// instance (§6).
type Config struct {
	// URI-derived fields are intentionally absent: URI parsing, TLS
	// construction and DNS resolution policy are external collaborators
	// (§3) this package does not own.

	Pool    PoolConfig    `mapstructure:"pool" yaml:"pool" validate:"required"`
	Retry   RetryConfig   `mapstructure:"retry" yaml:"retry" validate:"required"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging" validate:"required"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// PoolConfig bounds the direct connection pool (§4.6).
type PoolConfig struct {
	MaxConnectionPoolSize       int           `mapstructure:"max_connection_pool_size" yaml:"max_connection_pool_size" validate:"required,gt=0"`
	MaxConnectionLifetime       time.Duration `mapstructure:"max_connection_lifetime" yaml:"max_connection_lifetime"`
	MaxConnectionIdleTime       time.Duration `mapstructure:"max_connection_idle_time" yaml:"max_connection_idle_time"`
	ConnectionAcquisitionTimeout time.Duration `mapstructure:"connection_acquisition_timeout" yaml:"connection_acquisition_timeout" validate:"required,gt=0"`
	ConnectionTimeout           time.Duration `mapstructure:"connection_timeout" yaml:"connection_timeout" validate:"required,gt=0"`
	// MaxMessageSize bounds a single reassembled Bolt message, guarding
	// against a misbehaving server streaming unbounded data into memory.
	MaxMessageSize bytesize.ByteSize `mapstructure:"max_message_size" yaml:"max_message_size"`
}

// RetryConfig tunes the managed-transaction retry policy (§4.8).
type RetryConfig struct {
	InitialDelay time.Duration `mapstructure:"initial_delay" yaml:"initial_delay" validate:"required,gt=0"`
	Multiplier   float64       `mapstructure:"multiplier" yaml:"multiplier" validate:"required,gt=1"`
	JitterFactor float64       `mapstructure:"jitter_factor" yaml:"jitter_factor" validate:"gte=0,lt=1"`
	MaxElapsed   time.Duration `mapstructure:"max_elapsed_time" yaml:"max_elapsed_time" validate:"required,gt=0"`
}

// LoggingConfig controls the structured logger (internal/logger).
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`
}

// MetricsConfig enables Prometheus collectors for the pool and routing
// layers (internal/metrics).
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// DefaultConfig returns the built-in defaults matching §6's default values.
func DefaultConfig() *Config {
	return &Config{
		Pool: PoolConfig{
			MaxConnectionPoolSize:        100,
			MaxConnectionLifetime:        1 * time.Hour,
			MaxConnectionIdleTime:        0,
			ConnectionAcquisitionTimeout: 60 * time.Second,
			ConnectionTimeout:            30 * time.Second,
			MaxMessageSize:               64 * bytesize.MiB,
		},
		Retry: RetryConfig{
			InitialDelay: 1 * time.Second,
			Multiplier:   2.0,
			JitterFactor: 0.2,
			MaxElapsed:   30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads configuration from configPath (YAML; empty string skips file
// loading), fills in defaults for anything left unset, and validates the
// result. A GOBOLT_*-prefixed environment variable overrides a key only when
// the loaded file also sets that key; when no file is found the defaults are
// used as they are and the environment is not consulted.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if found {
		if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("GOBOLT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("gobolt")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read config file: %w", err)
	}
	return true, nil
}
