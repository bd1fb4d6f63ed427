// Package config loads and validates the dbibridge configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority, applied by the commands)
//  2. Environment variables (DBIBRIDGE_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/nxtools/dbibridge/internal/bytesize"
)

// Config represents the dbibridge configuration.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Titles configures the served catalog
	Titles TitlesConfig `mapstructure:"titles" yaml:"titles"`

	// Transport configures the device-facing listener and streaming
	Transport TransportConfig `mapstructure:"transport" yaml:"transport"`

	// Metrics contains Prometheus metrics server configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized
	// to uppercase before validation)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TitlesConfig configures the title catalog scan.
type TitlesConfig struct {
	// Root is the directory served to the device. Usually supplied as the
	// positional argument of the start command; validated there because it
	// may legitimately be absent from the config file.
	Root string `mapstructure:"root" yaml:"root"`

	// Extensions is the case-insensitive allow-list of title file extensions.
	Extensions []string `mapstructure:"extensions" validate:"min=1,dive,startswith=." yaml:"extensions"`

	// MaxEntries caps the catalog size; files found beyond the cap are
	// silently dropped to keep memory bounded.
	MaxEntries int `mapstructure:"max_entries" validate:"gt=0" yaml:"max_entries"`
}

// TransportConfig configures the device-facing listener and range streaming.
type TransportConfig struct {
	// Listen is the TCP address the backend waits for the device on.
	Listen string `mapstructure:"listen" validate:"required" yaml:"listen"`

	// RetryDelay is the fixed pause between failed accept attempts.
	RetryDelay time.Duration `mapstructure:"retry_delay" validate:"gte=0" yaml:"retry_delay"`

	// ChunkSize is the transfer buffer size for range streaming.
	// Accepts human-readable sizes like "1Mi" or plain byte counts.
	ChunkSize bytesize.ByteSize `mapstructure:"chunk_size" validate:"gt=0" yaml:"chunk_size"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
// When Enabled is false, no metrics are collected (zero overhead).
type MetricsConfig struct {
	// Enabled controls whether metrics collection and the HTTP server run
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Listen is the HTTP address for the metrics endpoint
	Listen string `mapstructure:"listen" validate:"required_if=Enabled true" yaml:"listen"`
}

// Load loads configuration from file, environment, and defaults.
//
// A missing config file is not an error: defaults (plus environment
// overrides) are used, since the backend is fully usable with just the
// positional titles directory.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	if !configFileFound {
		cfg := GetDefaultConfig()
		return cfg, nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// SaveConfig saves the configuration to the specified file path in YAML.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the DBIBRIDGE_ prefix and underscores.
	// Example: DBIBRIDGE_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("DBIBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error).
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// configDecodeHooks returns a combined decode hook for all custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

// byteSizeDecodeHook converts strings and integers to bytesize.ByteSize so
// config files can say chunk_size: "1Mi".
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return bytesize.Parse(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook converts strings to time.Duration so config files can
// say retry_delay: "1s".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to the
// current directory if the home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "dbibridge")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "dbibridge")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}
