package config

import (
	"strings"
	"time"

	"github.com/nxtools/dbibridge/internal/bytesize"
)

// Default configuration values.
const (
	DefaultLogLevel  = "INFO"
	DefaultLogFormat = "text"
	DefaultLogOutput = "stdout"

	DefaultListen     = ":4444"
	DefaultRetryDelay = time.Second
	DefaultChunkSize  = 1 * bytesize.MiB

	DefaultMaxEntries = 1024

	DefaultMetricsListen = ":9090"
)

// DefaultExtensions is the stock allow-list of installable title files.
func DefaultExtensions() []string {
	return []string{".nsp", ".nsz", ".xci"}
}

// GetDefaultConfig returns a configuration with all default values.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills in zero-valued fields with defaults. Explicitly
// configured values are left alone.
func ApplyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
	cfg.Logging.Level = strings.ToUpper(cfg.Logging.Level)
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLogFormat
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = DefaultLogOutput
	}

	if len(cfg.Titles.Extensions) == 0 {
		cfg.Titles.Extensions = DefaultExtensions()
	}
	if cfg.Titles.MaxEntries == 0 {
		cfg.Titles.MaxEntries = DefaultMaxEntries
	}

	if cfg.Transport.Listen == "" {
		cfg.Transport.Listen = DefaultListen
	}
	if cfg.Transport.RetryDelay == 0 {
		cfg.Transport.RetryDelay = DefaultRetryDelay
	}
	if cfg.Transport.ChunkSize == 0 {
		cfg.Transport.ChunkSize = DefaultChunkSize
	}

	if cfg.Metrics.Listen == "" {
		cfg.Metrics.Listen = DefaultMetricsListen
	}
}
