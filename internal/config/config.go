package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/CodeMonkeyCybersecurity/dhascan/pkg/types"
)

type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger"`
	Scan      ScanConfig      `mapstructure:"scan"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Report    ReportConfig    `mapstructure:"report"`
}

type LoggerConfig struct {
	Level       string   `mapstructure:"level"`
	Format      string   `mapstructure:"format"`
	OutputPaths []string `mapstructure:"output_paths"`
}

// ScanConfig holds the options recognised by the scanning core.
type ScanConfig struct {
	Threads       int               `mapstructure:"threads"`
	Timeout       time.Duration     `mapstructure:"timeout"`
	MinConfidence int               `mapstructure:"min_confidence"`
	Proxy         map[string]string `mapstructure:"proxy"` // scheme -> proxy URL
	UserAgent     string            `mapstructure:"user_agent"`
	MaxPages      int               `mapstructure:"max_pages"`
	MaxDepth      int               `mapstructure:"max_depth"`
	MaxBodyBytes  int64             `mapstructure:"max_body_bytes"`
	MaxPoints     int               `mapstructure:"max_points"` // injection points per probe
	Categories    []string          `mapstructure:"categories"` // empty means all
	Verbose       bool              `mapstructure:"verbose"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	BurstSize         int           `mapstructure:"burst_size"`
	MinDelay          time.Duration `mapstructure:"min_delay"`
}

type TelemetryConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	ServiceName  string  `mapstructure:"service_name"`
	ExporterType string  `mapstructure:"exporter_type"`
	Endpoint     string  `mapstructure:"endpoint"`
	SampleRate   float64 `mapstructure:"sample_rate"`
}

type ReportConfig struct {
	Output string `mapstructure:"output"`
	Format string `mapstructure:"format"` // json, html, pdf
}

// ConfigError reports an invalid configuration value. It is always
// surfaced before any network activity.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Reason)
}

var supportedProxySchemes = map[string]bool{
	"http":    true,
	"https":   true,
	"socks5":  true,
	"socks5h": true,
}

var supportedFormats = map[string]bool{
	"json": true,
	"html": true,
	"pdf":  true,
}

// Validate checks every option the scanner relies on and returns the first
// problem as a *ConfigError.
func (c *Config) Validate() error {
	if c.Scan.Threads < 1 {
		return &ConfigError{Field: "scan.threads", Reason: fmt.Sprintf("must be at least 1, got %d", c.Scan.Threads)}
	}
	if c.Scan.Threads > 100 {
		return &ConfigError{Field: "scan.threads", Reason: fmt.Sprintf("must be at most 100, got %d", c.Scan.Threads)}
	}
	if c.Scan.Timeout <= 0 {
		return &ConfigError{Field: "scan.timeout", Reason: "must be positive"}
	}
	if c.Scan.MinConfidence < 0 || c.Scan.MinConfidence > 100 {
		return &ConfigError{Field: "scan.min_confidence", Reason: fmt.Sprintf("must be within 0..100, got %d", c.Scan.MinConfidence)}
	}
	if c.Scan.MaxPages < 0 {
		return &ConfigError{Field: "scan.max_pages", Reason: "must not be negative"}
	}
	if c.Scan.MaxDepth < 0 {
		return &ConfigError{Field: "scan.max_depth", Reason: "must not be negative"}
	}
	if c.Scan.MaxPoints < 0 {
		return &ConfigError{Field: "scan.max_points", Reason: "must not be negative"}
	}
	for _, cat := range c.Scan.Categories {
		if _, err := types.ParseCategory(cat); err != nil {
			return &ConfigError{Field: "scan.categories", Reason: err.Error()}
		}
	}
	for scheme, raw := range c.Scan.Proxy {
		if scheme != "http" && scheme != "https" {
			return &ConfigError{Field: "scan.proxy", Reason: fmt.Sprintf("unknown target scheme %q (want http or https)", scheme)}
		}
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			return &ConfigError{Field: "scan.proxy", Reason: fmt.Sprintf("malformed proxy URL %q", raw)}
		}
		if !supportedProxySchemes[strings.ToLower(u.Scheme)] {
			return &ConfigError{Field: "scan.proxy", Reason: fmt.Sprintf("unsupported proxy scheme %q", u.Scheme)}
		}
	}
	if c.RateLimit.RequestsPerSecond < 0 {
		return &ConfigError{Field: "rate_limit.requests_per_second", Reason: "must not be negative"}
	}
	if c.RateLimit.RequestsPerSecond > 0 && c.RateLimit.BurstSize < 1 {
		return &ConfigError{Field: "rate_limit.burst_size", Reason: "must be at least 1 when a rate is set"}
	}
	if c.Report.Format != "" && !supportedFormats[strings.ToLower(c.Report.Format)] {
		return &ConfigError{Field: "report.format", Reason: fmt.Sprintf("unsupported format %q (json, html, pdf)", c.Report.Format)}
	}
	return nil
}

// DefaultConfig mirrors the viper defaults registered in cmd/root.go.
func DefaultConfig() *Config {
	return &Config{
		Logger: LoggerConfig{
			Level:       "info",
			Format:      "console",
			OutputPaths: []string{"stderr"},
		},
		Scan: ScanConfig{
			Threads:       5,
			Timeout:       10 * time.Second,
			MinConfidence: 50,
			Proxy:         map[string]string{},
			UserAgent:     "DhaScan/2.0 (Security Scanner)",
			MaxPages:      20,
			MaxDepth:      2,
			MaxBodyBytes:  2 << 20,
			MaxPoints:     25,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 20,
			BurstSize:         10,
			MinDelay:          0,
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			ServiceName:  "dhascan",
			ExporterType: "otlp",
			Endpoint:     "localhost:4318",
			SampleRate:   1.0,
		},
		Report: ReportConfig{
			Format: "json",
		},
	}
}
