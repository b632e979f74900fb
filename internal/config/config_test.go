package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerConfig(t *testing.T) {
	config := LoggerConfig{
		Level:       "debug",
		Format:      "json",
		OutputPaths: []string{"stdout", "stderr"},
	}

	assert.Equal(t, "debug", config.Level)
	assert.Equal(t, "json", config.Format)
	assert.Contains(t, config.OutputPaths, "stdout")
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 5, cfg.Scan.Threads)
	assert.Equal(t, 10*time.Second, cfg.Scan.Timeout)
	assert.Equal(t, 50, cfg.Scan.MinConfidence)
	assert.Equal(t, "json", cfg.Report.Format)
	assert.False(t, cfg.Telemetry.Enabled)
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{name: "zero threads", mutate: func(c *Config) { c.Scan.Threads = 0 }, field: "scan.threads"},
		{name: "too many threads", mutate: func(c *Config) { c.Scan.Threads = 500 }, field: "scan.threads"},
		{name: "zero timeout", mutate: func(c *Config) { c.Scan.Timeout = 0 }, field: "scan.timeout"},
		{name: "confidence above range", mutate: func(c *Config) { c.Scan.MinConfidence = 101 }, field: "scan.min_confidence"},
		{name: "negative confidence", mutate: func(c *Config) { c.Scan.MinConfidence = -1 }, field: "scan.min_confidence"},
		{name: "negative pages", mutate: func(c *Config) { c.Scan.MaxPages = -3 }, field: "scan.max_pages"},
		{name: "negative points", mutate: func(c *Config) { c.Scan.MaxPoints = -1 }, field: "scan.max_points"},
		{name: "unknown category", mutate: func(c *Config) { c.Scan.Categories = []string{"xss", "rce"} }, field: "scan.categories"},
		{name: "unknown proxy key", mutate: func(c *Config) { c.Scan.Proxy = map[string]string{"ftp": "http://p:8080"} }, field: "scan.proxy"},
		{name: "unsupported proxy scheme", mutate: func(c *Config) { c.Scan.Proxy = map[string]string{"http": "gopher://p:70"} }, field: "scan.proxy"},
		{name: "proxy without host", mutate: func(c *Config) { c.Scan.Proxy = map[string]string{"https": "socks5://"} }, field: "scan.proxy"},
		{name: "rate without burst", mutate: func(c *Config) { c.RateLimit.BurstSize = 0 }, field: "rate_limit.burst_size"},
		{name: "bad format", mutate: func(c *Config) { c.Report.Format = "xml" }, field: "report.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)

			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tt.field, cfgErr.Field)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestValidate_AcceptsProxyMap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Scan.Proxy = map[string]string{
		"http":  "http://127.0.0.1:8080",
		"https": "socks5://127.0.0.1:1080",
	}

	assert.NoError(t, cfg.Validate())
}
