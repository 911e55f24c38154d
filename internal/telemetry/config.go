package telemetry

import (
	"fmt"
	"strings"
	"time"

	"github.com/while-basic/celaya-parachain-sub000/internal/config"
)

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool
	Endpoint       string
	Protocol       string // "grpc" (default) or "http/protobuf"
	ServiceName    string
	ServiceVersion string
	Insecure       bool // no TLS
	TLSSkipVerify  bool
	Sampling       SamplingConfig
	Metrics        MetricsConfig
	Shutdown       ShutdownConfig
}

// SamplingConfig controls trace sampling behavior.
type SamplingConfig struct {
	Rate float64 // 0.0-1.0
}

// MetricsConfig controls metrics export.
type MetricsConfig struct {
	Enabled        bool
	ExportInterval config.Duration
}

// ShutdownConfig controls graceful shutdown behavior.
type ShutdownConfig struct {
	Timeout config.Duration
}

// NewDefaultConfig returns telemetry defaults. Export is off until a
// collector is configured.
func NewDefaultConfig() *Config {
	return &Config{
		Enabled:        false,
		Endpoint:       "localhost:4317",
		Protocol:       "grpc",
		ServiceName:    "cognitiond",
		ServiceVersion: "0.1.0",
		Insecure:       true,
		Sampling: SamplingConfig{
			Rate: 1.0,
		},
		Metrics: MetricsConfig{
			Enabled:        true,
			ExportInterval: config.Duration(15 * time.Second),
		},
		Shutdown: ShutdownConfig{
			Timeout: config.Duration(5 * time.Second),
		},
	}
}

// FromConfig builds telemetry settings from the application config section.
// Unset values keep their defaults.
func FromConfig(tc config.TelemetryConfig, version string) *Config {
	c := NewDefaultConfig()
	c.Enabled = tc.Enabled
	if tc.Endpoint != "" {
		c.Endpoint = tc.Endpoint
	}
	if tc.Protocol != "" {
		c.Protocol = tc.Protocol
	}
	c.Insecure = tc.Insecure
	c.Sampling.Rate = tc.SampleRate
	if tc.ExportInterval > 0 {
		c.Metrics.ExportInterval = tc.ExportInterval
	}
	if version != "" {
		c.ServiceVersion = version
	}
	return c
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required when telemetry is enabled")
	}
	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required when telemetry is enabled")
	}
	if c.ServiceVersion == "" {
		return fmt.Errorf("service_version is required when telemetry is enabled")
	}
	switch c.Protocol {
	case "", "grpc", "http/protobuf":
	default:
		return fmt.Errorf("protocol must be grpc or http/protobuf, got %q", c.Protocol)
	}

	// Plaintext export is only allowed to this host.
	if c.Insecure && !c.isLocalEndpoint() {
		return fmt.Errorf("insecure connections to remote endpoints are not allowed; set insecure=false for TLS or use a local endpoint (localhost/127.0.0.1)")
	}

	if c.Sampling.Rate < 0 || c.Sampling.Rate > 1 {
		return fmt.Errorf("sampling.rate must be between 0 and 1, got %f", c.Sampling.Rate)
	}
	if c.Metrics.Enabled && c.Metrics.ExportInterval.Duration() <= 0 {
		return fmt.Errorf("metrics.export_interval must be positive when metrics enabled")
	}
	if c.Shutdown.Timeout.Duration() <= 0 {
		return fmt.Errorf("shutdown.timeout must be positive")
	}
	return nil
}

// isLocalEndpoint checks if the endpoint is a local address.
func (c *Config) isLocalEndpoint() bool {
	host := stripScheme(c.Endpoint)

	if strings.HasPrefix(host, "[") {
		// [::1]:4317 or [::1]
		if idx := strings.Index(host, "]:"); idx != -1 {
			host = host[1:idx]
		} else if strings.HasSuffix(host, "]") {
			host = host[1 : len(host)-1]
		}
	} else if strings.Count(host, ":") == 1 {
		host = host[:strings.LastIndex(host, ":")]
	}

	return host == "localhost" ||
		host == "::1" ||
		strings.HasPrefix(host, "127.") ||
		strings.HasPrefix(host, "::1")
}
