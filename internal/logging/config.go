// internal/logging/config.go
package logging

import (
	"fmt"
	"time"

	"github.com/while-basic/celaya-parachain-sub000/internal/config"
	"go.uber.org/zap/zapcore"
)

// Config holds logging configuration.
type Config struct {
	Level    zapcore.Level     `koanf:"level"`
	Format   string            `koanf:"format"`
	Output   OutputConfig      `koanf:"output"`
	Sampling SamplingConfig    `koanf:"sampling"`
	Caller   bool              `koanf:"caller"`
	Fields   map[string]string `koanf:"fields"`
}

// OutputConfig controls where logs are written.
type OutputConfig struct {
	Stdout bool `koanf:"stdout"`
	// Stderr replaces stdout when stdout carries a protocol, as in MCP stdio mode.
	Stderr bool `koanf:"stderr"`
	OTEL   bool `koanf:"otel"`
}

// SamplingConfig controls log volume reduction below Warn.
type SamplingConfig struct {
	Enabled    bool            `koanf:"enabled"`
	Tick       config.Duration `koanf:"tick"`
	Initial    int             `koanf:"initial"`
	Thereafter int             `koanf:"thereafter"`
}

// NewDefaultConfig returns config with production-ready defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Level:  zapcore.InfoLevel,
		Format: "json",
		Output: OutputConfig{
			Stdout: true,
		},
		Sampling: SamplingConfig{
			Enabled:    true,
			Tick:       config.Duration(time.Second),
			Initial:    100,
			Thereafter: 10,
		},
		Caller: true,
		Fields: map[string]string{
			"service": "cognitiond",
		},
	}
}

// FromAppConfig builds a logging Config from the file/env view.
func FromAppConfig(c config.LoggingConfig) (*Config, error) {
	cfg := NewDefaultConfig()
	if c.Level != "" {
		lvl, err := LevelFromString(c.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", c.Level, err)
		}
		cfg.Level = lvl
	}
	if c.Format != "" {
		cfg.Format = c.Format
	}
	return cfg, cfg.Validate()
}

// Validate checks config for errors.
func (c *Config) Validate() error {
	if c.Format != "json" && c.Format != "console" {
		return fmt.Errorf("format must be 'json' or 'console', got %q", c.Format)
	}
	if !c.Output.Stdout && !c.Output.Stderr && !c.Output.OTEL {
		return fmt.Errorf("at least one output must be enabled (stdout, stderr or otel)")
	}
	if c.Sampling.Enabled && c.Sampling.Tick.Duration() <= 0 {
		return fmt.Errorf("sampling tick must be > 0 when sampling enabled")
	}
	for k, v := range c.Fields {
		if k == "" {
			return fmt.Errorf("field key cannot be empty")
		}
		if v == "" {
			return fmt.Errorf("field %q has empty value", k)
		}
	}
	return nil
}
