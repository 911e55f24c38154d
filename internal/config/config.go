// Package config provides configuration loading for cognitiond.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete cognitiond configuration.
//
// Sections mirror the top-level keys of config.yaml. Every field can be
// overridden from the environment with the COGNITIOND_ prefix, for example
// COGNITIOND_SERVER_PORT or COGNITIOND_SEALING_MAX_ATTEMPTS.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Engine    EngineConfig    `koanf:"engine"`
	Stream    StreamConfig    `koanf:"stream"`
	Sealing   SealingConfig   `koanf:"sealing"`
	Agents    AgentsConfig    `koanf:"agents"`
	NATS      NATSConfig      `koanf:"nats"`
	Memory    MemoryConfig    `koanf:"memory"`
	Catalog   CatalogConfig   `koanf:"catalog"`
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// EngineConfig holds execution defaults applied when a definition leaves them unset.
type EngineConfig struct {
	DefaultTimeout          Duration `koanf:"default_timeout"`
	AgentTimeout            Duration `koanf:"agent_timeout"`
	MaxConcurrentExecutions int      `koanf:"max_concurrent_executions"`
	// RetainExecutions bounds how many finished executions stay queryable.
	// Reports outlive them. Zero keeps every execution.
	RetainExecutions int `koanf:"retain_executions"`
}

// StreamConfig holds event channel limits.
type StreamConfig struct {
	// MaxBuffered is the number of unconsumed events after which an
	// execution fails with consumer-backpressure.
	MaxBuffered int `koanf:"max_buffered"`
}

// SealingConfig holds report sealing retry and key settings.
type SealingConfig struct {
	MaxAttempts int      `koanf:"max_attempts"`
	Backoff     Duration `koanf:"backoff"`
	// KeyPath points at a hex-encoded ed25519 seed. Empty means an ephemeral key.
	KeyPath string `koanf:"key_path"`
}

// AgentsConfig selects and tunes the agent invocation backend.
type AgentsConfig struct {
	Backend       string  `koanf:"backend"` // static | ollama
	OllamaURL     string  `koanf:"ollama_url"`
	DefaultModel  string  `koanf:"default_model"`
	RatePerMinute float64 `koanf:"rate_per_minute"`
	Burst         int     `koanf:"burst"`
	Temperature   float64 `koanf:"temperature"`
}

// NATSConfig holds event bus, ledger and content store settings.
type NATSConfig struct {
	URL           string `koanf:"url"`
	Embedded      bool   `koanf:"embedded"`
	StoreDir      string `koanf:"store_dir"`
	SubjectPrefix string `koanf:"subject_prefix"`
	LedgerStream  string `koanf:"ledger_stream"`
	ContentBucket string `koanf:"content_bucket"`
}

// MemoryConfig holds insight memory settings.
type MemoryConfig struct {
	Enabled        bool   `koanf:"enabled"`
	Path           string `koanf:"path"` // empty keeps memory in-process only
	Embedding      string `koanf:"embedding"`
	EmbeddingModel string `koanf:"embedding_model"`
}

// CatalogConfig holds definition catalog settings.
type CatalogConfig struct {
	Dir   string `koanf:"dir"`
	Watch bool   `koanf:"watch"`
}

// LoggingConfig is the file/env view of logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig is the file/env view of OpenTelemetry settings.
type TelemetryConfig struct {
	Enabled        bool     `koanf:"enabled"`
	Endpoint       string   `koanf:"endpoint"`
	Protocol       string   `koanf:"protocol"`
	Insecure       bool     `koanf:"insecure"`
	SampleRate     float64  `koanf:"sample_rate"`
	ExportInterval Duration `koanf:"export_interval"`
}

// Default returns the configuration used when no file or env override is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            9190,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Engine: EngineConfig{
			DefaultTimeout:          Duration(10 * time.Minute),
			AgentTimeout:            Duration(60 * time.Second),
			MaxConcurrentExecutions: 16,
			RetainExecutions:        1000,
		},
		Stream: StreamConfig{
			MaxBuffered: 10000,
		},
		Sealing: SealingConfig{
			MaxAttempts: 3,
			Backoff:     Duration(500 * time.Millisecond),
		},
		Agents: AgentsConfig{
			Backend:       "static",
			OllamaURL:     "http://localhost:11434",
			DefaultModel:  "llama3.2",
			RatePerMinute: 60,
			Burst:         4,
			Temperature:   0.7,
		},
		NATS: NATSConfig{
			Embedded:      true,
			SubjectPrefix: "cognitions",
			LedgerStream:  "COGNITION_LEDGER",
			ContentBucket: "cognition-reports",
		},
		Memory: MemoryConfig{
			Enabled:        true,
			Embedding:      "hash",
			EmbeddingModel: "nomic-embed-text",
		},
		Catalog: CatalogConfig{
			Watch: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Endpoint:       "localhost:4317",
			Protocol:       "grpc",
			Insecure:       true,
			SampleRate:     1.0,
			ExportInterval: Duration(15 * time.Second),
		},
	}
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Engine.DefaultTimeout.Duration() <= 0 {
		errs = append(errs, errors.New("engine.default_timeout must be positive"))
	}
	if c.Engine.AgentTimeout.Duration() <= 0 {
		errs = append(errs, errors.New("engine.agent_timeout must be positive"))
	}
	if c.Engine.MaxConcurrentExecutions < 0 {
		errs = append(errs, errors.New("engine.max_concurrent_executions cannot be negative"))
	}
	if c.Engine.RetainExecutions < 0 {
		errs = append(errs, errors.New("engine.retain_executions cannot be negative"))
	}
	if c.Stream.MaxBuffered <= 0 {
		errs = append(errs, errors.New("stream.max_buffered must be positive"))
	}
	if c.Sealing.MaxAttempts < 1 {
		errs = append(errs, errors.New("sealing.max_attempts must be at least 1"))
	}
	switch c.Agents.Backend {
	case "static", "ollama":
	default:
		errs = append(errs, fmt.Errorf("agents.backend must be 'static' or 'ollama', got %q", c.Agents.Backend))
	}
	if c.Agents.RatePerMinute <= 0 {
		errs = append(errs, errors.New("agents.rate_per_minute must be positive"))
	}
	if !c.NATS.Embedded && c.NATS.URL == "" {
		errs = append(errs, errors.New("nats.url is required when nats.embedded is false"))
	}
	switch c.Memory.Embedding {
	case "hash", "ollama":
	default:
		errs = append(errs, fmt.Errorf("memory.embedding must be 'hash' or 'ollama', got %q", c.Memory.Embedding))
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		errs = append(errs, fmt.Errorf("logging.format must be 'json' or 'console', got %q", c.Logging.Format))
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("telemetry.sample_rate must be between 0 and 1, got %f", c.Telemetry.SampleRate))
	}

	return errors.Join(errs...)
}
