package config

import (
	"fmt"
	"time"
)

// Config is the complete researchd configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	NATS      NATSConfig      `koanf:"nats"`
	Store     StoreConfig     `koanf:"store"`
	Workflow  WorkflowConfig  `koanf:"workflow"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Log       LogConfig       `koanf:"log"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// NATSConfig configures the connection to the NATS server that carries both
// the state store bucket and the worker subjects.
type NATSConfig struct {
	URL           string        `koanf:"url"`
	MaxReconnects int           `koanf:"max_reconnects"`
	ReconnectWait time.Duration `koanf:"reconnect_wait"`

	// Embedded starts an in-process NATS server instead of connecting to
	// an external one. Development and single-node use only.
	Embedded bool `koanf:"embedded"`
}

// StoreConfig configures the task record store.
type StoreConfig struct {
	Bucket string `koanf:"bucket"`
}

// WorkflowConfig configures workflow policy and worker invocation.
type WorkflowConfig struct {
	QualityThreshold     float64       `koanf:"quality_threshold"`
	FindingsCap          int           `koanf:"findings_cap"`
	DefaultMaxIterations int           `koanf:"default_max_iterations"`
	MaxIterationsLimit   int           `koanf:"max_iterations_limit"`
	WorkerTimeout        time.Duration `koanf:"worker_timeout"`

	// WorkerRateLimit caps worker invocations per second across all tasks;
	// zero disables the limiter.
	WorkerRateLimit float64 `koanf:"worker_rate_limit"`
	WorkerBurst     int     `koanf:"worker_burst"`

	Retry RetryConfig `koanf:"retry"`
}

// RetryConfig configures retries of transient worker failures.
// MaxRetries zero (the default) disables retries.
type RetryConfig struct {
	MaxRetries     int           `koanf:"max_retries"`
	InitialBackoff time.Duration `koanf:"initial_backoff"`
	MaxBackoff     time.Duration `koanf:"max_backoff"`
	Multiplier     float64       `koanf:"multiplier"`
}

// TelemetryConfig configures the OpenTelemetry metric pipeline. Metrics are
// always exposed on /metrics; setting Endpoint additionally pushes them to an
// OTLP collector.
type TelemetryConfig struct {
	Endpoint string `koanf:"endpoint"`

	// Protocol is grpc or http/protobuf.
	Protocol string `koanf:"protocol"`

	Insecure       bool          `koanf:"insecure"`
	ExportInterval time.Duration `koanf:"export_interval"`
}

// LogConfig configures logging output.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `koanf:"level"`

	// Format is json or console.
	Format string `koanf:"format"`
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8006
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://localhost:4222"
	}
	if cfg.NATS.MaxReconnects == 0 {
		cfg.NATS.MaxReconnects = 5
	}
	if cfg.NATS.ReconnectWait == 0 {
		cfg.NATS.ReconnectWait = time.Second
	}

	if cfg.Store.Bucket == "" {
		cfg.Store.Bucket = "research_tasks"
	}

	if cfg.Workflow.QualityThreshold == 0 {
		cfg.Workflow.QualityThreshold = 0.8
	}
	if cfg.Workflow.FindingsCap == 0 {
		cfg.Workflow.FindingsCap = 10
	}
	if cfg.Workflow.DefaultMaxIterations == 0 {
		cfg.Workflow.DefaultMaxIterations = 2
	}
	if cfg.Workflow.MaxIterationsLimit == 0 {
		cfg.Workflow.MaxIterationsLimit = 5
	}
	if cfg.Workflow.WorkerTimeout == 0 {
		cfg.Workflow.WorkerTimeout = 120 * time.Second
	}

	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.ExportInterval == 0 {
		cfg.Telemetry.ExportInterval = 30 * time.Second
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.NATS.URL == "" && !c.NATS.Embedded {
		return fmt.Errorf("nats.url is required unless nats.embedded is set")
	}
	if c.Workflow.QualityThreshold < 0 || c.Workflow.QualityThreshold > 1 {
		return fmt.Errorf("workflow.quality_threshold must be in [0,1]: %v", c.Workflow.QualityThreshold)
	}
	if c.Workflow.FindingsCap < 1 {
		return fmt.Errorf("workflow.findings_cap must be positive: %d", c.Workflow.FindingsCap)
	}
	if c.Workflow.MaxIterationsLimit < 1 {
		return fmt.Errorf("workflow.max_iterations_limit must be positive: %d", c.Workflow.MaxIterationsLimit)
	}
	if c.Workflow.DefaultMaxIterations > c.Workflow.MaxIterationsLimit {
		return fmt.Errorf("workflow.default_max_iterations %d exceeds limit %d",
			c.Workflow.DefaultMaxIterations, c.Workflow.MaxIterationsLimit)
	}
	if c.Workflow.WorkerTimeout <= 0 {
		return fmt.Errorf("workflow.worker_timeout must be positive: %v", c.Workflow.WorkerTimeout)
	}
	if c.Workflow.Retry.MaxRetries < 0 {
		return fmt.Errorf("workflow.retry.max_retries cannot be negative: %d", c.Workflow.Retry.MaxRetries)
	}

	switch c.Telemetry.Protocol {
	case "grpc", "http/protobuf":
	default:
		return fmt.Errorf("telemetry.protocol must be grpc or http/protobuf: %q", c.Telemetry.Protocol)
	}
	if c.Telemetry.ExportInterval <= 0 {
		return fmt.Errorf("telemetry.export_interval must be positive: %v", c.Telemetry.ExportInterval)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error: %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console: %q", c.Log.Format)
	}

	return nil
}
