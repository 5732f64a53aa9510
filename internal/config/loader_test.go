package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8006, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)

	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.Equal(t, 5, cfg.NATS.MaxReconnects)
	assert.False(t, cfg.NATS.Embedded)

	assert.Equal(t, "research_tasks", cfg.Store.Bucket)

	assert.Equal(t, 0.8, cfg.Workflow.QualityThreshold)
	assert.Equal(t, 10, cfg.Workflow.FindingsCap)
	assert.Equal(t, 2, cfg.Workflow.DefaultMaxIterations)
	assert.Equal(t, 5, cfg.Workflow.MaxIterationsLimit)
	assert.Equal(t, 120*time.Second, cfg.Workflow.WorkerTimeout)
	assert.Equal(t, 0, cfg.Workflow.Retry.MaxRetries)

	assert.Equal(t, "", cfg.Telemetry.Endpoint)
	assert.Equal(t, "grpc", cfg.Telemetry.Protocol)
	assert.Equal(t, 30*time.Second, cfg.Telemetry.ExportInterval)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8006, cfg.Server.Port)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: 9100
  shutdown_timeout: 5s
nats:
  url: nats://nats.internal:4222
  embedded: true
store:
  bucket: custom_tasks
workflow:
  quality_threshold: 0.9
  default_max_iterations: 3
  worker_timeout: 30s
  retry:
    max_retries: 2
    initial_backoff: 500ms
log:
  level: debug
  format: console
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "nats://nats.internal:4222", cfg.NATS.URL)
	assert.True(t, cfg.NATS.Embedded)
	assert.Equal(t, "custom_tasks", cfg.Store.Bucket)
	assert.Equal(t, 0.9, cfg.Workflow.QualityThreshold)
	assert.Equal(t, 3, cfg.Workflow.DefaultMaxIterations)
	assert.Equal(t, 30*time.Second, cfg.Workflow.WorkerTimeout)
	assert.Equal(t, 2, cfg.Workflow.Retry.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.Workflow.Retry.InitialBackoff)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)

	// Untouched sections keep their defaults.
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 10, cfg.Workflow.FindingsCap)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: 9100
workflow:
  quality_threshold: 0.9
`)

	t.Setenv("RESEARCHD_SERVER_PORT", "9200")
	t.Setenv("RESEARCHD_WORKFLOW_QUALITY_THRESHOLD", "0.75")
	t.Setenv("RESEARCHD_NATS_URL", "nats://override:4222")
	t.Setenv("RESEARCHD_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9200, cfg.Server.Port)
	assert.Equal(t, 0.75, cfg.Workflow.QualityThreshold)
	assert.Equal(t, "nats://override:4222", cfg.NATS.URL)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := writeConfigFile(t, "server: [not a mapping")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"port out of range", "server:\n  port: 70000\n"},
		{"quality threshold above one", "workflow:\n  quality_threshold: 1.5\n"},
		{"findings cap negative", "workflow:\n  findings_cap: -1\n"},
		{"default iterations above limit", "workflow:\n  default_max_iterations: 9\n  max_iterations_limit: 5\n"},
		{"negative retries", "workflow:\n  retry:\n    max_retries: -1\n"},
		{"bad telemetry protocol", "telemetry:\n  protocol: udp\n"},
		{"bad log level", "log:\n  level: verbose\n"},
		{"bad log format", "log:\n  format: xml\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfigFile(t, tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestValidate_WorkerTimeout(t *testing.T) {
	var cfg Config
	applyDefaults(&cfg)
	cfg.Workflow.WorkerTimeout = -time.Second

	assert.Error(t, cfg.Validate())
}
