package telemetry

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/fyrsmithlabs/researchd/internal/config"
)

func TestInit_PrometheusOnly(t *testing.T) {
	reg := prometheus.NewRegistry()

	tel, err := Init(context.Background(), config.TelemetryConfig{}, "test", reg)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, tel.Shutdown(context.Background()))
	}()

	// Instruments created through the global provider must land in the
	// registry.
	meter := otel.Meter("telemetry-test")
	counter, err := meter.Int64Counter("telemetry.test.counter")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)

	families, err := reg.Gather()
	require.NoError(t, err)

	found := false
	for _, mf := range families {
		if strings.Contains(mf.GetName(), "telemetry_test_counter") {
			found = true
		}
	}
	assert.True(t, found, "counter not exported to prometheus registry")
}

func TestShutdown_Nil(t *testing.T) {
	var tel *Telemetry
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestStripScheme(t *testing.T) {
	assert.Equal(t, "collector:4318", stripScheme("https://collector:4318"))
	assert.Equal(t, "collector:4318", stripScheme("http://collector:4318"))
	assert.Equal(t, "collector:4318", stripScheme("collector:4318"))
}
