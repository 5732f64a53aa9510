package coordinator

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/fyrsmithlabs/researchd/internal/coordinator"

// Metrics for workflow execution
var (
	workflowsStarted  metric.Int64Counter
	workflowsFinished metric.Int64Counter
	workflowDuration  metric.Float64Histogram
	workerInvocations metric.Int64Counter
	workerDuration    metric.Float64Histogram
)

// initMetrics initializes OpenTelemetry metrics for the coordinator.
// This is called once during package initialization.
func initMetrics() {
	meter := otel.Meter(instrumentationName)

	var err error

	workflowsStarted, err = meter.Int64Counter(
		"researchd.workflows.started",
		metric.WithDescription("Total number of research workflows started"),
		metric.WithUnit("{workflow}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create workflows started counter: %v", err))
	}

	workflowsFinished, err = meter.Int64Counter(
		"researchd.workflows.finished",
		metric.WithDescription("Total number of research workflows finished, labeled by terminal status"),
		metric.WithUnit("{workflow}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create workflows finished counter: %v", err))
	}

	workflowDuration, err = meter.Float64Histogram(
		"researchd.workflows.duration",
		metric.WithDescription("End-to-end duration of research workflows"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create workflow duration histogram: %v", err))
	}

	workerInvocations, err = meter.Int64Counter(
		"researchd.workers.invocations",
		metric.WithDescription("Total worker invocations, labeled by worker and result"),
		metric.WithUnit("{invocation}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create worker invocation counter: %v", err))
	}

	workerDuration, err = meter.Float64Histogram(
		"researchd.workers.duration",
		metric.WithDescription("Duration of worker invocations, labeled by worker"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create worker duration histogram: %v", err))
	}
}

func init() {
	initMetrics()
}
