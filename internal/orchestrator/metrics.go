package orchestrator

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/while-basic/celaya-parachain-sub000/internal/execution"
)

const instrumentationName = "github.com/while-basic/celaya-parachain-sub000/internal/orchestrator"

// Metrics holds orchestrator instruments.
type Metrics struct {
	meter       metric.Meter
	logger      *zap.Logger
	started     metric.Int64Counter
	terminal    metric.Int64Counter
	phases      metric.Float64Histogram
	invocations metric.Int64Counter
	active      metric.Int64UpDownCounter
}

// NewMetrics creates instruments on the global meter provider.
func NewMetrics(logger *zap.Logger) *Metrics {
	return NewMetricsWithMeter(otel.Meter(instrumentationName), logger)
}

// NewMetricsWithMeter creates instruments on meter.
func NewMetricsWithMeter(meter metric.Meter, logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Metrics{
		meter:  meter,
		logger: logger,
	}
	m.init()
	return m
}

func (m *Metrics) init() {
	var err error

	m.started, err = m.meter.Int64Counter(
		"cognition.executions.started.total",
		metric.WithDescription("Executions moved to running"),
		metric.WithUnit("{execution}"),
	)
	if err != nil {
		m.logger.Warn("failed to create started counter", zap.Error(err))
	}

	m.terminal, err = m.meter.Int64Counter(
		"cognition.executions.terminal.total",
		metric.WithDescription("Executions reaching a terminal state, by status and reason"),
		metric.WithUnit("{execution}"),
	)
	if err != nil {
		m.logger.Warn("failed to create terminal counter", zap.Error(err))
	}

	m.phases, err = m.meter.Float64Histogram(
		"cognition.phase.duration",
		metric.WithDescription("Wall time of one phase"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300),
	)
	if err != nil {
		m.logger.Warn("failed to create phase duration histogram", zap.Error(err))
	}

	m.invocations, err = m.meter.Int64Counter(
		"cognition.agent.invocations.total",
		metric.WithDescription("Agent invocations by outcome"),
		metric.WithUnit("{invocation}"),
	)
	if err != nil {
		m.logger.Warn("failed to create invocations counter", zap.Error(err))
	}

	m.active, err = m.meter.Int64UpDownCounter(
		"cognition.executions.active",
		metric.WithDescription("Executions currently running"),
		metric.WithUnit("{execution}"),
	)
	if err != nil {
		m.logger.Warn("failed to create active gauge", zap.Error(err))
	}
}

// ExecutionStarted counts a run and marks it active.
func (m *Metrics) ExecutionStarted(ctx context.Context, definitionID string) {
	attrs := metric.WithAttributes(attribute.String("definition_id", definitionID))
	if m.started != nil {
		m.started.Add(ctx, 1, attrs)
	}
	if m.active != nil {
		m.active.Add(ctx, 1)
	}
}

// ExecutionEnded counts the terminal state. wasActive undoes ExecutionStarted.
func (m *Metrics) ExecutionEnded(ctx context.Context, status execution.Status, reason execution.Reason, wasActive bool) {
	if m.terminal != nil {
		m.terminal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("status", string(status)),
			attribute.String("reason", string(reason)),
		))
	}
	if wasActive && m.active != nil {
		m.active.Add(ctx, -1)
	}
}

// PhaseFinished records a phase duration.
func (m *Metrics) PhaseFinished(ctx context.Context, status execution.PhaseStatus, d time.Duration) {
	if m.phases != nil {
		m.phases.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("status", string(status))))
	}
}

// Invocation counts one agent call. outcome is ok, error, timeout or panic.
func (m *Metrics) Invocation(ctx context.Context, outcome string) {
	if m.invocations != nil {
		m.invocations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}
