package sealer

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/while-basic/celaya-parachain-sub000/internal/sealer"

// Metrics holds sealing instruments.
type Metrics struct {
	attempts metric.Int64Counter
	duration metric.Float64Histogram
}

// NewMetrics creates instruments on the global meter provider.
func NewMetrics(logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	meter := otel.Meter(instrumentationName)
	m := &Metrics{}

	var err error
	m.attempts, err = meter.Int64Counter(
		"cognition.seal.attempts.total",
		metric.WithDescription("Sealing step attempts by step and outcome"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		logger.Warn("failed to create seal attempts counter", zap.Error(err))
	}

	m.duration, err = meter.Float64Histogram(
		"cognition.seal.duration",
		metric.WithDescription("Wall time of one Seal call including retries"),
		metric.WithUnit("s"),
	)
	if err != nil {
		logger.Warn("failed to create seal duration histogram", zap.Error(err))
	}
	return m
}

func (m *Metrics) attempt(ctx context.Context, step Step, outcome string) {
	if m == nil || m.attempts == nil {
		return
	}
	m.attempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("step", string(step)),
		attribute.String("outcome", outcome),
	))
}

func (m *Metrics) sealed(ctx context.Context, d time.Duration, sealed bool) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.Bool("sealed", sealed)))
}
