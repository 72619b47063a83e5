package order

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/Additional-Code/bono/internal/lifecycle"
	"github.com/Additional-Code/bono/internal/realtime"
)

type metrics struct {
	checkouts       metric.Int64Counter
	transitions     metric.Int64Counter
	bonoAllocations metric.Int64Counter
	publishFailures metric.Int64Counter
}

func newMetrics(logger *zap.Logger) *metrics {
	m, err := buildMetrics(otel.Meter("github.com/Additional-Code/bono/service/order"))
	if err != nil {
		logger.Warn("order metrics disabled", zap.Error(err))
		m, _ = buildMetrics(noop.NewMeterProvider().Meter(""))
	}
	return m
}

func buildMetrics(meter metric.Meter) (*metrics, error) {
	checkouts, err := meter.Int64Counter("bono.orders.checkouts",
		metric.WithDescription("Batches created at checkout"))
	if err != nil {
		return nil, err
	}
	transitions, err := meter.Int64Counter("bono.orders.transitions",
		metric.WithDescription("Committed batch status transitions"))
	if err != nil {
		return nil, err
	}
	allocations, err := meter.Int64Counter("bono.orders.bono_allocations",
		metric.WithDescription("Pickup numbers handed out"))
	if err != nil {
		return nil, err
	}
	failures, err := meter.Int64Counter("bono.realtime.publish_failures",
		metric.WithDescription("Realtime publishes that failed after commit"))
	if err != nil {
		return nil, err
	}
	return &metrics{
		checkouts:       checkouts,
		transitions:     transitions,
		bonoAllocations: allocations,
		publishFailures: failures,
	}, nil
}

func (m *metrics) checkout(ctx context.Context) {
	m.checkouts.Add(ctx, 1)
}

func (m *metrics) transition(ctx context.Context, from, to lifecycle.Status) {
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
	))
}

func (m *metrics) bonoAllocated(ctx context.Context) {
	m.bonoAllocations.Add(ctx, 1)
}

func (m *metrics) publishFailure(ctx context.Context, kind realtime.Kind) {
	m.publishFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(kind))))
}
