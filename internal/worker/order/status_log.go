package order

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/bono/internal/config"
	"github.com/Additional-Code/bono/internal/entity"
	"github.com/Additional-Code/bono/internal/messaging"
	repo "github.com/Additional-Code/bono/internal/repository/order"
	ordersvc "github.com/Additional-Code/bono/internal/service/order"
	"github.com/Additional-Code/bono/internal/worker"
)

var workerTracer = otel.Tracer("github.com/Additional-Code/bono/worker/order")

// Module registers order-related worker handlers.
var Module = fx.Module("worker_order",
	fx.Provide(
		fx.Annotate(
			NewStatusLogHandler,
			fx.ResultTags(`group:"worker.handlers"`),
		),
	),
)

// StatusLog appends batch history rows.
type StatusLog interface {
	AppendStatusLog(ctx context.Context, entry *entity.BatchStatusLog) error
}

// NewStatusLogHandler records every lifecycle event in batch_status_log.
func NewStatusLogHandler(store *repo.Repository, logger *zap.Logger, cfg config.Config) worker.HandlerRegistration {
	return worker.HandlerRegistration{
		Topic:   cfg.Messaging.Kafka.Topic,
		Handler: statusLogHandler(store, logger.Named("worker.orders")),
	}
}

func statusLogHandler(store StatusLog, logger *zap.Logger) messaging.Handler {
	return func(ctx context.Context, msg messaging.Message) error {
		ctx, span := workerTracer.Start(ctx, "worker.orders.status_log", trace.WithAttributes(
			attribute.String("messaging.topic", msg.Topic),
			attribute.Int64("messaging.offset", msg.Offset),
		))
		defer span.End()

		var event ordersvc.BatchEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			// Poison messages are logged and acknowledged.
			logger.Error("failed to decode batch event", zap.Error(err), zap.Int64("offset", msg.Offset))
			span.RecordError(err)
			span.SetStatus(codes.Error, "decode error")
			return nil
		}
		if event.BatchID == "" || !event.To.IsValid() {
			logger.Warn("skipping malformed batch event", zap.String("batch_id", event.BatchID), zap.String("to", string(event.To)))
			return nil
		}

		entry := &entity.BatchStatusLog{
			BatchID:    event.BatchID,
			FromStatus: event.From,
			ToStatus:   event.To,
			ActorID:    event.ActorID,
			ActorRole:  event.ActorRole,
			BonoNumber: event.BonoNumber,
			OccurredAt: event.OccurredAt,
		}
		if err := store.AppendStatusLog(ctx, entry); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "append failed")
			return fmt.Errorf("append status log for %s: %w", event.BatchID, err)
		}

		logger.Info("batch event recorded",
			zap.String("batch_id", event.BatchID),
			zap.String("type", event.Type),
			zap.String("to", string(event.To)),
		)
		return nil
	}
}
