package realtime

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/bono/internal/cache"
	"github.com/Additional-Code/bono/internal/config"
)

// Module provides the configured Transport and the Fanout built on it.
var Module = fx.Options(
	fx.Provide(NewTransport),
	fx.Provide(NewFanout),
)

// NewTransport selects the memory hub or redis pub/sub.
func NewTransport(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (Transport, error) {
	logger = logger.Named("realtime")

	switch cfg.Realtime.Driver {
	case "memory":
		hub := NewHub(cfg.Realtime.Buffer, logger)
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				hub.Close()
				return nil
			},
		})
		logger.Info("realtime using in-process hub", zap.Int("buffer", cfg.Realtime.Buffer))
		return hub, nil
	case "redis":
		client := cache.NewRedisClient(cfg.Cache.Redis)
		transport := NewRedis(client, logger)
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				if err := client.Ping(ctx).Err(); err != nil {
					return fmt.Errorf("ping realtime redis: %w", err)
				}
				logger.Info("realtime using redis pub/sub", zap.String("addr", cfg.Cache.Redis.Addr))
				return nil
			},
			OnStop: func(context.Context) error {
				return transport.Close()
			},
		})
		return transport, nil
	default:
		return nil, fmt.Errorf("unsupported realtime driver: %s", cfg.Realtime.Driver)
	}
}
