package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis is a Transport over redis pub/sub, letting several API instances share
// the kitchen and customer channels.
type Redis struct {
	client *goredis.Client
	logger *zap.Logger
}

// NewRedis wraps an existing client.
func NewRedis(client *goredis.Client, logger *zap.Logger) *Redis {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{client: client, logger: logger}
}

func (r *Redis) Publish(ctx context.Context, channel string, kind Kind, payload any) error {
	ev, err := newEvent(channel, kind, payload)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := r.client.Publish(ctx, channel, raw).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}
	return nil
}

func (r *Redis) Subscribe(ctx context.Context, channel string, kind Kind, handler Handler) (Unsubscribe, error) {
	ps := r.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("%w: subscribe %s: %v", ErrTransportUnavailable, channel, err)
	}

	var once sync.Once
	done := make(chan struct{})
	unsubscribe := func() {
		once.Do(func() {
			close(done)
			_ = ps.Close()
		})
	}

	messages := ps.Channel()
	go func() {
		for msg := range messages {
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				r.logger.Warn("realtime: undecodable message", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			if matches(kind, ev.Kind) {
				handler(ev)
			}
		}
	}()
	go func() {
		select {
		case <-ctx.Done():
			unsubscribe()
		case <-done:
		}
	}()

	return unsubscribe, nil
}

// Close releases the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}
