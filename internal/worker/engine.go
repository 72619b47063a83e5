package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/bono/internal/config"
	"github.com/Additional-Code/bono/internal/messaging"
)

const maxBackoff = 30 * time.Second

// HandlerRegistration binds a topic to a handler. Several handlers may share
// a topic; they run in registration order and the first error stops the chain.
type HandlerRegistration struct {
	Topic   string
	Handler messaging.Handler
}

// Params collects dependencies via Fx.
type Params struct {
	fx.In

	Client        messaging.Client
	Logger        *zap.Logger
	Config        config.Config
	Registrations []HandlerRegistration `group:"worker.handlers"`
}

// Engine consumes the lifecycle event bus and dispatches to handlers.
type Engine struct {
	client      messaging.Client
	logger      *zap.Logger
	enabled     bool
	concurrency int
	handlers    map[string][]messaging.Handler
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewEngine constructs the worker Engine.
func NewEngine(p Params) *Engine {
	e := newEngine(p.Client, p.Logger, p.Registrations)
	e.enabled = p.Config.Messaging.Enabled && p.Config.Messaging.Workers.Enabled
	e.concurrency = p.Config.Messaging.Workers.Concurrency
	return e
}

func newEngine(client messaging.Client, logger *zap.Logger, registrations []HandlerRegistration) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	handlers := make(map[string][]messaging.Handler, len(registrations))
	for _, r := range registrations {
		if r.Topic == "" || r.Handler == nil {
			continue
		}
		handlers[r.Topic] = append(handlers[r.Topic], r.Handler)
	}
	return &Engine{
		client:      client,
		logger:      logger.Named("worker"),
		enabled:     true,
		concurrency: 1,
		handlers:    handlers,
	}
}

// Module wires the engine into Fx lifecycle.
var Module = fx.Options(
	fx.Provide(NewEngine),
	fx.Invoke(func(lc fx.Lifecycle, engine *Engine) {
		lc.Append(fx.Hook{
			OnStart: engine.Start,
			OnStop:  engine.Stop,
		})
	}),
)

// Start launches the consumer goroutines. It returns immediately.
func (e *Engine) Start(context.Context) error {
	if !e.enabled {
		e.logger.Info("worker engine disabled")
		return nil
	}
	if len(e.handlers) == 0 {
		e.logger.Info("worker engine has no handlers; skipping")
		return nil
	}

	concurrency := e.concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	for i := 0; i < concurrency; i++ {
		workerID := i
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.consumeLoop(runCtx, workerID)
		}()
	}

	e.logger.Info("worker engine started", zap.Int("workers", concurrency), zap.String("topic", e.client.Topic()))
	return nil
}

// Stop cancels consumers and waits for in-flight handlers until ctx expires.
func (e *Engine) Stop(ctx context.Context) error {
	if e.cancel == nil {
		return nil
	}
	e.cancel()
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		e.logger.Info("worker engine stopped")
		return nil
	}
}

// Dispatch runs the handlers registered for msg.Topic.
func (e *Engine) Dispatch(ctx context.Context, msg messaging.Message) error {
	handlers, ok := e.handlers[msg.Topic]
	if !ok {
		e.logger.Warn("no handler for topic", zap.String("topic", msg.Topic))
		return nil
	}
	for _, h := range handlers {
		if err := h(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) consumeLoop(ctx context.Context, workerID int) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}

		err := e.client.Consume(ctx, func(msgCtx context.Context, msg messaging.Message) error {
			e.logger.Debug("processing message",
				zap.String("topic", msg.Topic),
				zap.ByteString("key", msg.Key),
				zap.Int("worker", workerID),
			)
			return e.Dispatch(msgCtx, msg)
		})

		if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}

		e.logger.Error("consume loop error", zap.Error(err), zap.Duration("backoff", backoff))

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}

		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}
