package projection

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Additional-Code/bono/internal/dto"
	"github.com/Additional-Code/bono/internal/realtime"
)

// Source is where a board gets its state from. Stream calls connected once
// the subscription is live and before any event is delivered.
type Source interface {
	FetchActive(ctx context.Context) ([]dto.BatchResponse, error)
	Stream(ctx context.Context, connected func(), fn func(realtime.Event)) error
}

// Follow keeps board in sync with src until ctx is cancelled. Every
// (re)connect subscribes first, then takes a full snapshot and replays the
// events that arrived in between, so nothing published around the fetch is
// lost. draw is called after every change.
func Follow(ctx context.Context, src Source, board *Board, backoff time.Duration, logger *zap.Logger, draw func()) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if backoff <= 0 {
		backoff = 2 * time.Second
	}

	for {
		err := syncOnce(ctx, src, board, logger, draw)
		if ctx.Err() != nil {
			return nil
		}
		logger.Warn("board disconnected; reconnecting", zap.Error(err), zap.Duration("backoff", backoff))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
	}
}

// syncOnce runs one connection: subscribe, snapshot, replay, then apply live
// events until the stream ends.
func syncOnce(ctx context.Context, src Source, board *Board, logger *zap.Logger, draw func()) error {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu      sync.Mutex
		pending []realtime.Event
		synced  bool
	)
	apply := func(ev realtime.Event) bool {
		changed, err := board.Apply(ev)
		if err != nil {
			logger.Warn("skipping undecodable event", zap.String("kind", string(ev.Kind)), zap.Error(err))
			return false
		}
		return changed
	}

	connected := make(chan struct{})
	var once sync.Once
	streamErr := make(chan error, 1)
	go func() {
		streamErr <- src.Stream(connCtx, func() { once.Do(func() { close(connected) }) }, func(ev realtime.Event) {
			mu.Lock()
			defer mu.Unlock()
			if !synced {
				pending = append(pending, ev)
				return
			}
			if apply(ev) {
				draw()
			}
		})
	}()

	select {
	case <-connected:
	case err := <-streamErr:
		return err
	case <-ctx.Done():
		return <-streamErr
	}

	batches, err := src.FetchActive(connCtx)
	if err != nil {
		cancel()
		<-streamErr
		return err
	}

	mu.Lock()
	board.Reset(batches)
	for _, ev := range pending {
		apply(ev)
	}
	pending = nil
	synced = true
	draw()
	mu.Unlock()

	return <-streamErr
}
