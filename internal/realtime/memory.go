package realtime

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Hub is an in-process Transport. Each subscriber owns a bounded queue drained
// by its own goroutine, so a slow dashboard never blocks a publisher; when the
// queue is full the event is dropped for that subscriber only.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]*subscriber
	nextID uint64
	buffer int
	closed bool
	logger *zap.Logger
}

type subscriber struct {
	id      uint64
	channel string
	kind    Kind
	queue   chan Event
	handler Handler
	done    chan struct{}
	once    sync.Once
}

// NewHub builds a hub with the given per-subscriber queue length.
func NewHub(buffer int, logger *zap.Logger) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		subs:   make(map[string]map[uint64]*subscriber),
		buffer: buffer,
		logger: logger,
	}
}

func (h *Hub) Publish(_ context.Context, channel string, kind Kind, payload any) error {
	ev, err := newEvent(channel, kind, payload)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrClosed
	}
	for _, sub := range h.subs[channel] {
		if !matches(sub.kind, kind) {
			continue
		}
		select {
		case sub.queue <- ev:
		default:
			h.logger.Warn("realtime subscriber queue full; dropping event",
				zap.String("channel", channel),
				zap.String("kind", string(kind)),
				zap.Uint64("subscriber", sub.id),
			)
		}
	}
	return nil
}

func (h *Hub) Subscribe(ctx context.Context, channel string, kind Kind, handler Handler) (Unsubscribe, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	h.nextID++
	sub := &subscriber{
		id:      h.nextID,
		channel: channel,
		kind:    kind,
		queue:   make(chan Event, h.buffer),
		handler: handler,
		done:    make(chan struct{}),
	}
	if h.subs[channel] == nil {
		h.subs[channel] = make(map[uint64]*subscriber)
	}
	h.subs[channel][sub.id] = sub
	h.mu.Unlock()

	go sub.run()

	unsubscribe := func() { h.remove(sub) }
	go func() {
		select {
		case <-ctx.Done():
			unsubscribe()
		case <-sub.done:
		}
	}()
	return unsubscribe, nil
}

// Subscribers returns the live subscription count of a channel.
func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[channel])
}

// Close stops every subscription and rejects further use.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	all := h.subs
	h.subs = make(map[string]map[uint64]*subscriber)
	h.mu.Unlock()

	for _, subs := range all {
		for _, sub := range subs {
			sub.stop()
		}
	}
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	if subs, ok := h.subs[sub.channel]; ok {
		delete(subs, sub.id)
		if len(subs) == 0 {
			delete(h.subs, sub.channel)
		}
	}
	h.mu.Unlock()
	sub.stop()
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *subscriber) run() {
	for {
		select {
		case <-s.done:
			return
		case ev := <-s.queue:
			s.handler(ev)
		}
	}
}
