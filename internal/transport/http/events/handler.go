// Package events streams realtime channels to browsers and terminals as
// server-sent events.
package events

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/bono/internal/auth"
	"github.com/Additional-Code/bono/internal/config"
	"github.com/Additional-Code/bono/internal/observability"
	"github.com/Additional-Code/bono/internal/presentation/http/response"
	"github.com/Additional-Code/bono/internal/realtime"
	"github.com/Additional-Code/bono/pkg/errorbank"
)

// Module wires the SSE endpoint.
var Module = fx.Options(
	fx.Provide(NewHandler),
	fx.Invoke(func(e *echo.Echo, h *Handler, resolver *auth.Resolver) {
		Register(e, h, auth.Middleware(resolver))
	}),
	fx.Invoke(func(obs *observability.Manager, h *Handler) error {
		return obs.Gauge("bono.realtime.sse_streams", "Open server-sent event streams", h.Open)
	}),
)

// Handler serves GET /events.
type Handler struct {
	transport realtime.Transport
	heartbeat time.Duration
	buffer    int
	logger    *zap.Logger
	open      atomic.Int64
}

// NewHandler builds the SSE handler from configuration.
func NewHandler(transport realtime.Transport, cfg config.Config, logger *zap.Logger) *Handler {
	return &Handler{
		transport: transport,
		heartbeat: cfg.Realtime.Heartbeat,
		buffer:    cfg.Realtime.Buffer,
		logger:    logger.Named("sse"),
	}
}

// Open returns the number of connected streams.
func (h *Handler) Open() int64 {
	return h.open.Load()
}

// Register mounts the stream behind authn.
func Register(e *echo.Echo, h *Handler, authn echo.MiddlewareFunc) {
	e.GET("/events", h.stream, authn)
}

// ChannelFor picks the channel a caller listens on: staff follow the
// kitchen, customers their private channel.
func ChannelFor(caller auth.Caller) string {
	if caller.IsStaff() {
		return realtime.KitchenChannel
	}
	return realtime.CustomerChannel(caller.ID)
}

func (h *Handler) stream(c echo.Context) error {
	caller, ok := auth.CallerFrom(c)
	if !ok {
		return response.New(c).WithError(errorbank.Unauthorized("missing caller")).Build()
	}
	channel := ChannelFor(caller)
	ctx := c.Request().Context()

	buffer := h.buffer
	if buffer <= 0 {
		buffer = 16
	}
	queue := make(chan realtime.Event, buffer)
	unsubscribe, err := h.transport.Subscribe(ctx, channel, realtime.AnyKind, func(ev realtime.Event) {
		select {
		case queue <- ev:
		default:
			h.logger.Warn("sse client too slow; dropping event", zap.String("channel", channel), zap.String("kind", string(ev.Kind)))
		}
	})
	if err != nil {
		h.logger.Error("subscribe failed", zap.String("channel", channel), zap.Error(err))
		return response.New(c).WithError(errorbank.Unavailable("realtime unavailable", errorbank.WithCause(err))).Build()
	}
	defer unsubscribe()

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)

	if _, err := fmt.Fprintf(res, "retry: 2000\n: connected %s\n\n", channel); err != nil {
		return nil
	}
	res.Flush()

	h.open.Add(1)
	defer h.open.Add(-1)

	h.logger.Debug("sse client connected", zap.String("channel", channel), zap.String("caller", caller.ID))
	defer h.logger.Debug("sse client disconnected", zap.String("channel", channel), zap.String("caller", caller.ID))

	heartbeat := h.heartbeat
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-queue:
			if err := WriteEvent(res, ev); err != nil {
				return nil
			}
			res.Flush()
		case <-ticker.C:
			if _, err := io.WriteString(res, ": ping\n\n"); err != nil {
				return nil
			}
			res.Flush()
		}
	}
}

// WriteEvent renders ev as one SSE frame whose data is the JSON envelope.
func WriteEvent(w io.Writer, ev realtime.Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, raw)
	return err
}
