package order

import (
	"context"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/bono/internal/auth"
	"github.com/Additional-Code/bono/internal/batch"
	"github.com/Additional-Code/bono/internal/dto"
	"github.com/Additional-Code/bono/internal/entity"
	"github.com/Additional-Code/bono/internal/lifecycle"
	"github.com/Additional-Code/bono/internal/presentation/http/response"
	"github.com/Additional-Code/bono/pkg/errorbank"
)

var httpTracer = otel.Tracer("github.com/Additional-Code/bono/transport/http/order")

const dayLayout = "2006-01-02"

// Service is the order use case surface the handler drives.
type Service interface {
	Checkout(ctx context.Context, caller auth.Caller, cart []batch.CartLine) (batch.Batch, error)
	Transition(ctx context.Context, caller auth.Caller, batchID string, target lifecycle.Status) (batch.Batch, error)
	ListActive(ctx context.Context, caller auth.Caller, statuses []lifecycle.Status) ([]batch.Batch, error)
	ListCustomer(ctx context.Context, caller auth.Caller, day *time.Time) ([]batch.Batch, error)
	Get(ctx context.Context, caller auth.Caller, batchID string) (batch.Batch, error)
	History(ctx context.Context, caller auth.Caller, batchID string) ([]entity.BatchStatusLog, error)
	Menu(ctx context.Context) ([]entity.Food, error)
}

// Handler exposes order endpoints over HTTP.
type Handler struct {
	svc Service
}

// NewHandler constructs an order Handler.
func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc}
}

// Register mounts the routes behind the given authentication middleware.
func Register(e *echo.Echo, h *Handler, authn echo.MiddlewareFunc) {
	e.GET("/foods", h.menu, authn)

	g := e.Group("/orders", authn)
	g.POST("/checkout", h.checkout)
	g.GET("/active", h.listActive)
	g.GET("/mine", h.listMine)
	g.GET("/:batchId", h.get)
	g.GET("/:batchId/history", h.history)
	g.POST("/:batchId/transition", h.transition)
}

func (h *Handler) checkout(c echo.Context) error {
	b := response.New(c)
	caller, ok := auth.CallerFrom(c)
	if !ok {
		return b.WithError(errorbank.Unauthorized("missing caller")).Build()
	}

	var payload dto.CheckoutRequest
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.checkout", trace.WithAttributes(
		attribute.Int("cart.lines", len(payload.Items)),
	))
	defer span.End()

	created, err := h.svc.Checkout(ctx, caller, payload.Cart())
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.Created("/orders/" + created.ID).WithData(dto.CheckoutResponse{BatchID: created.ID}).Build()
}

func (h *Handler) listActive(c echo.Context) error {
	b := response.New(c)
	caller, _ := auth.CallerFrom(c)

	statuses, err := parseStatuses(c.QueryParam("status"))
	if err != nil {
		return b.WithError(err).Build()
	}

	batches, err := h.svc.ListActive(c.Request().Context(), caller, statuses)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.FromBatches(batches)).WithMeta("count", len(batches)).Build()
}

func (h *Handler) listMine(c echo.Context) error {
	b := response.New(c)
	caller, _ := auth.CallerFrom(c)

	var day *time.Time
	if raw := c.QueryParam("date"); raw != "" {
		parsed, err := time.Parse(dayLayout, raw)
		if err != nil {
			return b.WithError(errorbank.BadRequest("date must be YYYY-MM-DD", errorbank.WithCode("invalid_date"), errorbank.WithCause(err))).Build()
		}
		day = &parsed
	}

	batches, err := h.svc.ListCustomer(c.Request().Context(), caller, day)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.FromBatches(batches)).WithMeta("count", len(batches)).Build()
}

func (h *Handler) get(c echo.Context) error {
	b := response.New(c)
	caller, _ := auth.CallerFrom(c)

	found, err := h.svc.Get(c.Request().Context(), caller, c.Param("batchId"))
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.FromBatch(found)).Build()
}

func (h *Handler) history(c echo.Context) error {
	b := response.New(c)
	caller, _ := auth.CallerFrom(c)

	entries, err := h.svc.History(c.Request().Context(), caller, c.Param("batchId"))
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.FromStatusLog(entries)).Build()
}

func (h *Handler) transition(c echo.Context) error {
	b := response.New(c)
	caller, _ := auth.CallerFrom(c)
	batchID := c.Param("batchId")

	var payload dto.TransitionRequest
	if err := c.Bind(&payload); err != nil {
		return b.WithError(errorbank.BadRequest("invalid payload", errorbank.WithCause(err))).Build()
	}
	target, err := lifecycle.ParseStatus(payload.Status)
	if err != nil {
		return b.WithError(errorbank.BadRequest("unknown status", errorbank.WithCode("unknown_status"), errorbank.WithCause(err))).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.transition", trace.WithAttributes(
		attribute.String("batch.id", batchID),
		attribute.String("batch.target", string(target)),
	))
	defer span.End()

	updated, err := h.svc.Transition(ctx, caller, batchID, target)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.FromBatch(updated)).Build()
}

func (h *Handler) menu(c echo.Context) error {
	b := response.New(c)
	foods, err := h.svc.Menu(c.Request().Context())
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(dto.FromFoods(foods)).Build()
}

// parseStatuses reads a comma separated status filter. Empty means default.
func parseStatuses(raw string) ([]lifecycle.Status, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var out []lifecycle.Status
	for _, part := range strings.Split(raw, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		s, err := lifecycle.ParseStatus(part)
		if err != nil {
			return nil, errorbank.BadRequest("unknown status filter", errorbank.WithCode("unknown_status"), errorbank.WithDetail("status", part), errorbank.WithCause(err))
		}
		out = append(out, s)
	}
	return out, nil
}
