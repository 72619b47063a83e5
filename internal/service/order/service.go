package order

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/bono/internal/auth"
	"github.com/Additional-Code/bono/internal/batch"
	"github.com/Additional-Code/bono/internal/bono"
	"github.com/Additional-Code/bono/internal/cache"
	"github.com/Additional-Code/bono/internal/clock"
	"github.com/Additional-Code/bono/internal/config"
	"github.com/Additional-Code/bono/internal/dto"
	"github.com/Additional-Code/bono/internal/entity"
	"github.com/Additional-Code/bono/internal/lifecycle"
	"github.com/Additional-Code/bono/internal/messaging"
	"github.com/Additional-Code/bono/internal/realtime"
	catalogrepo "github.com/Additional-Code/bono/internal/repository/catalog"
	repo "github.com/Additional-Code/bono/internal/repository/order"
	"github.com/Additional-Code/bono/pkg/errorbank"
)

var serviceTracer = otel.Tracer("github.com/Additional-Code/bono/service/order")

const (
	activeCacheKey      = "batches:active"
	activeGenerationKey = "batches:active:generation"
	// activeGenerationTTL outlives any board snapshot so an expired
	// generation never revalidates an old entry.
	activeGenerationTTL = 24 * time.Hour
)

// activeSnapshot is a cached board tagged with the write generation that was
// current before the board was read.
type activeSnapshot struct {
	Generation string        `json:"generation"`
	Batches    []batch.Batch `json:"batches"`
}

// Store is the persistence the service needs. Every method joins the
// transaction carried by ctx when one is open.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	CreateLines(ctx context.Context, batchID string, lines []entity.OrderLine) error
	FindLines(ctx context.Context, filter repo.LineFilter) ([]entity.OrderLine, error)
	LockBatch(ctx context.Context, batchID string) ([]entity.OrderLine, error)
	UpdateLinesByBatch(ctx context.Context, batchID string, patch repo.BatchPatch) error
	NextBono(ctx context.Context, max int) (int, error)
	StatusLog(ctx context.Context, batchID string) ([]entity.BatchStatusLog, error)
}

// Catalog prices carts.
type Catalog interface {
	FindFoods(ctx context.Context, ids []string) (map[string]entity.Food, error)
	ListAvailable(ctx context.Context) ([]entity.Food, error)
}

// Publisher pushes committed changes to live subscribers.
type Publisher interface {
	BatchCreated(ctx context.Context, b dto.BatchResponse) error
	BatchUpdated(ctx context.Context, b dto.BatchResponse, edge lifecycle.Edge) error
}

// Service owns checkout and the batch lifecycle.
type Service struct {
	store     Store
	catalog   Catalog
	allocator *bono.Allocator
	fanout    Publisher
	events    messaging.Client
	cache     cache.Store
	activeTTL time.Duration
	clock     clock.Clock
	logger    *zap.Logger
	metrics   *metrics
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Repository *repo.Repository
	Catalog    *catalogrepo.Repository
	Fanout     *realtime.Fanout
	Events     messaging.Client
	Cache      cache.Store
	Config     config.Config
	Logger     *zap.Logger
}

// Module provides the order service to Fx.
var Module = fx.Provide(NewService)

// NewService wires a Service from the Fx graph.
func NewService(p Params) *Service {
	var events messaging.Client
	if p.Config.Messaging.Enabled {
		events = p.Events
	}
	return New(Dependencies{
		Store:          p.Repository,
		Catalog:        p.Catalog,
		Fanout:         p.Fanout,
		Events:         events,
		Cache:          p.Cache,
		Clock:          clock.NewSystem(),
		Logger:         p.Logger,
		BonoMax:        p.Config.Orders.BonoMax,
		ActiveCacheTTL: p.Config.Orders.ActiveCacheTTL,
	})
}

// Dependencies are the collaborators of New. Nil Events and Cache disable
// those features.
type Dependencies struct {
	Store          Store
	Catalog        Catalog
	Fanout         Publisher
	Events         messaging.Client
	Cache          cache.Store
	Clock          clock.Clock
	Logger         *zap.Logger
	BonoMax        int
	ActiveCacheTTL time.Duration
}

// New builds a Service.
func New(d Dependencies) *Service {
	if d.Cache == nil {
		d.Cache = cache.Noop()
	}
	if d.Clock == nil {
		d.Clock = clock.NewSystem()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	logger := d.Logger.Named("orders")
	return &Service{
		store:     d.Store,
		catalog:   d.Catalog,
		allocator: bono.NewAllocator(d.Store, d.BonoMax),
		fanout:    d.Fanout,
		events:    d.Events,
		cache:     d.Cache,
		activeTTL: d.ActiveCacheTTL,
		clock:     d.Clock,
		logger:    logger,
		metrics:   newMetrics(logger),
	}
}

// Checkout turns the caller's cart into one PENDING batch. Either every line
// is stored or none is.
func (s *Service) Checkout(ctx context.Context, caller auth.Caller, cart []batch.CartLine) (batch.Batch, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.Checkout", trace.WithAttributes(
		attribute.String("customer.id", caller.ID),
		attribute.Int("cart.lines", len(cart)),
	))
	defer span.End()

	if len(cart) == 0 {
		return batch.Batch{}, toAppError(batch.ErrEmptyCart, "")
	}

	foods, err := s.catalog.FindFoods(ctx, batch.FoodIDs(cart))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "catalog error")
		return batch.Batch{}, errorbank.Internal("failed to load catalog", errorbank.WithCause(err))
	}

	batchID := uuid.NewString()
	now := s.clock.Now()
	lines, err := batch.BuildLines(batchID, caller.ID, cart, foods, now)
	if err != nil {
		return batch.Batch{}, toAppError(err, "")
	}

	err = s.store.WithTx(ctx, func(ctx context.Context) error {
		return s.store.CreateLines(ctx, batchID, lines)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "repository error")
		return batch.Batch{}, errorbank.Internal("failed to store order", errorbank.WithCause(err))
	}
	span.SetAttributes(attribute.String("batch.id", batchID))
	s.metrics.checkout(ctx)

	created := s.reload(ctx, batchID, lines)
	s.invalidateActive(ctx)

	if s.fanout != nil {
		if err := s.fanout.BatchCreated(ctx, dto.FromBatch(created)); err != nil {
			s.publishFailed(ctx, batchID, realtime.KindNewOrder, err)
		}
	}
	s.emit(ctx, BatchEvent{
		Type:       EventBatchCreated,
		BatchID:    batchID,
		CustomerID: caller.ID,
		To:         lifecycle.StatusPending,
		ActorID:    caller.ID,
		ActorRole:  caller.Role,
		OccurredAt: now,
	})

	return created, nil
}

// Transition moves every line of a batch to target in one atomic write,
// allocating the bono number when the batch is accepted.
func (s *Service) Transition(ctx context.Context, caller auth.Caller, batchID string, target lifecycle.Status) (batch.Batch, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.Transition", trace.WithAttributes(
		attribute.String("batch.id", batchID),
		attribute.String("batch.target", string(target)),
		attribute.String("caller.role", string(caller.Role)),
	))
	defer span.End()

	if !target.IsValid() {
		return batch.Batch{}, errorbank.BadRequest("unknown status", errorbank.WithCode("unknown_status"), errorbank.WithDetail("status", string(target)))
	}
	if !lifecycle.CanTransition(caller.Role) {
		return batch.Batch{}, toAppError(lifecycle.ErrForbidden, "")
	}

	var (
		edge      lifecycle.Edge
		from      lifecycle.Status
		allocated *int
	)
	now := s.clock.Now()

	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		lines, err := s.store.LockBatch(ctx, batchID)
		if err != nil {
			return err
		}
		from = lines[0].Status

		edge, err = lifecycle.Check(from, target, caller.Role)
		if err != nil {
			return err
		}

		patch := repo.BatchPatch{Status: target, UpdatedAt: now}
		if edge.Effect == lifecycle.EffectAllocateBono {
			n, err := s.allocator.Allocate(ctx)
			if err != nil {
				return err
			}
			patch.BonoNumber = &n
		}
		if err := s.store.UpdateLinesByBatch(ctx, batchID, patch); err != nil {
			return err
		}
		allocated = patch.BonoNumber
		return nil
	})
	if err != nil {
		appErr := toAppError(err, "failed to update order")
		if appErr.Kind() == errorbank.KindInternal {
			span.RecordError(err)
			span.SetStatus(codes.Error, "transition failed")
		}
		return batch.Batch{}, appErr
	}

	s.metrics.transition(ctx, from, target)
	if allocated != nil {
		s.metrics.bonoAllocated(ctx)
		span.SetAttributes(attribute.Int("bono.number", *allocated))
		s.logger.Info("bono allocated", zap.String("batch_id", batchID), zap.Int("bono", *allocated))
	}

	updated := s.reload(ctx, batchID, nil)
	if updated.ID == "" {
		updated = batch.Batch{ID: batchID, Status: target, BonoNumber: allocated, UpdatedAt: now}
	}
	s.invalidateActive(ctx)

	if s.fanout != nil {
		if err := s.fanout.BatchUpdated(ctx, dto.FromBatch(updated), edge); err != nil {
			s.publishFailed(ctx, batchID, realtime.KindOrderUpdate, err)
		}
	}
	s.emit(ctx, BatchEvent{
		Type:       EventBatchTransitioned,
		BatchID:    batchID,
		CustomerID: updated.CustomerID,
		From:       from,
		To:         target,
		BonoNumber: allocated,
		ActorID:    caller.ID,
		ActorRole:  caller.Role,
		OccurredAt: now,
	})

	return updated, nil
}

// ListActive returns the kitchen board. With no statuses it lists every
// non-terminal batch and serves it from cache when possible.
func (s *Service) ListActive(ctx context.Context, caller auth.Caller, statuses []lifecycle.Status) ([]batch.Batch, error) {
	if !caller.IsStaff() {
		return nil, toAppError(lifecycle.ErrForbidden, "")
	}
	ctx, span := serviceTracer.Start(ctx, "OrderService.ListActive")
	defer span.End()

	useCache := len(statuses) == 0
	var generation string
	if useCache {
		var cached []batch.Batch
		var ok bool
		generation, cached, ok = s.cachedActive(ctx)
		if ok {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return cached, nil
		}
		statuses = lifecycle.Active()
	}

	lines, err := s.store.FindLines(ctx, repo.LineFilter{Statuses: statuses})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "repository error")
		return nil, errorbank.Internal("failed to load orders", errorbank.WithCause(err))
	}
	batches := batch.Group(lines)

	if useCache && generation != "" {
		s.storeActive(ctx, generation, batches)
	}
	return batches, nil
}

// ListCustomer returns the caller's own batches, optionally limited to one
// calendar day (UTC).
func (s *Service) ListCustomer(ctx context.Context, caller auth.Caller, day *time.Time) ([]batch.Batch, error) {
	filter := repo.LineFilter{CustomerID: caller.ID}
	if day != nil {
		start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
		filter.CreatedFrom = start
		filter.CreatedTo = start.AddDate(0, 0, 1)
	}

	lines, err := s.store.FindLines(ctx, filter)
	if err != nil {
		return nil, errorbank.Internal("failed to load orders", errorbank.WithCause(err))
	}
	return batch.Group(lines), nil
}

// Get returns one batch to staff or to the customer owning it.
func (s *Service) Get(ctx context.Context, caller auth.Caller, batchID string) (batch.Batch, error) {
	lines, err := s.store.FindLines(ctx, repo.LineFilter{BatchID: batchID})
	if err != nil {
		return batch.Batch{}, errorbank.Internal("failed to load order", errorbank.WithCause(err))
	}
	b, ok := batch.One(lines)
	if !ok {
		return batch.Batch{}, toAppError(repo.ErrNotFound, "")
	}
	if !caller.IsStaff() && b.CustomerID != caller.ID {
		return batch.Batch{}, toAppError(lifecycle.ErrForbidden, "")
	}
	return b, nil
}

// History returns the recorded transitions of a batch the caller may read.
func (s *Service) History(ctx context.Context, caller auth.Caller, batchID string) ([]entity.BatchStatusLog, error) {
	if _, err := s.Get(ctx, caller, batchID); err != nil {
		return nil, err
	}
	entries, err := s.store.StatusLog(ctx, batchID)
	if err != nil {
		return nil, errorbank.Internal("failed to load history", errorbank.WithCause(err))
	}
	return entries, nil
}

// Menu lists foods that can be ordered.
func (s *Service) Menu(ctx context.Context) ([]entity.Food, error) {
	foods, err := s.catalog.ListAvailable(ctx)
	if err != nil {
		return nil, errorbank.Internal("failed to load menu", errorbank.WithCause(err))
	}
	return foods, nil
}

// reload reads a batch back after commit so published payloads carry food
// and customer names. It falls back to the given lines.
func (s *Service) reload(ctx context.Context, batchID string, fallback []entity.OrderLine) batch.Batch {
	lines, err := s.store.FindLines(ctx, repo.LineFilter{BatchID: batchID})
	if err != nil {
		s.logger.Warn("reload batch failed", zap.String("batch_id", batchID), zap.Error(err))
		lines = fallback
	}
	if len(lines) == 0 {
		lines = fallback
	}
	b, _ := batch.One(lines)
	return b
}

func (s *Service) publishFailed(ctx context.Context, batchID string, kind realtime.Kind, err error) {
	s.metrics.publishFailure(ctx, kind)
	s.logger.Warn("realtime publish failed",
		zap.String("batch_id", batchID),
		zap.String("kind", string(kind)),
		zap.Error(err),
	)
}

func (s *Service) emit(ctx context.Context, event BatchEvent) {
	if s.events == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("marshal batch event", zap.Error(err))
		return
	}
	msg := messaging.Message{
		Key:     []byte(event.BatchID),
		Value:   payload,
		Headers: map[string]string{"event-type": event.Type},
	}
	if err := s.events.Publish(ctx, msg); err != nil {
		s.logger.Error("publish batch event", zap.String("batch_id", event.BatchID), zap.String("type", event.Type), zap.Error(err))
	}
}

// cachedActive returns the current write generation and, when the cached
// board was read under that generation, the board itself. An empty
// generation means caching is unavailable for this call.
func (s *Service) cachedActive(ctx context.Context) (string, []batch.Batch, bool) {
	if s.activeTTL <= 0 {
		return "", nil, false
	}
	generation, err := s.activeGeneration(ctx)
	if err != nil {
		s.logger.Warn("active board generation read failed", zap.Error(err))
		return "", nil, false
	}

	var snap activeSnapshot
	if err := cache.GetJSON(ctx, s.cache, activeCacheKey, &snap); err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Warn("active board cache read failed", zap.Error(err))
		}
		return generation, nil, false
	}
	if snap.Generation != generation {
		return generation, nil, false
	}
	return generation, snap.Batches, true
}

func (s *Service) activeGeneration(ctx context.Context) (string, error) {
	raw, err := s.cache.Get(ctx, activeGenerationKey)
	if err == nil && len(raw) > 0 {
		return string(raw), nil
	}
	if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
		return "", err
	}
	return s.bumpGeneration(ctx)
}

func (s *Service) bumpGeneration(ctx context.Context) (string, error) {
	generation := uuid.NewString()
	if err := s.cache.Set(ctx, activeGenerationKey, []byte(generation), activeGenerationTTL); err != nil {
		return "", err
	}
	return generation, nil
}

func (s *Service) storeActive(ctx context.Context, generation string, batches []batch.Batch) {
	snap := activeSnapshot{Generation: generation, Batches: batches}
	if err := cache.SetJSON(ctx, s.cache, activeCacheKey, snap, s.activeTTL); err != nil {
		s.logger.Warn("active board cache write failed", zap.Error(err))
	}
}

// invalidateActive moves the write generation on, so snapshots read before
// this write are never served again even if they land in the cache later.
func (s *Service) invalidateActive(ctx context.Context) {
	if _, err := s.bumpGeneration(ctx); err != nil {
		s.logger.Warn("active board generation bump failed", zap.Error(err))
	}
	if err := s.cache.Delete(ctx, activeCacheKey); err != nil {
		s.logger.Warn("active board cache invalidation failed", zap.Error(err))
	}
}

// toAppError maps domain errors onto the error bank. Errors that already are
// AppErrors pass through.
func toAppError(err error, internalMessage string) *errorbank.AppError {
	var appErr *errorbank.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	switch {
	case errors.Is(err, batch.ErrEmptyCart):
		return errorbank.Unprocessable("cart is empty", errorbank.WithCode("empty_cart"), errorbank.WithCause(err))
	case errors.Is(err, batch.ErrInvalidItem):
		return errorbank.Unprocessable("cart contains an invalid item", errorbank.WithCode("invalid_item"), errorbank.WithCause(err))
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		return errorbank.Conflict("invalid transition", append(transitionDetails(err), errorbank.WithCode("invalid_transition"), errorbank.WithCause(err))...)
	case errors.Is(err, lifecycle.ErrForbidden):
		return errorbank.Forbidden("not allowed", append(transitionDetails(err), errorbank.WithCode("forbidden"), errorbank.WithCause(err))...)
	case errors.Is(err, repo.ErrNotFound):
		return errorbank.NotFound("order not found", errorbank.WithCode("not_found"), errorbank.WithCause(err))
	}
	if internalMessage == "" {
		internalMessage = "internal error"
	}
	return errorbank.Internal(internalMessage, errorbank.WithCause(err))
}

func transitionDetails(err error) []errorbank.Option {
	var te *lifecycle.TransitionError
	if !errors.As(err, &te) {
		return nil
	}
	return []errorbank.Option{
		errorbank.WithDetail("from", string(te.From)),
		errorbank.WithDetail("to", string(te.To)),
	}
}
