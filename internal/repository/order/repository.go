package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"

	"github.com/Additional-Code/bono/internal/bono"
	"github.com/Additional-Code/bono/internal/database"
	"github.com/Additional-Code/bono/internal/entity"
	"github.com/Additional-Code/bono/internal/lifecycle"
)

var repoTracer = otel.Tracer("github.com/Additional-Code/bono/repository/order")

// ErrNotFound is returned when no line carries the batch id.
var ErrNotFound = errors.New("batch not found")

// LineFilter narrows FindLines. Zero fields do not filter.
type LineFilter struct {
	BatchID    string
	CustomerID string
	Statuses   []lifecycle.Status
	// CreatedFrom and CreatedTo bound created_at as [from, to).
	CreatedFrom time.Time
	CreatedTo   time.Time
}

// BatchPatch is applied to every line of a batch at once.
type BatchPatch struct {
	Status     lifecycle.Status
	BonoNumber *int
	UpdatedAt  time.Time
}

// Repository is the order line store. Status and bono are only written
// through UpdateLinesByBatch so a batch never ends up half transitioned.
type Repository struct {
	conns *database.Connections
}

// Module provides the order repository to Fx.
var Module = fx.Provide(NewRepository)

// NewRepository wires a repository backed by configured database connections.
func NewRepository(conns *database.Connections) *Repository {
	return &Repository{conns: conns}
}

// WithTx runs fn in a transaction shared by every repository call using its context.
func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.conns.WithTx(ctx, fn)
}

// CreateLines inserts every line of a new batch in a single statement.
func (r *Repository) CreateLines(ctx context.Context, batchID string, lines []entity.OrderLine) error {
	if len(lines) == 0 {
		return errors.New("no lines to insert")
	}
	for i := range lines {
		if lines[i].BatchID != batchID {
			return fmt.Errorf("line %d belongs to batch %q, not %q", i, lines[i].BatchID, batchID)
		}
	}

	ctx, span := repoTracer.Start(ctx, "OrderRepository.CreateLines", trace.WithAttributes(
		attribute.String("batch.id", batchID),
		attribute.Int("batch.lines", len(lines)),
	))
	defer span.End()

	_, err := r.conns.WriterDB(ctx).NewInsert().Model(&lines).Exec(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
		return fmt.Errorf("insert lines: %w", err)
	}
	return nil
}

// FindLines returns lines joined with food and customer, newest batch first.
func (r *Repository) FindLines(ctx context.Context, filter LineFilter) ([]entity.OrderLine, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.FindLines")
	defer span.End()

	var lines []entity.OrderLine
	q := r.conns.ReaderDB(ctx).NewSelect().
		Model(&lines).
		Relation("Food").
		Relation("Customer")

	if filter.BatchID != "" {
		q = q.Where("ol.batch_id = ?", filter.BatchID)
	}
	if filter.CustomerID != "" {
		q = q.Where("ol.customer_id = ?", filter.CustomerID)
	}
	if len(filter.Statuses) > 0 {
		q = q.Where("ol.status IN (?)", bun.In(filter.Statuses))
	}
	if !filter.CreatedFrom.IsZero() {
		q = q.Where("ol.created_at >= ?", filter.CreatedFrom)
	}
	if !filter.CreatedTo.IsZero() {
		q = q.Where("ol.created_at < ?", filter.CreatedTo)
	}

	err := q.OrderExpr("ol.created_at DESC").OrderExpr("ol.batch_id").OrderExpr("ol.id ASC").Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, fmt.Errorf("find lines: %w", err)
	}
	return lines, nil
}

// LockBatch reads a batch's lines and, inside a transaction, holds their row
// locks until commit so transitions on one batch are linearized.
func (r *Repository) LockBatch(ctx context.Context, batchID string) ([]entity.OrderLine, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.LockBatch", trace.WithAttributes(attribute.String("batch.id", batchID)))
	defer span.End()

	var lines []entity.OrderLine
	q := r.conns.WriterDB(ctx).NewSelect().
		Model(&lines).
		Where("batch_id = ?", batchID).
		OrderExpr("id ASC")
	if database.TxFromContext(ctx) != nil && r.conns.SupportsRowLocks() {
		q = q.For("UPDATE")
	}
	if err := q.Scan(ctx); err != nil && !errors.Is(err, sql.ErrNoRows) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, fmt.Errorf("lock batch: %w", err)
	}
	if len(lines) == 0 {
		span.SetStatus(codes.Error, "not found")
		return nil, ErrNotFound
	}
	return lines, nil
}

// UpdateLinesByBatch applies patch to every line of the batch in one statement.
func (r *Repository) UpdateLinesByBatch(ctx context.Context, batchID string, patch BatchPatch) error {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.UpdateLinesByBatch", trace.WithAttributes(
		attribute.String("batch.id", batchID),
		attribute.String("batch.status", string(patch.Status)),
	))
	defer span.End()

	if !patch.Status.IsValid() {
		return fmt.Errorf("update batch %s: invalid status %q", batchID, patch.Status)
	}

	q := r.conns.WriterDB(ctx).NewUpdate().
		Model((*entity.OrderLine)(nil)).
		Set("status = ?", patch.Status).
		Set("updated_at = ?", patch.UpdatedAt).
		Where("batch_id = ?", batchID)
	if patch.BonoNumber != nil {
		q = q.Set("bono_number = ?", *patch.BonoNumber)
	}

	res, err := q.Exec(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "update failed")
		return fmt.Errorf("update batch: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// FindLastAllocatedBono returns the bono of the most recently updated line
// that has one, or nil when none was ever allocated.
func (r *Repository) FindLastAllocatedBono(ctx context.Context) (*int, error) {
	var last int
	err := r.conns.ReaderDB(ctx).NewSelect().
		Model((*entity.OrderLine)(nil)).
		Column("bono_number").
		Where("bono_number IS NOT NULL").
		OrderExpr("updated_at DESC").
		OrderExpr("id DESC").
		Limit(1).
		Scan(ctx, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find last bono: %w", err)
	}
	return &last, nil
}

// NextBono advances the counter row with a single conditional update and
// reads it back in the same transaction. The update takes the row lock, so
// concurrent acceptors queue behind each other until commit.
func (r *Repository) NextBono(ctx context.Context, max int) (int, error) {
	ctx, span := repoTracer.Start(ctx, "OrderRepository.NextBono")
	defer span.End()

	if max <= 0 {
		max = bono.DefaultMax
	}

	for attempt := 0; attempt < 2; attempt++ {
		advanced, err := r.advanceCounter(ctx, max)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "counter update failed")
			return 0, err
		}
		if advanced {
			counter := new(entity.BonoCounter)
			err := r.conns.WriterDB(ctx).NewSelect().
				Model(counter).
				Where("id = ?", entity.BonoCounterID).
				Scan(ctx)
			if err != nil {
				return 0, fmt.Errorf("read bono counter: %w", err)
			}
			span.SetAttributes(attribute.Int("bono.number", counter.LastNumber))
			return counter.LastNumber, nil
		}
		if err := r.seedCounter(ctx); err != nil {
			return 0, err
		}
	}
	return 0, errors.New("bono counter row missing")
}

func (r *Repository) advanceCounter(ctx context.Context, max int) (bool, error) {
	res, err := r.conns.WriterDB(ctx).NewUpdate().
		Model((*entity.BonoCounter)(nil)).
		Set("last_number = CASE WHEN last_number >= ? THEN 1 ELSE last_number + 1 END", max).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", entity.BonoCounterID).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("advance bono counter: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("advance bono counter: %w", err)
	}
	return n > 0, nil
}

// seedCounter creates the counter row from the last bono found on the lines.
// A concurrent seeder winning the insert is fine; the caller retries the update.
func (r *Repository) seedCounter(ctx context.Context) error {
	last, err := r.FindLastAllocatedBono(ctx)
	if err != nil {
		return err
	}
	counter := &entity.BonoCounter{ID: entity.BonoCounterID, UpdatedAt: time.Now().UTC()}
	if last != nil {
		counter.LastNumber = *last
	}
	if _, err := r.conns.WriterDB(ctx).NewInsert().Model(counter).Exec(ctx); err != nil {
		if database.TxFromContext(ctx) != nil && r.conns.Driver == "postgres" {
			// A failed statement aborts a postgres transaction; surface it instead of retrying.
			return fmt.Errorf("seed bono counter: %w", err)
		}
	}
	return nil
}

// AppendStatusLog records one transition in the batch history.
func (r *Repository) AppendStatusLog(ctx context.Context, entry *entity.BatchStatusLog) error {
	if entry == nil {
		return errors.New("nil status log entry")
	}
	_, err := r.conns.WriterDB(ctx).NewInsert().Model(entry).Exec(ctx)
	if err != nil {
		return fmt.Errorf("append status log: %w", err)
	}
	return nil
}

// StatusLog returns a batch's history, oldest first.
func (r *Repository) StatusLog(ctx context.Context, batchID string) ([]entity.BatchStatusLog, error) {
	var entries []entity.BatchStatusLog
	err := r.conns.ReaderDB(ctx).NewSelect().
		Model(&entries).
		Where("batch_id = ?", batchID).
		OrderExpr("occurred_at ASC").
		OrderExpr("id ASC").
		Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("status log: %w", err)
	}
	return entries, nil
}
