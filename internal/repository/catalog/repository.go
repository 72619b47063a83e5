package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"

	"github.com/Additional-Code/bono/internal/database"
	"github.com/Additional-Code/bono/internal/entity"
)

var repoTracer = otel.Tracer("github.com/Additional-Code/bono/repository/catalog")

// Module provides the catalog repository to Fx.
var Module = fx.Provide(NewRepository)

// Repository reads the food catalog. Menu management lives elsewhere.
type Repository struct {
	conns *database.Connections
}

// NewRepository wires a repository backed by configured database connections.
func NewRepository(conns *database.Connections) *Repository {
	return &Repository{conns: conns}
}

// FindFoods returns the foods with the given ids keyed by id. Unknown ids are
// simply absent from the map.
func (r *Repository) FindFoods(ctx context.Context, ids []string) (map[string]entity.Food, error) {
	out := make(map[string]entity.Food, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	ctx, span := repoTracer.Start(ctx, "CatalogRepository.FindFoods", trace.WithAttributes(attribute.Int("foods.requested", len(ids))))
	defer span.End()

	var foods []entity.Food
	err := r.conns.ReaderDB(ctx).NewSelect().
		Model(&foods).
		Where("id IN (?)", bun.In(ids)).
		Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select failed")
		return nil, fmt.Errorf("find foods: %w", err)
	}
	for _, f := range foods {
		out[f.ID] = f
	}
	return out, nil
}

// ListAvailable returns the orderable menu sorted by name.
func (r *Repository) ListAvailable(ctx context.Context) ([]entity.Food, error) {
	var foods []entity.Food
	err := r.conns.ReaderDB(ctx).NewSelect().
		Model(&foods).
		Where("available = ?", true).
		OrderExpr("name ASC").
		Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("list foods: %w", err)
	}
	return foods, nil
}
