package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/fx"

	"github.com/Additional-Code/bono/internal/database"
	"github.com/Additional-Code/bono/internal/entity"
)

// Module provides the user repository to Fx.
var Module = fx.Provide(NewRepository)

// ErrNotFound is returned when no user matches.
var ErrNotFound = errors.New("user not found")

type Repository struct {
	conns *database.Connections
}

func NewRepository(conns *database.Connections) *Repository {
	return &Repository{conns: conns}
}

// FindByToken resolves an API token to its user.
func (r *Repository) FindByToken(ctx context.Context, token string) (*entity.User, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	u := new(entity.User)
	err := r.conns.ReaderDB(ctx).NewSelect().
		Model(u).
		Where("api_token = ?", token).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user by token: %w", err)
	}
	return u, nil
}
