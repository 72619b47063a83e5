// Package auth resolves bearer tokens into callers and carries them on the
// request context.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/bono/internal/cache"
	"github.com/Additional-Code/bono/internal/config"
	"github.com/Additional-Code/bono/internal/entity"
	"github.com/Additional-Code/bono/internal/lifecycle"
	userrepo "github.com/Additional-Code/bono/internal/repository/user"
)

// ErrUnauthenticated is returned for a missing or unknown token.
var ErrUnauthenticated = errors.New("unauthenticated")

// Caller is the identity a request acts as.
type Caller struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Role lifecycle.Role `json:"role"`
}

// IsStaff reports whether the caller works the kitchen side.
func (c Caller) IsStaff() bool { return c.Role.IsStaff() }

// Users looks users up by API token.
type Users interface {
	FindByToken(ctx context.Context, token string) (*entity.User, error)
}

// Resolver maps tokens to callers, caching hits for a short TTL.
type Resolver struct {
	users  Users
	cache  cache.Store
	ttl    time.Duration
	logger *zap.Logger
}

// Module provides the resolver to Fx.
var Module = fx.Provide(NewResolver)

// Params defines dependencies for constructing Resolver.
type Params struct {
	fx.In

	Users  *userrepo.Repository
	Cache  cache.Store
	Config config.Config
	Logger *zap.Logger
}

// NewResolver wires a Resolver from the Fx graph.
func NewResolver(p Params) *Resolver {
	return New(p.Users, p.Cache, p.Config.Auth.TokenCacheTTL, p.Logger)
}

// New builds a Resolver. A nil store disables caching.
func New(users Users, store cache.Store, ttl time.Duration, logger *zap.Logger) *Resolver {
	if store == nil {
		store = cache.Noop()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{users: users, cache: store, ttl: ttl, logger: logger.Named("auth")}
}

// Resolve returns the caller owning token.
func (r *Resolver) Resolve(ctx context.Context, token string) (Caller, error) {
	if token == "" {
		return Caller{}, ErrUnauthenticated
	}

	key := cacheKey(token)
	if r.ttl > 0 {
		var c Caller
		err := cache.GetJSON(ctx, r.cache, key, &c)
		switch {
		case err == nil && c.ID != "":
			return c, nil
		case err != nil && !errors.Is(err, cache.ErrCacheMiss):
			r.logger.Warn("token cache read failed", zap.Error(err))
		}
	}

	u, err := r.users.FindByToken(ctx, token)
	if errors.Is(err, userrepo.ErrNotFound) {
		return Caller{}, ErrUnauthenticated
	}
	if err != nil {
		return Caller{}, fmt.Errorf("resolve token: %w", err)
	}
	if !u.Role.IsValid() {
		r.logger.Warn("user has unknown role", zap.String("user_id", u.ID), zap.String("role", string(u.Role)))
		return Caller{}, ErrUnauthenticated
	}

	c := Caller{ID: u.ID, Name: u.Name, Role: u.Role}
	if r.ttl > 0 {
		if err := cache.SetJSON(ctx, r.cache, key, c, r.ttl); err != nil {
			r.logger.Warn("token cache write failed", zap.Error(err))
		}
	}
	return c, nil
}

func cacheKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "auth:token:" + hex.EncodeToString(sum[:])
}

type callerKey struct{}

// WithCaller stores c on ctx.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// FromContext returns the caller stored by WithCaller.
func FromContext(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok
}
