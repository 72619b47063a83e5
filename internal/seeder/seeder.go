package seeder

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/bono/internal/database"
	"github.com/Additional-Code/bono/internal/entity"
	"github.com/Additional-Code/bono/internal/lifecycle"
)

// Module provides the Seeder.
var Module = fx.Provide(New)

// Seeder performs database seeding for local/dev setups.
type Seeder struct {
	db     *bun.DB
	logger *zap.Logger
}

// New constructs a Seeder backed by the primary database connection.
func New(conns *database.Connections, logger *zap.Logger) *Seeder {
	return &Seeder{db: conns.Writer, logger: logger}
}

// DemoUsers are the accounts created by Users. Tokens are for local use only.
func DemoUsers(now time.Time) []entity.User {
	return []entity.User{
		{ID: "kitchen-1", Name: "Kitchen", Role: lifecycle.RoleKitchen, APIToken: "kitchen-token", CreatedAt: now},
		{ID: "admin-1", Name: "Admin", Role: lifecycle.RoleAdmin, APIToken: "admin-token", CreatedAt: now},
		{ID: "ana", Name: "Ana", Role: lifecycle.RoleCustomer, APIToken: "ana-token", CreatedAt: now},
		{ID: "budi", Name: "Budi", Role: lifecycle.RoleCustomer, APIToken: "budi-token", CreatedAt: now},
	}
}

// DemoMenu is the catalog created by Foods.
func DemoMenu(now time.Time) []entity.Food {
	food := func(id, name string, price int64, available bool) entity.Food {
		return entity.Food{ID: id, Name: name, Price: decimal.NewFromInt(price), Available: available, CreatedAt: now, UpdatedAt: now}
	}
	return []entity.Food{
		food("coffee", "Coffee", 50, true),
		food("tea", "Tea", 40, true),
		food("bagel", "Bagel", 60, true),
		food("croissant", "Croissant", 75, true),
		food("soup", "Soup of the day", 120, false),
	}
}

// All runs every seeder in dependency order.
func (s *Seeder) All(ctx context.Context) error {
	for _, step := range []func(context.Context) error{s.Users, s.Foods, s.Counter} {
		if err := step(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Users seeds demo accounts if they are missing.
func (s *Seeder) Users(ctx context.Context) error {
	users := DemoUsers(time.Now().UTC())
	if _, err := s.db.NewInsert().Model(&users).Ignore().Exec(ctx); err != nil {
		return err
	}
	s.log("seeded users", len(users))
	return nil
}

// Foods seeds the demo menu if it is missing.
func (s *Seeder) Foods(ctx context.Context) error {
	foods := DemoMenu(time.Now().UTC())
	if _, err := s.db.NewInsert().Model(&foods).Ignore().Exec(ctx); err != nil {
		return err
	}
	s.log("seeded foods", len(foods))
	return nil
}

// Counter creates the bono counter row at zero if it is missing.
func (s *Seeder) Counter(ctx context.Context) error {
	counter := &entity.BonoCounter{ID: entity.BonoCounterID, UpdatedAt: time.Now().UTC()}
	if _, err := s.db.NewInsert().Model(counter).Ignore().Exec(ctx); err != nil {
		return err
	}
	s.log("seeded bono counter", 1)
	return nil
}

func (s *Seeder) log(msg string, count int) {
	if s.logger != nil {
		s.logger.Info(msg, zap.Int("count", count))
	}
}
