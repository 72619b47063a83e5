// Package testutil builds throwaway databases for package tests.
package testutil

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"

	"github.com/Additional-Code/bono/internal/config"
	"github.com/Additional-Code/bono/internal/database"
	"github.com/Additional-Code/bono/internal/entity"
	"github.com/Additional-Code/bono/internal/migration"
	"github.com/Additional-Code/bono/internal/seeder"
)

// goose keeps its dialect and filesystem in package globals.
var migrateMu sync.Mutex

// NewSQLite opens a fresh sqlite file under t.TempDir, applies every
// migration and seeds the demo users and menu.
func NewSQLite(t *testing.T) *database.Connections {
	t.Helper()

	dsn := "file:" + filepath.Join(t.TempDir(), "bono.db") + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	cfg := config.Config{Database: config.Database{Driver: "sqlite", WriterDSN: dsn, ReaderDSN: dsn}}

	lc := fxtest.NewLifecycle(t)
	conns, err := database.New(lc, cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	lc.RequireStart()
	t.Cleanup(func() { lc.RequireStop() })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	migrateMu.Lock()
	m, err := migration.New(cfg, conns, zap.NewNop())
	if err == nil {
		err = m.Up(ctx)
	}
	migrateMu.Unlock()
	if err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}

	s := seeder.New(conns, nil)
	if err := s.Users(ctx); err != nil {
		t.Fatalf("seed users: %v", err)
	}
	if err := s.Foods(ctx); err != nil {
		t.Fatalf("seed foods: %v", err)
	}
	return conns
}

// SetBonoCounter overwrites the last handed out bono number.
func SetBonoCounter(t *testing.T, conns *database.Connections, last int) {
	t.Helper()
	_, err := conns.Writer.NewUpdate().
		Model((*entity.BonoCounter)(nil)).
		Set("last_number = ?", last).
		Where("id = ?", entity.BonoCounterID).
		Exec(context.Background())
	if err != nil {
		t.Fatalf("set bono counter: %v", err)
	}
}

// DeleteBonoCounter removes the counter row.
func DeleteBonoCounter(t *testing.T, conns *database.Connections) {
	t.Helper()
	_, err := conns.Writer.NewDelete().
		Model((*entity.BonoCounter)(nil)).
		Where("id = ?", entity.BonoCounterID).
		Exec(context.Background())
	if err != nil {
		t.Fatalf("delete bono counter: %v", err)
	}
}
