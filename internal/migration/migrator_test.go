package migration

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/pressly/goose/v3"
)

func TestEveryDialectShipsTheSameVersions(t *testing.T) {
	t.Parallel()

	var want []string
	for i, driver := range []string{"postgres", "mysql", "sqlite"} {
		entries, err := fs.ReadDir(migrations, Dir(driver))
		if err != nil {
			t.Fatalf("%s: %v", driver, err)
		}
		var got []string
		for _, e := range entries {
			got = append(got, e.Name())
		}
		if len(got) == 0 {
			t.Fatalf("%s: expected migrations", driver)
		}
		if i == 0 {
			want = got
			continue
		}
		if strings.Join(got, ",") != strings.Join(want, ",") {
			t.Fatalf("%s: expected %v, got %v", driver, want, got)
		}
	}
}

func TestMigrationsDeclareUpAndDown(t *testing.T) {
	t.Parallel()

	err := fs.WalkDir(migrations, "sql", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		raw, err := fs.ReadFile(migrations, p)
		if err != nil {
			return err
		}
		body := string(raw)
		if !strings.Contains(body, "-- +goose Up") || !strings.Contains(body, "-- +goose Down") {
			t.Errorf("%s: missing goose annotations", p)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
}

func TestGooseDialect(t *testing.T) {
	t.Parallel()

	tests := map[string]string{"postgres": "postgres", "mysql": "mysql", "sqlite": "sqlite3"}
	for driver, want := range tests {
		got, err := gooseDialect(driver)
		if err != nil || got != want {
			t.Fatalf("%s: expected %s, got %s (%v)", driver, want, got, err)
		}
	}
	if _, err := gooseDialect("oracle"); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
}

func TestIsNoMigrationErr(t *testing.T) {
	t.Parallel()

	if !isNoMigrationErr(goose.ErrNoNextVersion) {
		t.Fatalf("expected ErrNoNextVersion to count as no migration")
	}
	if isNoMigrationErr(nil) {
		t.Fatalf("expected nil to be false")
	}
}
