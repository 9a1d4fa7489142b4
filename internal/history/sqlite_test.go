package history

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates an in-memory SQLite database with the
// property_history table.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	schema := `
		CREATE TABLE property_history (
			id TEXT PRIMARY KEY,
			driver TEXT NOT NULL,
			path TEXT NOT NULL,
			op TEXT NOT NULL DEFAULT 'set',
			value TEXT NOT NULL,
			created_at TEXT NOT NULL
		) STRICT;
		CREATE INDEX idx_property_history_driver ON property_history(driver, created_at DESC);
		CREATE INDEX idx_property_history_path ON property_history(driver, path, created_at DESC);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

func TestRecordAndList(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	if err := repo.Record(ctx, Entry{Driver: "psu", Path: "voltage", Op: "set", Value: 12.5}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := repo.Record(ctx, Entry{Driver: "psu", Path: "out[1].enabled", Op: "set", Value: true}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := repo.Record(ctx, Entry{Driver: "scope", Path: "timebase", Op: "set", Value: 1e-3}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	entries, err := repo.List(ctx, Query{Driver: "psu"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	for _, e := range entries {
		if e.ID == "" {
			t.Error("entry missing generated id")
		}
		if e.Driver != "psu" {
			t.Errorf("driver = %q, want psu", e.Driver)
		}
		if e.CreatedAt.IsZero() {
			t.Error("entry missing timestamp")
		}
	}

	scoped, err := repo.List(ctx, Query{Driver: "psu", Path: "voltage"})
	if err != nil {
		t.Fatalf("List by path: %v", err)
	}
	if len(scoped) != 1 || scoped[0].Value != 12.5 {
		t.Errorf("scoped entries = %+v, want one voltage record of 12.5", scoped)
	}
}

func TestListOrderedNewestFirst(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, v := range []float64{1, 2, 3} {
		err := repo.Record(ctx, Entry{
			Driver: "psu", Path: "voltage", Op: "set", Value: v,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	entries, err := repo.List(ctx, Query{Driver: "psu", Limit: 2})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want limit of 2", len(entries))
	}
	if entries[0].Value != 3.0 || entries[1].Value != 2.0 {
		t.Errorf("order = %v then %v, want newest first", entries[0].Value, entries[1].Value)
	}

	window, err := repo.List(ctx, Query{Since: base.Add(30 * time.Second), Until: base.Add(90 * time.Second)})
	if err != nil {
		t.Fatalf("List window: %v", err)
	}
	if len(window) != 1 || window[0].Value != 2.0 {
		t.Errorf("window = %+v, want just the middle record", window)
	}
}

func TestRecordValidation(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	if err := repo.Record(ctx, Entry{Path: "voltage", Value: 1}); err == nil {
		t.Error("missing driver should fail")
	}
	if err := repo.Record(ctx, Entry{Driver: "psu", Value: 1}); err == nil {
		t.Error("missing path should fail")
	}
}

func TestPrune(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	old := Entry{Driver: "psu", Path: "voltage", Op: "set", Value: 1.0,
		CreatedAt: time.Now().UTC().Add(-48 * time.Hour)}
	recent := Entry{Driver: "psu", Path: "voltage", Op: "set", Value: 2.0}
	if err := repo.Record(ctx, old); err != nil {
		t.Fatal(err)
	}
	if err := repo.Record(ctx, recent); err != nil {
		t.Fatal(err)
	}

	deleted, err := repo.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	left, _ := repo.List(ctx, Query{})
	if len(left) != 1 || left[0].Value != 2.0 {
		t.Errorf("remaining = %+v, want just the recent record", left)
	}

	if _, err := repo.Prune(ctx, 0); err == nil {
		t.Error("non-positive retention should fail")
	}
}
