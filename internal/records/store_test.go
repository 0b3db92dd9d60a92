package records

import (
	"context"
	"path/filepath"
	"testing"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "records.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			data := map[string]any{"status": "open", "priority": float64(2)}
			if _, err := store.Put(ctx, "acme", "u-1", "tickets", "t-1", data); err != nil {
				t.Fatalf("Put: %v", err)
			}

			rec, err := store.Get(ctx, "acme", "u-1", "tickets", "t-1")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if rec.Data["status"] != "open" || rec.Data["priority"] != float64(2) {
				t.Errorf("data = %v", rec.Data)
			}
			if rec.CreatedAt.IsZero() || rec.UpdatedAt.IsZero() {
				t.Error("timestamps not set")
			}

			// Replace keeps CreatedAt.
			if _, err := store.Put(ctx, "acme", "u-1", "tickets", "t-1", map[string]any{"status": "closed"}); err != nil {
				t.Fatalf("Put replace: %v", err)
			}
			rec2, err := store.Get(ctx, "acme", "u-1", "tickets", "t-1")
			if err != nil {
				t.Fatalf("Get after replace: %v", err)
			}
			if rec2.Data["status"] != "closed" {
				t.Errorf("replace did not stick: %v", rec2.Data)
			}
			if !rec2.CreatedAt.Equal(rec.CreatedAt) {
				t.Errorf("replace changed CreatedAt: %v -> %v", rec.CreatedAt, rec2.CreatedAt)
			}
		})
	}
}

func TestGetMissing(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := store.Get(ctx, "acme", "u-1", "tickets", "nope"); err != ErrNotFound {
				t.Errorf("err = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestQueryFilter(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			seed := []struct {
				id   string
				data map[string]any
			}{
				{"t-1", map[string]any{"status": "open", "owner": "amy"}},
				{"t-2", map[string]any{"status": "open", "owner": "bo"}},
				{"t-3", map[string]any{"status": "closed", "owner": "amy"}},
			}
			for _, s := range seed {
				if _, err := store.Put(ctx, "acme", "u-1", "tickets", s.id, s.data); err != nil {
					t.Fatalf("Put %s: %v", s.id, err)
				}
			}

			open, err := store.Query(ctx, "acme", "u-1", "tickets", map[string]any{"status": "open"}, 0)
			if err != nil {
				t.Fatalf("Query: %v", err)
			}
			if len(open) != 2 {
				t.Errorf("open tickets = %d, want 2", len(open))
			}

			amyOpen, err := store.Query(ctx, "acme", "u-1", "tickets", map[string]any{"status": "open", "owner": "amy"}, 0)
			if err != nil {
				t.Fatalf("Query compound: %v", err)
			}
			if len(amyOpen) != 1 || amyOpen[0].ID != "t-1" {
				t.Errorf("compound filter = %v", amyOpen)
			}

			all, err := store.Query(ctx, "acme", "u-1", "tickets", nil, 0)
			if err != nil {
				t.Fatalf("Query all: %v", err)
			}
			if len(all) != 3 {
				t.Errorf("all = %d, want 3", len(all))
			}
		})
	}
}

func TestScopeIsolation(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := store.Put(ctx, "acme", "u-1", "tickets", "t-1", map[string]any{"x": "y"}); err != nil {
				t.Fatalf("Put: %v", err)
			}

			if _, err := store.Get(ctx, "globex", "u-1", "tickets", "t-1"); err != ErrNotFound {
				t.Errorf("cross-tenant Get = %v, want ErrNotFound", err)
			}
			other, err := store.Query(ctx, "acme", "u-2", "tickets", nil, 0)
			if err != nil {
				t.Fatalf("Query: %v", err)
			}
			if len(other) != 0 {
				t.Errorf("cross-user Query = %v", other)
			}
		})
	}
}

func TestInvalidCollection(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			for _, bad := range []string{"", "has space", "path/segment", "semi;colon"} {
				if _, err := store.Put(ctx, "acme", "u-1", bad, "id", nil); err != ErrInvalidCollection {
					t.Errorf("Put(%q) err = %v, want ErrInvalidCollection", bad, err)
				}
			}
		})
	}
}
