package sessions

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/parleyhq/parley/pkg/models"
)

// stores returns each implementation under test, keyed by name.
func stores(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			session := NewSession("acme", "u-1", "first chat")
			if err := store.Create(ctx, session); err != nil {
				t.Fatalf("Create: %v", err)
			}

			got, err := store.Get(ctx, "acme", "u-1", session.ID)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if got.Title != "first chat" || got.Status != models.SessionActive {
				t.Errorf("session = %+v", got)
			}

			got.Title = "renamed"
			got.TotalTokens = 123
			if err := store.Update(ctx, got); err != nil {
				t.Fatalf("Update: %v", err)
			}
			got, err = store.Get(ctx, "acme", "u-1", session.ID)
			if err != nil {
				t.Fatalf("Get after update: %v", err)
			}
			if got.Title != "renamed" || got.TotalTokens != 123 {
				t.Errorf("after update = %+v", got)
			}
		})
	}
}

func TestDeleteHidesSessionAndMessages(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			session := NewSession("acme", "u-1", "doomed")
			if err := store.Create(ctx, session); err != nil {
				t.Fatalf("Create: %v", err)
			}
			if err := store.AppendMessage(ctx, "acme", "u-1", session.ID, &models.Message{
				Role: models.RoleUser, Content: "hello",
			}); err != nil {
				t.Fatalf("AppendMessage: %v", err)
			}

			if err := store.Delete(ctx, "acme", "u-1", session.ID); err != nil {
				t.Fatalf("Delete: %v", err)
			}

			if _, err := store.Get(ctx, "acme", "u-1", session.ID); err != ErrNotFound {
				t.Errorf("Get after delete = %v, want ErrNotFound", err)
			}
			msgs, err := store.Messages(ctx, "acme", "u-1", session.ID)
			if err != nil {
				t.Fatalf("Messages after delete: %v", err)
			}
			if len(msgs) != 0 {
				t.Errorf("messages after delete = %d, want 0", len(msgs))
			}

			if err := store.Delete(ctx, "acme", "u-1", session.ID); err != ErrNotFound {
				t.Errorf("double delete = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStructuredMessagesRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			session := NewSession("acme", "u-1", "tools")
			if err := store.Create(ctx, session); err != nil {
				t.Fatalf("Create: %v", err)
			}

			assistant := &models.Message{
				Role:    models.RoleAssistant,
				Content: "let me check",
				ToolCalls: []models.ToolCall{
					{ID: "tc-1", Name: "storage_read", Input: json.RawMessage(`{"key":"notes/a.md"}`)},
				},
			}
			followup := &models.Message{
				Role: models.RoleUser,
				ToolResults: []models.ToolResult{
					{ToolCallID: "tc-1", Content: "file contents", IsError: false},
				},
			}
			for _, msg := range []*models.Message{assistant, followup} {
				if err := store.AppendMessage(ctx, "acme", "u-1", session.ID, msg); err != nil {
					t.Fatalf("AppendMessage: %v", err)
				}
			}

			msgs, err := store.Messages(ctx, "acme", "u-1", session.ID)
			if err != nil {
				t.Fatalf("Messages: %v", err)
			}
			if len(msgs) != 2 {
				t.Fatalf("messages = %d, want 2", len(msgs))
			}
			if msgs[0].Role != models.RoleAssistant || len(msgs[0].ToolCalls) != 1 {
				t.Errorf("first message = %+v", msgs[0])
			}
			if got := string(msgs[0].ToolCalls[0].Input); got != `{"key":"notes/a.md"}` {
				t.Errorf("tool input = %s", got)
			}
			if len(msgs[1].ToolResults) != 1 || msgs[1].ToolResults[0].ToolCallID != "tc-1" {
				t.Errorf("second message = %+v", msgs[1])
			}

			got, err := store.Get(ctx, "acme", "u-1", session.ID)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if got.MessageCount != 2 {
				t.Errorf("message count = %d, want 2", got.MessageCount)
			}
		})
	}
}

func TestTenantIsolation(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			session := NewSession("acme", "u-1", "private")
			if err := store.Create(ctx, session); err != nil {
				t.Fatalf("Create: %v", err)
			}

			// Same session id under a different tenant or user does not
			// resolve.
			if _, err := store.Get(ctx, "globex", "u-1", session.ID); err != ErrNotFound {
				t.Errorf("cross-tenant Get = %v, want ErrNotFound", err)
			}
			if _, err := store.Get(ctx, "acme", "u-2", session.ID); err != ErrNotFound {
				t.Errorf("cross-user Get = %v, want ErrNotFound", err)
			}

			others, err := store.List(ctx, "globex", "u-1", 0, 0)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(others) != 0 {
				t.Errorf("cross-tenant List = %d sessions", len(others))
			}
		})
	}
}

func TestListPagination(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 5; i++ {
				session := NewSession("acme", "u-1", "chat")
				session.UpdatedAt = time.Date(2025, 3, 10, 12, i, 0, 0, time.UTC)
				session.CreatedAt = session.UpdatedAt
				if err := store.Create(ctx, session); err != nil {
					t.Fatalf("Create: %v", err)
				}
			}

			page, err := store.List(ctx, "acme", "u-1", 2, 0)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(page) != 2 {
				t.Fatalf("page = %d sessions, want 2", len(page))
			}
			// Newest first.
			if !page[0].UpdatedAt.After(page[1].UpdatedAt) {
				t.Errorf("page out of order: %v then %v", page[0].UpdatedAt, page[1].UpdatedAt)
			}

			rest, err := store.List(ctx, "acme", "u-1", 10, 2)
			if err != nil {
				t.Fatalf("List offset: %v", err)
			}
			if len(rest) != 3 {
				t.Errorf("rest = %d sessions, want 3", len(rest))
			}

			past, err := store.List(ctx, "acme", "u-1", 10, 99)
			if err != nil {
				t.Fatalf("List past end: %v", err)
			}
			if len(past) != 0 {
				t.Errorf("past end = %d sessions", len(past))
			}
		})
	}
}

func TestDeriveTitle(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"short question", "short question"},
		{"first line\nsecond line", "first line"},
		{"  padded  \n", "padded"},
	}
	for _, tc := range cases {
		if got := DeriveTitle(tc.in); got != tc.want {
			t.Errorf("DeriveTitle(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}

	long := DeriveTitle(strings.Repeat("x", 100))
	if len([]rune(long)) != 80 {
		t.Errorf("long title length = %d, want 80", len([]rune(long)))
	}
}

func TestCachedStore(t *testing.T) {
	ctx := context.Background()
	backing := NewMemoryStore()
	cached := NewCachedStore(backing, time.Minute)
	base := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	now := base
	cached.SetClock(func() time.Time { return now })

	session := NewSession("acme", "u-1", "cached")
	if err := cached.Create(ctx, session); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Mutate the backing store directly; the cached read still serves the
	// old copy until the TTL lapses.
	direct, err := backing.Get(ctx, "acme", "u-1", session.ID)
	if err != nil {
		t.Fatalf("backing Get: %v", err)
	}
	direct.Title = "changed underneath"
	if err := backing.Update(ctx, direct); err != nil {
		t.Fatalf("backing Update: %v", err)
	}

	got, err := cached.Get(ctx, "acme", "u-1", session.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Title != "cached" {
		t.Errorf("title = %q, want cached copy", got.Title)
	}

	now = base.Add(2 * time.Minute)
	got, err = cached.Get(ctx, "acme", "u-1", session.ID)
	if err != nil {
		t.Fatalf("Get after expiry: %v", err)
	}
	if got.Title != "changed underneath" {
		t.Errorf("title = %q, want refreshed copy", got.Title)
	}

	// Deletes drop the cache entry immediately.
	if err := cached.Delete(ctx, "acme", "u-1", session.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := cached.Get(ctx, "acme", "u-1", session.ID); err != ErrNotFound {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
}

func TestPurgeDeleted(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer store.Close()

	keep := NewSession("acme", "u-1", "keep")
	doomed := NewSession("acme", "u-1", "doomed")
	for _, s := range []*models.Session{keep, doomed} {
		if err := store.Create(ctx, s); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	if err := store.AppendMessage(ctx, "acme", "u-1", doomed.ID, &models.Message{Role: models.RoleUser, Content: "bye"}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if err := store.Delete(ctx, "acme", "u-1", doomed.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	purged, err := store.PurgeDeleted(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("PurgeDeleted: %v", err)
	}
	if purged != 1 {
		t.Errorf("purged = %d, want 1", purged)
	}
	if _, err := store.Get(ctx, "acme", "u-1", keep.ID); err != nil {
		t.Errorf("active session lost to purge: %v", err)
	}
}
