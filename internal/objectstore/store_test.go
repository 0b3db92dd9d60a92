package objectstore

import (
	"bytes"
	"context"
	"testing"

	"github.com/parleyhq/parley/pkg/models"
)

func scopeFor(tenant, user string) models.TenantContext {
	return models.TenantContext{TenantID: tenant, UserID: user}
}

func TestScopedKey(t *testing.T) {
	scope := scopeFor("acme", "u-1")
	cases := []struct {
		name string
		key  string
		want string
	}{
		{"plain", "notes/a.md", "acme/u-1/notes/a.md"},
		{"leading slash", "/notes/a.md", "acme/u-1/notes/a.md"},
		{"traversal", "../../globex/u-9/secret", "acme/u-1/globex/u-9/secret"},
		{"dot segments", "./a/./b", "acme/u-1/a/b"},
		{"backslashes", `..\..\windows\system`, "acme/u-1/windows/system"},
		{"double slashes", "a//b", "acme/u-1/a/b"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ScopedKey(scope, tc.key)
			if err != nil {
				t.Fatalf("ScopedKey(%q): %v", tc.key, err)
			}
			if got != tc.want {
				t.Errorf("ScopedKey(%q) = %q, want %q", tc.key, got, tc.want)
			}
		})
	}
}

func TestScopedKeyRejects(t *testing.T) {
	scope := scopeFor("acme", "u-1")
	for _, key := range []string{"", "/", "..", "../..", "."} {
		if _, err := ScopedKey(scope, key); err != ErrInvalidKey {
			t.Errorf("ScopedKey(%q) err = %v, want ErrInvalidKey", key, err)
		}
	}
	if _, err := ScopedKey(scopeFor("", "u-1"), "a"); err != ErrInvalidKey {
		t.Errorf("missing tenant err = %v, want ErrInvalidKey", err)
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	scope := scopeFor("acme", "u-1")

	key, err := store.Put(ctx, scope, "notes/a.md", []byte("# hello"), "text/markdown")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if key != "acme/u-1/notes/a.md" {
		t.Errorf("stored key = %q", key)
	}

	obj, err := store.Get(ctx, scope, "notes/a.md")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(obj.Data, []byte("# hello")) || obj.ContentType != "text/markdown" {
		t.Errorf("object = %+v", obj)
	}

	if err := store.Delete(ctx, scope, "notes/a.md"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, scope, "notes/a.md"); err != ErrNotFound {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
}

func TestTenantIsolation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	acme := scopeFor("acme", "u-1")
	globex := scopeFor("globex", "u-1")

	if _, err := store.Put(ctx, acme, "shared-name.txt", []byte("acme data"), ""); err != nil {
		t.Fatalf("Put: %v", err)
	}

	// Another tenant using the same relative key sees nothing.
	if _, err := store.Get(ctx, globex, "shared-name.txt"); err != ErrNotFound {
		t.Errorf("cross-tenant Get = %v, want ErrNotFound", err)
	}

	// A traversal attempt from globex lands inside globex's own prefix.
	if _, err := store.Get(ctx, globex, "../../acme/u-1/shared-name.txt"); err != ErrNotFound {
		t.Errorf("traversal Get = %v, want ErrNotFound", err)
	}

	// Same tenant, different user: also isolated.
	other := scopeFor("acme", "u-2")
	if _, err := store.Get(ctx, other, "shared-name.txt"); err != ErrNotFound {
		t.Errorf("cross-user Get = %v, want ErrNotFound", err)
	}

	keys, err := store.List(ctx, globex, "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("cross-tenant List = %v", keys)
	}
}

func TestListReturnsRelativeKeys(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	scope := scopeFor("acme", "u-1")

	for _, key := range []string{"notes/a.md", "notes/b.md", "docs/report.pdf"} {
		if _, err := store.Put(ctx, scope, key, []byte("x"), ""); err != nil {
			t.Fatalf("Put %s: %v", key, err)
		}
	}

	keys, err := store.List(ctx, scope, "notes/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 2 || keys[0] != "notes/a.md" || keys[1] != "notes/b.md" {
		t.Errorf("List = %v", keys)
	}

	all, err := store.List(ctx, scope, "")
	if err != nil {
		t.Fatalf("List all: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("List all = %v", all)
	}
}

func TestPutSizeLimit(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	scope := scopeFor("acme", "u-1")

	big := make([]byte, MaxObjectSize+1)
	if _, err := store.Put(ctx, scope, "big.bin", big, ""); err != ErrObjectTooLarge {
		t.Errorf("oversized put err = %v, want ErrObjectTooLarge", err)
	}
}
