// Package objectstore holds tenant-scoped file storage. Every key a caller
// supplies is coerced under its {tenant_id}/{user_id}/ prefix before it
// touches the backend, so no key syntax can reach another tenant's objects.
package objectstore

import (
	"context"
	"errors"
	"path"
	"strings"

	"github.com/parleyhq/parley/pkg/models"
)

// ErrNotFound is returned when no object exists at the scoped key.
var ErrNotFound = errors.New("object not found")

// ErrInvalidKey is returned for keys that cannot be scoped, such as an
// empty key or one that is nothing but traversal segments.
var ErrInvalidKey = errors.New("invalid object key")

// ErrObjectTooLarge is returned when a put exceeds MaxObjectSize.
var ErrObjectTooLarge = errors.New("object exceeds maximum size")

// MaxObjectSize caps a single stored object (10MB).
const MaxObjectSize = 10 << 20

// Object is a stored blob with its scoped key.
type Object struct {
	Key         string `json:"key"`
	ContentType string `json:"content_type,omitempty"`
	Size        int    `json:"size"`
	Data        []byte `json:"-"`
}

// Store is the tenant-scoped object storage interface. Keys passed in are
// caller-relative; implementations receive them already scoped.
type Store interface {
	Put(ctx context.Context, scope models.TenantContext, key string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, scope models.TenantContext, key string) (*Object, error)
	Delete(ctx context.Context, scope models.TenantContext, key string) error
	List(ctx context.Context, scope models.TenantContext, prefix string) ([]string, error)
	Close() error
}

// ScopedKey rewrites a caller-supplied key under the scope's prefix.
// Traversal segments and redundant slashes are cleaned away first, then the
// prefix is applied unconditionally: a caller who writes "../other/x" or
// "/etc/passwd" gets a key inside their own prefix, not an error. Only keys
// with no usable segments at all are rejected.
func ScopedKey(scope models.TenantContext, key string) (string, error) {
	cleaned := cleanKey(key)
	if cleaned == "" {
		return "", ErrInvalidKey
	}
	if scope.TenantID == "" || scope.UserID == "" {
		return "", ErrInvalidKey
	}
	return scope.TenantID + "/" + scope.UserID + "/" + cleaned, nil
}

// cleanKey strips traversal and absolute-path syntax, returning the safe
// relative remainder.
func cleanKey(key string) string {
	key = strings.ReplaceAll(key, "\\", "/")
	cleaned := path.Clean("/" + key)
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "." || cleaned == "" {
		return ""
	}
	return cleaned
}

// stripScope converts a fully scoped backend key back to the caller-relative
// form for listings.
func stripScope(scope models.TenantContext, scoped string) string {
	prefix := scope.TenantID + "/" + scope.UserID + "/"
	return strings.TrimPrefix(scoped, prefix)
}
