// Package records stores small structured JSON documents grouped into named
// collections, scoped per (tenant, user). It backs the records_* tools.
package records

import (
	"context"
	"errors"
	"reflect"
	"regexp"
	"time"
)

// ErrNotFound is returned when no record exists at the given id.
var ErrNotFound = errors.New("record not found")

// ErrInvalidCollection is returned for collection names outside the allowed
// character set.
var ErrInvalidCollection = errors.New("invalid collection name")

// MaxRecordSize caps one record's JSON payload (256KB).
const MaxRecordSize = 256 << 10

var collectionPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// ValidCollection reports whether a collection name is acceptable.
func ValidCollection(name string) bool {
	return collectionPattern.MatchString(name)
}

// Record is one stored document.
type Record struct {
	Collection string         `json:"collection"`
	ID         string         `json:"id"`
	Data       map[string]any `json:"data"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Store is the record persistence interface. Implementations must be safe
// for concurrent use.
type Store interface {
	// Put creates or replaces a record.
	Put(ctx context.Context, tenantID, userID, collection, id string, data map[string]any) (*Record, error)

	// Get returns one record by id.
	Get(ctx context.Context, tenantID, userID, collection, id string) (*Record, error)

	// Query returns records in a collection whose data matches every
	// filter field by equality, newest first, capped at limit.
	Query(ctx context.Context, tenantID, userID, collection string, filter map[string]any, limit int) ([]*Record, error)

	// Close releases backing resources.
	Close() error
}

// matches reports whether data satisfies every filter field by deep
// equality. Numeric JSON values compare as float64.
func matches(data, filter map[string]any) bool {
	for key, want := range filter {
		got, ok := data[key]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 200 {
		return 200
	}
	return limit
}
