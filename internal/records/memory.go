package records

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryStore creates an empty in-memory record store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func recordKey(tenantID, userID, collection, id string) string {
	return tenantID + "/" + userID + "/" + collection + "/" + id
}

func copyData(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}

func (s *MemoryStore) Put(ctx context.Context, tenantID, userID, collection, id string, data map[string]any) (*Record, error) {
	if !ValidCollection(collection) {
		return nil, ErrInvalidCollection
	}

	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	key := recordKey(tenantID, userID, collection, id)
	rec := &Record{
		Collection: collection,
		ID:         id,
		Data:       copyData(data),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if existing, ok := s.records[key]; ok {
		rec.CreatedAt = existing.CreatedAt
	}
	s.records[key] = rec
	out := *rec
	out.Data = copyData(rec.Data)
	return &out, nil
}

func (s *MemoryStore) Get(ctx context.Context, tenantID, userID, collection, id string) (*Record, error) {
	if !ValidCollection(collection) {
		return nil, ErrInvalidCollection
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[recordKey(tenantID, userID, collection, id)]
	if !ok {
		return nil, ErrNotFound
	}
	out := *rec
	out.Data = copyData(rec.Data)
	return &out, nil
}

func (s *MemoryStore) Query(ctx context.Context, tenantID, userID, collection string, filter map[string]any, limit int) ([]*Record, error) {
	if !ValidCollection(collection) {
		return nil, ErrInvalidCollection
	}
	limit = clampLimit(limit)

	prefix := tenantID + "/" + userID + "/" + collection + "/"
	s.mu.RLock()
	var matched []*Record
	for key, rec := range s.records {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix && matches(rec.Data, filter) {
			out := *rec
			out.Data = copyData(rec.Data)
			matched = append(matched, &out)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *MemoryStore) Close() error { return nil }
