package objectstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/parleyhq/parley/pkg/models"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]*Object
}

// NewMemoryStore creates an empty in-memory object store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]*Object)}
}

func (s *MemoryStore) Put(ctx context.Context, scope models.TenantContext, key string, data []byte, contentType string) (string, error) {
	scoped, err := ScopedKey(scope, key)
	if err != nil {
		return "", err
	}
	if len(data) > MaxObjectSize {
		return "", ErrObjectTooLarge
	}

	stored := &Object{
		Key:         scoped,
		ContentType: contentType,
		Size:        len(data),
		Data:        append([]byte(nil), data...),
	}
	s.mu.Lock()
	s.objects[scoped] = stored
	s.mu.Unlock()
	return scoped, nil
}

func (s *MemoryStore) Get(ctx context.Context, scope models.TenantContext, key string) (*Object, error) {
	scoped, err := ScopedKey(scope, key)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[scoped]
	if !ok {
		return nil, ErrNotFound
	}
	return &Object{
		Key:         obj.Key,
		ContentType: obj.ContentType,
		Size:        obj.Size,
		Data:        append([]byte(nil), obj.Data...),
	}, nil
}

func (s *MemoryStore) Delete(ctx context.Context, scope models.TenantContext, key string) error {
	scoped, err := ScopedKey(scope, key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[scoped]; !ok {
		return ErrNotFound
	}
	delete(s.objects, scoped)
	return nil
}

func (s *MemoryStore) List(ctx context.Context, scope models.TenantContext, prefix string) ([]string, error) {
	scopePrefix := scope.TenantID + "/" + scope.UserID + "/"
	if cleaned := cleanKey(prefix); cleaned != "" {
		scopePrefix += cleaned
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := []string{}
	for key := range s.objects {
		if strings.HasPrefix(key, scopePrefix) {
			keys = append(keys, stripScope(scope, key))
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *MemoryStore) Close() error { return nil }
