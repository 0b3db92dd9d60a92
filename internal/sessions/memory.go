package sessions

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/parleyhq/parley/pkg/models"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
	messages map[string][]*models.Message
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*models.Session),
		messages: make(map[string][]*models.Message),
	}
}

func sessionKey(tenantID, userID, sessionID string) string {
	return tenantID + "/" + userID + "/" + sessionID
}

func (s *MemoryStore) Create(ctx context.Context, session *models.Session) error {
	stampSession(session)
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *session
	s.sessions[sessionKey(session.TenantID, session.UserID, session.ID)] = &copied
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, tenantID, userID, sessionID string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionKey(tenantID, userID, sessionID)]
	if !ok || session.Status == models.SessionDeleted {
		return nil, ErrNotFound
	}
	copied := *session
	return &copied, nil
}

func (s *MemoryStore) Update(ctx context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := sessionKey(session.TenantID, session.UserID, session.ID)
	existing, ok := s.sessions[key]
	if !ok || existing.Status == models.SessionDeleted {
		return ErrNotFound
	}
	session.UpdatedAt = time.Now().UTC()
	copied := *session
	s.sessions[key] = &copied
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, tenantID, userID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := sessionKey(tenantID, userID, sessionID)
	session, ok := s.sessions[key]
	if !ok || session.Status == models.SessionDeleted {
		return ErrNotFound
	}
	session.Status = models.SessionDeleted
	session.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) List(ctx context.Context, tenantID, userID string, limit, offset int) ([]*models.Session, error) {
	limit = clampLimit(limit)
	if offset < 0 {
		offset = 0
	}

	s.mu.RLock()
	var matched []*models.Session
	for _, session := range s.sessions {
		if session.TenantID == tenantID && session.UserID == userID && session.Status == models.SessionActive {
			copied := *session
			matched = append(matched, &copied)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
	})

	if offset >= len(matched) {
		return []*models.Session{}, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}

func (s *MemoryStore) AppendMessage(ctx context.Context, tenantID, userID, sessionID string, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := sessionKey(tenantID, userID, sessionID)
	session, ok := s.sessions[key]
	if !ok || session.Status == models.SessionDeleted {
		return ErrNotFound
	}
	stampMessage(msg, sessionID)
	copied := *msg
	s.messages[key] = append(s.messages[key], &copied)
	session.MessageCount++
	session.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) Messages(ctx context.Context, tenantID, userID, sessionID string) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key := sessionKey(tenantID, userID, sessionID)
	session, ok := s.sessions[key]
	if !ok || session.Status == models.SessionDeleted {
		return []*models.Message{}, nil
	}
	msgs := s.messages[key]
	out := make([]*models.Message, len(msgs))
	for i, msg := range msgs {
		copied := *msg
		out[i] = &copied
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
