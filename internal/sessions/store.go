// Package sessions persists conversation threads and their messages. Every
// operation is keyed by the full (tenant, user, session) triple so one
// tenant's sessions are unreachable from another's queries.
package sessions

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/pkg/models"
)

// ErrNotFound is returned when a session does not exist for the caller's
// scope. A session that exists under another tenant is indistinguishable
// from one that never existed.
var ErrNotFound = errors.New("session not found")

// DefaultListLimit bounds List when the caller does not specify a limit.
const DefaultListLimit = 50

// MaxListLimit is the hard ceiling on page size.
const MaxListLimit = 200

// Store is the session persistence interface. Implementations must be safe
// for concurrent use and must preserve message order and the tool call and
// result structure of each message exactly.
type Store interface {
	// Create persists a new session. Missing ID and timestamps are filled
	// in.
	Create(ctx context.Context, session *models.Session) error

	// Get returns a session by scope. Deleted sessions report ErrNotFound.
	Get(ctx context.Context, tenantID, userID, sessionID string) (*models.Session, error)

	// Update persists mutable session fields (title, status, counters).
	// Concurrent updates are last-writer-wins per field set.
	Update(ctx context.Context, session *models.Session) error

	// Delete soft-deletes a session. Its messages stop being readable but
	// stay on disk for the retention sweep.
	Delete(ctx context.Context, tenantID, userID, sessionID string) error

	// List returns the scope's active sessions, most recently updated
	// first.
	List(ctx context.Context, tenantID, userID string, limit, offset int) ([]*models.Session, error)

	// AppendMessage adds one message to a session and bumps its message
	// count and update time.
	AppendMessage(ctx context.Context, tenantID, userID, sessionID string, msg *models.Message) error

	// Messages returns a session's messages in append order. A deleted or
	// unknown session yields an empty slice, not an error.
	Messages(ctx context.Context, tenantID, userID, sessionID string) ([]*models.Message, error)

	// Close releases backing resources.
	Close() error
}

// NewSession builds a session owned by the given scope with generated ID and
// timestamps.
func NewSession(tenantID, userID, title string) *models.Session {
	now := time.Now().UTC()
	return &models.Session{
		TenantID:  tenantID,
		UserID:    userID,
		ID:        uuid.New().String(),
		Title:     title,
		Status:    models.SessionActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// DeriveTitle produces a session title from the first user message: the
// first line, trimmed to 80 runes.
func DeriveTitle(content string) string {
	line := content
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	line = strings.TrimSpace(line)
	runes := []rune(line)
	if len(runes) > 80 {
		return string(runes[:77]) + "..."
	}
	return line
}

// clampLimit normalizes a caller-supplied page size.
func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

// stampSession fills generated session fields before first persist.
func stampSession(session *models.Session) {
	now := time.Now().UTC()
	if session.ID == "" {
		session.ID = uuid.New().String()
	}
	if session.Status == "" {
		session.Status = models.SessionActive
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	if session.UpdatedAt.IsZero() {
		session.UpdatedAt = now
	}
}

// stampMessage fills generated message fields before first persist.
func stampMessage(msg *models.Message, sessionID string) {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.SessionID == "" {
		msg.SessionID = sessionID
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
}
