package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/parleyhq/parley/pkg/models"
)

const sessionSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	tenant_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	id TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'active',
	message_count INTEGER NOT NULL DEFAULT 0,
	total_tokens INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	PRIMARY KEY (tenant_id, user_id, id)
);
CREATE INDEX IF NOT EXISTS idx_sessions_scope_updated
	ON sessions(tenant_id, user_id, status, updated_at);

CREATE TABLE IF NOT EXISTS messages (
	tenant_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	session_id TEXT NOT NULL,
	id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL DEFAULT '',
	tool_calls TEXT NOT NULL DEFAULT '[]',
	tool_results TEXT NOT NULL DEFAULT '[]',
	created_at TIMESTAMP NOT NULL,
	seq INTEGER PRIMARY KEY AUTOINCREMENT
);
CREATE INDEX IF NOT EXISTS idx_messages_session
	ON messages(tenant_id, user_id, session_id, seq);
`

// SQLiteStore is the durable Store implementation. Tool calls and results
// are stored as JSON columns alongside the message text so structured turns
// round-trip exactly.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the session database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sessions db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sessionSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sessions db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Create(ctx context.Context, session *models.Session) error {
	stampSession(session)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (tenant_id, user_id, id, title, status, message_count, total_tokens, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.TenantID, session.UserID, session.ID, session.Title, string(session.Status),
		session.MessageCount, session.TotalTokens, session.CreatedAt, session.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, tenantID, userID, sessionID string) (*models.Session, error) {
	session := &models.Session{}
	var status string
	err := s.db.QueryRowContext(ctx, `
		SELECT tenant_id, user_id, id, title, status, message_count, total_tokens, created_at, updated_at
		FROM sessions
		WHERE tenant_id = ? AND user_id = ? AND id = ? AND status = 'active'`,
		tenantID, userID, sessionID).Scan(
		&session.TenantID, &session.UserID, &session.ID, &session.Title, &status,
		&session.MessageCount, &session.TotalTokens, &session.CreatedAt, &session.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	session.Status = models.SessionStatus(status)
	return session, nil
}

func (s *SQLiteStore) Update(ctx context.Context, session *models.Session) error {
	session.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET title = ?, message_count = ?, total_tokens = ?, updated_at = ?
		WHERE tenant_id = ? AND user_id = ? AND id = ? AND status = 'active'`,
		session.Title, session.MessageCount, session.TotalTokens, session.UpdatedAt,
		session.TenantID, session.UserID, session.ID)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, tenantID, userID, sessionID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET status = 'deleted', updated_at = ?
		WHERE tenant_id = ? AND user_id = ? AND id = ? AND status = 'active'`,
		time.Now().UTC(), tenantID, userID, sessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, tenantID, userID string, limit, offset int) ([]*models.Session, error) {
	limit = clampLimit(limit)
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant_id, user_id, id, title, status, message_count, total_tokens, created_at, updated_at
		FROM sessions
		WHERE tenant_id = ? AND user_id = ? AND status = 'active'
		ORDER BY updated_at DESC
		LIMIT ? OFFSET ?`,
		tenantID, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []*models.Session{}
	for rows.Next() {
		session := &models.Session{}
		var status string
		if err := rows.Scan(
			&session.TenantID, &session.UserID, &session.ID, &session.Title, &status,
			&session.MessageCount, &session.TotalTokens, &session.CreatedAt, &session.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		session.Status = models.SessionStatus(status)
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, tenantID, userID, sessionID string, msg *models.Message) error {
	stampMessage(msg, sessionID)

	toolCalls, err := json.Marshal(msg.ToolCalls)
	if err != nil {
		return fmt.Errorf("marshal tool_calls: %w", err)
	}
	toolResults, err := json.Marshal(msg.ToolResults)
	if err != nil {
		return fmt.Errorf("marshal tool_results: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE sessions SET message_count = message_count + 1, updated_at = ?
		WHERE tenant_id = ? AND user_id = ? AND id = ? AND status = 'active'`,
		time.Now().UTC(), tenantID, userID, sessionID)
	if err != nil {
		return fmt.Errorf("bump session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("bump session: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (tenant_id, user_id, session_id, id, role, content, tool_calls, tool_results, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tenantID, userID, sessionID, msg.ID, string(msg.Role), msg.Content,
		string(toolCalls), string(toolResults), msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteStore) Messages(ctx context.Context, tenantID, userID, sessionID string) ([]*models.Message, error) {
	// A deleted or unknown session yields no rows via the status join.
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.session_id, m.id, m.role, m.content, m.tool_calls, m.tool_results, m.created_at
		FROM messages m
		JOIN sessions s ON s.tenant_id = m.tenant_id AND s.user_id = m.user_id AND s.id = m.session_id
		WHERE m.tenant_id = ? AND m.user_id = ? AND m.session_id = ? AND s.status = 'active'
		ORDER BY m.seq ASC`,
		tenantID, userID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := []*models.Message{}
	for rows.Next() {
		msg := &models.Message{}
		var role, toolCalls, toolResults string
		if err := rows.Scan(&msg.SessionID, &msg.ID, &role, &msg.Content, &toolCalls, &toolResults, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Role = models.Role(role)
		if err := json.Unmarshal([]byte(toolCalls), &msg.ToolCalls); err != nil {
			return nil, fmt.Errorf("unmarshal tool_calls: %w", err)
		}
		if err := json.Unmarshal([]byte(toolResults), &msg.ToolResults); err != nil {
			return nil, fmt.Errorf("unmarshal tool_results: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// PurgeDeleted removes soft-deleted sessions older than the cutoff along
// with their messages, and reports how many sessions went away. Called by
// the retention sweep.
func (s *SQLiteStore) PurgeDeleted(ctx context.Context, cutoff time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin purge tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		DELETE FROM messages WHERE (tenant_id, user_id, session_id) IN (
			SELECT tenant_id, user_id, id FROM sessions WHERE status = 'deleted' AND updated_at < ?
		)`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge messages: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		DELETE FROM sessions WHERE status = 'deleted' AND updated_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(affected), nil
}

// PurgeOrphanMessages removes messages whose session row no longer exists.
// Deletes are not transactional across both tables, so a crash can leave
// orphans; this sweep is their eventual cleanup.
func (s *SQLiteStore) PurgeOrphanMessages(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM messages WHERE NOT EXISTS (
			SELECT 1 FROM sessions s
			WHERE s.tenant_id = messages.tenant_id
			  AND s.user_id = messages.user_id
			  AND s.id = messages.session_id
		)`)
	if err != nil {
		return 0, fmt.Errorf("purge orphan messages: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge orphan messages: %w", err)
	}
	return int(affected), nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
