package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const recordSchema = `
CREATE TABLE IF NOT EXISTS records (
	tenant_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	collection TEXT NOT NULL,
	id TEXT NOT NULL,
	data TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	PRIMARY KEY (tenant_id, user_id, collection, id)
);
CREATE INDEX IF NOT EXISTS idx_records_collection
	ON records(tenant_id, user_id, collection, updated_at);
`

// SQLiteStore is the durable record store. Filters are applied in memory
// after a collection scan; collections are small by construction
// (MaxRecordSize, per-user scoping).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the record database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open records db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(recordSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate records db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Put(ctx context.Context, tenantID, userID, collection, id string, data map[string]any) (*Record, error) {
	if !ValidCollection(collection) {
		return nil, ErrInvalidCollection
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	if len(payload) > MaxRecordSize {
		return nil, fmt.Errorf("record exceeds maximum size of %d bytes", MaxRecordSize)
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO records (tenant_id, user_id, collection, id, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, user_id, collection, id) DO UPDATE SET
			data = excluded.data,
			updated_at = excluded.updated_at`,
		tenantID, userID, collection, id, string(payload), now, now)
	if err != nil {
		return nil, fmt.Errorf("put record: %w", err)
	}

	return s.Get(ctx, tenantID, userID, collection, id)
}

func (s *SQLiteStore) Get(ctx context.Context, tenantID, userID, collection, id string) (*Record, error) {
	if !ValidCollection(collection) {
		return nil, ErrInvalidCollection
	}

	rec := &Record{Collection: collection, ID: id}
	var payload string
	err := s.db.QueryRowContext(ctx, `
		SELECT data, created_at, updated_at FROM records
		WHERE tenant_id = ? AND user_id = ? AND collection = ? AND id = ?`,
		tenantID, userID, collection, id).Scan(&payload, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	if err := json.Unmarshal([]byte(payload), &rec.Data); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) Query(ctx context.Context, tenantID, userID, collection string, filter map[string]any, limit int) ([]*Record, error) {
	if !ValidCollection(collection) {
		return nil, ErrInvalidCollection
	}
	limit = clampLimit(limit)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, data, created_at, updated_at FROM records
		WHERE tenant_id = ? AND user_id = ? AND collection = ?
		ORDER BY updated_at DESC`,
		tenantID, userID, collection)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	matched := []*Record{}
	for rows.Next() {
		rec := &Record{Collection: collection}
		var payload string
		if err := rows.Scan(&rec.ID, &payload, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &rec.Data); err != nil {
			return nil, fmt.Errorf("unmarshal record: %w", err)
		}
		if !matches(rec.Data, filter) {
			continue
		}
		matched = append(matched, rec)
		if len(matched) >= limit {
			break
		}
	}
	return matched, rows.Err()
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
