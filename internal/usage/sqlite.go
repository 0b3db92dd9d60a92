package usage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/parleyhq/parley/pkg/models"
)

const usageSchema = `
CREATE TABLE IF NOT EXISTS usage_records (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	session_id TEXT NOT NULL DEFAULT '',
	date TEXT NOT NULL,
	input_tokens INTEGER NOT NULL,
	output_tokens INTEGER NOT NULL,
	cost_usd REAL NOT NULL,
	model TEXT NOT NULL DEFAULT '',
	tools_used TEXT NOT NULL DEFAULT '[]',
	response_time_ms INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_user_created
	ON usage_records(tenant_id, user_id, created_at);

CREATE TABLE IF NOT EXISTS usage_daily (
	tenant_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	date TEXT NOT NULL,
	requests INTEGER NOT NULL DEFAULT 0,
	input_tokens INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	cost_usd REAL NOT NULL DEFAULT 0,
	PRIMARY KEY (tenant_id, user_id, date)
);
`

// SQLiteLedger is the durable Ledger implementation. Each Record call writes
// the append-only row and upserts the daily aggregate in one transaction, so
// the aggregate can never drift from the records.
type SQLiteLedger struct {
	db *sql.DB
}

// NewSQLiteLedger opens (or creates) the ledger database at path.
func NewSQLiteLedger(path string) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open usage db: %w", err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent recorders.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(usageSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate usage db: %w", err)
	}
	return &SQLiteLedger{db: db}, nil
}

func (l *SQLiteLedger) Record(ctx context.Context, rec *models.UsageRecord) error {
	stamp(rec, time.Now())

	tools, err := json.Marshal(rec.ToolsUsed)
	if err != nil {
		return fmt.Errorf("marshal tools_used: %w", err)
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin usage tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO usage_records
			(id, tenant_id, user_id, session_id, date, input_tokens, output_tokens,
			 cost_usd, model, tools_used, response_time_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.TenantID, rec.UserID, rec.SessionID, rec.Date,
		rec.InputTokens, rec.OutputTokens, rec.CostUSD, rec.Model,
		string(tools), rec.ResponseTimeMS, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO usage_daily (tenant_id, user_id, date, requests, input_tokens, output_tokens, cost_usd)
		VALUES (?, ?, ?, 1, ?, ?, ?)
		ON CONFLICT(tenant_id, user_id, date) DO UPDATE SET
			requests = requests + 1,
			input_tokens = input_tokens + excluded.input_tokens,
			output_tokens = output_tokens + excluded.output_tokens,
			cost_usd = cost_usd + excluded.cost_usd`,
		rec.TenantID, rec.UserID, rec.Date,
		rec.InputTokens, rec.OutputTokens, rec.CostUSD)
	if err != nil {
		return fmt.Errorf("upsert usage daily: %w", err)
	}

	return tx.Commit()
}

func (l *SQLiteLedger) RequestsSince(ctx context.Context, tenantID, userID string, since time.Time) (int, error) {
	var count int
	err := l.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM usage_records
		WHERE tenant_id = ? AND user_id = ? AND created_at >= ?`,
		tenantID, userID, since.UTC()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count requests: %w", err)
	}
	return count, nil
}

func (l *SQLiteLedger) TokensOnDate(ctx context.Context, tenantID, userID, date string) (int, error) {
	var input, output int
	err := l.db.QueryRowContext(ctx, `
		SELECT input_tokens, output_tokens FROM usage_daily
		WHERE tenant_id = ? AND user_id = ? AND date = ?`,
		tenantID, userID, date).Scan(&input, &output)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read daily tokens: %w", err)
	}
	return input + output, nil
}

func (l *SQLiteLedger) TenantWindow(ctx context.Context, tenantID string, since time.Time) (*Window, error) {
	window := &Window{}
	err := l.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0), COALESCE(SUM(cost_usd), 0)
		FROM usage_records
		WHERE tenant_id = ? AND created_at >= ?`,
		tenantID, since.UTC()).Scan(&window.Requests, &window.InputTokens, &window.OutputTokens, &window.CostUSD)
	if err != nil {
		return nil, fmt.Errorf("aggregate tenant window: %w", err)
	}
	return window, nil
}

func (l *SQLiteLedger) RecentRecords(ctx context.Context, tenantID string, since time.Time, limit int) ([]*models.UsageRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, tenant_id, user_id, session_id, date, input_tokens, output_tokens,
		       cost_usd, model, tools_used, response_time_ms, created_at
		FROM usage_records
		WHERE tenant_id = ? AND created_at >= ?
		ORDER BY created_at DESC
		LIMIT ?`,
		tenantID, since.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("list recent records: %w", err)
	}
	defer rows.Close()

	records := []*models.UsageRecord{}
	for rows.Next() {
		rec := &models.UsageRecord{}
		var tools string
		if err := rows.Scan(&rec.ID, &rec.TenantID, &rec.UserID, &rec.SessionID, &rec.Date,
			&rec.InputTokens, &rec.OutputTokens, &rec.CostUSD, &rec.Model,
			&tools, &rec.ResponseTimeMS, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan usage record: %w", err)
		}
		if err := json.Unmarshal([]byte(tools), &rec.ToolsUsed); err != nil {
			return nil, fmt.Errorf("unmarshal tools_used: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (l *SQLiteLedger) Close() error { return l.db.Close() }
