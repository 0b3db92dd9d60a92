// Package usage is the append-only usage ledger. Every completed chat
// turn writes one record; rate limiting and admin reporting are derived
// from window queries over the ledger rather than from stored counters.
package usage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/pkg/models"
)

// Window aggregates ledger entries over a query window.
type Window struct {
	Requests     int     `json:"requests"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// TotalTokens returns input plus output tokens for the window.
func (w Window) TotalTokens() int { return w.InputTokens + w.OutputTokens }

// Ledger records usage and answers window queries. Implementations must be
// safe for concurrent use.
type Ledger interface {
	// Record appends one usage entry and folds it into the daily aggregate
	// for its (tenant, user, date) atomically.
	Record(ctx context.Context, rec *models.UsageRecord) error

	// RequestsSince counts a user's requests recorded at or after the given
	// instant. Backs the hourly request limit.
	RequestsSince(ctx context.Context, tenantID, userID string, since time.Time) (int, error)

	// TokensOnDate returns a user's total tokens for a UTC date (YYYY-MM-DD),
	// read from the daily aggregate. Backs the daily token limit.
	TokensOnDate(ctx context.Context, tenantID, userID, date string) (int, error)

	// TenantWindow aggregates all of a tenant's usage at or after the given
	// instant. Backs admin reporting.
	TenantWindow(ctx context.Context, tenantID string, since time.Time) (*Window, error)

	// RecentRecords returns a tenant's newest records at or after the given
	// instant, newest first, capped at limit. Admin dashboards derive
	// per-user and per-tool breakdowns from these in memory.
	RecentRecords(ctx context.Context, tenantID string, since time.Time, limit int) ([]*models.UsageRecord, error)

	// Close releases backing resources.
	Close() error
}

// DateOf formats an instant as the ledger's UTC date key.
func DateOf(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// stamp fills in the generated fields of a record before it is persisted.
func stamp(rec *models.UsageRecord, now time.Time) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now.UTC()
	}
	if rec.Date == "" {
		rec.Date = DateOf(rec.CreatedAt)
	}
}
