package usage

import (
	"context"
	"sync"
	"time"

	"github.com/parleyhq/parley/pkg/models"
)

// MemoryLedger is an in-memory Ledger for development and tests.
type MemoryLedger struct {
	mu      sync.RWMutex
	records []models.UsageRecord
	now     func() time.Time
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{now: time.Now}
}

// SetClock overrides the ledger clock, for tests.
func (l *MemoryLedger) SetClock(now func() time.Time) { l.now = now }

func (l *MemoryLedger) Record(ctx context.Context, rec *models.UsageRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	stamp(rec, l.now())
	l.records = append(l.records, *rec)
	return nil
}

func (l *MemoryLedger) RequestsSince(ctx context.Context, tenantID, userID string, since time.Time) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	count := 0
	for i := range l.records {
		rec := &l.records[i]
		if rec.TenantID == tenantID && rec.UserID == userID && !rec.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (l *MemoryLedger) TokensOnDate(ctx context.Context, tenantID, userID, date string) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	total := 0
	for i := range l.records {
		rec := &l.records[i]
		if rec.TenantID == tenantID && rec.UserID == userID && rec.Date == date {
			total += rec.InputTokens + rec.OutputTokens
		}
	}
	return total, nil
}

func (l *MemoryLedger) TenantWindow(ctx context.Context, tenantID string, since time.Time) (*Window, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	window := &Window{}
	for i := range l.records {
		rec := &l.records[i]
		if rec.TenantID == tenantID && !rec.CreatedAt.Before(since) {
			window.Requests++
			window.InputTokens += rec.InputTokens
			window.OutputTokens += rec.OutputTokens
			window.CostUSD += rec.CostUSD
		}
	}
	return window, nil
}

func (l *MemoryLedger) RecentRecords(ctx context.Context, tenantID string, since time.Time, limit int) ([]*models.UsageRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := []*models.UsageRecord{}
	// Records are append-ordered; walk backwards for newest first.
	for i := len(l.records) - 1; i >= 0 && len(out) < limit; i-- {
		rec := l.records[i]
		if rec.TenantID == tenantID && !rec.CreatedAt.Before(since) {
			copied := rec
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (l *MemoryLedger) Close() error { return nil }
