package usage

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/parleyhq/parley/pkg/models"
)

func TestCost(t *testing.T) {
	if got := Cost("claude-sonnet-4-20250514", 0, 0); got != 0 {
		t.Errorf("Cost(0, 0) = %f, want 0", got)
	}

	// 1000 input + 1000 output at sonnet rates.
	got := Cost("claude-sonnet-4-20250514", 1000, 1000)
	want := 0.003 + 0.015
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("Cost = %f, want %f", got, want)
	}

	// Linear in each direction.
	double := Cost("claude-sonnet-4-20250514", 2000, 2000)
	if math.Abs(double-2*got) > 1e-9 {
		t.Errorf("Cost not linear: %f vs 2*%f", double, got)
	}

	// Unknown model is priced, not free.
	if Cost("mystery-model", 1000, 0) == 0 {
		t.Error("unknown model priced at zero")
	}

	if opus, haiku := Cost("claude-opus-4", 1000, 1000), Cost("claude-haiku-4", 1000, 1000); opus <= haiku {
		t.Errorf("opus (%f) should cost more than haiku (%f)", opus, haiku)
	}
}

func TestPricingOverrides(t *testing.T) {
	pricing := NewPricing(map[string]ModelRate{
		"sonnet":                   {InputPer1K: 0.004, OutputPer1K: 0.02},
		"claude-sonnet-4-20250514": {InputPer1K: 0.001, OutputPer1K: 0.005},
	})

	// The exact model id wins over the family override.
	got := pricing.Cost("claude-sonnet-4-20250514", 1000, 1000)
	if want := 0.001 + 0.005; math.Abs(got-want) > 1e-9 {
		t.Errorf("exact id cost = %f, want %f", got, want)
	}

	// Other sonnet models get the family override.
	got = pricing.Cost("claude-sonnet-3-5", 1000, 1000)
	if want := 0.004 + 0.02; math.Abs(got-want) > 1e-9 {
		t.Errorf("family cost = %f, want %f", got, want)
	}

	// Unconfigured families keep builtin rates.
	got = pricing.Cost("claude-opus-4", 1000, 1000)
	if want := 0.015 + 0.075; math.Abs(got-want) > 1e-9 {
		t.Errorf("builtin cost = %f, want %f", got, want)
	}

	// An empty override map matches the builtin table.
	if NewPricing(nil).Cost("claude-haiku-4", 500, 500) != Cost("claude-haiku-4", 500, 500) {
		t.Error("NewPricing(nil) diverges from builtin table")
	}
}

func TestDateOf(t *testing.T) {
	// Just before midnight UTC in a non-UTC zone.
	loc := time.FixedZone("plus5", 5*3600)
	instant := time.Date(2025, 6, 2, 3, 30, 0, 0, loc) // 2025-06-01T22:30Z
	if got := DateOf(instant); got != "2025-06-01" {
		t.Errorf("DateOf = %s, want 2025-06-01", got)
	}
}

// ledgers returns each implementation under test, keyed by name.
func ledgers(t *testing.T) map[string]Ledger {
	t.Helper()
	sqlite, err := NewSQLiteLedger(filepath.Join(t.TempDir(), "usage.db"))
	if err != nil {
		t.Fatalf("NewSQLiteLedger: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })
	return map[string]Ledger{
		"memory": NewMemoryLedger(),
		"sqlite": sqlite,
	}
}

func record(tenant, user string, in, out int, at time.Time) *models.UsageRecord {
	return &models.UsageRecord{
		TenantID:     tenant,
		UserID:       user,
		SessionID:    "s-1",
		InputTokens:  in,
		OutputTokens: out,
		CostUSD:      Cost("claude-sonnet-4-20250514", in, out),
		Model:        "claude-sonnet-4-20250514",
		ToolsUsed:    []string{"get_tier_info"},
		CreatedAt:    at,
	}
}

func TestLedgerWindowQueries(t *testing.T) {
	ctx := context.Background()
	// Fixed midday base so the -2h record stays on the same UTC date.
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	for name, ledger := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			// Two recent requests for u-1, one old, one for another user,
			// one for another tenant.
			for _, rec := range []*models.UsageRecord{
				record("acme", "u-1", 100, 50, now.Add(-10*time.Minute)),
				record("acme", "u-1", 200, 100, now.Add(-20*time.Minute)),
				record("acme", "u-1", 999, 999, now.Add(-2*time.Hour)),
				record("acme", "u-2", 10, 5, now.Add(-5*time.Minute)),
				record("globex", "u-1", 10, 5, now.Add(-5*time.Minute)),
			} {
				if err := ledger.Record(ctx, rec); err != nil {
					t.Fatalf("Record: %v", err)
				}
			}

			requests, err := ledger.RequestsSince(ctx, "acme", "u-1", now.Add(-time.Hour))
			if err != nil {
				t.Fatalf("RequestsSince: %v", err)
			}
			if requests != 2 {
				t.Errorf("requests in window = %d, want 2", requests)
			}

			tokens, err := ledger.TokensOnDate(ctx, "acme", "u-1", DateOf(now))
			if err != nil {
				t.Fatalf("TokensOnDate: %v", err)
			}
			// All three u-1 records land on today's date.
			if want := 100 + 50 + 200 + 100 + 999 + 999; tokens != want {
				t.Errorf("daily tokens = %d, want %d", tokens, want)
			}

			empty, err := ledger.TokensOnDate(ctx, "acme", "u-1", "1999-01-01")
			if err != nil {
				t.Fatalf("TokensOnDate empty: %v", err)
			}
			if empty != 0 {
				t.Errorf("tokens for empty date = %d", empty)
			}

			window, err := ledger.TenantWindow(ctx, "acme", now.Add(-time.Hour))
			if err != nil {
				t.Fatalf("TenantWindow: %v", err)
			}
			if window.Requests != 3 {
				t.Errorf("tenant requests = %d, want 3", window.Requests)
			}
			if window.TotalTokens() != 100+50+200+100+10+5 {
				t.Errorf("tenant tokens = %d", window.TotalTokens())
			}
			if window.CostUSD <= 0 {
				t.Errorf("tenant cost = %f, want > 0", window.CostUSD)
			}
		})
	}
}

func TestLedgerStampsRecords(t *testing.T) {
	ctx := context.Background()
	for name, ledger := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			rec := &models.UsageRecord{TenantID: "acme", UserID: "u-1", InputTokens: 1, OutputTokens: 1}
			if err := ledger.Record(ctx, rec); err != nil {
				t.Fatalf("Record: %v", err)
			}
			if rec.ID == "" || rec.Date == "" || rec.CreatedAt.IsZero() {
				t.Errorf("record not stamped: %+v", rec)
			}
		})
	}
}
