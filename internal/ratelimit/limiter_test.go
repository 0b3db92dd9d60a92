package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/parleyhq/parley/internal/usage"
	"github.com/parleyhq/parley/pkg/models"
)

func discard() *slog.Logger { return slog.New(slog.DiscardHandler) }

func basicScope() models.TenantContext {
	return models.TenantContext{TenantID: "acme", UserID: "u-1", Tier: models.TierBasic}
}

func seedRequests(t *testing.T, ledger usage.Ledger, scope models.TenantContext, n, tokensEach int, at time.Time) {
	t.Helper()
	for i := 0; i < n; i++ {
		err := ledger.Record(context.Background(), &models.UsageRecord{
			TenantID:     scope.TenantID,
			UserID:       scope.UserID,
			InputTokens:  tokensEach,
			OutputTokens: 0,
			CreatedAt:    at,
		})
		if err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
}

func TestCheckRequestBoundary(t *testing.T) {
	ledger := usage.NewMemoryLedger()
	limiter := NewLimiter(ledger, discard())
	scope := basicScope()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	limiter.SetClock(func() time.Time { return now })

	// Basic allows 20 requests/hour. The 20th record fills the window; the
	// next check is the first to be denied.
	seedRequests(t, ledger, scope, 19, 10, now.Add(-30*time.Minute))

	decision := limiter.Check(context.Background(), scope)
	if !decision.Allowed {
		t.Fatalf("request 20 denied: %+v", decision)
	}
	if decision.RequestsRemaining() != 1 {
		t.Errorf("remaining = %d, want 1", decision.RequestsRemaining())
	}

	seedRequests(t, ledger, scope, 1, 10, now.Add(-time.Minute))
	decision = limiter.Check(context.Background(), scope)
	if decision.Allowed {
		t.Fatal("request 21 should be denied")
	}
	if decision.Reason != ReasonRequestsPerHour {
		t.Errorf("reason = %q", decision.Reason)
	}
	if decision.RetryAfter <= 0 {
		t.Error("denial should carry a retry hint")
	}
}

func TestCheckOldRequestsAgeOut(t *testing.T) {
	ledger := usage.NewMemoryLedger()
	limiter := NewLimiter(ledger, discard())
	scope := basicScope()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	limiter.SetClock(func() time.Time { return now })

	// A burst 2 hours ago does not count against the rolling hour.
	seedRequests(t, ledger, scope, 30, 10, now.Add(-2*time.Hour))

	decision := limiter.Check(context.Background(), scope)
	if !decision.Allowed {
		t.Fatalf("aged-out requests still counted: %+v", decision)
	}
	if decision.RequestsUsed != 0 {
		t.Errorf("requests used = %d, want 0", decision.RequestsUsed)
	}
}

func TestCheckDailyTokenLimit(t *testing.T) {
	ledger := usage.NewMemoryLedger()
	limiter := NewLimiter(ledger, discard())
	scope := basicScope()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	limiter.SetClock(func() time.Time { return now })

	// 10 requests of 5000 tokens exhausts the basic 50k/day budget while
	// staying under the hourly request cap.
	seedRequests(t, ledger, scope, 10, 5000, now.Add(-30*time.Minute))

	decision := limiter.Check(context.Background(), scope)
	if decision.Allowed {
		t.Fatal("token-exhausted scope should be denied")
	}
	if decision.Reason != ReasonTokensPerDay {
		t.Errorf("reason = %q", decision.Reason)
	}
	if decision.RetryAfter != 12*time.Hour {
		t.Errorf("retry after = %s, want until UTC midnight", decision.RetryAfter)
	}
	if decision.TokensRemaining() != 0 {
		t.Errorf("tokens remaining = %d", decision.TokensRemaining())
	}
}

func TestCheckPremiumLimits(t *testing.T) {
	ledger := usage.NewMemoryLedger()
	limiter := NewLimiter(ledger, discard())
	scope := basicScope()
	scope.Tier = models.TierPremium
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	limiter.SetClock(func() time.Time { return now })

	// 30 requests would exhaust basic but premium allows 500/hour.
	seedRequests(t, ledger, scope, 30, 100, now.Add(-10*time.Minute))

	decision := limiter.Check(context.Background(), scope)
	if !decision.Allowed {
		t.Fatalf("premium denied: %+v", decision)
	}
	if decision.Limits.RequestsPerHour != 500 {
		t.Errorf("limits = %+v", decision.Limits)
	}
}

// errLedger fails every query.
type errLedger struct{ usage.Ledger }

func (errLedger) RequestsSince(ctx context.Context, tenantID, userID string, since time.Time) (int, error) {
	return 0, errors.New("storage offline")
}

func TestCheckFailsOpen(t *testing.T) {
	limiter := NewLimiter(errLedger{}, discard())

	decision := limiter.Check(context.Background(), basicScope())
	if !decision.Allowed {
		t.Fatal("ledger failure must admit the request")
	}
}

func TestResetSuspendsEnforcement(t *testing.T) {
	ledger := usage.NewMemoryLedger()
	limiter := NewLimiter(ledger, discard())
	scope := basicScope()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	limiter.SetClock(func() time.Time { return now })

	seedRequests(t, ledger, scope, 25, 10, now.Add(-time.Minute))
	if limiter.Check(context.Background(), scope).Allowed {
		t.Fatal("precondition: scope should be over limit")
	}

	limiter.Reset(scope.TenantID, scope.UserID)
	if !limiter.Check(context.Background(), scope).Allowed {
		t.Fatal("reset should suspend enforcement")
	}

	// The exemption lapses after an hour.
	limiter.SetClock(func() time.Time { return now.Add(61 * time.Minute) })
	seedRequests(t, ledger, scope, 25, 10, now.Add(60*time.Minute))
	if limiter.Check(context.Background(), scope).Allowed {
		t.Fatal("expired exemption should enforce again")
	}
}
