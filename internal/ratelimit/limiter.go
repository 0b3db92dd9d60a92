// Package ratelimit enforces per-tier quotas. Limits are not tracked in
// counters of their own: every check is derived from window queries against
// the usage ledger, so the ledger stays the single source of truth.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/parleyhq/parley/internal/policy"
	"github.com/parleyhq/parley/internal/usage"
	"github.com/parleyhq/parley/pkg/models"
)

// Denial reasons reported to clients.
const (
	ReasonRequestsPerHour = "requests_per_hour"
	ReasonTokensPerDay    = "tokens_per_day"
)

// Decision is the outcome of one rate-limit check.
type Decision struct {
	Allowed bool `json:"allowed"`

	// Reason names the exhausted limit when Allowed is false.
	Reason string `json:"reason,omitempty"`

	// RetryAfter is a conservative upper bound on how long the caller
	// should wait before retrying. Zero when allowed.
	RetryAfter time.Duration `json:"retry_after,omitempty"`

	Limits       policy.Limits `json:"limits"`
	RequestsUsed int           `json:"requests_used"`
	TokensUsed   int           `json:"tokens_used"`
}

// RequestsRemaining returns how many requests are left in the hourly window.
func (d *Decision) RequestsRemaining() int {
	remaining := d.Limits.RequestsPerHour - d.RequestsUsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// TokensRemaining returns how many tokens are left in the daily window.
func (d *Decision) TokensRemaining() int {
	remaining := d.Limits.TokensPerDay - d.TokensUsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Limiter answers admission checks against the usage ledger.
//
// Checks fail open: if the ledger cannot be queried the request is admitted
// and the failure logged. Degraded storage should slow billing, not block
// every tenant.
type Limiter struct {
	ledger usage.Ledger
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	overrides map[string]time.Time
}

// NewLimiter creates a ledger-backed limiter.
func NewLimiter(ledger usage.Ledger, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{
		ledger:    ledger,
		logger:    logger,
		now:       time.Now,
		overrides: make(map[string]time.Time),
	}
}

// SetClock overrides the limiter clock, for tests.
func (l *Limiter) SetClock(now func() time.Time) { l.now = now }

func overrideKey(tenantID, userID string) string { return tenantID + "/" + userID }

// Reset grants a one-hour exemption for a (tenant, user) pair. Because
// usage itself is append-only, "resetting" a limit means suspending
// enforcement, not rewriting history. Admin-only.
func (l *Limiter) Reset(tenantID, userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.overrides[overrideKey(tenantID, userID)] = l.now().Add(time.Hour)
}

func (l *Limiter) exempt(tenantID, userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	until, ok := l.overrides[overrideKey(tenantID, userID)]
	if !ok {
		return false
	}
	if l.now().After(until) {
		delete(l.overrides, overrideKey(tenantID, userID))
		return false
	}
	return true
}

// Check decides whether a request from the given scope may proceed. It never
// returns an error for a denied request; denial is an ordinary Decision.
func (l *Limiter) Check(ctx context.Context, scope models.TenantContext) *Decision {
	now := l.now()
	limits := policy.LimitsFor(scope.Tier)
	decision := &Decision{Allowed: true, Limits: limits}

	requests, err := l.ledger.RequestsSince(ctx, scope.TenantID, scope.UserID, now.Add(-time.Hour))
	if err != nil {
		l.logger.Warn("rate limit check failed open",
			"tenant_id", scope.TenantID,
			"user_id", scope.UserID,
			"error", err)
		return decision
	}
	decision.RequestsUsed = requests

	tokens, err := l.ledger.TokensOnDate(ctx, scope.TenantID, scope.UserID, usage.DateOf(now))
	if err != nil {
		l.logger.Warn("rate limit check failed open",
			"tenant_id", scope.TenantID,
			"user_id", scope.UserID,
			"error", err)
		return decision
	}
	decision.TokensUsed = tokens

	if l.exempt(scope.TenantID, scope.UserID) {
		return decision
	}

	if requests >= limits.RequestsPerHour {
		decision.Allowed = false
		decision.Reason = ReasonRequestsPerHour
		// Worst case: the whole window must slide past.
		decision.RetryAfter = time.Hour
		return decision
	}

	if tokens >= limits.TokensPerDay {
		decision.Allowed = false
		decision.Reason = ReasonTokensPerDay
		decision.RetryAfter = untilNextUTCDay(now)
		return decision
	}

	return decision
}

// untilNextUTCDay returns the duration until the daily token window rolls
// over at UTC midnight.
func untilNextUTCDay(now time.Time) time.Duration {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
	return next.Sub(now)
}
