package server

import (
	"net/http"
	"sort"
	"time"

	"github.com/parleyhq/parley/internal/auth"
	"github.com/parleyhq/parley/pkg/models"
)

// recentRecordLimit bounds how many ledger rows the admin aggregations scan.
const recentRecordLimit = 10000

// handleAdminDashboard summarizes the tenant's last 24 hours of usage.
func (s *Server) handleAdminDashboard(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())
	since := time.Now().Add(-24 * time.Hour)

	window, err := s.ledger.TenantWindow(r.Context(), user.TenantID, since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternalError, "failed to query usage")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"tenant_id":     user.TenantID,
		"window_start":  since.UTC().Format(time.RFC3339),
		"requests":      window.Requests,
		"input_tokens":  window.InputTokens,
		"output_tokens": window.OutputTokens,
		"total_tokens":  window.TotalTokens(),
		"cost_usd":      window.CostUSD,
	})
}

type userUsage struct {
	UserID   string  `json:"user_id"`
	Requests int     `json:"requests"`
	Tokens   int     `json:"tokens"`
	CostUSD  float64 `json:"cost_usd"`
}

// handleAdminTopUsers ranks the tenant's users by token consumption over the
// last 24 hours.
func (s *Server) handleAdminTopUsers(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())
	since := time.Now().Add(-24 * time.Hour)

	records, err := s.ledger.RecentRecords(r.Context(), user.TenantID, since, recentRecordLimit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternalError, "failed to query usage")
		return
	}

	byUser := map[string]*userUsage{}
	for _, rec := range records {
		entry, ok := byUser[rec.UserID]
		if !ok {
			entry = &userUsage{UserID: rec.UserID}
			byUser[rec.UserID] = entry
		}
		entry.Requests++
		entry.Tokens += rec.InputTokens + rec.OutputTokens
		entry.CostUSD += rec.CostUSD
	}

	ranked := make([]*userUsage, 0, len(byUser))
	for _, entry := range byUser {
		ranked = append(ranked, entry)
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].Tokens > ranked[j].Tokens })

	limit := queryInt(r, "limit", 10)
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"tenant_id": user.TenantID,
		"users":     ranked,
	})
}

type toolUsage struct {
	Tool  string `json:"tool"`
	Calls int    `json:"calls"`
}

// handleAdminToolUsage counts tool invocations across the tenant's last 24
// hours of chat turns.
func (s *Server) handleAdminToolUsage(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())
	since := time.Now().Add(-24 * time.Hour)

	records, err := s.ledger.RecentRecords(r.Context(), user.TenantID, since, recentRecordLimit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternalError, "failed to query usage")
		return
	}

	counts := map[string]int{}
	for _, rec := range records {
		for _, tool := range rec.ToolsUsed {
			counts[tool]++
		}
	}

	ranked := make([]toolUsage, 0, len(counts))
	for tool, calls := range counts {
		ranked = append(ranked, toolUsage{Tool: tool, Calls: calls})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Calls != ranked[j].Calls {
			return ranked[i].Calls > ranked[j].Calls
		}
		return ranked[i].Tool < ranked[j].Tool
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"tenant_id": user.TenantID,
		"tools":     ranked,
	})
}

// handleAdminRateLimitStatus reports a user's current standing against
// their tier limits. Defaults to the calling admin when no user_id is given.
func (s *Server) handleAdminRateLimitStatus(w http.ResponseWriter, r *http.Request) {
	admin, _ := auth.UserFromContext(r.Context())

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = admin.ID
	}
	tier := models.Tier(r.URL.Query().Get("tier"))
	if tier == "" {
		tier = admin.Tier
	}

	scope := models.TenantContext{
		TenantID: admin.TenantID,
		UserID:   userID,
		Tier:     tier,
	}
	decision := s.limiter.Check(r.Context(), scope)

	writeJSON(w, http.StatusOK, map[string]any{
		"tenant_id":          admin.TenantID,
		"user_id":            userID,
		"tier":               tier,
		"allowed":            decision.Allowed,
		"limits":             decision.Limits,
		"requests_used":      decision.RequestsUsed,
		"tokens_used":        decision.TokensUsed,
		"requests_remaining": decision.RequestsRemaining(),
		"tokens_remaining":   decision.TokensRemaining(),
	})
}

type rateLimitResetRequest struct {
	UserID string `json:"user_id"`
}

// handleAdminRateLimitReset grants a user a temporary enforcement
// exemption. Usage records are append-only and are never erased.
func (s *Server) handleAdminRateLimitReset(w http.ResponseWriter, r *http.Request) {
	admin, _ := auth.UserFromContext(r.Context())

	var req rateLimitResetRequest
	if err := decodeJSON(r, &req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, codeBadRequest, "user_id is required")
		return
	}

	s.limiter.Reset(admin.TenantID, req.UserID)
	s.logger.Info("rate limit reset",
		"tenant_id", admin.TenantID,
		"user_id", req.UserID,
		"admin_id", admin.ID)

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "reset",
		"user_id": req.UserID,
	})
}
