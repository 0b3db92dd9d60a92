// Package server exposes the chat service over HTTP, SSE, and WebSocket.
// All three transports run the same chat pipeline and re-encode the agent
// loop's chunk stream for their wire format.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/parleyhq/parley/internal/agent"
	"github.com/parleyhq/parley/internal/auth"
	"github.com/parleyhq/parley/internal/metrics"
	"github.com/parleyhq/parley/internal/objectstore"
	"github.com/parleyhq/parley/internal/ratelimit"
	"github.com/parleyhq/parley/internal/sessions"
	"github.com/parleyhq/parley/internal/tools"
	"github.com/parleyhq/parley/internal/usage"
)

// maxRequestBody caps JSON request bodies (1MB).
const maxRequestBody = 1 << 20

// Options wires the server's collaborators.
type Options struct {
	Auth     *auth.Service
	Loop     *agent.Loop
	Registry *agent.ToolRegistry
	Provider agent.LLMProvider
	Sessions sessions.Store
	Objects  objectstore.Store
	Ledger   usage.Ledger
	Limiter  *ratelimit.Limiter
	Metrics  *metrics.Metrics
	Logs     *tools.LogBuffer
	Logger   *slog.Logger

	// Pricing resolves per-model token rates for cost attribution. Nil
	// uses the builtin rate table.
	Pricing *usage.Pricing

	// DefaultModel is the model recorded in usage entries when the request
	// does not name one.
	DefaultModel string
}

// Server is the HTTP surface of the service.
type Server struct {
	auth         *auth.Service
	loop         *agent.Loop
	registry     *agent.ToolRegistry
	provider     agent.LLMProvider
	sessions     sessions.Store
	objects      objectstore.Store
	ledger       usage.Ledger
	limiter      *ratelimit.Limiter
	metrics      *metrics.Metrics
	logs         *tools.LogBuffer
	logger       *slog.Logger
	pricing      *usage.Pricing
	defaultModel string
}

// New creates a server from options.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pricing := opts.Pricing
	if pricing == nil {
		pricing = usage.DefaultPricing
	}
	return &Server{
		auth:         opts.Auth,
		loop:         opts.Loop,
		registry:     opts.Registry,
		provider:     opts.Provider,
		sessions:     opts.Sessions,
		objects:      opts.Objects,
		ledger:       opts.Ledger,
		limiter:      opts.Limiter,
		metrics:      opts.Metrics,
		logs:         opts.Logs,
		logger:       logger,
		pricing:      pricing,
		defaultModel: opts.DefaultModel,
	}
}

// Routes builds the full route table.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))

	mux.Handle("POST /api/chat", s.authed(s.handleChat))
	mux.Handle("POST /api/chat/stream", s.authed(s.handleChatStream))
	mux.Handle("GET /ws/chat", http.HandlerFunc(s.handleWS))

	mux.Handle("GET /api/models", s.authed(s.handleModels))

	mux.Handle("POST /api/sessions", s.authed(s.handleCreateSession))
	mux.Handle("GET /api/sessions", s.authed(s.handleListSessions))
	mux.Handle("GET /api/sessions/{id}", s.authed(s.handleGetSession))
	mux.Handle("DELETE /api/sessions/{id}", s.authed(s.handleDeleteSession))
	mux.Handle("GET /api/sessions/{id}/messages", s.authed(s.handleSessionMessages))

	mux.Handle("POST /api/documents/export", s.authed(s.handleDocumentExport))
	mux.Handle("GET /api/documents", s.authed(s.handleListDocuments))
	mux.Handle("GET /api/documents/{key...}", s.authed(s.handleGetDocument))

	mux.Handle("GET /api/admin/dashboard", s.admin(s.handleAdminDashboard))
	mux.Handle("GET /api/admin/top-users", s.admin(s.handleAdminTopUsers))
	mux.Handle("GET /api/admin/tool-usage", s.admin(s.handleAdminToolUsage))
	mux.Handle("GET /api/admin/rate-limit-status", s.admin(s.handleAdminRateLimitStatus))
	mux.Handle("POST /api/admin/rate-limit/reset", s.admin(s.handleAdminRateLimitReset))

	return s.instrument(mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	models := []agent.Model{}
	if s.provider != nil {
		models = s.provider.Models()
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": models})
}

// API error codes.
const (
	codeUnauthorized  = "unauthorized"
	codeForbidden     = "forbidden"
	codeNotFound      = "not_found"
	codeBadRequest    = "bad_request"
	codeRateLimited   = "rate_limited"
	codeUpstreamError = "upstream_error"
	codeInternalError = "internal_error"
)

// writeError emits the API error envelope.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON reads a bounded JSON request body.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
