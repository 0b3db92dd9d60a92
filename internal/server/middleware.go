package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/parleyhq/parley/internal/auth"
	"github.com/parleyhq/parley/internal/tools"
	"github.com/parleyhq/parley/pkg/models"
)

// authed wraps a handler with bearer authentication. The resolved user is
// attached to the request context, and the request outcome is recorded into
// the tenant activity log.
func (s *Server) authed(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := s.auth.Authenticate(auth.BearerFromRequest(r))
		if err != nil {
			writeError(w, http.StatusUnauthorized, codeUnauthorized, "invalid or missing credentials")
			return
		}
		r = r.WithContext(auth.WithUser(r.Context(), user))

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		s.logRequest(r, user, rec.status, time.Since(start))
	})
}

// admin additionally requires membership in the admin group.
func (s *Server) admin(next http.HandlerFunc) http.Handler {
	return s.authed(func(w http.ResponseWriter, r *http.Request) {
		user, _ := auth.UserFromContext(r.Context())
		if !s.auth.IsAdmin(user) {
			writeError(w, http.StatusForbidden, codeForbidden, "admin group membership required")
			return
		}
		next(w, r)
	})
}

// statusRecorder captures the response status for metrics and the activity
// log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush passes streaming flushes through to the wrapped writer.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// instrument records request metrics and tenant activity log entries for
// every route.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// WebSocket upgrades must see the raw ResponseWriter (Hijacker).
		if r.URL.Path == "/ws/chat" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		route := r.Method + " " + r.URL.Path
		if s.metrics != nil {
			s.metrics.RequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
			s.metrics.RequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
		}
	})
}

// logRequest records a request outcome into the tenant activity log that
// backs the logs_search tool.
func (s *Server) logRequest(r *http.Request, user *models.User, status int, elapsed time.Duration) {
	if s.logs == nil {
		return
	}
	level := "info"
	if status >= http.StatusInternalServerError {
		level = "error"
	} else if status >= http.StatusBadRequest {
		level = "warn"
	}
	s.logs.Append(tools.LogEntry{
		TenantID: user.TenantID,
		Level:    level,
		Message:  r.Method + " " + r.URL.Path,
		Fields: map[string]string{
			"status":   strconv.Itoa(status),
			"duration": elapsed.String(),
			"user_id":  user.ID,
		},
	})
}

// scopeFor derives the per-request tenant scope from an authenticated user.
func scopeFor(user *models.User, sessionID string) models.TenantContext {
	return models.TenantContext{
		TenantID:  user.TenantID,
		UserID:    user.ID,
		SessionID: sessionID,
		Tier:      user.Tier,
	}
}
