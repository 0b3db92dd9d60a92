package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/parleyhq/parley/internal/auth"
	"github.com/parleyhq/parley/internal/documents"
	"github.com/parleyhq/parley/internal/objectstore"
	"github.com/parleyhq/parley/internal/sessions"
)

// handleChat is the buffered request/response chat endpoint. The whole
// agent turn runs before the response body is written.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())

	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body")
		return
	}

	turn, apiErr := s.startChat(r.Context(), user, req)
	if apiErr != nil {
		apiErr.write(w)
		return
	}

	final, toolCalls, toolResults, err := s.relay(turn, nil)
	if err != nil {
		writeError(w, http.StatusBadGateway, codeUpstreamError, err.Error())
		return
	}
	record := s.finishChat(turn, final, toolCalls, toolResults)

	writeJSON(w, http.StatusOK, map[string]any{
		"response":         final.Text,
		"session_id":       turn.session.ID,
		"usage":            final.Usage,
		"model":            record.Model,
		"tools_called":     final.ToolsCalled,
		"response_time_ms": record.ResponseTimeMS,
		"cost_usd":         record.CostUSD,
		"tool_calls":       toolCalls,
		"tool_results":     toolResults,
	})
}

type createSessionRequest struct {
	Title string `json:"title,omitempty"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())

	// An empty body creates an untitled session.
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body")
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = "New conversation"
	}

	session := sessions.NewSession(user.TenantID, user.ID, title)
	if err := s.sessions.Create(r.Context(), session); err != nil {
		writeError(w, http.StatusInternalServerError, codeInternalError, "failed to create session")
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())

	limit := queryInt(r, "limit", 0)
	offset := queryInt(r, "offset", 0)

	list, err := s.sessions.List(r.Context(), user.TenantID, user.ID, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternalError, "failed to list sessions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": list,
		"count":    len(list),
		"offset":   offset,
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())

	session, err := s.sessions.Get(r.Context(), user.TenantID, user.ID, r.PathValue("id"))
	if errors.Is(err, sessions.ErrNotFound) {
		writeError(w, http.StatusNotFound, codeNotFound, "session not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternalError, "failed to load session")
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())

	err := s.sessions.Delete(r.Context(), user.TenantID, user.ID, r.PathValue("id"))
	if errors.Is(err, sessions.ErrNotFound) {
		writeError(w, http.StatusNotFound, codeNotFound, "session not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternalError, "failed to delete session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleSessionMessages(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())
	id := r.PathValue("id")

	// Messages returns an empty slice for deleted sessions, so existence is
	// checked against the session row.
	if _, err := s.sessions.Get(r.Context(), user.TenantID, user.ID, id); err != nil {
		if errors.Is(err, sessions.ErrNotFound) {
			writeError(w, http.StatusNotFound, codeNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, codeInternalError, "failed to load session")
		return
	}

	msgs, err := s.sessions.Messages(r.Context(), user.TenantID, user.ID, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternalError, "failed to load messages")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"messages":   msgs,
		"count":      len(msgs),
	})
}

type exportRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Format  string `json:"format"`
}

// handleDocumentExport renders content into the requested format and
// returns it as a download.
func (s *Server) handleDocumentExport(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body")
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, codeBadRequest, "content is required")
		return
	}

	format, err := documents.ParseFormat(req.Format)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	rendered, err := documents.Export(req.Content, format)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternalError, "export failed")
		return
	}

	title := req.Title
	if title == "" {
		title = "document"
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", `attachment; filename="`+documents.Filename(title, format)+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(rendered)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())

	keys, err := s.objects.List(r.Context(), scopeFor(user, ""), r.URL.Query().Get("prefix"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternalError, "failed to list documents")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"keys":  keys,
		"count": len(keys),
	})
}

// handleGetDocument serves a stored object. Keys that attempt to escape the
// caller's tenant prefix are rejected outright rather than silently
// re-anchored.
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())
	key := r.PathValue("key")

	if strings.Contains(key, "..") || strings.HasPrefix(key, "/") {
		writeError(w, http.StatusForbidden, codeForbidden, "key escapes tenant scope")
		return
	}

	obj, err := s.objects.Get(r.Context(), scopeFor(user, ""), key)
	if errors.Is(err, objectstore.ErrNotFound) {
		writeError(w, http.StatusNotFound, codeNotFound, "document not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternalError, "failed to load document")
		return
	}

	contentType := obj.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(obj.Size))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(obj.Data)
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
