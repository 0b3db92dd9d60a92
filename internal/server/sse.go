package server

import (
	"encoding/json"
	"net/http"

	"github.com/parleyhq/parley/internal/agent"
	"github.com/parleyhq/parley/internal/auth"
	"github.com/parleyhq/parley/pkg/models"
)

// sseEvent is one server-sent event payload. Exactly one field is set.
type sseEvent struct {
	SessionID  string             `json:"session_id,omitempty"`
	Delta      string             `json:"delta,omitempty"`
	ToolUse    *models.ToolCall   `json:"tool_use,omitempty"`
	ToolResult *models.ToolResult `json:"tool_result,omitempty"`
	Final      *agent.Result      `json:"final,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// handleChatStream streams an agent turn as server-sent events. The first
// event carries the session id so clients can continue the conversation;
// subsequent events mirror the loop's chunk stream.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())

	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, codeInternalError, "streaming unsupported")
		return
	}

	turn, apiErr := s.startChat(r.Context(), user, req)
	if apiErr != nil {
		apiErr.write(w)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	send := func(event sseEvent) error {
		payload, err := json.Marshal(event)
		if err != nil {
			return err
		}
		if _, err := w.Write([]byte("data: ")); err != nil {
			return err
		}
		if _, err := w.Write(payload); err != nil {
			return err
		}
		if _, err := w.Write([]byte("\n\n")); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if err := send(sseEvent{SessionID: turn.session.ID}); err != nil {
		return
	}

	final, toolCalls, toolResults, err := s.relay(turn, func(chunk *agent.ResponseChunk) error {
		switch {
		case chunk.Text != "":
			return send(sseEvent{Delta: chunk.Text})
		case chunk.ToolUse != nil:
			return send(sseEvent{ToolUse: chunk.ToolUse})
		case chunk.ToolResult != nil:
			return send(sseEvent{ToolResult: chunk.ToolResult})
		case chunk.Final != nil:
			return send(sseEvent{Final: chunk.Final})
		}
		return nil
	})
	if err != nil {
		// Headers are gone; the error rides the stream.
		_ = send(sseEvent{Error: err.Error()})
		return
	}
	s.finishChat(turn, final, toolCalls, toolResults)
}
