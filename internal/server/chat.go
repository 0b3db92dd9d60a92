package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/parleyhq/parley/internal/agent"
	"github.com/parleyhq/parley/internal/policy"
	"github.com/parleyhq/parley/internal/sessions"
	"github.com/parleyhq/parley/pkg/models"
)

// chatRequest is the body shared by the buffered and SSE chat endpoints,
// and the payload of the WebSocket chat.send frame.
type chatRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
	Model     string `json:"model,omitempty"`
}

// apiError carries an HTTP status through the chat pipeline.
type apiError struct {
	status  int
	code    string
	message string
	extra   map[string]any
}

func (e *apiError) write(w http.ResponseWriter) {
	payload := map[string]any{
		"error": map[string]string{
			"code":    e.code,
			"message": e.message,
		},
	}
	for k, v := range e.extra {
		payload[k] = v
	}
	writeJSON(w, e.status, payload)
}

// chatTurn is one admitted chat request, ready to stream.
type chatTurn struct {
	user    *models.User
	scope   models.TenantContext
	session *models.Session
	model   string
	chunks  <-chan *agent.ResponseChunk
	started time.Time
}

// startChat runs the admission half of the pipeline: rate limit check,
// session resolution, user message persistence, and loop start.
func (s *Server) startChat(ctx context.Context, user *models.User, req chatRequest) (*chatTurn, *apiError) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, &apiError{status: http.StatusBadRequest, code: codeBadRequest, message: "message is required"}
	}

	decision := s.limiter.Check(ctx, scopeFor(user, ""))
	if !decision.Allowed {
		if s.metrics != nil {
			s.metrics.RateLimitDenied.WithLabelValues(decision.Reason).Inc()
		}
		return nil, &apiError{
			status:  http.StatusTooManyRequests,
			code:    codeRateLimited,
			message: "rate limit exceeded: " + decision.Reason,
			extra: map[string]any{
				"retry_after_seconds": int(decision.RetryAfter.Seconds()),
				"limits":              decision.Limits,
				"requests_used":       decision.RequestsUsed,
				"tokens_used":         decision.TokensUsed,
			},
		}
	}

	session, apiErr := s.resolveSession(ctx, user, req)
	if apiErr != nil {
		return nil, apiErr
	}
	scope := scopeFor(user, session.ID)

	history, err := s.sessions.Messages(ctx, user.TenantID, user.ID, session.ID)
	if err != nil {
		return nil, &apiError{status: http.StatusInternalServerError, code: codeInternalError, message: "failed to load history"}
	}

	userMsg := &models.Message{Role: models.RoleUser, Content: req.Message}
	if err := s.sessions.AppendMessage(ctx, user.TenantID, user.ID, session.ID, userMsg); err != nil {
		return nil, &apiError{status: http.StatusInternalServerError, code: codeInternalError, message: "failed to persist message"}
	}

	messages := toCompletionMessages(history)
	messages = append(messages, agent.CompletionMessage{Role: "user", Content: req.Message})

	chunks, err := s.loop.Run(ctx, agent.RunOptions{
		Scope:     scope,
		Messages:  messages,
		AllowTool: policy.AllowFunc(user.Tier),
		Model:     req.Model,
	})
	if err != nil {
		return nil, &apiError{status: http.StatusInternalServerError, code: codeInternalError, message: err.Error()}
	}

	model := req.Model
	if model == "" {
		model = s.defaultModel
	}
	return &chatTurn{
		user:    user,
		scope:   scope,
		session: session,
		model:   model,
		chunks:  chunks,
		started: time.Now(),
	}, nil
}

// resolveSession loads the referenced session or creates a fresh one.
func (s *Server) resolveSession(ctx context.Context, user *models.User, req chatRequest) (*models.Session, *apiError) {
	if req.SessionID != "" {
		session, err := s.sessions.Get(ctx, user.TenantID, user.ID, req.SessionID)
		if errors.Is(err, sessions.ErrNotFound) {
			return nil, &apiError{status: http.StatusNotFound, code: codeNotFound, message: "session not found"}
		}
		if err != nil {
			return nil, &apiError{status: http.StatusInternalServerError, code: codeInternalError, message: "failed to load session"}
		}
		return session, nil
	}

	session := sessions.NewSession(user.TenantID, user.ID, sessions.DeriveTitle(req.Message))
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, &apiError{status: http.StatusInternalServerError, code: codeInternalError, message: "failed to create session"}
	}
	return session, nil
}

// relay drains the turn's chunk stream, forwarding each chunk to emit (when
// non-nil) and collecting the structured turn for persistence. A nil emit
// buffers silently for request/response transports.
func (s *Server) relay(turn *chatTurn, emit func(*agent.ResponseChunk) error) (*agent.Result, []models.ToolCall, []models.ToolResult, error) {
	var final *agent.Result
	var toolCalls []models.ToolCall
	var toolResults []models.ToolResult
	toolStarts := map[string]time.Time{}

	for chunk := range turn.chunks {
		if chunk.Error != nil {
			return nil, toolCalls, toolResults, chunk.Error
		}
		if chunk.ToolUse != nil {
			toolCalls = append(toolCalls, *chunk.ToolUse)
			toolStarts[chunk.ToolUse.ID] = time.Now()
		}
		if chunk.ToolResult != nil {
			toolResults = append(toolResults, *chunk.ToolResult)
			s.observeTool(chunk, toolCalls, toolStarts)
		}
		if chunk.Final != nil {
			final = chunk.Final
		}
		if emit != nil {
			if err := emit(chunk); err != nil {
				return nil, toolCalls, toolResults, err
			}
		}
	}

	if final == nil {
		return nil, toolCalls, toolResults, errors.New("stream ended without a result")
	}
	return final, toolCalls, toolResults, nil
}

func (s *Server) observeTool(chunk *agent.ResponseChunk, toolCalls []models.ToolCall, starts map[string]time.Time) {
	if s.metrics == nil {
		return
	}
	name := ""
	for i := range toolCalls {
		if toolCalls[i].ID == chunk.ToolResult.ToolCallID {
			name = toolCalls[i].Name
			break
		}
	}
	if name == "" {
		return
	}
	outcome := "ok"
	if chunk.ToolResult.IsError {
		outcome = "error"
	}
	s.metrics.ToolExecutions.WithLabelValues(name, outcome).Inc()
	if started, ok := starts[chunk.ToolResult.ToolCallID]; ok {
		s.metrics.ToolDuration.WithLabelValues(name).Observe(time.Since(started).Seconds())
	}
}

// finishChat runs the bookkeeping half of the pipeline: assistant message
// persistence, session counters, the usage record, and metrics. Failures
// here are logged and never surfaced; the user already has their response.
// The usage record is returned so transports can echo cost and timing.
func (s *Server) finishChat(turn *chatTurn, final *agent.Result, toolCalls []models.ToolCall, toolResults []models.ToolResult) *models.UsageRecord {
	// The request context may already be done; bookkeeping gets its own.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	assistant := &models.Message{
		Role:      models.RoleAssistant,
		Content:   final.Text,
		ToolCalls: toolCalls,
	}
	if err := s.sessions.AppendMessage(ctx, turn.scope.TenantID, turn.scope.UserID, turn.session.ID, assistant); err != nil {
		s.logger.Error("failed to persist assistant message",
			"session_id", turn.session.ID, "error", err)
	}
	if len(toolResults) > 0 {
		results := &models.Message{Role: models.RoleUser, ToolResults: toolResults}
		if err := s.sessions.AppendMessage(ctx, turn.scope.TenantID, turn.scope.UserID, turn.session.ID, results); err != nil {
			s.logger.Error("failed to persist tool results",
				"session_id", turn.session.ID, "error", err)
		}
	}

	if session, err := s.sessions.Get(ctx, turn.scope.TenantID, turn.scope.UserID, turn.session.ID); err == nil {
		session.TotalTokens += final.Usage.Total()
		if err := s.sessions.Update(ctx, session); err != nil {
			s.logger.Error("failed to update session counters",
				"session_id", turn.session.ID, "error", err)
		}
	}

	model := final.Model
	if model == "" {
		model = turn.model
	}
	record := &models.UsageRecord{
		TenantID:       turn.scope.TenantID,
		UserID:         turn.scope.UserID,
		SessionID:      turn.session.ID,
		InputTokens:    final.Usage.InputTokens,
		OutputTokens:   final.Usage.OutputTokens,
		CostUSD:        s.pricing.Cost(model, final.Usage.InputTokens, final.Usage.OutputTokens),
		Model:          model,
		ToolsUsed:      final.ToolsCalled,
		ResponseTimeMS: time.Since(turn.started).Milliseconds(),
	}
	if err := s.ledger.Record(ctx, record); err != nil {
		s.logger.Error("failed to record usage",
			"tenant_id", turn.scope.TenantID, "error", err)
	}

	if s.metrics != nil {
		s.metrics.ObserveUsage(final.Usage.InputTokens, final.Usage.OutputTokens)
	}
	return record
}

func toCompletionMessages(history []*models.Message) []agent.CompletionMessage {
	out := make([]agent.CompletionMessage, 0, len(history))
	for _, msg := range history {
		out = append(out, agent.CompletionMessage{
			Role:        string(msg.Role),
			Content:     msg.Content,
			ToolCalls:   msg.ToolCalls,
			ToolResults: msg.ToolResults,
		})
	}
	return out
}
