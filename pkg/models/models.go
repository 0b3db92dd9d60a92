// Package models defines the shared data types for the Parley chat backend:
// tenant scoping, sessions, messages, and usage records.
package models

import (
	"encoding/json"
	"time"
)

// Tier is a subscription level controlling rate limits and tool availability.
type Tier string

const (
	TierBasic    Tier = "basic"
	TierAdvanced Tier = "advanced"
	TierPremium  Tier = "premium"
)

// Valid reports whether the tier is a known subscription level.
func (t Tier) Valid() bool {
	switch t {
	case TierBasic, TierAdvanced, TierPremium:
		return true
	}
	return false
}

// TenantContext identifies the isolation boundary for every operation.
// It is immutable per request and derived from validated credentials.
type TenantContext struct {
	TenantID  string `json:"tenant_id"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id,omitempty"`
	Tier      Tier   `json:"subscription_tier"`
}

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// SessionStatus marks a session as live or soft-deleted.
type SessionStatus string

const (
	SessionActive  SessionStatus = "active"
	SessionDeleted SessionStatus = "deleted"
)

// Session is a durable conversation thread owned by one (tenant, user) pair.
type Session struct {
	TenantID     string        `json:"tenant_id"`
	UserID       string        `json:"user_id"`
	ID           string        `json:"session_id"`
	Title        string        `json:"title,omitempty"`
	Status       SessionStatus `json:"status"`
	MessageCount int           `json:"message_count"`
	TotalTokens  int           `json:"total_tokens"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Message is one turn in a session. Content carries plain text; assistant
// turns that used tools additionally carry ToolCalls, and the following
// user-role turn carries the matching ToolResults. Both must round-trip
// losslessly through storage.
type Message struct {
	SessionID   string       `json:"session_id"`
	ID          string       `json:"message_id"`
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// ToolCall is the model's request to execute a named tool. Input is the raw
// JSON argument object as assembled from the stream.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult is the outcome of one tool execution, keyed by the call that
// requested it. Errors travel in-band with IsError set so the model can
// self-correct.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// Usage counts tokens consumed by one completed model round-trip.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Total returns the combined token count.
func (u Usage) Total() int { return u.InputTokens + u.OutputTokens }

// UsageRecord is one append-only entry in the usage ledger. Records are
// never mutated after creation; aggregates are derived by query.
type UsageRecord struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"tenant_id"`
	UserID         string    `json:"user_id"`
	SessionID      string    `json:"session_id"`
	Date           string    `json:"date"` // YYYY-MM-DD, UTC
	InputTokens    int       `json:"input_tokens"`
	OutputTokens   int       `json:"output_tokens"`
	CostUSD        float64   `json:"cost_usd"`
	Model          string    `json:"model"`
	ToolsUsed      []string  `json:"tools_used,omitempty"`
	ResponseTimeMS int64     `json:"response_time_ms"`
	CreatedAt      time.Time `json:"created_at"`
}

// User is an authenticated identity extracted from credentials.
type User struct {
	TenantID string   `json:"tenant_id"`
	ID       string   `json:"user_id"`
	Role     string   `json:"role,omitempty"`
	Tier     Tier     `json:"tier"`
	Groups   []string `json:"groups,omitempty"`
}

// InGroup reports whether the user belongs to the named group.
func (u *User) InGroup(name string) bool {
	if u == nil {
		return false
	}
	for _, g := range u.Groups {
		if g == name {
			return true
		}
	}
	return false
}
