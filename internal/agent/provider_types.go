package agent

import (
	"context"
	"encoding/json"

	"github.com/parleyhq/parley/pkg/models"
)

// LLMProvider is the interface for streaming model backends.
//
// Implementations must be safe for concurrent use; each Complete call owns
// an independent stream and goroutine.
type LLMProvider interface {
	// Complete sends a prompt and returns a streaming response. The channel
	// is closed when the stream finishes or fails; errors arrive in-band on
	// the final chunk.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name returns the provider identifier used for logging and pricing.
	Name() string

	// Models returns the models this provider can serve.
	Models() []Model
}

// CompletionRequest contains all parameters for one model call.
type CompletionRequest struct {
	// Model selects the model; empty uses the provider default.
	Model string `json:"model"`

	// System sets the assistant's instructions, handled separately from
	// messages by the provider API.
	System string `json:"system,omitempty"`

	// Messages is the conversation history in chronological order.
	Messages []CompletionMessage `json:"messages"`

	// Tools are the capabilities advertised to the model for this call.
	Tools []Tool `json:"tools,omitempty"`

	// MaxTokens bounds the generated response; 0 uses the provider default.
	MaxTokens int `json:"max_tokens,omitempty"`
}

// CompletionMessage is a single conversation turn in provider-neutral form.
//
// Role is "user" or "assistant". Assistant turns that requested tools carry
// ToolCalls; the following user turn carries the matching ToolResults.
type CompletionMessage struct {
	Role        string              `json:"role"`
	Content     string              `json:"content,omitempty"`
	ToolCalls   []models.ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []models.ToolResult `json:"tool_results,omitempty"`
}

// CompletionChunk is one element of a streaming model response. Text arrives
// incrementally; a ToolCall arrives complete once its content block closes.
// Token counts are populated only on the final chunk (Done true).
type CompletionChunk struct {
	Text         string           `json:"text,omitempty"`
	ToolCall     *models.ToolCall `json:"tool_call,omitempty"`
	Done         bool             `json:"done,omitempty"`
	InputTokens  int              `json:"input_tokens,omitempty"`
	OutputTokens int              `json:"output_tokens,omitempty"`
	Error        error            `json:"-"`
}

// Model describes an available model.
type Model struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContextSize int    `json:"context_size"`
}

// Tool is a named, schema-described capability the model may invoke.
//
// Execute receives the caller's tenant scope and the JSON argument object.
// Implementations must confine every storage access to the scope's
// {tenant_id}/{user_id} prefix and report failures through the returned
// ToolResult rather than panicking.
type Tool interface {
	// Name returns the function name advertised to the model.
	Name() string

	// Description explains when the model should use the tool.
	Description() string

	// Schema returns the JSON Schema for the tool's input object.
	Schema() json.RawMessage

	// Execute runs the tool under the caller's tenant scope.
	Execute(ctx context.Context, scope models.TenantContext, input json.RawMessage) (*ToolResult, error)
}

// ToolResult is the output of a tool execution as seen by the loop. Errors
// are carried in-band with IsError set so the model can self-correct.
type ToolResult struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// Result is the aggregate outcome of one agent run.
type Result struct {
	Text        string       `json:"text"`
	Usage       models.Usage `json:"usage"`
	Model       string       `json:"model"`
	ToolsCalled []string     `json:"tools_called"`
}

// ResponseChunk is one streaming event from the agent loop. Transports
// re-encode these as SSE lines, socket frames, or a buffered HTTP body.
type ResponseChunk struct {
	Text       string             `json:"text,omitempty"`
	ToolUse    *models.ToolCall   `json:"tool_use,omitempty"`
	ToolResult *models.ToolResult `json:"tool_result,omitempty"`
	Final      *Result            `json:"final,omitempty"`
	Error      error              `json:"-"`
}
