package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/parleyhq/parley/pkg/models"
)

const (
	// processBufferSize is the chunk channel buffer. Keeps the provider
	// stream draining while a slow transport catches up.
	processBufferSize = 32

	// MaxResponseTextSize caps accumulated response text per run (2MB).
	MaxResponseTextSize = 2 << 20

	// MaxToolCallsPerRound caps tool calls the model may request in one
	// round.
	MaxToolCallsPerRound = 16
)

// LoopPhase identifies where in the run an error occurred.
type LoopPhase string

const (
	PhaseInit         LoopPhase = "init"
	PhaseStream       LoopPhase = "stream"
	PhaseExecuteTools LoopPhase = "execute_tools"
)

// LoopError wraps a failure inside the agent loop with its phase and
// iteration. PartialText preserves whatever the model streamed before the
// failure so transports can hand it to the caller.
type LoopError struct {
	Phase       LoopPhase
	Iteration   int
	Cause       error
	PartialText string
}

func (e *LoopError) Error() string {
	return fmt.Sprintf("agent loop: phase=%s iteration=%d: %v", e.Phase, e.Iteration, e.Cause)
}

func (e *LoopError) Unwrap() error { return e.Cause }

// LoopConfig bounds a run of the agent loop.
type LoopConfig struct {
	// MaxIterations limits model-call rounds. Hitting the cap is a soft
	// stop, not an error: the run finishes with whatever text accumulated.
	// Default: 10.
	MaxIterations int

	// MaxTokens is the per-round response token limit. Default: 4096.
	MaxTokens int
}

// DefaultLoopConfig returns the default loop configuration.
func DefaultLoopConfig() *LoopConfig {
	return &LoopConfig{
		MaxIterations: 10,
		MaxTokens:     4096,
	}
}

func sanitizeLoopConfig(config *LoopConfig) *LoopConfig {
	if config == nil {
		return DefaultLoopConfig()
	}
	cfg := *config
	defaults := DefaultLoopConfig()
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaults.MaxIterations
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaults.MaxTokens
	}
	return &cfg
}

// Loop drives a bounded tool-use conversation to completion. Each round
// calls the model with the full history, streams text out as it arrives,
// executes any requested tools through the registry, feeds the results back
// in, and repeats until the model stops requesting tools or the iteration
// cap is hit.
type Loop struct {
	provider LLMProvider
	registry *ToolRegistry
	config   *LoopConfig
	logger   *slog.Logger

	defaultModel  string
	defaultSystem string
}

// NewLoop creates an agent loop. If config is nil, DefaultLoopConfig is
// used.
func NewLoop(provider LLMProvider, registry *ToolRegistry, config *LoopConfig, logger *slog.Logger) *Loop {
	if registry == nil {
		registry = NewToolRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		provider: provider,
		registry: registry,
		config:   sanitizeLoopConfig(config),
		logger:   logger,
	}
}

// SetDefaultModel sets the model used when a run does not specify one.
func (l *Loop) SetDefaultModel(model string) { l.defaultModel = model }

// SetDefaultSystem sets the system prompt used when a run does not specify
// one.
func (l *Loop) SetDefaultSystem(system string) { l.defaultSystem = system }

// RunOptions parameterizes one run of the loop.
type RunOptions struct {
	// Scope is the tenant context injected into every tool execution.
	Scope models.TenantContext

	// Messages is the prior conversation plus the new user turn, in order.
	Messages []CompletionMessage

	// AllowTool filters the advertised tool catalog; nil allows all.
	// Tier-based capability gating is enforced here by the caller, not by
	// the registry.
	AllowTool func(name string) bool

	// Model and System override the loop defaults when non-empty.
	Model  string
	System string
}

type runState struct {
	iteration   int
	messages    []CompletionMessage
	text        strings.Builder
	usage       models.Usage
	toolsCalled []string
}

// Run executes the loop and streams results through the returned channel.
// The channel is closed when the run completes; the terminal chunk carries
// either Final or Error. Cancelling ctx (e.g. on client disconnect) stops
// the run before the next model call or tool dispatch; a tool already
// dispatched runs to completion.
func (l *Loop) Run(ctx context.Context, opts RunOptions) (<-chan *ResponseChunk, error) {
	if l.provider == nil {
		return nil, fmt.Errorf("no provider configured")
	}
	if len(opts.Messages) == 0 {
		return nil, fmt.Errorf("no messages to process")
	}

	chunks := make(chan *ResponseChunk, processBufferSize)

	go func() {
		defer close(chunks)

		state := &runState{
			messages: append([]CompletionMessage(nil), opts.Messages...),
		}
		model := opts.Model
		if model == "" {
			model = l.defaultModel
		}
		system := opts.System
		if system == "" {
			system = l.defaultSystem
		}

		tools := FilterTools(l.registry.List(), opts.AllowTool)

		for state.iteration < l.config.MaxIterations {
			if ctx.Err() != nil {
				l.fail(ctx, chunks, state, PhaseStream, ctx.Err())
				return
			}

			toolCalls, err := l.streamRound(ctx, chunks, state, model, system, tools)
			if err != nil {
				l.fail(ctx, chunks, state, PhaseStream, err)
				return
			}

			if len(toolCalls) == 0 {
				l.finish(ctx, chunks, state, model)
				return
			}

			if !l.executeRound(ctx, chunks, state, opts.Scope, toolCalls) {
				// Consumer is gone; stop wasting model calls.
				return
			}

			state.iteration++
		}

		// Iteration cap reached: soft stop with whatever accumulated.
		l.logger.Warn("agent loop hit iteration cap",
			"max_iterations", l.config.MaxIterations,
			"tenant_id", opts.Scope.TenantID,
			"session_id", opts.Scope.SessionID)
		l.finish(ctx, chunks, state, model)
	}()

	return chunks, nil
}

// streamRound performs one model call, forwarding text deltas and
// collecting completed tool calls. Token usage from the round is added to
// the run totals.
func (l *Loop) streamRound(ctx context.Context, chunks chan<- *ResponseChunk, state *runState, model, system string, tools []Tool) ([]models.ToolCall, error) {
	req := &CompletionRequest{
		Model:     model,
		System:    system,
		Messages:  state.messages,
		Tools:     tools,
		MaxTokens: l.config.MaxTokens,
	}

	completion, err := l.provider.Complete(ctx, req)
	if err != nil {
		return nil, err
	}

	var toolCalls []models.ToolCall
	var roundText strings.Builder

	for chunk := range completion {
		if chunk.Error != nil {
			return nil, chunk.Error
		}
		if chunk.Text != "" {
			if state.text.Len()+len(chunk.Text) > MaxResponseTextSize {
				return nil, fmt.Errorf("response text exceeds maximum size of %d bytes", MaxResponseTextSize)
			}
			roundText.WriteString(chunk.Text)
			state.text.WriteString(chunk.Text)
			if !l.emit(ctx, chunks, &ResponseChunk{Text: chunk.Text}) {
				return nil, ctx.Err()
			}
		}
		if chunk.ToolCall != nil {
			if len(toolCalls) >= MaxToolCallsPerRound {
				return nil, fmt.Errorf("tool calls exceed maximum of %d per round", MaxToolCallsPerRound)
			}
			toolCalls = append(toolCalls, *chunk.ToolCall)
		}
		if chunk.Done {
			state.usage.InputTokens += chunk.InputTokens
			state.usage.OutputTokens += chunk.OutputTokens
		}
	}

	// Append the assistant turn (text so far plus any tool requests) so the
	// next round sees it.
	state.messages = append(state.messages, CompletionMessage{
		Role:      "assistant",
		Content:   roundText.String(),
		ToolCalls: toolCalls,
	})

	return toolCalls, nil
}

// executeRound dispatches the round's tool calls in sequence and appends a
// single user-role turn carrying every result keyed by call id. Returns
// false if the consumer disappeared mid-round.
func (l *Loop) executeRound(ctx context.Context, chunks chan<- *ResponseChunk, state *runState, scope models.TenantContext, toolCalls []models.ToolCall) bool {
	results := make([]models.ToolResult, 0, len(toolCalls))

	for i := range toolCalls {
		tc := toolCalls[i]
		state.toolsCalled = append(state.toolsCalled, tc.Name)

		if !l.emit(ctx, chunks, &ResponseChunk{ToolUse: &tc}) {
			return false
		}

		res := l.registry.Execute(ctx, scope, tc.Name, tc.Input)
		result := models.ToolResult{
			ToolCallID: tc.ID,
			Content:    res.Content,
			IsError:    res.IsError,
		}
		results = append(results, result)

		if result.IsError {
			l.logger.Debug("tool call failed",
				"tool", tc.Name,
				"tenant_id", scope.TenantID,
				"error", result.Content)
		}

		if !l.emit(ctx, chunks, &ResponseChunk{ToolResult: &result}) {
			return false
		}
	}

	state.messages = append(state.messages, CompletionMessage{
		Role:        "user",
		ToolResults: results,
	})
	return true
}

func (l *Loop) finish(ctx context.Context, chunks chan<- *ResponseChunk, state *runState, model string) {
	if model == "" {
		model = l.provider.Name()
	}
	l.emit(ctx, chunks, &ResponseChunk{Final: &Result{
		Text:        state.text.String(),
		Usage:       state.usage,
		Model:       model,
		ToolsCalled: append([]string(nil), state.toolsCalled...),
	}})
}

func (l *Loop) fail(ctx context.Context, chunks chan<- *ResponseChunk, state *runState, phase LoopPhase, cause error) {
	l.emit(ctx, chunks, &ResponseChunk{Error: &LoopError{
		Phase:       phase,
		Iteration:   state.iteration,
		Cause:       cause,
		PartialText: state.text.String(),
	}})
}

// emit delivers a chunk unless the consumer's context is already cancelled.
// The error chunk is best-effort: if nobody is reading, it is dropped.
func (l *Loop) emit(ctx context.Context, chunks chan<- *ResponseChunk, chunk *ResponseChunk) bool {
	select {
	case chunks <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// Collect drains a run's chunk channel and returns the terminal result.
// Request/response transports use it when streaming is not needed.
func Collect(chunks <-chan *ResponseChunk) (*Result, error) {
	var final *Result
	for chunk := range chunks {
		if chunk.Error != nil {
			return nil, chunk.Error
		}
		if chunk.Final != nil {
			final = chunk.Final
		}
	}
	if final == nil {
		return nil, fmt.Errorf("agent loop ended without a result")
	}
	return final, nil
}
