package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/parleyhq/parley/pkg/models"
)

// Tool parameter limits to prevent resource exhaustion.
const (
	// MaxToolNameLength is the maximum length of a tool name.
	MaxToolNameLength = 256

	// MaxToolInputSize is the maximum size of a tool input object (1MB).
	MaxToolInputSize = 1 << 20
)

// ToolError is the structured payload fed back to the model when a tool call
// cannot be completed. It is serialized into the tool result content so the
// model can read the failure and adjust, instead of the turn aborting.
type ToolError struct {
	Error      string `json:"error"`
	Suggestion string `json:"suggestion,omitempty"`
}

func (e ToolError) result() *ToolResult {
	payload, err := json.Marshal(e)
	if err != nil {
		return &ToolResult{Content: e.Error, IsError: true}
	}
	return &ToolResult{Content: string(payload), IsError: true}
}

// ToolRegistry holds the catalog of available tools keyed by name. The
// catalog is built once at startup; lookup and execution are safe for
// concurrent use.
type ToolRegistry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a tool to the registry, replacing any tool with the same
// name. The tool's schema is compiled eagerly so malformed schemas surface
// at startup rather than mid-conversation.
func (r *ToolRegistry) Register(tool Tool) error {
	name := tool.Name()
	if name == "" || len(name) > MaxToolNameLength {
		return fmt.Errorf("invalid tool name %q", name)
	}

	compiler := jsonschema.NewCompiler()
	url := "tool://" + name + "/schema.json"
	if err := compiler.AddResource(url, bytes.NewReader(tool.Schema())); err != nil {
		return fmt.Errorf("tool %s: add schema: %w", name, err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return fmt.Errorf("tool %s: compile schema: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = tool
	r.schemas[name] = schema
	return nil
}

// Get returns a tool by name.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns the registered tools sorted by name. Callers filter the list
// by subscription tier before advertising it to the model; the registry
// itself is tier-agnostic.
func (r *ToolRegistry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		tools = append(tools, t)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name() < tools[j].Name() })
	return tools
}

// Execute dispatches a named tool call under the caller's tenant scope.
//
// Failures never cross this boundary as Go errors: unknown tool, oversized
// or schema-invalid input, and tool execution errors all come back as a
// structured error result the model can act on.
func (r *ToolRegistry) Execute(ctx context.Context, scope models.TenantContext, name string, input json.RawMessage) *ToolResult {
	if len(name) > MaxToolNameLength {
		return ToolError{
			Error: fmt.Sprintf("tool name exceeds maximum length of %d characters", MaxToolNameLength),
		}.result()
	}
	if len(input) > MaxToolInputSize {
		return ToolError{
			Error:      fmt.Sprintf("tool input exceeds maximum size of %d bytes", MaxToolInputSize),
			Suggestion: "retry with a smaller input payload",
		}.result()
	}

	r.mu.RLock()
	tool, ok := r.tools[name]
	schema := r.schemas[name]
	r.mu.RUnlock()
	if !ok {
		return ToolError{
			Error:      "unknown tool: " + name,
			Suggestion: "use one of the tools listed in the catalog",
		}.result()
	}

	// Malformed argument JSON degrades to an empty object rather than
	// aborting the turn.
	input = normalizeToolInput(input)

	if schema != nil {
		var decoded any
		if err := json.Unmarshal(input, &decoded); err == nil {
			if err := schema.Validate(decoded); err != nil {
				return ToolError{
					Error:      fmt.Sprintf("invalid input for tool %s: %v", name, err),
					Suggestion: "check the tool's input schema and supply the required fields",
				}.result()
			}
		}
	}

	result, err := safeExecute(ctx, tool, scope, input)
	if err != nil {
		return ToolError{Error: fmt.Sprintf("tool %s failed: %v", name, err)}.result()
	}
	if result == nil {
		return ToolError{Error: "tool " + name + " returned no result"}.result()
	}
	return result
}

// safeExecute converts a panicking tool into an error so one bad executor
// cannot take down the whole agent turn.
func safeExecute(ctx context.Context, tool Tool, scope models.TenantContext, input json.RawMessage) (result *ToolResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			result = nil
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return tool.Execute(ctx, scope, input)
}

// normalizeToolInput returns the input if it parses as a JSON object and an
// empty object otherwise. Tool arguments arrive as accumulated partial-JSON
// fragments; a fragment that never became valid JSON is substituted with {}
// so the tool still runs.
func normalizeToolInput(input json.RawMessage) json.RawMessage {
	if len(bytes.TrimSpace(input)) == 0 {
		return json.RawMessage(`{}`)
	}
	var decoded map[string]any
	if err := json.Unmarshal(input, &decoded); err != nil {
		return json.RawMessage(`{}`)
	}
	return input
}

// FilterTools returns the subset of tools whose names pass the allow
// predicate, preserving order. Used for tier-based catalog filtering.
func FilterTools(tools []Tool, allow func(name string) bool) []Tool {
	if allow == nil {
		return tools
	}
	filtered := make([]Tool, 0, len(tools))
	for _, t := range tools {
		if allow(t.Name()) {
			filtered = append(filtered, t)
		}
	}
	return filtered
}
