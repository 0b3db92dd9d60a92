// Package tools implements the tool executors the model can invoke. Every
// executor receives the caller's tenant scope and confines its effects to
// that scope; failures come back as in-band error results the model can
// read, never as panics.
package tools

import (
	"encoding/json"
	"fmt"

	"github.com/parleyhq/parley/internal/agent"
)

// resultJSON marshals a payload into a successful tool result.
func resultJSON(v any) (*agent.ToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal tool result: %w", err)
	}
	return &agent.ToolResult{Content: string(data)}, nil
}

// errorResult builds an in-band error result with an optional suggestion.
func errorResult(msg, suggestion string) *agent.ToolResult {
	payload := map[string]string{"error": msg}
	if suggestion != "" {
		payload["suggestion"] = suggestion
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return &agent.ToolResult{Content: msg, IsError: true}
	}
	return &agent.ToolResult{Content: string(data), IsError: true}
}
