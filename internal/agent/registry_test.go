package agent

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/parleyhq/parley/pkg/models"
)

func testScope() models.TenantContext {
	return models.TenantContext{TenantID: "acme", UserID: "u-1", Tier: models.TierBasic}
}

func mustRegister(t *testing.T, r *ToolRegistry, tool Tool) {
	t.Helper()
	if err := r.Register(tool); err != nil {
		t.Fatalf("Register %s: %v", tool.Name(), err)
	}
}

func decodeToolError(t *testing.T, res *ToolResult) ToolError {
	t.Helper()
	if res == nil || !res.IsError {
		t.Fatalf("result = %+v, want structured error", res)
	}
	var te ToolError
	if err := json.Unmarshal([]byte(res.Content), &te); err != nil {
		t.Fatalf("error content not JSON: %q", res.Content)
	}
	return te
}

func TestRegisterRejectsBadNames(t *testing.T) {
	r := NewToolRegistry()
	if err := r.Register(&funcTool{name: ""}); err == nil {
		t.Error("empty name accepted")
	}
	if err := r.Register(&funcTool{name: strings.Repeat("x", MaxToolNameLength+1)}); err == nil {
		t.Error("oversized name accepted")
	}
}

func TestRegisterRejectsBadSchema(t *testing.T) {
	r := NewToolRegistry()
	tool := &funcTool{name: "broken", schema: `{"type": "objec`}
	if err := r.Register(tool); err == nil {
		t.Error("malformed schema should fail at registration")
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	r := NewToolRegistry()
	te := decodeToolError(t, r.Execute(context.Background(), testScope(), "nope", json.RawMessage(`{}`)))
	if !strings.Contains(te.Error, "unknown tool") {
		t.Errorf("error = %q", te.Error)
	}
	if te.Suggestion == "" {
		t.Error("expected a suggestion for the model")
	}
}

func TestExecuteSchemaValidation(t *testing.T) {
	r := NewToolRegistry()
	mustRegister(t, r, &funcTool{
		name:   "lookup",
		schema: `{"type":"object","properties":{"key":{"type":"string"}},"required":["key"]}`,
		fn: func(ctx context.Context, scope models.TenantContext, input json.RawMessage) (*ToolResult, error) {
			return &ToolResult{Content: "found"}, nil
		},
	})

	// Valid input passes through.
	res := r.Execute(context.Background(), testScope(), "lookup", json.RawMessage(`{"key":"a"}`))
	if res.IsError {
		t.Fatalf("valid input rejected: %s", res.Content)
	}

	// Missing required field comes back as an in-band error, not a crash.
	te := decodeToolError(t, r.Execute(context.Background(), testScope(), "lookup", json.RawMessage(`{"other":1}`)))
	if !strings.Contains(te.Error, "invalid input") {
		t.Errorf("error = %q", te.Error)
	}
}

func TestExecuteOversizedInput(t *testing.T) {
	r := NewToolRegistry()
	mustRegister(t, r, &funcTool{name: "echo", fn: func(ctx context.Context, scope models.TenantContext, input json.RawMessage) (*ToolResult, error) {
		return &ToolResult{Content: "ok"}, nil
	}})

	huge := json.RawMessage(`{"pad":"` + strings.Repeat("a", MaxToolInputSize) + `"}`)
	te := decodeToolError(t, r.Execute(context.Background(), testScope(), "echo", huge))
	if !strings.Contains(te.Error, "exceeds maximum size") {
		t.Errorf("error = %q", te.Error)
	}
}

func TestExecutePanicRecovery(t *testing.T) {
	r := NewToolRegistry()
	mustRegister(t, r, &funcTool{name: "boom", fn: func(ctx context.Context, scope models.TenantContext, input json.RawMessage) (*ToolResult, error) {
		panic("unexpected state")
	}})

	te := decodeToolError(t, r.Execute(context.Background(), testScope(), "boom", json.RawMessage(`{}`)))
	if !strings.Contains(te.Error, "panic") {
		t.Errorf("error = %q", te.Error)
	}
}

func TestNormalizeToolInput(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", "{}"},
		{"whitespace", "  \n", "{}"},
		{"truncated fragment", `{"query": "unfini`, "{}"},
		{"array", `[1,2]`, "{}"},
		{"scalar", `42`, "{}"},
		{"valid object", `{"a":1}`, `{"a":1}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := normalizeToolInput(json.RawMessage(tc.input))
			if string(got) != tc.want {
				t.Errorf("normalizeToolInput(%q) = %s, want %s", tc.input, got, tc.want)
			}
		})
	}
}

func TestListSortedAndFilter(t *testing.T) {
	r := NewToolRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		mustRegister(t, r, &funcTool{name: name, fn: func(ctx context.Context, scope models.TenantContext, input json.RawMessage) (*ToolResult, error) {
			return &ToolResult{Content: "ok"}, nil
		}})
	}

	tools := r.List()
	var names []string
	for _, tool := range tools {
		names = append(names, tool.Name())
	}
	if len(names) != 3 || names[0] != "alpha" || names[1] != "mid" || names[2] != "zeta" {
		t.Errorf("List order = %v", names)
	}

	filtered := FilterTools(tools, func(name string) bool { return name != "mid" })
	if len(filtered) != 2 {
		t.Errorf("filtered = %d tools, want 2", len(filtered))
	}
	if got := FilterTools(tools, nil); len(got) != 3 {
		t.Errorf("nil predicate should allow all, got %d", len(got))
	}
}
