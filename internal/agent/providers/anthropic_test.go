package providers

import (
	"encoding/json"
	"testing"
)

func TestNewAnthropicProviderRequiresKey(t *testing.T) {
	if _, err := NewAnthropicProvider(AnthropicConfig{}); err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestNewAnthropicProviderDefaults(t *testing.T) {
	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "sk-test"})
	if err != nil {
		t.Fatalf("NewAnthropicProvider: %v", err)
	}
	if p.maxRetries != 3 {
		t.Errorf("maxRetries = %d, want 3", p.maxRetries)
	}
	if p.defaultModel == "" {
		t.Error("defaultModel should not be empty")
	}
	if p.Name() != "anthropic" {
		t.Errorf("Name() = %q, want anthropic", p.Name())
	}
	if len(p.Models()) == 0 {
		t.Error("Models() should not be empty")
	}
}

func TestNormalizeInput(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", "{}"},
		{"whitespace", "   ", "{}"},
		{"truncated fragment", `{"query": "reg`, "{}"},
		{"array not object", `[1,2]`, "{}"},
		{"valid object", `{"key":"tenant/doc.md"}`, `{"key":"tenant/doc.md"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalizeInput(json.RawMessage(tt.input))
			if string(got) != tt.want {
				t.Errorf("normalizeInput(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		msg  string
		want bool
	}{
		{"rate_limit_error: throttled", true},
		{"got 429 too many requests", true},
		{"503 service unavailable", true},
		{"context deadline exceeded", true},
		{"connection reset by peer", true},
		{"invalid_request_error: bad schema", false},
		{"401 unauthorized", false},
	}
	for _, tt := range tests {
		err := errString(tt.msg)
		if got := isRetryableError(err); got != tt.want {
			t.Errorf("isRetryableError(%q) = %v, want %v", tt.msg, got, tt.want)
		}
	}
	if isRetryableError(nil) {
		t.Error("nil error should not be retryable")
	}
}

type errString string

func (e errString) Error() string { return string(e) }
