package tools

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/parleyhq/parley/internal/agent"
	"github.com/parleyhq/parley/pkg/models"
)

// LogEntry is one captured application event, tagged with the tenant it
// belongs to.
type LogEntry struct {
	Time     time.Time         `json:"time"`
	TenantID string            `json:"-"`
	Level    string            `json:"level"`
	Message  string            `json:"message"`
	Fields   map[string]string `json:"fields,omitempty"`
}

// LogBuffer is a fixed-size ring of recent log entries, partitioned by
// tenant on read. The server appends request lifecycle events; the
// logs_search tool reads them back for the caller's tenant only.
type LogBuffer struct {
	mu      sync.RWMutex
	entries []LogEntry
	next    int
	filled  bool
}

// DefaultLogCapacity is the ring size used when none is given.
const DefaultLogCapacity = 4096

// NewLogBuffer creates a ring holding up to capacity entries.
func NewLogBuffer(capacity int) *LogBuffer {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	return &LogBuffer{entries: make([]LogEntry, capacity)}
}

// Append records one entry, evicting the oldest when full.
func (b *LogBuffer) Append(entry LogEntry) {
	if entry.Time.IsZero() {
		entry.Time = time.Now().UTC()
	}
	b.mu.Lock()
	b.entries[b.next] = entry
	b.next++
	if b.next == len(b.entries) {
		b.next = 0
		b.filled = true
	}
	b.mu.Unlock()
}

// Search returns the newest entries for a tenant whose message or fields
// contain the query, newest first, capped at limit. An empty query matches
// everything; an empty level matches all levels.
func (b *LogBuffer) Search(tenantID, query, level string, limit int) []LogEntry {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query = strings.ToLower(query)
	level = strings.ToLower(level)

	b.mu.RLock()
	defer b.mu.RUnlock()

	size := b.next
	if b.filled {
		size = len(b.entries)
	}

	out := []LogEntry{}
	// Walk backwards from the most recent slot.
	for i := 0; i < size && len(out) < limit; i++ {
		idx := b.next - 1 - i
		if idx < 0 {
			idx += len(b.entries)
		}
		entry := b.entries[idx]
		if entry.TenantID != tenantID {
			continue
		}
		if level != "" && strings.ToLower(entry.Level) != level {
			continue
		}
		if query != "" && !entryMatches(entry, query) {
			continue
		}
		out = append(out, entry)
	}
	return out
}

func entryMatches(entry LogEntry, query string) bool {
	if strings.Contains(strings.ToLower(entry.Message), query) {
		return true
	}
	for key, value := range entry.Fields {
		if strings.Contains(strings.ToLower(key), query) || strings.Contains(strings.ToLower(value), query) {
			return true
		}
	}
	return false
}

// LogsSearch lets the model inspect the caller's own recent activity log.
type LogsSearch struct {
	buffer *LogBuffer
}

// NewLogsSearch creates the logs_search tool.
func NewLogsSearch(buffer *LogBuffer) *LogsSearch { return &LogsSearch{buffer: buffer} }

func (t *LogsSearch) Name() string { return "logs_search" }

func (t *LogsSearch) Description() string {
	return "Search the account's recent activity log by text and level. Returns newest entries first."
}

func (t *LogsSearch) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "Substring to search for"},
			"level": {"type": "string", "enum": ["debug", "info", "warn", "error"]},
			"limit": {"type": "integer", "minimum": 1, "maximum": 200}
		}
	}`)
}

func (t *LogsSearch) Execute(ctx context.Context, scope models.TenantContext, input json.RawMessage) (*agent.ToolResult, error) {
	var args struct {
		Query string `json:"query"`
		Level string `json:"level"`
		Limit int    `json:"limit"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return errorResult("invalid arguments: "+err.Error(), ""), nil
	}

	entries := t.buffer.Search(scope.TenantID, args.Query, args.Level, args.Limit)
	return resultJSON(map[string]any{"entries": entries, "count": len(entries)})
}
