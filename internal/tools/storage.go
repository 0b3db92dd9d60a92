package tools

import (
	"context"
	"encoding/json"
	"errors"
	"unicode/utf8"

	"github.com/parleyhq/parley/internal/agent"
	"github.com/parleyhq/parley/internal/objectstore"
	"github.com/parleyhq/parley/pkg/models"
)

// maxInlineRead caps how much file content is returned to the model in one
// read (64KB). Larger objects are truncated with a marker.
const maxInlineRead = 64 << 10

// StorageRead reads a file from the caller's storage prefix.
type StorageRead struct {
	store objectstore.Store
}

// NewStorageRead creates the storage_read tool.
func NewStorageRead(store objectstore.Store) *StorageRead { return &StorageRead{store: store} }

func (t *StorageRead) Name() string { return "storage_read" }

func (t *StorageRead) Description() string {
	return "Read a file from the user's storage area. Returns the file content as text."
}

func (t *StorageRead) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"key": {"type": "string", "description": "File path within the user's storage area"}
		},
		"required": ["key"]
	}`)
}

func (t *StorageRead) Execute(ctx context.Context, scope models.TenantContext, input json.RawMessage) (*agent.ToolResult, error) {
	var args struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return errorResult("invalid arguments: "+err.Error(), "supply a key string"), nil
	}

	obj, err := t.store.Get(ctx, scope, args.Key)
	if errors.Is(err, objectstore.ErrNotFound) {
		return errorResult("file not found: "+args.Key, "use storage_list to see available files"), nil
	}
	if errors.Is(err, objectstore.ErrInvalidKey) {
		return errorResult("invalid key: "+args.Key, "use a relative path like notes/report.md"), nil
	}
	if err != nil {
		return errorResult("storage read failed: "+err.Error(), ""), nil
	}

	content := obj.Data
	truncated := false
	if len(content) > maxInlineRead {
		content = content[:maxInlineRead]
		truncated = true
	}
	if !utf8.Valid(content) {
		return errorResult("file is not text: "+args.Key, "only text files can be read into the conversation"), nil
	}

	return resultJSON(map[string]any{
		"key":       args.Key,
		"content":   string(content),
		"size":      obj.Size,
		"truncated": truncated,
	})
}

// StorageWrite writes a file under the caller's storage prefix.
type StorageWrite struct {
	store objectstore.Store
}

// NewStorageWrite creates the storage_write tool.
func NewStorageWrite(store objectstore.Store) *StorageWrite { return &StorageWrite{store: store} }

func (t *StorageWrite) Name() string { return "storage_write" }

func (t *StorageWrite) Description() string {
	return "Write a text file into the user's storage area, creating or overwriting it."
}

func (t *StorageWrite) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"key": {"type": "string", "description": "File path within the user's storage area"},
			"content": {"type": "string", "description": "File content"},
			"content_type": {"type": "string", "description": "Optional MIME type"}
		},
		"required": ["key", "content"]
	}`)
}

func (t *StorageWrite) Execute(ctx context.Context, scope models.TenantContext, input json.RawMessage) (*agent.ToolResult, error) {
	var args struct {
		Key         string `json:"key"`
		Content     string `json:"content"`
		ContentType string `json:"content_type"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return errorResult("invalid arguments: "+err.Error(), "supply key and content strings"), nil
	}

	key, err := t.store.Put(ctx, scope, args.Key, []byte(args.Content), args.ContentType)
	if errors.Is(err, objectstore.ErrInvalidKey) {
		return errorResult("invalid key: "+args.Key, "use a relative path like notes/report.md"), nil
	}
	if errors.Is(err, objectstore.ErrObjectTooLarge) {
		return errorResult("content too large", "split the content into smaller files"), nil
	}
	if err != nil {
		return errorResult("storage write failed: "+err.Error(), ""), nil
	}

	return resultJSON(map[string]any{
		"key":    args.Key,
		"stored": key,
		"size":   len(args.Content),
	})
}

// StorageList lists files under the caller's storage prefix.
type StorageList struct {
	store objectstore.Store
}

// NewStorageList creates the storage_list tool.
func NewStorageList(store objectstore.Store) *StorageList { return &StorageList{store: store} }

func (t *StorageList) Name() string { return "storage_list" }

func (t *StorageList) Description() string {
	return "List files in the user's storage area, optionally under a prefix."
}

func (t *StorageList) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"prefix": {"type": "string", "description": "Optional path prefix to list under"}
		}
	}`)
}

func (t *StorageList) Execute(ctx context.Context, scope models.TenantContext, input json.RawMessage) (*agent.ToolResult, error) {
	var args struct {
		Prefix string `json:"prefix"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return errorResult("invalid arguments: "+err.Error(), ""), nil
	}

	keys, err := t.store.List(ctx, scope, args.Prefix)
	if err != nil {
		return errorResult("storage list failed: "+err.Error(), ""), nil
	}
	return resultJSON(map[string]any{"keys": keys, "count": len(keys)})
}
