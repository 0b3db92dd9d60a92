package tools

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/parleyhq/parley/internal/agent"
	"github.com/parleyhq/parley/internal/documents"
	"github.com/parleyhq/parley/internal/objectstore"
	"github.com/parleyhq/parley/pkg/models"
)

// GenerateDocument renders markdown content into a downloadable document
// and optionally saves it to the caller's storage area. Generation is pure;
// the save is best effort: a storage failure degrades to a warning on an
// otherwise successful result instead of failing the tool call.
type GenerateDocument struct {
	store  objectstore.Store
	logger *slog.Logger
}

// NewGenerateDocument creates the generate_document tool. store may be nil,
// in which case save requests degrade to a warning.
func NewGenerateDocument(store objectstore.Store, logger *slog.Logger) *GenerateDocument {
	if logger == nil {
		logger = slog.Default()
	}
	return &GenerateDocument{store: store, logger: logger}
}

func (t *GenerateDocument) Name() string { return "generate_document" }

func (t *GenerateDocument) Description() string {
	return "Render markdown content as a document (md, docx, or pdf) and optionally save it to the user's storage area."
}

func (t *GenerateDocument) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"title": {"type": "string", "description": "Document title, used for the filename"},
			"content": {"type": "string", "description": "Markdown content"},
			"format": {"type": "string", "enum": ["md", "docx", "pdf"], "description": "Output format, default md"},
			"save": {"type": "boolean", "description": "Save to the user's storage area under documents/"}
		},
		"required": ["title", "content"]
	}`)
}

func (t *GenerateDocument) Execute(ctx context.Context, scope models.TenantContext, input json.RawMessage) (*agent.ToolResult, error) {
	var args struct {
		Title   string `json:"title"`
		Content string `json:"content"`
		Format  string `json:"format"`
		Save    bool   `json:"save"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return errorResult("invalid arguments: "+err.Error(), "supply title and content strings"), nil
	}
	if strings.TrimSpace(args.Content) == "" {
		return errorResult("content is empty", "supply the document body as markdown"), nil
	}

	format, err := documents.ParseFormat(args.Format)
	if err != nil {
		return errorResult("unsupported format: "+args.Format, "use md, docx, or pdf"), nil
	}

	rendered, err := documents.Export(args.Content, format)
	if err != nil {
		return errorResult("document generation failed: "+err.Error(), ""), nil
	}
	filename := documents.Filename(args.Title, format)

	out := map[string]any{
		"filename":     filename,
		"format":       string(format),
		"size":         len(rendered),
		"content_type": format.ContentType(),
	}

	if args.Save {
		key, warning := t.save(ctx, scope, filename, rendered, format)
		if key != "" {
			out["stored_key"] = key
		}
		if warning != "" {
			out["warning"] = warning
		}
	}

	return resultJSON(out)
}

func (t *GenerateDocument) save(ctx context.Context, scope models.TenantContext, filename string, data []byte, format documents.Format) (key, warning string) {
	if t.store == nil {
		return "", "no storage backend configured; document was generated but not saved"
	}
	key = "documents/" + filename
	if _, err := t.store.Put(ctx, scope, key, data, format.ContentType()); err != nil {
		t.logger.Warn("document save failed",
			"tenant_id", scope.TenantID,
			"key", key,
			"error", err)
		return "", "document was generated but could not be saved: " + err.Error()
	}
	return key, ""
}
