package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/parleyhq/parley/internal/agent"
	"github.com/parleyhq/parley/internal/records"
	"github.com/parleyhq/parley/pkg/models"
)

// RecordsPut creates or replaces a structured record.
type RecordsPut struct {
	store records.Store
}

// NewRecordsPut creates the records_put tool.
func NewRecordsPut(store records.Store) *RecordsPut { return &RecordsPut{store: store} }

func (t *RecordsPut) Name() string { return "records_put" }

func (t *RecordsPut) Description() string {
	return "Create or replace a structured record in a named collection."
}

func (t *RecordsPut) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"collection": {"type": "string", "description": "Collection name (letters, digits, - and _)"},
			"id": {"type": "string", "description": "Record id within the collection"},
			"data": {"type": "object", "description": "Record fields"}
		},
		"required": ["collection", "id", "data"]
	}`)
}

func (t *RecordsPut) Execute(ctx context.Context, scope models.TenantContext, input json.RawMessage) (*agent.ToolResult, error) {
	var args struct {
		Collection string         `json:"collection"`
		ID         string         `json:"id"`
		Data       map[string]any `json:"data"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return errorResult("invalid arguments: "+err.Error(), "supply collection, id and a data object"), nil
	}
	if strings.TrimSpace(args.ID) == "" {
		return errorResult("record id is required", ""), nil
	}

	rec, err := t.store.Put(ctx, scope.TenantID, scope.UserID, args.Collection, args.ID, args.Data)
	if errors.Is(err, records.ErrInvalidCollection) {
		return errorResult("invalid collection name: "+args.Collection,
			"use letters, digits, hyphens and underscores only"), nil
	}
	if err != nil {
		return errorResult("record write failed: "+err.Error(), ""), nil
	}
	return resultJSON(rec)
}

// RecordsGet fetches one record by id.
type RecordsGet struct {
	store records.Store
}

// NewRecordsGet creates the records_get tool.
func NewRecordsGet(store records.Store) *RecordsGet { return &RecordsGet{store: store} }

func (t *RecordsGet) Name() string { return "records_get" }

func (t *RecordsGet) Description() string {
	return "Fetch one structured record by collection and id."
}

func (t *RecordsGet) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"collection": {"type": "string"},
			"id": {"type": "string"}
		},
		"required": ["collection", "id"]
	}`)
}

func (t *RecordsGet) Execute(ctx context.Context, scope models.TenantContext, input json.RawMessage) (*agent.ToolResult, error) {
	var args struct {
		Collection string `json:"collection"`
		ID         string `json:"id"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return errorResult("invalid arguments: "+err.Error(), ""), nil
	}

	rec, err := t.store.Get(ctx, scope.TenantID, scope.UserID, args.Collection, args.ID)
	if errors.Is(err, records.ErrNotFound) {
		return errorResult("record not found: "+args.Collection+"/"+args.ID,
			"use records_query to see what exists in the collection"), nil
	}
	if errors.Is(err, records.ErrInvalidCollection) {
		return errorResult("invalid collection name: "+args.Collection, ""), nil
	}
	if err != nil {
		return errorResult("record read failed: "+err.Error(), ""), nil
	}
	return resultJSON(rec)
}

// RecordsQuery lists records matching a field-equality filter.
type RecordsQuery struct {
	store records.Store
}

// NewRecordsQuery creates the records_query tool.
func NewRecordsQuery(store records.Store) *RecordsQuery { return &RecordsQuery{store: store} }

func (t *RecordsQuery) Name() string { return "records_query" }

func (t *RecordsQuery) Description() string {
	return "List records in a collection, optionally filtered by exact field values."
}

func (t *RecordsQuery) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"collection": {"type": "string"},
			"filter": {"type": "object", "description": "Field values that must match exactly"},
			"limit": {"type": "integer", "minimum": 1, "maximum": 200}
		},
		"required": ["collection"]
	}`)
}

func (t *RecordsQuery) Execute(ctx context.Context, scope models.TenantContext, input json.RawMessage) (*agent.ToolResult, error) {
	var args struct {
		Collection string         `json:"collection"`
		Filter     map[string]any `json:"filter"`
		Limit      int            `json:"limit"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return errorResult("invalid arguments: "+err.Error(), ""), nil
	}

	recs, err := t.store.Query(ctx, scope.TenantID, scope.UserID, args.Collection, args.Filter, args.Limit)
	if errors.Is(err, records.ErrInvalidCollection) {
		return errorResult("invalid collection name: "+args.Collection, ""), nil
	}
	if err != nil {
		return errorResult("record query failed: "+err.Error(), ""), nil
	}
	return resultJSON(map[string]any{"records": recs, "count": len(recs)})
}
