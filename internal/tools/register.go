package tools

import (
	"fmt"
	"log/slog"

	"github.com/parleyhq/parley/internal/agent"
	"github.com/parleyhq/parley/internal/objectstore"
	"github.com/parleyhq/parley/internal/records"
)

// Deps holds the backends the tool executors run against.
type Deps struct {
	Objects objectstore.Store
	Records records.Store
	Logs    *LogBuffer
	Logger  *slog.Logger
}

// RegisterAll builds the full tool catalog into registry. Tier gating is
// not applied here; the catalog is filtered per request by the caller.
func RegisterAll(registry *agent.ToolRegistry, deps Deps) error {
	catalog := []agent.Tool{
		NewStorageRead(deps.Objects),
		NewStorageWrite(deps.Objects),
		NewStorageList(deps.Objects),
		NewRecordsPut(deps.Records),
		NewRecordsGet(deps.Records),
		NewRecordsQuery(deps.Records),
		NewLogsSearch(deps.Logs),
		NewRegulationSearch(),
		NewGenerateDocument(deps.Objects, deps.Logger),
		NewIntakeWorkflow(),
		NewTierInfo(registry),
	}
	for _, tool := range catalog {
		if err := registry.Register(tool); err != nil {
			return fmt.Errorf("register %s: %w", tool.Name(), err)
		}
	}
	return nil
}
