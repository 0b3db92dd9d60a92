package tools

import (
	"context"
	"encoding/json"

	"github.com/parleyhq/parley/internal/agent"
	"github.com/parleyhq/parley/internal/policy"
	"github.com/parleyhq/parley/pkg/models"
)

// TierInfo reports the caller's subscription tier, quotas, and available
// tools. The catalog is needed to list what the caller's tier unlocks.
type TierInfo struct {
	registry *agent.ToolRegistry
}

// NewTierInfo creates the get_tier_info tool.
func NewTierInfo(registry *agent.ToolRegistry) *TierInfo {
	return &TierInfo{registry: registry}
}

func (t *TierInfo) Name() string { return "get_tier_info" }

func (t *TierInfo) Description() string {
	return "Report the user's subscription tier, rate limits, and the tools available at that tier."
}

func (t *TierInfo) Schema() json.RawMessage {
	return json.RawMessage(`{"type": "object", "properties": {}}`)
}

func (t *TierInfo) Execute(ctx context.Context, scope models.TenantContext, input json.RawMessage) (*agent.ToolResult, error) {
	tier := scope.Tier
	if !tier.Valid() {
		tier = models.TierBasic
	}
	limits := policy.LimitsFor(tier)

	available := []string{}
	if t.registry != nil {
		for _, tool := range t.registry.List() {
			if policy.ToolAllowed(tier, tool.Name()) {
				available = append(available, tool.Name())
			}
		}
	}

	return resultJSON(map[string]any{
		"tier":              string(tier),
		"requests_per_hour": limits.RequestsPerHour,
		"tokens_per_day":    limits.TokensPerDay,
		"available_tools":   available,
	})
}
