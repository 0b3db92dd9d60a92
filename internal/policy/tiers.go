// Package policy holds the per-tier authorization table: rate limits and
// tool availability. Both the rate limiter and the tool catalog filter
// consult this one table instead of re-checking tier strings ad hoc.
package policy

import "github.com/parleyhq/parley/pkg/models"

// Limits are the per-(tenant,user) quotas for a subscription tier.
type Limits struct {
	RequestsPerHour int `json:"requests_per_hour"`
	TokensPerDay    int `json:"tokens_per_day"`
}

// tierTable maps each tier to its quotas.
var tierTable = map[models.Tier]Limits{
	models.TierBasic:    {RequestsPerHour: 20, TokensPerDay: 50_000},
	models.TierAdvanced: {RequestsPerHour: 100, TokensPerDay: 500_000},
	models.TierPremium:  {RequestsPerHour: 500, TokensPerDay: 2_000_000},
}

// toolMinTier lists the tools that need more than the basic tier. Tools
// absent from this table are available to everyone.
var toolMinTier = map[string]models.Tier{
	"generate_document": models.TierAdvanced,
	"intake_workflow":   models.TierAdvanced,
	"regulation_search": models.TierPremium,
	"logs_search":       models.TierPremium,
}

var tierRank = map[models.Tier]int{
	models.TierBasic:    0,
	models.TierAdvanced: 1,
	models.TierPremium:  2,
}

// LimitsFor returns the quota table entry for a tier. Unknown tiers get
// basic limits.
func LimitsFor(tier models.Tier) Limits {
	if limits, ok := tierTable[tier]; ok {
		return limits
	}
	return tierTable[models.TierBasic]
}

// ToolAllowed reports whether a tier may use the named tool.
func ToolAllowed(tier models.Tier, tool string) bool {
	min, gated := toolMinTier[tool]
	if !gated {
		return true
	}
	return tierRank[tier] >= tierRank[min]
}

// AllowFunc returns the catalog filter predicate for a tier, in the shape
// the agent loop expects.
func AllowFunc(tier models.Tier) func(name string) bool {
	return func(name string) bool { return ToolAllowed(tier, name) }
}
