package policy

import (
	"testing"

	"github.com/parleyhq/parley/pkg/models"
)

func TestLimitsFor(t *testing.T) {
	basic := LimitsFor(models.TierBasic)
	if basic.RequestsPerHour != 20 || basic.TokensPerDay != 50_000 {
		t.Errorf("basic limits = %+v", basic)
	}
	premium := LimitsFor(models.TierPremium)
	if premium.RequestsPerHour != 500 || premium.TokensPerDay != 2_000_000 {
		t.Errorf("premium limits = %+v", premium)
	}
	if LimitsFor(models.Tier("platinum")) != basic {
		t.Error("unknown tier should fall back to basic limits")
	}
}

func TestToolAllowed(t *testing.T) {
	cases := []struct {
		tier models.Tier
		tool string
		want bool
	}{
		{models.TierBasic, "get_tier_info", true},
		{models.TierBasic, "storage_read", true},
		{models.TierBasic, "generate_document", false},
		{models.TierBasic, "regulation_search", false},
		{models.TierBasic, "intake_workflow", false},
		{models.TierAdvanced, "generate_document", true},
		{models.TierAdvanced, "intake_workflow", true},
		{models.TierAdvanced, "regulation_search", false},
		{models.TierPremium, "regulation_search", true},
		{models.TierPremium, "logs_search", true},
	}
	for _, tc := range cases {
		if got := ToolAllowed(tc.tier, tc.tool); got != tc.want {
			t.Errorf("ToolAllowed(%s, %s) = %v, want %v", tc.tier, tc.tool, got, tc.want)
		}
	}
}

func TestAllowFunc(t *testing.T) {
	allow := AllowFunc(models.TierBasic)
	if allow("regulation_search") {
		t.Error("basic should not see premium tools")
	}
	if !allow("get_tier_info") {
		t.Error("basic should see core tools")
	}
}
