package tools

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/parleyhq/parley/internal/agent"
	"github.com/parleyhq/parley/pkg/models"
)

// Regulation is one entry in the built-in compliance reference corpus.
type Regulation struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Summary string   `json:"summary"`
	Tags    []string `json:"tags"`
}

// builtinRegulations is the reference corpus shipped with the service.
// Deployments can extend it through NewRegulationSearch.
var builtinRegulations = []Regulation{
	{
		ID:      "gdpr",
		Title:   "General Data Protection Regulation (GDPR)",
		Summary: "EU regulation on personal data processing: lawful basis, data subject rights (access, erasure, portability), breach notification within 72 hours, data protection by design, cross-border transfer restrictions.",
		Tags:    []string{"privacy", "eu", "personal-data", "breach"},
	},
	{
		ID:      "ccpa",
		Title:   "California Consumer Privacy Act (CCPA)",
		Summary: "California privacy law: consumer rights to know, delete, and opt out of sale of personal information; non-discrimination for exercising rights; applies above revenue and data-volume thresholds.",
		Tags:    []string{"privacy", "california", "personal-data"},
	},
	{
		ID:      "hipaa",
		Title:   "Health Insurance Portability and Accountability Act (HIPAA)",
		Summary: "US health data rules: protected health information (PHI) safeguards, privacy and security rules, business associate agreements, breach notification.",
		Tags:    []string{"health", "us", "phi", "breach"},
	},
	{
		ID:      "pci-dss",
		Title:   "Payment Card Industry Data Security Standard (PCI DSS)",
		Summary: "Card payment security standard: cardholder data environment segmentation, encryption in transit and at rest, access control, logging and monitoring, quarterly scans.",
		Tags:    []string{"payments", "cards", "encryption"},
	},
	{
		ID:      "sox",
		Title:   "Sarbanes-Oxley Act (SOX)",
		Summary: "US financial reporting controls: internal control over financial reporting, audit trails, record retention, management certification of financial statements.",
		Tags:    []string{"finance", "us", "audit", "retention"},
	},
	{
		ID:      "soc2",
		Title:   "SOC 2 Trust Services Criteria",
		Summary: "Attestation framework over security, availability, processing integrity, confidentiality, and privacy; evidence-based controls audited over a reporting period.",
		Tags:    []string{"security", "audit", "controls"},
	},
}

// RegulationSearch answers keyword queries against the regulation corpus.
// The corpus is shared, read-only reference data, so no tenant scoping is
// applied to the content, only to the audit trail.
type RegulationSearch struct {
	corpus []Regulation
}

// NewRegulationSearch creates the regulation_search tool. Extra regulations
// are appended to the built-in corpus.
func NewRegulationSearch(extra ...Regulation) *RegulationSearch {
	corpus := append([]Regulation(nil), builtinRegulations...)
	corpus = append(corpus, extra...)
	return &RegulationSearch{corpus: corpus}
}

func (t *RegulationSearch) Name() string { return "regulation_search" }

func (t *RegulationSearch) Description() string {
	return "Search the compliance reference corpus for regulations matching keywords."
}

func (t *RegulationSearch) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "Keywords to search for"},
			"limit": {"type": "integer", "minimum": 1, "maximum": 20}
		},
		"required": ["query"]
	}`)
}

type scoredRegulation struct {
	Regulation
	Score int `json:"score"`
}

func (t *RegulationSearch) Execute(ctx context.Context, scope models.TenantContext, input json.RawMessage) (*agent.ToolResult, error) {
	var args struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return errorResult("invalid arguments: "+err.Error(), "supply a query string"), nil
	}
	if args.Limit <= 0 || args.Limit > 20 {
		args.Limit = 5
	}

	terms := strings.Fields(strings.ToLower(args.Query))
	if len(terms) == 0 {
		return errorResult("query is empty", "supply one or more keywords"), nil
	}

	var hits []scoredRegulation
	for _, reg := range t.corpus {
		score := scoreRegulation(reg, terms)
		if score > 0 {
			hits = append(hits, scoredRegulation{Regulation: reg, Score: score})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > args.Limit {
		hits = hits[:args.Limit]
	}

	return resultJSON(map[string]any{"results": hits, "count": len(hits)})
}

// scoreRegulation counts term hits, weighting title and tag matches above
// summary matches.
func scoreRegulation(reg Regulation, terms []string) int {
	title := strings.ToLower(reg.Title)
	summary := strings.ToLower(reg.Summary)
	score := 0
	for _, term := range terms {
		if strings.Contains(title, term) {
			score += 3
		}
		for _, tag := range reg.Tags {
			if strings.Contains(tag, term) {
				score += 2
			}
		}
		if strings.Contains(summary, term) {
			score++
		}
	}
	return score
}
