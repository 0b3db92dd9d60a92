package usage

import (
	"sort"
	"strings"
)

// ModelRate is the USD price per 1,000 tokens, split by direction.
type ModelRate struct {
	InputPer1K  float64
	OutputPer1K float64
}

type pricingEntry struct {
	match string
	rate  ModelRate
}

// defaultRates holds published per-model pricing. Lookup is by substring so
// dated model ids ("claude-sonnet-4-20250514") match their family.
var defaultRates = []pricingEntry{
	{"opus", ModelRate{InputPer1K: 0.015, OutputPer1K: 0.075}},
	{"sonnet", ModelRate{InputPer1K: 0.003, OutputPer1K: 0.015}},
	{"haiku", ModelRate{InputPer1K: 0.0008, OutputPer1K: 0.004}},
}

// defaultRate prices unknown models at the mid-range tier so cost is never
// silently zero.
var defaultRate = ModelRate{InputPer1K: 0.003, OutputPer1K: 0.015}

// Pricing resolves per-model rates. Build with NewPricing.
type Pricing struct {
	entries  []pricingEntry
	fallback ModelRate
}

// NewPricing builds a rate table. Overrides are matched before the builtin
// table, longest key first, so a deployment can pin an exact model id or
// reprice a whole family. A nil or empty map yields the builtin table.
func NewPricing(overrides map[string]ModelRate) *Pricing {
	keys := make([]string, 0, len(overrides))
	for key := range overrides {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})

	entries := make([]pricingEntry, 0, len(keys)+len(defaultRates))
	for _, key := range keys {
		entries = append(entries, pricingEntry{match: strings.ToLower(key), rate: overrides[key]})
	}
	entries = append(entries, defaultRates...)
	return &Pricing{entries: entries, fallback: defaultRate}
}

// DefaultPricing is the builtin rate table.
var DefaultPricing = NewPricing(nil)

func (p *Pricing) rateFor(model string) ModelRate {
	model = strings.ToLower(model)
	for _, entry := range p.entries {
		if strings.Contains(model, entry.match) {
			return entry.rate
		}
	}
	return p.fallback
}

// Cost computes the USD cost of a model round-trip. Pure function of its
// inputs; the ledger stores the result so historical records keep the price
// in effect when they were written.
func (p *Pricing) Cost(model string, inputTokens, outputTokens int) float64 {
	rate := p.rateFor(model)
	return float64(inputTokens)/1000*rate.InputPer1K + float64(outputTokens)/1000*rate.OutputPer1K
}

// Cost prices a round-trip against the builtin table.
func Cost(model string, inputTokens, outputTokens int) float64 {
	return DefaultPricing.Cost(model, inputTokens, outputTokens)
}
