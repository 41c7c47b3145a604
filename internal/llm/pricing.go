package llm

import (
	"maps"
	"slices"
	"sync"

	"github.com/ahrav/go-convgen/internal/domain"
)

// ModelPrice holds per-1000-token rates for one model.
type ModelPrice struct {
	InputPer1K  domain.USD `json:"input_per_1k" mapstructure:"input_per_1k"`
	OutputPer1K domain.USD `json:"output_per_1k" mapstructure:"output_per_1k"`
}

// Calculate prices a single call.
func (p ModelPrice) Calculate(inputTokens, outputTokens int) domain.USD {
	in := domain.USD(float64(inputTokens)/1000) * p.InputPer1K
	out := domain.USD(float64(outputTokens)/1000) * p.OutputPer1K
	return in + out
}

// DefaultPrices returns the built-in model price table.
func DefaultPrices() map[string]ModelPrice {
	return map[string]ModelPrice{
		"claude-sonnet-4-5-20250929": {InputPer1K: 0.003, OutputPer1K: 0.015},
		"claude-3-5-sonnet-20241022": {InputPer1K: 0.003, OutputPer1K: 0.015},
		"claude-3-opus-20240229":     {InputPer1K: 0.015, OutputPer1K: 0.075},
		"claude-3-haiku-20240307":    {InputPer1K: 0.00025, OutputPer1K: 0.00125},
	}
}

// PriceTable prices token usage by model. Unknown models cost nothing so a
// missing entry never fails a generation.
type PriceTable struct {
	mu     sync.RWMutex
	prices map[string]ModelPrice
}

// NewPriceTable starts from DefaultPrices and applies overrides on top.
func NewPriceTable(overrides map[string]ModelPrice) *PriceTable {
	prices := DefaultPrices()
	maps.Copy(prices, overrides)
	return &PriceTable{prices: prices}
}

// Cost returns the dollar cost of a call.
func (t *PriceTable) Cost(model string, inputTokens, outputTokens int) domain.USD {
	p, ok := t.Lookup(model)
	if !ok {
		return 0
	}
	return p.Calculate(inputTokens, outputTokens)
}

// Lookup returns the rates for model.
func (t *PriceTable) Lookup(model string) (ModelPrice, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.prices[model]
	return p, ok
}

// Set adds or replaces the rates for model.
func (t *PriceTable) Set(model string, p ModelPrice) {
	t.mu.Lock()
	t.prices[model] = p
	t.mu.Unlock()
}

// Models lists priced models in sorted order.
func (t *PriceTable) Models() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Sorted(maps.Keys(t.prices))
}
