package model

import (
	"context"
	"sort"
	"sync"

	"github.com/cloudwego/eino/schema"
)

// Pricing defines USD cost per 1M tokens for input/output.
type Pricing struct {
	InputPerM  float64
	OutputPerM float64
}

// defaultPricing provides hardcoded USD pricing per 1M tokens (text tokens).
var defaultPricing = map[string]Pricing{
	// Source: Gemini pricing (Standard; text). Adjust for audio/image if needed.
	"gemini-2.5-pro":        {InputPerM: 1.25, OutputPerM: 10.00},
	"gemini-2.5-flash":      {InputPerM: 0.30, OutputPerM: 2.50},
	"gemini-2.5-flash-lite": {InputPerM: 0.10, OutputPerM: 0.40},
}

// ResolvePricing returns hardcoded pricing for a model; unknown models cost zero.
func ResolvePricing(model string) Pricing {
	if p, ok := defaultPricing[model]; ok {
		return p
	}
	return Pricing{}
}

// ComputeCost converts token usage to USD cost using per-1M Pricing.
func ComputeCost(usage *schema.TokenUsage, p Pricing) (inputCost, outputCost, total float64) {
	if usage == nil {
		return 0, 0, 0
	}
	inputCost = p.InputPerM * float64(usage.PromptTokens) / 1_000_000.0
	outputCost = p.OutputPerM * float64(usage.CompletionTokens) / 1_000_000.0
	total = inputCost + outputCost
	return
}

// Usage aggregates token counts and cost.
type Usage struct {
	Model            string  `json:"model,omitempty"`
	Calls            int     `json:"calls"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	CostUSD          float64 `json:"cost_usd"`
}

// Ledger accumulates usage for one session across every model call.
type Ledger struct {
	mu      sync.Mutex
	byModel map[string]*Usage
}

func NewLedger() *Ledger {
	return &Ledger{byModel: map[string]*Usage{}}
}

// Record adds one call and returns its cost split.
func (l *Ledger) Record(model string, usage *schema.TokenUsage) (inputCost, outputCost, total float64) {
	inputCost, outputCost, total = ComputeCost(usage, ResolvePricing(model))

	l.mu.Lock()
	defer l.mu.Unlock()
	u, ok := l.byModel[model]
	if !ok {
		u = &Usage{Model: model}
		l.byModel[model] = u
	}
	u.Calls++
	if usage != nil {
		u.PromptTokens += usage.PromptTokens
		u.CompletionTokens += usage.CompletionTokens
		u.TotalTokens += usage.TotalTokens
	}
	u.CostUSD += total
	return
}

// Total sums usage over all models.
func (l *Ledger) Total() Usage {
	l.mu.Lock()
	defer l.mu.Unlock()
	var t Usage
	for _, u := range l.byModel {
		t.Calls += u.Calls
		t.PromptTokens += u.PromptTokens
		t.CompletionTokens += u.CompletionTokens
		t.TotalTokens += u.TotalTokens
		t.CostUSD += u.CostUSD
	}
	return t
}

// ByModel returns per-model usage sorted by model name.
func (l *Ledger) ByModel() []Usage {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Usage, 0, len(l.byModel))
	for _, u := range l.byModel {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Model < out[j].Model })
	return out
}

type ledgerKey struct{}

// WithLedger attaches a session ledger to ctx.
func WithLedger(ctx context.Context, l *Ledger) context.Context {
	return context.WithValue(ctx, ledgerKey{}, l)
}

// LedgerFrom returns the ledger attached to ctx, or nil.
func LedgerFrom(ctx context.Context) *Ledger {
	l, _ := ctx.Value(ledgerKey{}).(*Ledger)
	return l
}
