package model

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Pricing is the USD cost per million tokens for a model.
type Pricing struct {
	InputPer1M  float64
	OutputPer1M float64
}

// DefaultPricing holds list prices for the models the pipelines are
// configured with. Unknown models are tracked at zero cost.
var DefaultPricing = map[string]Pricing{
	"gpt-4o":                     {InputPer1M: 2.50, OutputPer1M: 10.00},
	"gpt-4o-mini":                {InputPer1M: 0.15, OutputPer1M: 0.60},
	"gpt-4.1":                    {InputPer1M: 2.00, OutputPer1M: 8.00},
	"gpt-4.1-mini":               {InputPer1M: 0.40, OutputPer1M: 1.60},
	"claude-3-5-sonnet-20241022": {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-5-haiku-20241022":  {InputPer1M: 0.80, OutputPer1M: 4.00},
	"claude-sonnet-4-20250514":   {InputPer1M: 3.00, OutputPer1M: 15.00},
	"gemini-1.5-pro":             {InputPer1M: 1.25, OutputPer1M: 5.00},
	"gemini-1.5-flash":           {InputPer1M: 0.075, OutputPer1M: 0.30},
	"gemini-2.0-flash":           {InputPer1M: 0.10, OutputPer1M: 0.40},
}

// Call is one recorded model call.
type Call struct {
	Model        string    `json:"model"`
	Node         string    `json:"node,omitempty"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	CostUSD      float64   `json:"cost_usd"`
	Timestamp    time.Time `json:"timestamp"`
}

// CostTracker accumulates token usage and cost across model calls.
// Safe for concurrent use.
type CostTracker struct {
	mu           sync.RWMutex
	pricing      map[string]Pricing
	calls        []Call
	modelCosts   map[string]float64
	totalCost    float64
	inputTokens  int64
	outputTokens int64
	now          func() time.Time
}

// NewCostTracker creates a tracker using DefaultPricing.
func NewCostTracker() *CostTracker {
	pricing := make(map[string]Pricing, len(DefaultPricing))
	for k, v := range DefaultPricing {
		pricing[k] = v
	}
	return &CostTracker{
		pricing:    pricing,
		modelCosts: make(map[string]float64),
		now:        time.Now,
	}
}

// SetPricing overrides the price of a model.
func (ct *CostTracker) SetPricing(model string, p Pricing) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.pricing[model] = p
}

// Record adds one call and returns its cost.
func (ct *CostTracker) Record(model, node string, usage Usage) float64 {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	p := ct.pricing[model]
	cost := float64(usage.InputTokens)/1_000_000*p.InputPer1M +
		float64(usage.OutputTokens)/1_000_000*p.OutputPer1M

	ct.calls = append(ct.calls, Call{
		Model:        model,
		Node:         node,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		CostUSD:      cost,
		Timestamp:    ct.now(),
	})
	ct.totalCost += cost
	ct.modelCosts[model] += cost
	ct.inputTokens += int64(usage.InputTokens)
	ct.outputTokens += int64(usage.OutputTokens)
	return cost
}

// TotalCost returns the accumulated cost in USD.
func (ct *CostTracker) TotalCost() float64 {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.totalCost
}

// CostByModel returns a copy of the per-model cost.
func (ct *CostTracker) CostByModel() map[string]float64 {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	out := make(map[string]float64, len(ct.modelCosts))
	for k, v := range ct.modelCosts {
		out[k] = v
	}
	return out
}

// Calls returns a copy of the call history.
func (ct *CostTracker) Calls() []Call {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return append([]Call(nil), ct.calls...)
}

// TokenUsage returns total input and output tokens.
func (ct *CostTracker) TokenUsage() (input, output int64) {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.inputTokens, ct.outputTokens
}

// Reset clears history and totals. Pricing is kept.
func (ct *CostTracker) Reset() {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	ct.calls = nil
	ct.totalCost = 0
	ct.modelCosts = make(map[string]float64)
	ct.inputTokens = 0
	ct.outputTokens = 0
}

func (ct *CostTracker) String() string {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return fmt.Sprintf("CostTracker{Calls: %d, TotalCost: $%.4f, InputTokens: %d, OutputTokens: %d}",
		len(ct.calls), ct.totalCost, ct.inputTokens, ct.outputTokens)
}

type callSiteKey struct{}

// WithCallSite tags ctx with the node making model calls, for attribution
// by Tracked.
func WithCallSite(ctx context.Context, node string) context.Context {
	return context.WithValue(ctx, callSiteKey{}, node)
}

// CallSite returns the node set by WithCallSite, or "".
func CallSite(ctx context.Context) string {
	node, _ := ctx.Value(callSiteKey{}).(string)
	return node
}

// Tracked wraps a ChatModel and records the usage of every successful call.
type Tracked struct {
	next    ChatModel
	tracker *CostTracker
	model   string
}

// NewTracked records calls to next in tracker. fallbackModel names the model
// when the provider does not report one.
func NewTracked(next ChatModel, tracker *CostTracker, fallbackModel string) *Tracked {
	return &Tracked{next: next, tracker: tracker, model: fallbackModel}
}

// Chat delegates and records usage.
func (t *Tracked) Chat(ctx context.Context, messages []Message, opts Options) (ChatOut, error) {
	out, err := t.next.Chat(ctx, messages, opts)
	if err != nil {
		return out, err
	}
	name := out.Model
	if name == "" {
		name = t.model
	}
	t.tracker.Record(name, CallSite(ctx), out.Usage)
	return out, nil
}
