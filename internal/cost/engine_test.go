package cost

import (
	"context"
	"testing"

	"github.com/forgegate/forgegate/internal/usage"
)

func TestEstimate_AnthropicInclusiveCacheFamily(t *testing.T) {
	engine := NewEngine(nil)
	u := &usage.Usage{InputTokens: 1000, OutputTokens: 500, CacheReadTokens: 200}

	got, err := engine.Estimate(context.Background(), "claude-sonnet-4-5", u, "")
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}

	// regular input = 1000 - 200 = 800, at $3/1M; output 500 at $15/1M;
	// cache-read 200 at $3*0.1/1M.
	want := (800*3 + 500*15 + 200*3*0.1) / 1_000_000
	if diff := got - want; diff > 1e-12 || diff < -1e-12 {
		t.Errorf("Estimate = %v, want %v", got, want)
	}
}

func TestEstimate_OpenAIExclusiveCacheFamily(t *testing.T) {
	engine := NewEngine(nil)
	u := &usage.Usage{InputTokens: 1000, OutputTokens: 500, CacheReadTokens: 200}

	got, err := engine.Estimate(context.Background(), "gpt-4o", u, "")
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}

	// input is already exclusive of cache-read for this family.
	want := (1000*2.5 + 500*10 + 200*2.5*0.5) / 1_000_000
	if diff := got - want; diff > 1e-12 || diff < -1e-12 {
		t.Errorf("Estimate = %v, want %v", got, want)
	}
}

func TestEstimate_LocalModelWithColonIsFree(t *testing.T) {
	engine := NewEngine(nil)
	u := &usage.Usage{InputTokens: 1000, OutputTokens: 500}

	got, err := engine.Estimate(context.Background(), "ollama:llama3", u, "")
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	if got != 0 {
		t.Errorf("Estimate = %v, want 0 for local model", got)
	}
}

func TestEstimate_ExplicitProviderHintOverridesPrefix(t *testing.T) {
	engine := NewEngine(nil)
	u := &usage.Usage{InputTokens: 1000, OutputTokens: 500}

	got, err := engine.Estimate(context.Background(), "custom-model-name", u, "anthropic")
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	// falls through to "default" pricing pattern for anthropic.
	want := (1000*3 + 500*15) / 1_000_000.0
	if diff := got - want; diff > 1e-12 || diff < -1e-12 {
		t.Errorf("Estimate = %v, want %v", got, want)
	}
}

func TestLookupPrice_LongestPatternWins(t *testing.T) {
	prices := []Pricing{
		{Pattern: "claude", InputPrice: 1, OutputPrice: 1},
		{Pattern: "claude-opus", InputPrice: 15, OutputPrice: 75},
		{Pattern: "default", InputPrice: 99, OutputPrice: 99},
	}
	got, ok := lookupPrice(prices, "claude-opus-4-5")
	if !ok {
		t.Fatal("expected a match")
	}
	if got.Pattern != "claude-opus" {
		t.Errorf("Pattern = %q, want claude-opus (longest match)", got.Pattern)
	}
}

func TestLookupPrice_FallsBackToDefault(t *testing.T) {
	prices := []Pricing{
		{Pattern: "claude-opus", InputPrice: 15, OutputPrice: 75},
		{Pattern: "default", InputPrice: 99, OutputPrice: 99},
	}
	got, ok := lookupPrice(prices, "claude-unknown-model")
	if !ok {
		t.Fatal("expected fallback match")
	}
	if got.Pattern != "default" {
		t.Errorf("Pattern = %q, want default", got.Pattern)
	}
}

func TestEstimate_NilUsageIsZero(t *testing.T) {
	engine := NewEngine(nil)
	got, err := engine.Estimate(context.Background(), "claude-sonnet-4-5", nil, "")
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	if got != 0 {
		t.Errorf("Estimate = %v, want 0", got)
	}
}

func TestEstimate_UsesPricingCache(t *testing.T) {
	calls := 0
	source := countingSource{count: &calls}
	engine := NewEngine(source)
	u := &usage.Usage{InputTokens: 100, OutputTokens: 50}

	for i := 0; i < 3; i++ {
		if _, err := engine.Estimate(context.Background(), "claude-sonnet-4-5", u, ""); err != nil {
			t.Fatalf("Estimate: %v", err)
		}
	}
	if calls != 1 {
		t.Errorf("pricing source called %d times, want 1 (cached)", calls)
	}
}

type countingSource struct {
	count *int
}

func (s countingSource) Pricing(ctx context.Context) (map[string]ProviderPricing, error) {
	*s.count++
	return DefaultPricing(), nil
}
