// Package cost implements the Cost Engine (§4.2): turns a model's token
// usage into a USD cost using per-model pricing patterns and the two
// provider-family cache-accounting regimes.
package cost

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/forgegate/forgegate/internal/usage"
)

// CacheFamily distinguishes how a provider reports cache-read tokens
// relative to its input-token count (§4.2 step c).
type CacheFamily int

const (
	// CacheFamilyInclusive is the Anthropic-style family: input_tokens
	// already includes cache-read tokens, so regular input = total - cache_read.
	CacheFamilyInclusive CacheFamily = iota
	// CacheFamilyExclusive is the OpenAI-style family: input_tokens is
	// already exclusive of cache-read tokens.
	CacheFamilyExclusive
)

// Pricing is the per-model price table entry, prices per 1M tokens.
type Pricing struct {
	// Pattern is matched against the model string; the longest matching
	// pattern wins, with "default" as the fallback entry.
	Pattern string

	InputPrice  float64
	OutputPrice float64

	// ReadMultiplier and WriteMultiplier scale InputPrice for cache-read
	// and cache-write tokens (typically 0.1 and 0/1.25 respectively).
	ReadMultiplier  float64
	WriteMultiplier float64
}

// ProviderPricing is a provider's full price list plus its cache family.
type ProviderPricing struct {
	Family CacheFamily
	Prices []Pricing
}

// PricingSource supplies the current price tables, keyed by provider name.
// internal/store's settings table is the production implementation; tests
// and callers without a store use StaticPricingSource.
type PricingSource interface {
	Pricing(ctx context.Context) (map[string]ProviderPricing, error)
}

// StaticPricingSource serves a fixed, in-memory price table — useful for
// tests and for a default configuration with no live settings table.
type StaticPricingSource struct {
	Tables map[string]ProviderPricing
}

func (s StaticPricingSource) Pricing(ctx context.Context) (map[string]ProviderPricing, error) {
	return s.Tables, nil
}

// DefaultPricing returns a reasonable built-in price table for the three
// supported providers, used when no explicit source is configured.
func DefaultPricing() map[string]ProviderPricing {
	return map[string]ProviderPricing{
		"anthropic": {
			Family: CacheFamilyInclusive,
			Prices: []Pricing{
				{Pattern: "claude-opus", InputPrice: 15, OutputPrice: 75, ReadMultiplier: 0.1, WriteMultiplier: 1.25},
				{Pattern: "claude-sonnet", InputPrice: 3, OutputPrice: 15, ReadMultiplier: 0.1, WriteMultiplier: 1.25},
				{Pattern: "claude-haiku", InputPrice: 0.8, OutputPrice: 4, ReadMultiplier: 0.1, WriteMultiplier: 1.25},
				{Pattern: "default", InputPrice: 3, OutputPrice: 15, ReadMultiplier: 0.1, WriteMultiplier: 1.25},
			},
		},
		"openai": {
			Family: CacheFamilyExclusive,
			Prices: []Pricing{
				{Pattern: "gpt-4o-mini", InputPrice: 0.15, OutputPrice: 0.6, ReadMultiplier: 0.5, WriteMultiplier: 0},
				{Pattern: "gpt-4o", InputPrice: 2.5, OutputPrice: 10, ReadMultiplier: 0.5, WriteMultiplier: 0},
				{Pattern: "default", InputPrice: 2.5, OutputPrice: 10, ReadMultiplier: 0.5, WriteMultiplier: 0},
			},
		},
		"google": {
			Family: CacheFamilyExclusive,
			Prices: []Pricing{
				{Pattern: "gemini-1.5-pro", InputPrice: 1.25, OutputPrice: 5, ReadMultiplier: 0.25, WriteMultiplier: 0},
				{Pattern: "gemini-1.5-flash", InputPrice: 0.075, OutputPrice: 0.3, ReadMultiplier: 0.25, WriteMultiplier: 0},
				{Pattern: "default", InputPrice: 1.25, OutputPrice: 5, ReadMultiplier: 0.25, WriteMultiplier: 0},
			},
		},
	}
}

// cacheEntry is the 60s in-memory pricing cache entry (§5: "racy-read-safe,
// stale reads within 60s are acceptable").
type cacheEntry struct {
	tables    map[string]ProviderPricing
	expiresAt time.Time
}

// pricingCacheTTL matches §4.2/§5's 60-second pricing cache.
const pricingCacheTTL = 60 * time.Second

// Engine computes request cost from token usage and model-keyed pricing.
type Engine struct {
	mu     sync.RWMutex
	source PricingSource
	cache  *cacheEntry
}

// NewEngine builds a Cost Engine backed by source. A nil source falls back
// to DefaultPricing().
func NewEngine(source PricingSource) *Engine {
	if source == nil {
		source = StaticPricingSource{Tables: DefaultPricing()}
	}
	return &Engine{source: source}
}

// resolveProvider determines the provider from an explicit hint, or by
// prefix-matching the model string. A model string containing a colon is
// treated as a local/no-charge model (§4.2 step a) and resolves to "".
func resolveProvider(model, hint string) string {
	if hint != "" {
		return hint
	}
	if strings.Contains(model, ":") {
		return ""
	}
	switch {
	case strings.HasPrefix(model, "claude-"):
		return "anthropic"
	case strings.HasPrefix(model, "gpt-") || strings.HasPrefix(model, "o1") || strings.HasPrefix(model, "o3"):
		return "openai"
	case strings.HasPrefix(model, "gemini-"):
		return "google"
	default:
		return ""
	}
}

// lookupPrice finds the longest matching pattern for model, falling back
// to the "default" entry (§4.2 step b).
func lookupPrice(prices []Pricing, model string) (Pricing, bool) {
	matches := make([]Pricing, 0, len(prices))
	for _, p := range prices {
		if p.Pattern != "default" && strings.Contains(model, p.Pattern) {
			matches = append(matches, p)
		}
	}
	if len(matches) > 0 {
		sort.Slice(matches, func(i, j int) bool {
			return len(matches[i].Pattern) > len(matches[j].Pattern)
		})
		return matches[0], true
	}
	for _, p := range prices {
		if p.Pattern == "default" {
			return p, true
		}
	}
	return Pricing{}, false
}

func (e *Engine) pricing(ctx context.Context) (map[string]ProviderPricing, error) {
	e.mu.RLock()
	if e.cache != nil && time.Now().Before(e.cache.expiresAt) {
		tables := e.cache.tables
		e.mu.RUnlock()
		return tables, nil
	}
	e.mu.RUnlock()

	tables, err := e.source.Pricing(ctx)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache = &cacheEntry{tables: tables, expiresAt: time.Now().Add(pricingCacheTTL)}
	e.mu.Unlock()
	return tables, nil
}

// Estimate computes the USD cost for a request's usage against model,
// resolving provider by providerHint (or by prefix match when empty), per
// the exact algorithm in §4.2 and the two cache-accounting regimes.
func (e *Engine) Estimate(ctx context.Context, model string, u *usage.Usage, providerHint string) (float64, error) {
	if u == nil {
		return 0, nil
	}

	provider := resolveProvider(model, providerHint)
	if provider == "" {
		return 0, nil
	}

	tables, err := e.pricing(ctx)
	if err != nil {
		return 0, err
	}
	table, ok := tables[provider]
	if !ok {
		return 0, nil
	}
	price, ok := lookupPrice(table.Prices, model)
	if !ok {
		return 0, nil
	}

	var regularInput int64
	switch table.Family {
	case CacheFamilyInclusive:
		regularInput = u.InputTokens - u.CacheReadTokens
		if regularInput < 0 {
			regularInput = 0
		}
	default: // CacheFamilyExclusive
		regularInput = u.InputTokens
	}

	cost := float64(regularInput)*price.InputPrice +
		float64(u.OutputTokens)*price.OutputPrice +
		float64(u.CacheReadTokens)*price.InputPrice*price.ReadMultiplier +
		float64(u.CacheWriteTokens)*price.InputPrice*price.WriteMultiplier

	return cost / 1_000_000, nil
}
