package provider

import "github.com/KafClaw/siteagent/internal/config"

// DefaultPricing is the list price per 1k tokens of each vendor's default model.
var DefaultPricing = map[string]config.Pricing{
	"openai":    {PromptPer1K: 0.00015, CompletionPer1K: 0.0006},
	"anthropic": {PromptPer1K: 0.003, CompletionPer1K: 0.015},
	"gemini":    {PromptPer1K: 0.0001, CompletionPer1K: 0.0004},
	"xai":       {PromptPer1K: 0.003, CompletionPer1K: 0.015},
}

// PricingFor returns the configured price for a provider, falling back to
// DefaultPricing.
func PricingFor(providerID string, overrides map[string]config.Pricing) config.Pricing {
	id := NormalizeProviderID(providerID)
	if p, ok := overrides[id]; ok {
		return p
	}
	return DefaultPricing[id]
}

// CalculateCost computes the USD cost for a given usage.
func CalculateCost(p config.Pricing, usage Usage) float64 {
	return (float64(usage.PromptTokens)*p.PromptPer1K +
		float64(usage.CompletionTokens)*p.CompletionPer1K) / 1000.0
}
