package tokens

import "strings"

// pricingTier is cost per million tokens, with cache multipliers applied
// against the input rate.
type pricingTier struct {
	inputPerMillion        float64
	outputPerMillion       float64
	cacheWrite5mMultiplier float64
	cacheWrite1hMultiplier float64
	cacheReadMultiplier    float64
}

var (
	tierOpus45      = pricingTier{5.0, 25.0, 1.25, 2.0, 0.1}
	tierSonnet45    = pricingTier{3.0, 15.0, 1.25, 2.0, 0.1}
	tierHaiku45     = pricingTier{1.0, 5.0, 1.25, 2.0, 0.1}
	tierOpus41      = pricingTier{15.0, 75.0, 1.25, 2.0, 0.1}
	tierSonnet4     = pricingTier{3.0, 15.0, 1.25, 2.0, 0.1}
	tierHaiku3      = pricingTier{0.25, 1.25, 1.25, 2.0, 0.1}
	tierGeminiPro   = pricingTier{1.25, 5.0, 1.0, 1.0, 0.25}
	tierGeminiFlash = pricingTier{0.075, 0.3, 1.0, 1.0, 0.25}
	tierMinimax     = pricingTier{0.3, 1.2, 1.0, 1.0, 1.0}
)

// exactPricing maps fully-qualified model ids to a tier, checked before
// the substring fallback below.
var exactPricing = map[string]pricingTier{
	"claude-opus-4-5-20251101":    tierOpus45,
	"claude-sonnet-4-5-20250929":  tierSonnet45,
	"claude-haiku-4-5-20251001":   tierHaiku45,
	"claude-opus-4-1-20250805":    tierOpus41,
	"claude-sonnet-4-20250514":    tierSonnet4,
	"claude-3-haiku-20240307":     tierHaiku3,
	"gemini-2.5-pro":              tierGeminiPro,
	"gemini-2.5-flash":            tierGeminiFlash,
	"minimax-m2":                  tierMinimax,
}

// lookupTier finds the pricing tier for a model id, trying an exact match
// first and then a substring match on model family, per the original
// pricing lookup's two-phase approach. Returns false for an unknown model
// rather than guessing a fallback rate.
func lookupTier(model string) (pricingTier, bool) {
	if tier, ok := exactPricing[model]; ok {
		return tier, true
	}

	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "minimax"):
		return tierMinimax, true
	case strings.Contains(lower, "opus-4-5"), strings.Contains(lower, "opus-4.5"):
		return tierOpus45, true
	case strings.Contains(lower, "opus"):
		return tierOpus41, true
	case strings.Contains(lower, "sonnet-4-5"), strings.Contains(lower, "sonnet-4.5"):
		return tierSonnet45, true
	case strings.Contains(lower, "sonnet"):
		return tierSonnet4, true
	case strings.Contains(lower, "haiku-4-5"), strings.Contains(lower, "haiku-4.5"):
		return tierHaiku45, true
	case strings.Contains(lower, "haiku"):
		return tierHaiku3, true
	case strings.Contains(lower, "gemini-2.5-pro"), strings.Contains(lower, "gemini-3-pro"):
		return tierGeminiPro, true
	case strings.Contains(lower, "gemini"):
		return tierGeminiFlash, true
	}

	return pricingTier{}, false
}

// Cost computes the USD cost of a single call's raw usage for model.
// Returns (0, false) when the model has no known pricing, signaling the
// caller should persist a null cost rather than a guessed value.
func Cost(model string, raw RawUsage) (float64, bool) {
	tier, ok := lookupTier(model)
	if !ok {
		return 0, false
	}

	input := float64(raw.Input)
	output := float64(raw.Output)
	cacheCreation := float64(raw.CacheCreation)
	cacheRead := float64(raw.CacheRead)
	cacheWriteShort := float64(raw.CacheCreation5m)
	cacheWriteLong := float64(raw.CacheCreation1h)

	baseInput := input - cacheRead - cacheCreation
	if baseInput < 0 {
		baseInput = 0
	}
	baseInputCost := (baseInput / 1_000_000) * tier.inputPerMillion

	var cacheCreationCost float64
	if cacheWriteShort > 0 || cacheWriteLong > 0 {
		shortCost := (cacheWriteShort / 1_000_000) * tier.inputPerMillion * tier.cacheWrite5mMultiplier
		longCost := (cacheWriteLong / 1_000_000) * tier.inputPerMillion * tier.cacheWrite1hMultiplier
		cacheCreationCost = shortCost + longCost
	} else {
		cacheCreationCost = (cacheCreation / 1_000_000) * tier.inputPerMillion * tier.cacheWrite5mMultiplier
	}

	cacheReadCost := (cacheRead / 1_000_000) * tier.inputPerMillion * tier.cacheReadMultiplier
	outputCost := (output / 1_000_000) * tier.outputPerMillion

	return baseInputCost + cacheCreationCost + cacheReadCost + outputCost, true
}
