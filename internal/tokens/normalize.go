// Package tokens normalizes raw per-call provider token usage into the
// per-turn accounting record the pipeline persists and reads back for
// the next turn's baseline and its compaction check.
package tokens

// RawUsage is the token usage a provider call reports directly.
type RawUsage struct {
	Input             int64
	Output            int64
	CacheRead         int64
	CacheCreation     int64
	CacheCreation5m   int64
	CacheCreation1h   int64
}

// CalculationMethod names how NewInputTokens was derived.
type CalculationMethod string

const (
	MethodAnthropicCacheAware CalculationMethod = "anthropic_cache_aware"
	MethodDirect              CalculationMethod = "direct"
)

// Usage is the normalized per-turn record persisted alongside a
// message.assistant event.
type Usage struct {
	Raw                      RawUsage
	ContextWindowTokens      int64
	NewInputTokens           int64
	PreviousContextBaseline  int64
	CalculationMethod        CalculationMethod
}

// Normalize folds a provider's raw usage and the prior turn's context
// baseline into a Usage record. previousBaseline must be threaded in
// explicitly by the caller (the pipeline), not read from ambient state.
func Normalize(provider string, raw RawUsage, previousBaseline int64) Usage {
	method := MethodDirect
	if provider == "anthropic" {
		method = MethodAnthropicCacheAware
	}

	return Usage{
		Raw:                     raw,
		ContextWindowTokens:     raw.Input + raw.CacheRead + raw.CacheCreation,
		NewInputTokens:          raw.Input,
		PreviousContextBaseline: previousBaseline,
		CalculationMethod:       method,
	}
}
