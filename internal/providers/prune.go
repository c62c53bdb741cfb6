package providers

import (
	"fmt"
	"sync"
	"time"

	"github.com/tronrun/agentruntime/internal/reconstruct"
)

// Cache-cold pruning: once the provider-side prompt cache has expired
// (no call on this instance for over five minutes), re-sending large
// historical tool results buys nothing — the whole prefix re-tokenizes
// anyway. Old oversized results are replaced with a short sentinel;
// the most recent turns are always left intact.
type PruneConfig struct {
	CacheTTL           time.Duration // elapsed time after which the cache is considered cold
	PreserveRecentTurns int
	MaxToolResultChars  int
}

// DefaultPruneConfig mirrors the 5-minute Anthropic cache TTL.
func DefaultPruneConfig() PruneConfig {
	return PruneConfig{
		CacheTTL:            5 * time.Minute,
		PreserveRecentTurns: 2,
		MaxToolResultChars:  4000,
	}
}

// cacheClock tracks the instant of the last call on one provider
// instance so pruning can tell a warm cache from a cold one.
type cacheClock struct {
	mu       sync.Mutex
	lastCall time.Time
}

// coldAndTouch reports whether the cache has gone cold since the last
// call, then records now as the latest call.
func (c *cacheClock) coldAndTouch(ttl time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	cold := !c.lastCall.IsZero() && time.Since(c.lastCall) > ttl
	c.lastCall = time.Now()
	return cold
}

// PruneColdToolResults returns a copy of msgs where tool-result text
// older than the cfg.PreserveRecentTurns most recent turns and longer
// than cfg.MaxToolResultChars is replaced with a sentinel. A turn
// boundary is a user message that is not a tool result.
func PruneColdToolResults(msgs []reconstruct.Message, cfg PruneConfig) []reconstruct.Message {
	if cfg.PreserveRecentTurns <= 0 || cfg.MaxToolResultChars <= 0 {
		return msgs
	}

	// Find the index where the protected tail begins: walk backwards
	// counting user-message turn boundaries.
	cutoff := 0
	turns := 0
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == reconstruct.RoleUser {
			turns++
			if turns >= cfg.PreserveRecentTurns {
				cutoff = i
				break
			}
		}
	}
	if cutoff == 0 {
		return msgs
	}

	out := make([]reconstruct.Message, len(msgs))
	copy(out, msgs)
	for i := 0; i < cutoff; i++ {
		if out[i].Role != reconstruct.RoleToolResult {
			continue
		}
		blocks := make([]reconstruct.ContentBlock, len(out[i].Content))
		copy(blocks, out[i].Content)
		changed := false
		for j, b := range blocks {
			if b.Type == "tool_result" && len(b.Text) > cfg.MaxToolResultChars {
				n := len(b.Text)
				b.Text = fmt.Sprintf("[pruned %d chars for cache efficiency]", n)
				b.Content = nil
				blocks[j] = b
				changed = true
			}
		}
		if changed {
			out[i].Content = blocks
		}
	}
	return out
}
