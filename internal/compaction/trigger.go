// Package compaction decides when a session's context should be
// compacted and performs the summarization.
package compaction

import (
	"fmt"
	"regexp"
	"sync"
)

// TriggerConfig holds the decision thresholds.
type TriggerConfig struct {
	ForceAlways           bool    // test mode
	TriggerTokenThreshold float64 // compact at or above this context ratio
	AlertZoneThreshold    float64 // tighter turn fallback above this ratio
	DefaultTurnFallback   int
	AlertTurnFallback     int
}

// DefaultTriggerConfig matches the documented thresholds.
func DefaultTriggerConfig() TriggerConfig {
	return TriggerConfig{
		TriggerTokenThreshold: 0.70,
		AlertZoneThreshold:    0.50,
		DefaultTurnFallback:   8,
		AlertTurnFallback:     5,
	}
}

// progressSignalRes match tool commands that mark a natural milestone:
// work just shipped, so the transcript behind it summarizes well.
var progressSignalRes = []*regexp.Regexp{
	regexp.MustCompile(`\bgit\s+push\b`),
	regexp.MustCompile(`\bgh\s+pr\s+create\b`),
	regexp.MustCompile(`\bgh\s+pr\s+merge\b`),
	regexp.MustCompile(`\bgit\s+tag\b`),
}

// Trigger is the per-session compaction counter plus decision
// function.
type Trigger struct {
	cfg TriggerConfig

	mu             sync.Mutex
	turnsSinceLast int
}

// NewTrigger creates a trigger with the given thresholds.
func NewTrigger(cfg TriggerConfig) *Trigger {
	return &Trigger{cfg: cfg}
}

// Observation is what the pipeline feeds the decision each turn.
type Observation struct {
	TokenRatio       float64  // current context window usage, 0..1
	RecentEventTypes []string // most recent persisted event types
	RecentToolCmds   []string // shell commands from recent tool calls
}

// Decision reports whether to compact and why.
type Decision struct {
	Compact bool
	Reason  string
}

// Tick increments the turn counter and evaluates the decision rules in
// order: force flag, token threshold, worktree commit, progress-signal
// commands, then the turn-count fallback.
func (t *Trigger) Tick(obs Observation) Decision {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.turnsSinceLast++

	if t.cfg.ForceAlways {
		return Decision{Compact: true, Reason: "forced"}
	}
	if obs.TokenRatio >= t.cfg.TriggerTokenThreshold {
		return Decision{Compact: true, Reason: fmt.Sprintf("context window at %.0f%%", obs.TokenRatio*100)}
	}
	for _, eventType := range obs.RecentEventTypes {
		if eventType == "worktree.commit" {
			return Decision{Compact: true, Reason: "good compaction point: worktree commit"}
		}
	}
	for _, cmd := range obs.RecentToolCmds {
		for _, re := range progressSignalRes {
			if re.MatchString(cmd) {
				return Decision{Compact: true, Reason: "good compaction point: " + re.String()}
			}
		}
	}

	fallback := t.cfg.DefaultTurnFallback
	if obs.TokenRatio >= t.cfg.AlertZoneThreshold {
		fallback = t.cfg.AlertTurnFallback
	}
	if t.turnsSinceLast >= fallback {
		return Decision{Compact: true, Reason: fmt.Sprintf("turn fallback after %d turns", t.turnsSinceLast)}
	}
	return Decision{}
}

// Reset zeroes the turn counter; called after a compaction runs.
func (t *Trigger) Reset() {
	t.mu.Lock()
	t.turnsSinceLast = 0
	t.mu.Unlock()
}

// TurnsSinceLast reports the current counter, for logging.
func (t *Trigger) TurnsSinceLast() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.turnsSinceLast
}
