// Package guardrails evaluates declarative rules against tool
// invocations before execution. Rules come in three kinds (pattern,
// path, resource) and three tiers; core rules cannot be disabled by
// configuration.
package guardrails

import (
	"fmt"
	"sort"
	"strings"
)

// Severity grades a rule's consequence when violated.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Tier orders rule provenance. Core rules are always active.
type Tier string

const (
	TierCore     Tier = "core"
	TierStandard Tier = "standard"
	TierCustom   Tier = "custom"
)

// Action is the outcome of evaluating one rule.
type Action int

const (
	ActionPass Action = iota
	ActionWarn
	ActionBlock
)

// Rule is one declarative guardrail. Check inspects the invocation and
// returns a violation reason, or "" when the rule passes.
type Rule struct {
	ID       string
	Kind     string // "pattern" | "path" | "resource"
	Severity Severity
	Scope    string
	Tier     Tier
	Tools    []string // applicable tool names; empty applies to all
	Priority int
	Enabled  bool
	Tags     []string

	// Check returns the violation reason; on a violation, critical
	// severity blocks and anything lower warns.
	Check func(toolName string, args map[string]interface{}) string
}

func (r *Rule) appliesTo(toolName string) bool {
	if len(r.Tools) == 0 {
		return true
	}
	for _, t := range r.Tools {
		if strings.EqualFold(t, toolName) {
			return true
		}
	}
	return false
}

// Decision is the aggregate outcome for one invocation.
type Decision struct {
	Action   Action
	RuleID   string
	Reason   string
	Warnings []string
}

// Blocked is a convenience accessor.
func (d Decision) Blocked() bool { return d.Action == ActionBlock }

// Engine holds the active rule set, highest priority first.
type Engine struct {
	rules []Rule
}

// Config selects which non-core tiers are active. Core is
// unconditional.
type Config struct {
	StandardEnabled bool
	CustomRules     []Rule
	DisabledRuleIDs []string // ignored for core-tier rules
}

// NewEngine assembles core + standard + custom rules, honoring
// DisabledRuleIDs for every tier except core.
func NewEngine(cfg Config) *Engine {
	disabled := make(map[string]bool, len(cfg.DisabledRuleIDs))
	for _, id := range cfg.DisabledRuleIDs {
		disabled[id] = true
	}

	var rules []Rule
	for _, r := range CoreRules() {
		r.Enabled = true // core rules cannot be disabled
		rules = append(rules, r)
	}
	if cfg.StandardEnabled {
		for _, r := range StandardRules() {
			if !disabled[r.ID] {
				rules = append(rules, r)
			}
		}
	}
	for _, r := range cfg.CustomRules {
		if !disabled[r.ID] && r.Enabled {
			rules = append(rules, r)
		}
	}

	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority > rules[j].Priority })
	return &Engine{rules: rules}
}

// Evaluate runs every applicable rule against the invocation in
// priority order. The first critical violation blocks and
// short-circuits; lower-severity violations accumulate as warnings.
func (e *Engine) Evaluate(toolName string, args map[string]interface{}) Decision {
	decision := Decision{Action: ActionPass}
	for i := range e.rules {
		r := &e.rules[i]
		if !r.Enabled || !r.appliesTo(toolName) {
			continue
		}
		reason := r.Check(toolName, args)
		if reason == "" {
			continue
		}
		if r.Severity == SeverityCritical {
			return Decision{Action: ActionBlock, RuleID: r.ID, Reason: reason, Warnings: decision.Warnings}
		}
		decision.Action = ActionWarn
		decision.Warnings = append(decision.Warnings, fmt.Sprintf("%s: %s", r.ID, reason))
	}
	return decision
}

// stringArg pulls a string value out of tool args, tolerating absence.
func stringArg(args map[string]interface{}, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}
