// Package composer deterministically assembles the (system blocks,
// messages, tools) triple sent to a provider each turn: rules, memory,
// skills, prior conversation, pre-send sanitization and the ordering
// contract for cache-breakpoint placement.
package composer

import (
	"strings"

	"github.com/tronrun/agentruntime/internal/providers"
	"github.com/tronrun/agentruntime/internal/reconstruct"
	"github.com/tronrun/agentruntime/internal/store"
)

// Composer builds per-turn provider requests. It is safe for use from
// one run at a time per session; the rule loader and skill registry it
// holds are themselves concurrency-safe.
type Composer struct {
	corePrompt       string
	rules            *Rules
	skills           *SkillRegistry
	maxMemoryEntries int
}

// New creates a composer. corePrompt is the runtime's base system
// prompt; home and projectRoot anchor rule and skill discovery.
func New(corePrompt, home, projectRoot string) *Composer {
	return &Composer{
		corePrompt:       corePrompt,
		rules:            NewRules(home, projectRoot),
		skills:           NewSkillRegistry(projectRoot, home),
		maxMemoryEntries: 20,
	}
}

// Rules exposes the rule loader so the pipeline can mark it dirty
// after tool execution and reset it at compaction boundaries.
func (c *Composer) Rules() *Rules { return c.rules }

// Skills exposes the skill registry for prompt-time @name resolution.
func (c *Composer) Skills() *SkillRegistry { return c.skills }

// Input carries everything a single compose needs. MemoryEvents are
// memory.ledger events for the workspace, most-recent-first.
type Input struct {
	State           *reconstruct.State
	MemoryEvents    []store.Event
	TaskContext     string
	SubagentResults []string
	Tools           []providers.ToolDefinition
	OAuth           bool
}

// Result is the composed request material plus the bookkeeping the
// pipeline persists (rules.activated events).
type Result struct {
	System             []providers.SystemBlock
	Messages           []reconstruct.Message
	Tools              []providers.ToolDefinition
	ActivatedRulePaths []string
}

// Compose assembles the full request: stable system blocks first
// (core prompt, static rules, memory), then volatile ones (dynamic
// rules, skill context, subagent results, task context), then the
// sanitized message list.
func (c *Composer) Compose(in Input) *Result {
	res := &Result{Tools: in.Tools}

	// Stable group.
	if c.corePrompt != "" {
		res.System = append(res.System, providers.SystemBlock{
			Content: c.corePrompt, Stability: providers.StabilityStable, Label: providers.LabelCorePrompt,
		})
	}
	static := c.rules.Static()
	if content := joinRules(static); content != "" {
		res.System = append(res.System, providers.SystemBlock{
			Content: content, Stability: providers.StabilityStable, Label: providers.LabelStaticRules,
		})
	}
	if memory := MemoryContent(in.MemoryEvents, c.maxMemoryEntries); memory != "" {
		res.System = append(res.System, providers.SystemBlock{
			Content: memory, Stability: providers.StabilityStable, Label: providers.LabelMemoryContent,
		})
	}

	// Volatile group.
	dynamic := c.rules.Dynamic()
	if content := joinRules(dynamic); content != "" {
		res.System = append(res.System, providers.SystemBlock{
			Content: content, Stability: providers.StabilityVolatile, Label: providers.LabelDynamicRules,
		})
	}
	if skillCtx := c.activeSkillContext(in.State); skillCtx != "" {
		res.System = append(res.System, providers.SystemBlock{
			Content: skillCtx, Stability: providers.StabilityVolatile, Label: providers.LabelSkillContext,
		})
	}
	if len(in.SubagentResults) > 0 {
		res.System = append(res.System, providers.SystemBlock{
			Content:   strings.Join(in.SubagentResults, "\n\n"),
			Stability: providers.StabilityVolatile, Label: providers.LabelSubagentResults,
		})
	}
	if in.TaskContext != "" {
		res.System = append(res.System, providers.SystemBlock{
			Content: in.TaskContext, Stability: providers.StabilityVolatile, Label: providers.LabelTaskContext,
		})
	}

	for _, rf := range static {
		res.ActivatedRulePaths = append(res.ActivatedRulePaths, rf.Path)
	}
	for _, rf := range dynamic {
		res.ActivatedRulePaths = append(res.ActivatedRulePaths, rf.Path)
	}

	res.Messages = Sanitize(in.State.Messages)
	return res
}

func (c *Composer) activeSkillContext(state *reconstruct.State) string {
	if state == nil || len(state.ActiveSkills) == 0 {
		return ""
	}
	var skills []*Skill
	for _, name := range state.ActiveSkills {
		if skill, ok := c.skills.Resolve(name); ok {
			skills = append(skills, skill)
		}
	}
	return SkillContext(skills)
}

func joinRules(files []RuleFile) string {
	if len(files) == 0 {
		return ""
	}
	var b strings.Builder
	for i, f := range files {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("## ")
		b.WriteString(f.Path)
		b.WriteString("\n\n")
		b.WriteString(strings.TrimRight(f.Content, "\n"))
	}
	return b.String()
}
