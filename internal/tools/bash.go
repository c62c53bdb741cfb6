package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"time"

	"github.com/tronrun/agentruntime/internal/providers"
)

const (
	bashDefaultTimeout = 2 * time.Minute
	bashMaxTimeout     = 10 * time.Minute
	bashMaxOutputChars = 50000
)

// Dangerous command patterns, compiled once. This is the tool's own
// first line of defense; the guardrail engine runs the authoritative
// core rules on top of it.
var dangerousPatterns = []*regexp.Regexp{
	// Destructive file operations
	regexp.MustCompile(`\brm\s+-[a-zA-Z]*[rf][a-zA-Z]*\s+(/|~|\$HOME)\s*([;&|]|$)`),
	regexp.MustCompile(`\brm\s+-[a-zA-Z]*[rf][a-zA-Z]*\s+/(bin|boot|dev|etc|lib|proc|root|sbin|sys|usr|var)\b`),
	regexp.MustCompile(`\b(mkfs|diskpart)\b`),
	regexp.MustCompile(`\bdd\s+[^|]*of=/dev/(sd|hd|nvme|vd)[a-z0-9]*`),
	regexp.MustCompile(`>\s*/dev/(sd|hd|nvme|vd)[a-z0-9]*\b`),
	regexp.MustCompile(`\b(shutdown|reboot|poweroff)\b`),
	regexp.MustCompile(`:\(\)\s*\{.*\};\s*:`), // fork bomb
	regexp.MustCompile(`\bchmod\s+(-[a-zA-Z]+\s+)*777\s+/\s*([;&|]|$)`),

	// Remote code execution
	regexp.MustCompile(`\bcurl\b[^|]*\|\s*(ba|z)?sh\b`),
	regexp.MustCompile(`\bwget\b[^|]*-O\s*-\s*\|\s*(ba|z)?sh\b`),
	regexp.MustCompile(`/dev/tcp/`),
}

// BashTool runs shell commands with combined output, a hard timeout
// cap, and a pre-execution dangerous-pattern check.
type BashTool struct {
	defaultTimeout time.Duration
	maxTimeout     time.Duration
}

func NewBashTool() *BashTool {
	return &BashTool{defaultTimeout: bashDefaultTimeout, maxTimeout: bashMaxTimeout}
}

// WithTimeouts overrides the default and maximum command timeouts.
// The maximum never exceeds the built-in 10 minute cap.
func (t *BashTool) WithTimeouts(def, max time.Duration) *BashTool {
	if def > 0 {
		t.defaultTimeout = def
	}
	if max > 0 && max <= bashMaxTimeout {
		t.maxTimeout = max
	}
	return t
}

func (t *BashTool) Name() string        { return "Bash" }
func (t *BashTool) Category() string    { return CategoryShell }
func (t *BashTool) IsInteractive() bool { return false }
func (t *BashTool) StopsTurn() bool     { return false }

func (t *BashTool) Definition() providers.ToolDefinition {
	return providers.ToolDefinition{
		Name:        "Bash",
		Description: "Execute a shell command in the session's working directory. Stdout and stderr are combined. Timeout defaults to 2 minutes, capped at 10.",
		Parameters: objectSchema(map[string]interface{}{
			"command": map[string]interface{}{"type": "string", "description": "The command to execute"},
			"timeout": map[string]interface{}{"type": "integer", "description": "Timeout in milliseconds (max 600000)"},
		}, "command"),
	}
}

type bashParams struct {
	Command string `json:"command"`
	Timeout int64  `json:"timeout"` // milliseconds
}

func (t *BashTool) Execute(ctx context.Context, params json.RawMessage, tc Context) (*Result, error) {
	var p bashParams
	if err := json.Unmarshal(params, &p); err != nil {
		return ErrorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if p.Command == "" {
		return ErrorResult("command is required"), nil
	}

	for _, re := range dangerousPatterns {
		if re.MatchString(p.Command) {
			slog.Warn("bash: refused dangerous command", "session_id", tc.SessionID)
			return ErrorResult("Potentially destructive command pattern detected"), nil
		}
	}

	timeout := t.defaultTimeout
	if p.Timeout > 0 {
		timeout = time.Duration(p.Timeout) * time.Millisecond
	}
	if timeout > t.maxTimeout {
		timeout = t.maxTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", p.Command)
	cmd.Dir = tc.WorkingDir
	var combined bytes.Buffer
	cmd.Stdout = &combined
	cmd.Stderr = &combined
	// Children of sh can hold the output pipe open after sh is killed;
	// stop waiting for them shortly after the context ends.
	cmd.WaitDelay = time.Second

	err := cmd.Run()
	output := truncateTail(combined.String(), bashMaxOutputChars)

	switch {
	case ctx.Err() == context.DeadlineExceeded:
		return ErrorResult(fmt.Sprintf("command timed out after %s\n%s", timeout, output)), nil
	case ctx.Err() == context.Canceled:
		return ErrorResult("command cancelled"), nil
	case err != nil:
		return ErrorResult(fmt.Sprintf("command failed: %v\n%s", err, output)), nil
	}
	if output == "" {
		output = "(no output)"
	}
	return NewResult(output), nil
}

// truncateTail keeps the first maxChars of s, appending a sentinel
// naming how much was dropped.
func truncateTail(s string, maxChars int) string {
	if len(s) <= maxChars {
		return s
	}
	return s[:maxChars] + fmt.Sprintf("\n… [output truncated, %d chars dropped]", len(s)-maxChars)
}
