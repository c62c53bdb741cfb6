package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// hookNameToType maps the kebab-case filename stem to a hook type.
var hookNameToType = map[string]Type{
	"pre-tool-use":       PreToolUse,
	"post-tool-use":      PostToolUse,
	"session-start":      SessionStart,
	"session-end":        SessionEnd,
	"stop":               Stop,
	"subagent-stop":      SubagentStop,
	"user-prompt-submit": UserPromptSubmit,
	"pre-compact":        PreCompact,
	"notification":       Notification,
}

// DefaultExtensions maps script extensions to the interpreter that
// runs them.
var DefaultExtensions = map[string]string{
	".sh": "sh",
	".js": "node",
	".ts": "bun",
}

// DiscoveryConfig selects where hook scripts are searched and which
// extensions are runnable.
type DiscoveryConfig struct {
	ProjectRoot string
	Home        string
	ExtraDirs   []string
	Extensions  map[string]string // ext -> interpreter; nil uses DefaultExtensions
}

// hookFileRe matches "[NNN-]<hook-name>.<ext>".
var hookFileRe = regexp.MustCompile(`^(?:(\d+)-)?([a-z-]+)(\.[a-z]+)$`)

// Discover scans the hook directories and returns script handlers,
// grouped by type. Filename priority prefixes order execution within a
// directory; discovery order (project .agent, project .tron, home)
// breaks ties.
func Discover(cfg DiscoveryConfig) map[Type][]Handler {
	exts := cfg.Extensions
	if exts == nil {
		exts = DefaultExtensions
	}

	dirs := []string{
		filepath.Join(cfg.ProjectRoot, ".agent", "hooks"),
		filepath.Join(cfg.ProjectRoot, ".tron", "hooks"),
		filepath.Join(cfg.Home, ".config", "tron", "hooks"),
	}
	dirs = append(dirs, cfg.ExtraDirs...)

	out := make(map[Type][]Handler)
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			m := hookFileRe.FindStringSubmatch(e.Name())
			if m == nil {
				continue
			}
			hookType, ok := hookNameToType[m[2]]
			if !ok {
				continue
			}
			interpreter, ok := exts[m[3]]
			if !ok {
				continue
			}
			priority := 100
			if m[1] != "" {
				if n, err := strconv.Atoi(m[1]); err == nil {
					priority = n
				}
			}
			out[hookType] = append(out[hookType], &ScriptHandler{
				Path:        filepath.Join(dir, e.Name()),
				Interpreter: interpreter,
				priority:    priority,
			})
		}
	}
	return out
}

// RegisterDiscovered wires every discovered script into the executor.
func RegisterDiscovered(e *Executor, cfg DiscoveryConfig) {
	for hookType, handlers := range Discover(cfg) {
		for _, h := range handlers {
			e.Register(hookType, h)
		}
	}
}

// ScriptHandler runs one discovered hook script: the Input is passed
// as JSON on stdin, and stdout is parsed as a Result when it contains
// valid JSON. A non-JSON stdout from a zero-exit script means
// Continue; a non-zero exit is a handler failure.
type ScriptHandler struct {
	Path        string
	Interpreter string
	priority    int
}

func (h *ScriptHandler) Name() string  { return h.Path }
func (h *ScriptHandler) Priority() int { return h.priority }

func (h *ScriptHandler) Handle(ctx context.Context, in Input) (Result, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return Result{}, fmt.Errorf("hook %s: marshal input: %w", h.Path, err)
	}

	cmd := exec.CommandContext(ctx, h.Interpreter, h.Path)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return Result{}, fmt.Errorf("hook %s: %w (stderr: %s)", h.Path, err, strings.TrimSpace(stderr.String()))
	}

	trimmed := bytes.TrimSpace(stdout.Bytes())
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return ContinueResult(), nil
	}
	var result Result
	if err := json.Unmarshal(trimmed, &result); err != nil {
		return ContinueResult(), nil
	}
	if result.Decision == "" {
		result.Decision = DecisionContinue
	}
	return result, nil
}
