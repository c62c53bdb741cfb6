package composer

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Rule file basenames, matched case-insensitively.
var ruleFileNames = []string{"CLAUDE.md", "AGENTS.md"}

// RuleFile is one loaded rule document. Path is relative to the
// project root (or the global marker for home-level rules).
type RuleFile struct {
	Path    string
	Content string
}

// Rules loads instruction files for the system prompt. Static rules
// (global + project root) load once; dynamic rules (nested in the
// project tree) reload on demand after tool execution, and an fsnotify
// watcher marks them dirty when a rule file changes on disk.
type Rules struct {
	home        string
	projectRoot string

	staticOnce sync.Once
	static     []RuleFile

	mu      sync.Mutex
	dynamic []RuleFile
	loaded  bool
	dirty   bool

	watcher *fsnotify.Watcher
}

// NewRules creates a rule loader rooted at projectRoot, with global
// rules under home/.tron/.
func NewRules(home, projectRoot string) *Rules {
	return &Rules{home: home, projectRoot: projectRoot}
}

// Static returns the global and project-root rule files, loading them
// on first use.
func (r *Rules) Static() []RuleFile {
	r.staticOnce.Do(func() {
		r.static = append(r.static, loadRuleFiles(filepath.Join(r.home, ".tron"), "global")...)
		r.static = append(r.static, loadRuleFiles(r.projectRoot, ".")...)
	})
	return r.static
}

// Dynamic returns nested rule files discovered by walking the project
// tree, reloading when marked dirty or never loaded.
func (r *Rules) Dynamic() []RuleFile {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.loaded || r.dirty {
		r.dynamic = r.walkDynamic()
		r.loaded = true
		r.dirty = false
	}
	return r.dynamic
}

// MarkDirty forces the next Dynamic call to re-walk the tree. The
// pipeline calls this after tool execution.
func (r *Rules) MarkDirty() {
	r.mu.Lock()
	r.dirty = true
	r.mu.Unlock()
}

// Reset drops all loaded dynamic rules; triggered by compact.boundary
// and context.cleared events.
func (r *Rules) Reset() {
	r.mu.Lock()
	r.dynamic = nil
	r.loaded = false
	r.dirty = false
	r.mu.Unlock()
}

// Watch starts an fsnotify watcher on the project root that marks the
// dynamic set dirty whenever a rule file changes. Close releases it.
func (r *Rules) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("rules: create watcher: %w", err)
	}
	if err := w.Add(r.projectRoot); err != nil {
		w.Close()
		return fmt.Errorf("rules: watch %s: %w", r.projectRoot, err)
	}
	r.watcher = w

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if isRuleFileName(filepath.Base(ev.Name)) {
					r.MarkDirty()
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Warn("rules: watcher error", "error", err)
			}
		}
	}()
	return nil
}

// Close stops the watcher, if one was started.
func (r *Rules) Close() error {
	if r.watcher != nil {
		return r.watcher.Close()
	}
	return nil
}

func (r *Rules) walkDynamic() []RuleFile {
	var out []RuleFile
	_ = filepath.WalkDir(r.projectRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable subtree, skip
		}
		if d.IsDir() {
			name := d.Name()
			if path != r.projectRoot && (strings.HasPrefix(name, ".") || name == "node_modules" || name == "vendor") {
				return filepath.SkipDir
			}
			return nil
		}
		dir := filepath.Dir(path)
		if dir == r.projectRoot {
			return nil // root-level rules are static
		}
		if !isRuleFileName(d.Name()) {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("rules: unreadable rule file", "path", path, "error", err)
			return nil
		}
		rel, relErr := filepath.Rel(r.projectRoot, path)
		if relErr != nil {
			rel = path
		}
		out = append(out, RuleFile{Path: rel, Content: string(content)})
		return nil
	})
	return out
}

func loadRuleFiles(dir, label string) []RuleFile {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []RuleFile
	for _, e := range entries {
		if e.IsDir() || !isRuleFileName(e.Name()) {
			continue
		}
		content, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		out = append(out, RuleFile{Path: filepath.Join(label, e.Name()), Content: string(content)})
	}
	return out
}

func isRuleFileName(name string) bool {
	for _, want := range ruleFileNames {
		if strings.EqualFold(name, want) {
			return true
		}
	}
	return false
}
