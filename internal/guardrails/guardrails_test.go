package guardrails

import "testing"

func engine() *Engine {
	return NewEngine(Config{StandardEnabled: true})
}

func TestDestructiveCommandBlocked(t *testing.T) {
	cases := []string{
		"sudo rm -rf /usr",
		"rm -rf /",
		"dd if=/dev/zero of=/dev/sda",
		"mkfs.ext4 /dev/sdb1",
		":(){ :|:& };:",
		"chmod 777 /",
	}
	for _, cmd := range cases {
		d := engine().Evaluate("Bash", map[string]interface{}{"command": cmd})
		if !d.Blocked() {
			t.Errorf("%q should be blocked", cmd)
		}
	}
	d := engine().Evaluate("Bash", map[string]interface{}{"command": "sudo rm -rf /usr"})
	if d.Reason != "Potentially destructive command pattern detected" {
		t.Errorf("reason = %q", d.Reason)
	}
}

func TestBenignCommandsPass(t *testing.T) {
	cases := []string{
		"ls -la",
		"rm build/output.txt",
		"git status",
		"grep -rf patterns.txt src/",
	}
	for _, cmd := range cases {
		if d := engine().Evaluate("Bash", map[string]interface{}{"command": cmd}); d.Blocked() {
			t.Errorf("%q wrongly blocked: %s", cmd, d.Reason)
		}
	}
}

func TestAuthJSONProtected(t *testing.T) {
	d := engine().Evaluate("Read", map[string]interface{}{"file_path": "/home/u/.tron/auth.json"})
	if !d.Blocked() {
		t.Error("auth.json reads must be blocked")
	}
	d = engine().Evaluate("Bash", map[string]interface{}{"command": "cat ~/.tron/auth.json"})
	if !d.Blocked() {
		t.Error("auth.json shell access must be blocked")
	}
}

func TestPathTraversalBlocked(t *testing.T) {
	d := engine().Evaluate("Read", map[string]interface{}{"file_path": "/tmp/../etc/passwd"})
	if !d.Blocked() || d.RuleID != "path.traversal" {
		t.Errorf("decision = %+v", d)
	}
	// Dotfiles are not traversal.
	if d := engine().Evaluate("Read", map[string]interface{}{"file_path": "/home/u/.bashrc"}); d.Blocked() {
		t.Errorf("dotfile wrongly blocked: %s", d.Reason)
	}
}

func TestBashTimeoutCap(t *testing.T) {
	tenMinMs := float64(10 * 60 * 1000)
	if d := engine().Evaluate("Bash", map[string]interface{}{"command": "sleep 1", "timeout": tenMinMs + 1}); !d.Blocked() {
		t.Error("timeout above cap should be blocked")
	}
	if d := engine().Evaluate("Bash", map[string]interface{}{"command": "sleep 1", "timeout": tenMinMs}); d.Blocked() {
		t.Error("timeout at cap should pass")
	}
}

func TestHiddenMkdirWarns(t *testing.T) {
	d := engine().Evaluate("Bash", map[string]interface{}{"command": "mkdir .sneaky"})
	if d.Blocked() {
		t.Fatal("hidden mkdir is a warning, not a block")
	}
	if d.Action != ActionWarn || len(d.Warnings) == 0 {
		t.Errorf("decision = %+v", d)
	}
}

func TestCoreRulesCannotBeDisabled(t *testing.T) {
	e := NewEngine(Config{
		StandardEnabled: true,
		DisabledRuleIDs: []string{"core.destructive-commands", "path.traversal"},
	})
	if d := e.Evaluate("Bash", map[string]interface{}{"command": "rm -rf /"}); !d.Blocked() {
		t.Error("core rules must survive DisabledRuleIDs")
	}
	if d := e.Evaluate("Read", map[string]interface{}{"file_path": "a/../b"}); d.Blocked() {
		t.Error("standard rules should honor DisabledRuleIDs")
	}
}

func TestRulesScopedToTools(t *testing.T) {
	// The destructive-command rule applies to Bash only; a Read of a
	// file whose name merely contains a pattern is fine.
	d := engine().Evaluate("Read", map[string]interface{}{"file_path": "/docs/rm-rf-notes.md"})
	if d.Blocked() {
		t.Errorf("non-Bash tool wrongly blocked: %s", d.Reason)
	}
}
