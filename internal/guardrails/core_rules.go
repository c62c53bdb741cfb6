package guardrails

import (
	"regexp"
	"strings"
	"time"
)

// Destructive shell patterns, compiled once. The Bash tool carries its
// own pre-check with an overlapping list; this engine is the
// authoritative layer that also covers shell commands reaching the
// runtime through other tools.
var destructivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\brm\s+(-[a-zA-Z]*[rf][a-zA-Z]*\s+)+(/|~|\$HOME)\s*([;&|]|$)`),
	regexp.MustCompile(`\brm\s+(-[a-zA-Z]*[rf][a-zA-Z]*\s+)+/(bin|boot|dev|etc|lib|proc|root|sbin|sys|usr|var)\b`),
	regexp.MustCompile(`:\(\)\s*\{.*\};\s*:`), // fork bomb
	regexp.MustCompile(`\bdd\s+[^|]*of=/dev/(sd|hd|nvme|vd)[a-z0-9]*`),
	regexp.MustCompile(`\bmkfs(\.[a-z0-9]+)?\b`),
	regexp.MustCompile(`\bchmod\s+(-[a-zA-Z]+\s+)*777\s+/\s*([;&|]|$)`),
	regexp.MustCompile(`>\s*/dev/(sd|hd|nvme|vd)[a-z0-9]*\b`),
}

// cloudMountFragments are path fragments of cloud-storage sync mounts
// where a destructive write propagates to every synced device.
var cloudMountFragments = []string{
	"SynologyDrive",
	"CloudStation",
	"/Dropbox/",
	"/OneDrive/",
	"/Google Drive/",
}

// CoreRules returns the always-active tier. These cannot be disabled.
func CoreRules() []Rule {
	return []Rule{
		{
			ID: "core.destructive-commands", Kind: "pattern", Severity: SeverityCritical,
			Tier: TierCore, Tools: []string{"Bash"}, Priority: 1000, Enabled: true,
			Tags: []string{"shell", "destructive"},
			Check: func(_ string, args map[string]interface{}) string {
				command := stringArg(args, "command")
				for _, re := range destructivePatterns {
					if re.MatchString(command) {
						return "Potentially destructive command pattern detected"
					}
				}
				return ""
			},
		},
		{
			ID: "core.tron-no-delete", Kind: "pattern", Severity: SeverityCritical,
			Tier: TierCore, Tools: []string{"Bash"}, Priority: 1000, Enabled: true,
			Tags: []string{"shell", "self-protection"},
			Check: func(_ string, args map[string]interface{}) string {
				command := stringArg(args, "command")
				if strings.Contains(command, ".tron") && regexp.MustCompile(`\b(rm|rmdir|unlink|shred)\b`).MatchString(command) {
					return "Deleting runtime state under .tron/ is not allowed"
				}
				return ""
			},
		},
		{
			ID: "core.tron-app-protection", Kind: "resource", Severity: SeverityCritical,
			Tier: TierCore, Priority: 1000, Enabled: true,
			Tags: []string{"filesystem", "self-protection"},
			Check: protectedPathCheck([]string{".tron/skills", ".tron/hooks"}, "Runtime configuration under .tron/ is protected"),
		},
		{
			ID: "core.tron-db-protection", Kind: "resource", Severity: SeverityCritical,
			Tier: TierCore, Priority: 1000, Enabled: true,
			Tags: []string{"filesystem", "self-protection"},
			Check: protectedPathCheck([]string{".tron/memory", ".db", ".db-wal", ".db-shm"}, "The event store database is protected"),
		},
		{
			ID: "core.tron-auth-protection", Kind: "resource", Severity: SeverityCritical,
			Tier: TierCore, Priority: 1000, Enabled: true,
			Tags: []string{"filesystem", "credentials"},
			Check: func(_ string, args map[string]interface{}) string {
				for _, key := range []string{"file_path", "path", "command"} {
					if strings.Contains(stringArg(args, key), "auth.json") {
						return "Credential storage (auth.json) is protected"
					}
				}
				return ""
			},
		},
		{
			ID: "core.synology-drive-protection", Kind: "resource", Severity: SeverityCritical,
			Tier: TierCore, Tools: []string{"Bash"}, Priority: 1000, Enabled: true,
			Tags: []string{"shell", "cloud-storage"},
			Check: func(_ string, args map[string]interface{}) string {
				command := stringArg(args, "command")
				if !regexp.MustCompile(`\b(rm|rmdir|shred|mv)\b`).MatchString(command) {
					return ""
				}
				for _, fragment := range cloudMountFragments {
					if strings.Contains(command, fragment) {
						return "Destructive operations on cloud-storage mounts are not allowed"
					}
				}
				return ""
			},
		},
	}
}

// StandardRules returns the default-on, configurable tier.
func StandardRules() []Rule {
	return []Rule{
		{
			ID: "path.traversal", Kind: "path", Severity: SeverityCritical,
			Tier: TierStandard, Priority: 800, Enabled: true,
			Tags: []string{"filesystem"},
			Check: func(_ string, args map[string]interface{}) string {
				for _, key := range []string{"file_path", "path"} {
					p := stringArg(args, key)
					if p == "" {
						continue
					}
					for _, segment := range strings.Split(p, "/") {
						if segment == ".." {
							return "Path traversal (..) is not allowed"
						}
					}
				}
				return ""
			},
		},
		{
			ID: "path.hidden-mkdir", Kind: "pattern", Severity: SeverityWarning,
			Tier: TierStandard, Tools: []string{"Bash"}, Priority: 700, Enabled: true,
			Tags: []string{"shell"},
			Check: func(_ string, args map[string]interface{}) string {
				command := stringArg(args, "command")
				if regexp.MustCompile(`\bmkdir\s+(-[a-zA-Z]+\s+)*["']?\.[^./]`).MatchString(command) {
					return "Creating hidden directories via shell"
				}
				return ""
			},
		},
		{
			ID: "bash.timeout", Kind: "pattern", Severity: SeverityCritical,
			Tier: TierStandard, Tools: []string{"Bash"}, Priority: 500, Enabled: true,
			Tags: []string{"shell"},
			Check: func(_ string, args map[string]interface{}) string {
				timeout, ok := args["timeout"].(float64)
				if ok && time.Duration(timeout)*time.Millisecond > 10*time.Minute {
					return "Bash timeout exceeds the 10 minute cap"
				}
				return ""
			},
		},
	}
}

func protectedPathCheck(fragments []string, reason string) func(string, map[string]interface{}) string {
	return func(_ string, args map[string]interface{}) string {
		for _, key := range []string{"file_path", "path"} {
			p := stringArg(args, key)
			if p == "" {
				continue
			}
			for _, fragment := range fragments {
				if strings.Contains(p, fragment) {
					return reason
				}
			}
		}
		return ""
	}
}
