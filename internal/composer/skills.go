package composer

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// Skill is a named markdown document conditionally injected into the
// system prompt. AllowedTools/DeniedTools come from YAML frontmatter.
type Skill struct {
	Name         string
	Content      string
	AllowedTools []string
	DeniedTools  []string
}

// SkillRegistry resolves skill names against the project and home
// skill directories, project first.
type SkillRegistry struct {
	dirs []string
}

// NewSkillRegistry builds the lookup path: <project>/.tron/skills/,
// then <home>/.tron/skills/.
func NewSkillRegistry(projectRoot, home string) *SkillRegistry {
	return &SkillRegistry{dirs: []string{
		filepath.Join(projectRoot, ".tron", "skills"),
		filepath.Join(home, ".tron", "skills"),
	}}
}

// Resolve loads the named skill, parsing frontmatter when present.
func (r *SkillRegistry) Resolve(name string) (*Skill, bool) {
	for _, dir := range r.dirs {
		path := filepath.Join(dir, name+".md")
		content, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		skill := parseSkill(name, string(content))
		return skill, true
	}
	return nil, false
}

// skillFrontmatter is the YAML header a skill file may open with.
type skillFrontmatter struct {
	AllowedTools []string `yaml:"allowedTools"`
	DeniedTools  []string `yaml:"deniedTools"`
}

func parseSkill(name, raw string) *Skill {
	skill := &Skill{Name: name, Content: raw}
	if !strings.HasPrefix(raw, "---\n") {
		return skill
	}
	rest := raw[4:]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return skill
	}
	var fm skillFrontmatter
	if err := yaml.Unmarshal([]byte(rest[:end]), &fm); err != nil {
		return skill
	}
	skill.AllowedTools = fm.AllowedTools
	skill.DeniedTools = fm.DeniedTools
	body := rest[end+4:]
	skill.Content = strings.TrimPrefix(body, "\n")
	return skill
}

var skillNameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*`)

// ExtractSkillRefs finds @<name> tokens in prompt that resolve against
// the registry, returning the matched skills and the prompt with those
// tokens stripped (runs of spaces collapsed). Tokens inside fenced
// code blocks or inline code spans are ignored, as are email-like
// occurrences where the @ is preceded by an alphanumeric character.
func ExtractSkillRefs(prompt string, registry *SkillRegistry) ([]*Skill, string) {
	var skills []*Skill
	seen := make(map[string]bool)
	var cleaned strings.Builder

	inFence := false
	lines := strings.Split(prompt, "\n")
	for li, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			cleaned.WriteString(line)
			if li < len(lines)-1 {
				cleaned.WriteString("\n")
			}
			continue
		}
		if inFence {
			cleaned.WriteString(line)
			if li < len(lines)-1 {
				cleaned.WriteString("\n")
			}
			continue
		}

		cleaned.WriteString(stripSkillTokens(line, registry, seen, &skills))
		if li < len(lines)-1 {
			cleaned.WriteString("\n")
		}
	}

	return skills, collapseSpaces(cleaned.String())
}

// stripSkillTokens processes one non-fenced line, honoring inline code
// spans delimited by backticks.
func stripSkillTokens(line string, registry *SkillRegistry, seen map[string]bool, skills *[]*Skill) string {
	var out strings.Builder
	inCode := false
	i := 0
	for i < len(line) {
		c := line[i]
		if c == '`' {
			inCode = !inCode
			out.WriteByte(c)
			i++
			continue
		}
		if c != '@' || inCode {
			out.WriteByte(c)
			i++
			continue
		}
		// Email-like: "user@host" has an alphanumeric immediately
		// before the @.
		if i > 0 && isAlphanumeric(line[i-1]) {
			out.WriteByte(c)
			i++
			continue
		}
		name := skillNameRe.FindString(line[i+1:])
		if name == "" {
			out.WriteByte(c)
			i++
			continue
		}
		skill, ok := registry.Resolve(name)
		if !ok {
			out.WriteByte(c)
			i++
			continue
		}
		if !seen[name] {
			seen[name] = true
			*skills = append(*skills, skill)
		}
		i += 1 + len(name) // token consumed
	}
	return out.String()
}

func isAlphanumeric(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

var multiSpaceRe = regexp.MustCompile(`  +`)

func collapseSpaces(s string) string {
	lines := strings.Split(s, "\n")
	inFence := false
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
			continue
		}
		if !inFence {
			lines[i] = strings.TrimRight(multiSpaceRe.ReplaceAllString(line, " "), " ")
		}
	}
	return strings.Join(lines, "\n")
}

// SkillContext renders the resolved skills as the system-prompt
// <skills> element.
func SkillContext(skills []*Skill) string {
	if len(skills) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("<skills>\n")
	for _, s := range skills {
		fmt.Fprintf(&b, "<skill name=%q>\n", s.Name)
		b.WriteString(strings.TrimRight(s.Content, "\n"))
		b.WriteString("\n")
		if len(s.AllowedTools) > 0 {
			fmt.Fprintf(&b, "<skill-tool-preferences>%s</skill-tool-preferences>\n", strings.Join(s.AllowedTools, ", "))
		}
		if len(s.DeniedTools) > 0 {
			fmt.Fprintf(&b, "<skill-tool-restrictions>%s</skill-tool-restrictions>\n", strings.Join(s.DeniedTools, ", "))
		}
		b.WriteString("</skill>\n")
	}
	b.WriteString("</skills>")
	return b.String()
}
