package composer

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testRegistry(t *testing.T, skills map[string]string) *SkillRegistry {
	t.Helper()
	project := t.TempDir()
	dir := filepath.Join(project, ".tron", "skills")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for name, content := range skills {
		if err := os.WriteFile(filepath.Join(dir, name+".md"), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return NewSkillRegistry(project, t.TempDir())
}

func TestExtractSkillRefs(t *testing.T) {
	reg := testRegistry(t, map[string]string{"deploy": "Deploy steps here."})

	skills, cleaned := ExtractSkillRefs("please @deploy the service", reg)
	if len(skills) != 1 || skills[0].Name != "deploy" {
		t.Fatalf("skills = %+v", skills)
	}
	if cleaned != "please the service" {
		t.Errorf("cleaned = %q", cleaned)
	}
}

func TestSkillRefInFencedBlockIgnored(t *testing.T) {
	reg := testRegistry(t, map[string]string{"deploy": "x"})
	prompt := "run this:\n```\n@deploy inside fence\n```\ndone"
	skills, cleaned := ExtractSkillRefs(prompt, reg)
	if len(skills) != 0 {
		t.Errorf("fenced @name must not resolve, got %+v", skills)
	}
	if !strings.Contains(cleaned, "@deploy inside fence") {
		t.Errorf("fenced content must be untouched: %q", cleaned)
	}
}

func TestSkillRefInInlineCodeIgnored(t *testing.T) {
	reg := testRegistry(t, map[string]string{"deploy": "x"})
	skills, cleaned := ExtractSkillRefs("use `@deploy` literally", reg)
	if len(skills) != 0 {
		t.Errorf("inline-code @name must not resolve, got %+v", skills)
	}
	if !strings.Contains(cleaned, "`@deploy`") {
		t.Errorf("inline code must be untouched: %q", cleaned)
	}
}

func TestEmailLikeRejected(t *testing.T) {
	reg := testRegistry(t, map[string]string{"example": "x"})
	skills, cleaned := ExtractSkillRefs("mail user@example.com please", reg)
	if len(skills) != 0 {
		t.Errorf("email-like token must not resolve, got %+v", skills)
	}
	if !strings.Contains(cleaned, "user@example.com") {
		t.Errorf("email must be untouched: %q", cleaned)
	}
}

func TestUnknownSkillLeftInPlace(t *testing.T) {
	reg := testRegistry(t, nil)
	skills, cleaned := ExtractSkillRefs("try @nonexistent here", reg)
	if len(skills) != 0 {
		t.Fatalf("skills = %+v", skills)
	}
	if cleaned != "try @nonexistent here" {
		t.Errorf("cleaned = %q", cleaned)
	}
}

func TestSkillFrontmatter(t *testing.T) {
	reg := testRegistry(t, map[string]string{
		"review": "---\nallowedTools:\n  - Read\n  - Bash\ndeniedTools:\n  - WebSearch\n---\nReview the diff.",
	})
	skill, ok := reg.Resolve("review")
	if !ok {
		t.Fatal("skill not resolved")
	}
	if len(skill.AllowedTools) != 2 || skill.AllowedTools[0] != "Read" {
		t.Errorf("allowed = %v", skill.AllowedTools)
	}
	if len(skill.DeniedTools) != 1 || skill.DeniedTools[0] != "WebSearch" {
		t.Errorf("denied = %v", skill.DeniedTools)
	}
	if skill.Content != "Review the diff." {
		t.Errorf("content = %q", skill.Content)
	}
}

func TestSkillContextRendering(t *testing.T) {
	skills := []*Skill{{Name: "deploy", Content: "Steps.", AllowedTools: []string{"Bash"}}}
	ctx := SkillContext(skills)
	for _, want := range []string{`<skills>`, `<skill name="deploy">`, "Steps.", "<skill-tool-preferences>Bash</skill-tool-preferences>", "</skills>"} {
		if !strings.Contains(ctx, want) {
			t.Errorf("missing %q in:\n%s", want, ctx)
		}
	}
}
