package composer

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tronrun/agentruntime/internal/providers"
	"github.com/tronrun/agentruntime/internal/reconstruct"
	"github.com/tronrun/agentruntime/internal/store"
)

func TestSystemBlockOrdering(t *testing.T) {
	home := t.TempDir()
	project := t.TempDir()
	os.MkdirAll(filepath.Join(home, ".tron"), 0o755)
	os.WriteFile(filepath.Join(home, ".tron", "CLAUDE.md"), []byte("global rules"), 0o644)
	os.WriteFile(filepath.Join(project, "AGENTS.md"), []byte("project rules"), 0o644)
	sub := filepath.Join(project, "pkg")
	os.MkdirAll(sub, 0o755)
	os.WriteFile(filepath.Join(sub, "CLAUDE.md"), []byte("nested rules"), 0o644)

	c := New("core prompt", home, project)
	memEvent := store.Event{ID: "evt_1", Type: store.EventMemoryLedger,
		Payload: `{"title":"Build","lessons":["use make"]}`}

	res := c.Compose(Input{
		State:           &reconstruct.State{},
		MemoryEvents:    []store.Event{memEvent},
		TaskContext:     "the task",
		SubagentResults: []string{"child said hi"},
	})

	var labels []providers.BlockLabel
	sawVolatile := false
	for _, b := range res.System {
		labels = append(labels, b.Label)
		if b.Stability == providers.StabilityVolatile {
			sawVolatile = true
		} else if sawVolatile {
			t.Fatal("stable block after a volatile one")
		}
	}
	want := []providers.BlockLabel{
		providers.LabelCorePrompt,
		providers.LabelStaticRules,
		providers.LabelMemoryContent,
		providers.LabelDynamicRules,
		providers.LabelSubagentResults,
		providers.LabelTaskContext,
	}
	if len(labels) != len(want) {
		t.Fatalf("labels = %v", labels)
	}
	for i := range want {
		if labels[i] != want[i] {
			t.Fatalf("labels = %v, want %v", labels, want)
		}
	}

	if !strings.Contains(res.System[1].Content, "global rules") || !strings.Contains(res.System[1].Content, "project rules") {
		t.Errorf("static rules content = %q", res.System[1].Content)
	}
	if !strings.Contains(res.System[2].Content, "### Build") || !strings.Contains(res.System[2].Content, "- use make") {
		t.Errorf("memory content = %q", res.System[2].Content)
	}
	if !strings.Contains(res.System[3].Content, "nested rules") {
		t.Errorf("dynamic rules content = %q", res.System[3].Content)
	}

	if len(res.ActivatedRulePaths) != 3 {
		t.Errorf("activated rule paths = %v", res.ActivatedRulePaths)
	}
}

func TestRulesResetAndReload(t *testing.T) {
	project := t.TempDir()
	sub := filepath.Join(project, "svc")
	os.MkdirAll(sub, 0o755)

	r := NewRules(t.TempDir(), project)
	if got := r.Dynamic(); len(got) != 0 {
		t.Fatalf("dynamic = %v", got)
	}

	// A new rule file appears; without MarkDirty the cached walk is
	// served.
	os.WriteFile(filepath.Join(sub, "CLAUDE.md"), []byte("new"), 0o644)
	if got := r.Dynamic(); len(got) != 0 {
		t.Fatal("dynamic rules should be cached until marked dirty")
	}
	r.MarkDirty()
	if got := r.Dynamic(); len(got) != 1 {
		t.Fatalf("dynamic after reload = %v", got)
	}

	r.Reset()
	if got := r.Dynamic(); len(got) != 1 {
		t.Fatal("reset should force a fresh walk, which still finds the file")
	}
}
