package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func runTool(t *testing.T, tool Tool, params string) *Result {
	t.Helper()
	res, err := tool.Execute(context.Background(), json.RawMessage(params), Context{WorkingDir: t.TempDir()})
	if err != nil {
		t.Fatalf("%s: %v", tool.Name(), err)
	}
	return res
}

func TestReadNumbersLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	os.WriteFile(path, []byte("first\nsecond\nthird\n"), 0o644)

	res := runTool(t, NewReadTool(), `{"file_path":"`+path+`"}`)
	if res.IsError {
		t.Fatalf("unexpected error: %s", res.ForLLM)
	}
	lines := strings.Split(res.ForLLM, "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %d", len(lines))
	}
	if !strings.HasSuffix(lines[0], "→first") || !strings.Contains(lines[0], "1") {
		t.Errorf("line 1 = %q", lines[0])
	}
	if !strings.HasSuffix(lines[2], "→third") {
		t.Errorf("line 3 = %q", lines[2])
	}
}

func TestReadOffsetLimit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	os.WriteFile(path, []byte("l0\nl1\nl2\nl3\nl4\n"), 0o644)

	res := runTool(t, NewReadTool(), `{"file_path":"`+path+`","offset":2,"limit":2}`)
	lines := strings.Split(res.ForLLM, "\n")
	if len(lines) != 2 || !strings.HasSuffix(lines[0], "→l2") || !strings.HasSuffix(lines[1], "→l3") {
		t.Errorf("output = %q", res.ForLLM)
	}
}

func TestReadRejectsDirectory(t *testing.T) {
	dir := t.TempDir()
	res := runTool(t, NewReadTool(), `{"file_path":"`+dir+`"}`)
	if !res.IsError || !strings.Contains(res.ForLLM, "directory") {
		t.Errorf("res = %+v", res)
	}
}

func TestReadRejectsBinary(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bin")
	os.WriteFile(path, []byte{'a', 0x00, 'b'}, 0o644)
	res := runTool(t, NewReadTool(), `{"file_path":"`+path+`"}`)
	if !res.IsError || !strings.Contains(res.ForLLM, "binary") {
		t.Errorf("res = %+v", res)
	}
}

func TestBashDangerousCommandBlockedBeforeRun(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "marker")
	// If the runner were invoked, the second command would create the
	// marker file.
	cmd := "rm -rf / ; touch " + marker
	res := runTool(t, NewBashTool(), `{"command":`+mustJSON(cmd)+`}`)
	if !res.IsError {
		t.Fatal("dangerous command must be refused")
	}
	if res.ForLLM != "Potentially destructive command pattern detected" {
		t.Errorf("message = %q", res.ForLLM)
	}
	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Error("runner was invoked despite the block")
	}
}

func TestBashCombinesStdoutStderr(t *testing.T) {
	res := runTool(t, NewBashTool(), `{"command":"echo out; echo err 1>&2"}`)
	if res.IsError {
		t.Fatalf("err: %s", res.ForLLM)
	}
	if !strings.Contains(res.ForLLM, "out") || !strings.Contains(res.ForLLM, "err") {
		t.Errorf("output = %q", res.ForLLM)
	}
}

func TestBashTimeout(t *testing.T) {
	tool := NewBashTool()
	tool.defaultTimeout = 50 * time.Millisecond
	res, err := tool.Execute(context.Background(), json.RawMessage(`{"command":"sleep 5"}`), Context{WorkingDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError || !strings.Contains(res.ForLLM, "timed out") {
		t.Errorf("res = %+v", res)
	}
}

func TestBashHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	res, err := NewBashTool().Execute(ctx, json.RawMessage(`{"command":"sleep 10"}`), Context{WorkingDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("cancellation not honored promptly")
	}
	if !res.IsError {
		t.Errorf("res = %+v", res)
	}
}

func TestAskUserValidation(t *testing.T) {
	tool := NewAskUserQuestionTool()
	cases := []struct {
		name   string
		params string
		errSub string
	}{
		{"no questions", `{"questions":[]}`, "between 1 and 5"},
		{"too many", `{"questions":[{"question":"q","options":["a","b"]},{"question":"q","options":["a","b"]},{"question":"q","options":["a","b"]},{"question":"q","options":["a","b"]},{"question":"q","options":["a","b"]},{"question":"q","options":["a","b"]}]}`, "between 1 and 5"},
		{"one option", `{"questions":[{"question":"pick","options":["only"]}]}`, "at least 2"},
		{"object without label", `{"questions":[{"question":"pick","options":[{"description":"x"},{"label":"b"}]}]}`, "label"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := runTool(t, tool, tc.params)
			if !res.IsError || !strings.Contains(res.ForLLM, tc.errSub) {
				t.Errorf("res = %+v", res)
			}
		})
	}

	ok := runTool(t, tool, `{"questions":[{"question":"pick","options":["a",{"label":"b","description":"d"}]}]}`)
	if ok.IsError {
		t.Fatalf("valid input rejected: %s", ok.ForLLM)
	}
	if !tool.StopsTurn() || !tool.IsInteractive() {
		t.Error("AskUserQuestion must be interactive and stop the turn")
	}
}

func TestRegistryCloneFiltered(t *testing.T) {
	r := NewRegistry()
	r.Register(NewReadTool())
	r.Register(NewBashTool())
	r.Register(NewAskUserQuestionTool())

	explicit := r.CloneFiltered(Filter{Kind: Explicit, Names: []string{"Read"}})
	if len(explicit.List()) != 1 || explicit.List()[0].Name() != "Read" {
		t.Errorf("explicit clone = %v", explicit.List())
	}

	exclude := r.CloneFiltered(Filter{Kind: Exclude, Names: []string{"Bash"}})
	if _, ok := exclude.Get("Bash"); ok {
		t.Error("excluded tool present in clone")
	}
	if _, ok := exclude.Get("Read"); !ok {
		t.Error("non-excluded tool missing from clone")
	}

	// Clones are independent.
	exclude.Register(NewBashTool())
	all := r.CloneFiltered(Filter{})
	if len(all.List()) != 3 {
		t.Errorf("parent registry mutated by clone changes")
	}
}

func mustJSON(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
