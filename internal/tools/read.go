package tools

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tronrun/agentruntime/internal/providers"
)

const (
	readNulProbeBytes  = 8 * 1024
	readMaxLineChars   = 2000
	readDefaultLimit   = 2000
	// Roughly 4 chars per token; the budget bounds total output with
	// head/tail preservation when exceeded.
	readTokenBudget    = 25000
	readHeadShare      = 0.7
)

// ReadTool reads a file as numbered lines. Binary files (NUL byte in
// the first 8 KiB) and directories are rejected.
type ReadTool struct{}

func NewReadTool() *ReadTool { return &ReadTool{} }

func (t *ReadTool) Name() string        { return "Read" }
func (t *ReadTool) Category() string    { return CategoryFilesystem }
func (t *ReadTool) IsInteractive() bool { return false }
func (t *ReadTool) StopsTurn() bool     { return false }

func (t *ReadTool) Definition() providers.ToolDefinition {
	return providers.ToolDefinition{
		Name:        "Read",
		Description: "Read a file from the filesystem, returning numbered lines. Supports offset/limit for large files.",
		Parameters: objectSchema(map[string]interface{}{
			"file_path": map[string]interface{}{"type": "string", "description": "Absolute path of the file to read"},
			"offset":    map[string]interface{}{"type": "integer", "description": "Line to start from (0-indexed)"},
			"limit":     map[string]interface{}{"type": "integer", "description": "Maximum number of lines to return"},
		}, "file_path"),
	}
}

type readParams struct {
	FilePath string `json:"file_path"`
	Offset   int    `json:"offset"`
	Limit    int    `json:"limit"`
}

func (t *ReadTool) Execute(ctx context.Context, params json.RawMessage, tc Context) (*Result, error) {
	var p readParams
	if err := json.Unmarshal(params, &p); err != nil {
		return ErrorResult(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if p.FilePath == "" {
		return ErrorResult("file_path is required"), nil
	}
	path := p.FilePath
	if !filepath.IsAbs(path) {
		path = filepath.Join(tc.WorkingDir, path)
	}

	info, err := os.Stat(path)
	if err != nil {
		return ErrorResult(fmt.Sprintf("cannot read %s: %v", p.FilePath, err)), nil
	}
	if info.IsDir() {
		return ErrorResult(fmt.Sprintf("%s is a directory, not a file", p.FilePath)), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return ErrorResult(fmt.Sprintf("cannot open %s: %v", p.FilePath, err)), nil
	}
	defer f.Close()

	probe := make([]byte, readNulProbeBytes)
	n, _ := f.Read(probe)
	if bytes.IndexByte(probe[:n], 0) >= 0 {
		return ErrorResult(fmt.Sprintf("%s appears to be a binary file", p.FilePath)), nil
	}
	if _, err := f.Seek(0, 0); err != nil {
		return ErrorResult(fmt.Sprintf("cannot rewind %s: %v", p.FilePath, err)), nil
	}

	limit := p.Limit
	if limit <= 0 {
		limit = readDefaultLimit
	}

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		if lineNo < p.Offset {
			lineNo++
			continue
		}
		if len(lines) >= limit {
			break
		}
		line := scanner.Text()
		if len(line) > readMaxLineChars {
			line = line[:readMaxLineChars] + "… [line truncated]"
		}
		lines = append(lines, fmt.Sprintf("%6d→%s", lineNo+1, line))
		lineNo++
	}
	if err := scanner.Err(); err != nil {
		return ErrorResult(fmt.Sprintf("error reading %s: %v", p.FilePath, err)), nil
	}
	if len(lines) == 0 {
		return NewResult("(empty file)"), nil
	}

	return NewResult(truncateByBudget(strings.Join(lines, "\n"))), nil
}

// truncateByBudget bounds output to the token budget, keeping the head
// and tail and eliding the middle.
func truncateByBudget(s string) string {
	maxChars := readTokenBudget * 4
	if len(s) <= maxChars {
		return s
	}
	head := int(float64(maxChars) * readHeadShare)
	tail := maxChars - head
	omitted := len(s) - head - tail
	return s[:head] + fmt.Sprintf("\n… [%d chars omitted] …\n", omitted) + s[len(s)-tail:]
}
