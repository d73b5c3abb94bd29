package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/haasonsaas/parley/internal/tools"
)

// maxFileBytes bounds read_file output so one tool call cannot flood
// the model context.
const maxFileBytes = 256 << 10

// ReadFileTool reads a workspace file, optionally a line range.
type ReadFileTool struct {
	root string
}

// NewReadFileTool creates a read_file tool rooted at the workspace dir.
func NewReadFileTool(root string) *ReadFileTool {
	return &ReadFileTool{root: root}
}

func (t *ReadFileTool) Name() string { return "read_file" }

func (t *ReadFileTool) Description() string {
	return "Read a file from the workspace. Paths are relative to the workspace root. " +
		"Optionally pass start_line and end_line (1-based, inclusive) to read a range."
}

func (t *ReadFileTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "Workspace-relative file path"},
			"start_line": {"type": "integer", "minimum": 1},
			"end_line": {"type": "integer", "minimum": 1}
		},
		"required": ["path"]
	}`)
}

func (t *ReadFileTool) Execute(_ context.Context, params json.RawMessage) (*tools.Result, error) {
	var in struct {
		Path      string `json:"path"`
		StartLine int    `json:"start_line"`
		EndLine   int    `json:"end_line"`
	}
	if err := json.Unmarshal(params, &in); err != nil {
		return &tools.Result{Content: fmt.Sprintf("invalid parameters: %v", err), IsError: true}, nil
	}

	full, err := ResolveWorkspacePath(t.root, in.Path)
	if err != nil {
		return &tools.Result{Content: err.Error(), IsError: true}, nil
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return &tools.Result{Content: fmt.Sprintf("cannot read %s: %v", in.Path, err), IsError: true}, nil
	}
	if len(data) > maxFileBytes {
		data = data[:maxFileBytes]
	}

	content := string(data)
	if in.StartLine > 0 {
		lines := strings.Split(content, "\n")
		start := in.StartLine - 1
		if start >= len(lines) {
			return &tools.Result{Content: fmt.Sprintf("%s has only %d lines", in.Path, len(lines)), IsError: true}, nil
		}
		end := len(lines)
		if in.EndLine > 0 && in.EndLine < end {
			end = in.EndLine
		}
		content = strings.Join(lines[start:end], "\n")
	}
	return &tools.Result{Content: content}, nil
}

// ListFilesTool lists a workspace directory.
type ListFilesTool struct {
	root string
}

// NewListFilesTool creates a list_files tool rooted at the workspace dir.
func NewListFilesTool(root string) *ListFilesTool {
	return &ListFilesTool{root: root}
}

func (t *ListFilesTool) Name() string { return "list_files" }

func (t *ListFilesTool) Description() string {
	return "List files and directories under a workspace path. Directories end with '/'."
}

func (t *ListFilesTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "Workspace-relative directory, default the root"}
		}
	}`)
}

func (t *ListFilesTool) Execute(_ context.Context, params json.RawMessage) (*tools.Result, error) {
	var in struct {
		Path string `json:"path"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &in); err != nil {
			return &tools.Result{Content: fmt.Sprintf("invalid parameters: %v", err), IsError: true}, nil
		}
	}
	if in.Path == "" {
		in.Path = "."
	}

	full, err := ResolveWorkspacePath(t.root, in.Path)
	if err != nil {
		return &tools.Result{Content: err.Error(), IsError: true}, nil
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		return &tools.Result{Content: fmt.Sprintf("cannot list %s: %v", in.Path, err), IsError: true}, nil
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return &tools.Result{Content: strings.Join(names, "\n")}, nil
}

// ResolveWorkspacePath joins a relative path against the workspace root
// and rejects traversal outside it.
func ResolveWorkspacePath(root, rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("absolute paths are not allowed: %s", rel)
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("invalid workspace root: %w", err)
	}
	full := filepath.Clean(filepath.Join(rootAbs, rel))
	if full != rootAbs && !strings.HasPrefix(full, rootAbs+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes the workspace: %s", rel)
	}
	return full, nil
}
