package tool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Workspace resolves tool file paths. Relative paths resolve against the
// root; absolute paths pass through untouched.
type Workspace struct {
	root string
}

// NewWorkspace creates a Workspace rooted at dir (working directory when
// empty).
func NewWorkspace(dir string) *Workspace {
	if dir == "" {
		dir, _ = os.Getwd()
	}
	return &Workspace{root: dir}
}

// Root returns the workspace root directory.
func (w *Workspace) Root() string {
	return w.root
}

// Resolve maps a tool-supplied path onto the filesystem.
func (w *Workspace) Resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(w.root, path)
}

// RegisterFileTools registers read_file, write_file, and edit_file against
// the given workspace.
func RegisterFileTools(reg *Registry, ws *Workspace) {
	reg.Register(&readFileTool{ws: ws})
	reg.Register(&writeFileTool{ws: ws})
	reg.Register(&editFileTool{ws: ws})
}

type readFileTool struct {
	ws *Workspace
}

func (t *readFileTool) Name() string { return "read_file" }

func (t *readFileTool) Description() string {
	return "Read a file from the filesystem. Returns line-numbered content."
}

func (t *readFileTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Path to the file to read, relative to the workspace root or absolute.",
			},
			"offset": map[string]any{
				"type":        "integer",
				"description": "1-based line number to start reading from.",
			},
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum number of lines to read. Default: 2000.",
			},
		},
		"required": []string{"path"},
	}
}

func (t *readFileTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	path, ok := StringArg(args, "path")
	if !ok || path == "" {
		return Result{}, fmt.Errorf("path is required")
	}
	offset, _ := IntArg(args, "offset")
	limit, _ := IntArg(args, "limit")
	if limit <= 0 {
		limit = 2000
	}

	data, err := os.ReadFile(t.ws.Resolve(path))
	if err != nil {
		if os.IsNotExist(err) {
			return Fail(fmt.Sprintf("File not found: %s", path)), nil
		}
		return Result{}, err
	}

	lines := strings.Split(string(data), "\n")
	startLine := 0
	if offset > 0 {
		startLine = offset - 1
	}
	if startLine >= len(lines) {
		return Ok(""), nil
	}
	endLine := len(lines)
	if startLine+limit < endLine {
		endLine = startLine + limit
	}

	var sb strings.Builder
	for i := startLine; i < endLine; i++ {
		fmt.Fprintf(&sb, "%d | %s\n", i+1, lines[i])
	}
	return Ok(sb.String()), nil
}

type writeFileTool struct {
	ws *Workspace
}

func (t *writeFileTool) Name() string { return "write_file" }

func (t *writeFileTool) Description() string {
	return "Write content to a file. Creates the file and parent directories if needed."
}

func (t *writeFileTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Path to write to.",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "The full file content to write.",
			},
		},
		"required": []string{"path", "content"},
	}
}

func (t *writeFileTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	path, ok := StringArg(args, "path")
	if !ok || path == "" {
		return Result{}, fmt.Errorf("path is required")
	}
	content, ok := StringArg(args, "content")
	if !ok {
		return Result{}, fmt.Errorf("content is required")
	}

	resolved := t.ws.Resolve(path)
	if err := os.MkdirAll(filepath.Dir(resolved), 0755); err != nil {
		return Result{}, fmt.Errorf("create directory: %w", err)
	}
	if err := os.WriteFile(resolved, []byte(content), 0644); err != nil {
		return Result{}, err
	}
	return Ok(fmt.Sprintf("Successfully wrote %d bytes to %s", len(content), path)), nil
}

type editFileTool struct {
	ws *Workspace
}

func (t *editFileTool) Name() string { return "edit_file" }

func (t *editFileTool) Description() string {
	return "Replace an exact string occurrence in a file. The old_string must be unique in the file unless replace_all is true."
}

func (t *editFileTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Path to the file to edit.",
			},
			"old_string": map[string]any{
				"type":        "string",
				"description": "Exact text to find in the file.",
			},
			"new_string": map[string]any{
				"type":        "string",
				"description": "Replacement text.",
			},
			"replace_all": map[string]any{
				"type":        "boolean",
				"description": "Replace all occurrences. Default: false.",
			},
		},
		"required": []string{"path", "old_string", "new_string"},
	}
}

func (t *editFileTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	path, ok := StringArg(args, "path")
	if !ok || path == "" {
		return Result{}, fmt.Errorf("path is required")
	}
	oldString, ok := StringArg(args, "old_string")
	if !ok || oldString == "" {
		return Result{}, fmt.Errorf("old_string is required")
	}
	newString, _ := StringArg(args, "new_string")
	replaceAll, _ := BoolArg(args, "replace_all")

	resolved := t.ws.Resolve(path)
	data, err := os.ReadFile(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return Fail(fmt.Sprintf("File not found: %s", path)), nil
		}
		return Result{}, err
	}
	content := string(data)

	count := strings.Count(content, oldString)
	if count == 0 {
		return Fail(fmt.Sprintf("old_string not found in %s", path)), nil
	}
	if count > 1 && !replaceAll {
		return Fail(fmt.Sprintf("old_string found %d times in %s. Provide more context to make it unique, or set replace_all=true", count, path)), nil
	}

	var newContent string
	replacements := 1
	if replaceAll {
		newContent = strings.ReplaceAll(content, oldString, newString)
		replacements = count
	} else {
		newContent = strings.Replace(content, oldString, newString, 1)
	}

	if err := os.WriteFile(resolved, []byte(newContent), 0644); err != nil {
		return Result{}, err
	}
	return Ok(fmt.Sprintf("Successfully replaced %d occurrence(s) in %s", replacements, path)), nil
}
