package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// maxReadBytes bounds how much of a file read_file returns.
const maxReadBytes = 128 * 1024

// Workspace resolves tool paths against the agent workspace. When Restrict is
// set, paths outside the workspace are rejected.
type Workspace struct {
	Root     string
	Restrict bool
}

func (w Workspace) resolve(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	path = expandHome(path)
	if !filepath.IsAbs(path) && w.Root != "" {
		path = filepath.Join(expandHome(w.Root), path)
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	if w.Restrict && w.Root != "" {
		root, _ := filepath.Abs(expandHome(w.Root))
		if !isWithin(root, path) {
			return "", fmt.Errorf("path outside workspace: %s", path)
		}
	}
	return path, nil
}

// ReadFileTool reads the contents of a file.
type ReadFileTool struct{ ws Workspace }

// NewReadFileTool creates a new ReadFileTool.
func NewReadFileTool(ws Workspace) *ReadFileTool { return &ReadFileTool{ws: ws} }

func (t *ReadFileTool) Name() string { return "read_file" }

func (t *ReadFileTool) Description() string {
	return "Read the contents of a file. Relative paths resolve against the workspace."
}

func (t *ReadFileTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "The path to the file to read",
			},
		},
		"required": []string{"path"},
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	path, err := t.ws.resolve(GetString(params, "path", ""))
	if err != nil {
		return "Error: " + err.Error(), nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Sprintf("Error: file not found: %s", path), nil
		}
		if os.IsPermission(err) {
			return fmt.Sprintf("Error: permission denied: %s", path), nil
		}
		return fmt.Sprintf("Error reading file: %v", err), nil
	}
	if len(content) > maxReadBytes {
		return string(content[:maxReadBytes]) + fmt.Sprintf("\n... (truncated, %d bytes total)", len(content)), nil
	}
	return string(content), nil
}

// WriteFileTool writes content to a file.
type WriteFileTool struct{ ws Workspace }

// NewWriteFileTool creates a new WriteFileTool.
func NewWriteFileTool(ws Workspace) *WriteFileTool { return &WriteFileTool{ws: ws} }

func (t *WriteFileTool) Name() string { return "write_file" }

func (t *WriteFileTool) Description() string {
	return "Write content to a file. Creates parent directories if needed."
}

func (t *WriteFileTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "The path to the file to write",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "The content to write to the file",
			},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	path, err := t.ws.resolve(GetString(params, "path", ""))
	if err != nil {
		return "Error: " + err.Error(), nil
	}
	content := GetString(params, "content", "")

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Sprintf("Error creating directory: %v", err), nil
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		if os.IsPermission(err) {
			return fmt.Sprintf("Error: permission denied: %s", path), nil
		}
		return fmt.Sprintf("Error writing file: %v", err), nil
	}
	return fmt.Sprintf("Successfully wrote %d bytes to %s", len(content), path), nil
}

// EditFileTool replaces text in a file.
type EditFileTool struct{ ws Workspace }

// NewEditFileTool creates a new EditFileTool.
func NewEditFileTool(ws Workspace) *EditFileTool { return &EditFileTool{ws: ws} }

func (t *EditFileTool) Name() string { return "edit_file" }

func (t *EditFileTool) Description() string {
	return "Edit a file by replacing one exact occurrence of old_text with new_text."
}

func (t *EditFileTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "The path to the file to edit",
			},
			"old_text": map[string]any{
				"type":        "string",
				"description": "The exact text to find",
			},
			"new_text": map[string]any{
				"type":        "string",
				"description": "The replacement text",
			},
		},
		"required": []string{"path", "old_text", "new_text"},
	}
}

func (t *EditFileTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	path, err := t.ws.resolve(GetString(params, "path", ""))
	if err != nil {
		return "Error: " + err.Error(), nil
	}
	oldText := GetString(params, "old_text", "")
	newText := GetString(params, "new_text", "")
	if oldText == "" {
		return "Error: old_text must not be empty", nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Sprintf("Error: file not found: %s", path), nil
		}
		return fmt.Sprintf("Error reading file: %v", err), nil
	}

	text := string(content)
	switch n := strings.Count(text, oldText); {
	case n == 0:
		return fmt.Sprintf("Error: text not found in file: %s", path), nil
	case n > 1:
		return fmt.Sprintf("Error: old_text appears %d times in %s; include more context to make it unique", n, path), nil
	}

	if err := os.WriteFile(path, []byte(strings.Replace(text, oldText, newText, 1)), 0o644); err != nil {
		return fmt.Sprintf("Error writing file: %v", err), nil
	}
	return fmt.Sprintf("Successfully edited %s", path), nil
}

// ListDirTool lists directory contents.
type ListDirTool struct{ ws Workspace }

// NewListDirTool creates a new ListDirTool.
func NewListDirTool(ws Workspace) *ListDirTool { return &ListDirTool{ws: ws} }

func (t *ListDirTool) Name() string { return "list_dir" }

func (t *ListDirTool) Description() string {
	return "List the contents of a directory."
}

func (t *ListDirTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "The directory path to list (default: workspace)",
			},
		},
	}
}

func (t *ListDirTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	path, err := t.ws.resolve(GetString(params, "path", "."))
	if err != nil {
		return "Error: " + err.Error(), nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Sprintf("Error: directory not found: %s", path), nil
		}
		if os.IsPermission(err) {
			return fmt.Sprintf("Error: permission denied: %s", path), nil
		}
		return fmt.Sprintf("Error reading directory: %v", err), nil
	}

	var result strings.Builder
	fmt.Fprintf(&result, "Contents of %s:\n", path)
	if len(entries) == 0 {
		result.WriteString("  (empty)\n")
	}
	for _, entry := range entries {
		info, _ := entry.Info()
		switch {
		case entry.IsDir():
			fmt.Fprintf(&result, "  [DIR]  %s/\n", entry.Name())
		case info != nil:
			fmt.Fprintf(&result, "  [FILE] %s (%d bytes)\n", entry.Name(), info.Size())
		default:
			fmt.Fprintf(&result, "  [FILE] %s\n", entry.Name())
		}
	}
	return result.String(), nil
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~") {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, path[1:])
	}
	return path
}

func isWithin(root, path string) bool {
	if root == "" {
		return true
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != ".."
}
