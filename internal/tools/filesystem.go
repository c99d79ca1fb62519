package tools

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Backuper copies a file aside before it is overwritten. An empty path with
// a nil error means there was nothing to back up.
type Backuper interface {
	BackupFile(path string) (string, error)
}

// DiffFunc renders a unified diff between two versions of a file.
type DiffFunc func(oldText, newText, oldLabel, newLabel string) string

// ReadFileTool reads a file under an allowed subpath.
type ReadFileTool struct {
	sandbox *Sandbox
}

// NewReadFileTool creates a read_file tool.
func NewReadFileTool(sb *Sandbox) *ReadFileTool {
	return &ReadFileTool{sandbox: sb}
}

func (t *ReadFileTool) Name() string { return "read_file" }
func (t *ReadFileTool) Tier() int    { return TierReadOnly }

func (t *ReadFileTool) Description() string {
	return "Read a file from the site. Paths are relative to the site root and must start with an allowed directory."
}

func (t *ReadFileTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Relative path, e.g. themes/default/style.css",
			},
		},
		"required": []string{"path"},
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	path, err := requireString(params, "path")
	if err != nil {
		return "", err
	}
	abs, rel, err := t.sandbox.Resolve(path, false)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", Errorf(KindNotFound, "file not found: %s", rel)
		}
		return "", Errorf(KindIO, "stat %s: %v", rel, err)
	}
	if info.IsDir() {
		return "", Errorf(KindInvalidArgument, "%s is a directory", rel)
	}
	if limit := t.sandbox.rt.Current().Tools.MaxFileBytes; limit > 0 && info.Size() > limit {
		return "", Errorf(KindInvalidArgument, "%s is %d bytes, larger than the %d byte limit", rel, info.Size(), limit)
	}
	content, err := os.ReadFile(abs)
	if err != nil {
		return "", Errorf(KindIO, "read %s: %v", rel, err)
	}
	return string(content), nil
}

// ListDirTool lists a directory under an allowed subpath.
type ListDirTool struct {
	sandbox *Sandbox
}

// NewListDirTool creates a list_directory tool.
func NewListDirTool(sb *Sandbox) *ListDirTool { return &ListDirTool{sandbox: sb} }

func (t *ListDirTool) Name() string { return "list_directory" }
func (t *ListDirTool) Tier() int    { return TierReadOnly }

func (t *ListDirTool) Description() string {
	return "List the entries of a site directory. Directories end with a slash."
}

func (t *ListDirTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Relative directory path, e.g. uploads",
			},
		},
		"required": []string{"path"},
	}
}

func (t *ListDirTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	path, err := requireString(params, "path")
	if err != nil {
		return "", err
	}
	abs, rel, err := t.sandbox.Resolve(path, false)
	if err != nil {
		return "", err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", Errorf(KindNotFound, "directory not found: %s", rel)
		}
		return "", Errorf(KindIO, "list %s: %v", rel, err)
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
	if len(names) == 0 {
		return fmt.Sprintf("%s is empty", rel), nil
	}
	return strings.Join(names, "\n"), nil
}

// WriteFileTool writes a file under a write-scoped subpath, backing up the
// previous content first.
type WriteFileTool struct {
	sandbox *Sandbox
	backup  Backuper
	diff    DiffFunc
}

// NewWriteFileTool creates a write_file tool. backup and diff may be nil.
func NewWriteFileTool(sb *Sandbox, backup Backuper, diff DiffFunc) *WriteFileTool {
	return &WriteFileTool{sandbox: sb, backup: backup, diff: diff}
}

func (t *WriteFileTool) Name() string { return "write_file" }
func (t *WriteFileTool) Tier() int    { return TierWrite }

func (t *WriteFileTool) Description() string {
	return "Write content to a site file, creating parent directories if needed. The previous version is backed up."
}

func (t *WriteFileTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Relative path, e.g. uploads/notes.txt",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "The full new file content",
			},
		},
		"required": []string{"path", "content"},
	}
}

// Preview renders the change write_file would make.
func (t *WriteFileTool) Preview(ctx context.Context, params map[string]any) (Preview, error) {
	path, err := requireString(params, "path")
	if err != nil {
		return Preview{}, err
	}
	content := GetString(params, "content", "")
	abs, rel, err := t.sandbox.Resolve(path, true)
	if err != nil {
		return Preview{}, err
	}
	old, err := os.ReadFile(abs)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Preview{}, Errorf(KindIO, "read %s: %v", rel, err)
	}
	p := Preview{Target: rel}
	if old == nil {
		p.Description = fmt.Sprintf("Create %s (%d bytes)", rel, len(content))
	} else {
		p.Description = fmt.Sprintf("Overwrite %s (%d -> %d bytes)", rel, len(old), len(content))
	}
	if t.diff != nil {
		p.Diff = t.diff(string(old), content, "a/"+rel, "b/"+rel)
	}
	return p, nil
}

func (t *WriteFileTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	path, err := requireString(params, "path")
	if err != nil {
		return "", err
	}
	content, ok := params["content"].(string)
	if !ok {
		return "", Errorf(KindInvalidArgument, "content is required")
	}
	abs, rel, err := t.sandbox.Resolve(path, true)
	if err != nil {
		return "", err
	}

	// Backup must be durable before the destructive write.
	backupPath := ""
	if t.backup != nil {
		backupPath, err = t.backup.BackupFile(abs)
		if err != nil {
			return "", Errorf(KindIO, "backup %s: %v", rel, err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", Errorf(KindIO, "create directory for %s: %v", rel, err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return "", Errorf(KindIO, "write %s: %v", rel, err)
	}
	if backupPath != "" {
		return fmt.Sprintf("Wrote %d bytes to %s (backup: %s)", len(content), rel, backupPath), nil
	}
	return fmt.Sprintf("Wrote %d bytes to %s", len(content), rel), nil
}
