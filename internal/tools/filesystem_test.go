package tools

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/KafClaw/siteagent/internal/config"
)

func TestReadAndListFiles(t *testing.T) {
	rt, root := newTestRuntime(t)
	sb := NewSandbox(rt)
	writeFile(t, filepath.Join(root, "themes", "default", "style.css"), "body{}")
	writeFile(t, filepath.Join(root, "wp-config.php"), "secret")

	out, err := NewReadFileTool(sb).Execute(bg, map[string]any{"path": "../themes/default/style.css"})
	if err != nil || out != "body{}" {
		t.Fatalf("read: %q %v", out, err)
	}
	_, err = NewReadFileTool(sb).Execute(bg, map[string]any{"path": "wp-config.php"})
	wantKind(t, err, KindPathNotAllowed)
	_, err = NewReadFileTool(sb).Execute(bg, map[string]any{"path": "themes/missing.css"})
	wantKind(t, err, KindNotFound)
	_, err = NewReadFileTool(sb).Execute(bg, map[string]any{})
	wantKind(t, err, KindInvalidArgument)

	out, err = NewListDirTool(sb).Execute(bg, map[string]any{"path": "themes"})
	if err != nil || out != "default/" {
		t.Fatalf("list: %q %v", out, err)
	}
}

func TestReadFileSizeLimit(t *testing.T) {
	rt, root := newTestRuntime(t)
	cfg := *rt.Current()
	cfg.Tools.MaxFileBytes = 4
	_ = rt.Reload(func() (*config.Config, error) { return &cfg, nil })
	writeFile(t, filepath.Join(root, "uploads", "big.txt"), "0123456789")
	_, err := NewReadFileTool(NewSandbox(rt)).Execute(bg, map[string]any{"path": "uploads/big.txt"})
	wantKind(t, err, KindInvalidArgument)
}

func TestWriteFileBacksUpFirst(t *testing.T) {
	rt, root := newTestRuntime(t)
	target := filepath.Join(root, "uploads", "notes.txt")
	writeFile(t, target, "old\n")
	bk := &fakeBackup{}
	diff := func(a, b, la, lb string) string { return "--- " + la + "\n+++ " + lb + "\n" }
	tool := NewWriteFileTool(NewSandbox(rt), bk, diff)

	p, err := tool.Preview(bg, map[string]any{"path": "uploads/notes.txt", "content": "new\n"})
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if p.Target != "uploads/notes.txt" || !strings.Contains(p.Diff, "a/uploads/notes.txt") {
		t.Fatalf("unexpected preview: %+v", p)
	}
	data, _ := os.ReadFile(target)
	if string(data) != "old\n" {
		t.Fatal("preview must not write")
	}

	out, err := tool.Execute(bg, map[string]any{"path": "uploads/notes.txt", "content": "new\n"})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if !strings.Contains(out, "backup") {
		t.Fatalf("expected backup mention: %q", out)
	}
	if bk.seen[target] != "old\n" {
		t.Fatalf("backup did not capture old content: %+v", bk.seen)
	}
	data, _ = os.ReadFile(target)
	if string(data) != "new\n" {
		t.Fatalf("unexpected content %q", data)
	}
}

func TestWriteFileReadOnlyScope(t *testing.T) {
	rt, _ := newTestRuntime(t)
	_, err := NewWriteFileTool(NewSandbox(rt), nil, nil).Execute(bg, map[string]any{"path": "plugins/x.php", "content": "<?php"})
	wantKind(t, err, KindPathNotAllowed)
}
