package tools

import (
	"os"
	"path/filepath"
	"testing"
)

func TestStripTraversal(t *testing.T) {
	cases := map[string]string{
		"plugins/a.php":            "plugins/a.php",
		"../plugins/a.php":         "plugins/a.php",
		"/themes/./x/../y.css":     "themes/x/y.css",
		"uploads\\..\\..\\etc":     "uploads/etc",
		"":                         "",
		"../..":                    "",
		"//uploads//2024//img.png": "uploads/2024/img.png",
	}
	for in, want := range cases {
		if got := StripTraversal(in); got != want {
			t.Errorf("StripTraversal(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIsAllowedSubpath(t *testing.T) {
	allowed := []string{"plugins", "themes/", "uploads"}
	paths := []string{
		"plugins/x.php", "../plugins/x.php", "themes", "/uploads/a/b",
		"wp-config.php", "", "/", "..", "../etc/passwd", "pluginsx/evil",
		"uploads\\..\\wp-config.php", "./themes/t/style.css",
	}
	for _, p := range paths {
		if IsAllowedSubpath(p, allowed) != IsAllowedSubpath(StripTraversal(p), allowed) {
			t.Errorf("allow decision for %q changes after stripping", p)
		}
	}
	for _, p := range []string{"wp-config.php", "", "/", "..", "pluginsx/evil", "../etc/passwd"} {
		if IsAllowedSubpath(p, allowed) {
			t.Errorf("expected %q to be rejected", p)
		}
	}
	for _, p := range []string{"plugins/x.php", "../themes/t.css", "uploads"} {
		if !IsAllowedSubpath(p, allowed) {
			t.Errorf("expected %q to be allowed", p)
		}
	}
}

func TestSandboxResolveScopes(t *testing.T) {
	rt, root := newTestRuntime(t)
	sb := NewSandbox(rt)

	abs, rel, err := sb.Resolve("../uploads/a.txt", true)
	if err != nil {
		t.Fatalf("resolve uploads: %v", err)
	}
	if rel != "uploads/a.txt" || abs != filepath.Join(root, "uploads", "a.txt") {
		t.Fatalf("unexpected resolution: %s %s", abs, rel)
	}

	if _, _, err := sb.Resolve("plugins/a.php", false); err != nil {
		t.Fatalf("plugins should be readable: %v", err)
	}
	_, _, err = sb.Resolve("plugins/a.php", true)
	wantKind(t, err, KindPathNotAllowed)

	_, _, err = sb.Resolve("wp-config.php", false)
	wantKind(t, err, KindPathNotAllowed)
}

func TestSandboxRejectsSymlinkEscape(t *testing.T) {
	rt, root := newTestRuntime(t)
	outside := t.TempDir()
	writeFile(t, filepath.Join(outside, "secret.txt"), "nope")
	if err := os.MkdirAll(filepath.Join(root, "uploads"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(outside, filepath.Join(root, "uploads", "link")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	_, _, err := NewSandbox(rt).Resolve("uploads/link/secret.txt", false)
	wantKind(t, err, KindPathNotAllowed)
}
