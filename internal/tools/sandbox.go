package tools

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/KafClaw/siteagent/internal/config"
)

// Path scopes.
const (
	ScopeRead  = "read"
	ScopeWrite = "write"
)

// StripTraversal normalizes a tool-supplied path into clean relative
// segments: backslashes become slashes, and empty, "." and ".." segments
// are dropped. The result never starts with "/".
func StripTraversal(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	parts := strings.Split(p, "/")
	kept := parts[:0]
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" || part == "." || part == ".." {
			continue
		}
		kept = append(kept, part)
	}
	return strings.Join(kept, "/")
}

// IsAllowedSubpath reports whether p, after stripping traversal, starts with
// an allow-listed top-level segment. Bare root-level paths are rejected.
func IsAllowedSubpath(p string, allowed []string) bool {
	clean := StripTraversal(p)
	if clean == "" {
		return false
	}
	first, _, _ := strings.Cut(clean, "/")
	for _, a := range allowed {
		if strings.Trim(StripTraversal(a), "/") == first {
			return true
		}
	}
	return false
}

// topSegment returns the first path segment of an already-stripped path.
func topSegment(clean string) string {
	first, _, _ := strings.Cut(clean, "/")
	return first
}

// Sandbox resolves tool paths under the configured site root.
type Sandbox struct {
	rt *config.Runtime
}

// NewSandbox creates a path sandbox reading its policy from rt.
func NewSandbox(rt *config.Runtime) *Sandbox {
	return &Sandbox{rt: rt}
}

// ScopeFor returns the scope of a subpath. Unlisted subpaths are read-only.
func (s *Sandbox) ScopeFor(clean string) string {
	scopes := s.rt.Current().Tools.PathScopes
	if v, ok := scopes[topSegment(clean)]; ok && strings.EqualFold(v, ScopeWrite) {
		return ScopeWrite
	}
	return ScopeRead
}

// Resolve maps a tool path to an absolute path under the site root.
// write requires the subpath scope to be "write".
func (s *Sandbox) Resolve(p string, write bool) (abs string, rel string, err error) {
	cfg := s.rt.Current()
	root := normalizeRoot(cfg.Paths.SiteRoot)
	if root == "" {
		return "", "", Errorf(KindPathNotAllowed, "site root is not configured")
	}
	rel = StripTraversal(p)
	if !IsAllowedSubpath(rel, cfg.Tools.AllowedSubpaths) {
		return "", rel, Errorf(KindPathNotAllowed, "path %q is outside the allowed subpaths (%s)",
			p, strings.Join(cfg.Tools.AllowedSubpaths, ", "))
	}
	if write && s.ScopeFor(rel) != ScopeWrite {
		return "", rel, Errorf(KindPathNotAllowed, "path %q is read-only", p)
	}
	abs = filepath.Join(root, filepath.FromSlash(rel))
	if !isWithin(root, abs) {
		return "", rel, Errorf(KindPathNotAllowed, "path %q escapes the site root", p)
	}
	if realRoot, err := filepath.EvalSymlinks(root); err == nil {
		if real, ok := evalExisting(abs); ok && !isWithin(realRoot, real) {
			return "", rel, Errorf(KindPathNotAllowed, "path %q resolves outside the site root", p)
		}
	}
	return abs, rel, nil
}

// evalExisting resolves symlinks on the deepest existing ancestor of p.
func evalExisting(p string) (string, bool) {
	cur := p
	var tail []string
	for {
		if _, err := os.Lstat(cur); err == nil {
			real, err := filepath.EvalSymlinks(cur)
			if err != nil {
				return "", false
			}
			for i := len(tail) - 1; i >= 0; i-- {
				real = filepath.Join(real, tail[i])
			}
			return real, true
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return "", false
		}
		tail = append(tail, filepath.Base(cur))
		cur = parent
	}
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

func normalizeRoot(root string) string {
	root = strings.TrimSpace(root)
	if root == "" {
		return ""
	}
	if abs, err := filepath.Abs(expandPath(root)); err == nil {
		return abs
	}
	return root
}

func isWithin(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
