// Package security holds path and filename hygiene helpers used when the
// server writes files whose names derive from request input.
package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidatePathWithinDirectory rejects paths that resolve outside safeDir.
// Symlinks in both the candidate path and safeDir are resolved first, so a
// link pointing out of the directory cannot be used to escape it. The
// candidate itself need not exist yet; in that case the nearest existing
// ancestor is resolved and the remaining components rejoined.
func ValidatePathWithinDirectory(filePath, safeDir string) error {
	absPath, err := filepath.Abs(filepath.Clean(filePath))
	if err != nil {
		return fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	absSafeDir, err := filepath.Abs(safeDir)
	if err != nil {
		return fmt.Errorf("failed to resolve safe directory path: %w", err)
	}

	canonicalPath := resolveBestEffort(absPath)

	canonicalSafeDir, err := filepath.EvalSymlinks(absSafeDir)
	if err != nil {
		return fmt.Errorf("failed to resolve safe directory symlinks: %w", err)
	}

	rel, err := filepath.Rel(canonicalSafeDir, canonicalPath)
	if err != nil {
		return fmt.Errorf("path is outside safe directory: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("path traversal detected: %s attempts to escape %s", filePath, safeDir)
	}
	return nil
}

// resolveBestEffort resolves symlinks in absPath. When the path does not
// exist yet it walks up to the nearest existing ancestor, resolves that, and
// reattaches the tail. This closes the hole where a not-yet-created file
// under a symlinked directory would bypass the containment check.
func resolveBestEffort(absPath string) string {
	if resolved, err := filepath.EvalSymlinks(absPath); err == nil {
		return resolved
	}

	for cur := absPath; ; {
		parent := filepath.Dir(cur)
		if parent == cur {
			return absPath
		}
		if resolved, err := filepath.EvalSymlinks(parent); err == nil {
			tail, _ := filepath.Rel(parent, absPath)
			return filepath.Join(resolved, tail)
		}
		cur = parent
	}
}

// SanitizeFilename turns an arbitrary identifier into a safe filename
// fragment. ASCII letters, digits, dot, underscore and dash pass through;
// runs of anything else collapse to a single underscore. Output is capped
// at 128 characters, with leading and trailing separators trimmed.
func SanitizeFilename(s string) string {
	const maxLen = 128

	var b strings.Builder
	prevSubstituted := false
	for _, r := range s {
		if b.Len() >= maxLen {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
			prevSubstituted = false
		default:
			if !prevSubstituted {
				b.WriteByte('_')
				prevSubstituted = true
			}
		}
	}

	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}
