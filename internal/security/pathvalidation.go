package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

const maxIDLen = 128

// ValidateSceneID rejects scene identifiers that could not be embedded in an
// asset file name as-is. Scene IDs are used to build paths and URLs, so
// separators, traversal sequences and control characters are refused rather
// than rewritten.
func ValidateSceneID(id string) error {
	if id == "" {
		return fmt.Errorf("scene id is empty")
	}
	if len(id) > maxIDLen {
		return fmt.Errorf("scene id too long: %d bytes (max %d)", len(id), maxIDLen)
	}
	if strings.Contains(id, "..") {
		return fmt.Errorf("scene id %q contains a traversal sequence", id)
	}
	for _, r := range id {
		if !isSafeRune(r) {
			return fmt.Errorf("scene id %q contains invalid character %q", id, r)
		}
	}
	return nil
}

// ValidatePathWithinDirectory checks that filePath resolves inside safeDir.
// Symlinks are resolved for the longest existing prefix of the path so a
// link inside safeDir cannot redirect writes elsewhere.
func ValidatePathWithinDirectory(filePath, safeDir string) error {
	absPath, err := filepath.Abs(filepath.Clean(filePath))
	if err != nil {
		return fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	absSafeDir, err := filepath.Abs(safeDir)
	if err != nil {
		return fmt.Errorf("failed to resolve safe directory path: %w", err)
	}

	canonicalPath := resolveExisting(absPath)
	canonicalSafeDir := resolveExisting(absSafeDir)

	rel, err := filepath.Rel(canonicalSafeDir, canonicalPath)
	if err != nil {
		return fmt.Errorf("path is outside safe directory: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("path traversal detected: %s attempts to escape %s", filePath, safeDir)
	}
	return nil
}

// resolveExisting evaluates symlinks on the deepest existing ancestor of p
// and re-appends the missing tail.
func resolveExisting(p string) string {
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		return resolved
	}
	for check := p; ; {
		parent := filepath.Dir(check)
		if parent == check {
			return p
		}
		if resolved, err := filepath.EvalSymlinks(parent); err == nil {
			tail, _ := filepath.Rel(parent, p)
			return filepath.Join(resolved, tail)
		}
		check = parent
	}
}

// SanitizeFilename makes a safe filename from an arbitrary string such as a
// run name. Unsafe runs of characters collapse to a single underscore.
func SanitizeFilename(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxIDLen {
			break
		}
		if isSafeRune(r) {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			b.WriteRune('_')
			lastUnderscore = true
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}

func isSafeRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') ||
		r == '.' || r == '_' || r == '-'
}
