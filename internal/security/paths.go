// Package security keeps generated output files inside their output
// directory.
package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// SanitizeFilename makes a safe file name from an arbitrary string. Any rune
// that is not an ASCII letter, digit, dot, underscore or dash becomes an
// underscore; runs of underscores collapse and the result is capped at 128
// bytes.
func SanitizeFilename(s string) string {
	const maxLen = 128
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'),
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}

// ValidatePathWithinDirectory rejects a path that lexically escapes dir.
// Symlinks are not resolved so the check also applies to in-memory file
// systems.
func ValidatePathWithinDirectory(path, dir string) error {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("path is outside %s: %w", dir, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("path traversal detected: %s escapes %s", path, dir)
	}
	return nil
}

// OutputPath joins a sanitised base name and extension onto dir.
func OutputPath(dir, base, ext string) (string, error) {
	path := filepath.Join(dir, SanitizeFilename(base)+ext)
	if err := ValidatePathWithinDirectory(path, dir); err != nil {
		return "", err
	}
	return path, nil
}
