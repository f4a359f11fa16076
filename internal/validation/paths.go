package validation

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidateFilename rejects names that cannot safely be joined onto a local
// directory: empty, containing a separator or NUL, or equal to "." or "..".
// Record names come from the broker and are treated as untrusted.
func ValidateFilename(filename string) error {
	switch {
	case filename == "":
		return fmt.Errorf("filename cannot be empty")
	case strings.ContainsRune(filename, 0):
		return fmt.Errorf("filename contains null byte: %q", filename)
	case strings.ContainsAny(filename, `/\`):
		return fmt.Errorf("filename cannot contain path separators: %s", filename)
	case filename == "." || filename == "..":
		return fmt.Errorf("filename cannot be %q", filename)
	}
	return nil
}

// ValidatePathInDirectory checks that path, resolved against baseDir,
// stays inside baseDir.
func ValidatePathInDirectory(path, baseDir string) error {
	if path == "" {
		return fmt.Errorf("path cannot be empty")
	}
	if baseDir == "" {
		return fmt.Errorf("base directory cannot be empty")
	}

	base, err := filepath.Abs(filepath.Clean(baseDir))
	if err != nil {
		return fmt.Errorf("failed to resolve base directory: %w", err)
	}

	resolved := filepath.Clean(path)
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(base, resolved)
	}

	rel, err := filepath.Rel(base, resolved)
	if err != nil {
		return fmt.Errorf("failed to compute relative path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path escapes base directory: %s (base: %s)", path, baseDir)
	}
	return nil
}
