package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidateFallbackPath validates the dead-letter fallback file path.
// Absolute paths are fine (operators often point it at a dedicated
// volume); traversal components are not.
func ValidateFallbackPath(path string) error {
	if path == "" {
		return fmt.Errorf("file path cannot be empty")
	}

	cleanPath := filepath.Clean(path)
	if strings.Contains(cleanPath, "..") {
		return fmt.Errorf("path contains directory traversal: %s", path)
	}

	return nil
}

// ValidateFilePathWithBase validates that a relative path stays within
// the given base directory once resolved.
func ValidateFilePathWithBase(path, baseDir string) error {
	if err := ValidateFallbackPath(path); err != nil {
		return err
	}
	if filepath.IsAbs(path) {
		return fmt.Errorf("absolute paths not allowed under a base directory: %s", path)
	}

	fullPath := filepath.Clean(filepath.Join(baseDir, path))
	cleanBase := filepath.Clean(baseDir)

	if !strings.HasPrefix(fullPath, cleanBase) {
		return fmt.Errorf("path escapes base directory: %s", path)
	}

	return nil
}
