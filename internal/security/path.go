package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidateFilePath rejects paths that could traverse out of the directory
// an operator intended. Absolute paths are fine; the sqlite DSN is usually
// one. The in-memory DSN is passed through untouched.
func ValidateFilePath(path string) error {
	if path == "" {
		return fmt.Errorf("file path cannot be empty")
	}
	if path == ":memory:" || strings.HasPrefix(path, "file::memory:") {
		return nil
	}

	cleanPath := filepath.Clean(path)
	if strings.Contains(cleanPath, "..") {
		return fmt.Errorf("path contains directory traversal: %s", path)
	}
	return nil
}

// ValidateFilePathWithBase additionally pins a relative path under a base
// directory.
func ValidateFilePathWithBase(path, baseDir string) error {
	if err := ValidateFilePath(path); err != nil {
		return err
	}

	fullPath := filepath.Clean(filepath.Join(baseDir, path))
	cleanBase := filepath.Clean(baseDir)
	if !strings.HasPrefix(fullPath, cleanBase) {
		return fmt.Errorf("path escapes base directory: %s", path)
	}
	return nil
}
