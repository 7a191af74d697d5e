// Package pathutil provides path validation utilities for securing file operations.
package pathutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnsafeOutputDir is returned when clearing a directory would remove data
// outside of the run's own output.
var ErrUnsafeOutputDir = errors.New("refusing to use output directory")

// RedactPath reduces a full path to .../<parent>/<basename> for safe error messages.
// For example, "/home/user/runs/data" becomes ".../runs/data".
func RedactPath(path string) string {
	if path == "" {
		return ""
	}
	cleaned := filepath.Clean(path)
	dir := filepath.Dir(cleaned)
	base := filepath.Base(cleaned)
	parent := filepath.Base(dir)
	if parent == "." || parent == string(filepath.Separator) {
		return base
	}
	return ".../" + parent + "/" + base
}

// ValidateOutputDir checks that path may be removed and recreated at the start
// of a run. It resolves symlinks and rejects the filesystem root, the current
// working directory, the user's home directory and any of their ancestors.
// It returns the resolved absolute path.
func ValidateOutputDir(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("%w: path is empty", ErrUnsafeOutputDir)
	}

	// Check for null bytes (common injection vector)
	if strings.ContainsRune(path, '\x00') {
		return "", fmt.Errorf("%w: path contains null byte", ErrUnsafeOutputDir)
	}

	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("%w: cannot resolve absolute path: %v", ErrUnsafeOutputDir, err)
	}

	resolved, err := resolveExistingParent(absPath)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsafeOutputDir, err)
	}

	if filepath.Dir(resolved) == resolved {
		return "", fmt.Errorf("%w: %q is the filesystem root", ErrUnsafeOutputDir, resolved)
	}

	protected := map[string]string{}
	if wd, err := os.Getwd(); err == nil {
		protected["working directory"] = wd
	}
	if home, err := os.UserHomeDir(); err == nil {
		protected["home directory"] = home
	}

	for name, dir := range protected {
		dirResolved, err := resolveExistingParent(dir)
		if err != nil {
			continue
		}
		// The output dir must not be the protected dir or contain it.
		if isSubpath(dirResolved, resolved) {
			return "", fmt.Errorf("%w: %q contains the %s", ErrUnsafeOutputDir, RedactPath(resolved), name)
		}
	}

	return resolved, nil
}

// resolveExistingParent walks up the directory tree to find the deepest existing
// ancestor, resolves symlinks on it, then re-appends the non-existent tail.
// This handles cases where the target directory or some of its parents don't exist yet.
func resolveExistingParent(dir string) (string, error) {
	// Try to resolve the full path first
	resolved, err := filepath.EvalSymlinks(dir)
	if err == nil {
		return resolved, nil
	}

	// Walk up until we find an existing directory
	parent := filepath.Dir(dir)
	if parent == dir {
		// We've hit the root and it doesn't exist -- give up
		return "", fmt.Errorf("cannot resolve path: %s", RedactPath(dir))
	}

	resolvedParent, err := resolveExistingParent(parent)
	if err != nil {
		return "", err
	}

	return filepath.Join(resolvedParent, filepath.Base(dir)), nil
}

// isSubpath checks whether path is equal to or a subdirectory of base.
func isSubpath(path, base string) bool {
	if path == base {
		return true
	}
	// Ensure base ends with separator so "/tmp/foo" doesn't match "/tmp/foobar"
	prefix := base + string(os.PathSeparator)
	return strings.HasPrefix(path, prefix)
}
