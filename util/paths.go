package util

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrPathTraversal indicates a path traversal attempt was detected
	ErrPathTraversal = errors.New("path traversal attempt detected")
	// ErrSymlinkNotAllowed indicates the target is a symlink
	ErrSymlinkNotAllowed = errors.New("symlink not allowed")
	// ErrPathOutsideAllowedDir indicates the path escapes the allowed directory
	ErrPathOutsideAllowedDir = errors.New("path outside allowed directory")
)

// ResolveOutputPath resolves where an export artifact is written. Relative
// paths are joined to dir; the result must stay inside dir unless path is
// absolute. Existing symlinks are rejected so an export never overwrites
// a file it was not meant to.
func ResolveOutputPath(path, dir string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("output path cannot be empty")
	}
	if strings.Contains(path, "\x00") {
		return "", fmt.Errorf("null bytes not allowed in path")
	}
	if dir == "" {
		dir = "."
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve output directory: %w", err)
	}

	var absPath string
	if filepath.IsAbs(path) {
		absPath = filepath.Clean(path)
	} else {
		if strings.Contains(path, "..") {
			return "", ErrPathTraversal
		}
		absPath = filepath.Join(absDir, path)
		rel, err := filepath.Rel(absDir, absPath)
		if err != nil || strings.HasPrefix(rel, "..") {
			return "", ErrPathOutsideAllowedDir
		}
	}

	if fi, err := os.Lstat(absPath); err == nil && fi.Mode()&os.ModeSymlink != 0 {
		return "", ErrSymlinkNotAllowed
	}
	return absPath, nil
}

// SafeFilename reduces a server-supplied filename to its base name with
// path separators and control characters removed. An unusable name
// yields fallback.
func SafeFilename(name, fallback string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f || r == '/' {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." {
		return fallback
	}
	return name
}
