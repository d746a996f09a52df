// Package fsutil provides file system helpers for locating declaration
// files.
package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// FindDeclarations resolves path into the list of .hcl files it denotes.
// A file path is returned as-is; a directory is searched recursively; a
// glob pattern (doublestar syntax, e.g. "checks/**/*.hcl") is expanded.
// The result is sorted so load order is stable.
func FindDeclarations(path string) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("declarations path must not be empty")
	}

	info, err := os.Stat(path)
	switch {
	case err == nil && !info.IsDir():
		return []string{path}, nil
	case err == nil && info.IsDir():
		return globSorted(filepath.Join(path, "**", "*.hcl"))
	default:
		// Not a real path; treat it as a glob pattern.
		return globSorted(path)
	}
}

func globSorted(pattern string) ([]string, error) {
	matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("bad declarations pattern %q: %w", pattern, err)
	}
	sort.Strings(matches)
	return matches, nil
}

// Exists reports whether path exists at all.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil || !os.IsNotExist(err)
}
