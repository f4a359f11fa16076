// Package filter selects local files for upload. Directories named on the
// command line are expanded and their contents matched against include and
// exclude patterns.
package filter

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Config holds filter configuration.
type Config struct {
	// Include patterns (glob-style, matched against the base name and the
	// path relative to the expanded directory). Empty means include all.
	Include []string

	// Exclude patterns take precedence over Include.
	Exclude []string

	// Search terms must all appear in the base name (case-insensitive).
	Search []string

	// Recursive descends into subdirectories; otherwise only the top
	// level of each directory is expanded.
	Recursive bool

	// Hidden includes dot files and dot directories.
	Hidden bool
}

// IsZero reports whether the config selects everything.
func (c Config) IsZero() bool {
	return len(c.Include) == 0 && len(c.Exclude) == 0 && len(c.Search) == 0
}

// Match reports whether relPath passes the filter.
func (c Config) Match(relPath string) bool {
	relPath = filepath.ToSlash(relPath)
	base := relPath
	if i := strings.LastIndexByte(relPath, '/'); i >= 0 {
		base = relPath[i+1:]
	}

	for _, p := range c.Exclude {
		if matchEither(p, relPath, base) {
			return false
		}
	}

	if len(c.Include) > 0 {
		included := false
		for _, p := range c.Include {
			if matchEither(p, relPath, base) {
				included = true
				break
			}
		}
		if !included {
			return false
		}
	}

	lower := strings.ToLower(base)
	for _, term := range c.Search {
		if !strings.Contains(lower, strings.ToLower(term)) {
			return false
		}
	}
	return true
}

// ExpandPaths returns the regular files named by args. Files given
// explicitly are kept as is; directories are expanded and filtered. The
// result keeps argument order, with each directory's files sorted.
func ExpandPaths(args []string, c Config) ([]string, error) {
	var out []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("cannot read %s: %w", arg, err)
		}
		if !info.IsDir() {
			out = append(out, arg)
			continue
		}

		files, err := expandDir(arg, c)
		if err != nil {
			return nil, err
		}
		out = append(out, files...)
	}
	return out, nil
}

func expandDir(root string, c Config) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		if !c.Hidden && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if !c.Recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if c.Match(rel) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", root, err)
	}
	sort.Strings(files)
	return files, nil
}

func matchEither(pattern, relPath, base string) bool {
	pattern = filepath.ToSlash(pattern)
	if matchPath(relPath, pattern) {
		return true
	}
	ok, _ := filepath.Match(pattern, base)
	return ok
}

// matchPath matches a slash-separated path against a glob that may use **
// for any number of directories.
func matchPath(path, pattern string) bool {
	if pattern == "**" {
		return true
	}
	if !strings.Contains(pattern, "**") {
		ok, _ := filepath.Match(pattern, path)
		return ok
	}

	// "**/rest": rest may match at any depth.
	if rest, ok := strings.CutPrefix(pattern, "**/"); ok {
		parts := strings.Split(path, "/")
		for i := range parts {
			if matchPath(strings.Join(parts[i:], "/"), rest) {
				return true
			}
		}
		return false
	}

	// "prefix/**": everything under a matching directory.
	if prefix, ok := strings.CutSuffix(pattern, "/**"); ok {
		parts := strings.Split(path, "/")
		for i := 1; i < len(parts); i++ {
			if ok, _ := filepath.Match(prefix, strings.Join(parts[:i], "/")); ok {
				return true
			}
		}
		return false
	}

	// "prefix/**/rest"
	if i := strings.Index(pattern, "/**/"); i >= 0 {
		prefix, rest := pattern[:i], pattern[i+4:]
		parts := strings.Split(path, "/")
		for j := 1; j < len(parts); j++ {
			if ok, _ := filepath.Match(prefix, strings.Join(parts[:j], "/")); !ok {
				continue
			}
			for k := j; k < len(parts); k++ {
				if matchPath(strings.Join(parts[k:], "/"), rest) {
					return true
				}
			}
		}
		return false
	}

	ok, _ := filepath.Match(strings.ReplaceAll(pattern, "**", "*"), path)
	return ok
}
