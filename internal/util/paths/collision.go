// Package paths provides utilities for file path handling in downloads.
package paths

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// FileForDownload is one object headed for a local path.
type FileForDownload struct {
	ObjectKey string
	Name      string
	LocalPath string
	Size      int64
}

// ResolveCollisions makes every LocalPath unique. When several files share
// a path, each gets a discriminator from its object key inserted before the
// extension:
//
//	report.pdf -> report_1700000000000-ab12cd.pdf
//
// Returns the same slice, modified in place, and the number of files that
// were renamed.
func ResolveCollisions(files []FileForDownload) ([]FileForDownload, int) {
	if len(files) == 0 {
		return files, 0
	}

	pathToIndices := make(map[string][]int)
	for i, f := range files {
		pathToIndices[f.LocalPath] = append(pathToIndices[f.LocalPath], i)
	}

	collisionCount := 0
	for p, indices := range pathToIndices {
		if len(indices) <= 1 {
			continue
		}

		collisionCount += len(indices)
		ext := filepath.Ext(p)
		base := p[:len(p)-len(ext)]
		for n, idx := range indices {
			f := &files[idx]
			tag := KeyDiscriminator(f.ObjectKey)
			if tag == "" {
				tag = fmt.Sprintf("%d", n+1)
			}
			f.LocalPath = fmt.Sprintf("%s_%s%s", base, tag, ext)
		}
	}

	return files, collisionCount
}

// KeyDiscriminator returns the segment of an object key that distinguishes
// uploads of the same name: the directory segment directly above the file
// name, or "" when the key has no directory.
func KeyDiscriminator(objectKey string) string {
	dir := path.Dir(strings.Trim(objectKey, "/"))
	if dir == "." || dir == "/" {
		return ""
	}
	return path.Base(dir)
}

// NameFromKey returns the last segment of an object key.
func NameFromKey(objectKey string) string {
	trimmed := strings.TrimRight(objectKey, "/")
	if trimmed == "" {
		return ""
	}
	return path.Base(trimmed)
}
