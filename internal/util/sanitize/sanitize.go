// Package sanitize cleans user-supplied names before they become record
// names or object key segments.
package sanitize

import (
	"regexp"
	"strings"
)

// maxObjectNameBytes bounds the file-name segment of an object key.
const maxObjectNameBytes = 128

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	unsafeKeyRun  = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
	dotRun        = regexp.MustCompile(`\.{2,}`)
)

// DisplayName removes invisible characters and control characters,
// collapses whitespace runs to one space and trims the result.
func DisplayName(name string) string {
	if name == "" {
		return name
	}
	name = removeInvisibleChars(name)
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return ' '
		}
		return r
	}, name)
	name = whitespaceRun.ReplaceAllString(name, " ")
	return strings.TrimSpace(name)
}

// ObjectName turns a display name into a segment safe for an object key:
// ASCII letters, digits, '.', '_' and '-' only, no leading dots, and at most
// maxObjectNameBytes long with the extension kept. An unusable name becomes
// "file".
func ObjectName(name string) string {
	name = DisplayName(name)
	name = unsafeKeyRun.ReplaceAllString(name, "_")
	name = dotRun.ReplaceAllString(name, ".")
	name = strings.TrimLeft(name, "._")
	name = strings.TrimRight(name, "_")

	if len(name) > maxObjectNameBytes {
		ext := ""
		if i := strings.LastIndexByte(name, '.'); i > 0 && len(name)-i <= 16 {
			ext = name[i:]
		}
		name = name[:maxObjectNameBytes-len(ext)] + ext
	}
	if name == "" || name == "." {
		return "file"
	}
	return name
}

// removeInvisibleChars removes zero-width and other invisible Unicode characters
func removeInvisibleChars(s string) string {
	invisibleChars := []string{
		"\u200B", // Zero-width space
		"\u200C", // Zero-width non-joiner
		"\u200D", // Zero-width joiner
		"\uFEFF", // Zero-width no-break space (BOM)
		"\u00AD", // Soft hyphen
		"\u2060", // Word joiner
		"\u180E", // Mongolian vowel separator
	}

	for _, char := range invisibleChars {
		s = strings.ReplaceAll(s, char, "")
	}

	return s
}
