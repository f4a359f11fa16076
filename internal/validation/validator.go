// Package validation checks transfer candidates against the upload policy
// before they are admitted to a queue. Everything here is pure.
package validation

import (
	"fmt"
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/stashbox/stashbox/internal/constants"
	"github.com/stashbox/stashbox/internal/models"
)

// Rule names the check that rejected a candidate.
type Rule string

const (
	RuleSize       Rule = "size"
	RuleName       Rule = "name"
	RuleType       Rule = "type"
	RuleBatchSize  Rule = "batch_size"
	RuleBatchCount Rule = "batch_count"
)

// Error is a rejection. It never leaves the client.
type Error struct {
	Rule   Rule
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("validation failed (%s): %s", e.Rule, e.Reason)
}

// Policy holds the limits candidates are checked against.
type Policy struct {
	MaxFileSize          int64
	MaxTotalBatchBytes   int64
	MaxFilesPerBatch     int
	MaxNameLength        int
	AllowedDocumentTypes []string
}

// DefaultPolicy returns the built-in limits.
func DefaultPolicy() Policy {
	types := make([]string, len(constants.AllowedDocumentTypes))
	copy(types, constants.AllowedDocumentTypes)
	return Policy{
		MaxFileSize:          constants.MaxFileSizeBytes,
		MaxTotalBatchBytes:   constants.MaxTotalBatchBytes,
		MaxFilesPerBatch:     constants.MaxFilesPerBatch,
		MaxNameLength:        constants.MaxNameLength,
		AllowedDocumentTypes: types,
	}
}

// Validate checks size, then name, then type, and stops at the first
// failing rule. It returns nil when the candidate is acceptable.
func Validate(c models.TransferCandidate, p Policy) error {
	if c.ByteSize <= 0 {
		return &Error{Rule: RuleSize, Reason: "file is empty"}
	}
	if c.ByteSize > p.MaxFileSize {
		return &Error{Rule: RuleSize, Reason: fmt.Sprintf("%s exceeds the %s limit",
			FormatBytes(c.ByteSize), FormatBytes(p.MaxFileSize))}
	}

	n := utf8.RuneCountInString(c.DisplayName)
	if n == 0 {
		return &Error{Rule: RuleName, Reason: "name is empty"}
	}
	if n > p.MaxNameLength {
		return &Error{Rule: RuleName, Reason: fmt.Sprintf("name is %d characters, limit is %d", n, p.MaxNameLength)}
	}

	if !TypeAllowed(c.MimeType, p.AllowedDocumentTypes) {
		return &Error{Rule: RuleType, Reason: fmt.Sprintf("type %q is not allowed", c.MimeType)}
	}
	return nil
}

// TypeAllowed reports whether mimeType is any image or video type or one of
// the allowed document types. Parameters and case are ignored.
func TypeAllowed(mimeType string, allowed []string) bool {
	mt := normalizeMediaType(mimeType)
	if mt == "" {
		return false
	}
	if strings.HasPrefix(mt, "image/") || strings.HasPrefix(mt, "video/") {
		return true
	}
	for _, a := range allowed {
		if mt == strings.ToLower(a) {
			return true
		}
	}
	return false
}

func normalizeMediaType(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if mt, _, err := mime.ParseMediaType(s); err == nil {
		return mt
	}
	if i := strings.IndexByte(s, ';'); i >= 0 {
		s = s[:i]
	}
	return strings.ToLower(strings.TrimSpace(s))
}

// FormatBytes renders n using binary units.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
