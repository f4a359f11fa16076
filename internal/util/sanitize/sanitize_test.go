package sanitize

import (
	"strings"
	"testing"
)

func TestDisplayName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain", "report.pdf", "report.pdf"},
		{"zero-width space", "re\u200Bport.pdf", "report.pdf"},
		{"BOM", "\uFEFFreport.pdf", "report.pdf"},
		{"soft hyphen", "quar\u00ADterly.xlsx", "quarterly.xlsx"},
		{"whitespace runs", "  annual   report\t2024.pdf ", "annual report 2024.pdf"},
		{"control characters", "a\nb\rc.txt", "a b c.txt"},
		{"unicode kept", "Überblick – März.docx", "Überblick – März.docx"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DisplayName(tt.input); got != tt.expected {
				t.Errorf("DisplayName(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestObjectName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"safe", "report-2024_v2.pdf", "report-2024_v2.pdf"},
		{"spaces", "annual report.pdf", "annual_report.pdf"},
		{"traversal", "../../etc/passwd", "etc_passwd"},
		{"unicode", "März.docx", "M_rz.docx"},
		{"hidden file", ".env", "env"},
		{"only symbols", "***", "file"},
		{"empty", "", "file"},
		{"double dots", "a..b.txt", "a.b.txt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ObjectName(tt.input); got != tt.expected {
				t.Errorf("ObjectName(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestObjectNameTruncatesKeepingExtension(t *testing.T) {
	got := ObjectName(strings.Repeat("a", 300) + ".pdf")
	if len(got) != maxObjectNameBytes {
		t.Errorf("length = %d, want %d", len(got), maxObjectNameBytes)
	}
	if !strings.HasSuffix(got, ".pdf") {
		t.Errorf("extension lost: %q", got)
	}
}
