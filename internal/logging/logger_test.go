package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestJSONLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf)

	logger.Warn().Str("event", "orphaned_object").Str("object_key", "users/u1/k").Msg("object left without record")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	if entry["level"] != "warn" {
		t.Errorf("level = %v, want warn", entry["level"])
	}
	if entry["object_key"] != "users/u1/k" {
		t.Errorf("object_key = %v", entry["object_key"])
	}
}

func TestChildCarriesFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf).Child(func(c zerolog.Context) zerolog.Context {
		return c.Str("component", "controller")
	})
	logger.Info().Msg("hello")

	if !strings.Contains(buf.String(), `"component":"controller"`) {
		t.Errorf("expected component field, got %q", buf.String())
	}
}

func TestFileLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broker.log")
	var console bytes.Buffer
	logger := NewFileLogger(&console, FileOptions{Path: path})

	logger.Info().Str("addr", ":8080").Msg("starting")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected log file: %v", err)
	}
	if !strings.Contains(string(data), `"addr":":8080"`) {
		t.Errorf("file log missing field: %q", string(data))
	}
	if !strings.Contains(console.String(), "starting") {
		t.Errorf("console log missing message: %q", console.String())
	}
}

func TestNopLogger(t *testing.T) {
	logger := NewNopLogger()
	logger.Info().Msg("discarded")
	logger.Infof("also %s", "discarded")
}
