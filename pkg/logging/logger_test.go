package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewWithOptions_JSONRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithOptions(Options{Level: "warn", Output: &buf})

	logger.Info("hidden")
	logger.Warn("shown", "tenant_id", "t-1")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %q", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if entry["msg"] != "shown" || entry["tenant_id"] != "t-1" {
		t.Fatalf("unexpected entry: %#v", entry)
	}
}

func TestWith_AddsAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithOptions(Options{Level: "debug", Format: "text", Output: &buf}).With("job", "reminder")
	logger.Debug("tick")
	if !strings.Contains(buf.String(), "job=reminder") {
		t.Fatalf("expected job attribute, got %q", buf.String())
	}
}
