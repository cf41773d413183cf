package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/orrn/printq/internal/config"
)

func TestNewJSONRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(config.LoggingConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info("hidden")
	logger.Warn("shown", "printer", "P1")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}

	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("line is not JSON: %v", err)
	}
	if rec["msg"] != "shown" || rec["printer"] != "P1" {
		t.Fatalf("record = %v", rec)
	}
}

func TestPlainDropsTime(t *testing.T) {
	var buf bytes.Buffer
	logger := Component(New(config.LoggingConfig{Level: "info", Format: "plain"}, &buf), "dispatcher")

	logger.Info("cycle")

	out := buf.String()
	if strings.Contains(out, "time=") {
		t.Fatalf("plain output contains time: %q", out)
	}
	if !strings.Contains(out, "component=dispatcher") {
		t.Fatalf("plain output missing component: %q", out)
	}
}
