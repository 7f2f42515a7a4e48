package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "warn", Format: "json"}, &buf)

	logger.Info().Msg("hidden")
	logger.Warn().Str("ticker", "NVDA").Msg("shown")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line at warn level, got %q", buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("log line is not json: %v", err)
	}
	if rec["ticker"] != "NVDA" || rec["level"] != "warn" || rec["time"] == nil {
		t.Fatalf("unexpected record %v", rec)
	}
}

func TestNewConsoleAndDefaults(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Format: "console", Level: "bogus"}, &buf)
	logger.Info().Msg("hello")
	logger.Debug().Msg("quiet")

	out := buf.String()
	if !strings.Contains(out, "hello") || strings.Contains(out, "quiet") {
		t.Fatalf("unexpected console output %q", out)
	}
	if strings.HasPrefix(out, "{") {
		t.Fatalf("console format should not emit json: %q", out)
	}
}
