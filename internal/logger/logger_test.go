package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestNew_ProductionWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	log := WithSave(New(&buf, "production", slog.LevelInfo), "alice", "Aria")
	log.Info("hello")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected JSON output, got %q: %v", buf.String(), err)
	}
	if line["user"] != "alice" || line["save"] != "Aria" {
		t.Errorf("missing save attributes: %v", line)
	}
}

func TestNew_DevelopmentWritesText(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "development", slog.LevelWarn)
	log.Info("dropped")
	WithError(WithRequestID(log, "req-1"), errors.New("boom")).Warn("kept")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Errorf("info line below the level was written: %q", out)
	}
	for _, want := range []string{"kept", "request_id=req-1", "error=boom"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q does not contain %q", out, want)
		}
	}
}
