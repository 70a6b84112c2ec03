package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/fatih/color"
)

func TestJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "warn", FormatJSON)
	logger.Info("hidden")
	logger.Warn("pin locked", "phone", "+256700000001")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected one json line, got %q: %v", buf.String(), err)
	}
	if line["msg"] != "pin locked" || line["phone"] != "+256700000001" {
		t.Fatalf("unexpected record %v", line)
	}
}

func TestConsoleLogger(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	logger := newLogger(&buf, "bogus", FormatConsole).With("component", "ussd").WithGroup("req")
	logger.Debug("hidden")
	logger.Info("session saved", "id", "S1")

	out := buf.String()
	if strings.Count(out, "\n") != 1 {
		t.Fatalf("expected one line, got %q", out)
	}
	for _, want := range []string{"INF", "session saved", "component=ussd", "req.id=S1"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in %q", want, out)
		}
	}
}
