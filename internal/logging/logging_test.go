package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestProductionLogsJSONAtInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupWithWriter("production", &buf)

	logger.Debug().Msg("hidden")
	logger.Info().Str("component", "board").Msg("visible")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("lines = %q, want only the info entry", lines)
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("entry is not JSON: %v", err)
	}
	if entry["message"] != "visible" || entry["component"] != "board" {
		t.Fatalf("entry = %v", entry)
	}
}

func TestDevelopmentLogsAtDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupWithWriter("Development", &buf)
	if logger.GetLevel() != zerolog.DebugLevel {
		t.Fatalf("level = %s, want debug", logger.GetLevel())
	}
	logger.Debug().Msg("drag started")
	if !strings.Contains(buf.String(), "drag started") {
		t.Fatalf("output = %q", buf.String())
	}
}
