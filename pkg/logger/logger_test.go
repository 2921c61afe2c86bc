package logx

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNewWritesStructuredJSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := New(&buf, Config{Debug: false, Caller: false})
	logger.Debug().Msg("hidden")
	logger.Info().Str("session_id", "s-1").Msg("turn started")

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("expected a single JSON line, got %q: %v", buf.String(), err)
	}
	if entry["session_id"] != "s-1" || entry["message"] != "turn started" {
		t.Fatalf("unexpected entry: %v", entry)
	}
}
