package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestLevelFromString(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := LevelFromString(in); got != want {
			t.Errorf("%q: got %v want %v", in, got, want)
		}
	}
}

func TestNewWritesServiceField(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "taxi-api", "info")
	logger.Debug("hidden")
	logger.Info("order created", "order_id", 7)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected a single JSON line, got %q: %v", buf.String(), err)
	}
	if line["service"] != "taxi-api" || line["msg"] != "order created" || line["order_id"] != float64(7) {
		t.Fatalf("unexpected log line %v", line)
	}
}
