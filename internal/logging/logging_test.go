package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
)

func TestContextHandlerAddsRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "info").With("component", "test")

	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-123")
	logger.InfoContext(ctx, "[checkout] completed")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if record["request_id"] != "req-123" {
		t.Fatalf("expected request_id, got %v", record["request_id"])
	}
	if record["component"] != "test" {
		t.Fatalf("expected component attr preserved, got %v", record["component"])
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
