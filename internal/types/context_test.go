package types

import (
	"context"
	"io"
	"log/slog"
	"testing"
)

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req_123")
	if got := GetRequestID(ctx); got != "req_123" {
		t.Errorf("GetRequestID = %q, want %q", got, "req_123")
	}

	if got := GetRequestID(context.Background()); got != "" {
		t.Errorf("GetRequestID on empty context = %q, want empty", got)
	}
}

func TestTraceIDRoundTrip(t *testing.T) {
	ctx := WithTraceID(context.Background(), "trace_abc")
	if got := GetTraceID(ctx); got != "trace_abc" {
		t.Errorf("GetTraceID = %q, want %q", got, "trace_abc")
	}
}

func TestLoggerFromContext(t *testing.T) {
	enriched := slog.New(slog.NewTextHandler(io.Discard, nil)).With("activity_id", "act_1")
	ctx := WithLogger(context.Background(), enriched)

	if got := LoggerFromContext(ctx); got != enriched {
		t.Error("LoggerFromContext did not return the stored logger")
	}

	if got := LoggerFromContext(context.Background()); got == nil {
		t.Error("LoggerFromContext must fall back to a usable default, got nil")
	}
}
