package logging

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func TestStreamHandlerWithAttrs(t *testing.T) {
	hub := NewStreamHub(100)
	handler := newStreamHandler(slog.NewTextHandler(discardWriter{}, nil), hub)

	logger := slog.New(handler).With(slog.Int64(FieldTaskID, 42))
	logger.Info("round finished", slog.String("extra", "value"))

	events, _ := hub.Tail(10)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].TaskID != 42 {
		t.Fatalf("expected task_id=42, got %d", events[0].TaskID)
	}
	if events[0].Fields["extra"] != "value" {
		t.Fatalf("expected extra field, got %#v", events[0].Fields)
	}
}

func TestStreamHandlerCallSiteOverridesWithAttrs(t *testing.T) {
	hub := NewStreamHub(100)
	handler := newStreamHandler(slog.NewTextHandler(discardWriter{}, nil), hub)

	logger := slog.New(handler).
		With(slog.String(FieldStage, "upload")).
		With(slog.Int64(FieldOperationID, 9))
	logger.Info("message", slog.String(FieldStage, "asr"))

	events, _ := hub.Tail(10)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Stage != "asr" {
		t.Fatalf("expected stage=asr, got %q", events[0].Stage)
	}
	if events[0].OperationID != 9 {
		t.Fatalf("expected operation_id=9, got %d", events[0].OperationID)
	}
}

func TestStreamHandlerNilHub(t *testing.T) {
	base := slog.NewTextHandler(discardWriter{}, nil)
	if handler := newStreamHandler(base, nil); handler != base {
		t.Fatal("expected base handler when hub is nil")
	}
}

func TestStreamHubCapacityDropsOldest(t *testing.T) {
	hub := NewStreamHub(2)
	for i := 0; i < 3; i++ {
		hub.Publish(LogEvent{Message: "evt"})
	}
	events, next := hub.Tail(0)
	if len(events) != 2 {
		t.Fatalf("expected 2 buffered events, got %d", len(events))
	}
	if events[0].Sequence != 2 || next != 3 {
		t.Fatalf("unexpected sequences: first=%d next=%d", events[0].Sequence, next)
	}
}

func TestStreamHubFetchWaitsForEvent(t *testing.T) {
	hub := NewStreamHub(10)
	go func() {
		time.Sleep(20 * time.Millisecond)
		hub.Publish(LogEvent{Message: "late"})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	events, next, err := hub.Fetch(ctx, 0, 10, true)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(events) != 1 || events[0].Message != "late" || next != 1 {
		t.Fatalf("unexpected fetch result: %#v next=%d", events, next)
	}
}

func TestStreamHubFetchHonoursCancel(t *testing.T) {
	hub := NewStreamHub(10)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, _, err := hub.Fetch(ctx, 0, 10, true); err == nil {
		t.Fatal("expected context error")
	}
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
