package logging

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewFanoutHandlerCollapses(t *testing.T) {
	if _, ok := newFanoutHandler(nil, nil).(NoopHandler); !ok {
		t.Fatal("expected NoopHandler for all nil handlers")
	}
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, nil)
	if h := newFanoutHandler(nil, inner); h != inner {
		t.Fatal("expected single non-nil handler to be returned unwrapped")
	}
}

func TestFanoutHandlerRespectsPerHandlerLevel(t *testing.T) {
	var infoBuf, debugBuf bytes.Buffer
	infoHandler := slog.NewJSONHandler(&infoBuf, &slog.HandlerOptions{Level: slog.LevelInfo})
	debugHandler := slog.NewJSONHandler(&debugBuf, &slog.HandlerOptions{Level: slog.LevelDebug})

	h := newFanoutHandler(infoHandler, debugHandler)
	if !h.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("expected fanout enabled for debug")
	}
	slog.New(h).Debug("admission pass")

	if infoBuf.Len() != 0 {
		t.Fatal("info handler should not receive debug messages")
	}
	if debugBuf.Len() == 0 {
		t.Fatal("debug handler should receive debug messages")
	}
}

func TestFanoutHandlerWithAttrsReachesAll(t *testing.T) {
	var buf1, buf2 bytes.Buffer
	h := newFanoutHandler(slog.NewJSONHandler(&buf1, nil), slog.NewJSONHandler(&buf2, nil))
	slog.New(h.WithAttrs([]slog.Attr{slog.Int64(FieldTaskID, 4)})).Info("test")

	for i, buf := range []*bytes.Buffer{&buf1, &buf2} {
		if !bytes.Contains(buf.Bytes(), []byte(`"task_id":4`)) {
			t.Fatalf("expected task_id in buffer %d: %s", i, buf.String())
		}
	}
}

func TestTeeLoggerMirrorsIntoJSONFile(t *testing.T) {
	var baseBuf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&baseBuf, nil))

	path := filepath.Join(t.TempDir(), "diag.log")
	fileHandler, err := NewJSONFileLogger(path)
	if err != nil {
		t.Fatalf("NewJSONFileLogger: %v", err)
	}
	logger := TeeLogger(base, fileHandler)
	logger.Debug("debug detail")
	logger.Info("teed message")

	if !strings.Contains(baseBuf.String(), "teed message") {
		t.Fatal("expected output in base buffer")
	}
	if strings.Contains(baseBuf.String(), "debug detail") {
		t.Fatal("base handler should keep its info level")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read diag log: %v", err)
	}
	if !strings.Contains(string(content), "debug detail") || !strings.Contains(string(content), "teed message") {
		t.Fatalf("expected both records in diag log, got %s", content)
	}
}

func TestTeeLoggerNilBase(t *testing.T) {
	var teeBuf bytes.Buffer
	TeeLogger(nil, slog.NewJSONHandler(&teeBuf, nil)).Info("no base")
	if teeBuf.Len() == 0 {
		t.Fatal("expected output in tee buffer")
	}
}
