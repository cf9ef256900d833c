package ingest_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"scribe/internal/ingest"
	"scribe/internal/pipeline"
	"scribe/internal/testsupport"
)

func TestWatcherEnqueuesDroppedRecording(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithWatchDir())
	registry := pipeline.NewRegistry(pipeline.Options{})
	queue, err := ingest.NewQueue(cfg, registry, nil)
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := queue.Start(ctx); err != nil {
		t.Fatalf("Start queue: %v", err)
	}
	defer queue.Close()

	debounce := time.Duration(cfg.Ingest.WatchDebounceMillis) * time.Millisecond
	watcher := ingest.NewWatcher(cfg.Ingest.WatchDir, debounce, queue, nil)
	if err := watcher.Start(ctx); err != nil {
		t.Fatalf("Start watcher: %v", err)
	}
	defer watcher.Close()
	if err := watcher.Start(ctx); err == nil {
		t.Fatal("expected second Start to fail")
	}

	testsupport.WriteMonoWAV(t, filepath.Join(cfg.Ingest.WatchDir, "dropped.wav"))
	testsupport.WriteTranscript(t, filepath.Join(cfg.Ingest.WatchDir, "readme.md"), "not a transcript")

	deadline := time.Now().Add(5 * time.Second)
	for len(registry.Tasks()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("dropped recording was never ingested")
		}
		time.Sleep(20 * time.Millisecond)
	}
	tasks := registry.Tasks()
	if len(tasks) != 1 || tasks[0].Inputs[0].OriginalName != "dropped.wav" {
		t.Fatalf("unexpected tasks %+v", tasks)
	}
	items := queue.List()
	if len(items) != 1 || items[0].Path != filepath.Join(cfg.Ingest.WatchDir, "dropped.wav") {
		t.Fatalf("unsupported files should not be queued, got %+v", items)
	}
}
