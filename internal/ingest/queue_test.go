package ingest_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"scribe/internal/ingest"
	"scribe/internal/pipeline"
	"scribe/internal/services"
	"scribe/internal/testsupport"
	"scribe/internal/workitem"
)

func newQueue(t *testing.T, registry *pipeline.Registry) *ingest.Queue {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	queue, err := ingest.NewQueue(cfg, registry, nil)
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}
	if err := queue.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(queue.Close)
	return queue
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestQueueIngestsMonoRecording(t *testing.T) {
	registry := pipeline.NewRegistry(pipeline.Options{})
	queue := newQueue(t, registry)
	sub := registry.Bus().Subscribe(func(e pipeline.Event) bool { return e.Type == pipeline.EventItemProcessed })
	defer sub.Close()

	path := filepath.Join(t.TempDir(), "interview.wav")
	testsupport.WriteMonoWAV(t, path)

	item, err := queue.Process(waitCtx(t), path, "")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if item.Status != ingest.StatusFinished {
		t.Fatalf("status = %s", item.Status)
	}
	if len(item.Outcome.Created) != 1 || item.Outcome.DirectoryID != 0 {
		t.Fatalf("unexpected outcome %+v", item.Outcome)
	}
	task, err := registry.Task(item.Outcome.Created[0])
	if err != nil {
		t.Fatalf("Task: %v", err)
	}
	if len(task.Inputs) != 1 || task.Inputs[0].OriginalName != "interview.wav" || task.Inputs[0].Kind != workitem.KindAudio {
		t.Fatalf("unexpected inputs %+v", task.Inputs)
	}

	select {
	case evt := <-sub.C():
		if evt.QueueItemID != item.ID {
			t.Fatalf("event for %q, want %q", evt.QueueItemID, item.ID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("item_processed never published")
	}
}

func TestQueuePairsDirectoryChildren(t *testing.T) {
	registry := pipeline.NewRegistry(pipeline.Options{})
	queue := newQueue(t, registry)

	dir := filepath.Join(t.TempDir(), "session")
	testsupport.WriteMonoWAV(t, filepath.Join(dir, "a.wav"))
	testsupport.WriteTranscript(t, filepath.Join(dir, "a.txt"), "hello there")
	testsupport.WriteMonoWAV(t, filepath.Join(dir, "b.wav"))
	testsupport.WriteTranscript(t, filepath.Join(dir, "notes.md"), "ignored")
	testsupport.WriteMonoWAV(t, filepath.Join(dir, ".hidden", "c.wav"))

	item, err := queue.Process(waitCtx(t), dir, "")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if item.Outcome.DirectoryID == 0 || len(item.Outcome.Created) != 2 {
		t.Fatalf("unexpected outcome %+v", item.Outcome)
	}
	d, err := registry.Directory(item.Outcome.DirectoryID)
	if err != nil {
		t.Fatalf("Directory: %v", err)
	}
	if d.Label != "session" || len(d.Members) != 2 {
		t.Fatalf("unexpected directory %+v", d)
	}
	first, err := registry.Task(d.Members[0])
	if err != nil {
		t.Fatalf("Task: %v", err)
	}
	if len(first.Inputs) != 2 {
		t.Fatalf("a.wav and a.txt should share a task, got %+v", first.Inputs)
	}
	second, err := registry.Task(d.Members[1])
	if err != nil {
		t.Fatalf("Task: %v", err)
	}
	if len(second.Inputs) != 1 || second.Inputs[0].OriginalName != "b.wav" {
		t.Fatalf("unexpected second task %+v", second.Inputs)
	}
}

func TestQueueCollapsesSingleTaskDirectory(t *testing.T) {
	registry := pipeline.NewRegistry(pipeline.Options{})
	queue := newQueue(t, registry)

	dir := filepath.Join(t.TempDir(), "solo")
	testsupport.WriteMonoWAV(t, filepath.Join(dir, "talk.wav"))
	testsupport.WriteTranscript(t, filepath.Join(dir, "talk.srt"), "1\n00:00:00,000 --> 00:00:01,000\nhi\n")

	item, err := queue.Process(waitCtx(t), dir, "")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if item.Outcome.DirectoryID != 0 || len(item.Outcome.Created) != 1 {
		t.Fatalf("expected a single top-level task, got %+v", item.Outcome)
	}
	rows := registry.Rows()
	if len(rows) != 1 || rows[0].Kind != pipeline.EntryTask {
		t.Fatalf("unexpected rows %+v", rows)
	}
}

func TestQueueMergesLaterTranscript(t *testing.T) {
	registry := pipeline.NewRegistry(pipeline.Options{})
	queue := newQueue(t, registry)
	base := t.TempDir()

	audio := filepath.Join(base, "lecture.wav")
	testsupport.WriteMonoWAV(t, audio)
	first, err := queue.Process(waitCtx(t), audio, "")
	if err != nil {
		t.Fatalf("Process audio: %v", err)
	}

	transcript := filepath.Join(base, "lecture.txt")
	testsupport.WriteTranscript(t, transcript, "welcome")
	second, err := queue.Process(waitCtx(t), transcript, "")
	if err != nil {
		t.Fatalf("Process transcript: %v", err)
	}
	if len(second.Outcome.Created) != 0 || len(second.Outcome.Merged) != 1 || second.Outcome.Merged[0] != first.Outcome.Created[0] {
		t.Fatalf("transcript should merge into the audio task, got %+v", second.Outcome)
	}
	if len(registry.Tasks()) != 1 {
		t.Fatalf("expected one task, got %d", len(registry.Tasks()))
	}
}

func TestQueueWaitsForSplitDecision(t *testing.T) {
	registry := pipeline.NewRegistry(pipeline.Options{})
	queue := newQueue(t, registry)

	path := filepath.Join(t.TempDir(), "call.wav")
	testsupport.WriteStereoWAV(t, path)

	item, err := queue.Process(waitCtx(t), path, workitem.SplitPending)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if item.Status != ingest.StatusWaitForSplit || item.Channels != 2 {
		t.Fatalf("expected wait_for_split with 2 channels, got %s/%d", item.Status, item.Channels)
	}
	if len(registry.Tasks()) != 0 {
		t.Fatal("nothing should be inserted before the split decision")
	}
	if _, err := queue.ResolveSplitDecision(item.ID, workitem.SplitPending); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("pending decision should be rejected, got %v", err)
	}

	if _, err := queue.ResolveSplitDecision(item.ID, workitem.SplitBoth); err != nil {
		t.Fatalf("ResolveSplitDecision: %v", err)
	}
	done, err := queue.Wait(waitCtx(t), item.ID)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if done.Status != ingest.StatusFinished || done.Outcome.DirectoryID == 0 || len(done.Outcome.Created) != 2 {
		t.Fatalf("unexpected outcome %s %+v", done.Status, done.Outcome)
	}
	d, err := registry.Directory(done.Outcome.DirectoryID)
	if err != nil {
		t.Fatalf("Directory: %v", err)
	}
	if d.Label != "call" {
		t.Fatalf("directory label = %q", d.Label)
	}
	task, err := registry.Task(d.Members[1])
	if err != nil {
		t.Fatalf("Task: %v", err)
	}
	if got := task.Inputs[0]; got.OriginalName != "call_ch2.wav" || got.Audio == nil || got.Audio.Channels != 1 {
		t.Fatalf("unexpected split item %+v", got)
	}

	if _, err := queue.ResolveSplitDecision(item.ID, workitem.SplitFirst); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("a finished item cannot be split again, got %v", err)
	}
}

func TestQueueSplitFirstChannel(t *testing.T) {
	registry := pipeline.NewRegistry(pipeline.Options{})
	queue := newQueue(t, registry)

	path := filepath.Join(t.TempDir(), "call.wav")
	testsupport.WriteStereoWAV(t, path)

	item, err := queue.Process(waitCtx(t), path, workitem.SplitFirst)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if item.Outcome.DirectoryID != 0 || len(item.Outcome.Created) != 1 {
		t.Fatalf("unexpected outcome %+v", item.Outcome)
	}
	task, err := registry.Task(item.Outcome.Created[0])
	if err != nil {
		t.Fatalf("Task: %v", err)
	}
	if task.Inputs[0].OriginalName != "call_ch1.wav" {
		t.Fatalf("unexpected input %+v", task.Inputs[0])
	}
}

func TestQueueRejectsInvalidFile(t *testing.T) {
	registry := pipeline.NewRegistry(pipeline.Options{})
	queue := newQueue(t, registry)
	sub := registry.Bus().Subscribe(func(e pipeline.Event) bool { return e.Type == pipeline.EventItemFailed })
	defer sub.Close()

	path := filepath.Join(t.TempDir(), "broken.wav")
	testsupport.WriteFile(t, path, 64)

	item, err := queue.Process(waitCtx(t), path, "")
	if !errors.Is(err, services.ErrClassification) || !errors.Is(err, services.ErrInvalidFormat) {
		t.Fatalf("expected classification error, got %v", err)
	}
	if item.Status != ingest.StatusError || item.Error == "" {
		t.Fatalf("unexpected item %+v", item)
	}
	if _, err := queue.Get(item.ID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("failed item should leave the queue, got %v", err)
	}
	select {
	case evt := <-sub.C():
		if evt.QueueItemID != item.ID || evt.Message == "" {
			t.Fatalf("unexpected event %+v", evt)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("item_failed never published")
	}
}

func TestQueueRemoveAndList(t *testing.T) {
	registry := pipeline.NewRegistry(pipeline.Options{})
	cfg := testsupport.NewConfig(t)
	queue, err := ingest.NewQueue(cfg, registry, nil)
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}

	base := t.TempDir()
	first, err := queue.Enqueue(filepath.Join(base, "one.wav"), "")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	second, err := queue.Enqueue(filepath.Join(base, "two.wav"), workitem.SplitBoth)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if first.Policy != workitem.SplitPending || second.Policy != workitem.SplitBoth {
		t.Fatalf("unexpected policies %s/%s", first.Policy, second.Policy)
	}
	if _, err := queue.Enqueue("  ", ""); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("empty path should be rejected, got %v", err)
	}

	removed, err := queue.Remove(first.ID)
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if removed.Status != ingest.StatusRemoved {
		t.Fatalf("status = %s", removed.Status)
	}
	if _, err := queue.Wait(waitCtx(t), first.ID); err != nil {
		t.Fatalf("Wait on removed item: %v", err)
	}

	items := queue.List()
	if len(items) != 2 || items[0].ID != first.ID || items[1].Status != ingest.StatusPending {
		t.Fatalf("unexpected list %+v", items)
	}
	if queue.Pending() != 1 {
		t.Fatalf("Pending() = %d", queue.Pending())
	}
	if _, err := queue.Remove("missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
