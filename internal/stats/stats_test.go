package stats_test

import (
	"testing"

	"scribe/internal/pipeline"
	"scribe/internal/stats"
)

type taskList []*pipeline.Task

func (l taskList) Tasks() []*pipeline.Task { return l }

func TestComputeBucketsStatuses(t *testing.T) {
	statuses := []pipeline.Status{
		pipeline.StatusPending, pipeline.StatusReady, pipeline.StatusQueued,
		pipeline.StatusProcessing, pipeline.StatusUploading,
		pipeline.StatusFinished, pipeline.StatusFinished, pipeline.StatusError,
	}
	var list taskList
	for idx, status := range statuses {
		list = append(list, &pipeline.Task{ID: int64(idx + 1), Status: status})
	}

	got := stats.Compute(list)
	want := stats.Snapshot{Queued: 1, Waiting: 2, Running: 2, Finished: 2, Errors: 1, Total: 8}
	if got != want {
		t.Fatalf("Compute = %+v, want %+v", got, want)
	}
	if got.Active() != 3 {
		t.Fatalf("Active = %d", got.Active())
	}
}

func TestComputeCountsDirectoryMembers(t *testing.T) {
	reg := pipeline.NewRegistry(pipeline.Options{})
	dir := reg.NewDirectory("session", "/in/session")
	a := reg.NewTask(nil)
	b := reg.NewTask(nil)
	if err := reg.AddDirectory(dir, []*pipeline.Task{a, b}); err != nil {
		t.Fatalf("AddDirectory: %v", err)
	}
	if err := reg.AddEntry(reg.NewTask(nil)); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}
	if got := stats.Compute(reg); got.Total != 3 || got.Waiting != 3 {
		t.Fatalf("Compute = %+v", got)
	}
}
