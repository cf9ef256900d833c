// Package stats computes the read-only task counters shown by status views.
package stats

import "scribe/internal/pipeline"

// Source lists every task, directory members included.
type Source interface {
	Tasks() []*pipeline.Task
}

// Snapshot is the task count per status bucket.
type Snapshot struct {
	Queued   int `json:"queued"`
	Waiting  int `json:"waiting"`
	Running  int `json:"running"`
	Finished int `json:"finished"`
	Errors   int `json:"errors"`
	Total    int `json:"total"`
}

// Compute buckets the tasks of source by status.
func Compute(source Source) Snapshot {
	var snap Snapshot
	for _, task := range source.Tasks() {
		snap.Total++
		switch task.Status {
		case pipeline.StatusQueued:
			snap.Queued++
		case pipeline.StatusPending, pipeline.StatusReady:
			snap.Waiting++
		case pipeline.StatusProcessing, pipeline.StatusUploading:
			snap.Running++
		case pipeline.StatusFinished:
			snap.Finished++
		case pipeline.StatusError:
			snap.Errors++
		}
	}
	return snap
}

// Active reports whether any task can still make progress without input.
func (s Snapshot) Active() int {
	return s.Queued + s.Running
}
