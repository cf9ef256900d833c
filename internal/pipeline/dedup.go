package pipeline

import (
	"errors"
	"fmt"
	"slices"

	"scribe/internal/logging"
	"scribe/internal/services"
	"scribe/internal/workitem"
)

// DirectorySpec names the directory an ingested batch arrived as.
type DirectorySpec struct {
	Label string
	Path  string
}

// IngestRequest is the classified output of one ingestion queue item. Each
// group becomes one task unless it merges into an existing one.
type IngestRequest struct {
	Directory *DirectorySpec
	Groups    [][]workitem.Item
}

var (
	errEmptyGroup    = errors.New("group has no items")
	errDuplicateKind = errors.New("group holds two items of the same kind")
)

// IngestOutcome lists what Ingest did with a request.
type IngestOutcome struct {
	Created     []int64 `json:"created,omitempty"`
	Merged      []int64 `json:"merged,omitempty"`
	DirectoryID int64   `json:"directory_id,omitempty"`
}

// Ingest deduplicates req against the registry and inserts what remains,
// atomically. A group whose item carries the same content as a task slot
// replaces that slot; a group whose item pairs with a task slot joins that
// task. Only tasks whose upload has not started are merge targets, and the
// oldest one wins.
func (r *Registry) Ingest(req IngestRequest) (IngestOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(req.Groups) == 0 {
		return IngestOutcome{}, validationErr("ingest", "nothing to ingest")
	}
	for idx, group := range req.Groups {
		if err := checkGroup(group); err != nil {
			return IngestOutcome{}, services.Wrap(services.ErrDedupConflict, "registry", "ingest",
				fmt.Sprintf("group %d", idx), err)
		}
	}

	var (
		outcome IngestOutcome
		created []*Task
	)
	for _, group := range req.Groups {
		if target := r.mergeTargetLocked(group, created); target != nil {
			r.mergeLocked(target, group)
			if !slices.Contains(outcome.Merged, target.ID) && !containsTask(created, target.ID) {
				outcome.Merged = append(outcome.Merged, target.ID)
			}
			continue
		}
		created = append(created, r.newTaskLocked(group))
	}

	for _, t := range created {
		outcome.Created = append(outcome.Created, t.ID)
	}
	if req.Directory != nil && len(created) > 1 {
		dir := r.newDirectoryLocked(req.Directory.Label, req.Directory.Path)
		if err := r.addDirectoryLocked(dir, created, len(r.entries)); err != nil {
			return outcome, err
		}
		outcome.DirectoryID = dir.ID
	} else {
		for _, t := range created {
			r.indexTaskLocked(t)
			r.entries = append(r.entries, EntryRef{Kind: EntryTask, ID: t.ID})
			r.publishTaskAdded(t)
		}
		if len(created) > 0 {
			r.publishOrder()
		}
	}
	r.logger.Info("ingest applied",
		logging.Int("created", len(outcome.Created)),
		logging.Int("merged", len(outcome.Merged)),
		logging.Int64(logging.FieldDirectoryID, outcome.DirectoryID),
		logging.String(logging.FieldEventType, "ingest_applied"),
	)
	return outcome, nil
}

func checkGroup(group []workitem.Item) error {
	if len(group) == 0 {
		return errEmptyGroup
	}
	seen := map[workitem.Kind]bool{}
	for _, item := range group {
		if seen[item.Kind] {
			return errDuplicateKind
		}
		seen[item.Kind] = true
	}
	return nil
}

func containsTask(tasks []*Task, id int64) bool {
	return slices.ContainsFunc(tasks, func(t *Task) bool { return t.ID == id })
}

// mergeTargetLocked returns the oldest mergeable task matching any item of
// group. Tasks created earlier in the same request are candidates too.
func (r *Registry) mergeTargetLocked(group []workitem.Item, created []*Task) *Task {
	var best *Task
	consider := func(t *Task) {
		if !mergeable(t) || (best != nil && best.ID <= t.ID) {
			return
		}
		for _, x := range group {
			if matches(t, x) {
				best = t
				return
			}
		}
	}
	for _, t := range r.tasks {
		consider(t)
	}
	for _, t := range created {
		consider(t)
	}
	return best
}

func mergeable(t *Task) bool {
	switch t.Operations[StageUpload].State() {
	case StatusPending, StatusError:
		return !t.Status.Running()
	}
	return false
}

func matches(t *Task, x workitem.Item) bool {
	for _, slot := range t.Inputs {
		if slot.SameContent(x) || slot.Pairs(x) {
			return true
		}
	}
	return false
}

// mergeLocked places every item of group into t, replacing the slot of the
// same kind or appending a new one.
func (r *Registry) mergeLocked(t *Task, group []workitem.Item) {
	for _, x := range group {
		idx := slices.IndexFunc(t.Inputs, func(slot workitem.Item) bool { return slot.Kind == x.Kind })
		if idx >= 0 {
			t.Inputs[idx] = x.Clone()
		} else {
			t.Inputs = append(t.Inputs, x.Clone())
		}
	}
	if _, indexed := r.tasks[t.ID]; !indexed {
		if t.TranscriptSupplied() {
			applyTranscriptSupplied(t)
		}
		return
	}
	r.resetUploadLocked(t)
	if t.TranscriptSupplied() {
		r.publishToggles(t, applyTranscriptSupplied(t))
	}
	t.UpdatedAt = r.now()
	r.bus.Publish(Event{Type: EventTaskUpdated, TaskID: t.ID, DirectoryID: t.DirectoryID, Message: "inputs merged"})
}
