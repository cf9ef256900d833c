package pipeline

import (
	"fmt"
	"time"

	"scribe/internal/workitem"
)

// Task is one recording's pipeline instance. It exclusively owns its
// operations, one per stage, indexed by StageKind.
type Task struct {
	ID          int64
	DirectoryID int64
	Inputs      []workitem.Item
	Operations  []*Operation
	Status      Status
	Stopped     bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Operation returns the task's operation for kind.
func (t *Task) Operation(kind StageKind) *Operation {
	return t.Operations[kind]
}

// Previous returns the operation before position idx, or nil.
func (t *Task) Previous(idx int) *Operation {
	if idx <= 0 || idx > len(t.Operations) {
		return nil
	}
	return t.Operations[idx-1]
}

// Next returns the operation after position idx, or nil.
func (t *Task) Next(idx int) *Operation {
	if idx < -1 || idx+1 >= len(t.Operations) {
		return nil
	}
	return t.Operations[idx+1]
}

// NextRunnable returns the position of the first enabled operation that is
// neither finished nor skipped.
func (t *Task) NextRunnable() (int, bool) {
	for idx, op := range t.Operations {
		if op.Enabled && !op.State().Done() {
			return idx, true
		}
	}
	return -1, false
}

// TranscriptSupplied reports whether a transcript was supplied as an input.
func (t *Task) TranscriptSupplied() bool {
	for _, input := range t.Inputs {
		if input.Kind == workitem.KindTranscript {
			return true
		}
	}
	return false
}

// Audio returns the task's audio input.
func (t *Task) Audio() (workitem.Item, bool) {
	for _, input := range t.Inputs {
		if input.Kind == workitem.KindAudio {
			return input, true
		}
	}
	return workitem.Item{}, false
}

// UploadResult returns the finished upload's remote copy.
func (t *Task) UploadResult() (workitem.Item, bool) {
	item, ok := t.Operations[StageUpload].LastResult()
	if !ok || !item.Online() {
		return workitem.Item{}, false
	}
	return item, true
}

// DisplayName returns the original name of the primary input.
func (t *Task) DisplayName() string {
	if audio, ok := t.Audio(); ok {
		return audio.OriginalName
	}
	if len(t.Inputs) > 0 {
		return t.Inputs[0].OriginalName
	}
	return fmt.Sprintf("task-%d", t.ID)
}

// Progress returns how many enabled operations are done out of all enabled.
func (t *Task) Progress() (int, int) {
	done, total := 0, 0
	for _, op := range t.Operations {
		if !op.Enabled {
			continue
		}
		total++
		if op.State().Done() {
			done++
		}
	}
	return done, total
}

// CheckInvariants reports a violated structural invariant, or nil.
func (t *Task) CheckInvariants() error {
	if len(t.Operations) != StageCount {
		return fmt.Errorf("task %d has %d operations, want %d", t.ID, len(t.Operations), StageCount)
	}
	for idx, op := range t.Operations {
		if op.Kind != StageKind(idx) {
			return fmt.Errorf("task %d operation %d has kind %s", t.ID, idx, op.Kind)
		}
		if op.TaskID != t.ID {
			return fmt.Errorf("operation %d belongs to task %d, not %d", op.ID, op.TaskID, t.ID)
		}
	}
	if t.Status == StatusFinished {
		for _, op := range t.Operations {
			if op.Enabled && !op.State().Done() {
				return fmt.Errorf("task %d finished with %s in %s", t.ID, op.Kind, op.State())
			}
		}
	}
	return nil
}

// Clone returns a deep copy.
func (t *Task) Clone() *Task {
	out := *t
	out.Inputs = workitem.CloneItems(t.Inputs)
	out.Operations = make([]*Operation, len(t.Operations))
	for i, op := range t.Operations {
		out.Operations[i] = op.Clone()
	}
	return &out
}

// Directory groups tasks that originate from one split recording or dropped
// folder. Members are task ids in display order.
type Directory struct {
	ID        int64
	Label     string
	Path      string
	Members   []int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a copy.
func (d *Directory) Clone() *Directory {
	out := *d
	out.Members = append([]int64(nil), d.Members...)
	return &out
}
