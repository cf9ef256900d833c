package pipeline

import (
	"context"
	"slices"
	"time"

	"scribe/internal/logging"
	"scribe/internal/workitem"
)

// TaskRecord is the persisted form of a task and its operations.
type TaskRecord struct {
	ID          int64             `json:"id"`
	DirectoryID int64             `json:"directory_id,omitempty"`
	Status      Status            `json:"status"`
	Stopped     bool              `json:"stopped,omitempty"`
	Inputs      []workitem.Item   `json:"inputs"`
	Operations  []OperationRecord `json:"operations"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// OperationRecord is the persisted form of an operation, with every round.
type OperationRecord struct {
	ID          int64       `json:"id"`
	TaskID      int64       `json:"task_id"`
	Kind        StageKind   `json:"kind"`
	Provider    string      `json:"provider,omitempty"`
	Enabled     bool        `json:"enabled"`
	UserToggled bool        `json:"user_toggled,omitempty"`
	Provenance  *Provenance `json:"provenance,omitempty"`
	Rounds      []Round     `json:"rounds"`
}

// DirectoryRecord is the persisted form of a directory. Membership and
// ordering live in the order rows.
type DirectoryRecord struct {
	ID        int64     `json:"id"`
	Label     string    `json:"label"`
	Path      string    `json:"path,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Snapshot is everything Restore needs to rebuild a registry.
type Snapshot struct {
	Tasks       []TaskRecord
	Directories []DirectoryRecord
	Order       []Row
}

// Persister stores registry state. Implementations must keep every round.
type Persister interface {
	SaveTask(ctx context.Context, rec TaskRecord) error
	RemoveTask(ctx context.Context, id int64) error
	SaveDirectory(ctx context.Context, rec DirectoryRecord) error
	RemoveDirectory(ctx context.Context, id int64) error
	SaveOrder(ctx context.Context, rows []Row) error
	LoadAll(ctx context.Context) (Snapshot, error)
	MaxIDs(ctx context.Context) (entryID, operationID int64, err error)
}

// TaskToRecord converts t into its persisted form.
func TaskToRecord(t *Task) TaskRecord {
	rec := TaskRecord{
		ID:          t.ID,
		DirectoryID: t.DirectoryID,
		Status:      t.Status,
		Stopped:     t.Stopped,
		Inputs:      workitem.CloneItems(t.Inputs),
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
		Operations:  make([]OperationRecord, len(t.Operations)),
	}
	for idx, op := range t.Operations {
		c := op.Clone()
		rec.Operations[idx] = OperationRecord{
			ID:          c.ID,
			TaskID:      c.TaskID,
			Kind:        c.Kind,
			Provider:    c.Provider,
			Enabled:     c.Enabled,
			UserToggled: c.UserToggled,
			Provenance:  c.Provenance,
			Rounds:      c.Rounds,
		}
	}
	return rec
}

// TaskFromRecord rebuilds a task from its persisted form.
func TaskFromRecord(rec TaskRecord) *Task {
	t := &Task{
		ID:          rec.ID,
		DirectoryID: rec.DirectoryID,
		Status:      rec.Status,
		Stopped:     rec.Stopped,
		Inputs:      workitem.CloneItems(rec.Inputs),
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
		Operations:  make([]*Operation, len(rec.Operations)),
	}
	for idx, o := range rec.Operations {
		op := &Operation{
			ID:          o.ID,
			TaskID:      o.TaskID,
			Kind:        o.Kind,
			Provider:    o.Provider,
			Enabled:     o.Enabled,
			UserToggled: o.UserToggled,
			Provenance:  o.Provenance,
			Rounds:      o.Rounds,
		}
		t.Operations[idx] = op.Clone()
	}
	return t
}

// DirectoryToRecord converts d into its persisted form.
func DirectoryToRecord(d *Directory) DirectoryRecord {
	return DirectoryRecord{ID: d.ID, Label: d.Label, Path: d.Path, CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt}
}

// Record returns the persisted form of the task with id.
func (r *Registry) Record(id int64) (TaskRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return TaskRecord{}, registryErr("record", "no task with id %d", id)
	}
	return TaskToRecord(t), nil
}

// DirectoryRecord returns the persisted form of the directory with id.
func (r *Registry) DirectoryRecord(id int64) (DirectoryRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.dirs[id]
	if !ok {
		return DirectoryRecord{}, registryErr("record", "no directory with id %d", id)
	}
	return DirectoryToRecord(d), nil
}

// Snapshot captures the whole registry.
func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := Snapshot{Order: r.rowsLocked()}
	for _, t := range r.orderedTasksLocked() {
		snap.Tasks = append(snap.Tasks, TaskToRecord(t))
	}
	for _, e := range r.entries {
		if e.Kind == EntryDirectory {
			snap.Directories = append(snap.Directories, DirectoryToRecord(r.dirs[e.ID]))
		}
	}
	return snap
}

// Restore loads snap into an empty registry. Tasks missing from the order
// rows are appended at top level; directories left with fewer than two
// members are collapsed. Restore publishes no events.
func (r *Registry) Restore(snap Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.tasks) > 0 || len(r.dirs) > 0 {
		return validationErr("restore", "registry already holds %d tasks", len(r.tasks))
	}

	tasks := make(map[int64]*Task, len(snap.Tasks))
	for _, rec := range snap.Tasks {
		t := TaskFromRecord(rec)
		if err := t.CheckInvariants(); err != nil {
			return validationErr("restore", "%v", err)
		}
		tasks[t.ID] = t
	}
	dirs := make(map[int64]*Directory, len(snap.Directories))
	for _, rec := range snap.Directories {
		dirs[rec.ID] = &Directory{ID: rec.ID, Label: rec.Label, Path: rec.Path, CreatedAt: rec.CreatedAt, UpdatedAt: rec.UpdatedAt}
	}

	placed := make(map[int64]bool, len(tasks))
	var entries []EntryRef
	for _, row := range snap.Order {
		switch {
		case row.Kind == EntryDirectory:
			if _, ok := dirs[row.ID]; ok {
				entries = append(entries, row.EntryRef)
			}
		case row.ParentID != 0:
			dir, ok := dirs[row.ParentID]
			t, found := tasks[row.ID]
			if !ok || !found || placed[t.ID] {
				continue
			}
			t.DirectoryID = dir.ID
			dir.Members = append(dir.Members, t.ID)
			placed[t.ID] = true
		default:
			t, found := tasks[row.ID]
			if !found || placed[t.ID] {
				continue
			}
			t.DirectoryID = 0
			entries = append(entries, row.EntryRef)
			placed[t.ID] = true
		}
	}
	for _, rec := range snap.Tasks {
		if !placed[rec.ID] {
			t := tasks[rec.ID]
			t.DirectoryID = 0
			entries = append(entries, EntryRef{Kind: EntryTask, ID: t.ID})
		}
	}

	r.entries = entries
	for _, t := range tasks {
		r.indexTaskLocked(t)
	}
	for _, rec := range snap.Directories {
		d := dirs[rec.ID]
		r.dirs[d.ID] = d
		ref := EntryRef{Kind: EntryDirectory, ID: d.ID}
		if len(d.Members) > 1 && !slices.Contains(r.entries, ref) {
			r.entries = append(r.entries, ref)
		}
	}
	for _, rec := range snap.Directories {
		if d := dirs[rec.ID]; len(d.Members) < 2 {
			r.collapseQuietLocked(d)
		}
	}
	r.logger.Info("registry restored",
		logging.Int("tasks", len(r.tasks)),
		logging.Int("directories", len(r.dirs)),
	)
	return nil
}

func (r *Registry) collapseQuietLocked(d *Directory) {
	pos := slices.Index(r.entries, EntryRef{Kind: EntryDirectory, ID: d.ID})
	delete(r.dirs, d.ID)
	switch {
	case pos < 0:
		for _, id := range d.Members {
			r.tasks[id].DirectoryID = 0
			r.entries = append(r.entries, EntryRef{Kind: EntryTask, ID: id})
		}
	case len(d.Members) == 1:
		r.tasks[d.Members[0]].DirectoryID = 0
		r.entries[pos] = EntryRef{Kind: EntryTask, ID: d.Members[0]}
	default:
		r.entries = slices.Delete(r.entries, pos, pos+1)
	}
}
