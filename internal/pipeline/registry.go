package pipeline

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"scribe/internal/logging"
	"scribe/internal/services"
	"scribe/internal/workitem"
)

// EntryKind distinguishes top-level registry entries.
type EntryKind string

const (
	EntryTask      EntryKind = "task"
	EntryDirectory EntryKind = "directory"
)

// EntryRef addresses a task or directory.
type EntryRef struct {
	Kind EntryKind `json:"kind"`
	ID   int64     `json:"id"`
}

// Row is one line of the flat index: a top-level entry or a directory member.
type Row struct {
	EntryRef
	ParentID int64 `json:"parent_id,omitempty"`
}

// Options configures a Registry.
type Options struct {
	EntryIDs     IDGenerator
	OperationIDs IDGenerator
	Bus          *EventBus
	Policy       Policy
	// Defaults overrides the built-in enable flag per stage.
	Defaults map[StageKind]bool
	// Providers names the executor provider recorded on new operations.
	Providers map[StageKind]string
	Now       func() time.Time
	Logger    *slog.Logger
}

// Registry is the authoritative collection of tasks and directories.
type Registry struct {
	mu sync.Mutex

	tasks   map[int64]*Task
	dirs    map[int64]*Directory
	ops     map[int64]*Operation
	entries []EntryRef

	template *Task

	entryIDs IDGenerator
	opIDs    IDGenerator
	bus      *EventBus
	policy   Policy
	now      func() time.Time
	logger   *slog.Logger
}

// NewRegistry constructs an empty registry.
func NewRegistry(opts Options) *Registry {
	if opts.EntryIDs == nil {
		opts.EntryIDs = NewSequence(0)
	}
	if opts.OperationIDs == nil {
		opts.OperationIDs = NewSequence(0)
	}
	if opts.Bus == nil {
		opts.Bus = NewEventBus(0)
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	r := &Registry{
		tasks:    make(map[int64]*Task),
		dirs:     make(map[int64]*Directory),
		ops:      make(map[int64]*Operation),
		entryIDs: opts.EntryIDs,
		opIDs:    opts.OperationIDs,
		bus:      opts.Bus,
		policy:   opts.Policy,
		now:      opts.Now,
		logger:   logging.NewComponentLogger(opts.Logger, "registry"),
	}
	defaults := DefaultEnabled(opts.Defaults, opts.Policy)
	r.template = &Task{Operations: make([]*Operation, StageCount)}
	for _, kind := range StageKinds() {
		r.template.Operations[kind] = &Operation{
			Kind:     kind,
			Enabled:  defaults[kind],
			Provider: opts.Providers[kind],
		}
	}
	return r
}

// Bus returns the registry's event bus.
func (r *Registry) Bus() *EventBus {
	return r.bus
}

// Policy returns the propagation policy.
func (r *Registry) Policy() Policy {
	return r.policy
}

func registryErr(operation string, format string, args ...any) error {
	return services.Wrap(services.ErrRegistry, "registry", operation, fmt.Sprintf(format, args...), nil)
}

func validationErr(operation string, format string, args ...any) error {
	return services.Wrap(services.ErrValidation, "registry", operation, fmt.Sprintf(format, args...), nil)
}

// NewTask constructs an unregistered task with fresh ids, cloning the stage
// templates. A supplied transcript disables recognition and manual
// transcription.
func (r *Registry) NewTask(inputs []workitem.Item) *Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.newTaskLocked(inputs)
}

func (r *Registry) newTaskLocked(inputs []workitem.Item) *Task {
	now := r.now()
	t := &Task{
		ID:         r.entryIDs.Next(),
		Inputs:     workitem.CloneItems(inputs),
		Operations: make([]*Operation, StageCount),
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for idx, tmpl := range r.template.Operations {
		t.Operations[idx] = &Operation{
			ID:       r.opIDs.Next(),
			TaskID:   t.ID,
			Kind:     tmpl.Kind,
			Provider: tmpl.Provider,
			Enabled:  tmpl.Enabled,
		}
	}
	if t.TranscriptSupplied() {
		applyTranscriptSupplied(t)
	}
	return t
}

// NewDirectory constructs an unregistered directory.
func (r *Registry) NewDirectory(label, path string) *Directory {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.newDirectoryLocked(label, path)
}

func (r *Registry) newDirectoryLocked(label, path string) *Directory {
	now := r.now()
	return &Directory{ID: r.entryIDs.Next(), Label: label, Path: path, CreatedAt: now, UpdatedAt: now}
}

// AddEntry appends a new task at top level.
func (r *Registry) AddEntry(t *Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkNewTaskLocked(t); err != nil {
		return err
	}
	t.DirectoryID = 0
	r.indexTaskLocked(t)
	r.entries = append(r.entries, EntryRef{Kind: EntryTask, ID: t.ID})
	r.publishTaskAdded(t)
	r.publishOrder()
	return nil
}

// AddDirectory registers dir with the given new member tasks at top level.
// A directory with fewer than two members is collapsed per the cleanup rule.
func (r *Registry) AddDirectory(dir *Directory, members []*Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addDirectoryLocked(dir, members, len(r.entries))
}

func (r *Registry) addDirectoryLocked(dir *Directory, members []*Task, position int) error {
	if dir == nil {
		return validationErr("add directory", "directory is nil")
	}
	if _, exists := r.dirs[dir.ID]; exists {
		return validationErr("add directory", "directory %d already registered", dir.ID)
	}
	for _, t := range members {
		if err := r.checkNewTaskLocked(t); err != nil {
			return err
		}
	}
	switch len(members) {
	case 0:
		return nil
	case 1:
		t := members[0]
		t.DirectoryID = 0
		r.indexTaskLocked(t)
		r.entries = slices.Insert(r.entries, position, EntryRef{Kind: EntryTask, ID: t.ID})
		r.publishTaskAdded(t)
		r.publishOrder()
		return nil
	}
	dir.Members = dir.Members[:0]
	r.dirs[dir.ID] = dir
	r.entries = slices.Insert(r.entries, position, EntryRef{Kind: EntryDirectory, ID: dir.ID})
	r.bus.Publish(Event{Type: EventDirectoryAdded, DirectoryID: dir.ID, Message: dir.Label})
	for _, t := range members {
		t.DirectoryID = dir.ID
		dir.Members = append(dir.Members, t.ID)
		r.indexTaskLocked(t)
		r.publishTaskAdded(t)
	}
	r.publishOrder()
	return nil
}

func (r *Registry) checkNewTaskLocked(t *Task) error {
	if t == nil {
		return validationErr("add task", "task is nil")
	}
	if _, exists := r.tasks[t.ID]; exists {
		return validationErr("add task", "task %d already registered", t.ID)
	}
	if err := t.CheckInvariants(); err != nil {
		return validationErr("add task", "%v", err)
	}
	return nil
}

func (r *Registry) indexTaskLocked(t *Task) {
	r.tasks[t.ID] = t
	for _, op := range t.Operations {
		r.ops[op.ID] = op
	}
}

func (r *Registry) unindexTaskLocked(t *Task) {
	delete(r.tasks, t.ID)
	for _, op := range t.Operations {
		delete(r.ops, op.ID)
	}
}

// InsertAt inserts a new task so that it occupies flat row index. A row
// inside a directory inserts the task into that directory.
func (r *Registry) InsertAt(index int, t *Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rows := r.rowsLocked()
	if index < 0 || index > len(rows) {
		return registryErr("insert", "row %d out of range (0..%d)", index, len(rows))
	}
	if err := r.checkNewTaskLocked(t); err != nil {
		return err
	}
	if index < len(rows) && rows[index].ParentID != 0 {
		dir := r.dirs[rows[index].ParentID]
		pos := slices.Index(dir.Members, rows[index].ID)
		t.DirectoryID = dir.ID
		dir.Members = slices.Insert(dir.Members, pos, t.ID)
		dir.UpdatedAt = r.now()
		r.indexTaskLocked(t)
		r.publishTaskAdded(t)
		r.bus.Publish(Event{Type: EventDirectoryUpdated, DirectoryID: dir.ID})
		r.publishOrder()
		return nil
	}
	pos := len(r.entries)
	if index < len(rows) {
		pos = slices.Index(r.entries, rows[index].EntryRef)
	}
	t.DirectoryID = 0
	r.indexTaskLocked(t)
	r.entries = slices.Insert(r.entries, pos, EntryRef{Kind: EntryTask, ID: t.ID})
	r.publishTaskAdded(t)
	r.publishOrder()
	return nil
}

// RemoveEntry removes a task or directory. Removing a directory removes its
// members; removing a directory member applies the directory cleanup rule.
func (r *Registry) RemoveEntry(id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if dir, ok := r.dirs[id]; ok {
		for _, memberID := range dir.Members {
			if t, ok := r.tasks[memberID]; ok {
				r.unindexTaskLocked(t)
				r.bus.Publish(Event{Type: EventTaskRemoved, TaskID: t.ID, DirectoryID: dir.ID})
			}
		}
		r.removeDirectoryLocked(dir)
		r.publishOrder()
		return nil
	}
	t, ok := r.tasks[id]
	if !ok {
		return registryErr("remove", "no task or directory with id %d", id)
	}
	r.unindexTaskLocked(t)
	r.bus.Publish(Event{Type: EventTaskRemoved, TaskID: t.ID, DirectoryID: t.DirectoryID})
	if t.DirectoryID == 0 {
		r.entries = slices.DeleteFunc(r.entries, func(e EntryRef) bool { return e.Kind == EntryTask && e.ID == id })
	} else if dir, ok := r.dirs[t.DirectoryID]; ok {
		dir.Members = slices.DeleteFunc(dir.Members, func(m int64) bool { return m == id })
		dir.UpdatedAt = r.now()
		r.cleanupDirectoryLocked(dir)
	}
	r.publishOrder()
	return nil
}

// cleanupDirectoryLocked removes empty directories and promotes the sole
// member of a single-entry directory to top level at the directory's row.
func (r *Registry) cleanupDirectoryLocked(dir *Directory) {
	switch len(dir.Members) {
	case 0:
		r.removeDirectoryLocked(dir)
	case 1:
		memberID := dir.Members[0]
		pos := slices.Index(r.entries, EntryRef{Kind: EntryDirectory, ID: dir.ID})
		if t, ok := r.tasks[memberID]; ok {
			t.DirectoryID = 0
			t.UpdatedAt = r.now()
			r.entries[pos] = EntryRef{Kind: EntryTask, ID: memberID}
			delete(r.dirs, dir.ID)
			r.bus.Publish(Event{Type: EventDirectoryRemoved, DirectoryID: dir.ID})
			r.bus.Publish(Event{Type: EventTaskUpdated, TaskID: memberID, Message: "promoted to top level"})
			return
		}
		r.removeDirectoryLocked(dir)
	default:
		r.bus.Publish(Event{Type: EventDirectoryUpdated, DirectoryID: dir.ID})
	}
}

func (r *Registry) removeDirectoryLocked(dir *Directory) {
	delete(r.dirs, dir.ID)
	r.entries = slices.DeleteFunc(r.entries, func(e EntryRef) bool { return e.Kind == EntryDirectory && e.ID == dir.ID })
	r.bus.Publish(Event{Type: EventDirectoryRemoved, DirectoryID: dir.ID})
}

// EntryChange describes an edit applied by ChangeEntry. Nil fields are kept.
type EntryChange struct {
	Inputs []workitem.Item
	Label  *string
}

// ChangeEntry replaces a task's inputs or a directory's label. Inputs can
// only change before the upload has finished.
func (r *Registry) ChangeEntry(id int64, change EntryChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if dir, ok := r.dirs[id]; ok {
		if change.Inputs != nil {
			return validationErr("change", "directory %d has no inputs", id)
		}
		if change.Label != nil {
			dir.Label = *change.Label
			dir.UpdatedAt = r.now()
			r.bus.Publish(Event{Type: EventDirectoryUpdated, DirectoryID: id})
		}
		return nil
	}
	t, ok := r.tasks[id]
	if !ok {
		return registryErr("change", "no task or directory with id %d", id)
	}
	if change.Label != nil {
		return validationErr("change", "task %d has no label", id)
	}
	if change.Inputs == nil {
		return nil
	}
	if err := checkGroup(change.Inputs); err != nil {
		return validationErr("change", "task %d inputs rejected: %v", id, err)
	}
	upload := t.Operations[StageUpload]
	switch upload.State() {
	case StatusPending, StatusError, StatusReady:
	default:
		return validationErr("change", "task %d inputs are locked once the upload is %s", id, upload.State())
	}
	t.Inputs = workitem.CloneItems(change.Inputs)
	r.resetUploadLocked(t)
	if t.TranscriptSupplied() {
		r.publishToggles(t, applyTranscriptSupplied(t))
	}
	t.UpdatedAt = r.now()
	r.bus.Publish(Event{Type: EventTaskUpdated, TaskID: id, Message: "inputs replaced"})
	return nil
}

// resetUploadLocked gives a failed upload a fresh pending round and returns
// the task to pending.
func (r *Registry) resetUploadLocked(t *Task) {
	upload := t.Operations[StageUpload]
	if upload.State() == StatusError {
		upload.appendRound(StatusPending)
		r.publishOperation(t, upload)
	}
	if t.Status == StatusError || t.Status == StatusQueued {
		r.setTaskStatusLocked(t, StatusPending)
	}
}

// Task returns a snapshot of the task with id.
func (r *Registry) Task(id int64) (*Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil, registryErr("lookup", "no task with id %d", id)
	}
	return t.Clone(), nil
}

// Directory returns a snapshot of the directory with id.
func (r *Registry) Directory(id int64) (*Directory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.dirs[id]
	if !ok {
		return nil, registryErr("lookup", "no directory with id %d", id)
	}
	return d.Clone(), nil
}

// OperationByID returns snapshots of the operation and its owning task.
func (r *Registry) OperationByID(id int64) (*Operation, *Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, t, err := r.operationLocked(id)
	if err != nil {
		return nil, nil, err
	}
	return op.Clone(), t.Clone(), nil
}

func (r *Registry) operationLocked(id int64) (*Operation, *Task, error) {
	op, ok := r.ops[id]
	if !ok {
		return nil, nil, registryErr("lookup", "no operation with id %d", id)
	}
	t, ok := r.tasks[op.TaskID]
	if !ok {
		return nil, nil, registryErr("lookup", "operation %d references missing task %d", id, op.TaskID)
	}
	return op, t, nil
}

// Tasks returns snapshots of every task in flat row order.
func (r *Registry) Tasks() []*Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	ordered := r.orderedTasksLocked()
	out := make([]*Task, len(ordered))
	for i, t := range ordered {
		out[i] = t.Clone()
	}
	return out
}

// Directories returns snapshots of every directory in entry order.
func (r *Registry) Directories() []*Directory {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Directory
	for _, e := range r.entries {
		if e.Kind == EntryDirectory {
			out = append(out, r.dirs[e.ID].Clone())
		}
	}
	return out
}

// Entries returns the top-level entry order.
func (r *Registry) Entries() []EntryRef {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.entries)
}

// Len returns the number of flat rows.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.entries)
	for _, dir := range r.dirs {
		n += len(dir.Members)
	}
	return n
}

// Rows returns the flat index: each directory row is followed by its members.
func (r *Registry) Rows() []Row {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rowsLocked()
}

// EntryAt returns the row at flat index.
func (r *Registry) EntryAt(index int) (Row, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rows := r.rowsLocked()
	if index < 0 || index >= len(rows) {
		return Row{}, registryErr("lookup", "row %d out of range (0..%d)", index, len(rows)-1)
	}
	return rows[index], nil
}

func (r *Registry) rowsLocked() []Row {
	rows := make([]Row, 0, len(r.entries))
	for _, e := range r.entries {
		rows = append(rows, Row{EntryRef: e})
		if e.Kind == EntryDirectory {
			for _, memberID := range r.dirs[e.ID].Members {
				rows = append(rows, Row{EntryRef: EntryRef{Kind: EntryTask, ID: memberID}, ParentID: e.ID})
			}
		}
	}
	return rows
}

func (r *Registry) orderedTasksLocked() []*Task {
	out := make([]*Task, 0, len(r.tasks))
	for _, e := range r.entries {
		switch e.Kind {
		case EntryTask:
			out = append(out, r.tasks[e.ID])
		case EntryDirectory:
			for _, memberID := range r.dirs[e.ID].Members {
				out = append(out, r.tasks[memberID])
			}
		}
	}
	return out
}

func (r *Registry) setTaskStatusLocked(t *Task, status Status) {
	if t.Status == status {
		return
	}
	t.Status = status
	t.UpdatedAt = r.now()
	r.bus.Publish(Event{Type: EventTaskStatus, TaskID: t.ID, DirectoryID: t.DirectoryID, Status: status})
}

func (r *Registry) publishTaskAdded(t *Task) {
	r.bus.Publish(Event{Type: EventTaskAdded, TaskID: t.ID, DirectoryID: t.DirectoryID, Status: t.Status, Message: t.DisplayName()})
}

func (r *Registry) publishOperation(t *Task, op *Operation) {
	evt := Event{Type: EventOperationStatus, TaskID: t.ID, OperationID: op.ID, DirectoryID: t.DirectoryID, Stage: op.Kind.String(), Status: op.State()}
	if cur := op.Current(); cur != nil && op.State() == StatusError {
		evt.Message = cur.Protocol
	}
	r.bus.Publish(evt)
}

func (r *Registry) publishToggles(t *Task, changes []Toggle) {
	for _, c := range changes {
		op := t.Operations[c.Kind]
		msg := "disabled"
		if c.Enabled {
			msg = "enabled"
		}
		if c.Propagated {
			msg += " by " + c.Rule
		}
		r.bus.Publish(Event{Type: EventOperationToggled, TaskID: t.ID, OperationID: op.ID, Stage: c.Kind.String(), Message: msg})
	}
}

func (r *Registry) publishOrder() {
	r.bus.Publish(Event{Type: EventOrderChanged})
}
