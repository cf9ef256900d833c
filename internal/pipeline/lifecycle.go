package pipeline

import (
	"fmt"

	"scribe/internal/logging"
	"scribe/internal/workitem"
)

// Admission is a stage start granted by Admit.
type Admission struct {
	TaskID      int64
	OperationID int64
	Kind        StageKind
	Round       int
	Provider    string
	Interactive bool
	// Task is a snapshot taken at admission; executors read inputs and
	// sibling results from it.
	Task *Task
}

// Load reports the registry's current execution load.
type Load struct {
	Running   int  `json:"running"`
	Uploading bool `json:"uploading"`
}

// Load counts tasks with a running non-interactive stage.
func (r *Registry) Load() Load {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadLocked()
}

func (r *Registry) loadLocked() Load {
	var load Load
	for _, t := range r.tasks {
		if t.Status.Running() {
			load.Running++
		}
		if t.Status == StatusUploading {
			load.Uploading = true
		}
	}
	return load
}

// Admit starts the next stage of the first eligible task in registry order,
// provided fewer than limit tasks are running and none is uploading.
// Tasks whose remaining stages are all disabled are finished along the way.
func (r *Registry) Admit(limit int) (Admission, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	load := r.loadLocked()
	if load.Uploading || load.Running >= limit {
		return Admission{}, false
	}
	for _, t := range r.orderedTasksLocked() {
		if t.Stopped || (t.Status != StatusPending && t.Status != StatusQueued) {
			continue
		}
		idx, ok := t.NextRunnable()
		if !ok {
			r.finishLocked(t)
			continue
		}
		if !r.eligibleLocked(t, idx) {
			continue
		}
		return r.startLocked(t, idx), true
	}
	return Admission{}, false
}

func (r *Registry) eligibleLocked(t *Task, idx int) bool {
	op := t.Operations[idx]
	state := op.State()
	if op.Kind == StageUpload {
		audio, ok := t.Audio()
		return ok && audio.Available() && (state == StatusPending || state == StatusReady)
	}
	if _, ok := t.UploadResult(); !ok {
		return false
	}
	if op.Strategy().Interactive {
		return state == StatusPending
	}
	return state == StatusPending || state == StatusReady
}

func (r *Registry) startLocked(t *Task, idx int) Admission {
	now := r.now()
	r.skipDisabledLocked(t, idx)
	op := t.Operations[idx]
	strategy := op.Strategy()
	if strategy.Interactive {
		op.begin(StatusReady, now)
		r.publishOperation(t, op)
		r.setTaskStatusLocked(t, StatusReady)
	} else {
		op.begin(strategy.RunningStatus, now)
		r.publishOperation(t, op)
		r.setTaskStatusLocked(t, strategy.RunningStatus)
	}
	r.logger.Debug("stage admitted",
		logging.Int64(logging.FieldTaskID, t.ID),
		logging.Int64(logging.FieldOperationID, op.ID),
		logging.String(logging.FieldStage, op.Kind.String()),
		logging.Int(logging.FieldRound, len(op.Rounds)),
	)
	return Admission{
		TaskID:      t.ID,
		OperationID: op.ID,
		Kind:        op.Kind,
		Round:       len(op.Rounds),
		Provider:    op.Provider,
		Interactive: strategy.Interactive,
		Task:        t.Clone(),
	}
}

// skipDisabledLocked closes every disabled, not yet done operation before
// position limit with a skipped round.
func (r *Registry) skipDisabledLocked(t *Task, limit int) {
	now := r.now()
	for idx := 0; idx < limit && idx < len(t.Operations); idx++ {
		op := t.Operations[idx]
		if op.Enabled || op.State().Done() {
			continue
		}
		op.begin(StatusSkipped, now)
		r.publishOperation(t, op)
	}
}

// finishLocked skips the remaining disabled operations and marks t finished.
func (r *Registry) finishLocked(t *Task) {
	r.skipDisabledLocked(t, len(t.Operations))
	r.setTaskStatusLocked(t, StatusFinished)
}

// advanceLocked settles a task after one of its stages finished.
func (r *Registry) advanceLocked(t *Task) {
	if _, ok := t.NextRunnable(); !ok {
		r.finishLocked(t)
		return
	}
	r.setTaskStatusLocked(t, StatusQueued)
}

// CompleteOperation records a running stage's results and finishes its
// current round. A stage that produced nothing usable fails instead.
func (r *Registry) CompleteOperation(opID int64, results []workitem.Item, protocol string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, t, err := r.operationLocked(opID)
	if err != nil {
		return err
	}
	if op.Strategy().Interactive {
		return validationErr("complete", "%s is completed through the interactive hook", op.Kind)
	}
	if !op.State().Running() {
		return validationErr("complete", "operation %d is %s, not running", opID, op.State())
	}
	if msg := checkResults(results); msg != "" {
		r.logger.Warn("stage result rejected",
			logging.Int64(logging.FieldOperationID, opID),
			logging.String(logging.FieldStage, op.Kind.String()),
			logging.String("reason", msg),
		)
		return r.failLocked(t, op, msg)
	}
	cur := op.Current()
	cur.Results = workitem.CloneItems(results)
	cur.Protocol = protocol
	if err := op.changeState(StatusFinished, r.now()); err != nil {
		return err
	}
	r.publishOperation(t, op)
	r.advanceLocked(t)
	return nil
}

func checkResults(results []workitem.Item) string {
	if len(results) == 0 {
		return "stage produced no result"
	}
	for _, item := range results {
		if !item.Available() && !item.Online() {
			return fmt.Sprintf("result %q has neither a local payload nor a remote copy", item.Name)
		}
	}
	return ""
}

// FailOperation records message as the current round's protocol and moves
// the operation and its task to error.
func (r *Registry) FailOperation(opID int64, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, t, err := r.operationLocked(opID)
	if err != nil {
		return err
	}
	state := op.State()
	if !state.Running() && state != StatusReady {
		return validationErr("fail", "operation %d is %s, not running", opID, state)
	}
	return r.failLocked(t, op, message)
}

func (r *Registry) failLocked(t *Task, op *Operation, message string) error {
	cur := op.Current()
	cur.Protocol = message
	if err := op.changeState(StatusError, r.now()); err != nil {
		return err
	}
	r.publishOperation(t, op)
	r.setTaskStatusLocked(t, StatusError)
	return nil
}

// BeginInteractiveStage marks a ready interactive operation as in progress
// once its tool opens. The task stays ready.
func (r *Registry) BeginInteractiveStage(opID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, t, err := r.operationLocked(opID)
	if err != nil {
		return err
	}
	if !op.Strategy().Interactive {
		return validationErr("begin", "%s is not an interactive stage", op.Kind)
	}
	if op.State() != StatusReady {
		return validationErr("begin", "operation %d is %s, not ready", opID, op.State())
	}
	if err := op.changeState(StatusProcessing, r.now()); err != nil {
		return err
	}
	r.publishOperation(t, op)
	return nil
}

// CompleteInteractiveStage finishes an interactive operation with the item
// the user produced and lets the task continue.
func (r *Registry) CompleteInteractiveStage(opID int64, item workitem.Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, t, err := r.operationLocked(opID)
	if err != nil {
		return err
	}
	if !op.Strategy().Interactive {
		return validationErr("complete", "%s is not an interactive stage", op.Kind)
	}
	if state := op.State(); state != StatusReady && state != StatusProcessing {
		return validationErr("complete", "operation %d is %s; it must be ready or in progress", opID, state)
	}
	if msg := checkResults([]workitem.Item{item}); msg != "" {
		return validationErr("complete", "%s", msg)
	}
	cur := op.Current()
	cur.Results = []workitem.Item{item.Clone()}
	if err := op.changeState(StatusFinished, r.now()); err != nil {
		return err
	}
	r.publishOperation(t, op)
	r.advanceLocked(t)
	return nil
}

// RestartFailedOperation appends a ready round to the task's first failed
// operation, returns the task to pending and clears its stop flag. Earlier
// rounds stay untouched.
func (r *Registry) RestartFailedOperation(taskID int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[taskID]
	if !ok {
		return 0, registryErr("restart", "no task with id %d", taskID)
	}
	for _, op := range t.Operations {
		if op.State() != StatusError {
			continue
		}
		op.appendRound(StatusReady)
		r.publishOperation(t, op)
		t.Stopped = false
		if op.Strategy().Interactive && op.Enabled {
			r.setTaskStatusLocked(t, StatusReady)
		} else {
			r.setTaskStatusLocked(t, StatusPending)
		}
		r.logger.Info("failed operation restarted",
			logging.Int64(logging.FieldTaskID, t.ID),
			logging.Int64(logging.FieldOperationID, op.ID),
			logging.String(logging.FieldStage, op.Kind.String()),
			logging.Int(logging.FieldRound, len(op.Rounds)),
			logging.String(logging.FieldEventType, "operation_restarted"),
		)
		return op.ID, nil
	}
	return 0, validationErr("restart", "task %d has no failed operation", taskID)
}

// StopTask keeps the task from starting its next stage. An in-flight stage
// runs to completion.
func (r *Registry) StopTask(taskID int64) error {
	return r.setStopped(taskID, true)
}

// ResumeTask lets a stopped task be admitted again.
func (r *Registry) ResumeTask(taskID int64) error {
	return r.setStopped(taskID, false)
}

func (r *Registry) setStopped(taskID int64, stopped bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[taskID]
	if !ok {
		return registryErr("stop", "no task with id %d", taskID)
	}
	if t.Stopped == stopped {
		return nil
	}
	t.Stopped = stopped
	t.UpdatedAt = r.now()
	msg := "resumed"
	if stopped {
		msg = "stopped"
	}
	r.bus.Publish(Event{Type: EventTaskUpdated, TaskID: taskID, Status: t.Status, Message: msg})
	return nil
}

// SetOperationEnabled toggles one operation of one task on the user's behalf.
// Propagation runs for pending and queued tasks without a supplied
// transcript. Returns every change made.
func (r *Registry) SetOperationEnabled(taskID int64, kind StageKind, enabled bool) ([]Toggle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[taskID]
	if !ok {
		return nil, registryErr("toggle", "no task with id %d", taskID)
	}
	if !kind.Valid() {
		return nil, validationErr("toggle", "unknown stage %d", int(kind))
	}
	op := t.Operations[kind]
	if err := checkToggle(t, op, enabled); err != nil {
		return nil, err
	}
	propagate := (t.Status == StatusPending || t.Status == StatusQueued) && !t.TranscriptSupplied()
	changes := setEnabled(t, kind, enabled, true, propagate, r.policy)
	t.UpdatedAt = r.now()
	r.publishToggles(t, changes)
	r.settleReadyLocked(t)
	return changes, nil
}

// settleReadyLocked skips a waiting interactive operation that was just
// disabled and moves its task along.
func (r *Registry) settleReadyLocked(t *Task) {
	if t.Status != StatusReady {
		return
	}
	for _, op := range t.Operations {
		if op.Enabled || op.State() != StatusReady {
			continue
		}
		if err := op.changeState(StatusSkipped, r.now()); err == nil {
			r.publishOperation(t, op)
		}
	}
	for _, op := range t.Operations {
		state := op.State()
		if op.Enabled && op.Strategy().Interactive && (state == StatusReady || state == StatusProcessing) {
			return
		}
	}
	r.advanceLocked(t)
}

func checkToggle(t *Task, op *Operation, enabled bool) error {
	if t.Status == StatusFinished {
		return validationErr("toggle", "task %d already finished", t.ID)
	}
	if enabled {
		return nil
	}
	if op.Strategy().AlwaysEnabled {
		return validationErr("toggle", "%s cannot be disabled", op.Kind)
	}
	switch op.State() {
	case StatusFinished:
		return validationErr("toggle", "%s already finished in its current round", op.Kind)
	case StatusProcessing, StatusUploading:
		return validationErr("toggle", "%s is running", op.Kind)
	}
	return nil
}

// SetStageEnabled changes the default for kind and applies the toggle to
// every pending or queued task. Operations that already finished or are
// running are left alone.
func (r *Registry) SetStageEnabled(kind StageKind, enabled bool) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !kind.Valid() {
		return 0, validationErr("toggle", "unknown stage %d", int(kind))
	}
	if !enabled && StrategyFor(kind).AlwaysEnabled {
		return 0, validationErr("toggle", "%s cannot be disabled", kind)
	}
	setEnabled(r.template, kind, enabled, false, true, r.policy)
	r.bus.Publish(Event{Type: EventStageDefaults, Stage: kind.String(), Message: fmt.Sprintf("enabled=%t", enabled)})

	touched := 0
	for _, t := range r.orderedTasksLocked() {
		if t.Status != StatusPending && t.Status != StatusQueued {
			continue
		}
		supplied := t.TranscriptSupplied()
		if supplied && (kind == StageASR || kind == StageTranscription) {
			continue
		}
		op := t.Operations[kind]
		if op.UserToggled || checkToggle(t, op, enabled) != nil {
			continue
		}
		changes := setEnabled(t, kind, enabled, false, !supplied, r.policy)
		if len(changes) == 0 {
			continue
		}
		touched++
		t.UpdatedAt = r.now()
		r.publishToggles(t, changes)
	}
	return touched, nil
}

// StageDefaults returns the enable flag new tasks start with.
func (r *Registry) StageDefaults() [StageCount]bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out [StageCount]bool
	for idx, op := range r.template.Operations {
		out[idx] = op.Enabled
	}
	return out
}

// Providers returns the executor provider new operations record per stage.
func (r *Registry) Providers() map[StageKind]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[StageKind]string, StageCount)
	for _, op := range r.template.Operations {
		if op.Provider != "" {
			out[op.Kind] = op.Provider
		}
	}
	return out
}

// ReclaimInterrupted closes rounds left running by a previous process as
// failed. Interactive stages are left for the user. Returns the number of
// operations reclaimed.
func (r *Registry) ReclaimInterrupted(reason string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, t := range r.orderedTasksLocked() {
		for _, op := range t.Operations {
			if !op.State().Running() || op.Strategy().Interactive {
				continue
			}
			if err := r.failLocked(t, op, reason); err == nil {
				count++
			}
		}
	}
	return count
}
