package daemon

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"scribe/internal/api"
	"scribe/internal/logging"
	"scribe/internal/pipeline"
	"scribe/internal/services"
	"scribe/internal/stats"
	"scribe/internal/workitem"
)

// toolBase resolves the interactive tool URL configured per stage.
func (d *Daemon) toolBase(kind pipeline.StageKind) string {
	return d.cfg.Stage(kind.String()).ToolURL
}

// Entries returns the task list in display order.
func (d *Daemon) Entries() []api.Entry {
	return api.FromRegistry(d.registry, d.toolBase)
}

// Task returns one task with its operations.
func (d *Daemon) Task(id int64) (api.Task, error) {
	task, err := d.registry.Task(id)
	if err != nil {
		return api.Task{}, err
	}
	return api.FromTask(task, d.toolBase), nil
}

// Statistics counts tasks per status bucket.
func (d *Daemon) Statistics() api.Statistics {
	return api.FromStatistics(stats.Compute(d.registry))
}

// RemoveEntry deletes a task or a whole directory.
func (d *Daemon) RemoveEntry(id int64) error {
	if err := d.registry.RemoveEntry(id); err != nil {
		return err
	}
	d.logger.Info("entry removed", logging.Int64(logging.FieldTaskID, id))
	return nil
}

// RenameDirectory changes a directory's display label.
func (d *Daemon) RenameDirectory(id int64, label string) error {
	label = strings.TrimSpace(label)
	if label == "" {
		return services.Wrap(services.ErrValidation, "daemon", "rename", "label is required", nil)
	}
	if _, err := d.registry.Directory(id); err != nil {
		return err
	}
	return d.registry.ChangeEntry(id, pipeline.EntryChange{Label: &label})
}

// RestartTask opens a new round on the task's failed operation.
func (d *Daemon) RestartTask(id int64) (int64, error) {
	opID, err := d.registry.RestartFailedOperation(id)
	if err != nil {
		return 0, err
	}
	d.logger.Info("failed operation restarted",
		logging.Int64(logging.FieldTaskID, id),
		logging.Int64(logging.FieldOperationID, opID),
	)
	d.workflow.Wake()
	return opID, nil
}

// StopTask keeps a task from being admitted again.
func (d *Daemon) StopTask(id int64) error {
	return d.registry.StopTask(id)
}

// ResumeTask makes a stopped task eligible again.
func (d *Daemon) ResumeTask(id int64) error {
	if err := d.registry.ResumeTask(id); err != nil {
		return err
	}
	d.workflow.Wake()
	return nil
}

// ToggleOperation enables or disables one stage of a task and reports every
// flag the change propagated to.
func (d *Daemon) ToggleOperation(taskID int64, stage string, enabled bool) ([]api.ToggleChange, error) {
	kind, err := pipeline.ParseStageKind(stage)
	if err != nil {
		return nil, err
	}
	changes, err := d.registry.SetOperationEnabled(taskID, kind, enabled)
	if err != nil {
		return nil, err
	}
	return api.FromToggles(changes), nil
}

// ToggleStage changes the default for new tasks and for tasks that have not
// started yet.
func (d *Daemon) ToggleStage(stage string, enabled bool) (api.StageToggleResponse, error) {
	kind, err := pipeline.ParseStageKind(stage)
	if err != nil {
		return api.StageToggleResponse{}, err
	}
	touched, err := d.registry.SetStageEnabled(kind, enabled)
	if err != nil {
		return api.StageToggleResponse{}, err
	}
	return api.StageToggleResponse{Kind: kind.String(), Enabled: enabled, Touched: touched}, nil
}

// Ingest queues a file or directory. With Wait set the call returns once the
// item settled, including classification failures, or when ctx ends.
func (d *Daemon) Ingest(ctx context.Context, req api.IngestRequest) (api.IngestItem, error) {
	if err := api.Validate(req); err != nil {
		return api.IngestItem{}, err
	}
	var policy workitem.SplitPolicy
	if req.Split != "" {
		parsed, err := workitem.ParseSplitPolicy(req.Split)
		if err != nil {
			return api.IngestItem{}, err
		}
		policy = parsed
	}
	if !req.Wait {
		item, err := d.ingest.Enqueue(req.Path, policy)
		return api.FromIngestItem(item), err
	}
	item, err := d.ingest.Process(ctx, req.Path, policy)
	if err != nil && waitExpired(err) {
		// The caller stopped waiting; report the item as it stands.
		return api.FromIngestItem(item), nil
	}
	return api.FromIngestItem(item), err
}

// IngestList returns the ingestion queue.
func (d *Daemon) IngestList() []api.IngestItem {
	return api.FromIngestItems(d.ingest.List())
}

// IngestItem returns one ingestion queue entry.
func (d *Daemon) IngestItem(id string) (api.IngestItem, error) {
	item, err := d.ingest.Get(id)
	if err != nil {
		return api.IngestItem{}, err
	}
	return api.FromIngestItem(item), nil
}

// IngestRemove drops an ingestion queue entry that is not being processed.
func (d *Daemon) IngestRemove(id string) (api.IngestItem, error) {
	item, err := d.ingest.Remove(id)
	if err != nil {
		return api.IngestItem{}, err
	}
	return api.FromIngestItem(item), nil
}

// ResolveSplit answers a pending split decision.
func (d *Daemon) ResolveSplit(id string, req api.SplitRequest) (api.IngestItem, error) {
	if err := api.Validate(req); err != nil {
		return api.IngestItem{}, err
	}
	policy, err := workitem.ParseSplitPolicy(req.Policy)
	if err != nil {
		return api.IngestItem{}, err
	}
	item, err := d.ingest.ResolveSplitDecision(id, policy)
	if err != nil {
		return api.IngestItem{}, err
	}
	return api.FromIngestItem(item), nil
}

// BeginOperation records that the user opened an interactive tool.
func (d *Daemon) BeginOperation(opID int64) error {
	return d.registry.BeginInteractiveStage(opID)
}

// CompleteOperation finishes an interactive operation with the edited
// transcript, given as a local file or as a remote copy.
func (d *Daemon) CompleteOperation(opID int64, req api.CompleteRequest) error {
	if err := api.Validate(req); err != nil {
		return err
	}
	var item workitem.Item
	if req.Path != "" {
		abs, err := filepath.Abs(req.Path)
		if err != nil {
			return services.Wrap(services.ErrValidation, "daemon", "complete", "resolve path", err)
		}
		item, err = d.ingest.ClassifyResult(abs)
		if err != nil {
			return err
		}
	} else {
		name := strings.TrimSpace(req.Name)
		if name == "" {
			name = path.Base(strings.TrimRight(req.URL, "/"))
		}
		item = workitem.Item{Name: name, OriginalName: name, Kind: workitem.KindTranscript, URL: req.URL}
	}
	if item.Kind != workitem.KindTranscript {
		return services.Wrap(services.ErrValidation, "daemon", "complete", fmt.Sprintf("%s is not a transcript", item.Name), nil)
	}
	if req.URL != "" {
		item.URL = req.URL
	}
	if err := d.registry.CompleteInteractiveStage(opID, item); err != nil {
		return err
	}
	d.logger.Info("interactive operation completed",
		logging.Int64(logging.FieldOperationID, opID),
		logging.String("result", item.Name),
	)
	return nil
}

// Events returns registry events after since, optionally waiting for the
// next one.
func (d *Daemon) Events(ctx context.Context, since uint64, limit int, wait bool) ([]api.Event, uint64, error) {
	events, next, err := d.registry.Bus().Since(ctx, since, limit, wait)
	if err != nil {
		if waitExpired(err) {
			return []api.Event{}, since, nil
		}
		return nil, since, err
	}
	return api.FromEvents(events), next, nil
}

// Logs returns buffered log records. Tail returns the newest records when
// since is zero.
func (d *Daemon) Logs(ctx context.Context, since uint64, limit int, follow, tail bool) ([]api.LogEvent, uint64, error) {
	if d.logHub == nil {
		return nil, 0, nil
	}
	if tail && since == 0 && !follow {
		events, next := d.logHub.Tail(limit)
		return api.FromLogEvents(events), next, nil
	}
	events, next, err := d.logHub.Fetch(ctx, since, limit, follow)
	if err != nil {
		if waitExpired(err) {
			return api.FromLogEvents(events), next, nil
		}
		return nil, since, fmt.Errorf("fetch logs: %w", err)
	}
	return api.FromLogEvents(events), next, nil
}

// waitExpired reports whether a long poll ended because its caller gave up.
func waitExpired(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
