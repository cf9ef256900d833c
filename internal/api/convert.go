package api

import (
	"strings"
	"time"

	"scribe/internal/ingest"
	"scribe/internal/logging"
	"scribe/internal/pipeline"
	"scribe/internal/stage"
	"scribe/internal/stats"
	"scribe/internal/workitem"
)

// ToolBase returns the configured interactive tool URL for a stage kind.
// A nil ToolBase leaves interactive links to the bare result URL.
type ToolBase func(kind pipeline.StageKind) string

func (b ToolBase) of(kind pipeline.StageKind) string {
	if b == nil {
		return ""
	}
	return b(kind)
}

// EntrySource is the slice of the registry the entry converters read.
type EntrySource interface {
	Rows() []pipeline.Row
	Task(id int64) (*pipeline.Task, error)
	Directory(id int64) (*pipeline.Directory, error)
}

// FromItem converts a work item.
func FromItem(item workitem.Item) Item {
	dto := Item{
		Name:         item.Name,
		OriginalName: item.OriginalName,
		Kind:         string(item.Kind),
		Hash:         item.Hash,
		Size:         item.Size,
		Path:         item.Path,
		URL:          item.URL,
		Metadata:     item.Metadata,
	}
	if item.Audio != nil {
		dto.Channels = item.Audio.Channels
		dto.SampleRate = item.Audio.SampleRate
		dto.DurationSeconds = item.Audio.Duration.Seconds()
	}
	return dto
}

func fromItems(items []workitem.Item) []Item {
	if len(items) == 0 {
		return nil
	}
	out := make([]Item, 0, len(items))
	for _, item := range items {
		out = append(out, FromItem(item))
	}
	return out
}

// FromOperation converts one operation of task.
func FromOperation(task *pipeline.Task, op *pipeline.Operation, base ToolBase) Operation {
	strategy := op.Strategy()
	dto := Operation{
		ID:          op.ID,
		Kind:        op.Kind.String(),
		Label:       strategy.Label,
		Status:      string(op.State()),
		Enabled:     op.Enabled,
		UserToggled: op.UserToggled,
		Interactive: strategy.Interactive,
		Provider:    op.Provider,
		Rounds:      make([]Round, 0, len(op.Rounds)),
	}
	if op.Provenance != nil && !op.UserToggled {
		dto.PropagatedBy = op.Provenance.Rule
	}
	if strategy.ResultURL != nil {
		dto.ResultURL = strategy.ResultURL(task, op.Kind, base.of(op.Kind))
	}
	for idx, round := range op.Rounds {
		r := Round{
			Number:          idx + 1,
			Status:          string(round.Status),
			Protocol:        round.Protocol,
			Results:         fromItems(round.Results),
			StartedAt:       formatTime(round.StartedAt),
			DurationSeconds: round.Duration.Seconds(),
		}
		dto.Rounds = append(dto.Rounds, r)
	}
	return dto
}

// FromTask converts a task with its operations.
func FromTask(task *pipeline.Task, base ToolBase) Task {
	if task == nil {
		return Task{}
	}
	done, total := task.Progress()
	dto := Task{
		ID:          task.ID,
		DirectoryID: task.DirectoryID,
		Name:        task.DisplayName(),
		Status:      string(task.Status),
		Stopped:     task.Stopped,
		Progress:    Progress{Done: done, Total: total},
		Inputs:      fromItems(task.Inputs),
		Operations:  make([]Operation, 0, len(task.Operations)),
		CreatedAt:   formatTime(task.CreatedAt),
		UpdatedAt:   formatTime(task.UpdatedAt),
	}
	for _, op := range task.Operations {
		dto.Operations = append(dto.Operations, FromOperation(task, op, base))
	}
	return dto
}

// FromDirectory converts a directory and the members already converted.
func FromDirectory(dir *pipeline.Directory, members []Task) Directory {
	return Directory{
		ID:        dir.ID,
		Label:     dir.Label,
		Path:      dir.Path,
		Status:    DirectoryStatus(members),
		Members:   members,
		CreatedAt: formatTime(dir.CreatedAt),
		UpdatedAt: formatTime(dir.UpdatedAt),
	}
}

// DirectoryStatus summarizes member statuses: errors first, then running
// work, then anything waiting on the user.
func DirectoryStatus(members []Task) string {
	if len(members) == 0 {
		return string(pipeline.StatusPending)
	}
	counts := make(map[string]int, len(members))
	for _, m := range members {
		counts[m.Status]++
	}
	for _, status := range []pipeline.Status{
		pipeline.StatusError, pipeline.StatusUploading, pipeline.StatusProcessing,
		pipeline.StatusReady, pipeline.StatusQueued,
	} {
		if counts[string(status)] > 0 {
			return string(status)
		}
	}
	if counts[string(pipeline.StatusFinished)] == len(members) {
		return string(pipeline.StatusFinished)
	}
	return string(pipeline.StatusPending)
}

// FromRegistry converts the task list in display order. Entries removed
// between reads are skipped.
func FromRegistry(src EntrySource, base ToolBase) []Entry {
	rows := src.Rows()
	out := make([]Entry, 0, len(rows))
	for _, row := range rows {
		if row.ParentID != 0 {
			continue
		}
		switch row.Kind {
		case pipeline.EntryDirectory:
			dir, err := src.Directory(row.ID)
			if err != nil {
				continue
			}
			members := make([]Task, 0, len(dir.Members))
			for _, id := range dir.Members {
				task, err := src.Task(id)
				if err != nil {
					continue
				}
				members = append(members, FromTask(task, base))
			}
			d := FromDirectory(dir, members)
			out = append(out, Entry{Kind: string(row.Kind), ID: row.ID, Directory: &d})
		default:
			task, err := src.Task(row.ID)
			if err != nil {
				continue
			}
			t := FromTask(task, base)
			out = append(out, Entry{Kind: string(row.Kind), ID: row.ID, Task: &t})
		}
	}
	return out
}

// FromStatistics converts a statistics snapshot.
func FromStatistics(snap stats.Snapshot) Statistics {
	return Statistics(snap)
}

// FromStageHealth converts executor health reports.
func FromStageHealth(health []stage.Health) []StageHealth {
	out := make([]StageHealth, 0, len(health))
	for _, h := range health {
		out = append(out, StageHealth(h))
	}
	return out
}

// StageDefaults lists the per-stage defaults new tasks start with.
func StageDefaults(defaults [pipeline.StageCount]bool, providers map[pipeline.StageKind]string) []StageDefault {
	out := make([]StageDefault, 0, pipeline.StageCount)
	for _, kind := range pipeline.StageKinds() {
		strategy := pipeline.StrategyFor(kind)
		out = append(out, StageDefault{
			Kind:          kind.String(),
			Label:         strategy.Label,
			Enabled:       defaults[kind],
			AlwaysEnabled: strategy.AlwaysEnabled,
			Interactive:   strategy.Interactive,
			Provider:      providers[kind],
		})
	}
	return out
}

// FromToggles converts the flag changes of a toggle.
func FromToggles(changes []pipeline.Toggle) []ToggleChange {
	out := make([]ToggleChange, 0, len(changes))
	for _, c := range changes {
		out = append(out, ToggleChange{
			Kind:       c.Kind.String(),
			Enabled:    c.Enabled,
			Propagated: c.Propagated,
			Rule:       c.Rule,
		})
	}
	return out
}

// FromIngestItem converts an ingestion queue entry.
func FromIngestItem(item ingest.Item) IngestItem {
	return IngestItem{
		ID:          item.ID,
		Path:        item.Path,
		Status:      string(item.Status),
		SplitPolicy: string(item.Policy),
		Channels:    item.Channels,
		Error:       item.Error,
		Created:     item.Outcome.Created,
		Merged:      item.Outcome.Merged,
		DirectoryID: item.Outcome.DirectoryID,
		CreatedAt:   formatTime(item.CreatedAt),
		UpdatedAt:   formatTime(item.UpdatedAt),
	}
}

// FromIngestItems converts the ingestion queue.
func FromIngestItems(items []ingest.Item) []IngestItem {
	out := make([]IngestItem, 0, len(items))
	for _, item := range items {
		out = append(out, FromIngestItem(item))
	}
	return out
}

// FromEvents converts registry events.
func FromEvents(events []pipeline.Event) []Event {
	out := make([]Event, 0, len(events))
	for _, evt := range events {
		out = append(out, Event{
			Seq:         evt.Seq,
			Time:        formatTime(evt.Time),
			Type:        string(evt.Type),
			TaskID:      evt.TaskID,
			OperationID: evt.OperationID,
			DirectoryID: evt.DirectoryID,
			Stage:       evt.Stage,
			Status:      string(evt.Status),
			Message:     evt.Message,
			QueueItemID: evt.QueueItemID,
		})
	}
	return out
}

// FromLogEvents converts buffered log records.
func FromLogEvents(events []logging.LogEvent) []LogEvent {
	out := make([]LogEvent, 0, len(events))
	for _, evt := range events {
		out = append(out, LogEvent{
			Sequence:      evt.Sequence,
			Timestamp:     formatTime(evt.Timestamp),
			Level:         evt.Level,
			Message:       evt.Message,
			Component:     evt.Component,
			Stage:         evt.Stage,
			TaskID:        evt.TaskID,
			OperationID:   evt.OperationID,
			CorrelationID: evt.CorrelationID,
			Fields:        evt.Fields,
		})
	}
	return out
}

// FilterLogEvents keeps the records matching taskID and component. Zero
// values match everything.
func FilterLogEvents(events []LogEvent, taskID int64, component string) []LogEvent {
	component = strings.TrimSpace(component)
	if taskID == 0 && component == "" {
		return events
	}
	out := make([]LogEvent, 0, len(events))
	for _, evt := range events {
		if taskID != 0 && evt.TaskID != taskID {
			continue
		}
		if component != "" && !strings.EqualFold(component, evt.Component) {
			continue
		}
		out = append(out, evt)
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
