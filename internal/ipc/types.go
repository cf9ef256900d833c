package ipc

import "scribe/internal/api"

// StartRequest enables stage admission.
type StartRequest struct{}

// StartResponse reports whether admission was enabled.
type StartResponse struct {
	Started bool   `json:"started"`
	Message string `json:"message"`
}

// StopRequest pauses stage admission.
type StopRequest struct{}

// StopResponse acknowledges a stop.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// StatusRequest asks for the daemon status.
type StatusRequest struct{}

// StatusResponse carries the daemon status.
type StatusResponse struct {
	Status api.DaemonStatus `json:"status"`
}

// TaskListRequest asks for every top-level entry.
type TaskListRequest struct{}

// TaskListResponse lists tasks and directories in insertion order.
type TaskListResponse struct {
	Entries []api.Entry `json:"entries"`
}

// TaskRequest addresses one task or directory by id.
type TaskRequest struct {
	ID int64 `json:"id"`
}

// TaskResponse carries one task.
type TaskResponse struct {
	Task api.Task `json:"task"`
}

// Ack is the reply for actions without a payload.
type Ack struct {
	OK bool `json:"ok"`
}

// RestartResponse names the operation that received a new round.
type RestartResponse struct {
	OperationID int64 `json:"operationId"`
}

// TaskToggleRequest flips one operation of a task.
type TaskToggleRequest struct {
	ID      int64  `json:"id"`
	Stage   string `json:"stage"`
	Enabled bool   `json:"enabled"`
}

// TaskToggleResponse lists every flag the toggle changed.
type TaskToggleResponse struct {
	Changes []api.ToggleChange `json:"changes"`
}

// DirectoryRenameRequest relabels a directory.
type DirectoryRenameRequest struct {
	ID    int64  `json:"id"`
	Label string `json:"label"`
}

// StageToggleRequest changes a stage default.
type StageToggleRequest struct {
	Stage   string `json:"stage"`
	Enabled bool   `json:"enabled"`
}

// StageToggleResponse reports the stage default change.
type StageToggleResponse struct {
	Result api.StageToggleResponse `json:"result"`
}

// IngestRequest queues a file or directory.
type IngestRequest struct {
	Path  string `json:"path"`
	Split string `json:"split,omitempty"`
	Wait  bool   `json:"wait,omitempty"`
}

// IngestItemRequest addresses one ingestion queue entry.
type IngestItemRequest struct {
	ID string `json:"id"`
}

// IngestResponse carries one ingestion queue entry.
type IngestResponse struct {
	Item api.IngestItem `json:"item"`
}

// IngestListRequest asks for the ingestion queue.
type IngestListRequest struct{}

// IngestListResponse lists the ingestion queue.
type IngestListResponse struct {
	Items []api.IngestItem `json:"items"`
}

// SplitRequest resolves a pending split decision.
type SplitRequest struct {
	ID     string `json:"id"`
	Policy string `json:"policy"`
}

// OperationRequest addresses one operation.
type OperationRequest struct {
	ID int64 `json:"id"`
}

// CompleteRequest finishes an interactive operation.
type CompleteRequest struct {
	ID   int64  `json:"id"`
	Path string `json:"path,omitempty"`
	URL  string `json:"url,omitempty"`
	Name string `json:"name,omitempty"`
}

// StatsRequest asks for registry statistics.
type StatsRequest struct{}

// StatsResponse carries registry statistics.
type StatsResponse struct {
	Statistics api.Statistics `json:"statistics"`
}

// EventsRequest reads registry events after Since.
type EventsRequest struct {
	Since      uint64 `json:"since"`
	Limit      int    `json:"limit"`
	WaitMillis int    `json:"waitMillis"`
}

// EventsResponse carries registry events and the resume cursor.
type EventsResponse struct {
	Events []api.Event `json:"events"`
	Next   uint64      `json:"next"`
}

// LogTailRequest reads buffered log records.
type LogTailRequest struct {
	Since      uint64 `json:"since"`
	Limit      int    `json:"limit"`
	Follow     bool   `json:"follow"`
	Tail       bool   `json:"tail"`
	WaitMillis int    `json:"waitMillis"`
	TaskID     int64  `json:"taskId,omitempty"`
	Component  string `json:"component,omitempty"`
}

// LogTailResponse carries log records and the resume cursor.
type LogTailResponse struct {
	Events []api.LogEvent `json:"events"`
	Next   uint64         `json:"next"`
}
