package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Item describes an input file or a stage result.
type Item struct {
	Name            string            `json:"name"`
	OriginalName    string            `json:"originalName"`
	Kind            string            `json:"kind"`
	Hash            string            `json:"hash"`
	Size            int64             `json:"size"`
	Path            string            `json:"path,omitempty"`
	URL             string            `json:"url,omitempty"`
	Channels        int               `json:"channels,omitempty"`
	SampleRate      int               `json:"sampleRate,omitempty"`
	DurationSeconds float64           `json:"durationSeconds,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// Round is one attempt of an operation.
type Round struct {
	Number          int     `json:"number"`
	Status          string  `json:"status"`
	Protocol        string  `json:"protocol,omitempty"`
	Results         []Item  `json:"results,omitempty"`
	StartedAt       string  `json:"startedAt,omitempty"`
	DurationSeconds float64 `json:"durationSeconds,omitempty"`
}

// Operation is one pipeline stage of a task.
type Operation struct {
	ID          int64  `json:"id"`
	Kind        string `json:"kind"`
	Label       string `json:"label"`
	Status      string `json:"status"`
	Enabled     bool   `json:"enabled"`
	UserToggled bool   `json:"userToggled"`
	// PropagatedBy names the rule that last set Enabled, when it was not the user.
	PropagatedBy string  `json:"propagatedBy,omitempty"`
	Interactive  bool    `json:"interactive"`
	Provider     string  `json:"provider,omitempty"`
	ResultURL    string  `json:"resultUrl,omitempty"`
	Rounds       []Round `json:"rounds"`
}

// Progress counts finished enabled operations.
type Progress struct {
	Done  int `json:"done"`
	Total int `json:"total"`
}

// Task describes one recording's pipeline.
type Task struct {
	ID          int64       `json:"id"`
	DirectoryID int64       `json:"directoryId,omitempty"`
	Name        string      `json:"name"`
	Status      string      `json:"status"`
	Stopped     bool        `json:"stopped"`
	Progress    Progress    `json:"progress"`
	Inputs      []Item      `json:"inputs"`
	Operations  []Operation `json:"operations"`
	CreatedAt   string      `json:"createdAt,omitempty"`
	UpdatedAt   string      `json:"updatedAt,omitempty"`
}

// Directory groups tasks ingested together.
type Directory struct {
	ID        int64  `json:"id"`
	Label     string `json:"label"`
	Path      string `json:"path,omitempty"`
	Status    string `json:"status"`
	Members   []Task `json:"members"`
	CreatedAt string `json:"createdAt,omitempty"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

// Entry is one top-level row of the task list.
type Entry struct {
	Kind      string     `json:"kind"`
	ID        int64      `json:"id"`
	Task      *Task      `json:"task,omitempty"`
	Directory *Directory `json:"directory,omitempty"`
}

// EntryListResponse wraps the task list.
type EntryListResponse struct {
	Entries []Entry `json:"entries"`
}

// TaskResponse wraps a single task.
type TaskResponse struct {
	Task Task `json:"task"`
}

// Statistics counts tasks per status bucket.
type Statistics struct {
	Queued   int `json:"queued"`
	Waiting  int `json:"waiting"`
	Running  int `json:"running"`
	Finished int `json:"finished"`
	Errors   int `json:"errors"`
	Total    int `json:"total"`
}

// StageDefault reports what new tasks start with for one stage.
type StageDefault struct {
	Kind          string `json:"kind"`
	Label         string `json:"label"`
	Enabled       bool   `json:"enabled"`
	AlwaysEnabled bool   `json:"alwaysEnabled"`
	Interactive   bool   `json:"interactive"`
	Provider      string `json:"provider,omitempty"`
}

// StageHealth mirrors readiness reporting for stage executors.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// WorkflowStatus summarizes scheduler state.
type WorkflowStatus struct {
	Running     bool          `json:"running"`
	MaxRunning  int           `json:"maxRunning"`
	Active      int           `json:"active"`
	Uploading   bool          `json:"uploading"`
	LastError   string        `json:"lastError,omitempty"`
	LastTaskID  int64         `json:"lastTaskId,omitempty"`
	Statistics  Statistics    `json:"statistics"`
	StageHealth []StageHealth `json:"stageHealth"`
}

// DependencyStatus captures availability of an external dependency.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// CheckResult is one preflight check outcome.
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running       bool               `json:"running"`
	PID           int                `json:"pid"`
	DatabasePath  string             `json:"databasePath"`
	LockFilePath  string             `json:"lockFilePath"`
	SocketPath    string             `json:"socketPath"`
	WatchDir      string             `json:"watchDir,omitempty"`
	IngestPending int                `json:"ingestPending"`
	Workflow      WorkflowStatus     `json:"workflow"`
	Stages        []StageDefault     `json:"stages"`
	Dependencies  []DependencyStatus `json:"dependencies"`
	Checks        []CheckResult      `json:"checks,omitempty"`
}

// IngestItem describes an ingestion queue entry.
type IngestItem struct {
	ID          string  `json:"id"`
	Path        string  `json:"path"`
	Status      string  `json:"status"`
	SplitPolicy string  `json:"splitPolicy"`
	Channels    int     `json:"channels,omitempty"`
	Error       string  `json:"error,omitempty"`
	Created     []int64 `json:"created,omitempty"`
	Merged      []int64 `json:"merged,omitempty"`
	DirectoryID int64   `json:"directoryId,omitempty"`
	CreatedAt   string  `json:"createdAt,omitempty"`
	UpdatedAt   string  `json:"updatedAt,omitempty"`
}

// IngestListResponse wraps the ingestion queue.
type IngestListResponse struct {
	Items []IngestItem `json:"items"`
}

// IngestItemResponse wraps one ingestion queue entry.
type IngestItemResponse struct {
	Item IngestItem `json:"item"`
}

// ToggleChange is one enable flag change caused by a toggle.
type ToggleChange struct {
	Kind       string `json:"kind"`
	Enabled    bool   `json:"enabled"`
	Propagated bool   `json:"propagated"`
	Rule       string `json:"rule,omitempty"`
}

// ToggleResponse lists every flag a per-task toggle changed.
type ToggleResponse struct {
	Changes []ToggleChange `json:"changes"`
}

// StageToggleResponse reports a stage default change.
type StageToggleResponse struct {
	Kind    string `json:"kind"`
	Enabled bool   `json:"enabled"`
	Touched int    `json:"touched"`
}

// RestartResponse names the operation that received a new round.
type RestartResponse struct {
	OperationID int64 `json:"operationId"`
}

// Event is one registry transition.
type Event struct {
	Seq         uint64 `json:"seq"`
	Time        string `json:"time"`
	Type        string `json:"type"`
	TaskID      int64  `json:"taskId,omitempty"`
	OperationID int64  `json:"operationId,omitempty"`
	DirectoryID int64  `json:"directoryId,omitempty"`
	Stage       string `json:"stage,omitempty"`
	Status      string `json:"status,omitempty"`
	Message     string `json:"message,omitempty"`
	QueueItemID string `json:"queueItemId,omitempty"`
}

// EventsResponse carries events and the cursor to resume from.
type EventsResponse struct {
	Events []Event `json:"events"`
	Next   uint64  `json:"next"`
}

// LogEvent is a structured log record.
type LogEvent struct {
	Sequence      uint64            `json:"seq"`
	Timestamp     string            `json:"ts"`
	Level         string            `json:"level"`
	Message       string            `json:"msg"`
	Component     string            `json:"component,omitempty"`
	Stage         string            `json:"stage,omitempty"`
	TaskID        int64             `json:"taskId,omitempty"`
	OperationID   int64             `json:"operationId,omitempty"`
	CorrelationID string            `json:"correlationId,omitempty"`
	Fields        map[string]string `json:"fields,omitempty"`
}

// LogStreamResponse carries log events and the cursor to resume from.
type LogStreamResponse struct {
	Events []LogEvent `json:"events"`
	Next   uint64     `json:"next"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	Hint  string `json:"hint,omitempty"`
}
