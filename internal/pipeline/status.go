package pipeline

import "strings"

// Status is shared by tasks, operations and rounds.
type Status string

const (
	StatusPending    Status = "pending"
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusUploading  Status = "uploading"
	StatusReady      Status = "ready"
	StatusSkipped    Status = "skipped"
	StatusFinished   Status = "finished"
	StatusError      Status = "error"
)

var allStatuses = []Status{
	StatusPending, StatusQueued, StatusProcessing, StatusUploading,
	StatusReady, StatusSkipped, StatusFinished, StatusError,
}

// Statuses returns every status in lifecycle order.
func Statuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// ParseStatus converts a string into a Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	for _, s := range allStatuses {
		if s == normalized {
			return s, true
		}
	}
	return "", false
}

// Terminal reports whether a round in this status is closed.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusError || s == StatusSkipped
}

// Running reports whether a non-interactive stage is executing.
func (s Status) Running() bool {
	return s == StatusProcessing || s == StatusUploading
}

// Done reports whether the pipeline can move past an operation in this status.
func (s Status) Done() bool {
	return s == StatusFinished || s == StatusSkipped
}

var roundTransitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusUploading, StatusReady, StatusSkipped},
	StatusReady:      {StatusProcessing, StatusUploading, StatusFinished, StatusError, StatusSkipped},
	StatusProcessing: {StatusFinished, StatusError},
	StatusUploading:  {StatusFinished, StatusError},
}

func canTransition(from, to Status) bool {
	for _, allowed := range roundTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
