package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrClassification marks a dropped file or directory that cannot become
	// a work item. The ingestion queue drops the item and never retries it.
	ErrClassification = errors.New("classification error")
	// ErrInvalidFormat is wrapped together with ErrClassification when the
	// payload is neither valid audio nor a recognised transcript.
	ErrInvalidFormat = errors.New("invalid format")
	// ErrExecution marks a failed remote stage call. It is recorded into the
	// round protocol and never surfaces as a returned error from the core.
	ErrExecution = errors.New("operation execution error")
	// ErrRegistry marks a lookup of a task, directory, or operation id that
	// the registry does not hold.
	ErrRegistry = errors.New("registry error")
	// ErrDedupConflict marks an ambiguous merge target during ingestion.
	ErrDedupConflict = errors.New("dedup conflict")

	ErrExternalTool  = errors.New("external tool error")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of
// the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// ErrorDetails is the user-facing breakdown of a wrapped error.
type ErrorDetails struct {
	Kind    string
	Message string
	Hint    string
}

var markerKinds = []struct {
	marker error
	kind   string
	hint   string
}{
	{ErrInvalidFormat, "invalid_format", "Drop a PCM .wav file or a supported transcript format"},
	{ErrClassification, "classification", "Check the dropped file and ingest it again"},
	{ErrRegistry, "registry", "Refresh the task list; the entry no longer exists"},
	{ErrDedupConflict, "dedup_conflict", "Remove the duplicate task and ingest again"},
	{ErrExecution, "execution", "Inspect the round protocol and restart the failed operation"},
	{ErrValidation, "validation", "Check the request arguments"},
	{ErrConfiguration, "configuration", "Fix the configuration file and restart the daemon"},
	{ErrNotFound, "not_found", "Verify the id or path"},
	{ErrTimeout, "timeout", "Retry once the remote service is reachable"},
	{ErrExternalTool, "external_tool", "Check that the external tool is installed and on PATH"},
	{ErrTransient, "transient", "Retry the action"},
}

// Details extracts the marker kind and a remediation hint from err.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{}
	}
	details := ErrorDetails{Kind: "unknown", Message: strings.TrimSpace(err.Error())}
	for _, entry := range markerKinds {
		if errors.Is(err, entry.marker) {
			details.Kind = entry.kind
			details.Hint = entry.hint
			break
		}
	}
	return details
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
