package ingest

import (
	"slices"
	"strings"
	"time"

	"scribe/internal/pipeline"
	"scribe/internal/workitem"
)

// Status tracks a queue item's progress.
type Status string

const (
	StatusPending      Status = "pending"
	StatusProcessing   Status = "processing"
	StatusWaitForSplit Status = "wait_for_split"
	StatusFinished     Status = "finished"
	StatusError        Status = "error"
	StatusRemoved      Status = "removed"
)

// ParseStatus converts a string into a Status.
func ParseStatus(value string) (Status, bool) {
	s := Status(strings.ToLower(strings.TrimSpace(value)))
	switch s {
	case StatusPending, StatusProcessing, StatusWaitForSplit, StatusFinished, StatusError, StatusRemoved:
		return s, true
	}
	return "", false
}

// Settled reports whether the worker is done with an item in this status,
// for now or for good.
func (s Status) Settled() bool {
	return s != StatusPending && s != StatusProcessing
}

// Item is one dropped path.
type Item struct {
	ID     string               `json:"id"`
	Path   string               `json:"path"`
	Status Status               `json:"status"`
	Policy workitem.SplitPolicy `json:"split_policy"`
	// Channels is the widest multi-channel recording found while waiting
	// for a split decision.
	Channels  int                    `json:"channels,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Outcome   pipeline.IngestOutcome `json:"outcome"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// Entries lists the registry ids the item produced or merged into.
func (i Item) Entries() []int64 {
	out := slices.Clone(i.Outcome.Created)
	out = append(out, i.Outcome.Merged...)
	if i.Outcome.DirectoryID != 0 {
		out = append(out, i.Outcome.DirectoryID)
	}
	return out
}

func (i Item) clone() Item {
	out := i
	out.Outcome.Created = slices.Clone(i.Outcome.Created)
	out.Outcome.Merged = slices.Clone(i.Outcome.Merged)
	return out
}
