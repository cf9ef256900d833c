package workitem

import (
	"maps"
	"path/filepath"
	"strings"
	"time"

	"scribe/internal/textutil"
)

// Kind is the declared media kind of an item.
type Kind string

const (
	KindAudio      Kind = "audio"
	KindTranscript Kind = "transcript"
)

// AudioInfo describes a validated WAV payload.
type AudioInfo struct {
	Channels      int           `json:"channels"`
	SampleRate    int           `json:"sample_rate"`
	BitsPerSample int           `json:"bits_per_sample"`
	Format        uint16        `json:"format"`
	DataBytes     int64         `json:"data_bytes"`
	Duration      time.Duration `json:"duration"`
}

// Item is one file artifact: an input dropped by the user or a stage result.
type Item struct {
	Name         string            `json:"name"`
	OriginalName string            `json:"original_name"`
	Kind         Kind              `json:"kind"`
	Hash         string            `json:"hash"`
	Size         int64             `json:"size"`
	Path         string            `json:"path,omitempty"`
	URL          string            `json:"url,omitempty"`
	Audio        *AudioInfo        `json:"audio,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Available reports whether the local payload is present.
func (i Item) Available() bool {
	return strings.TrimSpace(i.Path) != ""
}

// Online reports whether a remote copy exists.
func (i Item) Online() bool {
	return strings.TrimSpace(i.URL) != ""
}

// Extension returns the lowercase extension of the original name.
func (i Item) Extension() string {
	name := i.OriginalName
	if name == "" {
		name = i.Name
	}
	_, ext := textutil.SplitExt(name)
	return ext
}

// BaseName returns the original name without directory or extension.
func (i Item) BaseName() string {
	name := i.OriginalName
	if name == "" {
		name = i.Name
	}
	base, _ := textutil.SplitExt(filepath.Base(name))
	return base
}

// SameContent reports whether two items carry the same payload under the same
// declared name.
func (i Item) SameContent(other Item) bool {
	return i.Kind == other.Kind && i.Hash == other.Hash && i.OriginalName == other.OriginalName
}

// Pairs reports whether i and other are companion files of one recording:
// same base name, differing kinds, and not both WAV.
func (i Item) Pairs(other Item) bool {
	if i.Kind == other.Kind {
		return false
	}
	if i.Extension() == ".wav" && other.Extension() == ".wav" {
		return false
	}
	return strings.EqualFold(i.BaseName(), other.BaseName())
}

// Clone returns a deep copy.
func (i Item) Clone() Item {
	out := i
	if i.Audio != nil {
		audio := *i.Audio
		out.Audio = &audio
	}
	if i.Metadata != nil {
		out.Metadata = maps.Clone(i.Metadata)
	}
	return out
}

// CloneItems deep-copies a slice of items.
func CloneItems(items []Item) []Item {
	if items == nil {
		return nil
	}
	out := make([]Item, len(items))
	for idx, item := range items {
		out[idx] = item.Clone()
	}
	return out
}
