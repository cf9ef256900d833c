package workitem

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"scribe/internal/logging"
	"scribe/internal/services"
)

// TranscriptExtensions lists the accepted transcript formats.
var TranscriptExtensions = []string{".txt", ".srt", ".vtt", ".textgrid", ".json", ".par", ".eaf", ".ctm", ".tei"}

// AudioExtensions lists the accepted audio formats.
var AudioExtensions = []string{".wav"}

// Options configures a Classifier.
type Options struct {
	// MaxHashBytes bounds full-content hashing; 0 hashes every payload.
	MaxHashBytes int64
	// WorkspaceDir receives split channel files.
	WorkspaceDir string
}

// Classifier turns dropped files into typed items.
type Classifier struct {
	opts   Options
	logger *slog.Logger
}

// NewClassifier constructs a classifier.
func NewClassifier(opts Options, logger *slog.Logger) *Classifier {
	return &Classifier{opts: opts, logger: logging.NewComponentLogger(logger, "classifier")}
}

// Supported reports whether name has an accepted extension.
func Supported(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return slices.Contains(AudioExtensions, ext) || slices.Contains(TranscriptExtensions, ext)
}

// Classify validates the file at path and returns it as a typed item.
// Multi-channel audio is returned as-is; callers check NeedsSplit.
func (c *Classifier) Classify(path string) (Item, error) {
	name := filepath.Base(path)
	info, err := os.Stat(path)
	if err != nil {
		return Item{}, services.Wrap(services.ErrClassification, "classify", name, "file is not readable", err)
	}
	if info.IsDir() {
		return Item{}, services.Wrap(services.ErrClassification, "classify", name, "expected a file, got a directory", nil)
	}

	ext := strings.ToLower(filepath.Ext(name))
	item := Item{OriginalName: name, Path: path}
	switch {
	case slices.Contains(AudioExtensions, ext):
		audio, err := ProbeWAV(path)
		if err != nil {
			return Item{}, invalidFormat(name, "audio validation failed", err)
		}
		item.Kind = KindAudio
		item.Audio = &audio
	case slices.Contains(TranscriptExtensions, ext):
		item.Kind = KindTranscript
	default:
		return Item{}, invalidFormat(name, fmt.Sprintf("unsupported extension %q", ext), nil)
	}

	hash, size, err := HashFile(path, name, c.opts.MaxHashBytes)
	if err != nil {
		return Item{}, services.Wrap(services.ErrClassification, "classify", name, "hash payload", err)
	}
	item.Hash = hash
	item.Size = size
	item.Name = SafeName(name, hash)

	c.logger.Debug("file classified",
		logging.String("file", name),
		logging.String("kind", string(item.Kind)),
		logging.String("hash", HashPrefix(hash)),
		logging.Int64("size_bytes", size),
	)
	return item, nil
}

// NeedsSplit reports whether item is multi-channel audio.
func NeedsSplit(item Item) bool {
	return item.Kind == KindAudio && item.Audio != nil && item.Audio.Channels > 1
}

func invalidFormat(name, message string, err error) error {
	if err != nil {
		return services.Wrap(services.ErrClassification, "classify", name, message, fmt.Errorf("%w: %w", services.ErrInvalidFormat, err))
	}
	return services.Wrap(services.ErrClassification, "classify", name, message, services.ErrInvalidFormat)
}
