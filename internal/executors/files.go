package executors

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"scribe/internal/fileutil"
	"scribe/internal/pipeline"
	"scribe/internal/services"
	"scribe/internal/services/whisperx"
	"scribe/internal/workitem"
)

func execErr(kind pipeline.StageKind, op, message string, err error) error {
	return services.Wrap(services.ErrExecution, kind.String(), op, message, err)
}

func fileURL(path string) string {
	return (&url.URL{Scheme: "file", Path: path}).String()
}

// localPath resolves item to a readable file: its Path, or a file:// URL.
func localPath(item workitem.Item) (string, bool) {
	if item.Available() && fileutil.Exists(item.Path) {
		return item.Path, true
	}
	u, err := url.Parse(item.URL)
	if err != nil || u.Scheme != "file" {
		return "", false
	}
	if !fileutil.Exists(u.Path) {
		return "", false
	}
	return u.Path, true
}

// fileItem describes a produced file as a stage result.
func fileItem(path string, kind workitem.Kind, originalName string) (workitem.Item, error) {
	hash, size, err := fileutil.HashFile(path)
	if err != nil {
		return workitem.Item{}, err
	}
	if originalName == "" {
		originalName = filepath.Base(path)
	}
	return workitem.Item{
		Name:         filepath.Base(path),
		OriginalName: originalName,
		Kind:         kind,
		Hash:         hash,
		Size:         size,
		Path:         path,
		URL:          fileURL(path),
	}, nil
}

// transcriptText returns the plain text of a transcript file. WhisperX JSON is
// flattened to its segment text.
func transcriptText(path string) (string, error) {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		if segments, err := whisperx.LoadSegments(path); err == nil && len(segments) > 0 {
			return whisperx.JoinText(segments), nil
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", fmt.Errorf("transcript %s is empty", filepath.Base(path))
	}
	return text, nil
}

// writeOutput stores content as name in the request's work directory.
func writeOutput(dir, name string, content []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("ensure work dir: %w", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
