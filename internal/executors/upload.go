package executors

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"scribe/internal/fileutil"
	"scribe/internal/pipeline"
	"scribe/internal/stage"
	"scribe/internal/workitem"
)

// LocalUpload copies a task's audio into the upload directory under its
// dedup-safe name and exposes it by file:// URL.
type LocalUpload struct {
	dir string
}

// NewLocalUpload creates an uploader writing into dir.
func NewLocalUpload(dir string) *LocalUpload {
	return &LocalUpload{dir: dir}
}

func (u *LocalUpload) Execute(ctx context.Context, req stage.Request) (stage.Result, error) {
	audio, ok := req.Audio()
	if !ok || !fileutil.Exists(audio.Path) {
		return stage.Result{}, execErr(pipeline.StageUpload, "upload", "task has no readable audio input", nil)
	}
	if err := ctx.Err(); err != nil {
		return stage.Result{}, err
	}

	name := workitem.SafeName(audio.OriginalName, audio.Hash)
	dest := filepath.Join(u.dir, name)
	digest, err := fileutil.CopyFileVerified(audio.Path, dest)
	if err != nil {
		return stage.Result{}, execErr(pipeline.StageUpload, "upload", "copy audio", err)
	}
	if workitem.IsDigest(audio.Hash) && !strings.EqualFold(digest, audio.Hash) {
		_ = os.Remove(dest)
		return stage.Result{}, execErr(pipeline.StageUpload, "upload",
			fmt.Sprintf("payload of %s changed since ingestion", audio.OriginalName), nil)
	}

	uploaded := audio.Clone()
	uploaded.Name = name
	uploaded.Path = dest
	uploaded.URL = fileURL(dest)
	if req.Logger != nil {
		req.Logger.Debug("audio uploaded", "source", audio.Path, "destination", dest)
	}
	return stage.Result{
		Items:    []workitem.Item{uploaded},
		Protocol: fmt.Sprintf("copied %s to %s (sha256 %s)", audio.OriginalName, dest, digest),
	}, nil
}

func (u *LocalUpload) HealthCheck(context.Context) stage.Health {
	if strings.TrimSpace(u.dir) == "" {
		return stage.Unhealthy("", "upload directory not configured")
	}
	if err := os.MkdirAll(u.dir, 0o755); err != nil {
		return stage.Unhealthy("", err.Error())
	}
	probe, err := os.CreateTemp(u.dir, ".probe-*")
	if err != nil {
		return stage.Unhealthy("", fmt.Sprintf("upload directory not writable: %v", err))
	}
	_ = probe.Close()
	_ = os.Remove(probe.Name())
	return stage.Healthy("")
}
