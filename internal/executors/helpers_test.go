package executors_test

import (
	"os"
	"path/filepath"
	"testing"

	"scribe/internal/fileutil"
	"scribe/internal/pipeline"
	"scribe/internal/stage"
	"scribe/internal/testsupport"
	"scribe/internal/workitem"
)

func wavInput(t *testing.T, dir, name string) workitem.Item {
	t.Helper()
	path := filepath.Join(dir, name)
	testsupport.WriteWAV(t, path, 1, 16000, 16, 1600)
	hash, size, err := fileutil.HashFile(path)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	info, err := workitem.ProbeWAV(path)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	return workitem.Item{
		Name: name, OriginalName: name, Kind: workitem.KindAudio,
		Hash: hash, Size: size, Path: path, Audio: &info,
	}
}

func textInput(t *testing.T, dir, name, content string) workitem.Item {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return workitem.Item{Name: name, OriginalName: name, Kind: workitem.KindTranscript, Hash: "h-" + name, Path: path}
}

func request(t *testing.T, kind pipeline.StageKind, params stage.Params, inputs ...workitem.Item) stage.Request {
	t.Helper()
	task := pipeline.NewRegistry(pipeline.Options{}).NewTask(inputs)
	return stage.Request{
		OperationID: task.Operations[kind].ID,
		Kind:        kind,
		Round:       1,
		Task:        task,
		Params:      params,
	}
}
