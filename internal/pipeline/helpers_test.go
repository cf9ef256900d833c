package pipeline_test

import (
	"testing"

	"scribe/internal/pipeline"
	"scribe/internal/workitem"
)

func audioItem(name, hash string) workitem.Item {
	return workitem.Item{Name: name, OriginalName: name, Kind: workitem.KindAudio, Hash: hash, Path: "/incoming/" + name}
}

func transcriptItem(name, hash string) workitem.Item {
	return workitem.Item{Name: name, OriginalName: name, Kind: workitem.KindTranscript, Hash: hash, Path: "/incoming/" + name}
}

func remoteItem(name string, kind workitem.Kind) workitem.Item {
	return workitem.Item{Name: name, OriginalName: name, Kind: kind, URL: "https://store.example/" + name}
}

func newRegistry(t *testing.T) *pipeline.Registry {
	t.Helper()
	return pipeline.NewRegistry(pipeline.Options{})
}

func addTask(t *testing.T, r *pipeline.Registry, items ...workitem.Item) *pipeline.Task {
	t.Helper()
	task := r.NewTask(items)
	if err := r.AddEntry(task); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}
	return task
}

func mustTask(t *testing.T, r *pipeline.Registry, id int64) *pipeline.Task {
	t.Helper()
	task, err := r.Task(id)
	if err != nil {
		t.Fatalf("Task(%d): %v", id, err)
	}
	return task
}

func mustAdmit(t *testing.T, r *pipeline.Registry, limit int, want pipeline.StageKind) pipeline.Admission {
	t.Helper()
	adm, ok := r.Admit(limit)
	if !ok {
		t.Fatalf("expected %s to be admitted", want)
	}
	if adm.Kind != want {
		t.Fatalf("admitted %s, want %s", adm.Kind, want)
	}
	return adm
}

func mustComplete(t *testing.T, r *pipeline.Registry, adm pipeline.Admission, results ...workitem.Item) {
	t.Helper()
	if err := r.CompleteOperation(adm.OperationID, results, "ok"); err != nil {
		t.Fatalf("CompleteOperation(%s): %v", adm.Kind, err)
	}
}

// runUpload admits and finishes the upload of the first eligible task.
func runUpload(t *testing.T, r *pipeline.Registry) pipeline.Admission {
	t.Helper()
	adm := mustAdmit(t, r, 3, pipeline.StageUpload)
	mustComplete(t, r, adm, remoteItem("upload.wav", workitem.KindAudio))
	return adm
}

func enabledSet(task *pipeline.Task) []bool {
	out := make([]bool, len(task.Operations))
	for idx, op := range task.Operations {
		out[idx] = op.Enabled
	}
	return out
}
