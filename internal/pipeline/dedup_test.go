package pipeline_test

import (
	"errors"
	"testing"

	"scribe/internal/pipeline"
	"scribe/internal/services"
	"scribe/internal/workitem"
)

func ingest(t *testing.T, r *pipeline.Registry, req pipeline.IngestRequest) pipeline.IngestOutcome {
	t.Helper()
	out, err := r.Ingest(req)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	return out
}

func single(items ...workitem.Item) pipeline.IngestRequest {
	return pipeline.IngestRequest{Groups: [][]workitem.Item{items}}
}

func TestIngestSameContentTwiceYieldsOneTask(t *testing.T) {
	r := newRegistry(t)
	first := ingest(t, r, single(audioItem("memo.wav", "h1")))
	second := ingest(t, r, single(audioItem("memo.wav", "h1")))

	if len(first.Created) != 1 || len(second.Created) != 0 {
		t.Fatalf("created = %v then %v", first.Created, second.Created)
	}
	if len(second.Merged) != 1 || second.Merged[0] != first.Created[0] {
		t.Fatalf("merged = %v, want %v", second.Merged, first.Created)
	}
	if r.Len() != 1 {
		t.Fatalf("Len = %d, want 1", r.Len())
	}
}

func TestIngestTranscriptJoinsMatchingAudio(t *testing.T) {
	r := newRegistry(t)
	created := ingest(t, r, single(audioItem("memo.wav", "h1"))).Created[0]
	out := ingest(t, r, single(transcriptItem("memo.txt", "h2")))

	if len(out.Merged) != 1 || out.Merged[0] != created {
		t.Fatalf("merged = %v", out.Merged)
	}
	task := mustTask(t, r, created)
	if len(task.Inputs) != 2 {
		t.Fatalf("inputs = %d, want 2", len(task.Inputs))
	}
	if task.Operation(pipeline.StageTranscription).Enabled || task.Operation(pipeline.StageASR).Enabled {
		t.Fatal("a merged transcript should disable recognition and manual transcription")
	}
}

func TestIngestOldestCandidateWins(t *testing.T) {
	r := newRegistry(t)
	older := ingest(t, r, single(audioItem("take.wav", "v1"))).Created[0]
	newer := ingest(t, r, single(audioItem("take.wav", "v2"))).Created[0]
	if older == newer {
		t.Fatal("different payloads under one name must not merge")
	}
	out := ingest(t, r, single(transcriptItem("take.srt", "s1")))
	if len(out.Merged) != 1 || out.Merged[0] != older {
		t.Fatalf("merged = %v, want [%d]", out.Merged, older)
	}
}

func TestIngestSkipsTasksPastUpload(t *testing.T) {
	r := newRegistry(t)
	first := ingest(t, r, single(audioItem("memo.wav", "h1"))).Created[0]
	runUpload(t, r)

	out := ingest(t, r, single(audioItem("memo.wav", "h1")))
	if len(out.Created) != 1 || out.Created[0] == first {
		t.Fatalf("expected a new task, got %+v", out)
	}
}

func TestQueuedTaskKeepsItsInputs(t *testing.T) {
	r := newRegistry(t)
	first := ingest(t, r, single(audioItem("memo.wav", "h1"))).Created[0]
	runUpload(t, r)
	if got := mustTask(t, r, first).Status; got != pipeline.StatusQueued {
		t.Fatalf("status after upload = %s, want queued", got)
	}

	out := ingest(t, r, single(transcriptItem("memo.txt", "t1")))
	if len(out.Merged) != 0 {
		t.Fatalf("queued task must not take new inputs, merged = %v", out.Merged)
	}
	change := pipeline.EntryChange{Inputs: []workitem.Item{audioItem("other.wav", "h2")}}
	if err := r.ChangeEntry(first, change); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for queued task, got %v", err)
	}
}

func TestIngestResetsFailedUpload(t *testing.T) {
	r := newRegistry(t)
	id := ingest(t, r, single(audioItem("memo.wav", "h1"))).Created[0]
	adm := mustAdmit(t, r, 3, pipeline.StageUpload)
	if err := r.FailOperation(adm.OperationID, "disk full"); err != nil {
		t.Fatalf("FailOperation: %v", err)
	}

	out := ingest(t, r, single(audioItem("memo.wav", "h1")))
	if len(out.Merged) != 1 || out.Merged[0] != id {
		t.Fatalf("merged = %v", out.Merged)
	}
	task := mustTask(t, r, id)
	if task.Status != pipeline.StatusPending {
		t.Fatalf("status = %s, want pending", task.Status)
	}
	upload := task.Operation(pipeline.StageUpload)
	if len(upload.Rounds) != 2 || upload.State() != pipeline.StatusPending {
		t.Fatalf("upload rounds = %+v", upload.Rounds)
	}
}

func TestIngestDirectoryGroupsMembers(t *testing.T) {
	r := newRegistry(t)
	out := ingest(t, r, pipeline.IngestRequest{
		Directory: &pipeline.DirectorySpec{Label: "session", Path: "/incoming/session"},
		Groups: [][]workitem.Item{
			{audioItem("left.wav", "l"), transcriptItem("left.txt", "lt")},
			{audioItem("right.wav", "r")},
		},
	})
	if out.DirectoryID == 0 || len(out.Created) != 2 {
		t.Fatalf("outcome = %+v", out)
	}
	rows := r.Rows()
	if len(rows) != 3 || rows[0].Kind != pipeline.EntryDirectory || rows[1].ParentID != out.DirectoryID {
		t.Fatalf("rows = %+v", rows)
	}
	if mustTask(t, r, out.Created[0]).DirectoryID != out.DirectoryID {
		t.Fatal("member does not point at its directory")
	}
}

func TestIngestDirectoryCollapsesAfterMerge(t *testing.T) {
	r := newRegistry(t)
	existing := ingest(t, r, single(audioItem("a.wav", "a"))).Created[0]

	out := ingest(t, r, pipeline.IngestRequest{
		Directory: &pipeline.DirectorySpec{Label: "batch"},
		Groups: [][]workitem.Item{
			{audioItem("a.wav", "a")},
			{audioItem("b.wav", "b")},
		},
	})
	if out.DirectoryID != 0 {
		t.Fatalf("a directory with one new member must not be created: %+v", out)
	}
	if len(out.Merged) != 1 || out.Merged[0] != existing || len(out.Created) != 1 {
		t.Fatalf("outcome = %+v", out)
	}
	if len(r.Directories()) != 0 || r.Len() != 2 {
		t.Fatalf("rows = %+v", r.Rows())
	}
}

func TestIngestRejectsAmbiguousGroup(t *testing.T) {
	r := newRegistry(t)
	_, err := r.Ingest(single(audioItem("a.wav", "a"), audioItem("b.wav", "b")))
	if !errors.Is(err, services.ErrDedupConflict) {
		t.Fatalf("expected dedup conflict, got %v", err)
	}
	if r.Len() != 0 {
		t.Fatal("a rejected request must not insert anything")
	}
}
