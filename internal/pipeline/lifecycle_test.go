package pipeline_test

import (
	"errors"
	"testing"

	"scribe/internal/pipeline"
	"scribe/internal/services"
	"scribe/internal/workitem"
)

func TestTaskRunsDefaultPipelineToFinished(t *testing.T) {
	r := newRegistry(t)
	task := addTask(t, r, audioItem("interview.wav", "aaa"))

	upload := mustAdmit(t, r, 3, pipeline.StageUpload)
	if got := mustTask(t, r, task.ID).Status; got != pipeline.StatusUploading {
		t.Fatalf("status during upload = %s", got)
	}
	if _, ok := r.Admit(3); ok {
		t.Fatal("nothing may start while a task is uploading")
	}
	mustComplete(t, r, upload, remoteItem("interview.wav", workitem.KindAudio))
	if got := mustTask(t, r, task.ID).Status; got != pipeline.StatusQueued {
		t.Fatalf("status after upload = %s, want queued", got)
	}

	asr := mustAdmit(t, r, 3, pipeline.StageASR)
	mustComplete(t, r, asr, remoteItem("interview.asr.json", workitem.KindTranscript))

	manual := mustAdmit(t, r, 3, pipeline.StageTranscription)
	if !manual.Interactive {
		t.Fatal("manual transcription should be interactive")
	}
	if got := mustTask(t, r, task.ID).Status; got != pipeline.StatusReady {
		t.Fatalf("status while waiting for the user = %s, want ready", got)
	}
	if _, ok := r.Admit(3); ok {
		t.Fatal("a ready task must not be admitted again")
	}
	if err := r.BeginInteractiveStage(manual.OperationID); err != nil {
		t.Fatalf("BeginInteractiveStage: %v", err)
	}
	if load := r.Load(); load.Running != 0 {
		t.Fatalf("interactive work counted as running: %+v", load)
	}
	if err := r.CompleteInteractiveStage(manual.OperationID, transcriptItem("interview.txt", "bbb")); err != nil {
		t.Fatalf("CompleteInteractiveStage: %v", err)
	}

	align := mustAdmit(t, r, 3, pipeline.StageAlignment)
	mustComplete(t, r, align, remoteItem("interview.aligned.json", workitem.KindTranscript))

	final := mustTask(t, r, task.ID)
	if final.Status != pipeline.StatusFinished {
		t.Fatalf("final status = %s", final.Status)
	}
	for _, kind := range []pipeline.StageKind{pipeline.StagePhonetic, pipeline.StageTranslation, pipeline.StageSummarization} {
		if got := final.Operation(kind).State(); got != pipeline.StatusSkipped {
			t.Fatalf("%s state = %s, want skipped", kind, got)
		}
	}
	if err := final.CheckInvariants(); err != nil {
		t.Fatalf("finished task violates invariants: %v", err)
	}
	if done, total := final.Progress(); done != total || total != 4 {
		t.Fatalf("progress = %d/%d", done, total)
	}
}

func TestAdmitRespectsRunningLimit(t *testing.T) {
	r := newRegistry(t)
	addTask(t, r, audioItem("one.wav", "1"))
	second := addTask(t, r, audioItem("two.wav", "2"))

	runUpload(t, r)
	mustAdmit(t, r, 3, pipeline.StageASR)

	if _, ok := r.Admit(1); ok {
		t.Fatal("limit of one must block a second running task")
	}
	adm := mustAdmit(t, r, 2, pipeline.StageUpload)
	if adm.TaskID != second.ID {
		t.Fatalf("admitted task %d, want %d", adm.TaskID, second.ID)
	}
}

func TestFailedStageRestartKeepsEarlierRound(t *testing.T) {
	r := newRegistry(t)
	task := addTask(t, r, audioItem("lecture.wav", "abc"))
	runUpload(t, r)

	asr := mustAdmit(t, r, 3, pipeline.StageASR)
	if err := r.FailOperation(asr.OperationID, "service unavailable"); err != nil {
		t.Fatalf("FailOperation: %v", err)
	}
	if got := mustTask(t, r, task.ID).Status; got != pipeline.StatusError {
		t.Fatalf("status = %s, want error", got)
	}
	if _, ok := r.Admit(3); ok {
		t.Fatal("failed task must not be retried automatically")
	}

	opID, err := r.RestartFailedOperation(task.ID)
	if err != nil {
		t.Fatalf("RestartFailedOperation: %v", err)
	}
	if opID != asr.OperationID {
		t.Fatalf("restarted operation %d, want %d", opID, asr.OperationID)
	}
	if got := mustTask(t, r, task.ID).Status; got != pipeline.StatusPending {
		t.Fatalf("status after restart = %s, want pending", got)
	}

	retry := mustAdmit(t, r, 3, pipeline.StageASR)
	if retry.Round != 2 {
		t.Fatalf("retry round = %d, want 2", retry.Round)
	}
	mustComplete(t, r, retry, remoteItem("lecture.json", workitem.KindTranscript))

	op := mustTask(t, r, task.ID).Operation(pipeline.StageASR)
	if len(op.Rounds) != 2 {
		t.Fatalf("rounds = %d, want 2", len(op.Rounds))
	}
	if op.Rounds[0].Status != pipeline.StatusError || op.Rounds[0].Protocol != "service unavailable" {
		t.Fatalf("first round changed: %+v", op.Rounds[0])
	}
	if op.Rounds[1].Status != pipeline.StatusFinished {
		t.Fatalf("second round = %s", op.Rounds[1].Status)
	}
}

func TestRestartInteractiveStageWaitsForUser(t *testing.T) {
	r := newRegistry(t)
	task := addTask(t, r, audioItem("talk.wav", "t1"))
	runUpload(t, r)
	mustComplete(t, r, mustAdmit(t, r, 3, pipeline.StageASR), remoteItem("talk.json", workitem.KindTranscript))

	manual := mustAdmit(t, r, 3, pipeline.StageTranscription)
	if err := r.FailOperation(manual.OperationID, "editor crashed"); err != nil {
		t.Fatalf("FailOperation: %v", err)
	}
	if _, err := r.RestartFailedOperation(task.ID); err != nil {
		t.Fatalf("RestartFailedOperation: %v", err)
	}
	if got := mustTask(t, r, task.ID).Status; got != pipeline.StatusReady {
		t.Fatalf("status = %s, want ready", got)
	}
	if err := r.CompleteInteractiveStage(manual.OperationID, transcriptItem("talk.txt", "t2")); err != nil {
		t.Fatalf("CompleteInteractiveStage: %v", err)
	}
	if got := mustTask(t, r, task.ID).Status; got != pipeline.StatusQueued {
		t.Fatalf("status = %s, want queued", got)
	}
}

func TestStopAndResumeTask(t *testing.T) {
	r := newRegistry(t)
	task := addTask(t, r, audioItem("a.wav", "a"))

	if err := r.StopTask(task.ID); err != nil {
		t.Fatalf("StopTask: %v", err)
	}
	if _, ok := r.Admit(3); ok {
		t.Fatal("stopped task must not be admitted")
	}
	if err := r.ResumeTask(task.ID); err != nil {
		t.Fatalf("ResumeTask: %v", err)
	}
	mustAdmit(t, r, 3, pipeline.StageUpload)
}

func TestCompleteWithoutResultsFails(t *testing.T) {
	r := newRegistry(t)
	task := addTask(t, r, audioItem("a.wav", "a"))
	adm := mustAdmit(t, r, 3, pipeline.StageUpload)

	if err := r.CompleteOperation(adm.OperationID, nil, ""); err != nil {
		t.Fatalf("CompleteOperation: %v", err)
	}
	got := mustTask(t, r, task.ID)
	if got.Status != pipeline.StatusError {
		t.Fatalf("status = %s, want error", got.Status)
	}
	if proto := got.Operation(pipeline.StageUpload).Current().Protocol; proto == "" {
		t.Fatal("expected failure reason in protocol")
	}
}

func TestCompleteRejectsUnknownAndIdleOperations(t *testing.T) {
	r := newRegistry(t)
	task := addTask(t, r, audioItem("a.wav", "a"))

	err := r.CompleteOperation(9999, []workitem.Item{remoteItem("x", workitem.KindAudio)}, "")
	if !errors.Is(err, services.ErrRegistry) {
		t.Fatalf("expected registry error, got %v", err)
	}
	idle := task.Operation(pipeline.StageASR).ID
	err = r.CompleteOperation(idle, []workitem.Item{remoteItem("x", workitem.KindAudio)}, "")
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRemovedRunningTaskCompletionIsRejected(t *testing.T) {
	r := newRegistry(t)
	task := addTask(t, r, audioItem("a.wav", "a"))
	adm := mustAdmit(t, r, 3, pipeline.StageUpload)

	if err := r.RemoveEntry(task.ID); err != nil {
		t.Fatalf("RemoveEntry: %v", err)
	}
	err := r.CompleteOperation(adm.OperationID, []workitem.Item{remoteItem("a.wav", workitem.KindAudio)}, "")
	if !errors.Is(err, services.ErrRegistry) {
		t.Fatalf("expected registry error, got %v", err)
	}
}

func TestReclaimInterruptedMarksRunningRoundsFailed(t *testing.T) {
	r := newRegistry(t)
	task := addTask(t, r, audioItem("a.wav", "a"))
	mustAdmit(t, r, 3, pipeline.StageUpload)

	if n := r.ReclaimInterrupted("interrupted"); n != 1 {
		t.Fatalf("reclaimed %d operations, want 1", n)
	}
	got := mustTask(t, r, task.ID)
	if got.Status != pipeline.StatusError {
		t.Fatalf("status = %s", got.Status)
	}
	if cur := got.Operation(pipeline.StageUpload).Current(); cur.Status != pipeline.StatusError || cur.Protocol != "interrupted" {
		t.Fatalf("upload round = %+v", cur)
	}
}

func TestDisablingWaitingInteractiveStageAdvancesTask(t *testing.T) {
	r := newRegistry(t)
	task := addTask(t, r, audioItem("a.wav", "a"))
	runUpload(t, r)
	mustComplete(t, r, mustAdmit(t, r, 3, pipeline.StageASR), remoteItem("a.json", workitem.KindTranscript))
	mustAdmit(t, r, 3, pipeline.StageTranscription)

	if _, err := r.SetOperationEnabled(task.ID, pipeline.StageTranscription, false); err != nil {
		t.Fatalf("SetOperationEnabled: %v", err)
	}
	got := mustTask(t, r, task.ID)
	if got.Status != pipeline.StatusQueued {
		t.Fatalf("status = %s, want queued", got.Status)
	}
	if state := got.Operation(pipeline.StageTranscription).State(); state != pipeline.StatusSkipped {
		t.Fatalf("transcription state = %s, want skipped", state)
	}
	mustAdmit(t, r, 3, pipeline.StageAlignment)
}
