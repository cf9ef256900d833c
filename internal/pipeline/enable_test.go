package pipeline_test

import (
	"errors"
	"slices"
	"testing"

	"scribe/internal/pipeline"
	"scribe/internal/services"
	"scribe/internal/workitem"
)

func TestNewTaskUsesStageDefaults(t *testing.T) {
	r := newRegistry(t)
	task := addTask(t, r, audioItem("a.wav", "a"))
	want := []bool{true, true, true, true, false, false, false}
	if got := enabledSet(task); !slices.Equal(got, want) {
		t.Fatalf("enabled = %v, want %v", got, want)
	}
}

func TestASRExcludesManualPolicyDefault(t *testing.T) {
	defaults := pipeline.DefaultEnabled(nil, pipeline.Policy{ASRExcludesManual: true})
	if !defaults[pipeline.StageASR] || defaults[pipeline.StageTranscription] {
		t.Fatalf("defaults = %v", defaults)
	}
	explicit := pipeline.DefaultEnabled(map[pipeline.StageKind]bool{pipeline.StageTranscription: true}, pipeline.Policy{ASRExcludesManual: true})
	if !explicit[pipeline.StageTranscription] {
		t.Fatal("explicit configuration must win over the policy default")
	}
}

func TestDisableThenEnableRestoresEnabledSet(t *testing.T) {
	r := newRegistry(t)
	task := addTask(t, r, audioItem("a.wav", "a"))
	if _, err := r.SetStageEnabled(pipeline.StagePhonetic, true); err != nil {
		t.Fatalf("SetStageEnabled: %v", err)
	}
	before := enabledSet(mustTask(t, r, task.ID))
	if !before[pipeline.StagePhonetic] {
		t.Fatal("stage default should reach pending tasks")
	}

	changes, err := r.SetOperationEnabled(task.ID, pipeline.StageAlignment, false)
	if err != nil {
		t.Fatalf("disable alignment: %v", err)
	}
	if len(changes) != 2 {
		t.Fatalf("changes = %+v, want alignment and phonetic", changes)
	}
	if mustTask(t, r, task.ID).Operation(pipeline.StagePhonetic).Enabled {
		t.Fatal("phonetic detail needs alignment and should be disabled")
	}

	if _, err := r.SetOperationEnabled(task.ID, pipeline.StageAlignment, true); err != nil {
		t.Fatalf("enable alignment: %v", err)
	}
	if after := enabledSet(mustTask(t, r, task.ID)); !slices.Equal(after, before) {
		t.Fatalf("enabled set = %v, want %v", after, before)
	}
}

func TestToggleIsIdempotent(t *testing.T) {
	r := newRegistry(t)
	task := addTask(t, r, audioItem("a.wav", "a"))

	if _, err := r.SetOperationEnabled(task.ID, pipeline.StageAlignment, false); err != nil {
		t.Fatalf("first disable: %v", err)
	}
	first := enabledSet(mustTask(t, r, task.ID))
	changes, err := r.SetOperationEnabled(task.ID, pipeline.StageAlignment, false)
	if err != nil {
		t.Fatalf("second disable: %v", err)
	}
	if len(changes) != 0 {
		t.Fatalf("repeat toggle changed %+v", changes)
	}
	if second := enabledSet(mustTask(t, r, task.ID)); !slices.Equal(first, second) {
		t.Fatalf("enabled set drifted: %v vs %v", first, second)
	}
}

func TestTranscriptPathStaysViable(t *testing.T) {
	r := newRegistry(t)
	task := addTask(t, r, audioItem("a.wav", "a"))

	if _, err := r.SetStageEnabled(pipeline.StageASR, false); err != nil {
		t.Fatalf("disable asr: %v", err)
	}
	if _, err := r.SetStageEnabled(pipeline.StageTranscription, false); err != nil {
		t.Fatalf("disable transcription: %v", err)
	}
	got := mustTask(t, r, task.ID)
	if !got.Operation(pipeline.StageASR).Enabled && !got.Operation(pipeline.StageTranscription).Enabled {
		t.Fatal("at least one transcript-producing stage must stay enabled")
	}
	defaults := r.StageDefaults()
	if !defaults[pipeline.StageASR] && !defaults[pipeline.StageTranscription] {
		t.Fatalf("stage defaults lost the transcript path: %v", defaults)
	}
}

func TestUserToggleIsNotOverridden(t *testing.T) {
	r := newRegistry(t)
	task := addTask(t, r, audioItem("a.wav", "a"))

	if _, err := r.SetOperationEnabled(task.ID, pipeline.StagePhonetic, false); err != nil {
		t.Fatalf("pin phonetic: %v", err)
	}
	if _, err := r.SetStageEnabled(pipeline.StagePhonetic, true); err != nil {
		t.Fatalf("SetStageEnabled: %v", err)
	}
	if mustTask(t, r, task.ID).Operation(pipeline.StagePhonetic).Enabled {
		t.Fatal("global default overrode a per-task choice")
	}
}

func TestFinishedOperationCannotBeDisabled(t *testing.T) {
	r := newRegistry(t)
	task := addTask(t, r, audioItem("a.wav", "a"))
	runUpload(t, r)
	mustComplete(t, r, mustAdmit(t, r, 3, pipeline.StageASR), remoteItem("a.json", workitem.KindTranscript))

	_, err := r.SetOperationEnabled(task.ID, pipeline.StageASR, false)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	_, err = r.SetOperationEnabled(task.ID, pipeline.StageUpload, false)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("upload must stay enabled, got %v", err)
	}
	if !mustTask(t, r, task.ID).Operation(pipeline.StageASR).Enabled {
		t.Fatal("finished asr was disabled")
	}
}

func TestSuppliedTranscriptDisablesRecognition(t *testing.T) {
	r := newRegistry(t)
	task := addTask(t, r, audioItem("a.wav", "a"), transcriptItem("a.txt", "t"))
	if task.Operation(pipeline.StageASR).Enabled || task.Operation(pipeline.StageTranscription).Enabled {
		t.Fatalf("enabled = %v", enabledSet(task))
	}
	if _, err := r.SetStageEnabled(pipeline.StageASR, true); err != nil {
		t.Fatalf("SetStageEnabled: %v", err)
	}
	if mustTask(t, r, task.ID).Operation(pipeline.StageASR).Enabled {
		t.Fatal("stage defaults must skip tasks with a supplied transcript")
	}
}
