package stage_test

import (
	"context"
	"errors"
	"testing"

	"scribe/internal/pipeline"
	"scribe/internal/services"
	"scribe/internal/stage"
	"scribe/internal/workitem"
)

type unhealthy struct{ stage.ExecutorFunc }

func (unhealthy) HealthCheck(context.Context) stage.Health {
	return stage.Unhealthy("x", "binary missing")
}

func TestRegistryLookup(t *testing.T) {
	reg := stage.NewRegistry()
	called := false
	reg.Register(pipeline.StageASR, "WhisperX", stage.ExecutorFunc(func(context.Context, stage.Request) (stage.Result, error) {
		called = true
		return stage.Result{}, nil
	}))

	exec, err := reg.Lookup(pipeline.StageASR, " whisperx ")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if _, err := exec.Execute(context.Background(), stage.Request{}); err != nil || !called {
		t.Fatalf("executor not invoked: %v", err)
	}
	if _, err := reg.Lookup(pipeline.StageAlignment, "whisperx"); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestRegistryHealthIsOrderedByStage(t *testing.T) {
	reg := stage.NewRegistry()
	reg.Register(pipeline.StageSummarization, "llm", unhealthy{})
	reg.Register(pipeline.StageUpload, "local", stage.ExecutorFunc(nil))

	health := reg.Health(context.Background())
	if len(health) != 2 {
		t.Fatalf("health = %+v", health)
	}
	if health[0].Name != "upload/local" || !health[0].Ready {
		t.Fatalf("first = %+v", health[0])
	}
	if health[1].Name != "summarization/llm" || health[1].Ready || health[1].Detail != "binary missing" {
		t.Fatalf("second = %+v", health[1])
	}
}

func TestOutputNameSanitizesSuffix(t *testing.T) {
	task := &pipeline.Task{ID: 7, Inputs: []workitem.Item{{Name: "h.wav", OriginalName: "Board Call.wav", Kind: workitem.KindAudio}}}
	req := stage.Request{Task: task}
	if got := req.OutputName("Translation.PT BR", ".txt"); got != "Board Call.translation.pt_br.txt" {
		t.Fatalf("OutputName = %q", got)
	}
	empty := stage.Request{Task: &pipeline.Task{ID: 9}}
	if got := empty.OutputName("asr", ".json"); got != "task-9.asr.json" {
		t.Fatalf("OutputName = %q", got)
	}
}
