package executors

import (
	"context"
	"fmt"
	"os/exec"

	"scribe/internal/pipeline"
	"scribe/internal/services/whisperx"
	"scribe/internal/stage"
	"scribe/internal/workitem"
)

// ASR runs WhisperX speech recognition on the task's audio.
type ASR struct {
	svc *whisperx.Service
}

// NewASR wraps svc as the recognition executor.
func NewASR(svc *whisperx.Service) *ASR {
	return &ASR{svc: svc}
}

func (a *ASR) Execute(ctx context.Context, req stage.Request) (stage.Result, error) {
	audio, ok := req.Audio()
	if !ok {
		return stage.Result{}, execErr(pipeline.StageASR, "transcribe", "task has no audio input", nil)
	}
	source, ok := localPath(audio)
	if !ok {
		return stage.Result{}, execErr(pipeline.StageASR, "transcribe", "audio is not available locally", nil)
	}
	res, err := a.svc.Transcribe(ctx, source, req.Params.WorkDir, req.Params.Language)
	if err != nil {
		return stage.Result{}, execErr(pipeline.StageASR, "transcribe", "whisperx failed", err)
	}
	item, err := fileItem(res.JSONPath, workitem.KindTranscript, req.OutputName("asr", ".json"))
	if err != nil {
		return stage.Result{}, execErr(pipeline.StageASR, "transcribe", "read output", err)
	}
	return stage.Result{
		Items:    []workitem.Item{item},
		Protocol: fmt.Sprintf("whisperx model=%s language=%s chars=%d", a.svc.Model(), req.Params.Language, len(res.Text)),
	}, nil
}

func (a *ASR) HealthCheck(context.Context) stage.Health {
	return commandHealth(a.svc.Command())
}

// Alignment computes word timings for the newest transcript with WhisperX.
type Alignment struct {
	svc *whisperx.Service
}

// NewAlignment wraps svc as the alignment executor.
func NewAlignment(svc *whisperx.Service) *Alignment {
	return &Alignment{svc: svc}
}

func (a *Alignment) Execute(ctx context.Context, req stage.Request) (stage.Result, error) {
	audio, ok := req.Audio()
	if !ok {
		return stage.Result{}, execErr(pipeline.StageAlignment, "align", "task has no audio input", nil)
	}
	source, ok := localPath(audio)
	if !ok {
		return stage.Result{}, execErr(pipeline.StageAlignment, "align", "audio is not available locally", nil)
	}
	transcript, ok := req.Transcript()
	if !ok {
		return stage.Result{}, execErr(pipeline.StageAlignment, "align", "no transcript to align", nil)
	}
	transcriptPath, ok := localPath(transcript)
	if !ok {
		return stage.Result{}, execErr(pipeline.StageAlignment, "align",
			fmt.Sprintf("transcript %s is not available locally", transcript.OriginalName), nil)
	}
	var duration float64
	if audio.Audio != nil {
		duration = audio.Audio.Duration.Seconds()
	}
	res, err := a.svc.Align(ctx, source, transcriptPath, req.Params.WorkDir, req.Params.Language, duration)
	if err != nil {
		return stage.Result{}, execErr(pipeline.StageAlignment, "align", "whisperx failed", err)
	}
	item, err := fileItem(res.JSONPath, workitem.KindTranscript, req.OutputName("aligned", ".json"))
	if err != nil {
		return stage.Result{}, execErr(pipeline.StageAlignment, "align", "read output", err)
	}
	return stage.Result{
		Items:    []workitem.Item{item},
		Protocol: fmt.Sprintf("aligned %s against %s", transcript.OriginalName, audio.OriginalName),
	}, nil
}

func (a *Alignment) HealthCheck(context.Context) stage.Health {
	return commandHealth(a.svc.Command())
}

func commandHealth(command string) stage.Health {
	if _, err := exec.LookPath(command); err != nil {
		return stage.Unhealthy("", fmt.Sprintf("%s not found on PATH", command))
	}
	return stage.Healthy("")
}
