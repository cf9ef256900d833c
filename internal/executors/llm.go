package executors

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"scribe/internal/language"
	"scribe/internal/pipeline"
	"scribe/internal/services/llm"
	"scribe/internal/stage"
	"scribe/internal/workitem"
)

// Completer is the LLM surface the text stages need.
type Completer interface {
	Translate(ctx context.Context, transcript, target string) (string, error)
	Summarize(ctx context.Context, transcript, language string) (llm.Summary, error)
	Model() string
}

// Translation translates the newest transcript into the stage language.
type Translation struct {
	client Completer
	ready  bool
}

// NewTranslation creates a translation executor. ready reports whether the
// client has credentials.
func NewTranslation(client Completer, ready bool) *Translation {
	return &Translation{client: client, ready: ready}
}

func (t *Translation) Execute(ctx context.Context, req stage.Request) (stage.Result, error) {
	text, source, err := requestTranscript(req)
	if err != nil {
		return stage.Result{}, err
	}
	target := req.Params.Language
	if target == "" {
		return stage.Result{}, execErr(pipeline.StageTranslation, "translate", "no target language configured", nil)
	}
	translated, err := t.client.Translate(ctx, text, language.DisplayName(target))
	if err != nil {
		return stage.Result{}, execErr(pipeline.StageTranslation, "translate", "llm request failed", err)
	}
	tag := strings.ToLower(language.ToISO2(target))
	if tag == "" {
		tag = "translated"
	}
	name := req.OutputName("translation."+tag, ".txt")
	path, err := writeOutput(req.Params.WorkDir, name, []byte(translated+"\n"))
	if err != nil {
		return stage.Result{}, execErr(pipeline.StageTranslation, "translate", "write output", err)
	}
	item, err := fileItem(path, workitem.KindTranscript, name)
	if err != nil {
		return stage.Result{}, execErr(pipeline.StageTranslation, "translate", "read output", err)
	}
	item.Metadata = map[string]string{"language": language.ToISO3(target)}
	return stage.Result{
		Items:    []workitem.Item{item},
		Protocol: fmt.Sprintf("translated %s to %s with %s", source.OriginalName, target, t.client.Model()),
	}, nil
}

func (t *Translation) HealthCheck(context.Context) stage.Health {
	return credentialHealth(t.ready)
}

// Summarization writes a summary and keyword list of the newest transcript.
type Summarization struct {
	client Completer
	ready  bool
}

// NewSummarization creates a summarization executor.
func NewSummarization(client Completer, ready bool) *Summarization {
	return &Summarization{client: client, ready: ready}
}

type summaryFile struct {
	Source   string   `json:"source"`
	Model    string   `json:"model"`
	Summary  string   `json:"summary"`
	Keywords []string `json:"keywords,omitempty"`
}

func (s *Summarization) Execute(ctx context.Context, req stage.Request) (stage.Result, error) {
	text, source, err := requestTranscript(req)
	if err != nil {
		return stage.Result{}, err
	}
	var lang string
	if req.Params.Language != "" {
		lang = language.DisplayName(req.Params.Language)
	}
	summary, err := s.client.Summarize(ctx, text, lang)
	if err != nil {
		return stage.Result{}, execErr(pipeline.StageSummarization, "summarize", "llm request failed", err)
	}
	data, err := json.MarshalIndent(summaryFile{
		Source:   source.OriginalName,
		Model:    s.client.Model(),
		Summary:  summary.Summary,
		Keywords: summary.Keywords,
	}, "", "  ")
	if err != nil {
		return stage.Result{}, execErr(pipeline.StageSummarization, "summarize", "encode output", err)
	}
	name := req.OutputName("summary", ".json")
	path, err := writeOutput(req.Params.WorkDir, name, data)
	if err != nil {
		return stage.Result{}, execErr(pipeline.StageSummarization, "summarize", "write output", err)
	}
	item, err := fileItem(path, workitem.KindTranscript, name)
	if err != nil {
		return stage.Result{}, execErr(pipeline.StageSummarization, "summarize", "read output", err)
	}
	return stage.Result{
		Items:    []workitem.Item{item},
		Protocol: fmt.Sprintf("summarized %s with %s (%d keywords)", source.OriginalName, s.client.Model(), len(summary.Keywords)),
	}, nil
}

func (s *Summarization) HealthCheck(context.Context) stage.Health {
	return credentialHealth(s.ready)
}

func requestTranscript(req stage.Request) (string, workitem.Item, error) {
	transcript, ok := req.Transcript()
	if !ok {
		return "", workitem.Item{}, execErr(req.Kind, "read transcript", "no transcript available", nil)
	}
	path, ok := localPath(transcript)
	if !ok {
		return "", workitem.Item{}, execErr(req.Kind, "read transcript",
			fmt.Sprintf("transcript %s is not available locally", transcript.OriginalName), nil)
	}
	text, err := transcriptText(path)
	if err != nil {
		return "", workitem.Item{}, execErr(req.Kind, "read transcript", "", err)
	}
	return text, transcript, nil
}

func credentialHealth(ready bool) stage.Health {
	if !ready {
		return stage.Unhealthy("", "llm api_key not configured")
	}
	return stage.Healthy("")
}
