package pipeline

import (
	"fmt"
	"net/url"
	"strings"

	"scribe/internal/services"
	"scribe/internal/workitem"
)

// StageKind identifies a pipeline stage. Its value is the stage's position in
// every task's operation array.
type StageKind int

const (
	StageUpload StageKind = iota
	StageASR
	StageTranscription
	StageAlignment
	StagePhonetic
	StageTranslation
	StageSummarization
)

// StageCount is the fixed length of a task's operation array.
const StageCount = int(StageSummarization) + 1

var stageNames = [StageCount]string{
	"upload", "asr", "transcription", "alignment", "phonetic", "translation", "summarization",
}

func (k StageKind) String() string {
	if k < 0 || int(k) >= StageCount {
		return fmt.Sprintf("stage(%d)", int(k))
	}
	return stageNames[k]
}

// Valid reports whether k names a pipeline stage.
func (k StageKind) Valid() bool {
	return k >= 0 && int(k) < StageCount
}

// ParseStageKind converts a stage name into its kind.
func ParseStageKind(value string) (StageKind, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for idx, name := range stageNames {
		if name == normalized {
			return StageKind(idx), nil
		}
	}
	return 0, services.Wrap(services.ErrValidation, "pipeline", "parse stage", fmt.Sprintf("unknown stage %q", value), nil)
}

// StageKinds lists every stage in pipeline order.
func StageKinds() []StageKind {
	kinds := make([]StageKind, StageCount)
	for i := range kinds {
		kinds[i] = StageKind(i)
	}
	return kinds
}

// URLBuilder resolves the location a stage exposes to later stages and to the
// interactive tool bridge. base is the configured tool URL, if any.
type URLBuilder func(task *Task, kind StageKind, base string) string

// Strategy is the per-kind behaviour table entry.
type Strategy struct {
	Kind           StageKind
	Label          string
	Interactive    bool
	RunningStatus  Status
	DefaultEnabled bool
	AlwaysEnabled  bool
	Rules          []Rule
	ResultURL      URLBuilder
}

var strategies = [StageCount]Strategy{
	{
		Kind: StageUpload, Label: "Upload",
		RunningStatus: StatusUploading, DefaultEnabled: true, AlwaysEnabled: true,
		ResultURL: resultURL,
	},
	{
		Kind: StageASR, Label: "Speech Recognition",
		RunningStatus: StatusProcessing, DefaultEnabled: true,
		Rules:     asrRules,
		ResultURL: resultURL,
	},
	{
		Kind: StageTranscription, Label: "Manual Transcription", Interactive: true,
		RunningStatus: StatusReady, DefaultEnabled: true,
		Rules:     transcriptionRules,
		ResultURL: toolURL,
	},
	{
		Kind: StageAlignment, Label: "Word Alignment",
		RunningStatus: StatusProcessing, DefaultEnabled: true,
		Rules:     alignmentRules,
		ResultURL: resultURL,
	},
	{
		Kind: StagePhonetic, Label: "Phonetic Detail", Interactive: true,
		RunningStatus: StatusReady,
		Rules:         phoneticRules,
		ResultURL:     toolURL,
	},
	{
		Kind: StageTranslation, Label: "Translation",
		RunningStatus: StatusProcessing,
		Rules:         downstreamRules,
		ResultURL:     resultURL,
	},
	{
		Kind: StageSummarization, Label: "Summarization",
		RunningStatus: StatusProcessing,
		Rules:         downstreamRules,
		ResultURL:     resultURL,
	},
}

// StrategyFor returns the behaviour table entry for kind.
func StrategyFor(kind StageKind) Strategy {
	return strategies[kind]
}

// resultURL exposes the remote location of the stage's latest finished result.
func resultURL(task *Task, kind StageKind, _ string) string {
	item, ok := task.Operations[kind].LastResult()
	if !ok {
		return ""
	}
	return item.URL
}

// toolURL builds the interactive tool link: the configured base with the
// uploaded audio and the most recent transcript attached as query parameters.
func toolURL(task *Task, kind StageKind, base string) string {
	if strings.TrimSpace(base) == "" {
		return resultURL(task, kind, base)
	}
	u, err := url.Parse(base)
	if err != nil {
		return ""
	}
	q := u.Query()
	if audio, ok := task.UploadResult(); ok && audio.URL != "" {
		q.Set("audio", audio.URL)
	}
	if transcript, ok := task.LatestTranscript(kind); ok {
		if transcript.URL != "" {
			q.Set("transcript", transcript.URL)
		} else if transcript.Path != "" {
			q.Set("transcript", "file://"+transcript.Path)
		}
	}
	q.Set("task", fmt.Sprint(task.ID))
	q.Set("operation", fmt.Sprint(task.Operations[kind].ID))
	u.RawQuery = q.Encode()
	return u.String()
}

// LatestTranscript returns the newest transcript available to the stage at
// kind: the nearest earlier finished stage result, else a supplied input.
func (t *Task) LatestTranscript(kind StageKind) (workitem.Item, bool) {
	for idx := int(kind) - 1; idx > int(StageUpload); idx-- {
		if item, ok := t.Operations[idx].LastResult(); ok {
			return item, true
		}
	}
	for _, input := range t.Inputs {
		if input.Kind == workitem.KindTranscript {
			return input, true
		}
	}
	return workitem.Item{}, false
}
