package executors

import (
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"scribe/internal/config"
	"scribe/internal/logging"
	"scribe/internal/pipeline"
	"scribe/internal/services/llm"
	"scribe/internal/services/whisperx"
	"scribe/internal/stage"
)

// Build registers the executor for every stage's configured provider.
// Interactive stages are skipped.
func Build(cfg *config.Config, logger *slog.Logger) *stage.Registry {
	logger = logging.NewComponentLogger(logger, "executors")
	reg := stage.NewRegistry()

	wx := whisperx.NewService(whisperx.Config{
		Command:     cfg.WhisperX.Command,
		Model:       cfg.WhisperX.Model,
		CUDAEnabled: cfg.WhisperX.CUDAEnabled,
		VADMethod:   cfg.WhisperX.VADMethod,
		HFToken:     cfg.WhisperX.HFToken,
	})
	settings := cfg.GetLLM()
	client := llm.NewClient(llm.Config{
		APIKey:         settings.APIKey,
		BaseURL:        settings.BaseURL,
		Model:          settings.Model,
		Referer:        settings.Referer,
		Title:          settings.Title,
		TimeoutSeconds: settings.TimeoutSeconds,
	}, llm.WithRetryMaxAttempts(settings.RetryAttempts))
	llmReady := settings.APIKey != ""

	for _, kind := range pipeline.StageKinds() {
		if pipeline.StrategyFor(kind).Interactive {
			continue
		}
		sc := cfg.Stage(kind.String())
		provider := strings.ToLower(strings.TrimSpace(sc.Provider))
		var exec stage.Executor
		switch {
		case provider == "http":
			exec = NewHTTP(kind, sc.Endpoint, &http.Client{})
		case kind == pipeline.StageUpload && provider == "local":
			exec = NewLocalUpload(filepath.Clean(cfg.Paths.UploadDir))
		case kind == pipeline.StageASR && provider == "whisperx":
			exec = NewASR(wx)
		case kind == pipeline.StageAlignment && provider == "whisperx":
			exec = NewAlignment(wx)
		case kind == pipeline.StageTranslation && provider == "llm":
			exec = NewTranslation(client, llmReady)
		case kind == pipeline.StageSummarization && provider == "llm":
			exec = NewSummarization(client, llmReady)
		default:
			logging.WarnWithContext(logger, "no executor for configured provider", "executor_missing",
				logging.String(logging.FieldStage, kind.String()),
				logging.String("provider", provider),
				logging.String(logging.FieldErrorHint, "set a supported provider under [stages."+kind.String()+"]"),
				logging.String(logging.FieldImpact, "operations of this stage fail when admitted"),
			)
			continue
		}
		reg.Register(kind, provider, exec)
	}
	return reg
}

// Providers returns the configured provider per stage, for new operations.
func Providers(cfg *config.Config) map[pipeline.StageKind]string {
	out := make(map[pipeline.StageKind]string, pipeline.StageCount)
	for _, kind := range pipeline.StageKinds() {
		out[kind] = strings.ToLower(strings.TrimSpace(cfg.Stage(kind.String()).Provider))
	}
	return out
}

// Defaults returns the stage enable overrides set in the configuration.
func Defaults(cfg *config.Config) map[pipeline.StageKind]bool {
	out := make(map[pipeline.StageKind]bool)
	for _, kind := range pipeline.StageKinds() {
		if enabled, ok := cfg.StageEnabled(kind.String()); ok {
			out[kind] = enabled
		}
	}
	return out
}

// RegistryOptions assembles the registry options the configuration implies.
func RegistryOptions(cfg *config.Config, logger *slog.Logger) pipeline.Options {
	return pipeline.Options{
		Policy:    pipeline.Policy{ASRExcludesManual: cfg.Pipeline.ASRExcludesManual},
		Defaults:  Defaults(cfg),
		Providers: Providers(cfg),
		Logger:    logger,
	}
}
