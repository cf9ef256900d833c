package preflight

import (
	"context"
	"strings"

	"scribe/internal/config"
	"scribe/internal/executors"
	"scribe/internal/pipeline"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
// Remote checks only run for stages that new tasks start with enabled.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckDirectoryAccess("Upload directory", cfg.Paths.UploadDir),
		CheckDirectoryAccess("Workspace directory", cfg.Paths.WorkspaceDir),
	}
	if strings.TrimSpace(cfg.Ingest.WatchDir) != "" {
		results = append(results, CheckDirectoryAccess("Watch directory", cfg.Ingest.WatchDir))
	}

	enabled := EnabledStages(cfg)
	llmChecked := false
	for _, kind := range pipeline.StageKinds() {
		if !enabled[kind] {
			continue
		}
		sc := cfg.Stage(kind.String())
		switch strings.ToLower(strings.TrimSpace(sc.Provider)) {
		case "llm":
			// Translation and summarization share one endpoint.
			if llmChecked {
				continue
			}
			llmChecked = true
			results = append(results, CheckLLM(ctx, "LLM", cfg.GetLLM()))
		case "http":
			results = append(results, CheckEndpoint(ctx, pipeline.StrategyFor(kind).Label+" endpoint", sc.Endpoint))
		}
	}
	return results
}

// EnabledStages returns the enable flags new tasks start with under cfg.
func EnabledStages(cfg *config.Config) [pipeline.StageCount]bool {
	opts := executors.RegistryOptions(cfg, nil)
	return pipeline.DefaultEnabled(opts.Defaults, opts.Policy)
}
