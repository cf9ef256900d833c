package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"scribe/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.UploadDir = filepath.Join(base, "uploads")
	cfgVal.Paths.WorkspaceDir = filepath.Join(base, "workspace")
	cfgVal.API.Bind = "127.0.0.1:0"
	cfgVal.Scheduler.PollIntervalSeconds = 1
	cfgVal.Scheduler.AdmissionRate = 0

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithMaxRunning overrides the scheduler concurrency ceiling.
func WithMaxRunning(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Scheduler.MaxRunningTasks = n
	}
}

// WithStage overrides one stage's configuration.
func WithStage(kind string, sc config.StageConfig) ConfigOption {
	return func(b *configBuilder) {
		stages := make(map[string]config.StageConfig, len(b.cfg.Stages)+1)
		for k, v := range b.cfg.Stages {
			stages[k] = v
		}
		stages[kind] = sc
		b.cfg.Stages = stages
	}
}

// WithStageEnabled sets the default enable flag of one stage.
func WithStageEnabled(kind string, enabled bool) ConfigOption {
	return func(b *configBuilder) {
		sc := b.cfg.Stage(kind)
		sc.Enabled = &enabled
		WithStage(kind, sc)(b)
	}
}

// WithWatchDir enables the ingest watch folder under the temp base.
func WithWatchDir() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Ingest.WatchDir = filepath.Join(b.baseDir, "inbox")
		b.cfg.Ingest.WatchDebounceMillis = 50
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, the default external binaries
// are stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"uvx"}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\nexit 0\n")
		for _, name := range names {
			target := filepath.Join(binDir, name)
			if err := os.WriteFile(target, script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}

		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
