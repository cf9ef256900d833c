package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"scribe/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantState := filepath.Join(tempHome, ".local", "share", "scribe")
	if cfg.Paths.StateDir != wantState {
		t.Fatalf("unexpected state dir: got %q want %q", cfg.Paths.StateDir, wantState)
	}
	if cfg.DatabasePath() != filepath.Join(wantState, "scribe.db") {
		t.Fatalf("unexpected database path: %q", cfg.DatabasePath())
	}
	if cfg.Scheduler.MaxRunningTasks != 3 {
		t.Fatalf("expected max running tasks 3, got %d", cfg.Scheduler.MaxRunningTasks)
	}
	if cfg.Ingest.SplitPolicy != "pending" {
		t.Fatalf("unexpected split policy %q", cfg.Ingest.SplitPolicy)
	}
	if cfg.API.Bind != "127.0.0.1:7497" {
		t.Fatalf("unexpected api bind: %q", cfg.API.Bind)
	}
	if cfg.Stage("asr").Provider != "whisperx" {
		t.Fatalf("unexpected asr provider %q", cfg.Stage("asr").Provider)
	}
	if _, set := cfg.StageEnabled("translation"); set {
		t.Fatal("expected translation enable flag to be left to the built-in default")
	}
	if cfg.StageLanguage("translation") != "en" {
		t.Fatalf("expected stage language to fall back to pipeline language, got %q", cfg.StageLanguage("translation"))
	}
}

func TestLoadCustomConfig(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("OPENROUTER_API_KEY", "env-key")

	configPath := filepath.Join(t.TempDir(), "config.toml")
	content := `
[paths]
state_dir = "~/state"
upload_dir = "/tmp/scribe-uploads"

[scheduler]
max_running_tasks = 5

[ingest]
split_policy = "Both"

[stages.translation]
provider = "LLM"
enabled = true
language = "DE"

[stages.asr]
provider = "http"
endpoint = "https://asr.example.org/v1/recognize"

[logging]
format = "JSON"
level = "Debug"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("expected explicit path to resolve, got %q exists=%v", resolved, exists)
	}
	if cfg.Paths.StateDir != filepath.Join(tempHome, "state") {
		t.Fatalf("unexpected state dir %q", cfg.Paths.StateDir)
	}
	if cfg.Scheduler.MaxRunningTasks != 5 {
		t.Fatalf("expected max running 5, got %d", cfg.Scheduler.MaxRunningTasks)
	}
	if cfg.Ingest.SplitPolicy != "both" {
		t.Fatalf("expected normalized split policy, got %q", cfg.Ingest.SplitPolicy)
	}
	translation := cfg.Stage("translation")
	if translation.Provider != "llm" || translation.Language != "de" {
		t.Fatalf("unexpected translation stage %+v", translation)
	}
	if enabled, set := cfg.StageEnabled("translation"); !set || !enabled {
		t.Fatal("expected translation explicitly enabled")
	}
	if cfg.Stage("alignment").Provider != "whisperx" {
		t.Fatal("expected stages missing from the file to keep defaults")
	}
	if cfg.LLM.APIKey != "env-key" {
		t.Fatalf("expected llm key from env, got %q", cfg.LLM.APIKey)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Fatalf("unexpected logging config %+v", cfg.Logging)
	}
}

func TestValidateRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{"zero running tasks", func(c *config.Config) { c.Scheduler.MaxRunningTasks = 0 }, "scheduler.max_running_tasks"},
		{"bad split policy", func(c *config.Config) { c.Ingest.SplitPolicy = "left" }, "ingest.split_policy"},
		{"unknown stage", func(c *config.Config) { c.Stages["karaoke"] = config.StageConfig{Provider: "http"} }, "stages.karaoke"},
		{"bad provider", func(c *config.Config) {
			c.Stages["asr"] = config.StageConfig{Provider: "llm"}
		}, "stages.asr.provider"},
		{"http without endpoint", func(c *config.Config) {
			c.Stages["alignment"] = config.StageConfig{Provider: "http"}
		}, "stages.alignment.endpoint"},
		{"upload disabled", func(c *config.Config) {
			off := false
			c.Stages["upload"] = config.StageConfig{Provider: "local", Enabled: &off}
		}, "stages.upload.enabled"},
		{"llm without key", func(c *config.Config) {
			on := true
			c.Stages["summarization"] = config.StageConfig{Provider: "llm", Enabled: &on}
		}, "llm.api_key"},
		{"bad log format", func(c *config.Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"pyannote without token", func(c *config.Config) { c.WhisperX.VADMethod = "pyannote" }, "whisperx.hf_token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error to mention %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDefaultConfigValidates(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestSampleConfigParses(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	var parsed config.Config
	if err := toml.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("sample config is not valid TOML: %v", err)
	}
	if _, _, _, err := config.Load(path); err != nil {
		t.Fatalf("sample config failed to load: %v", err)
	}
}

func TestEnsureDirectories(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.StateDir = filepath.Join(base, "state")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.UploadDir = filepath.Join(base, "uploads")
	cfg.Paths.WorkspaceDir = filepath.Join(base, "workspace")
	cfg.Ingest.WatchDir = filepath.Join(base, "inbox")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	for _, dir := range []string{cfg.Paths.StateDir, cfg.Paths.LogDir, cfg.Paths.UploadDir, cfg.Paths.WorkspaceDir, cfg.Ingest.WatchDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %q: %v", dir, err)
		}
	}
}
