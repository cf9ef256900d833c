package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	StateDir     string `toml:"state_dir"`
	LogDir       string `toml:"log_dir"`
	UploadDir    string `toml:"upload_dir"`
	WorkspaceDir string `toml:"workspace_dir"`
}

// Scheduler controls task admission.
type Scheduler struct {
	MaxRunningTasks     int     `toml:"max_running_tasks" validate:"min=1,max=64"`
	PollIntervalSeconds int     `toml:"poll_interval_seconds" validate:"min=1"`
	AdmissionRate       float64 `toml:"admission_rate" validate:"gte=0"`
	AdmissionBurst      int     `toml:"admission_burst" validate:"min=1"`
}

// Ingest controls the ingestion queue and the optional watch folder.
type Ingest struct {
	WatchDir            string `toml:"watch_dir"`
	WatchDebounceMillis int    `toml:"watch_debounce_millis" validate:"gte=0"`
	SplitPolicy         string `toml:"split_policy" validate:"oneof=first second both pending"`
	MaxHashBytes        int64  `toml:"max_hash_bytes" validate:"gte=0"`
	HashWorkers         int    `toml:"hash_workers" validate:"min=1,max=32"`
}

// Pipeline contains settings shared by every task pipeline.
type Pipeline struct {
	Language          string `toml:"language"`
	ASRExcludesManual bool   `toml:"asr_excludes_manual"`
}

// StageConfig wires one pipeline stage to an executor provider.
type StageConfig struct {
	Enabled        *bool  `toml:"enabled"`
	Provider       string `toml:"provider"`
	Endpoint       string `toml:"endpoint" validate:"omitempty,url"`
	Language       string `toml:"language"`
	TimeoutSeconds int    `toml:"timeout_seconds" validate:"gte=0"`
	ToolURL        string `toml:"tool_url" validate:"omitempty,url"`
}

// API contains the daemon HTTP API settings.
type API struct {
	Bind  string `toml:"bind" validate:"required,hostname_port"`
	Token string `toml:"token"`
}

// Logging contains configuration for logging behavior.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic" validate:"omitempty,url"`
	RequestTimeout int    `toml:"request_timeout"`
	TaskFinished   bool   `toml:"task_finished"`
	TaskFailed     bool   `toml:"task_failed"`
	QueueDrained   bool   `toml:"queue_drained"`
}

// LLM contains the OpenRouter-compatible settings shared by translation and
// summarization.
type LLM struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	Referer        string `toml:"referer"`
	Title          string `toml:"title"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	RetryAttempts  int    `toml:"retry_attempts" validate:"min=1,max=10"`
}

// WhisperX contains settings for the local WhisperX ASR/alignment executor.
type WhisperX struct {
	Command     string `toml:"command"`
	Model       string `toml:"model"`
	CUDAEnabled bool   `toml:"cuda_enabled"`
	VADMethod   string `toml:"vad_method" validate:"oneof=silero pyannote"`
	HFToken     string `toml:"hf_token"`
}

// Config encapsulates all configuration values for Scribe.
type Config struct {
	Paths         Paths                  `toml:"paths"`
	Scheduler     Scheduler              `toml:"scheduler"`
	Ingest        Ingest                 `toml:"ingest"`
	Pipeline      Pipeline               `toml:"pipeline"`
	Stages        map[string]StageConfig `toml:"stages" validate:"dive"`
	API           API                    `toml:"api"`
	Logging       Logging                `toml:"logging"`
	Notifications Notifications          `toml:"notifications"`
	LLM           LLM                    `toml:"llm"`
	WhisperX      WhisperX               `toml:"whisperx"`
}

// DefaultConfigPath returns the absolute path to the default configuration file.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("scribe.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
// The watch folder is created on a best-effort basis so the daemon can run
// while a network share is unavailable.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir, c.Paths.UploadDir, c.Paths.WorkspaceDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if strings.TrimSpace(c.Ingest.WatchDir) != "" {
		_ = os.MkdirAll(c.Ingest.WatchDir, 0o755)
	}
	return nil
}

// DatabasePath returns the SQLite file used by the persistence adapter.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.StateDir, "scribe.db")
}

// SocketPath returns the IPC socket path.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.StateDir, "scribe.sock")
}

// LockPath returns the daemon lock file path.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "scribe.lock")
}

// PollInterval returns the scheduler's fallback wake interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Scheduler.PollIntervalSeconds) * time.Second
}

// Stage returns the configuration for a stage kind, falling back to defaults
// for kinds missing from the file.
func (c *Config) Stage(kind string) StageConfig {
	kind = strings.ToLower(strings.TrimSpace(kind))
	if sc, ok := c.Stages[kind]; ok {
		return sc
	}
	return defaultStages()[kind]
}

// StageEnabled reports the configured default enable flag for a stage kind.
// The second result is false when the configuration leaves the stage's
// built-in default in place.
func (c *Config) StageEnabled(kind string) (bool, bool) {
	sc := c.Stage(kind)
	if sc.Enabled == nil {
		return false, false
	}
	return *sc.Enabled, true
}

// StageLanguage returns the stage language, falling back to pipeline.language.
func (c *Config) StageLanguage(kind string) string {
	if lang := strings.TrimSpace(c.Stage(kind).Language); lang != "" {
		return lang
	}
	return c.Pipeline.Language
}

// StageTimeout returns the per-call timeout for a stage, or zero for none.
func (c *Config) StageTimeout(kind string) time.Duration {
	return time.Duration(c.Stage(kind).TimeoutSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// LLMSettings contains resolved LLM connection settings.
type LLMSettings struct {
	APIKey         string
	BaseURL        string
	Model          string
	Referer        string
	Title          string
	TimeoutSeconds int
	RetryAttempts  int
}

// GetLLM returns the shared LLM connection settings.
func (c *Config) GetLLM() LLMSettings {
	return LLMSettings{
		APIKey:         strings.TrimSpace(c.LLM.APIKey),
		BaseURL:        strings.TrimSpace(c.LLM.BaseURL),
		Model:          strings.TrimSpace(c.LLM.Model),
		Referer:        strings.TrimSpace(c.LLM.Referer),
		Title:          strings.TrimSpace(c.LLM.Title),
		TimeoutSeconds: c.LLM.TimeoutSeconds,
		RetryAttempts:  c.LLM.RetryAttempts,
	}
}
