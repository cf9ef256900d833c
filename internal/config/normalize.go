package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeIngest(); err != nil {
		return err
	}
	c.normalizeScheduler()
	c.normalizePipeline()
	c.normalizeStages()
	c.normalizeLLM()
	c.normalizeWhisperX()
	c.normalizeLogging()
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	if c.API.Bind == "" {
		c.API.Bind = defaultAPIBind
	}
	if c.API.Token == "" {
		if value, ok := os.LookupEnv("SCRIBE_API_TOKEN"); ok {
			c.API.Token = strings.TrimSpace(value)
		}
	}
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.UploadDir) == "" {
		c.Paths.UploadDir = defaultUploadDir
	}
	if c.Paths.UploadDir, err = expandPath(c.Paths.UploadDir); err != nil {
		return fmt.Errorf("paths.upload_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.WorkspaceDir) == "" {
		c.Paths.WorkspaceDir = defaultWorkspaceDir
	}
	if c.Paths.WorkspaceDir, err = expandPath(c.Paths.WorkspaceDir); err != nil {
		return fmt.Errorf("paths.workspace_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeIngest() error {
	var err error
	if c.Ingest.WatchDir, err = expandPath(strings.TrimSpace(c.Ingest.WatchDir)); err != nil {
		return fmt.Errorf("ingest.watch_dir: %w", err)
	}
	c.Ingest.SplitPolicy = strings.ToLower(strings.TrimSpace(c.Ingest.SplitPolicy))
	if c.Ingest.SplitPolicy == "" {
		c.Ingest.SplitPolicy = defaultSplitPolicy
	}
	if c.Ingest.HashWorkers <= 0 {
		c.Ingest.HashWorkers = defaultHashWorkers
	}
	return nil
}

func (c *Config) normalizeScheduler() {
	if c.Scheduler.MaxRunningTasks == 0 {
		c.Scheduler.MaxRunningTasks = defaultMaxRunningTasks
	}
	if c.Scheduler.PollIntervalSeconds <= 0 {
		c.Scheduler.PollIntervalSeconds = defaultPollIntervalSeconds
	}
	if c.Scheduler.AdmissionBurst <= 0 {
		c.Scheduler.AdmissionBurst = defaultAdmissionBurst
	}
}

func (c *Config) normalizePipeline() {
	c.Pipeline.Language = strings.ToLower(strings.TrimSpace(c.Pipeline.Language))
	if c.Pipeline.Language == "" {
		c.Pipeline.Language = defaultPipelineLanguage
	}
}

func (c *Config) normalizeStages() {
	defaults := defaultStages()
	normalized := make(map[string]StageConfig, len(defaults))
	for kind, sc := range defaults {
		normalized[kind] = sc
	}
	for rawKind, sc := range c.Stages {
		kind := strings.ToLower(strings.TrimSpace(rawKind))
		sc.Provider = strings.ToLower(strings.TrimSpace(sc.Provider))
		if sc.Provider == "" {
			sc.Provider = defaults[kind].Provider
		}
		sc.Endpoint = strings.TrimSpace(sc.Endpoint)
		sc.ToolURL = strings.TrimSpace(sc.ToolURL)
		sc.Language = strings.ToLower(strings.TrimSpace(sc.Language))
		normalized[kind] = sc
	}
	c.Stages = normalized
}

func (c *Config) normalizeLLM() {
	if c.LLM.APIKey == "" {
		if value, ok := os.LookupEnv("OPENROUTER_API_KEY"); ok {
			c.LLM.APIKey = strings.TrimSpace(value)
		}
	}
	c.LLM.BaseURL = strings.TrimSpace(c.LLM.BaseURL)
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = defaultLLMBaseURL
	}
	c.LLM.Model = strings.TrimSpace(c.LLM.Model)
	if c.LLM.Model == "" {
		c.LLM.Model = defaultLLMModel
	}
	if strings.TrimSpace(c.LLM.Referer) == "" {
		c.LLM.Referer = defaultLLMReferer
	}
	if strings.TrimSpace(c.LLM.Title) == "" {
		c.LLM.Title = defaultLLMTitle
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = defaultLLMTimeoutSeconds
	}
	if c.LLM.RetryAttempts <= 0 {
		c.LLM.RetryAttempts = defaultLLMRetryAttempts
	}
}

func (c *Config) normalizeWhisperX() {
	c.WhisperX.Command = strings.TrimSpace(c.WhisperX.Command)
	if c.WhisperX.Command == "" {
		c.WhisperX.Command = defaultWhisperXCommand
	}
	if strings.TrimSpace(c.WhisperX.Model) == "" {
		c.WhisperX.Model = defaultWhisperXModel
	}
	c.WhisperX.VADMethod = strings.ToLower(strings.TrimSpace(c.WhisperX.VADMethod))
	if c.WhisperX.VADMethod == "" {
		c.WhisperX.VADMethod = defaultWhisperXVADMethod
	}
	if c.WhisperX.HFToken == "" {
		if value, ok := os.LookupEnv("HF_TOKEN"); ok {
			c.WhisperX.HFToken = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeLogging() {
	format := strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch format {
	case "", "console", "text":
		c.Logging.Format = "console"
	default:
		c.Logging.Format = format
	}
	level := strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if level == "" {
		level = defaultLogLevel
	}
	c.Logging.Level = level
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
