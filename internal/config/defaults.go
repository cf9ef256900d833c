package config

const (
	defaultConfigPath            = "~/.config/scribe/config.toml"
	defaultStateDir              = "~/.local/share/scribe"
	defaultLogDir                = "~/.local/share/scribe/logs"
	defaultUploadDir             = "~/.local/share/scribe/uploads"
	defaultWorkspaceDir          = "~/.local/share/scribe/workspace"
	defaultMaxRunningTasks       = 3
	defaultPollIntervalSeconds   = 5
	defaultAdmissionRate         = 4.0
	defaultAdmissionBurst        = 1
	defaultWatchDebounceMillis   = 1500
	defaultSplitPolicy           = "pending"
	defaultHashWorkers           = 4
	defaultPipelineLanguage      = "en"
	defaultAPIBind               = "127.0.0.1:7497"
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
	defaultLogRetentionDays      = 60
	defaultNotifyRequestTimeout  = 10
	defaultLLMBaseURL            = "https://openrouter.ai/api/v1/chat/completions"
	defaultLLMModel              = "google/gemini-3-flash-preview"
	defaultLLMReferer            = "https://github.com/scribe-audio/scribe"
	defaultLLMTitle              = "Scribe"
	defaultLLMTimeoutSeconds     = 90
	defaultLLMRetryAttempts      = 1
	defaultWhisperXCommand       = "uvx"
	defaultWhisperXModel         = "large-v3"
	defaultWhisperXVADMethod     = "silero"
	defaultInteractiveProvider   = "manual"
	defaultUploadProvider        = "local"
	defaultWhisperXProvider      = "whisperx"
	defaultLLMProvider           = "llm"
	defaultStageTimeoutSeconds   = 0
	defaultWhisperXTimeoutSecond = 3600
)

func defaultStages() map[string]StageConfig {
	return map[string]StageConfig{
		"upload":        {Provider: defaultUploadProvider, TimeoutSeconds: defaultStageTimeoutSeconds},
		"asr":           {Provider: defaultWhisperXProvider, TimeoutSeconds: defaultWhisperXTimeoutSecond},
		"transcription": {Provider: defaultInteractiveProvider},
		"alignment":     {Provider: defaultWhisperXProvider, TimeoutSeconds: defaultWhisperXTimeoutSecond},
		"phonetic":      {Provider: defaultInteractiveProvider},
		"translation":   {Provider: defaultLLMProvider},
		"summarization": {Provider: defaultLLMProvider},
	}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir:     defaultStateDir,
			LogDir:       defaultLogDir,
			UploadDir:    defaultUploadDir,
			WorkspaceDir: defaultWorkspaceDir,
		},
		Scheduler: Scheduler{
			MaxRunningTasks:     defaultMaxRunningTasks,
			PollIntervalSeconds: defaultPollIntervalSeconds,
			AdmissionRate:       defaultAdmissionRate,
			AdmissionBurst:      defaultAdmissionBurst,
		},
		Ingest: Ingest{
			WatchDebounceMillis: defaultWatchDebounceMillis,
			SplitPolicy:         defaultSplitPolicy,
			HashWorkers:         defaultHashWorkers,
		},
		Pipeline: Pipeline{
			Language: defaultPipelineLanguage,
		},
		Stages: defaultStages(),
		API: API{
			Bind: defaultAPIBind,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			TaskFinished:   true,
			TaskFailed:     true,
			QueueDrained:   true,
		},
		LLM: LLM{
			BaseURL:        defaultLLMBaseURL,
			Model:          defaultLLMModel,
			Referer:        defaultLLMReferer,
			Title:          defaultLLMTitle,
			TimeoutSeconds: defaultLLMTimeoutSeconds,
			RetryAttempts:  defaultLLMRetryAttempts,
		},
		WhisperX: WhisperX{
			Command:   defaultWhisperXCommand,
			Model:     defaultWhisperXModel,
			VADMethod: defaultWhisperXVADMethod,
		},
	}
}
