package config

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
)

var stageKinds = []string{"upload", "asr", "transcription", "alignment", "phonetic", "translation", "summarization"}

var stageProviders = map[string][]string{
	"upload":        {"local", "http"},
	"asr":           {"whisperx", "http"},
	"transcription": {"manual"},
	"alignment":     {"whisperx", "http"},
	"phonetic":      {"manual"},
	"translation":   {"llm", "http"},
	"summarization": {"llm", "http"},
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateTags(); err != nil {
		return err
	}
	if err := c.validateStages(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateWhisperX(); err != nil {
		return err
	}
	if err := c.validateIngest(); err != nil {
		return err
	}
	return nil
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("toml"), ",")
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})
	return v
}

func (c *Config) validateTags() error {
	err := newValidator().Struct(c)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return fmt.Errorf("validate config: %w", err)
	}
	first := fieldErrs[0]
	key := strings.TrimPrefix(first.Namespace(), "Config.")
	if first.Param() != "" {
		return fmt.Errorf("%s fails %s=%s (got %v)", key, first.Tag(), first.Param(), first.Value())
	}
	return fmt.Errorf("%s fails %s (got %v)", key, first.Tag(), first.Value())
}

func (c *Config) validateStages() error {
	for kind, sc := range c.Stages {
		allowed, ok := stageProviders[kind]
		if !ok {
			return fmt.Errorf("stages.%s: unknown stage (expected one of %s)", kind, strings.Join(stageKinds, ", "))
		}
		if !slices.Contains(allowed, sc.Provider) {
			return fmt.Errorf("stages.%s.provider: unsupported provider %q (expected one of %s)", kind, sc.Provider, strings.Join(allowed, ", "))
		}
		if sc.Provider == "http" && sc.Endpoint == "" {
			return fmt.Errorf("stages.%s.endpoint must be set when provider is http", kind)
		}
		if kind == "upload" && sc.Enabled != nil && !*sc.Enabled {
			return errors.New("stages.upload.enabled cannot be false; the upload stage always runs")
		}
		if sc.Provider == "llm" && sc.Enabled != nil && *sc.Enabled && strings.TrimSpace(c.LLM.APIKey) == "" {
			return fmt.Errorf("llm.api_key is required when stages.%s is enabled (set OPENROUTER_API_KEY or edit the config file)", kind)
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func (c *Config) validateWhisperX() error {
	usesWhisperX := c.Stage("asr").Provider == "whisperx" || c.Stage("alignment").Provider == "whisperx"
	if usesWhisperX && c.WhisperX.VADMethod == "pyannote" && strings.TrimSpace(c.WhisperX.HFToken) == "" {
		return errors.New("whisperx.hf_token is required when whisperx.vad_method is pyannote")
	}
	return nil
}

func (c *Config) validateIngest() error {
	if c.Ingest.WatchDir != "" && c.Ingest.WatchDir == c.Paths.WorkspaceDir {
		return errors.New("ingest.watch_dir must differ from paths.workspace_dir")
	}
	return nil
}
