package api

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"scribe/internal/pipeline"
	"scribe/internal/services"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// IngestRequest queues a file or directory.
type IngestRequest struct {
	Path  string `json:"path" validate:"required"`
	Split string `json:"split,omitempty" validate:"omitempty,oneof=first second both pending"`
	// Wait holds the reply until the queue item settles.
	Wait bool `json:"wait,omitempty"`
}

// SplitRequest resolves a pending split decision.
type SplitRequest struct {
	Policy string `json:"policy" validate:"required,oneof=first second both"`
}

// ToggleRequest enables or disables one operation of a task.
type ToggleRequest struct {
	Stage   string `json:"stage" validate:"required,stage"`
	Enabled *bool  `json:"enabled" validate:"required"`
}

// StageToggleRequest changes a stage default.
type StageToggleRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

// CompleteRequest finishes an interactive operation with a local file or a
// remote copy.
type CompleteRequest struct {
	Path string `json:"path,omitempty" validate:"required_without=URL"`
	URL  string `json:"url,omitempty" validate:"omitempty,url"`
	Name string `json:"name,omitempty"`
}

func init() {
	_ = validate.RegisterValidation("stage", func(fl validator.FieldLevel) bool {
		_, err := pipeline.ParseStageKind(fl.Field().String())
		return err == nil
	})
}

// Validate checks a request payload against its tags. Failures wrap
// services.ErrValidation with one message per offending field.
func Validate(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return services.Wrap(services.ErrValidation, "api", "validate", "invalid request", err)
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, describeField(fe))
	}
	return services.Wrap(services.ErrValidation, "api", "validate", strings.Join(parts, "; "), nil)
}

func describeField(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "required_without":
		return fmt.Sprintf("%s is required when %s is empty", field, strings.ToLower(fe.Param()))
	case "oneof":
		return fmt.Sprintf("%s must be one of %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "url":
		return field + " must be a URL"
	case "stage":
		return fmt.Sprintf("%s %q is not a pipeline stage", field, fe.Value())
	default:
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}
