package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"scribe/internal/logging"
	"scribe/internal/pipeline"
	"scribe/internal/services"
)

// handleStageFailure records err as the round protocol and moves the
// operation and its task to error. Nothing retries it automatically.
func (m *Manager) handleStageFailure(ctx context.Context, logger *slog.Logger, adm pipeline.Admission, stageErr error) {
	message := classifyStageFailure(adm.Kind.String(), stageErr)
	details := services.Details(stageErr)
	logger.Error("stage failed", logging.Args(
		logging.String("error_message", message),
		logging.String("error_kind", details.Kind),
		logging.String(logging.FieldErrorHint, details.Hint),
		logging.Alert("stage_failure"),
		logging.Error(stageErr),
		logging.String(logging.FieldEventType, "stage_failure"),
	)...)
	m.setLastError(stageErr)

	if err := m.registry.FailOperation(adm.OperationID, message); err != nil {
		if errors.Is(err, services.ErrRegistry) {
			logger.Debug("task removed before the failure was recorded")
			return
		}
		logging.ErrorWithContext(logging.WithContext(ctx, m.logger), "failed to record stage failure", "stage_failure_unrecorded",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "inspect the task state"),
		)
	}
}

func classifyStageFailure(stageName string, stageErr error) string {
	if stageErr == nil {
		return fmt.Sprintf("%s failed without error detail", stageName)
	}
	message := strings.TrimSpace(services.Details(stageErr).Message)
	if message == "" {
		message = fmt.Sprintf("%s failed", stageName)
	}
	return message
}
