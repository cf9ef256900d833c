package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"scribe/internal/logging"
	"scribe/internal/pipeline"
	"scribe/internal/services"
	"scribe/internal/stage"
)

// runStage executes one admitted non-interactive stage and reports the
// outcome back to the registry.
func (m *Manager) runStage(ctx context.Context, adm pipeline.Admission) {
	stageCtx := stageContext(ctx, adm, uuid.NewString())
	logger := m.stageLogger(stageCtx, adm)
	params := m.stageParams(adm)

	exec, err := m.executors.Lookup(adm.Kind, adm.Provider)
	if err != nil {
		m.handleStageFailure(stageCtx, logger, adm, err)
		return
	}
	if err := os.MkdirAll(params.WorkDir, 0o755); err != nil {
		m.handleStageFailure(stageCtx, logger, adm,
			services.Wrap(services.ErrConfiguration, adm.Kind.String(), "prepare workspace", params.WorkDir, err))
		return
	}

	execCtx := stageCtx
	if params.Timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(stageCtx, params.Timeout)
		defer cancel()
	}

	start := time.Now()
	logger.Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String("task_name", adm.Task.DisplayName()),
		logging.String("work_dir", params.WorkDir),
	)

	result, err := exec.Execute(execCtx, stage.Request{
		OperationID: adm.OperationID,
		Kind:        adm.Kind,
		Round:       adm.Round,
		Task:        adm.Task,
		Params:      params,
		Logger:      logger,
	})
	if err != nil {
		if ctx.Err() != nil {
			logger.Debug("stage interrupted by shutdown", logging.Error(err))
			return
		}
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			err = services.Wrap(services.ErrTimeout, adm.Kind.String(), "execute",
				fmt.Sprintf("no result within %s", params.Timeout), err)
		}
		m.handleStageFailure(stageCtx, logger, adm, err)
		return
	}

	if err := m.registry.CompleteOperation(adm.OperationID, result.Items, result.Protocol); err != nil {
		if errors.Is(err, services.ErrRegistry) {
			logger.Info("stage result discarded",
				logging.String(logging.FieldEventType, "stage_discarded"),
				logging.String("reason", "task was removed while the stage ran"),
			)
			return
		}
		m.setLastError(err)
		logging.WarnWithContext(logger, "stage result not recorded", "stage_complete_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "inspect the task and restart the operation"),
			logging.String(logging.FieldImpact, "the stage output is not attached to the task"),
		)
		return
	}
	logger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Int("results", len(result.Items)),
		logging.Duration("stage_duration", time.Since(start)),
	)
}

// announceInteractive publishes the tool link for a stage that now waits for
// the user.
func (m *Manager) announceInteractive(ctx context.Context, adm pipeline.Admission) {
	stageCtx := stageContext(ctx, adm, "")
	logger := m.stageLogger(stageCtx, adm)
	link := pipeline.StrategyFor(adm.Kind).ResultURL(adm.Task, adm.Kind, m.cfg.Stage(adm.Kind.String()).ToolURL)
	logger.Info("interactive stage ready",
		logging.String(logging.FieldEventType, "stage_ready"),
		logging.String("tool_url", link),
	)
	m.publish(ctx, notificationInteractive(adm, link))
}

func stageContext(ctx context.Context, adm pipeline.Admission, requestID string) context.Context {
	ctx = services.WithTaskID(ctx, adm.TaskID)
	ctx = services.WithOperationID(ctx, adm.OperationID)
	ctx = services.WithStage(ctx, adm.Kind.String())
	return services.WithRequestID(ctx, requestID)
}

func (m *Manager) stageLogger(ctx context.Context, adm pipeline.Admission) *slog.Logger {
	return logging.WithContext(ctx, m.logger).With(
		logging.Int(logging.FieldRound, adm.Round),
		logging.String("provider", adm.Provider),
	)
}

// stageParams resolves the executor settings for an admission. Every round
// gets its own scratch directory so reruns never overwrite earlier output.
func (m *Manager) stageParams(adm pipeline.Admission) stage.Params {
	name := adm.Kind.String()
	sc := m.cfg.Stage(name)
	return stage.Params{
		Provider: adm.Provider,
		Endpoint: sc.Endpoint,
		Language: m.cfg.StageLanguage(name),
		Timeout:  m.cfg.StageTimeout(name),
		ToolURL:  sc.ToolURL,
		WorkDir: filepath.Join(m.cfg.Paths.WorkspaceDir,
			fmt.Sprintf("task-%d", adm.TaskID), name, fmt.Sprintf("round-%d", adm.Round)),
	}
}
