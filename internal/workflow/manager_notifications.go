package workflow

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"scribe/internal/logging"
	"scribe/internal/notifications"
	"scribe/internal/pipeline"
	"scribe/internal/stats"
)

type notification struct {
	event   notifications.Event
	payload notifications.Payload
}

func notificationInteractive(adm pipeline.Admission, link string) notification {
	return notification{
		event: notifications.EventInteractiveReady,
		payload: notifications.Payload{
			"name":  adm.Task.DisplayName(),
			"stage": adm.Kind.String(),
			"url":   link,
		},
	}
}

func (m *Manager) publish(ctx context.Context, n notification) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Publish(ctx, n.event, n.payload); err != nil {
		if errors.Is(err, context.Canceled) {
			m.logger.Debug("daemon shutting down, notification dropped", logging.String("notification", string(n.event)))
			return
		}
		m.logger.Debug("notification failed", logging.String("notification", string(n.event)), logging.Error(err))
	}
}

func (m *Manager) onTaskAdmitted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.queueActive {
		return
	}
	m.queueActive = true
	m.queueStart = time.Now()
	m.queueFinished = 0
	m.queueFailed = 0
}

func (m *Manager) onTaskFinished(ctx context.Context, taskID int64) {
	task, err := m.registry.Task(taskID)
	if err != nil {
		return
	}
	var done []string
	for _, op := range task.Operations {
		if op.State() == pipeline.StatusFinished {
			done = append(done, op.Kind.String())
		}
	}
	m.mu.Lock()
	m.queueFinished++
	m.mu.Unlock()
	m.publish(ctx, notification{
		event: notifications.EventTaskFinished,
		payload: notifications.Payload{
			"name":   task.DisplayName(),
			"stages": strings.Join(done, ", "),
		},
	})
	m.checkQueueDrained(ctx)
}

func (m *Manager) onTaskFailed(ctx context.Context, taskID int64) {
	task, err := m.registry.Task(taskID)
	if err != nil {
		return
	}
	payload := notifications.Payload{"name": task.DisplayName()}
	for _, op := range task.Operations {
		if op.State() != pipeline.StatusError {
			continue
		}
		payload["stage"] = op.Kind.String()
		if cur := op.Current(); cur != nil {
			payload["error"] = cur.Protocol
		}
		break
	}
	m.mu.Lock()
	m.queueFailed++
	m.mu.Unlock()
	m.publish(ctx, notification{event: notifications.EventTaskFailed, payload: payload})
	m.checkQueueDrained(ctx)
}

// checkQueueDrained announces the end of a processing burst once no task is
// queued or running.
func (m *Manager) checkQueueDrained(ctx context.Context) {
	if stats.Compute(m.registry).Active() > 0 {
		return
	}
	m.mu.Lock()
	if !m.queueActive {
		m.mu.Unlock()
		return
	}
	start := m.queueStart
	finished, failed := m.queueFinished, m.queueFailed
	m.queueActive = false
	m.queueStart = time.Time{}
	m.mu.Unlock()

	m.logger.Info("queue drained",
		logging.String(logging.FieldEventType, "queue_drained"),
		logging.Int("finished", finished),
		logging.Int("failed", failed),
		logging.Duration("duration", time.Since(start)),
	)
	m.publish(ctx, notification{
		event: notifications.EventQueueDrained,
		payload: notifications.Payload{
			"finished": strconv.Itoa(finished),
			"failed":   strconv.Itoa(failed),
		},
	})
}
