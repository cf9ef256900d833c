package workflow

import (
	"context"

	"scribe/internal/pipeline"
	"scribe/internal/stage"
	"scribe/internal/stats"
)

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	Running        bool           `json:"running"`
	MaxRunning     int            `json:"max_running"`
	LastError      string         `json:"last_error,omitempty"`
	LastTaskID     int64          `json:"last_task_id,omitempty"`
	Stats          stats.Snapshot `json:"stats"`
	Load           pipeline.Load  `json:"load"`
	ExecutorHealth []stage.Health `json:"executor_health"`
}

// Status returns a snapshot of the scheduler state and executor readiness.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	summary := StatusSummary{
		Running:    m.running,
		MaxRunning: m.maxRunning,
		LastTaskID: m.lastTask,
	}
	if m.lastErr != nil {
		summary.LastError = m.lastErr.Error()
	}
	m.mu.RUnlock()

	summary.Stats = stats.Compute(m.registry)
	summary.Load = m.registry.Load()
	if m.executors != nil {
		summary.ExecutorHealth = m.executors.Health(ctx)
	}
	return summary
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) setLastTask(id int64) {
	m.mu.Lock()
	m.lastTask = id
	m.mu.Unlock()
}
