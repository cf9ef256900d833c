package workflow

import (
	"context"
	"errors"
	"time"

	"scribe/internal/logging"
	"scribe/internal/pipeline"
)

// Start enables admission. Stages admitted from now on run with ctx, so
// cancelling ctx interrupts in-flight executor calls; Stop does not.
func (m *Manager) Start(ctx context.Context) error {
	select {
	case <-m.closed:
		return errors.New("workflow closed")
	default:
	}
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.loop.Add(1)
	m.mu.Unlock()

	m.watchOnce.Do(func() {
		sub := m.registry.Bus().Subscribe(nil)
		m.watchWG.Add(1)
		go m.watchEvents(ctx, sub)
	})
	go m.runLoop(loopCtx, ctx)

	m.logger.Info("workflow started",
		logging.String(logging.FieldEventType, "workflow_start"),
		logging.Int("max_running_tasks", m.maxRunning),
		logging.Any("admission_rate", m.cfg.Scheduler.AdmissionRate),
	)
	return nil
}

// Stop disables admission and waits for the control loop to exit. Stages
// already executing keep running and report their results normally.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.loop.Wait()
	m.logger.Info("workflow stopped", logging.String(logging.FieldEventType, "workflow_stop"))
}

// Close stops admission, waits for in-flight stages and detaches from the
// event bus.
func (m *Manager) Close() {
	m.Stop()
	m.inflight.Wait()
	m.closeOnce.Do(func() { close(m.closed) })
	m.watchWG.Wait()
}

// Running reports whether admission is enabled.
func (m *Manager) Running() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// Wake prompts the control loop to look for eligible work immediately.
func (m *Manager) Wake() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) runLoop(loopCtx, stageCtx context.Context) {
	defer m.loop.Done()
	for {
		if loopCtx.Err() != nil {
			return
		}
		adm, ok := m.registry.Admit(m.maxRunning)
		if !ok {
			m.waitForWork(loopCtx)
			continue
		}
		m.dispatch(stageCtx, adm)
		if err := m.limiter.Wait(loopCtx); err != nil {
			if !errors.Is(err, context.Canceled) {
				m.logger.Debug("admission pacing interrupted", logging.Error(err))
			}
			return
		}
	}
}

func (m *Manager) waitForWork(ctx context.Context) {
	timer := time.NewTimer(m.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-m.wake:
	case <-timer.C:
	}
}

func (m *Manager) dispatch(ctx context.Context, adm pipeline.Admission) {
	m.onTaskAdmitted()
	m.setLastTask(adm.TaskID)
	if adm.Interactive {
		m.announceInteractive(ctx, adm)
		return
	}
	m.inflight.Add(1)
	go func() {
		defer m.inflight.Done()
		m.runStage(ctx, adm)
	}()
}

// watchEvents wakes the control loop on every registry change and turns task
// outcomes into notifications.
func (m *Manager) watchEvents(ctx context.Context, sub *pipeline.Subscription) {
	defer m.watchWG.Done()
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.closed:
			return
		case evt, ok := <-sub.C():
			if !ok {
				return
			}
			m.Wake()
			if evt.Type != pipeline.EventTaskStatus {
				continue
			}
			switch evt.Status {
			case pipeline.StatusFinished:
				m.onTaskFinished(ctx, evt.TaskID)
			case pipeline.StatusError:
				m.onTaskFailed(ctx, evt.TaskID)
			}
		}
	}
}
