package workflow_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"scribe/internal/config"
	"scribe/internal/notifications"
	"scribe/internal/pipeline"
	"scribe/internal/stage"
	"scribe/internal/workflow"
	"scribe/internal/workitem"
)

const stubProvider = "stub"

type stubNotifier struct {
	mu       sync.Mutex
	events   []notifications.Event
	payloads []notifications.Payload
}

func (s *stubNotifier) Publish(_ context.Context, event notifications.Event, payload notifications.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	s.payloads = append(s.payloads, payload)
	return nil
}

func (s *stubNotifier) find(event notifications.Event) (notifications.Payload, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.events {
		if e == event {
			return s.payloads[i], true
		}
	}
	return nil, false
}

func (s *stubNotifier) waitFor(t *testing.T, event notifications.Event) notifications.Payload {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if payload, ok := s.find(event); ok {
			return payload
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("notification %s never published", event)
	return nil
}

// succeed returns an executor that reports one online result named after kind.
func succeed(kind pipeline.StageKind) stage.Executor {
	return stage.ExecutorFunc(func(_ context.Context, req stage.Request) (stage.Result, error) {
		itemKind := workitem.KindTranscript
		if kind == pipeline.StageUpload {
			itemKind = workitem.KindAudio
		}
		return stage.Result{
			Items: []workitem.Item{{
				Name: fmt.Sprintf("%s-%d", kind, req.Round),
				Kind: itemKind,
				URL:  fmt.Sprintf("mem://%s/%d", kind, req.OperationID),
			}},
			Protocol: kind.String() + " ok",
		}, nil
	})
}

type harness struct {
	cfg       *config.Config
	registry  *pipeline.Registry
	executors *stage.Registry
	notifier  *stubNotifier
	manager   *workflow.Manager
}

func newHarness(t *testing.T, cfg *config.Config, defaults map[pipeline.StageKind]bool) *harness {
	t.Helper()
	providers := make(map[pipeline.StageKind]string, pipeline.StageCount)
	execs := stage.NewRegistry()
	for _, kind := range pipeline.StageKinds() {
		providers[kind] = stubProvider
		if !pipeline.StrategyFor(kind).Interactive {
			execs.Register(kind, stubProvider, succeed(kind))
		}
	}
	registry := pipeline.NewRegistry(pipeline.Options{
		Defaults:  defaults,
		Providers: providers,
	})
	notifier := &stubNotifier{}
	h := &harness{
		cfg:       cfg,
		registry:  registry,
		executors: execs,
		notifier:  notifier,
	}
	h.manager = workflow.NewManager(cfg, registry, execs, nil, workflow.WithNotifier(notifier))
	t.Cleanup(h.manager.Close)
	return h
}

func (h *harness) start(t *testing.T, ctx context.Context) {
	t.Helper()
	if err := h.manager.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func (h *harness) addTask(t *testing.T, name string) *pipeline.Task {
	t.Helper()
	task := h.registry.NewTask([]workitem.Item{{
		Name:         name,
		OriginalName: name,
		Kind:         workitem.KindAudio,
		Hash:         "hash-" + name,
		Path:         "/recordings/" + name,
	}})
	if err := h.registry.AddEntry(task); err != nil {
		t.Fatalf("AddEntry: %v", err)
	}
	return task
}

func waitForStatus(t *testing.T, registry *pipeline.Registry, taskID int64, want pipeline.Status) *pipeline.Task {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		task, err := registry.Task(taskID)
		if err != nil {
			t.Fatalf("Task(%d): %v", taskID, err)
		}
		if task.Status == want {
			return task
		}
		if time.Now().After(deadline) {
			t.Fatalf("task %d stayed %s, want %s", taskID, task.Status, want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

var noManual = map[pipeline.StageKind]bool{pipeline.StageTranscription: false}

func workitemTranscript(name string) workitem.Item {
	return workitem.Item{
		Name:         name,
		OriginalName: name,
		Kind:         workitem.KindTranscript,
		Hash:         "hash-" + name,
		URL:          "mem://manual/" + name,
	}
}

func mustTask(t *testing.T, registry *pipeline.Registry, id int64) *pipeline.Task {
	t.Helper()
	task, err := registry.Task(id)
	if err != nil {
		t.Fatalf("Task(%d): %v", id, err)
	}
	return task
}
