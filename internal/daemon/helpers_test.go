package daemon_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"scribe/internal/config"
	"scribe/internal/daemon"
	"scribe/internal/executors"
	"scribe/internal/pipeline"
	"scribe/internal/stage"
	"scribe/internal/testsupport"
	"scribe/internal/workflow"
	"scribe/internal/workitem"
)

// stubExecutors answers every non-interactive stage with one online result.
func stubExecutors(providers map[pipeline.StageKind]string) *stage.Registry {
	reg := stage.NewRegistry()
	for _, kind := range pipeline.StageKinds() {
		if pipeline.StrategyFor(kind).Interactive {
			continue
		}
		reg.Register(kind, providers[kind], stage.ExecutorFunc(func(_ context.Context, req stage.Request) (stage.Result, error) {
			itemKind := workitem.KindTranscript
			if kind == pipeline.StageUpload {
				itemKind = workitem.KindAudio
			}
			name := req.OutputName(kind.String(), ".txt")
			return stage.Result{
				Items:    []workitem.Item{{Name: name, OriginalName: name, Kind: itemKind, URL: "https://store.example/" + name}},
				Protocol: kind.String() + " ok",
			}, nil
		}))
	}
	return reg
}

func newDaemon(t *testing.T, cfg *config.Config) *daemon.Daemon {
	t.Helper()
	st := testsupport.MustOpenStore(t, cfg)
	registry, err := workflow.LoadRegistry(context.Background(), st, executors.RegistryOptions(cfg, nil))
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}
	mgr := workflow.NewManager(cfg, registry, stubExecutors(registry.Providers()), nil)
	d, err := daemon.New(cfg, st, registry, mgr, nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func recording(t *testing.T, cfg *config.Config, name string) string {
	t.Helper()
	path := filepath.Join(testsupport.BaseDir(cfg), "drop", name)
	if strings.HasSuffix(name, ".wav") {
		testsupport.WriteMonoWAV(t, path)
	} else {
		testsupport.WriteTranscript(t, path, "hello world\n")
	}
	return path
}

func ctxWithTimeout(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// waitForTask polls until the task reaches status or the test times out.
func waitForTask(t *testing.T, d *daemon.Daemon, id int64, status string) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		task, err := d.Task(id)
		if err != nil {
			t.Fatalf("Task(%d): %v", id, err)
		}
		if task.Status == status {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	task, _ := d.Task(id)
	t.Fatalf("task %d never reached %s (last %s)", id, status, task.Status)
}
