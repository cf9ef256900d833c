package daemonctl_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"scribe/internal/api"
	"scribe/internal/daemonctl"
	"scribe/internal/testsupport"
)

func TestBuildDependencySummary(t *testing.T) {
	summary := daemonctl.BuildDependencySummary(nil)
	if summary.Severity != "info" {
		t.Fatalf("empty summary severity = %s", summary.Severity)
	}

	summary = daemonctl.BuildDependencySummary([]api.DependencyStatus{
		{Name: "WhisperX", Available: true},
		{Name: "Aligner", Optional: true},
	})
	if summary.Severity != "warn" || summary.Available != 1 || summary.MissingOptional != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	summary = daemonctl.BuildDependencySummary([]api.DependencyStatus{{Name: "WhisperX"}})
	if summary.Severity != "error" || summary.MissingRequired != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestOfflineSnapshot(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	snap, err := daemonctl.BuildStatusSnapshot(context.Background(), cfg.SocketPath(), cfg)
	if err != nil {
		t.Fatalf("BuildStatusSnapshot: %v", err)
	}
	if snap.Reachable {
		t.Fatal("no daemon should be reachable")
	}
	if len(snap.SystemChecks) == 0 || snap.SystemChecks[0].Label != "Scribe" || snap.SystemChecks[0].Severity != "warn" {
		t.Fatalf("unexpected system checks %+v", snap.SystemChecks)
	}
	if snap.Status.DatabasePath != cfg.DatabasePath() {
		t.Fatalf("offline status should name the database, got %q", snap.Status.DatabasePath)
	}
	for _, line := range snap.Directories {
		if line.Severity != "ok" {
			t.Fatalf("expected configured directories to be usable, got %+v", line)
		}
	}
}

func TestOfflineSnapshotReadsTaskCounts(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	health, err := daemonctl.DatabaseHealth(context.Background(), cfg)
	if err != nil {
		t.Fatalf("DatabaseHealth: %v", err)
	}
	if !health.IntegrityOK || health.Tasks != 0 {
		t.Fatalf("unexpected health %+v", health)
	}
	snap, err := daemonctl.BuildStatusSnapshot(context.Background(), cfg.SocketPath(), cfg)
	if err != nil {
		t.Fatalf("BuildStatusSnapshot: %v", err)
	}
	if snap.TaskCounts == nil || len(snap.TaskCounts) != 0 {
		t.Fatalf("expected empty task counts, got %+v", snap.TaskCounts)
	}
}

func TestOrderedCounts(t *testing.T) {
	got := daemonctl.OrderedCounts(map[string]int{"error": 1, "pending": 3, "finished": 2})
	if len(got) != 3 || got[0].Status != "pending" || got[1].Status != "finished" || got[2].Count != 1 {
		t.Fatalf("unexpected order %+v", got)
	}
}

func TestReadPID(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if pid := daemonctl.ReadPID(cfg); pid != 0 {
		t.Fatalf("missing pid file should read 0, got %d", pid)
	}
	if err := os.MkdirAll(filepath.Dir(daemonctl.PIDPath(cfg)), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(daemonctl.PIDPath(cfg), []byte("4242\n"), 0o644); err != nil {
		t.Fatalf("write pid: %v", err)
	}
	if pid := daemonctl.ReadPID(cfg); pid != 4242 {
		t.Fatalf("ReadPID = %d", pid)
	}
}

func TestTerminateWithoutDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	_, err := daemonctl.Terminate(cfg.SocketPath(), cfg, 100*time.Millisecond)
	if !errors.Is(err, daemonctl.ErrDaemonNotRunning) {
		t.Fatalf("expected ErrDaemonNotRunning, got %v", err)
	}
	if err := daemonctl.WaitForShutdown(cfg.SocketPath(), 100*time.Millisecond); err != nil {
		t.Fatalf("WaitForShutdown without daemon: %v", err)
	}
}
