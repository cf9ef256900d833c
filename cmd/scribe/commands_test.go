package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"scribe/internal/api"
	"scribe/internal/testsupport"
)

func ingestRecording(t *testing.T, env *cliTestEnv, name string) api.IngestItem {
	t.Helper()
	source := filepath.Join(env.dropDir, name)
	testsupport.WriteMonoWAV(t, source)
	out, _, err := runCLI(t, []string{"ingest", source, "--wait", "--json"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	var item api.IngestItem
	if err := json.Unmarshal([]byte(out), &item); err != nil {
		t.Fatalf("decode ingest output %q: %v", out, err)
	}
	if item.Status != "finished" || len(item.Created) != 1 {
		t.Fatalf("unexpected ingest result %+v", item)
	}
	return item
}

func TestTasksListEmpty(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, err := runCLI(t, []string{"tasks", "list"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("tasks list: %v", err)
	}
	requireContains(t, out, "No tasks")
}

func TestIngestAndInspectTask(t *testing.T) {
	env := setupCLITestEnv(t)
	item := ingestRecording(t, env, "briefing.wav")
	id := strconv.FormatInt(item.Created[0], 10)

	out, _, err := runCLI(t, []string{"tasks", "list"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("tasks list: %v", err)
	}
	requireContains(t, out, "briefing")
	requireContains(t, out, "Pending")

	out, _, err = runCLI(t, []string{"tasks", "show", id}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("tasks show: %v", err)
	}
	requireContains(t, out, "Task "+id)
	requireContains(t, out, "Upload")
	requireContains(t, out, "Speech Recognition")

	out, _, err = runCLI(t, []string{"ingest", "list"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("ingest list: %v", err)
	}
	requireContains(t, out, item.ID)
	requireContains(t, out, "created "+id)

	out, _, err = runCLI(t, []string{"stats"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	requireContains(t, out, "Total")
}

func TestTaskToggleAndPause(t *testing.T) {
	env := setupCLITestEnv(t)
	item := ingestRecording(t, env, "memo.wav")
	id := strconv.FormatInt(item.Created[0], 10)

	out, _, err := runCLI(t, []string{"tasks", "enable", id, "translation"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("tasks enable: %v", err)
	}
	requireContains(t, out, "translation enabled")

	_, _, err = runCLI(t, []string{"tasks", "disable", id, "upload"}, env.socketPath, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "cannot be disabled") {
		t.Fatalf("expected upload toggle to be rejected, got %v", err)
	}

	out, _, err = runCLI(t, []string{"tasks", "pause", id}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("tasks pause: %v", err)
	}
	requireContains(t, out, "paused")

	out, _, err = runCLI(t, []string{"tasks", "list"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("tasks list: %v", err)
	}
	requireContains(t, out, "yes")

	if _, _, err := runCLI(t, []string{"tasks", "resume", id}, env.socketPath, env.configPath); err != nil {
		t.Fatalf("tasks resume: %v", err)
	}

	out, _, err = runCLI(t, []string{"tasks", "remove", id}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("tasks remove: %v", err)
	}
	requireContains(t, out, "Removed "+id)

	_, _, err = runCLI(t, []string{"tasks", "show", id}, env.socketPath, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "no task with id") {
		t.Fatalf("expected missing task error, got %v", err)
	}
}

func TestStageCommands(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"stage", "list"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("stage list: %v", err)
	}
	requireContains(t, out, "summarization")
	requireContains(t, out, "always")

	out, _, err = runCLI(t, []string{"stage", "enable", "summarization"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("stage enable: %v", err)
	}
	requireContains(t, out, "Stage summarization enabled")

	_, _, err = runCLI(t, []string{"stage", "disable", "mastering"}, env.socketPath, env.configPath)
	if err == nil {
		t.Fatal("expected unknown stage to fail")
	}
}

func TestStatusReachableAndOffline(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"status"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "System Status")
	requireContains(t, out, "Paused")
	requireContains(t, out, "Stages")

	missing := filepath.Join(t.TempDir(), "absent.sock")
	out, _, err = runCLI(t, []string{"status"}, missing, env.configPath)
	if err != nil {
		t.Fatalf("offline status: %v", err)
	}
	requireContains(t, out, "Not running")
	requireContains(t, out, "Directories")
}

func TestStopWithoutDaemon(t *testing.T) {
	env := setupCLITestEnv(t)
	missing := filepath.Join(t.TempDir(), "absent.sock")
	_, _, err := runCLI(t, []string{"stop"}, missing, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "scribe start") {
		t.Fatalf("expected dial hint, got %v", err)
	}
}

func TestCompleteRequiresResult(t *testing.T) {
	env := setupCLITestEnv(t)
	_, _, err := runCLI(t, []string{"complete", "7"}, env.socketPath, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "--file or --url") {
		t.Fatalf("expected missing result error, got %v", err)
	}
	_, _, err = runCLI(t, []string{"begin", "zero"}, env.socketPath, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "invalid id") {
		t.Fatalf("expected invalid id error, got %v", err)
	}
}

func TestLogsAndEvents(t *testing.T) {
	env := setupCLITestEnv(t)
	ingestRecording(t, env, "call.wav")

	out, _, err := runCLI(t, []string{"events", "--limit", "50"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	requireContains(t, out, "#1")

	if _, _, err := runCLI(t, []string{"logs", "-n", "10"}, env.socketPath, env.configPath); err != nil {
		t.Fatalf("logs: %v", err)
	}
}

func TestConfigCommands(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"config", "validate"}, "", env.configPath)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")

	out, _, err = runCLI(t, []string{"config", "show"}, "", env.configPath)
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	requireContains(t, out, redacted)
	if strings.Contains(out, "cli-secret") {
		t.Fatalf("token leaked in config show: %q", out)
	}

	target := filepath.Join(t.TempDir(), "nested", "config.toml")
	out, _, err = runCLI(t, []string{"config", "init", "--path", target}, "", "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, target)
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("sample config missing: %v", err)
	}
	_, _, err = runCLI(t, []string{"config", "init", "--path", target}, "", "")
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected overwrite guard, got %v", err)
	}
}

func TestInvalidConfigFailsBeforeDialing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[scheduler]\nmax_running_tasks = 100\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	_, _, err := runCLI(t, []string{"tasks", "list"}, "", path)
	if err == nil || !strings.Contains(err.Error(), "max_running_tasks") {
		t.Fatalf("expected validation error, got %v", err)
	}
}
