package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"scribe/internal/config"
	"scribe/internal/daemon"
	"scribe/internal/executors"
	"scribe/internal/ipc"
	"scribe/internal/logging"
	"scribe/internal/pipeline"
	"scribe/internal/stage"
	"scribe/internal/testsupport"
	"scribe/internal/workflow"
	"scribe/internal/workitem"
)

type cliTestEnv struct {
	cfg        *config.Config
	daemon     *daemon.Daemon
	socketPath string
	configPath string
	dropDir    string
}

func uploadOnly(providers map[pipeline.StageKind]string) *stage.Registry {
	reg := stage.NewRegistry()
	reg.Register(pipeline.StageUpload, providers[pipeline.StageUpload], stage.ExecutorFunc(func(_ context.Context, req stage.Request) (stage.Result, error) {
		return stage.Result{Items: []workitem.Item{{Name: "up.wav", Kind: workitem.KindAudio, URL: "https://store.example/up.wav"}}}, nil
	}))
	return reg
}

// setupCLITestEnv runs a paused daemon behind a real IPC socket.
func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	t.Setenv("HOME", testsupport.BaseDir(cfg))

	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)

	st := testsupport.MustOpenStore(t, cfg)
	registry, err := workflow.LoadRegistry(context.Background(), st, executors.RegistryOptions(cfg, nil))
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}
	logger := logging.NewNop()
	mgr := workflow.NewManager(cfg, registry, uploadOnly(registry.Providers()), logger)

	daemonCfg := *cfg
	daemonCfg.API.Bind = ""
	d, err := daemon.New(&daemonCfg, st, registry, mgr, logger, daemon.WithLogHub(logging.NewStreamHub(128)))
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := d.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}

	dir, err := os.MkdirTemp("", "scribe-cli")
	if err != nil {
		t.Fatalf("mkdtemp: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	socket := filepath.Join(dir, "cli.sock")
	srv, err := ipc.NewServer(ctx, socket, d, logger)
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping CLI test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(srv.Close)
	time.Sleep(50 * time.Millisecond)

	return &cliTestEnv{
		cfg:        cfg,
		daemon:     d,
		socketPath: socket,
		configPath: configPath,
		dropDir:    filepath.Join(testsupport.BaseDir(cfg), "drop"),
	}
}

func runCLI(t *testing.T, args []string, socket, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if socket != "" {
		flags = append(flags, "--socket", socket)
	}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	content := fmt.Sprintf(
		"[paths]\nstate_dir = %q\nlog_dir = %q\nupload_dir = %q\nworkspace_dir = %q\n\n[api]\nbind = %q\ntoken = %q\n",
		cfg.Paths.StateDir,
		cfg.Paths.LogDir,
		cfg.Paths.UploadDir,
		cfg.Paths.WorkspaceDir,
		"127.0.0.1:7487",
		"cli-secret",
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
