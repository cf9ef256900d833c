package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"scribe/internal/api"
	"scribe/internal/config"
	"scribe/internal/ipc"
	"scribe/internal/pipeline"
	"scribe/internal/preflight"
	"scribe/internal/store"
)

// LaunchOptions controls daemon process launch behavior.
type LaunchOptions struct {
	ConfigPath string
	Diagnostic bool
}

type StartState string

const (
	StartStateStarted        StartState = "started"
	StartStateAlreadyRunning StartState = "already_running"
	StartStateRequested      StartState = "start_requested"
)

// StartResult captures daemon start orchestration state.
type StartResult struct {
	State    StartState
	Launched bool
	Message  string
}

// ErrDaemonNotRunning indicates daemon IPC is unavailable.
var ErrDaemonNotRunning = errors.New("daemon not running")

// Launch starts a detached scribe daemon process.
func Launch(executablePath string, opts LaunchOptions) error {
	if strings.TrimSpace(executablePath) == "" {
		return fmt.Errorf("resolve executable: executable path is empty")
	}

	args := []string{"daemon"}
	if cfg := strings.TrimSpace(opts.ConfigPath); cfg != "" {
		args = append(args, "--config", cfg)
	}
	if opts.Diagnostic {
		args = append(args, "--diagnostic")
	}

	proc := exec.Command(executablePath, args...)
	proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch daemon: %w", err)
	}
	return proc.Process.Release()
}

// WaitForClient waits for IPC socket availability and returns a connected client.
func WaitForClient(socketPath string, timeout time.Duration) (*ipc.Client, error) {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		client, err := ipc.Dial(socketPath)
		if err == nil {
			return client, nil
		}
		lastErr = err
		time.Sleep(200 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("timeout waiting for daemon")
	}
	return nil, fmt.Errorf("daemon failed to start: %w", lastErr)
}

// EnsureStarted launches the daemon when no process answers on the socket
// and enables processing.
func EnsureStarted(socketPath, executablePath string, opts LaunchOptions, waitTimeout time.Duration) (StartResult, error) {
	client, err := ipc.Dial(socketPath)
	launched := false
	if err != nil {
		if launchErr := Launch(executablePath, opts); launchErr != nil {
			return StartResult{}, launchErr
		}
		client, err = WaitForClient(socketPath, waitTimeout)
		if err != nil {
			return StartResult{}, err
		}
		launched = true
	}
	defer client.Close()

	statusResp, statusErr := client.Status()
	if statusErr == nil && statusResp.Status.Running {
		if launched {
			return StartResult{State: StartStateStarted, Launched: true}, nil
		}
		return StartResult{State: StartStateAlreadyRunning}, nil
	}

	resp, err := client.Start()
	if err != nil {
		return StartResult{}, err
	}
	message := strings.TrimSpace(resp.Message)
	switch {
	case resp.Started:
		return StartResult{State: StartStateStarted, Launched: launched, Message: message}, nil
	case strings.Contains(message, "already running") && launched:
		return StartResult{State: StartStateStarted, Launched: true, Message: message}, nil
	case strings.Contains(message, "already running"):
		return StartResult{State: StartStateAlreadyRunning, Message: message}, nil
	case message != "":
		return StartResult{State: StartStateRequested, Launched: launched, Message: message}, nil
	}
	return StartResult{State: StartStateRequested, Launched: launched, Message: "Start request sent"}, nil
}

// WaitForShutdown waits until nothing answers on the socket.
func WaitForShutdown(socketPath string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		client, err := ipc.Dial(socketPath)
		if err != nil && isDaemonUnavailable(err) {
			return nil
		}
		if client != nil {
			_ = client.Close()
		}
		time.Sleep(200 * time.Millisecond)
	}
	return fmt.Errorf("daemon did not exit within %s", timeout)
}

// ProcessInfo returns whether daemon IPC is reachable and the daemon PID when available.
func ProcessInfo(socketPath string) (bool, int, error) {
	client, err := ipc.Dial(socketPath)
	if err != nil {
		if isDaemonUnavailable(err) {
			return false, 0, nil
		}
		return false, 0, err
	}
	defer client.Close()
	status, statusErr := client.Status()
	if statusErr != nil {
		return true, 0, statusErr
	}
	return true, status.Status.PID, nil
}

// ReadPID returns the pid recorded by a running daemon, or 0.
func ReadPID(cfg *config.Config) int {
	if cfg == nil {
		return 0
	}
	data, err := os.ReadFile(PIDPath(cfg))
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0
	}
	return pid
}

// PIDPath is where the daemon records its process id.
func PIDPath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.StateDir, "scribe.pid")
}

// TerminateResult captures how the daemon process went away.
type TerminateResult struct {
	PID        int
	ForcedKill bool
}

// Terminate asks the daemon process to exit with SIGTERM and falls back to
// SIGKILL once gracePeriod passes. Running stages are left for the next boot
// to reclaim.
func Terminate(socketPath string, cfg *config.Config, gracePeriod time.Duration) (TerminateResult, error) {
	alive, pid, err := ProcessInfo(socketPath)
	if err != nil && !alive {
		return TerminateResult{}, err
	}
	if !alive {
		return TerminateResult{}, ErrDaemonNotRunning
	}
	if pid == 0 {
		pid = ReadPID(cfg)
	}
	if pid <= 0 {
		return TerminateResult{}, fmt.Errorf("unable to determine daemon pid (pid file: %s)", PIDPath(cfg))
	}
	if pid == os.Getpid() {
		return TerminateResult{}, fmt.Errorf("refusing to signal current process (pid %d)", pid)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return TerminateResult{}, fmt.Errorf("locate daemon process %d: %w", pid, err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return TerminateResult{}, fmt.Errorf("signal daemon process %d: %w", pid, err)
	}
	result := TerminateResult{PID: pid}
	if WaitForShutdown(socketPath, gracePeriod) == nil {
		return result, nil
	}
	if err := proc.Kill(); err != nil {
		return result, fmt.Errorf("kill daemon process %d: %w", pid, err)
	}
	_ = os.Remove(PIDPath(cfg))
	_ = os.Remove(socketPath)
	result.ForcedKill = true
	return result, nil
}

// RestartResult captures terminate/start outcomes for a daemon restart.
type RestartResult struct {
	WasRunning bool
	Terminate  TerminateResult
	Start      StartResult
}

// Restart terminates the daemon if it runs and launches a fresh one.
func Restart(socketPath string, cfg *config.Config, executablePath string, opts LaunchOptions, gracePeriod, startWaitTimeout time.Duration) (RestartResult, error) {
	term, termErr := Terminate(socketPath, cfg, gracePeriod)
	if termErr != nil && !errors.Is(termErr, ErrDaemonNotRunning) {
		return RestartResult{}, termErr
	}
	start, err := EnsureStarted(socketPath, executablePath, opts, startWaitTimeout)
	if err != nil {
		return RestartResult{}, err
	}
	return RestartResult{WasRunning: termErr == nil, Terminate: term, Start: start}, nil
}

// StatusLine is one rendered row of the status report.
type StatusLine struct {
	Label    string
	Severity string
	Detail   string
}

// DependencySummary aggregates dependency readiness.
type DependencySummary struct {
	Total           int
	Available       int
	MissingRequired int
	MissingOptional int
	Severity        string
	Detail          string
}

// Snapshot is the status report the CLI renders.
type Snapshot struct {
	Reachable    bool
	Status       api.DaemonStatus
	SystemChecks []StatusLine
	Directories  []StatusLine
	Dependencies DependencySummary
	// TaskCounts holds persisted task counts by status when the daemon
	// is not reachable.
	TaskCounts map[string]int
}

// BuildStatusSnapshot collects daemon status and falls back to reading the
// database directly when the daemon is offline.
func BuildStatusSnapshot(ctx context.Context, socketPath string, cfg *config.Config) (Snapshot, error) {
	if cfg == nil {
		return Snapshot{}, errors.New("configuration not available")
	}
	snap := Snapshot{}
	if client, err := ipc.Dial(socketPath); err == nil {
		if resp, statusErr := client.Status(); statusErr == nil {
			snap.Reachable = true
			snap.Status = resp.Status
		}
		_ = client.Close()
	}

	if !snap.Reachable {
		snap.Status = api.DaemonStatus{
			DatabasePath: cfg.DatabasePath(),
			LockFilePath: cfg.LockPath(),
			SocketPath:   socketPath,
			WatchDir:     cfg.Ingest.WatchDir,
			Dependencies: ResolveDependencies(ctx, cfg),
		}
		snap.TaskCounts = offlineTaskCounts(ctx, cfg)
	}

	snap.SystemChecks = BuildSystemChecks(cfg, snap)
	snap.Directories = BuildDirectoryChecks(cfg)
	snap.Dependencies = BuildDependencySummary(snap.Status.Dependencies)
	return snap, nil
}

func offlineTaskCounts(ctx context.Context, cfg *config.Config) map[string]int {
	if _, err := os.Stat(cfg.DatabasePath()); err != nil {
		return nil
	}
	queryCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	st, err := store.Open(cfg)
	if err != nil {
		return nil
	}
	defer st.Close()
	stats, err := st.Stats(queryCtx)
	if err != nil {
		return nil
	}
	out := make(map[string]int, len(stats))
	for status, count := range stats {
		out[string(status)] = count
	}
	return out
}

// DatabaseHealth opens the state database and runs its integrity check.
func DatabaseHealth(ctx context.Context, cfg *config.Config) (store.DatabaseHealth, error) {
	st, err := store.Open(cfg)
	if err != nil {
		return store.DatabaseHealth{Path: cfg.DatabasePath()}, err
	}
	defer st.Close()
	return st.CheckHealth(ctx)
}

func isDaemonUnavailable(err error) bool {
	return os.IsNotExist(err) ||
		errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, syscall.ENOENT) ||
		errors.Is(err, syscall.ECONNREFUSED)
}

// ResolveDependencies returns current dependency availability for status output.
func ResolveDependencies(ctx context.Context, cfg *config.Config) []api.DependencyStatus {
	checks := preflight.CheckSystemDeps(ctx, cfg)
	out := make([]api.DependencyStatus, 0, len(checks))
	for _, check := range checks {
		out = append(out, api.DependencyStatus{
			Name:        check.Name,
			Command:     check.Command,
			Description: check.Description,
			Optional:    check.Optional,
			Available:   check.Available,
			Detail:      check.Detail,
		})
	}
	return out
}

// BuildSystemChecks resolves status lines that combine runtime state and
// configuration.
func BuildSystemChecks(cfg *config.Config, snap Snapshot) []StatusLine {
	lines := make([]StatusLine, 0, 5)
	switch {
	case !snap.Reachable:
		lines = append(lines, StatusLine{Label: "Scribe", Severity: "warn", Detail: "Not running (run `scribe start`)"})
	case snap.Status.Running:
		lines = append(lines, StatusLine{Label: "Scribe", Severity: "ok", Detail: fmt.Sprintf("Processing (pid %d)", snap.Status.PID)})
	default:
		lines = append(lines, StatusLine{Label: "Scribe", Severity: "warn", Detail: fmt.Sprintf("Paused (pid %d)", snap.Status.PID)})
	}

	if snap.Reachable {
		wf := snap.Status.Workflow
		detail := fmt.Sprintf("%d/%d running", wf.Active, wf.MaxRunning)
		severity := "ok"
		if wf.Uploading {
			detail += ", uploading (admission held)"
			severity = "info"
		}
		lines = append(lines, StatusLine{Label: "Scheduler", Severity: severity, Detail: detail})
		if wf.LastError != "" {
			lines = append(lines, StatusLine{Label: "Last Error", Severity: "warn", Detail: wf.LastError})
		}
	}

	if dir := strings.TrimSpace(cfg.Ingest.WatchDir); dir != "" {
		lines = append(lines, StatusLine{Label: "Watch Folder", Severity: "ok", Detail: dir})
	} else {
		lines = append(lines, StatusLine{Label: "Watch Folder", Severity: "info", Detail: "Disabled"})
	}

	if strings.TrimSpace(cfg.Notifications.NtfyTopic) != "" {
		lines = append(lines, StatusLine{Label: "Notifications", Severity: "ok", Detail: "Configured"})
	} else {
		lines = append(lines, StatusLine{Label: "Notifications", Severity: "info", Detail: "Not configured"})
	}

	if bind := strings.TrimSpace(cfg.API.Bind); bind != "" {
		detail := bind
		if cfg.API.Token == "" {
			detail += " (no token)"
		}
		lines = append(lines, StatusLine{Label: "HTTP API", Severity: "ok", Detail: detail})
	} else {
		lines = append(lines, StatusLine{Label: "HTTP API", Severity: "info", Detail: "Disabled"})
	}
	return lines
}

// BuildDirectoryChecks resolves configured directory readiness.
func BuildDirectoryChecks(cfg *config.Config) []StatusLine {
	dirs := []struct {
		label string
		path  string
	}{
		{"State", cfg.Paths.StateDir},
		{"Uploads", cfg.Paths.UploadDir},
		{"Workspace", cfg.Paths.WorkspaceDir},
	}
	if cfg.Ingest.WatchDir != "" {
		dirs = append(dirs, struct {
			label string
			path  string
		}{"Watch", cfg.Ingest.WatchDir})
	}
	lines := make([]StatusLine, 0, len(dirs))
	for _, dir := range dirs {
		result := preflight.CheckDirectoryAccess(dir.label, dir.path)
		severity := "error"
		if result.Passed {
			severity = "ok"
		}
		lines = append(lines, StatusLine{Label: dir.label, Severity: severity, Detail: result.Detail})
	}
	return lines
}

// BuildDependencySummary computes aggregate dependency readiness.
func BuildDependencySummary(deps []api.DependencyStatus) DependencySummary {
	if len(deps) == 0 {
		return DependencySummary{Severity: "info", Detail: "No external tools required"}
	}
	missingRequired, missingOptional := 0, 0
	for _, dep := range deps {
		switch {
		case dep.Available:
		case dep.Optional:
			missingOptional++
		default:
			missingRequired++
		}
	}
	missing := missingRequired + missingOptional
	available := len(deps) - missing
	severity := "ok"
	if missingRequired > 0 {
		severity = "error"
	} else if missingOptional > 0 {
		severity = "warn"
	}
	detail := fmt.Sprintf("%d/%d available", available, len(deps))
	if missing > 0 {
		detail = fmt.Sprintf("%d/%d available (missing: %d required, %d optional)", available, len(deps), missingRequired, missingOptional)
	}
	return DependencySummary{
		Total:           len(deps),
		Available:       available,
		MissingRequired: missingRequired,
		MissingOptional: missingOptional,
		Severity:        severity,
		Detail:          detail,
	}
}

// StatusCount is one status bucket of the offline task counts.
type StatusCount struct {
	Status string
	Count  int
}

// OrderedCounts lists task counts in lifecycle order for rendering.
func OrderedCounts(counts map[string]int) []StatusCount {
	statuses := []pipeline.Status{
		pipeline.StatusPending, pipeline.StatusQueued, pipeline.StatusUploading, pipeline.StatusProcessing,
		pipeline.StatusReady, pipeline.StatusFinished, pipeline.StatusError,
	}
	out := make([]StatusCount, 0, len(statuses))
	for _, status := range statuses {
		if n, ok := counts[string(status)]; ok {
			out = append(out, StatusCount{Status: string(status), Count: n})
		}
	}
	return out
}
