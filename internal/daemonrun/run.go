package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"scribe/internal/config"
	"scribe/internal/daemon"
	"scribe/internal/executors"
	"scribe/internal/ipc"
	"scribe/internal/logging"
	"scribe/internal/notifications"
	"scribe/internal/preflight"
	"scribe/internal/store"
	"scribe/internal/workflow"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	// Diagnostic tees every record at debug level into a JSON file under
	// the log directory.
	Diagnostic bool
}

// Run starts the scribe daemon and blocks until SIGINT or SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logHub := logging.NewStreamHub(4096)
	logger, logPath, err := newLogger(cfg, opts, logHub)
	if err != nil {
		return err
	}
	logging.PruneLogs(logger, cfg.Paths.LogDir, "scribe-*.log", cfg.Logging.RetentionDays, logPath)
	logging.PruneLogs(logger, filepath.Join(cfg.Paths.LogDir, "debug"), "scribe-*.log", cfg.Logging.RetentionDays)

	pidPath := filepath.Join(cfg.Paths.StateDir, "scribe.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	st, err := store.Open(cfg)
	if err != nil {
		logger.Error("open state store", logging.Error(err))
		return err
	}

	registry, err := workflow.LoadRegistry(signalCtx, st, executors.RegistryOptions(cfg, logger))
	if err != nil {
		_ = st.Close()
		return fmt.Errorf("load registry: %w", err)
	}
	stages := executors.Build(cfg, logger)
	mgr := workflow.NewManager(cfg, registry, stages, logger,
		workflow.WithNotifier(notifications.NewService(cfg)))

	checks := preflight.RunAll(signalCtx, cfg)
	logPreflight(logger, checks)

	d, err := daemon.New(cfg, st, registry, mgr, logger,
		daemon.WithLogHub(logHub),
		daemon.WithPreflight(checks),
	)
	if err != nil {
		_ = st.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Open(signalCtx); err != nil {
		return fmt.Errorf("open daemon: %w", err)
	}

	ipcServer, err := ipc.NewServer(signalCtx, cfg.SocketPath(), d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if err := d.Start(signalCtx); err != nil {
		logging.WarnWithContext(logger, "processing start failed", "processing_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "run scribe start once the cause is fixed"),
			logging.String(logging.FieldImpact, "tasks are ingested but not processed"),
		)
	}
	logger.Info("scribe daemon ready",
		logging.String("socket", cfg.SocketPath()),
		logging.String("api", d.APIAddress()),
	)

	<-signalCtx.Done()
	logger.Info("scribe daemon shutting down")
	return nil
}

func newLogger(cfg *config.Config, opts Options, hub *logging.StreamHub) (*slog.Logger, string, error) {
	if err := os.MkdirAll(cfg.Paths.LogDir, 0o755); err != nil {
		return nil, "", fmt.Errorf("ensure log directory: %w", err)
	}
	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("scribe-%s.log", runID))

	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", logPath},
		Development: opts.Development,
		Stream:      hub,
	})
	if err != nil {
		return nil, "", fmt.Errorf("init logger: %w", err)
	}
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update scribe.log link: %v\n", err)
	}

	if opts.Diagnostic {
		debugDir := filepath.Join(cfg.Paths.LogDir, "debug")
		if err := os.MkdirAll(debugDir, 0o755); err != nil {
			return nil, "", fmt.Errorf("create debug log directory: %w", err)
		}
		debugPath := filepath.Join(debugDir, fmt.Sprintf("scribe-%s.log", runID))
		handler, err := logging.NewJSONFileLogger(debugPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warn: unable to initialize debug logger: %v\n", err)
		} else {
			logger = logging.TeeLogger(logger, handler)
			logger.Info("diagnostic mode enabled",
				logging.String(logging.FieldEventType, "diagnostic_mode_enabled"),
				logging.String("debug_log_path", debugPath),
			)
		}
	}
	return logger, logPath, nil
}

func logPreflight(logger *slog.Logger, checks []preflight.Result) {
	for _, check := range checks {
		if check.Passed {
			logger.Debug("preflight check passed", logging.String("check", check.Name))
			continue
		}
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", check.Name),
			logging.String("detail", check.Detail),
			logging.String(logging.FieldErrorHint, "run scribe config validate for details"),
			logging.String(logging.FieldImpact, "stages relying on this check will fail"),
		)
	}
}

// ensureCurrentLogPointer points scribe.log at the newest run log.
func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "scribe.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
