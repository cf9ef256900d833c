package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"scribe/internal/api"
	"scribe/internal/config"
	"scribe/internal/ingest"
	"scribe/internal/logging"
	"scribe/internal/pipeline"
	"scribe/internal/preflight"
	"scribe/internal/store"
	"scribe/internal/workflow"
)

const reclaimReason = "interrupted: daemon restarted"

// Daemon coordinates the background processing services and enforces single-instance execution.
type Daemon struct {
	cfg         *config.Config
	logger      *slog.Logger
	store       *store.Store
	registry    *pipeline.Registry
	workflow    *workflow.Manager
	persistence *workflow.Persistence
	ingest      *ingest.Queue
	watcher     *ingest.Watcher
	api         *apiServer
	logHub      *logging.StreamHub
	checks      []preflight.Result

	lockPath string
	lock     *flock.Flock

	mu     sync.Mutex
	opened bool
	closed bool
	ctx    context.Context
	cancel context.CancelFunc
}

// Option configures optional Daemon behavior.
type Option func(*Daemon)

// WithLogHub exposes buffered log records through the API.
func WithLogHub(hub *logging.StreamHub) Option {
	return func(d *Daemon) { d.logHub = hub }
}

// WithPreflight records startup check results for status reporting.
func WithPreflight(results []preflight.Result) Option {
	return func(d *Daemon) { d.checks = results }
}

// New constructs a daemon around a loaded registry. The daemon owns st and
// closes it in Close.
func New(cfg *config.Config, st *store.Store, registry *pipeline.Registry, wf *workflow.Manager, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil || st == nil || registry == nil || wf == nil {
		return nil, errors.New("daemon requires config, store, registry, and workflow manager")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	queue, err := ingest.NewQueue(cfg, registry, logger)
	if err != nil {
		return nil, fmt.Errorf("ingest queue: %w", err)
	}
	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:         cfg,
		logger:      logging.NewComponentLogger(logger, "daemon"),
		store:       st,
		registry:    registry,
		workflow:    wf,
		persistence: workflow.NewPersistence(registry, st, logger),
		ingest:      queue,
		lockPath:    lockPath,
		lock:        flock.New(lockPath),
	}
	for _, opt := range opts {
		opt(d)
	}
	if dir := strings.TrimSpace(cfg.Ingest.WatchDir); dir != "" {
		debounce := time.Duration(cfg.Ingest.WatchDebounceMillis) * time.Millisecond
		d.watcher = ingest.NewWatcher(dir, debounce, queue, logger)
	}
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Open acquires the instance lock and starts everything except stage
// admission: persistence, recovery of interrupted work, the ingestion queue,
// the watch folder and the HTTP API. Open is idempotent.
func (d *Daemon) Open(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.openLocked(ctx)
}

func (d *Daemon) openLocked(ctx context.Context) error {
	if d.closed {
		return errors.New("daemon closed")
	}
	if d.opened {
		return nil
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another scribe daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	// Persistence outlives the daemon context so Close can flush it.
	if err := d.persistence.Start(context.WithoutCancel(d.ctx)); err != nil {
		d.abortOpen()
		return fmt.Errorf("start persistence: %w", err)
	}
	if n := d.registry.ReclaimInterrupted(reclaimReason); n > 0 {
		logging.WarnWithContext(d.logger, "reclaimed interrupted operations", "operations_reclaimed",
			logging.Int("count", n),
			logging.String(logging.FieldErrorHint, "restart the failed operations once the cause is clear"),
			logging.String(logging.FieldImpact, "the affected tasks wait in error state"),
		)
	}
	if err := d.ingest.Start(d.ctx); err != nil {
		d.persistence.Close()
		d.abortOpen()
		return fmt.Errorf("start ingest: %w", err)
	}
	if d.watcher != nil {
		if err := d.watcher.Start(d.ctx); err != nil {
			logging.WarnWithContext(d.logger, "watch folder unavailable", "watch_start_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check ingest.watch_dir permissions"),
				logging.String(logging.FieldImpact, "dropped files are not picked up automatically"),
			)
			d.watcher = nil
		}
	}
	if err := d.api.start(d.ctx); err != nil {
		if d.watcher != nil {
			_ = d.watcher.Close()
		}
		d.ingest.Close()
		d.persistence.Close()
		d.abortOpen()
		return err
	}
	d.opened = true
	d.logger.Info("scribe daemon opened",
		logging.String("lock", d.lockPath),
		logging.Int("tasks", len(d.registry.Tasks())),
	)
	return nil
}

func (d *Daemon) abortOpen() {
	d.cancel()
	d.ctx, d.cancel = nil, nil
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
}

// Start enables stage admission, opening the daemon first when needed.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.openLocked(ctx); err != nil {
		return err
	}
	if d.workflow.Running() {
		return errors.New("daemon already running")
	}
	if err := d.workflow.Start(d.ctx); err != nil {
		return fmt.Errorf("start workflow: %w", err)
	}
	d.logger.Info("scribe daemon started", logging.String(logging.FieldEventType, "processing_start"))
	return nil
}

// Stop pauses stage admission. Ingestion and the API keep serving, and
// stages already running finish normally.
func (d *Daemon) Stop() {
	if !d.workflow.Running() {
		return
	}
	d.workflow.Stop()
	d.logger.Info("scribe daemon stopped", logging.String(logging.FieldEventType, "processing_stop"))
}

// Close tears everything down, flushes pending persistence and releases the
// lock and the store.
func (d *Daemon) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	opened := d.opened
	cancel := d.cancel
	d.mu.Unlock()

	if opened {
		cancel()
		d.api.stop()
		if d.watcher != nil {
			_ = d.watcher.Close()
		}
		d.ingest.Close()
	}
	d.workflow.Close()
	if opened {
		d.persistence.Close()
		if err := d.persistence.LastError(); err != nil {
			logging.WarnWithContext(d.logger, "final persistence flush incomplete", "persistence_flush_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "inspect the database with scribe status"),
				logging.String(logging.FieldImpact, "recent changes may be lost on restart"),
			)
		}
		if err := d.lock.Unlock(); err != nil {
			d.logger.Warn("failed to release daemon lock", logging.Error(err))
		}
	}
	d.logger.Info("scribe daemon closed")
	return d.store.Close()
}

// Running reports whether stages are being admitted.
func (d *Daemon) Running() bool {
	return d.workflow.Running()
}

// APIAddress returns the HTTP listener address once the daemon is open.
func (d *Daemon) APIAddress() string {
	return d.api.address()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) api.DaemonStatus {
	summary := d.workflow.Status(ctx)
	deps := preflight.CheckSystemDeps(ctx, d.cfg)
	status := api.DaemonStatus{
		Running:       summary.Running,
		PID:           os.Getpid(),
		DatabasePath:  d.store.Path(),
		LockFilePath:  d.lockPath,
		SocketPath:    d.cfg.SocketPath(),
		WatchDir:      d.cfg.Ingest.WatchDir,
		IngestPending: d.ingest.Pending(),
		Workflow: api.WorkflowStatus{
			Running:     summary.Running,
			MaxRunning:  summary.MaxRunning,
			Active:      summary.Load.Running,
			Uploading:   summary.Load.Uploading,
			LastError:   summary.LastError,
			LastTaskID:  summary.LastTaskID,
			Statistics:  api.FromStatistics(summary.Stats),
			StageHealth: api.FromStageHealth(summary.ExecutorHealth),
		},
		Stages:       api.StageDefaults(d.registry.StageDefaults(), d.registry.Providers()),
		Dependencies: make([]api.DependencyStatus, 0, len(deps)),
	}
	for _, dep := range deps {
		status.Dependencies = append(status.Dependencies, api.DependencyStatus{
			Name:        dep.Name,
			Command:     dep.Command,
			Description: dep.Description,
			Optional:    dep.Optional,
			Available:   dep.Available,
			Detail:      dep.Detail,
		})
	}
	for _, check := range d.checks {
		status.Checks = append(status.Checks, api.CheckResult(check))
	}
	return status
}
