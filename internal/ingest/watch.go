package ingest

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"scribe/internal/logging"
	"scribe/internal/workitem"
)

const watchTick = 50 * time.Millisecond

// Watcher enqueues paths that appear in a watch folder. Activity anywhere
// inside a new directory keeps the whole directory pending until it has been
// quiet for the debounce, so half-copied trees are not ingested.
type Watcher struct {
	dir      string
	debounce time.Duration
	queue    *Queue
	logger   *slog.Logger

	watcher *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWatcher prepares a watcher for dir; nothing is observed until Start.
func NewWatcher(dir string, debounce time.Duration, queue *Queue, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Watcher{
		dir:      filepath.Clean(dir),
		debounce: debounce,
		queue:    queue,
		logger:   logging.NewComponentLogger(logger, "watcher"),
		pending:  make(map[string]time.Time),
	}
}

// Start begins watching. Files already present are left alone.
func (w *Watcher) Start(ctx context.Context) error {
	if w.watcher != nil {
		return errors.New("watcher already running")
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = fsw
	if err := w.addRecursive(w.dir); err != nil {
		_ = fsw.Close()
		w.watcher = nil
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.wg.Add(2)
	go w.processEvents(runCtx)
	go w.processPending(runCtx)

	w.logger.Info("watching for new recordings",
		logging.String("watch_dir", w.dir),
		logging.Duration("debounce", w.debounce),
	)
	return nil
}

// Close stops watching. Pending paths that have not settled are dropped.
func (w *Watcher) Close() error {
	if w.watcher == nil {
		return nil
	}
	w.cancel()
	err := w.watcher.Close()
	w.wg.Wait()
	w.watcher = nil
	return err
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && hidden(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			w.logger.Debug("watch add failed", logging.String("path", path), logging.Error(err))
		}
		return nil
	})
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.WarnWithContext(w.logger, "watch error", "watch_error",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the watch folder permissions"),
				logging.String(logging.FieldImpact, "some dropped files may need to be ingested manually"),
			)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	top, ok := w.topLevel(event.Name)
	if !ok {
		return
	}
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = w.addRecursive(event.Name)
		}
	}
	if (event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)) && top == event.Name {
		w.mu.Lock()
		delete(w.pending, top)
		w.mu.Unlock()
		return
	}
	if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		w.mu.Lock()
		w.pending[top] = time.Now()
		w.mu.Unlock()
	}
}

// topLevel maps a path under the watch folder to its direct child.
func (w *Watcher) topLevel(path string) (string, bool) {
	rel, err := filepath.Rel(w.dir, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	first := strings.SplitN(rel, string(filepath.Separator), 2)[0]
	if hidden(first) {
		return "", false
	}
	return filepath.Join(w.dir, first), true
}

func (w *Watcher) processPending(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(watchTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, path := range w.due(now) {
				w.enqueue(path)
			}
		}
	}
}

func (w *Watcher) due(now time.Time) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []string
	for path, changed := range w.pending {
		if now.Sub(changed) >= w.debounce {
			out = append(out, path)
			delete(w.pending, path)
		}
	}
	return out
}

func (w *Watcher) enqueue(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if !info.IsDir() && !workitem.Supported(path) {
		w.logger.Debug("ignoring unsupported file", logging.String("path", path))
		return
	}
	if _, err := w.queue.Enqueue(path, ""); err != nil {
		logging.WarnWithContext(w.logger, "watch enqueue failed", "watch_enqueue_failed",
			logging.String("path", path),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "ingest the path manually"),
		)
	}
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".")
}
