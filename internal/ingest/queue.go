package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"scribe/internal/config"
	"scribe/internal/logging"
	"scribe/internal/pipeline"
	"scribe/internal/services"
	"scribe/internal/workitem"
)

// historyLimit bounds how many settled items List keeps reporting.
const historyLimit = 200

// Queue serializes ingestion of dropped paths.
type Queue struct {
	classifier  *workitem.Classifier
	registry    *pipeline.Registry
	logger      *slog.Logger
	policy      workitem.SplitPolicy
	hashWorkers int
	now         func() time.Time

	mu     sync.Mutex
	items  map[string]*entry
	order  []string
	signal chan struct{}

	runMu  sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type entry struct {
	item Item
	err  error
	// settled is closed whenever the item leaves the worker, and replaced
	// when a split decision sends it back.
	settled chan struct{}
}

// NewQueue constructs a queue that classifies with cfg's ingest settings and
// inserts into registry.
func NewQueue(cfg *config.Config, registry *pipeline.Registry, logger *slog.Logger) (*Queue, error) {
	policy, err := workitem.ParseSplitPolicy(cfg.Ingest.SplitPolicy)
	if err != nil {
		return nil, err
	}
	workers := cfg.Ingest.HashWorkers
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Queue{
		classifier: workitem.NewClassifier(workitem.Options{
			MaxHashBytes: cfg.Ingest.MaxHashBytes,
			WorkspaceDir: cfg.Paths.WorkspaceDir,
		}, logger),
		registry:    registry,
		logger:      logging.NewComponentLogger(logger, "ingest"),
		policy:      policy,
		hashWorkers: workers,
		now:         func() time.Time { return time.Now().UTC() },
		items:       make(map[string]*entry),
		signal:      make(chan struct{}, 1),
	}, nil
}

// Start launches the worker. It stops when ctx ends or Close is called.
func (q *Queue) Start(ctx context.Context) error {
	q.runMu.Lock()
	defer q.runMu.Unlock()
	if q.cancel != nil {
		return errors.New("ingest queue already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.wg.Add(1)
	go q.run(runCtx)
	return nil
}

// Close stops the worker and waits for the item in progress.
func (q *Queue) Close() {
	q.runMu.Lock()
	cancel := q.cancel
	q.cancel = nil
	q.runMu.Unlock()
	if cancel != nil {
		cancel()
		q.wg.Wait()
	}
}

// DefaultPolicy returns the split policy used when Enqueue gets none.
func (q *Queue) DefaultPolicy() workitem.SplitPolicy {
	return q.policy
}

// Enqueue registers path for ingestion and returns immediately. An empty
// policy selects the configured default.
func (q *Queue) Enqueue(path string, policy workitem.SplitPolicy) (Item, error) {
	_, item, err := q.enqueue(path, policy)
	return item, err
}

func (q *Queue) enqueue(path string, policy workitem.SplitPolicy) (*entry, Item, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, Item{}, services.Wrap(services.ErrValidation, "ingest", "enqueue", "path is required", nil)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, Item{}, services.Wrap(services.ErrValidation, "ingest", "enqueue", "resolve path", err)
	}
	if policy == "" {
		policy = q.policy
	}

	now := q.now()
	e := &entry{
		item: Item{
			ID:        uuid.NewString(),
			Path:      abs,
			Status:    StatusPending,
			Policy:    policy,
			CreatedAt: now,
			UpdatedAt: now,
		},
		settled: make(chan struct{}),
	}
	q.mu.Lock()
	q.items[e.item.ID] = e
	q.order = append(q.order, e.item.ID)
	snapshot := e.item.clone()
	q.mu.Unlock()

	q.logger.Info("path queued for ingestion",
		logging.String(logging.FieldQueueItemID, snapshot.ID),
		logging.String("path", abs),
		logging.String("split_policy", string(policy)),
		logging.String(logging.FieldEventType, "ingest_enqueued"),
	)
	q.wake()
	return e, snapshot, nil
}

// Process enqueues path and waits until the worker settles it. A
// classification or dedup failure is returned here as well as published.
// When ctx ends first the item's current state is returned with ctx's error.
func (q *Queue) Process(ctx context.Context, path string, policy workitem.SplitPolicy) (Item, error) {
	e, _, err := q.enqueue(path, policy)
	if err != nil {
		return Item{}, err
	}
	return q.await(ctx, e)
}

// Wait blocks until the item with id is settled and returns its state.
func (q *Queue) Wait(ctx context.Context, id string) (Item, error) {
	q.mu.Lock()
	e, ok := q.items[id]
	q.mu.Unlock()
	if !ok {
		return Item{}, notFound(id)
	}
	return q.await(ctx, e)
}

func (q *Queue) await(ctx context.Context, e *entry) (Item, error) {
	q.mu.Lock()
	settled := e.settled
	q.mu.Unlock()

	select {
	case <-ctx.Done():
		q.mu.Lock()
		defer q.mu.Unlock()
		return e.item.clone(), ctx.Err()
	case <-settled:
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return e.item.clone(), e.err
}

// ResolveSplitDecision resumes an item waiting for a split policy.
func (q *Queue) ResolveSplitDecision(id string, policy workitem.SplitPolicy) (Item, error) {
	if policy == workitem.SplitPending || policy == "" {
		return Item{}, services.Wrap(services.ErrValidation, "ingest", "split", "a concrete split policy is required", nil)
	}
	q.mu.Lock()
	e, ok := q.items[id]
	if !ok {
		q.mu.Unlock()
		return Item{}, notFound(id)
	}
	if e.item.Status != StatusWaitForSplit {
		status := e.item.Status
		q.mu.Unlock()
		return Item{}, services.Wrap(services.ErrValidation, "ingest", "split",
			fmt.Sprintf("item %s is %s, not waiting for a split decision", id, status), nil)
	}
	e.item.Policy = policy
	e.item.Channels = 0
	e.item.Status = StatusPending
	e.item.UpdatedAt = q.now()
	e.settled = make(chan struct{})
	snapshot := e.item.clone()
	q.mu.Unlock()

	q.logger.Info("split decision received",
		logging.String(logging.FieldQueueItemID, id),
		logging.String("split_policy", string(policy)),
	)
	q.wake()
	return snapshot, nil
}

// Remove withdraws an item that is not being processed.
func (q *Queue) Remove(id string) (Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.items[id]
	if !ok {
		return Item{}, notFound(id)
	}
	switch e.item.Status {
	case StatusProcessing:
		return Item{}, services.Wrap(services.ErrValidation, "ingest", "remove",
			fmt.Sprintf("item %s is being processed", id), nil)
	case StatusRemoved:
		return e.item.clone(), nil
	}
	wasSettled := e.item.Status.Settled()
	e.item.Status = StatusRemoved
	e.item.UpdatedAt = q.now()
	if !wasSettled {
		close(e.settled)
	}
	q.pruneLocked()
	return e.item.clone(), nil
}

// Get returns one item.
func (q *Queue) Get(id string) (Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.items[id]
	if !ok {
		return Item{}, notFound(id)
	}
	return e.item.clone(), nil
}

// List returns every known item in arrival order.
func (q *Queue) List() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Item, 0, len(q.order))
	for _, id := range q.order {
		out = append(out, q.items[id].item.clone())
	}
	return out
}

// ClassifyResult turns a locally edited file into a work item, for example
// a transcript handed back by an interactive tool.
func (q *Queue) ClassifyResult(path string) (workitem.Item, error) {
	return q.classifier.Classify(path)
}

// Pending reports how many items still need the worker.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, e := range q.items {
		if !e.item.Status.Settled() {
			n++
		}
	}
	return n
}

func (q *Queue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *Queue) run(ctx context.Context) {
	defer q.wg.Done()
	for {
		e := q.next()
		if e == nil {
			select {
			case <-ctx.Done():
				return
			case <-q.signal:
			}
			continue
		}
		q.process(ctx, e)
		if ctx.Err() != nil {
			return
		}
	}
}

// next claims the oldest pending item.
func (q *Queue) next() *entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, id := range q.order {
		e := q.items[id]
		if e.item.Status == StatusPending {
			e.item.Status = StatusProcessing
			e.item.UpdatedAt = q.now()
			return e
		}
	}
	return nil
}

func (q *Queue) process(ctx context.Context, e *entry) {
	q.mu.Lock()
	item := e.item.clone()
	q.mu.Unlock()
	logger := q.logger.With(logging.String(logging.FieldQueueItemID, item.ID), logging.String("path", item.Path))

	req, channels, err := q.classify(ctx, item.Path, item.Policy)
	if err != nil {
		if ctx.Err() != nil {
			q.requeue(e)
			return
		}
		q.fail(logger, e, err)
		return
	}
	if channels > 0 {
		q.wait(logger, e, channels)
		return
	}
	outcome, err := q.registry.Ingest(req)
	if err != nil {
		q.fail(logger, e, err)
		return
	}
	q.finish(logger, e, outcome)
}

// requeue returns an interrupted item to pending so a later worker picks it up.
func (q *Queue) requeue(e *entry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e.item.Status = StatusPending
	e.item.UpdatedAt = q.now()
}

func (q *Queue) finish(logger *slog.Logger, e *entry, outcome pipeline.IngestOutcome) {
	q.mu.Lock()
	e.item.Status = StatusFinished
	e.item.Outcome = outcome
	e.item.UpdatedAt = q.now()
	e.err = nil
	id := e.item.ID
	close(e.settled)
	q.pruneLocked()
	q.mu.Unlock()

	logger.Info("ingestion finished",
		logging.Int("created", len(outcome.Created)),
		logging.Int("merged", len(outcome.Merged)),
		logging.Int64(logging.FieldDirectoryID, outcome.DirectoryID),
		logging.String(logging.FieldEventType, "item_processed"),
	)
	q.registry.Bus().Publish(pipeline.Event{
		Type:        pipeline.EventItemProcessed,
		QueueItemID: id,
		DirectoryID: outcome.DirectoryID,
		Message:     fmt.Sprintf("%d created, %d merged", len(outcome.Created), len(outcome.Merged)),
	})
}

func (q *Queue) wait(logger *slog.Logger, e *entry, channels int) {
	q.mu.Lock()
	e.item.Status = StatusWaitForSplit
	e.item.Channels = channels
	e.item.UpdatedAt = q.now()
	id := e.item.ID
	close(e.settled)
	q.mu.Unlock()

	logger.Info("waiting for split decision",
		logging.Int("channels", channels),
		logging.String(logging.FieldEventType, "item_waiting"),
	)
	q.registry.Bus().Publish(pipeline.Event{
		Type:        pipeline.EventItemWaiting,
		QueueItemID: id,
		Message:     fmt.Sprintf("%d channels", channels),
	})
}

// fail drops the item from the queue; the error reaches Wait callers and
// event subscribers.
func (q *Queue) fail(logger *slog.Logger, e *entry, err error) {
	q.mu.Lock()
	e.item.Status = StatusError
	e.item.Error = err.Error()
	e.item.UpdatedAt = q.now()
	e.err = err
	id := e.item.ID
	delete(q.items, id)
	q.order = slices.DeleteFunc(q.order, func(v string) bool { return v == id })
	close(e.settled)
	q.mu.Unlock()

	details := services.Details(err)
	logging.WarnWithContext(logger, "ingestion failed", "item_failed",
		logging.Error(err),
		logging.String("error_kind", details.Kind),
		logging.String(logging.FieldErrorHint, details.Hint),
		logging.String(logging.FieldImpact, "the dropped path was not added"),
	)
	q.registry.Bus().Publish(pipeline.Event{
		Type:        pipeline.EventItemFailed,
		QueueItemID: id,
		Message:     err.Error(),
	})
}

// pruneLocked forgets the oldest settled items beyond historyLimit.
func (q *Queue) pruneLocked() {
	excess := len(q.order) - historyLimit
	if excess <= 0 {
		return
	}
	kept := q.order[:0]
	for _, id := range q.order {
		status := q.items[id].item.Status
		if excess > 0 && (status == StatusFinished || status == StatusRemoved) {
			delete(q.items, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	q.order = kept
}

func notFound(id string) error {
	return services.Wrap(services.ErrNotFound, "ingest", "lookup", fmt.Sprintf("no queue item %s", id), nil)
}
