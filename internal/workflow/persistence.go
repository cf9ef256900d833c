package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"scribe/internal/logging"
	"scribe/internal/pipeline"
	"scribe/internal/services"
)

// LoadRegistry builds a registry whose id sequences continue after the
// highest persisted ids and fills it from the persisted snapshot. The
// EntryIDs and OperationIDs fields of opts are replaced.
func LoadRegistry(ctx context.Context, store pipeline.Persister, opts pipeline.Options) (*pipeline.Registry, error) {
	entryMax, opMax, err := store.MaxIDs(ctx)
	if err != nil {
		return nil, err
	}
	opts.EntryIDs = pipeline.NewSequence(entryMax)
	opts.OperationIDs = pipeline.NewSequence(opMax)
	registry := pipeline.NewRegistry(opts)

	snap, err := store.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	if err := registry.Restore(snap); err != nil {
		return nil, err
	}
	return registry, nil
}

// Persistence mirrors registry changes into a Persister. Events are coalesced
// so a burst of changes to one task costs a single write.
type Persistence struct {
	registry *pipeline.Registry
	store    pipeline.Persister
	logger   *slog.Logger

	mu      sync.Mutex
	sub     *pipeline.Subscription
	flushed uint64 // owned by run
	stop    chan struct{}
	done    chan struct{}
	lastErr error
}

// NewPersistence wires registry events to store.
func NewPersistence(registry *pipeline.Registry, store pipeline.Persister, logger *slog.Logger) *Persistence {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Persistence{
		registry: registry,
		store:    store,
		logger:   logging.NewComponentLogger(logger, "persistence"),
	}
}

// Start subscribes to the registry bus. Changes made after Start returns are
// persisted.
func (p *Persistence) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sub != nil {
		return errors.New("persistence already running")
	}
	bus := p.registry.Bus()
	p.sub = bus.Subscribe(nil)
	p.flushed = bus.LastSeq()
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	go p.run(ctx)
	return nil
}

// Close writes every change published before the call and detaches.
func (p *Persistence) Close() {
	p.mu.Lock()
	if p.sub == nil {
		p.mu.Unlock()
		return
	}
	stop, done := p.stop, p.done
	p.mu.Unlock()

	close(stop)
	<-done

	p.mu.Lock()
	p.sub.Close()
	p.sub = nil
	p.mu.Unlock()
}

// LastError returns the most recent write failure, if any.
func (p *Persistence) LastError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

func (p *Persistence) run(ctx context.Context) {
	defer close(p.done)
	events := p.sub.C()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			p.drain(context.WithoutCancel(ctx), events)
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			b := newBatch()
			b.add(evt)
			b.collect(events)
			p.flush(ctx, b)
			p.flushed = b.last
		}
	}
}

// drain blocks until every event published before Close was called has been
// written.
func (p *Persistence) drain(ctx context.Context, events <-chan pipeline.Event) {
	target := p.registry.Bus().LastSeq()
	if target <= p.flushed {
		return
	}
	b := newBatch()
	for b.last < target {
		evt, ok := <-events
		if !ok {
			break
		}
		b.add(evt)
	}
	p.flush(ctx, b)
	p.flushed = b.last
}

// batch accumulates the records touched by a run of events.
type batch struct {
	tasks       []int64
	taskSet     map[int64]bool
	removed     []int64
	dirs        []int64
	dirSet      map[int64]bool
	removedDirs []int64
	order       bool
	last        uint64
}

func newBatch() *batch {
	return &batch{taskSet: make(map[int64]bool), dirSet: make(map[int64]bool)}
}

func (b *batch) add(evt pipeline.Event) {
	b.last = evt.Seq
	switch evt.Type {
	case pipeline.EventTaskAdded, pipeline.EventTaskUpdated, pipeline.EventTaskStatus,
		pipeline.EventOperationStatus, pipeline.EventOperationToggled:
		if !b.taskSet[evt.TaskID] {
			b.taskSet[evt.TaskID] = true
			b.tasks = append(b.tasks, evt.TaskID)
		}
	case pipeline.EventTaskRemoved:
		b.removed = append(b.removed, evt.TaskID)
		b.order = true
	case pipeline.EventDirectoryAdded, pipeline.EventDirectoryUpdated:
		if !b.dirSet[evt.DirectoryID] {
			b.dirSet[evt.DirectoryID] = true
			b.dirs = append(b.dirs, evt.DirectoryID)
		}
		b.order = true
	case pipeline.EventDirectoryRemoved:
		b.removedDirs = append(b.removedDirs, evt.DirectoryID)
		b.order = true
	case pipeline.EventOrderChanged:
		b.order = true
	}
	if evt.Type == pipeline.EventTaskAdded {
		b.order = true
	}
}

// collect takes every event that is already waiting without blocking.
func (b *batch) collect(events <-chan pipeline.Event) {
	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return
			}
			b.add(evt)
		default:
			return
		}
	}
}

func (p *Persistence) flush(ctx context.Context, b *batch) {
	for _, id := range b.dirs {
		rec, err := p.registry.DirectoryRecord(id)
		if err != nil {
			continue
		}
		p.check(p.store.SaveDirectory(ctx, rec), "save directory", logging.Int64(logging.FieldDirectoryID, id))
	}
	for _, id := range b.tasks {
		rec, err := p.registry.Record(id)
		if errors.Is(err, services.ErrRegistry) {
			continue
		}
		p.check(p.store.SaveTask(ctx, rec), "save task", logging.Int64(logging.FieldTaskID, id))
	}
	for _, id := range b.removed {
		p.check(p.store.RemoveTask(ctx, id), "remove task", logging.Int64(logging.FieldTaskID, id))
	}
	for _, id := range b.removedDirs {
		p.check(p.store.RemoveDirectory(ctx, id), "remove directory", logging.Int64(logging.FieldDirectoryID, id))
	}
	if b.order {
		p.check(p.store.SaveOrder(ctx, p.registry.Rows()), "save order")
	}
}

func (p *Persistence) check(err error, action string, attrs ...logging.Attr) {
	if err == nil {
		return
	}
	p.mu.Lock()
	p.lastErr = err
	p.mu.Unlock()
	if errors.Is(err, context.Canceled) {
		p.logger.Debug("daemon shutting down, write skipped", logging.String("action", action))
		return
	}
	attrs = append(attrs,
		logging.String("action", action),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check the state database path and disk space"),
		logging.String(logging.FieldImpact, "the change is lost if the daemon restarts"),
	)
	logging.ErrorWithContext(p.logger, "failed to persist registry change", "persist_failed", attrs...)
}
