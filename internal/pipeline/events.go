package pipeline

import (
	"context"
	"sync"
	"time"
)

// EventType names a registry transition.
type EventType string

const (
	EventTaskAdded        EventType = "task_added"
	EventTaskUpdated      EventType = "task_updated"
	EventTaskRemoved      EventType = "task_removed"
	EventTaskStatus       EventType = "task_status"
	EventOperationStatus  EventType = "operation_status"
	EventOperationToggled EventType = "operation_toggled"
	EventDirectoryAdded   EventType = "directory_added"
	EventDirectoryUpdated EventType = "directory_updated"
	EventDirectoryRemoved EventType = "directory_removed"
	EventOrderChanged     EventType = "order_changed"
	EventStageDefaults    EventType = "stage_defaults"

	// Ingestion queue outcomes share the bus so API clients follow one stream.
	EventItemProcessed EventType = "item_processed"
	EventItemFailed    EventType = "item_failed"
	EventItemWaiting   EventType = "item_waiting"
)

// Event is one sequenced registry transition.
type Event struct {
	Seq         uint64    `json:"seq"`
	Time        time.Time `json:"time"`
	Type        EventType `json:"type"`
	TaskID      int64     `json:"task_id,omitempty"`
	OperationID int64     `json:"operation_id,omitempty"`
	DirectoryID int64     `json:"directory_id,omitempty"`
	Stage       string    `json:"stage,omitempty"`
	Status      Status    `json:"status,omitempty"`
	Message     string    `json:"message,omitempty"`
	QueueItemID string    `json:"queue_item_id,omitempty"`
}

// EventBus fans registry events out to subscribers. Publish never blocks and
// never drops: each subscription buffers without bound until drained.
type EventBus struct {
	mu       sync.Mutex
	cond     *sync.Cond
	seq      uint64
	history  []Event
	capacity int
	subs     map[*Subscription]struct{}
}

// NewEventBus constructs a bus retaining the last capacity events for Since.
func NewEventBus(capacity int) *EventBus {
	if capacity <= 0 {
		capacity = 1024
	}
	b := &EventBus{capacity: capacity, subs: make(map[*Subscription]struct{})}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Publish sequences evt and delivers it to every subscriber.
func (b *EventBus) Publish(evt Event) Event {
	if b == nil {
		return evt
	}
	b.mu.Lock()
	b.seq++
	evt.Seq = b.seq
	if evt.Time.IsZero() {
		evt.Time = time.Now().UTC()
	}
	if len(b.history) == b.capacity {
		copy(b.history, b.history[1:])
		b.history = b.history[:b.capacity-1]
	}
	b.history = append(b.history, evt)
	// enqueue only appends, so delivering under the bus lock keeps every
	// subscriber's order identical to sequence order
	for sub := range b.subs {
		sub.enqueue(evt)
	}
	b.cond.Broadcast()
	b.mu.Unlock()
	return evt
}

// Subscribe registers a subscriber. Events published after Subscribe returns
// are always delivered, in order. A nil filter accepts every event.
func (b *EventBus) Subscribe(filter func(Event) bool) *Subscription {
	sub := &Subscription{
		bus:    b,
		filter: filter,
		out:    make(chan Event),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	go sub.pump()
	return sub
}

// SubscribeTask registers a subscriber for one task's events.
func (b *EventBus) SubscribeTask(taskID int64) *Subscription {
	return b.Subscribe(func(evt Event) bool { return evt.TaskID == taskID })
}

// LastSeq returns the sequence number of the most recent event.
func (b *EventBus) LastSeq() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}

// Since returns retained events with a sequence greater than since. When wait
// is true it blocks until one arrives or ctx ends.
func (b *EventBus) Since(ctx context.Context, since uint64, limit int, wait bool) ([]Event, uint64, error) {
	if limit <= 0 || limit > b.capacity {
		limit = b.capacity
	}
	stop := context.AfterFunc(ctx, func() {
		b.mu.Lock()
		b.cond.Broadcast()
		b.mu.Unlock()
	})
	defer stop()

	b.mu.Lock()
	defer b.mu.Unlock()
	for {
		var out []Event
		for _, evt := range b.history {
			if evt.Seq > since {
				out = append(out, evt)
				if len(out) == limit {
					break
				}
			}
		}
		if len(out) > 0 {
			return out, out[len(out)-1].Seq, nil
		}
		if !wait {
			return nil, b.seq, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, b.seq, err
		}
		b.cond.Wait()
	}
}

func (b *EventBus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
}

// Subscription is one subscriber's ordered event queue.
type Subscription struct {
	bus    *EventBus
	filter func(Event) bool

	mu      sync.Mutex
	pending []Event
	notify  chan struct{}

	out       chan Event
	done      chan struct{}
	closeOnce sync.Once
}

// C delivers events in publish order. It is closed by Close.
func (s *Subscription) C() <-chan Event {
	return s.out
}

// Close detaches the subscription and discards undelivered events.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.bus.unsubscribe(s)
		close(s.done)
	})
}

// Pending returns the number of queued but undelivered events.
func (s *Subscription) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Subscription) enqueue(evt Event) {
	if s.filter != nil && !s.filter(evt) {
		return
	}
	s.mu.Lock()
	s.pending = append(s.pending, evt)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscription) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		batch := s.pending
		s.pending = nil
		s.mu.Unlock()

		for _, evt := range batch {
			select {
			case s.out <- evt:
			case <-s.done:
				return
			}
		}
		if len(batch) > 0 {
			continue
		}
		select {
		case <-s.notify:
		case <-s.done:
			return
		}
	}
}
