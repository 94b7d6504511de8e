package room

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
)

// DefaultQueueSize is the event backlog a Queue holds before dropping.
const DefaultQueueSize = 256

// Queue delivers events to another observer on its own goroutine, so slow
// observers (network mirrors, databases) never run under room locks. Events
// that arrive while the backlog is full are dropped.
type Queue struct {
	next    Observer
	logger  *slog.Logger
	events  chan Event
	quit    chan struct{}
	done    chan struct{}
	dropped atomic.Int64
	once    sync.Once
}

// NewQueue starts a queue in front of next. size <= 0 selects
// DefaultQueueSize. A nil logger discards.
func NewQueue(next Observer, size int, logger *slog.Logger) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	q := &Queue{
		next:   next,
		logger: logger,
		events: make(chan Event, size),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go q.run()
	return q
}

// Observe enqueues e without blocking.
func (q *Queue) Observe(e Event) {
	select {
	case <-q.quit:
		return
	default:
	}
	select {
	case q.events <- e:
	default:
		q.dropped.Add(1)
		q.logger.Debug("event queue full, dropping event", "kind", e.Kind, "room", e.RoomID)
	}
}

// Dropped reports how many events were discarded because the backlog was full.
func (q *Queue) Dropped() int64 {
	return q.dropped.Load()
}

// Close stops accepting events and waits until the backlog has been
// delivered or ctx expires.
func (q *Queue) Close(ctx context.Context) error {
	q.once.Do(func() { close(q.quit) })
	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) run() {
	defer close(q.done)
	for {
		select {
		case e := <-q.events:
			q.next.Observe(e)
		case <-q.quit:
			for {
				select {
				case e := <-q.events:
					q.next.Observe(e)
				default:
					return
				}
			}
		}
	}
}
