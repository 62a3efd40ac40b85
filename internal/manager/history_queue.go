package manager

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/companion/internal/history"
)

const historyQueueSize = 256

// historyQueue delivers events to sinks from a single goroutine, in the
// order they were pushed. Lifecycle transitions never wait on a sink except
// through flush, which has one overall deadline.
type historyQueue struct {
	log     *slog.Logger
	timeout time.Duration

	once sync.Once
	ch   chan queuedEvent

	mu     sync.Mutex
	gen    context.Context
	cancel context.CancelFunc
}

// queuedEvent is either an event or a flush marker (done != nil). gen is the
// flush generation the event was pushed under; an abandoned generation is
// dropped unsent.
type queuedEvent struct {
	ev    history.Event
	sinks []history.Sink
	gen   context.Context
	done  chan struct{}
}

func newHistoryQueue(log *slog.Logger, timeout time.Duration) *historyQueue {
	q := &historyQueue{log: log, timeout: timeout, ch: make(chan queuedEvent, historyQueueSize)}
	q.gen, q.cancel = context.WithCancel(context.Background())
	return q
}

func (q *historyQueue) start() { q.once.Do(func() { go q.run() }) }

func (q *historyQueue) run() {
	for item := range q.ch {
		if item.done != nil {
			close(item.done)
			continue
		}
		if item.gen.Err() != nil {
			q.log.Debug("dropping abandoned history event", "type", item.ev.Type, "path", item.ev.Record.Path)
			continue
		}
		ctx, cancel := context.WithTimeout(item.gen, q.timeout)
		history.Fanout(ctx, q.log, item.sinks, item.ev)
		cancel()
	}
}

func (q *historyQueue) generation() context.Context {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.gen
}

// push enqueues ev without blocking. A full queue drops the event.
func (q *historyQueue) push(sinks []history.Sink, ev history.Event) {
	q.start()
	select {
	case q.ch <- queuedEvent{ev: ev, sinks: sinks, gen: q.generation()}:
	default:
		q.log.Warn("history queue full, dropping event", "type", ev.Type, "path", ev.Record.Path)
	}
}

// flush waits until everything pushed so far has been delivered, or until
// wait elapses. On timeout the in-flight send is cancelled and the remaining
// events are abandoned. It reports whether the queue drained in time.
func (q *historyQueue) flush(wait time.Duration) bool {
	q.start()
	done := make(chan struct{})
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case q.ch <- queuedEvent{done: done}:
	case <-timer.C:
		q.abandon(wait)
		return false
	}
	select {
	case <-done:
		return true
	case <-timer.C:
		q.abandon(wait)
		return false
	}
}

func (q *historyQueue) abandon(wait time.Duration) {
	q.mu.Lock()
	q.cancel()
	q.gen, q.cancel = context.WithCancel(context.Background())
	q.mu.Unlock()
	q.log.Warn("history sinks did not drain before deadline, abandoning pending events", "wait", wait)
}
