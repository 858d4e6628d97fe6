package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrClosed is returned by Flush once the queue has stopped.
var ErrClosed = errors.New("dispatch queue closed")

// Stats describes queue throughput.
type Stats struct {
	Pending   int
	Capacity  int
	Posted    int64
	Executed  int64
	Resizes   int
	HighWater int
}

// Queue runs posted functions one at a time, in posting order.
type Queue struct {
	logger *slog.Logger
	box    *mailbox[func()]

	once sync.Once
	done chan struct{}
}

// NewQueue starts a queue with its worker goroutine.
func NewQueue(logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}

	q := &Queue{
		logger: logger,
		box:    newMailbox[func()](64),
		done:   make(chan struct{}),
	}
	go q.run()
	return q
}

// Post schedules fn. It never blocks and returns false after Close.
func (q *Queue) Post(fn func()) bool {
	if fn == nil {
		return false
	}
	return q.box.put(fn)
}

// Flush blocks until every function posted before it has run.
func (q *Queue) Flush(ctx context.Context) error {
	barrier := make(chan struct{})
	if !q.Post(func() { close(barrier) }) {
		return ErrClosed
	}

	select {
	case <-barrier:
		return nil
	case <-q.done:
		// Close drains before exiting, so the barrier may still have run.
		select {
		case <-barrier:
			return nil
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting work, runs what is already queued and waits for the
// worker to exit. Safe to call more than once.
func (q *Queue) Close() {
	q.once.Do(q.box.close)
	<-q.done
}

// Done is closed when the worker has exited.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

// Stats returns a throughput snapshot.
func (q *Queue) Stats() Stats {
	return q.box.stats()
}

func (q *Queue) run() {
	defer close(q.done)

	for {
		fn, ok := q.box.take()
		if !ok {
			return
		}
		q.exec(fn)
	}
}

// exec runs fn, containing panics so one bad callback cannot stop the queue.
func (q *Queue) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("dispatched function panicked", "panic", fmt.Sprint(r))
		}
	}()
	fn()
}
