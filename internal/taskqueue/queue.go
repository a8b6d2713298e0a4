// Package taskqueue implements sequential, per-category FIFO queues for
// side-effectful operations (debug logging, conversation event persistence
// and publish) that must not block the hook dispatcher's hot path.
//
// Each Queue drains its backlog with a single worker so submissions execute
// in the order they were made; a panic or error in one operation is logged
// and does not stop the queue.
package taskqueue

import (
	"context"
	"sync"

	"github.com/luthienresearch/luthien-proxy/internal/logger"
	"github.com/luthienresearch/luthien-proxy/internal/metrics"
)

// Op is a unit of work submitted to a Queue. It returns an error rather than
// panicking; Queue also recovers from panics as a last resort so a single
// bad operation can never wedge the worker.
type Op func() error

// Queue processes submitted operations one at a time, in submission order.
// Modeled on the teacher's request-tracking worker (buffered channel +
// goroutine pool) narrowed to exactly one worker, which is what gives FIFO
// ordering within a queue; across distinct Queues no ordering is promised.
type Queue struct {
	name   string
	ops    chan Op
	logger *logger.Logger

	redeliver *Redeliverer

	mu       sync.Mutex
	started  bool
	done     chan struct{}
	finished chan struct{}
}

// WithRedeliverer attaches a Temporal-backed redeliverer: an operation that
// fails once synchronously gets one durably-retried second chance instead
// of being dropped after the log line. Optional — nil leaves the queue's
// original log-and-drop behavior unchanged.
func (q *Queue) WithRedeliverer(r *Redeliverer) *Queue {
	q.redeliver = r
	return q
}

// New creates a named Queue with the given backlog capacity. The worker
// goroutine is started lazily on first Submit, matching the source queue's
// "no worker until there's work" behavior.
func New(name string, bufferSize int, log *logger.Logger) *Queue {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &Queue{
		name:     name,
		ops:      make(chan Op, bufferSize),
		logger:   log.WithComponent("taskqueue").WithFields(map[string]interface{}{"queue": name}),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
}

// Submit enqueues op to run after everything already queued. Returns
// immediately. If the backlog is full, Submit drops the operation and logs
// rather than blocking the caller — the hot path must never wait on this
// queue's capacity.
func (q *Queue) Submit(op Op) {
	q.ensureWorker()

	select {
	case q.ops <- op:
		metrics.TaskQueueDepth.WithLabelValues(q.name).Set(float64(len(q.ops)))
	default:
		q.logger.Error("queue full, dropping operation")
	}
}

func (q *Queue) ensureWorker() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.started = true
	go q.drain()
}

func (q *Queue) drain() {
	defer close(q.finished)
	for {
		select {
		case op, ok := <-q.ops:
			if !ok {
				return
			}
			q.run(op)
		case <-q.done:
			// Drain whatever is left before exiting, same as the source's
			// shutdown behavior: finish queued work, accept no more.
			for {
				select {
				case op := <-q.ops:
					q.run(op)
				default:
					return
				}
			}
		}
	}
}

func (q *Queue) run(op Op) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("operation panicked", "panic", r)
		}
	}()
	if err := op(); err != nil {
		q.logger.Error("operation failed", "error", err.Error())
		if q.redeliver != nil {
			q.redeliver.Retry(context.Background(), q.name, op)
		}
	}
}

// Shutdown stops accepting new work after draining what's already queued,
// and blocks until the worker goroutine has actually exited — so a caller
// that has called Shutdown can rely on no further ops running afterward.
// Submissions made concurrently with Shutdown may or may not run. If no
// Submit ever started the worker, there's nothing to wait for.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	wasStarted := q.started
	q.mu.Unlock()

	close(q.done)
	if wasStarted {
		<-q.finished
	}
}

// Depth reports the number of operations currently waiting to run, for
// diagnostics and metrics.
func (q *Queue) Depth() int {
	return len(q.ops)
}
