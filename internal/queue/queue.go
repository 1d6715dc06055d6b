package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"log/slog"
)

// ErrPermanent marks a job failure that must not be retried. Handlers wrap
// it (fmt.Errorf("...: %w", queue.ErrPermanent)) to have the job discarded.
var ErrPermanent = errors.New("permanent job failure")

// Permanent wraps err so the queue discards the job instead of retrying.
func Permanent(err error) error {
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// IsPermanent reports whether err carries ErrPermanent.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}

// Handler processes one job payload. Returning nil completes the job and
// removes it; a permanent error discards it; any other error re-enqueues it
// after the job's backoff until retries are exhausted.
type Handler func(ctx context.Context, payload interface{}) error

// Options configure a single enqueued job.
type Options struct {
	// Delay before the job becomes runnable.
	Delay time.Duration

	// MaxRetries is the number of re-runs after the first failure.
	MaxRetries int

	// Backoff is the fixed wait between retries.
	Backoff time.Duration
}

// Dispatch describes a job to be enqueued on a named queue. The aggregation
// worker returns these instead of talking to the queue directly, keeping the
// core logic free of queue calls.
type Dispatch struct {
	Queue   string
	Payload interface{}
	Options Options
}

type job struct {
	queue    string
	payload  interface{}
	opts     Options
	attempts int
}

// Queue is an in-process set of named job queues backed by a fixed worker
// pool. Delayed delivery and retries are timer-driven; completed jobs leave
// no trace.
type Queue struct {
	logger *slog.Logger

	mu       sync.Mutex
	handlers map[string]Handler
	timers   map[*time.Timer]struct{}
	closed   bool

	jobs chan *job
	wg   sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a queue with the given number of workers. Workers start
// immediately; handlers must be registered before the first Enqueue for
// their queue name.
func New(workers int, logger *slog.Logger) *Queue {
	ctx, cancel := context.WithCancel(context.Background())

	q := &Queue{
		logger:   logger,
		handlers: make(map[string]Handler),
		timers:   make(map[*time.Timer]struct{}),
		jobs:     make(chan *job, 256),
		ctx:      ctx,
		cancel:   cancel,
	}

	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}

	return q
}

// Handle registers the handler for a queue name.
func (q *Queue) Handle(name string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[name] = h
}

// Enqueue schedules a job on the named queue.
func (q *Queue) Enqueue(name string, payload interface{}, opts Options) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return fmt.Errorf("queue is closed")
	}
	if _, ok := q.handlers[name]; !ok {
		q.mu.Unlock()
		return fmt.Errorf("no handler registered for queue %q", name)
	}
	q.mu.Unlock()

	j := &job{queue: name, payload: payload, opts: opts}
	q.schedule(j, opts.Delay)
	return nil
}

// Close stops accepting jobs, cancels pending timers, and waits for
// in-flight handlers to finish.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	for timer := range q.timers {
		timer.Stop()
	}
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
}

func (q *Queue) schedule(j *job, delay time.Duration) {
	if delay <= 0 {
		q.submit(j)
		return
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, timer)
		closed := q.closed
		q.mu.Unlock()
		if !closed {
			q.submit(j)
		}
	})
	q.timers[timer] = struct{}{}
	q.mu.Unlock()
}

func (q *Queue) submit(j *job) {
	select {
	case q.jobs <- j:
	case <-q.ctx.Done():
	}
}

func (q *Queue) worker() {
	defer q.wg.Done()

	for {
		select {
		case <-q.ctx.Done():
			return
		case j := <-q.jobs:
			q.run(j)
		}
	}
}

func (q *Queue) run(j *job) {
	q.mu.Lock()
	handler := q.handlers[j.queue]
	q.mu.Unlock()

	err := handler(q.ctx, j.payload)
	if err == nil {
		// Removal on complete: successful jobs leave no history.
		return
	}

	if IsPermanent(err) {
		q.logger.Error("job failed permanently, discarding",
			"queue", j.queue,
			"attempts", j.attempts+1,
			"error", err)
		return
	}

	if j.attempts >= j.opts.MaxRetries {
		q.logger.Error("job exhausted retries, discarding",
			"queue", j.queue,
			"attempts", j.attempts+1,
			"error", err)
		return
	}

	j.attempts++
	q.logger.Warn("job failed, retrying",
		"queue", j.queue,
		"attempt", j.attempts,
		"max_retries", j.opts.MaxRetries,
		"backoff", j.opts.Backoff,
		"error", err)
	q.schedule(j, j.opts.Backoff)
}
