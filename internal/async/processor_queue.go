package async

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lucianodigital2b/clevernote-sub002/internal/common"
)

// ErrQueueClosed is returned by Enqueue after Shutdown has started.
var ErrQueueClosed = errors.New("queue is shutting down")

// DefaultBackoff is the delay before the 1st, 2nd and later retries.
var DefaultBackoff = []time.Duration{30 * time.Second, 2 * time.Minute, 5 * time.Minute}

// interruptGrace is how long Shutdown waits for cancelled jobs to record their state.
const interruptGrace = 20 * time.Second

// ProcessorQueue is a fixed worker pool over a buffered channel. Failed jobs
// are re-enqueued after a backoff until MaxAttempts is reached, unless the
// error is marked non-retryable.
type ProcessorQueue struct {
	handler     Handler
	logger      *slog.Logger
	workers     int
	timeout     time.Duration
	maxAttempts int
	backoff     []time.Duration
	onExhausted func(ctx context.Context, job Job, err error)
	onInterrupt func(ctx context.Context, job Job)

	// base parents every job context and is cancelled when Shutdown gives up waiting
	base     context.Context
	stopJobs context.CancelFunc

	ch   chan Job
	wg   sync.WaitGroup
	once sync.Once

	// mu guards closed against sends on a closed channel
	mu     sync.RWMutex
	closed bool

	tmu    sync.Mutex
	timers map[*time.Timer]struct{}
}

type Option func(*ProcessorQueue)

func WithWorkers(n int) Option {
	return func(q *ProcessorQueue) {
		if n > 0 {
			q.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(q *ProcessorQueue) {
		if n > 0 {
			q.ch = make(chan Job, n)
		}
	}
}

func WithProcessTimeout(d time.Duration) Option {
	return func(q *ProcessorQueue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

func WithMaxAttempts(n int) Option {
	return func(q *ProcessorQueue) {
		if n > 0 {
			q.maxAttempts = n
		}
	}
}

// WithBackoff sets the retry delays. Attempts past the end reuse the last entry.
func WithBackoff(delays ...time.Duration) Option {
	return func(q *ProcessorQueue) {
		if len(delays) > 0 {
			q.backoff = append([]time.Duration(nil), delays...)
		}
	}
}

// WithOnExhausted registers a hook for jobs that failed their final attempt.
func WithOnExhausted(fn func(ctx context.Context, job Job, err error)) Option {
	return func(q *ProcessorQueue) { q.onExhausted = fn }
}

// WithOnInterrupted registers a hook for jobs cut short by Shutdown.
func WithOnInterrupted(fn func(ctx context.Context, job Job)) Option {
	return func(q *ProcessorQueue) { q.onInterrupt = fn }
}

func NewProcessorQueue(handler Handler, logger *slog.Logger, opts ...Option) *ProcessorQueue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &ProcessorQueue{
		handler:     handler,
		logger:      logger,
		workers:     4,
		timeout:     10 * time.Minute,
		maxAttempts: 3,
		backoff:     DefaultBackoff,
		ch:          make(chan Job, 256),
		timers:      map[*time.Timer]struct{}{},
	}
	for _, o := range opts {
		o(q)
	}
	q.base, q.stopJobs = context.WithCancel(context.Background())
	q.start()
	return q
}

// Delay returns the wait before re-running a job that just failed its attempt-th try.
func (q *ProcessorQueue) Delay(attempt int) time.Duration {
	if len(q.backoff) == 0 {
		return 0
	}
	i := attempt - 1
	if i < 0 {
		i = 0
	}
	if i > len(q.backoff)-1 {
		i = len(q.backoff) - 1
	}
	return q.backoff[i]
}

func (q *ProcessorQueue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Info("worker started", "worker_id", workerID)
				for job := range q.ch {
					q.run(workerID, job)
				}
				q.logger.Info("worker stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (q *ProcessorQueue) run(workerID int, job Job) {
	log := q.logger.With("worker_id", workerID, "kind", job.Kind, "target_id", job.TargetID, "attempt", job.Attempt)
	if q.base.Err() != nil {
		// the row keeps its status; startup recovery re-enqueues pending rows
		log.Info("job.skipped_on_shutdown")
		return
	}
	ctx, cancel := context.WithTimeout(q.base, q.timeout)
	if job.TraceID != "" {
		ctx = common.WithRequestID(ctx, job.TraceID)
	}
	ctx = common.WithLogger(ctx, log)
	start := time.Now()
	err := q.dispatch(ctx, job)
	cancel()

	if err == nil {
		log.Info("job.done", "duration_ms", time.Since(start).Milliseconds())
		return
	}
	if q.base.Err() != nil {
		log.Warn("job.interrupted", "error", err, "duration_ms", time.Since(start).Milliseconds())
		q.interrupted(job)
		return
	}
	log.Error("job.failed", "error", err, "duration_ms", time.Since(start).Milliseconds())

	if !common.IsRetryable(err) {
		log.Warn("job.not_retryable")
		q.exhausted(job, err)
		return
	}
	if job.Attempt >= q.maxAttempts {
		log.Warn("job.exhausted", "max_attempts", q.maxAttempts)
		q.exhausted(job, err)
		return
	}
	q.retryLater(job, q.Delay(job.Attempt))
}

func (q *ProcessorQueue) dispatch(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = common.Permanent(fmt.Errorf("panic: %v", r))
		}
	}()
	switch job.Kind {
	case JobProcessNote:
		return q.handler.ProcessNote(ctx, job.TargetID)
	case JobGenerateArtifact:
		return q.handler.GenerateArtifact(ctx, job.TargetID)
	}
	return common.Permanent(fmt.Errorf("unknown job kind %q", job.Kind))
}

func (q *ProcessorQueue) exhausted(job Job, err error) {
	if q.onExhausted == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	q.onExhausted(ctx, job, err)
}

func (q *ProcessorQueue) interrupted(job Job) {
	if q.onInterrupt == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	q.onInterrupt(ctx, job)
}

func (q *ProcessorQueue) retryLater(job Job, delay time.Duration) {
	next := job
	next.Attempt++
	q.logger.Info("job.retry_scheduled", "kind", job.Kind, "target_id", job.TargetID,
		"next_attempt", next.Attempt, "delay", delay)

	q.tmu.Lock()
	defer q.tmu.Unlock()
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		q.tmu.Lock()
		delete(q.timers, t)
		q.tmu.Unlock()
		if err := q.Enqueue(context.Background(), next); err != nil {
			q.logger.Warn("job.retry_dropped", "kind", next.Kind, "target_id", next.TargetID, "error", err)
		}
	})
	q.timers[t] = struct{}{}
}

// PendingRetries is the number of retries waiting on their backoff timer.
func (q *ProcessorQueue) PendingRetries() int {
	q.tmu.Lock()
	defer q.tmu.Unlock()
	return len(q.timers)
}

// Enqueue blocks while the buffer is full until ctx is done.
func (q *ProcessorQueue) Enqueue(ctx context.Context, job Job) error {
	if job.Attempt < 1 {
		job.Attempt = 1
	}
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now().UTC()
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.logger.Warn("cannot enqueue: queue is shutting down", "kind", job.Kind, "target_id", job.TargetID)
		return ErrQueueClosed
	}
	select {
	case q.ch <- job:
		q.logger.Info("job.queued", "kind", job.Kind, "target_id", job.TargetID, "attempt", job.Attempt)
		return nil
	default:
	}
	q.logger.Warn("queue full, applying backpressure", "kind", job.Kind, "target_id", job.TargetID)
	select {
	case q.ch <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *ProcessorQueue) EnqueueNote(noteID uuid.UUID) error {
	return q.Enqueue(context.Background(), Job{Kind: JobProcessNote, TargetID: noteID})
}

func (q *ProcessorQueue) EnqueueArtifact(artifactID uuid.UUID) error {
	return q.Enqueue(context.Background(), Job{Kind: JobGenerateArtifact, TargetID: artifactID})
}

// Shutdown stops accepting jobs, cancels scheduled retries and waits for the
// workers to drain the buffer. If ctx ends first, running jobs are cancelled and
// given a short grace period to record their state.
func (q *ProcessorQueue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	q.tmu.Lock()
	for t := range q.timers {
		t.Stop()
	}
	cancelled := len(q.timers)
	clear(q.timers)
	q.tmu.Unlock()
	if cancelled > 0 {
		q.logger.Info("pending retries cancelled", "count", cancelled)
	}

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-done:
		q.stopJobs()
		q.logger.Info("queue drained, shutdown complete")
		return
	case <-ctx.Done():
	}

	q.logger.Warn("shutdown deadline reached, cancelling running jobs")
	q.stopJobs()
	select {
	case <-done:
		q.logger.Info("running jobs cancelled, shutdown complete")
	case <-time.After(interruptGrace):
		q.logger.Error("workers still busy after cancellation")
	}
}
