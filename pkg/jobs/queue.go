package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrQueueStopped is reported for jobs the queue gave up on because it was stopped.
var ErrQueueStopped = errors.New("queue stopped")

// Job is one unit of batch work, such as a household or a single learner to schedule.
// Attempt counts handler runs, starting at 1.
type Job struct {
	ID       string
	Type     string
	Payload  interface{}
	Attempt  int
	Enqueued time.Time
}

// Handler processes a job.
type Handler func(context.Context, Job) error

// CompletionFunc observes a job's final outcome: nil after success, the last error once
// retries are exhausted, or ErrQueueStopped.
type CompletionFunc func(Job, error)

// QueueConfig configures the worker pool. RetryDelay grows linearly with the attempt.
type QueueConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
	Logger     *zap.Logger
	OnComplete CompletionFunc
}

// Stats counts outcomes since the queue was built.
type Stats struct {
	Submitted int64
	Succeeded int64
	Failed    int64
	Retries   int64
}

// Queue runs independent jobs on a fixed set of goroutines. A failing job is retried by
// the worker that picked it up, so a job occupies one worker until it settles.
type Queue struct {
	name    string
	handler Handler
	cfg     QueueConfig
	log     *zap.SugaredLogger
	jobs    chan Job

	// gate serialises submissions against Stop.
	gate    sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	stopped bool
	running sync.WaitGroup

	// pending counts submitted jobs that have not settled; idle is closed when it is zero.
	pendingMu sync.Mutex
	pending   int
	idle      chan struct{}

	submitted atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	retries   atomic.Int64
}

// NewQueue builds a queue that feeds handler.
func NewQueue(name string, handler Handler, cfg QueueConfig) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = cfg.Workers * 4
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Queue{
		name:    name,
		handler: handler,
		cfg:     cfg,
		log:     cfg.Logger.Sugar().With("queue", name),
		jobs:    make(chan Job, cfg.BufferSize),
	}
}

// Start launches the workers. Later calls are no-ops.
func (q *Queue) Start(ctx context.Context) {
	q.gate.Lock()
	defer q.gate.Unlock()
	if q.started {
		return
	}
	q.ctx, q.cancel = context.WithCancel(ctx)
	q.started = true
	for i := 0; i < q.cfg.Workers; i++ {
		q.running.Add(1)
		go q.work()
	}
	q.log.Infow("queue started", "workers", q.cfg.Workers, "max_retries", q.cfg.MaxRetries)
}

// Stop cancels the workers, waits for them, and settles anything still buffered with
// ErrQueueStopped so Wait returns.
func (q *Queue) Stop() {
	q.gate.RLock()
	started := q.started
	q.gate.RUnlock()
	if !started {
		return
	}

	q.cancel()
	q.gate.Lock()
	already := q.stopped
	q.stopped = true
	q.gate.Unlock()
	if already {
		return
	}

	q.running.Wait()
	for {
		select {
		case job := <-q.jobs:
			q.settle(job, ErrQueueStopped)
		default:
			q.log.Infow("queue stopped", "stats", q.Stats())
			return
		}
	}
}

// Enqueue submits a job, blocking while the buffer is full.
func (q *Queue) Enqueue(job Job) error {
	q.gate.RLock()
	defer q.gate.RUnlock()
	if !q.started {
		return fmt.Errorf("queue %s not started", q.name)
	}
	if q.stopped {
		return fmt.Errorf("queue %s: %w", q.name, ErrQueueStopped)
	}
	if job.Enqueued.IsZero() {
		job.Enqueued = time.Now().UTC()
	}

	q.track(1)
	select {
	case q.jobs <- job:
		q.submitted.Add(1)
		return nil
	case <-q.ctx.Done():
		q.track(-1)
		return fmt.Errorf("queue %s: %w: %v", q.name, ErrQueueStopped, q.ctx.Err())
	}
}

// Wait blocks until every submitted job has settled or ctx is done.
func (q *Queue) Wait(ctx context.Context) error {
	q.pendingMu.Lock()
	idle := q.idle
	q.pendingMu.Unlock()
	if idle == nil {
		return nil
	}
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot of the outcome counters.
func (q *Queue) Stats() Stats {
	return Stats{
		Submitted: q.submitted.Load(),
		Succeeded: q.succeeded.Load(),
		Failed:    q.failed.Load(),
		Retries:   q.retries.Load(),
	}
}

func (q *Queue) work() {
	defer q.running.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case job := <-q.jobs:
			q.process(job)
		}
	}
}

func (q *Queue) process(job Job) {
	for {
		job.Attempt++
		err := q.invoke(job)
		if err == nil {
			q.succeeded.Add(1)
			q.settle(job, nil)
			return
		}
		if job.Attempt > q.cfg.MaxRetries {
			q.failed.Add(1)
			q.log.Errorw("job failed", "job_id", job.ID, "type", job.Type, "attempts", job.Attempt, "error", err)
			q.settle(job, err)
			return
		}

		delay := time.Duration(job.Attempt) * q.cfg.RetryDelay
		q.retries.Add(1)
		q.log.Warnw("job failed, retrying", "job_id", job.ID, "type", job.Type, "attempt", job.Attempt, "backoff", delay, "error", err)
		if !q.pause(delay) {
			q.failed.Add(1)
			q.settle(job, fmt.Errorf("%w after attempt %d: %v", ErrQueueStopped, job.Attempt, err))
			return
		}
	}
}

// invoke runs the handler and turns a panic into an error so the worker survives.
func (q *Queue) invoke(job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.ID, r)
		}
	}()
	return q.handler(q.ctx, job)
}

func (q *Queue) pause(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-q.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (q *Queue) settle(job Job, err error) {
	if q.cfg.OnComplete != nil {
		q.cfg.OnComplete(job, err)
	}
	q.track(-1)
}

func (q *Queue) track(delta int) {
	q.pendingMu.Lock()
	defer q.pendingMu.Unlock()
	if q.pending == 0 && delta > 0 {
		q.idle = make(chan struct{})
	}
	q.pending += delta
	if q.pending == 0 && q.idle != nil {
		close(q.idle)
		q.idle = nil
	}
}
