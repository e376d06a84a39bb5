package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type outcomeLog struct {
	mu       sync.Mutex
	handled  []string
	attempts map[string]int
	final    map[string]error
}

func newOutcomeLog() *outcomeLog {
	return &outcomeLog{attempts: map[string]int{}, final: map[string]error{}}
}

func (l *outcomeLog) seen(job Job) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handled = append(l.handled, job.ID)
	l.attempts[job.ID] = job.Attempt
}

func (l *outcomeLog) complete(job Job, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.final[job.ID] = err
}

func waitSettled(t *testing.T, q *Queue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, q.Wait(ctx), "timed out waiting for jobs")
}

func TestQueueRunsJobsAndReportsCompletion(t *testing.T) {
	log := newOutcomeLog()
	q := NewQueue("household", func(_ context.Context, job Job) error {
		log.seen(job)
		return nil
	}, QueueConfig{Workers: 2, OnComplete: log.complete})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "a"}))
	require.NoError(t, q.Enqueue(Job{ID: "b"}))
	waitSettled(t, q)

	log.mu.Lock()
	defer log.mu.Unlock()
	assert.ElementsMatch(t, []string{"a", "b"}, log.handled)
	assert.Equal(t, 1, log.attempts["a"])
	assert.NoError(t, log.final["a"])
	assert.NoError(t, log.final["b"])
	assert.Equal(t, Stats{Submitted: 2, Succeeded: 2}, q.Stats())
}

func TestQueueRetriesThenReportsFinalError(t *testing.T) {
	boom := errors.New("boom")
	log := newOutcomeLog()
	q := NewQueue("household", func(_ context.Context, job Job) error {
		log.seen(job)
		return boom
	}, QueueConfig{MaxRetries: 2, RetryDelay: time.Millisecond, OnComplete: log.complete})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "x"}))
	waitSettled(t, q)

	log.mu.Lock()
	defer log.mu.Unlock()
	assert.Len(t, log.handled, 3)
	assert.Equal(t, 3, log.attempts["x"])
	assert.ErrorIs(t, log.final["x"], boom)
	assert.Equal(t, Stats{Submitted: 1, Failed: 1, Retries: 2}, q.Stats())
}

func TestQueueRecoversHandlerPanic(t *testing.T) {
	log := newOutcomeLog()
	calls := 0
	q := NewQueue("learner", func(_ context.Context, job Job) error {
		calls++
		if calls == 1 {
			panic("nil schedule")
		}
		log.seen(job)
		return nil
	}, QueueConfig{MaxRetries: 1, RetryDelay: time.Millisecond, OnComplete: log.complete})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "p"}))
	waitSettled(t, q)

	log.mu.Lock()
	defer log.mu.Unlock()
	assert.Equal(t, 2, log.attempts["p"])
	assert.NoError(t, log.final["p"])
}

func TestQueueWaitWithoutJobsReturnsImmediately(t *testing.T) {
	q := NewQueue("idle", func(context.Context, Job) error { return nil }, QueueConfig{})
	assert.NoError(t, q.Wait(context.Background()))
}

func TestQueueWaitHonoursContext(t *testing.T) {
	release := make(chan struct{})
	q := NewQueue("slow", func(context.Context, Job) error {
		<-release
		return nil
	}, QueueConfig{})
	q.Start(context.Background())
	defer q.Stop()
	defer close(release)

	require.NoError(t, q.Enqueue(Job{ID: "slow"}))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, q.Wait(ctx), context.DeadlineExceeded)
}

func TestQueueStopSettlesPendingRetries(t *testing.T) {
	log := newOutcomeLog()
	q := NewQueue("household", func(_ context.Context, job Job) error {
		log.seen(job)
		return errors.New("exporter offline")
	}, QueueConfig{MaxRetries: 5, RetryDelay: time.Hour, OnComplete: log.complete})
	q.Start(context.Background())

	require.NoError(t, q.Enqueue(Job{ID: "r"}))
	require.Eventually(t, func() bool {
		log.mu.Lock()
		defer log.mu.Unlock()
		return len(log.handled) == 1
	}, time.Second, time.Millisecond)

	q.Stop()
	waitSettled(t, q)

	log.mu.Lock()
	defer log.mu.Unlock()
	assert.ErrorIs(t, log.final["r"], ErrQueueStopped)
	assert.ErrorIs(t, q.Enqueue(Job{ID: "late"}), ErrQueueStopped)
}

func TestEnqueueBeforeStartFails(t *testing.T) {
	q := NewQueue("idle", func(context.Context, Job) error { return nil }, QueueConfig{})
	assert.Error(t, q.Enqueue(Job{ID: "early"}))
}
