package worker

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"elb-shipper/internal/config"
	"elb-shipper/internal/metrics"
	"elb-shipper/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// procFunc adapts a function to Processor.
type procFunc func(ctx context.Context, url string) error

func (f procFunc) Process(ctx context.Context, url string) error { return f(ctx, url) }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func newTestScheduler(t *testing.T, maxTries int, proc Processor) (*Scheduler, *fakeClock, *metrics.Metrics) {
	t.Helper()
	m := metrics.New()
	s := NewScheduler(config.Config{MaxTries: maxTries, PollInterval: 5 * time.Millisecond}, m, proc, nil)
	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	s.now = clock.Now
	t.Cleanup(s.Shutdown)
	return s, clock, m
}

func popNow(t *testing.T, s *Scheduler) *model.Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	job, ok := s.queue.Pop(ctx)
	require.True(t, ok, "queue unexpectedly empty")
	return job
}

func TestBackoff(t *testing.T) {
	for a := 1; a <= 15; a++ {
		assert.Equal(t, time.Duration(1<<a)*time.Second, Backoff(a), "attempts=%d", a)
	}
	assert.Equal(t, time.Second, Backoff(0))
	assert.Equal(t, time.Duration(math.MaxInt64), Backoff(40))
}

func TestEnqueue_NewJobIsDueImmediately(t *testing.T) {
	s, clock, m := newTestScheduler(t, 15, procFunc(func(context.Context, string) error { return nil }))

	job := s.Enqueue("https://s3.amazonaws.com/b/k.log")
	assert.Equal(t, 0, job.Attempts)
	assert.Equal(t, clock.Now(), job.NotBefore)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, 1, s.Len())
	assert.EqualValues(t, 1, m.JobsEnqueuedTotal)
	assert.EqualValues(t, 1, m.QueueDepth)
}

func TestStep_RetryThenSucceed(t *testing.T) {
	calls := 0
	proc := procFunc(func(context.Context, string) error {
		calls++
		if calls == 1 {
			return &UploadError{Lines: 3, Status: 503, Body: "busy"}
		}
		return nil
	})
	s, clock, m := newTestScheduler(t, 15, proc)
	t0 := clock.Now()

	s.Enqueue("https://s3.amazonaws.com/b/k.log")

	job := popNow(t, s)
	assert.Equal(t, OutcomeRetry, s.step(context.Background(), job))
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, t0.Add(2*time.Second), job.NotBefore)
	assert.Equal(t, 1, s.Len())
	assert.EqualValues(t, 1, m.UploadErrorsTotal)

	// not yet due: left untouched and pushed back
	clock.Set(t0.Add(time.Second))
	job = popNow(t, s)
	assert.Equal(t, OutcomeDeferred, s.step(context.Background(), job))
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, t0.Add(2*time.Second), job.NotBefore)
	assert.Equal(t, 1, s.Len())
	assert.EqualValues(t, 1, m.JobsDeferredTotal)

	clock.Set(t0.Add(2 * time.Second))
	job = popNow(t, s)
	assert.Equal(t, OutcomeSucceeded, s.step(context.Background(), job))
	assert.Equal(t, 2, job.Attempts)
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, 2, calls)
	assert.EqualValues(t, 1, m.JobsSucceededTotal)
}

func TestStep_AbandonAfterMaxTries(t *testing.T) {
	const maxTries = 3
	s, clock, m := newTestScheduler(t, maxTries, procFunc(func(context.Context, string) error {
		return &FetchError{URL: "x", Status: 404, Code: "NoSuchKey", Err: errors.New("not found")}
	}))

	s.Enqueue("https://s3.amazonaws.com/b/k.log")

	var outcome Outcome
	for i := 1; i <= maxTries+1; i++ {
		job := popNow(t, s)
		outcome = s.step(context.Background(), job)
		assert.Equal(t, i, job.Attempts)

		if i <= maxTries {
			require.Equal(t, OutcomeRetry, outcome, "attempt %d", i)
			assert.Equal(t, clock.Now().Add(Backoff(i)), job.NotBefore)
			clock.Set(job.NotBefore)
		}
	}

	assert.Equal(t, OutcomeAbandoned, outcome)
	assert.Equal(t, 0, s.Len())
	assert.EqualValues(t, 1, m.JobsAbandonedTotal)
	assert.EqualValues(t, maxTries+1, m.FetchErrorsTotal)
	assert.EqualValues(t, maxTries+1, m.JobAttemptsFailedTotal)
}

func TestStep_MaxTriesZeroAbandonsOnFirstFailure(t *testing.T) {
	s, _, _ := newTestScheduler(t, 0, procFunc(func(context.Context, string) error {
		return errors.New("boom")
	}))
	s.Enqueue("s3://b/k")

	assert.Equal(t, OutcomeAbandoned, s.step(context.Background(), popNow(t, s)))
	assert.Equal(t, 0, s.Len())
}

func TestStep_PanicIsRecoveredAsFailure(t *testing.T) {
	s, _, m := newTestScheduler(t, 15, procFunc(func(context.Context, string) error {
		panic("nil map")
	}))
	s.Enqueue("s3://b/k")

	job := popNow(t, s)
	assert.Equal(t, OutcomeRetry, s.step(context.Background(), job))
	assert.Equal(t, 1, job.Attempts)
	assert.EqualValues(t, 1, m.JobAttemptsFailedTotal)
	assert.Equal(t, 1, s.Len())
}

func TestStep_DeferredKeepsQueueOrder(t *testing.T) {
	s, clock, _ := newTestScheduler(t, 15, procFunc(func(context.Context, string) error { return nil }))

	first := s.Enqueue("s3://b/first")
	first.NotBefore = clock.Now().Add(time.Hour)
	s.Enqueue("s3://b/second")

	job := popNow(t, s)
	assert.Equal(t, "s3://b/first", job.SourceURL)
	assert.Equal(t, OutcomeDeferred, s.step(context.Background(), job))

	job = popNow(t, s)
	assert.Equal(t, "s3://b/second", job.SourceURL)
	assert.Equal(t, OutcomeSucceeded, s.step(context.Background(), job))

	job = popNow(t, s)
	assert.Equal(t, "s3://b/first", job.SourceURL)
	assert.Equal(t, 0, job.Attempts)
}

func TestScheduler_StartProcessesEnqueuedJobs(t *testing.T) {
	done := make(chan string, 2)
	m := metrics.New()
	s := NewScheduler(config.Config{MaxTries: 15, PollInterval: time.Millisecond}, m,
		procFunc(func(_ context.Context, url string) error {
			done <- url
			return nil
		}), nil)
	s.Start()
	s.Start()
	defer s.Shutdown()

	s.Enqueue("s3://b/one")
	s.Enqueue("s3://b/two")

	for _, want := range []string{"s3://b/one", "s3://b/two"} {
		select {
		case got := <-done:
			assert.Equal(t, want, got)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestScheduler_ShutdownCountsLostJobs(t *testing.T) {
	m := metrics.New()
	s := NewScheduler(config.Config{MaxTries: 15, PollInterval: time.Second}, m,
		procFunc(func(context.Context, string) error { return nil }), nil)

	s.Enqueue("s3://b/one")
	s.Enqueue("s3://b/two")
	s.Shutdown()
	s.Shutdown()

	assert.EqualValues(t, 2, m.JobsLostOnShutdownTotal)
	assert.EqualValues(t, 0, m.QueueDepth)
	assert.Equal(t, 0, s.Len())
}

func TestScheduler_AbandonedJobIsRecorded(t *testing.T) {
	dir := t.TempDir()
	m := metrics.New()
	dead, err := NewDeadLetter(dir, 0, m)
	require.NoError(t, err)

	s := NewScheduler(config.Config{MaxTries: 0, PollInterval: time.Second}, m,
		procFunc(func(context.Context, string) error {
			return &UploadError{Lines: 1, Status: 500, Body: "nope"}
		}), dead)
	defer s.Shutdown()

	job := s.Enqueue("s3://b/k")
	assert.Equal(t, OutcomeAbandoned, s.step(context.Background(), popNow(t, s)))

	days, err := dead.Days()
	require.NoError(t, err)
	require.Len(t, days, 1)

	entries, err := dead.Entries(days[0])
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, job.ID, entries[0].JobID)
	assert.Equal(t, KindUpload, entries[0].Kind)
	assert.Equal(t, 1, entries[0].Attempts)
	assert.EqualValues(t, 1, m.DeadLettersWrittenTotal)
}
