// internal/worker/scheduler.go
package worker

import (
	"context"
	"math"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"elb-shipper/internal/config"
	"elb-shipper/internal/metrics"
	"elb-shipper/internal/model"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Processor 는 job 하나(로그 파일 하나)를 끝까지 처리한다.
type Processor interface {
	Process(ctx context.Context, sourceURL string) error
}

// Outcome 은 step 한 번의 결과.
type Outcome int

const (
	OutcomeSucceeded Outcome = iota // 완료, job 폐기
	OutcomeRetry                    // 실패, backoff 후 재등록
	OutcomeDeferred                 // 아직 not_before 전, 그대로 재등록
	OutcomeAbandoned                // MaxTries 초과, 포기
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeRetry:
		return "retry"
	case OutcomeDeferred:
		return "deferred"
	case OutcomeAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// 1s << 34 부터는 time.Duration(int64 ns) 범위를 넘는다.
const maxBackoffShift = 34

// Backoff 는 attempts 번째 실패 후 대기 시간: 2^attempts 초.
// 상한은 두지 않는다 (MaxTries=15 → 마지막 대기 약 9시간).
func Backoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts >= maxBackoffShift {
		return time.Duration(math.MaxInt64)
	}
	return time.Second << attempts
}

// Scheduler 는 job queue 와 그것을 비우는 단일 worker goroutine 을 소유한다.
//
// 흐름:
//   - Enqueue: intake(HTTP handler)가 호출, 절대 block 하지 않음
//   - loop:    queue 에서 하나 꺼내 step → PollInterval 대기 → 반복
//   - step:    not_before 전이면 뒤로 돌리고, 아니면 Processor 실행
//
// job 은 한 번에 하나씩만 처리되므로 job 단위 lock 이 없다.
// 영속화하지 않으므로 종료 시 queue 에 남은 job 은 유실된다.
type Scheduler struct {
	cfg     config.Config
	metrics *metrics.Metrics
	queue   *Queue
	proc    Processor
	dead    *DeadLetter // nil 이면 기록하지 않음

	now func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

func NewScheduler(cfg config.Config, m *metrics.Metrics, proc Processor, dead *DeadLetter) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:     cfg,
		metrics: m,
		queue:   NewQueue(),
		proc:    proc,
		dead:    dead,
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Enqueue 는 attempts=0, not_before=now 인 job 을 queue tail 에 넣는다.
func (s *Scheduler) Enqueue(sourceURL string) *model.Job {
	job := model.NewJob(sourceURL, s.now())
	s.queue.Push(job)

	atomic.AddInt64(&s.metrics.JobsEnqueuedTotal, 1)
	s.syncDepth()

	log.Info().Str("job", job.ID).Str("url", sourceURL).Msg("putting url on the queue")
	return job
}

// Len 은 현재 queue 길이.
func (s *Scheduler) Len() int { return s.queue.Len() }

// Start 는 worker goroutine 을 한 번만 띄운다.
// 프로세스 시작 시 호출하며, 이후 intake 가 liveness 를 신경 쓸 필요가 없다.
func (s *Scheduler) Start() {
	s.startOnce.Do(func() {
		s.wg.Add(1)
		go s.loop()
	})
}

// Shutdown 은 worker 를 멈추고 끝날 때까지 기다린다. 여러 번 호출해도 안전하다.
// 처리 중이던 job 의 context 도 취소된다.
func (s *Scheduler) Shutdown() {
	s.stopOnce.Do(func() {
		s.cancel()
		s.wg.Wait()

		lost := s.queue.Drain()
		s.syncDepth()
		if len(lost) > 0 {
			atomic.AddInt64(&s.metrics.JobsLostOnShutdownTotal, int64(len(lost)))
			for _, job := range lost {
				log.Warn().
					Str("job", job.ID).
					Str("url", job.SourceURL).
					Int("attempts", job.Attempts).
					Msg("dropping queued job on shutdown")
			}
		}
	})
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	timer := time.NewTimer(s.cfg.PollInterval)
	defer timer.Stop()

	for {
		job, ok := s.queue.Pop(s.ctx)
		if !ok {
			log.Info().Msg("scheduler exiting")
			return
		}
		s.syncDepth()

		s.step(s.ctx, job)

		// head 의 job 이 아직 due 가 아닐 때 busy loop 를 막기 위한 고정 대기
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(s.cfg.PollInterval)

		select {
		case <-s.ctx.Done():
			log.Info().Msg("scheduler exiting")
			return
		case <-timer.C:
		}
	}
}

// step 은 job 하나를 처리하고 그 결과를 돌려준다.
// 어떤 에러도 loop 를 끝내지 않는다.
func (s *Scheduler) step(ctx context.Context, job *model.Job) Outcome {
	l := log.With().Str("job", job.ID).Str("url", job.SourceURL).Logger()

	if !job.Due(s.now()) {
		atomic.AddInt64(&s.metrics.JobsDeferredTotal, 1)
		return s.requeueOrAbandon(l, job, nil, OutcomeDeferred)
	}

	job.Attempts++
	l.Info().Int("attempts", job.Attempts).Msg("downloading and processing")

	err := s.run(ctx, job)
	if err == nil {
		atomic.AddInt64(&s.metrics.JobsSucceededTotal, 1)
		l.Info().Int("attempts", job.Attempts).Msg("processed")
		return OutcomeSucceeded
	}

	kind := s.countFailure(err)
	job.NotBefore = s.now().Add(Backoff(job.Attempts))

	ev := l.Warn()
	if pe, ok := err.(*PanicError); ok {
		ev = ev.Bytes("stack", pe.Stack)
	}
	ev.Err(err).
		Str("kind", string(kind)).
		Int("attempts", job.Attempts).
		Time("not_before", job.NotBefore).
		Msg("processing failed, retrying later")

	return s.requeueOrAbandon(l, job, err, OutcomeRetry)
}

// requeueOrAbandon: attempts <= MaxTries 면 tail 로 재등록, 아니면 포기.
func (s *Scheduler) requeueOrAbandon(l zerolog.Logger, job *model.Job, cause error, outcome Outcome) Outcome {
	if job.Attempts <= s.cfg.MaxTries {
		s.queue.Push(job)
		s.syncDepth()
		return outcome
	}

	atomic.AddInt64(&s.metrics.JobsAbandonedTotal, 1)
	l.Error().Err(cause).Int("attempts", job.Attempts).Msg("gave up sending")

	if err := s.dead.Record(job, cause); err != nil {
		l.Error().Err(err).Msg("dead letter write failed")
	}
	return OutcomeAbandoned
}

// run 은 Processor 를 호출하고 panic 을 에러로 바꾼다.
func (s *Scheduler) run(ctx context.Context, job *model.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return s.proc.Process(ctx, job.SourceURL)
}

func (s *Scheduler) countFailure(err error) Kind {
	atomic.AddInt64(&s.metrics.JobAttemptsFailedTotal, 1)

	kind := Classify(err)
	switch kind {
	case KindFetch:
		atomic.AddInt64(&s.metrics.FetchErrorsTotal, 1)
	case KindParse:
		atomic.AddInt64(&s.metrics.ParseErrorsTotal, 1)
	case KindUpload:
		atomic.AddInt64(&s.metrics.UploadErrorsTotal, 1)
	}
	return kind
}

func (s *Scheduler) syncDepth() {
	atomic.StoreInt64(&s.metrics.QueueDepth, int64(s.queue.Len()))
}
