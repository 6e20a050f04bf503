package scheduler

import (
	"context"
	"time"

	"saas-plan-payments/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// Job is one unit of periodic background work. Run returns how many items it
// handled so the scheduler can log non-empty passes.
type Job interface {
	Name() string
	Run(ctx context.Context) (int, error)
}

// Scheduler runs a Job every interval until stopped.
type Scheduler struct {
	interval time.Duration
	timeout  time.Duration
	job      Job
	log      *zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler constructs a scheduler for job. Non-positive interval
// defaults to one minute; each pass is bounded by timeout (the interval when
// non-positive).
func NewScheduler(interval, timeout time.Duration, job Job, logger *zerolog.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	if timeout <= 0 {
		timeout = interval
	}
	l := logger.With().Str("component", "scheduler").Str("job", job.Name()).Logger()
	return &Scheduler{
		interval: interval,
		timeout:  timeout,
		job:      job,
		log:      &l,
		done:     make(chan struct{}),
	}
}

// Start begins the loop in a background goroutine. Calling Start on a running
// scheduler has no effect.
func (s *Scheduler) Start(parentCtx context.Context) {
	if s.ctx != nil {
		return
	}
	ctx, cancel := context.WithCancel(parentCtx)
	s.ctx = ctx
	s.cancel = cancel

	go s.loop()
}

func (s *Scheduler) loop() {
	ticker := time.NewTicker(s.interval)
	defer func() {
		ticker.Stop()
		close(s.done)
	}()

	s.log.Info().Dur("interval", s.interval).Msg("scheduler started")
	for {
		select {
		case <-s.ctx.Done():
			s.log.Info().Msg("scheduler stopping")
			return
		case <-ticker.C:
			s.runOnce()
		}
	}
}

func (s *Scheduler) runOnce() {
	runCtx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	n, err := s.job.Run(runCtx)
	if err != nil {
		metrics.IncWorkerTask("error")
		s.log.Error().Err(err).Msg("job pass failed")
		return
	}
	metrics.IncWorkerTask("ok")
	if n > 0 {
		s.log.Info().Int("handled", n).Msg("job pass finished")
	}
}

// Stop cancels the loop and waits for the current pass to finish. It is
// idempotent.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.ctx = nil
	s.cancel = nil
	s.done = make(chan struct{})
	s.log.Info().Msg("scheduler stopped")
}
