package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"price-alerts/internal/clock"
	"price-alerts/internal/metrics"
)

// Task is one execution of a scheduled job.
type Task func(ctx context.Context) error

// Locker serialises executions of a job across processes.
type Locker interface {
	TryLock(ctx context.Context, name string) (unlock func(), acquired bool, err error)
}

// Options tune scheduler behaviour.
type Options struct {
	// AlignToInterval fires ticks on wall-clock multiples of the interval.
	AlignToInterval bool
	StartupDelay    time.Duration
}

// Scheduler runs named repeating jobs, one loop per job.
type Scheduler struct {
	opts    Options
	store   JobStore
	locker  Locker
	clock   clock.Clock
	metrics *metrics.Metrics
	logger  zerolog.Logger

	mu      sync.Mutex
	jobs    map[string]*entry
	running bool
	runCtx  context.Context
	wg      sync.WaitGroup
}

type entry struct {
	name     string
	interval time.Duration
	task     Task
	cancel   context.CancelFunc
	// exec is shared across re-registrations of the same name.
	exec *sync.Mutex
}

// New constructs a Scheduler. store may be nil (in-memory), locker may be nil.
func New(opts Options, store JobStore, locker Locker, c clock.Clock, m *metrics.Metrics, logger zerolog.Logger) *Scheduler {
	if store == nil {
		store = NewMemoryJobStore()
	}
	if c == nil {
		c = clock.Real{}
	}
	return &Scheduler{
		opts:    opts,
		store:   store,
		locker:  locker,
		clock:   c,
		metrics: m,
		logger:  logger.With().Str("component", "scheduler").Logger(),
		jobs:    make(map[string]*entry),
	}
}

// Schedule registers task under name. Registering an existing name replaces
// its interval and task; the previous timer is stopped.
func (s *Scheduler) Schedule(name string, interval time.Duration, task Task) error {
	if name == "" {
		return errors.New("scheduler: job name is required")
	}
	if interval <= 0 {
		return fmt.Errorf("scheduler: job %s: interval must be positive", name)
	}
	if task == nil {
		return fmt.Errorf("scheduler: job %s: task is required", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e := &entry{name: name, interval: interval, task: task, exec: &sync.Mutex{}}
	prev, replaced := s.jobs[name]
	if replaced {
		e.exec = prev.exec
		if prev.cancel != nil {
			prev.cancel()
		}
	}
	s.jobs[name] = e

	s.logger.Info().Str("job", name).Dur("interval", interval).Bool("replaced", replaced).Msg("job registered")

	if s.running {
		s.start(e, !replaced)
	}
	return nil
}

// Run starts every registered job and blocks until ctx is cancelled, then
// waits for in-flight executions.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("scheduler: already running")
	}
	names := make(map[string]time.Duration, len(s.jobs))
	for name, e := range s.jobs {
		names[name] = e.interval
	}
	s.mu.Unlock()

	if err := s.reconcile(ctx, names); err != nil {
		s.logger.Warn().Err(err).Msg("job store reconciliation failed")
	}

	if s.opts.StartupDelay > 0 {
		s.logger.Info().Dur("delay", s.opts.StartupDelay).Msg("delaying scheduler start")
		select {
		case <-ctx.Done():
			return nil
		case <-s.clock.After(s.opts.StartupDelay):
		}
	}

	s.mu.Lock()
	s.running = true
	s.runCtx = ctx
	for _, e := range s.jobs {
		s.start(e, true)
	}
	s.mu.Unlock()

	<-ctx.Done()
	s.logger.Info().Msg("scheduler stopping; waiting for in-flight jobs")
	s.wg.Wait()

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	return nil
}

// reconcile drops stored jobs that are no longer registered and reports missed runs.
func (s *Scheduler) reconcile(ctx context.Context, registered map[string]time.Duration) error {
	stored, err := s.store.List(ctx)
	if err != nil {
		return fmt.Errorf("list stored jobs: %w", err)
	}

	now := s.clock.Now()
	for _, job := range stored {
		if _, ok := registered[job.Name]; !ok {
			if err := s.store.Delete(ctx, job.Name); err != nil {
				return fmt.Errorf("delete stale job %s: %w", job.Name, err)
			}
			s.logger.Info().Str("job", job.Name).Msg("removed stale job")
			continue
		}
		if !job.NextRunAt.IsZero() && job.NextRunAt.Before(now) {
			s.logger.Info().Str("job", job.Name).Time("missed_at", job.NextRunAt).Msg("replaying missed run")
		}
	}
	return nil
}

// start launches the loop for e. Callers hold s.mu.
func (s *Scheduler) start(e *entry, immediate bool) {
	if s.runCtx.Err() != nil {
		return
	}
	jobCtx, cancel := context.WithCancel(s.runCtx)
	e.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(jobCtx, e, immediate)
	}()
}

func (s *Scheduler) loop(ctx context.Context, e *entry, immediate bool) {
	if immediate {
		s.execute(ctx, e)
	}
	for {
		delay := s.delay(e.interval)
		s.logger.Debug().Str("job", e.name).Dur("in", delay).Msg("waiting for next run")

		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(delay):
		}
		if ctx.Err() != nil {
			return
		}
		s.execute(ctx, e)
	}
}

func (s *Scheduler) execute(ctx context.Context, e *entry) {
	e.exec.Lock()
	defer e.exec.Unlock()

	runCtx := context.WithoutCancel(ctx)

	if s.locker != nil {
		unlock, acquired, err := s.locker.TryLock(runCtx, e.name)
		if err != nil {
			s.logger.Error().Err(err).Str("job", e.name).Msg("acquire job lock failed")
			return
		}
		if !acquired {
			s.logger.Debug().Str("job", e.name).Msg("skip run because lock held elsewhere")
			return
		}
		defer unlock()
	}

	started := s.clock.Now()
	err := safeRun(runCtx, e.task)
	s.metrics.ObserveJob(e.name, err)
	if err != nil {
		s.logger.Error().Err(err).Str("job", e.name).Msg("job execution failed")
	} else {
		s.logger.Info().Str("job", e.name).Dur("took", s.clock.Now().Sub(started)).Msg("job executed")
	}

	next := Job{Name: e.name, Interval: e.interval, NextRunAt: s.clock.Now().Add(s.delay(e.interval))}
	if err := s.store.Upsert(runCtx, next); err != nil {
		s.logger.Warn().Err(err).Str("job", e.name).Msg("failed to persist next run")
	}
}

func safeRun(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return task(ctx)
}

func (s *Scheduler) delay(interval time.Duration) time.Duration {
	if !s.opts.AlignToInterval {
		return interval
	}
	now := s.clock.Now()
	next := now.Truncate(interval)
	if !next.After(now) {
		next = next.Add(interval)
	}
	return next.Sub(now)
}
