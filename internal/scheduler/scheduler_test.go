package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"price-alerts/internal/clock"
)

var epoch = time.Date(2025, 3, 1, 12, 3, 0, 0, time.UTC)

func waitRun(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run")
	}
}

func runScheduler(t *testing.T, s *Scheduler) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	return cancel, done
}

func TestImmediateRunAndRecurrenceAfterFailure(t *testing.T) {
	fake := clock.NewFake(epoch)
	s := New(Options{}, nil, nil, fake, nil, zerolog.Nop())

	var calls atomic.Int32
	ran := make(chan struct{}, 4)
	err := s.Schedule("fetch", 10*time.Minute, func(context.Context) error {
		n := calls.Add(1)
		ran <- struct{}{}
		if n == 1 {
			return errors.New("upstream down")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}

	cancel, done := runScheduler(t, s)
	waitRun(t, ran)

	fake.BlockUntil(1)
	fake.Advance(10 * time.Minute)
	waitRun(t, ran)

	fake.BlockUntil(1)
	fake.Advance(10 * time.Minute)
	waitRun(t, ran)

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 runs, got %d", calls.Load())
	}
}

func TestPanickingTaskKeepsSchedule(t *testing.T) {
	fake := clock.NewFake(epoch)
	s := New(Options{}, nil, nil, fake, nil, zerolog.Nop())

	ran := make(chan struct{}, 4)
	_ = s.Schedule("fetch", time.Minute, func(context.Context) error {
		ran <- struct{}{}
		panic("boom")
	})

	cancel, done := runScheduler(t, s)
	defer func() { cancel(); <-done }()

	waitRun(t, ran)
	fake.BlockUntil(1)
	fake.Advance(time.Minute)
	waitRun(t, ran)
}

func TestStaleJobsRemovedAndNextRunPersisted(t *testing.T) {
	fake := clock.NewFake(epoch)
	store := NewMemoryJobStore()
	ctx := context.Background()
	_ = store.Upsert(ctx, Job{Name: "legacy", Interval: time.Hour, NextRunAt: epoch.Add(-time.Hour)})
	_ = store.Upsert(ctx, Job{Name: "fetch", Interval: 10 * time.Minute, NextRunAt: epoch.Add(-time.Minute)})

	s := New(Options{}, store, nil, fake, nil, zerolog.Nop())
	ran := make(chan struct{}, 1)
	_ = s.Schedule("fetch", 10*time.Minute, func(context.Context) error {
		ran <- struct{}{}
		return nil
	})

	cancel, done := runScheduler(t, s)
	waitRun(t, ran)
	fake.BlockUntil(1)
	cancel()
	<-done

	jobs, _ := store.List(ctx)
	if len(jobs) != 1 || jobs[0].Name != "fetch" {
		t.Fatalf("stale job should be removed, got %+v", jobs)
	}
	if !jobs[0].NextRunAt.Equal(epoch.Add(10 * time.Minute)) {
		t.Fatalf("next run not persisted, got %v", jobs[0].NextRunAt)
	}
}

func TestReRegisterReplacesTimer(t *testing.T) {
	fake := clock.NewFake(epoch)
	s := New(Options{}, nil, nil, fake, nil, zerolog.Nop())

	var oldCalls, newCalls atomic.Int32
	ran := make(chan struct{}, 8)
	_ = s.Schedule("fetch", 10*time.Minute, func(context.Context) error {
		oldCalls.Add(1)
		ran <- struct{}{}
		return nil
	})

	cancel, done := runScheduler(t, s)
	defer func() { cancel(); <-done }()

	waitRun(t, ran)
	fake.BlockUntil(1)

	_ = s.Schedule("fetch", time.Minute, func(context.Context) error {
		newCalls.Add(1)
		ran <- struct{}{}
		return nil
	})
	fake.BlockUntil(2)
	fake.Advance(time.Minute)
	waitRun(t, ran)

	fake.Advance(10 * time.Minute)
	waitRun(t, ran)

	if oldCalls.Load() != 1 {
		t.Fatalf("replaced task must not run again, got %d runs", oldCalls.Load())
	}
	if newCalls.Load() < 2 {
		t.Fatalf("replacement should run on its own interval, got %d runs", newCalls.Load())
	}
}

type heldLocker struct{ attempts atomic.Int32 }

func (l *heldLocker) TryLock(context.Context, string) (func(), bool, error) {
	l.attempts.Add(1)
	return nil, false, nil
}

func TestLockHeldElsewhereSkipsRun(t *testing.T) {
	fake := clock.NewFake(epoch)
	locker := &heldLocker{}
	s := New(Options{}, nil, locker, fake, nil, zerolog.Nop())

	var calls atomic.Int32
	_ = s.Schedule("fetch", time.Minute, func(context.Context) error {
		calls.Add(1)
		return nil
	})

	cancel, done := runScheduler(t, s)
	fake.BlockUntil(1)
	cancel()
	<-done

	if locker.attempts.Load() != 1 || calls.Load() != 0 {
		t.Fatalf("run should be skipped: attempts=%d calls=%d", locker.attempts.Load(), calls.Load())
	}
}

func TestAlignedDelay(t *testing.T) {
	fake := clock.NewFake(epoch)
	s := New(Options{AlignToInterval: true}, nil, nil, fake, nil, zerolog.Nop())
	if got := s.delay(10 * time.Minute); got != 7*time.Minute {
		t.Fatalf("expected 7m to the next boundary, got %v", got)
	}

	plain := New(Options{}, nil, nil, fake, nil, zerolog.Nop())
	if got := plain.delay(10 * time.Minute); got != 10*time.Minute {
		t.Fatalf("unaligned delay should equal interval, got %v", got)
	}
}

func TestScheduleValidation(t *testing.T) {
	s := New(Options{}, nil, nil, nil, nil, zerolog.Nop())
	noop := func(context.Context) error { return nil }
	if err := s.Schedule("", time.Minute, noop); err == nil {
		t.Fatal("empty name should fail")
	}
	if err := s.Schedule("fetch", 0, noop); err == nil {
		t.Fatal("zero interval should fail")
	}
	if err := s.Schedule("fetch", time.Minute, nil); err == nil {
		t.Fatal("nil task should fail")
	}
}
