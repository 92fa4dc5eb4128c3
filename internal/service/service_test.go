package service

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-alerts/internal/alert"
	"price-alerts/internal/alerting"
	"price-alerts/internal/bus"
	"price-alerts/internal/clock"
	"price-alerts/internal/evaluator"
	"price-alerts/internal/events"
	"price-alerts/internal/fetcher"
	"price-alerts/internal/quote"
	"price-alerts/internal/scheduler"
)

type fixedSource struct {
	clock clock.Clock
	calls atomic.Int32
}

func (f *fixedSource) FetchQuote(context.Context) (quote.Quote, error) {
	f.calls.Add(1)
	return quote.Quote{Price: decimal.NewFromInt(1890), Currency: "USD", ObservedAt: f.clock.Now(), Source: "test"}, nil
}

type channelNotifier struct {
	got chan events.AlertTriggered
}

func (c channelNotifier) Notify(_ context.Context, t events.AlertTriggered) error {
	c.got <- t
	return nil
}

func TestRunFetchesImmediatelyAndRelaysTriggers(t *testing.T) {
	fake := clock.NewFake(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	b := bus.NewMemoryBus(zerolog.Nop())
	defer b.Close()

	registry := alert.NewRegistry(alert.NewMemoryRepository(), fake, zerolog.Nop())
	if _, err := registry.Create(context.Background(), "u1", alert.Bounds{MinPrice: decimal.NewNullDecimal(decimal.NewFromInt(1900))}); err != nil {
		t.Fatalf("create: %v", err)
	}

	src := &fixedSource{clock: fake}
	fetch := fetcher.NewService(fetcher.ServiceOptions{}, src, quote.NewMemoryStore(fake), b, nil, zerolog.Nop())
	eval := evaluator.New(evaluator.Options{}, registry, b, fake, nil, zerolog.Nop())
	notes := channelNotifier{got: make(chan events.AlertTriggered, 1)}
	relay := alerting.NewRelay("", notes, zerolog.Nop())
	sched := scheduler.New(scheduler.Options{}, nil, nil, fake, nil, zerolog.Nop())

	svc := New(Options{FetchInterval: 10 * time.Minute}, sched, fetch, eval, relay, b, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	select {
	case trigger := <-notes.got:
		body, _ := json.Marshal(trigger)
		if trigger.AlertID != 1 || !trigger.CurrentPrice.Equal(decimal.NewFromInt(1890)) {
			t.Fatalf("unexpected trigger %s", body)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("startup fetch should reach the relay")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop")
	}
	if src.calls.Load() != 1 {
		t.Fatalf("expected one startup fetch, got %d", src.calls.Load())
	}
}

// gatedSubscriber binds subscriptions only after release is closed.
type gatedSubscriber struct {
	inner   *bus.MemoryBus
	release chan struct{}
}

func (g *gatedSubscriber) Subscribe(ctx context.Context, topic, pattern string, handler bus.Handler) (*bus.Subscription, error) {
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.inner.Subscribe(ctx, topic, pattern, handler)
}

func TestRunFetchesOnlyAfterSubscriptionsAreBound(t *testing.T) {
	fake := clock.NewFake(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	b := bus.NewMemoryBus(zerolog.Nop())
	defer b.Close()

	registry := alert.NewRegistry(alert.NewMemoryRepository(), fake, zerolog.Nop())
	if _, err := registry.Create(context.Background(), "u1", alert.Bounds{MinPrice: decimal.NewNullDecimal(decimal.NewFromInt(1900))}); err != nil {
		t.Fatalf("create: %v", err)
	}

	src := &fixedSource{clock: fake}
	fetch := fetcher.NewService(fetcher.ServiceOptions{}, src, quote.NewMemoryStore(fake), b, nil, zerolog.Nop())
	eval := evaluator.New(evaluator.Options{}, registry, b, fake, nil, zerolog.Nop())
	notes := channelNotifier{got: make(chan events.AlertTriggered, 1)}
	relay := alerting.NewRelay("", notes, zerolog.Nop())
	sched := scheduler.New(scheduler.Options{}, nil, nil, fake, nil, zerolog.Nop())
	gate := &gatedSubscriber{inner: b, release: make(chan struct{})}

	svc := New(Options{FetchInterval: 10 * time.Minute}, sched, fetch, eval, relay, gate, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	if n := src.calls.Load(); n != 0 {
		t.Fatalf("fetched %d times before the evaluator was subscribed", n)
	}

	close(gate.release)
	select {
	case trigger := <-notes.got:
		if trigger.AlertID != 1 {
			t.Fatalf("unexpected trigger for alert %d", trigger.AlertID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("startup fetch should be evaluated once subscriptions are bound")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop")
	}
}

func TestRunStopsCleanlyWhileWaitingForBroker(t *testing.T) {
	fake := clock.NewFake(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	b := bus.NewMemoryBus(zerolog.Nop())
	defer b.Close()

	registry := alert.NewRegistry(alert.NewMemoryRepository(), fake, zerolog.Nop())
	src := &fixedSource{clock: fake}
	fetch := fetcher.NewService(fetcher.ServiceOptions{}, src, quote.NewMemoryStore(fake), b, nil, zerolog.Nop())
	eval := evaluator.New(evaluator.Options{}, registry, b, fake, nil, zerolog.Nop())
	sched := scheduler.New(scheduler.Options{}, nil, nil, fake, nil, zerolog.Nop())
	gate := &gatedSubscriber{inner: b, release: make(chan struct{})}

	svc := New(Options{FetchInterval: time.Minute}, sched, fetch, eval, nil, gate, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean stop, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop")
	}
	if src.calls.Load() != 0 {
		t.Fatal("no fetch should run before subscriptions are bound")
	}
}
