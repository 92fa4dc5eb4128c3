package evaluator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-alerts/internal/alert"
	"price-alerts/internal/bus"
	"price-alerts/internal/clock"
	"price-alerts/internal/events"
	"price-alerts/internal/fetcher"
	"price-alerts/internal/quote"
)

type sequenceSource struct {
	clock  clock.Clock
	prices []string
}

func (s *sequenceSource) FetchQuote(context.Context) (quote.Quote, error) {
	p := s.prices[0]
	s.prices = s.prices[1:]
	return quote.Quote{Price: decimal.RequireFromString(p), Currency: "USD", ObservedAt: s.clock.Now(), Source: "test"}, nil
}

// signallingBus reports each completed handler call.
type signallingBus struct {
	*bus.MemoryBus
	handled chan struct{}
}

func (s signallingBus) Subscribe(ctx context.Context, topic, pattern string, h bus.Handler) (*bus.Subscription, error) {
	return s.MemoryBus.Subscribe(ctx, topic, pattern, func(ctx context.Context, msg bus.Message) error {
		defer func() { s.handled <- struct{}{} }()
		return h(ctx, msg)
	})
}

func TestFetchToTriggerPipeline(t *testing.T) {
	ctx := context.Background()
	fake := clock.NewFake(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	b := signallingBus{MemoryBus: bus.NewMemoryBus(zerolog.Nop()), handled: make(chan struct{}, 4)}
	defer b.Close()

	reg := alert.NewRegistry(alert.NewMemoryRepository(), fake, zerolog.Nop())
	below, _ := reg.Create(ctx, "u1", alert.Bounds{MinPrice: decimal.NewNullDecimal(decimal.NewFromInt(1960))})
	above, _ := reg.Create(ctx, "u2", alert.Bounds{MaxPrice: decimal.NewNullDecimal(decimal.NewFromInt(1955))})

	eval := New(Options{}, reg, b, fake, nil, zerolog.Nop())
	if _, err := eval.Start(ctx, b); err != nil {
		t.Fatalf("start: %v", err)
	}

	triggered := make(chan events.AlertTriggered, 4)
	if _, err := b.MemoryBus.Subscribe(ctx, "alerts", events.AlertTriggeredKey, func(_ context.Context, msg bus.Message) error {
		var ev events.AlertTriggered
		if err := json.Unmarshal(msg.Body, &ev); err != nil {
			return err
		}
		triggered <- ev
		return nil
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	src := &sequenceSource{clock: fake, prices: []string{"1950", "1955"}}
	svc := fetcher.NewService(fetcher.ServiceOptions{}, src, quote.NewMemoryStore(fake), b, nil, zerolog.Nop())

	fetchAndWait := func() {
		t.Helper()
		if _, err := svc.FetchAndCache(ctx); err != nil {
			t.Fatalf("fetch: %v", err)
		}
		select {
		case <-b.handled:
		case <-time.After(2 * time.Second):
			t.Fatal("evaluator did not handle the update")
		}
	}
	next := func() events.AlertTriggered {
		t.Helper()
		select {
		case ev := <-triggered:
			return ev
		case <-time.After(2 * time.Second):
			t.Fatal("expected alert.triggered")
		}
		return events.AlertTriggered{}
	}

	fetchAndWait()
	first := next()
	if first.AlertID != below.ID || !first.CurrentPrice.Equal(decimal.NewFromInt(1950)) {
		t.Fatalf("1950 <= 1960 should trigger the min alert, got %+v", first)
	}

	fake.Advance(time.Minute)
	fetchAndWait()
	second := next()
	if second.AlertID != above.ID || !second.CurrentPrice.Equal(decimal.NewFromInt(1955)) {
		t.Fatalf("1955 >= 1955 should trigger the max alert, got %+v", second)
	}
	if !second.MaxPrice.Valid || second.MinPrice.Valid {
		t.Fatalf("unset bound should round-trip as null, got %+v", second)
	}

	select {
	case extra := <-triggered:
		t.Fatalf("min alert should be deduplicated within the window, got %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}

	stored, _ := reg.Get(ctx, above.ID)
	if stored.LastTriggeredAt == nil || !stored.LastTriggeredAt.Equal(fake.Now()) {
		t.Fatalf("lastTriggeredAt should be recorded, got %+v", stored)
	}
}
