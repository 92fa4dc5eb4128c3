package fetcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"price-alerts/internal/clock"
	"price-alerts/internal/events"
	"price-alerts/internal/quote"
)

type scriptedSource struct {
	mu     sync.Mutex
	clock  clock.Clock
	prices []string
	err    error
	calls  int
}

func (s *scriptedSource) FetchQuote(ctx context.Context) (quote.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return quote.Quote{}, &UpstreamError{Op: "request", Err: s.err}
	}
	price := s.prices[0]
	if len(s.prices) > 1 {
		s.prices = s.prices[1:]
	}
	return quote.Quote{
		Price:      decimal.RequireFromString(price),
		Currency:   "USD",
		ObservedAt: s.clock.Now(),
		Source:     "test",
	}, nil
}

func (s *scriptedSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type recordingPublisher struct {
	mu        sync.Mutex
	err       error
	published []events.PriceUpdated
	keys      []string
}

func (p *recordingPublisher) Publish(ctx context.Context, topic, routingKey string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.keys = append(p.keys, topic+"/"+routingKey)
	p.published = append(p.published, payload.(events.PriceUpdated))
	return nil
}

func newTestService(prices ...string) (*Service, *scriptedSource, *recordingPublisher, *quote.MemoryStore, *clock.Fake) {
	fake := clock.NewFake(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	src := &scriptedSource{clock: fake, prices: prices}
	pub := &recordingPublisher{}
	store := quote.NewMemoryStore(fake)
	svc := NewService(ServiceOptions{TTL: 300 * time.Second}, src, store, pub, nil, noopLogger())
	return svc, src, pub, store, fake
}

func TestFetchAndCacheWritesStoreAndPublishes(t *testing.T) {
	svc, _, pub, store, _ := newTestService("1950")
	ctx := context.Background()

	q, err := svc.FetchAndCache(ctx)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	cached, ok, _ := store.Get(ctx)
	if !ok || !cached.Equal(q) {
		t.Fatalf("quote should be cached, got %+v ok=%v", cached, ok)
	}
	if len(pub.published) != 1 || pub.keys[0] != "prices/price.updated" {
		t.Fatalf("expected one price.updated publish, got %v", pub.keys)
	}
	if !pub.published[0].Price.Equal(decimal.NewFromInt(1950)) {
		t.Fatalf("unexpected payload %+v", pub.published[0])
	}
}

func TestGetCurrentQuoteServesCacheWithinTTL(t *testing.T) {
	svc, src, _, _, fake := newTestService("1950", "1960")
	ctx := context.Background()

	first, err := svc.FetchAndCache(ctx)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	for i := 0; i < 5; i++ {
		fake.Advance(59 * time.Second)
		got, err := svc.GetCurrentQuote(ctx)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if !got.Equal(first) {
			t.Fatalf("read %d returned a different quote: %+v", i, got)
		}
	}
	if src.Calls() != 1 {
		t.Fatalf("no upstream calls expected within ttl, got %d", src.Calls())
	}
}

func TestGetCurrentQuoteRefetchesOnceAfterExpiry(t *testing.T) {
	svc, src, pub, _, fake := newTestService("1950", "1960")
	ctx := context.Background()

	if _, err := svc.FetchAndCache(ctx); err != nil {
		t.Fatalf("fetch: %v", err)
	}

	fake.Advance(300*time.Second + time.Millisecond)

	got, err := svc.GetCurrentQuote(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Price.Equal(decimal.NewFromInt(1960)) {
		t.Fatalf("expected refreshed quote, got %s", got.Price)
	}
	if _, err := svc.GetCurrentQuote(ctx); err != nil {
		t.Fatalf("get: %v", err)
	}
	if src.Calls() != 2 {
		t.Fatalf("expected exactly one extra upstream call, got %d total", src.Calls())
	}
	if len(pub.published) != 2 {
		t.Fatalf("cache-miss fetch should also publish, got %d", len(pub.published))
	}
}

func TestUpstreamErrorLeavesCacheStale(t *testing.T) {
	svc, src, pub, store, _ := newTestService("1950")
	ctx := context.Background()

	if _, err := svc.FetchAndCache(ctx); err != nil {
		t.Fatalf("fetch: %v", err)
	}

	src.err = errors.New("connection refused")
	_, err := svc.FetchAndCache(ctx)
	if !IsUpstreamError(err) {
		t.Fatalf("expected upstream error, got %v", err)
	}

	cached, ok, _ := store.Get(ctx)
	if !ok || !cached.Price.Equal(decimal.NewFromInt(1950)) {
		t.Fatal("failed fetch should leave the previous quote in place")
	}
	if len(pub.published) != 1 {
		t.Fatalf("failed fetch must not publish, got %d", len(pub.published))
	}
}

func TestPublishFailureKeepsCacheWrite(t *testing.T) {
	svc, _, pub, store, _ := newTestService("1950")
	pub.err = errors.New("broker down")
	ctx := context.Background()

	q, err := svc.FetchAndCache(ctx)
	if err != nil {
		t.Fatalf("publish failure must not fail the fetch: %v", err)
	}
	cached, ok, _ := store.Get(ctx)
	if !ok || !cached.Equal(q) {
		t.Fatal("cache write should survive a publish failure")
	}
}

func TestInvalidateAndRefetchBypassesCache(t *testing.T) {
	svc, src, _, _, _ := newTestService("1950", "1970")
	ctx := context.Background()

	if _, err := svc.FetchAndCache(ctx); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	q, err := svc.InvalidateAndRefetch(ctx)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if !q.Price.Equal(decimal.NewFromInt(1970)) || src.Calls() != 2 {
		t.Fatalf("refresh should hit upstream: price=%s calls=%d", q.Price, src.Calls())
	}
}
