package app

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-alerts/internal/alert"
	"price-alerts/internal/config"
	"price-alerts/internal/quote"
)

func testConfig(upstream string) *config.Config {
	return &config.Config{
		Upstream: config.UpstreamConfig{
			URL:        upstream,
			Timeout:    2 * time.Second,
			PriceField: "gold",
			Currency:   "USD",
			Source:     "metals.live",
		},
		Cache:     config.CacheConfig{Driver: "memory", TTL: time.Minute, Key: "quote:current"},
		Scheduler: config.SchedulerConfig{FetchInterval: time.Minute},
		Broker: config.BrokerConfig{
			Driver:         "memory",
			ReconnectDelay: time.Second,
			PriceExchange:  "prices",
			AlertExchange:  "alerts",
		},
		Alerting: config.AlertingConfig{DedupWindow: 5 * time.Minute},
	}
}

func TestPriceUsesCacheUntilRefresh(t *testing.T) {
	var calls atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"gold": 1950.5}]`))
	}))
	defer upstream.Close()

	mr := miniredis.RunT(t)
	cfg := testConfig(upstream.URL)
	cfg.Cache.Driver = "redis"
	cfg.Redis.Addr = mr.Addr()

	a := NewApp(cfg, zerolog.Nop())
	var out bytes.Buffer
	if err := a.Price(context.Background(), &out, false); err != nil {
		t.Fatalf("price: %v", err)
	}
	if !strings.Contains(out.String(), "1950.50 USD") {
		t.Fatalf("unexpected output %q", out.String())
	}
	if !mr.Exists(cfg.Cache.Key) {
		t.Fatalf("quote should be cached in redis under %s", cfg.Cache.Key)
	}

	out.Reset()
	if err := a.Price(context.Background(), &out, false); err != nil {
		t.Fatalf("cached price: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected cached read, upstream called %d times", calls.Load())
	}

	if err := a.Price(context.Background(), &out, true); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected refresh to hit upstream, got %d calls", calls.Load())
	}
}

func TestRedisUnavailableFailsFast(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := testConfig("http://127.0.0.1:1")
	cfg.Cache.Driver = "redis"
	cfg.Redis.Addr = addr

	err := NewApp(cfg, zerolog.Nop()).Price(context.Background(), &bytes.Buffer{}, false)
	if err == nil || !strings.Contains(err.Error(), "ping redis") {
		t.Fatalf("expected redis ping failure, got %v", err)
	}
}

func TestSimulateWithoutAlerts(t *testing.T) {
	a := NewApp(testConfig("http://127.0.0.1:1"), zerolog.Nop())

	var out bytes.Buffer
	if err := a.Simulate(context.Background(), &out, SimulateOptions{Price: decimal.NewFromInt(1950), DryRun: true}); err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if !strings.Contains(out.String(), "evaluated=0 triggered=0") {
		t.Fatalf("unexpected output %q", out.String())
	}

	if err := a.Simulate(context.Background(), &out, SimulateOptions{}); err == nil {
		t.Fatal("expected zero price to be rejected")
	}
}

func TestWriteAlerts(t *testing.T) {
	var out bytes.Buffer
	if err := writeAlerts(&out, nil); err != nil {
		t.Fatalf("write: %v", err)
	}
	if strings.TrimSpace(out.String()) != "no alerts found" {
		t.Fatalf("unexpected empty output %q", out.String())
	}

	triggered := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	out.Reset()
	err := writeAlerts(&out, []alert.Alert{{
		ID:              7,
		OwnerID:         "u1",
		MinPrice:        decimal.NewNullDecimal(decimal.NewFromInt(1900)),
		Status:          alert.StatusActive,
		LastTriggeredAt: &triggered,
		CreatedAt:       triggered.Add(-time.Hour),
	}})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	text := out.String()
	for _, want := range []string{"1900.00", "active", "2025-03-01T12:00:00Z", "2025-03-01T11:00:00Z"} {
		if !strings.Contains(text, want) {
			t.Fatalf("output %q missing %q", text, want)
		}
	}
	if err := NewApp(testConfig("x"), zerolog.Nop()).ListAlerts(context.Background(), &out, ListOptions{}); err == nil {
		t.Fatal("expected owner to be required")
	}
}

func TestWriteQuote(t *testing.T) {
	var out bytes.Buffer
	q := quote.Quote{Price: decimal.RequireFromString("1950.257"), Currency: "USD", Source: "metals.live", ObservedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	if err := writeQuote(&out, q); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := out.String(); got != "1950.26 USD (source metals.live, observed 2025-03-01T12:00:00Z)\n" {
		t.Fatalf("unexpected output %q", got)
	}
}
