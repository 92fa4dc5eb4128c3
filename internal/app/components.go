package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"price-alerts/internal/alert"
	"price-alerts/internal/api"
	"price-alerts/internal/bus"
	"price-alerts/internal/clock"
	"price-alerts/internal/fetcher"
	"price-alerts/internal/metrics"
	"price-alerts/internal/quote"
	"price-alerts/internal/storage"
)

// components holds the shared collaborators built from configuration.
type components struct {
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	store    *storage.Store
	redis    *redis.Client
	alerts   *alert.Registry
	quotes   quote.Store
	bus      bus.Bus
	fetcher  *fetcher.Service
	checks   map[string]api.HealthCheck

	closers []func()
}

// close releases resources in reverse order of acquisition.
func (c *components) close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

func (a *App) buildComponents(ctx context.Context) (*components, error) {
	c := &components{checks: make(map[string]api.HealthCheck)}

	c.registry = prometheus.NewRegistry()
	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	c.metrics = metrics.New(c.registry)

	if err := a.openPersistence(ctx, c); err != nil {
		c.close()
		return nil, err
	}
	if err := a.openQuoteStore(ctx, c); err != nil {
		c.close()
		return nil, err
	}
	c.bus = a.newBus(c.metrics)
	c.closers = append(c.closers, func() {
		if err := c.bus.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("close event bus")
		}
	})

	source := fetcher.NewHTTPSource(fetcher.SourceOptions{
		URL:        a.Config.Upstream.URL,
		Timeout:    a.Config.Upstream.Timeout,
		UserAgent:  a.Config.Upstream.UserAgent,
		PriceField: a.Config.Upstream.PriceField,
		Currency:   a.Config.Upstream.Currency,
		Source:     a.Config.Upstream.Source,
	}, clock.Real{}, a.Logger)

	c.fetcher = fetcher.NewService(fetcher.ServiceOptions{
		TTL:      a.Config.Cache.TTL,
		Exchange: a.Config.Broker.PriceExchange,
	}, source, c.quotes, c.bus, c.metrics, a.Logger)

	return c, nil
}

func (a *App) openPersistence(ctx context.Context, c *components) error {
	if !a.Config.PersistenceEnabled() {
		a.Logger.Warn().Msg("database.dsn not configured; alerts are kept in memory")
		c.alerts = alert.NewRegistry(alert.NewMemoryRepository(), clock.Real{}, a.Logger)
		return nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return err
	}
	c.store = storage.NewStore(pool, a.Logger)
	c.closers = append(c.closers, c.store.Close)

	if a.Config.Database.AutoMigrate {
		if err := c.store.EnsureSchema(ctx); err != nil {
			return err
		}
	}

	c.alerts = alert.NewRegistry(storage.NewAlertRepository(c.store), clock.Real{}, a.Logger)
	c.checks["database"] = c.store.Ping
	return nil
}

func (a *App) openQuoteStore(ctx context.Context, c *components) error {
	if a.Config.Cache.Driver != "redis" {
		c.quotes = quote.NewMemoryStore(clock.Real{})
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     a.Config.Redis.Addr,
		Password: a.Config.Redis.Password,
		DB:       a.Config.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("ping redis %s: %w", a.Config.Redis.Addr, err)
	}

	c.redis = client
	c.closers = append(c.closers, func() {
		if err := client.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("close redis client")
		}
	})
	c.quotes = quote.NewRedisStore(client, a.Config.Cache.Key)
	c.checks["cache"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	return nil
}

func (a *App) newBus(m *metrics.Metrics) bus.Bus {
	cfg := a.Config.Broker
	if cfg.Driver == "memory" {
		a.Logger.Warn().Msg("broker.driver is memory; events stay inside this process")
		return bus.NewMemoryBus(a.Logger)
	}

	return bus.NewAMQPBus(bus.AMQPOptions{
		URL: cfg.URL,
		Backoff: bus.ConstantBackoff{
			Delay:       cfg.ReconnectDelay,
			MaxAttempts: cfg.MaxAttempts,
			Jitter:      time.Duration(cfg.Jitter * float64(cfg.ReconnectDelay)),
		},
		PublishTimeout: cfg.PublishTimeout,
		DialTimeout:    cfg.DialTimeout,
		Prefetch:       cfg.Prefetch,
		Metrics:        m,
	}, a.Logger)
}
