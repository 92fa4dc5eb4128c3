package fetcher

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"price-alerts/internal/events"
	"price-alerts/internal/metrics"
	"price-alerts/internal/quote"
)

// DefaultTTL bounds how long a fetched quote is served from cache.
const DefaultTTL = 300 * time.Second

// ServiceOptions configure the cache-aside service.
type ServiceOptions struct {
	TTL      time.Duration
	Exchange string
}

// Service couples the upstream source with the quote store and the event bus.
type Service struct {
	source    Source
	store     quote.Store
	publisher Publisher
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	ttl      time.Duration
	exchange string
}

// NewService wires the fetcher collaborators. publisher and m may be nil.
func NewService(opts ServiceOptions, source Source, store quote.Store, publisher Publisher, m *metrics.Metrics, logger zerolog.Logger) *Service {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Exchange == "" {
		opts.Exchange = "prices"
	}
	return &Service{
		source:    source,
		store:     store,
		publisher: publisher,
		metrics:   m,
		logger:    logger.With().Str("component", "quote_fetcher").Logger(),
		ttl:       opts.TTL,
		exchange:  opts.Exchange,
	}
}

// FetchAndCache pulls a fresh quote, writes it through the store and announces price.updated.
// Only the upstream call can fail the operation; store and publish failures are logged.
func (s *Service) FetchAndCache(ctx context.Context) (quote.Quote, error) {
	q, err := s.source.FetchQuote(ctx)
	s.metrics.ObserveFetch(err)
	if err != nil {
		s.logger.Error().Err(err).Msg("upstream fetch failed")
		return quote.Quote{}, fmt.Errorf("fetch quote: %w", err)
	}

	if err := s.store.Put(ctx, q, s.ttl); err != nil {
		s.logger.Warn().Err(err).Msg("failed to cache quote")
	}

	s.logger.Info().
		Str("price", q.Price.String()).
		Str("currency", q.Currency).
		Str("source", q.Source).
		Time("observed_at", q.ObservedAt).
		Msg("quote fetched and cached")

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, s.exchange, events.PriceUpdatedKey, events.NewPriceUpdated(q)); err != nil {
			s.logger.Error().Err(err).Str("routing_key", events.PriceUpdatedKey).Msg("failed to publish price update")
		}
	}

	return q, nil
}

// GetCurrentQuote serves the cached quote, fetching synchronously on a miss.
func (s *Service) GetCurrentQuote(ctx context.Context) (quote.Quote, error) {
	q, ok, err := s.store.Get(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("quote cache read failed; treating as miss")
	}
	if err == nil && ok {
		s.metrics.ObserveCache(true)
		s.logger.Debug().Msg("quote served from cache")
		return q, nil
	}

	s.metrics.ObserveCache(false)
	return s.FetchAndCache(ctx)
}

// InvalidateAndRefetch bypasses the cache for manual refreshes.
func (s *Service) InvalidateAndRefetch(ctx context.Context) (quote.Quote, error) {
	if err := s.store.Invalidate(ctx); err != nil {
		return quote.Quote{}, fmt.Errorf("invalidate quote cache: %w", err)
	}
	s.logger.Info().Msg("quote cache invalidated")
	return s.FetchAndCache(ctx)
}
