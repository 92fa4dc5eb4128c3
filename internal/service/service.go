package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"price-alerts/internal/alerting"
	"price-alerts/internal/bus"
	"price-alerts/internal/evaluator"
	"price-alerts/internal/fetcher"
	"price-alerts/internal/scheduler"
)

// FetchJobName identifies the recurring price fetch.
const FetchJobName = "fetch-price"

// Subscriber attaches handlers to bus topics.
type Subscriber interface {
	Subscribe(ctx context.Context, topic, pattern string, handler bus.Handler) (*bus.Subscription, error)
}

// Options tune the pipeline.
type Options struct {
	FetchInterval time.Duration
}

// Service orchestrates the scheduled fetch, trigger evaluation and notification relay.
type Service struct {
	scheduler  *scheduler.Scheduler
	fetcher    *fetcher.Service
	evaluator  *evaluator.Evaluator
	relay      *alerting.Relay
	subscriber Subscriber
	logger     zerolog.Logger

	interval time.Duration
}

// New constructs the pipeline. relay may be nil.
func New(opts Options, sched *scheduler.Scheduler, fetch *fetcher.Service, eval *evaluator.Evaluator, relay *alerting.Relay, sub Subscriber, logger zerolog.Logger) *Service {
	return &Service{
		scheduler:  sched,
		fetcher:    fetch,
		evaluator:  eval,
		relay:      relay,
		subscriber: sub,
		logger:     logger.With().Str("component", "service").Logger(),
		interval:   opts.FetchInterval,
	}
}

// Run subscribes the consumers, registers the fetch job and blocks until ctx
// is cancelled. Subscriptions are closed after the scheduler drains.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}

	// Start returns once the consumer queues are bound, so the startup fetch
	// below is delivered to the evaluator.
	evalSub, err := s.evaluator.Start(ctx, s.subscriber)
	if err != nil {
		return s.startErr(ctx, err)
	}
	defer s.closeSubscription("evaluator", evalSub)

	if s.relay != nil {
		relaySub, err := s.relay.Start(ctx, s.subscriber)
		if err != nil {
			return s.startErr(ctx, err)
		}
		defer s.closeSubscription("relay", relaySub)
	}

	if err := s.scheduler.Schedule(FetchJobName, s.interval, s.FetchPrice); err != nil {
		return fmt.Errorf("register fetch job: %w", err)
	}

	s.logger.Info().Dur("interval", s.interval).Msg("price pipeline started")
	return s.scheduler.Run(ctx)
}

// FetchPrice is the scheduled task body.
func (s *Service) FetchPrice(ctx context.Context) error {
	_, err := s.fetcher.FetchAndCache(ctx)
	return err
}

// startErr hides subscribe failures caused by shutdown during a broker outage.
func (s *Service) startErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		s.logger.Info().Err(err).Msg("stopped before subscriptions were bound")
		return nil
	}
	return err
}

func (s *Service) closeSubscription(name string, sub *bus.Subscription) {
	if err := sub.Close(); err != nil {
		s.logger.Warn().Err(err).Str("subscription", name).Msg("close subscription failed")
		return
	}
	s.logger.Info().Str("subscription", name).Msg("subscription closed")
}
