// Package evaluator matches price updates against active alerts and publishes triggers.
package evaluator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"price-alerts/internal/alert"
	"price-alerts/internal/bus"
	"price-alerts/internal/clock"
	"price-alerts/internal/events"
	"price-alerts/internal/metrics"
)

// DefaultDedupWindow suppresses repeat triggers of the same alert.
const DefaultDedupWindow = 5 * time.Minute

// Alerts is the slice of the registry the evaluator needs.
type Alerts interface {
	ListActive(ctx context.Context) ([]alert.Alert, error)
	RecordTrigger(ctx context.Context, id int64, at time.Time) error
}

// Publisher emits alert.triggered events.
type Publisher interface {
	Publish(ctx context.Context, topic, routingKey string, payload any) error
}

// Subscriber attaches a handler to a topic.
type Subscriber interface {
	Subscribe(ctx context.Context, topic, pattern string, handler bus.Handler) (*bus.Subscription, error)
}

// Options tune evaluation.
type Options struct {
	DedupWindow   time.Duration
	PriceExchange string
	AlertExchange string
}

// Summary counts the outcome of one evaluation pass.
type Summary struct {
	Evaluated    int
	Triggered    int
	Deduplicated int
	Failed       int
	Stale        bool
}

// Evaluator is the price.updated consumer.
type Evaluator struct {
	alerts    Alerts
	publisher Publisher
	clock     clock.Clock
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	opts      Options

	mu     sync.Mutex
	newest time.Time
}

// New wires an evaluator. A nil clock uses the system clock; m may be nil.
func New(opts Options, alerts Alerts, publisher Publisher, c clock.Clock, m *metrics.Metrics, logger zerolog.Logger) *Evaluator {
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = DefaultDedupWindow
	}
	if opts.PriceExchange == "" {
		opts.PriceExchange = "prices"
	}
	if opts.AlertExchange == "" {
		opts.AlertExchange = "alerts"
	}
	if c == nil {
		c = clock.Real{}
	}
	return &Evaluator{
		alerts:    alerts,
		publisher: publisher,
		clock:     c,
		metrics:   m,
		logger:    logger.With().Str("component", "alert_evaluator").Logger(),
		opts:      opts,
	}
}

// Start subscribes the evaluator to price.updated.
func (e *Evaluator) Start(ctx context.Context, sub Subscriber) (*bus.Subscription, error) {
	s, err := sub.Subscribe(ctx, e.opts.PriceExchange, events.PriceUpdatedKey, e.HandleMessage)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", events.PriceUpdatedKey, err)
	}
	e.logger.Info().Str("exchange", e.opts.PriceExchange).Msg("listening for price updates")
	return s, nil
}

// HandleMessage decodes a delivery and evaluates it. Undecodable payloads are
// dropped; a failure to load alerts is returned so the bus redelivers.
func (e *Evaluator) HandleMessage(ctx context.Context, msg bus.Message) error {
	var ev events.PriceUpdated
	if err := json.Unmarshal(msg.Body, &ev); err != nil {
		e.logger.Error().Err(err).Str("routing_key", msg.RoutingKey).Msg("discarding malformed price update")
		return nil
	}
	_, err := e.Evaluate(ctx, ev)
	return err
}

// Evaluate checks every active alert against ev.
func (e *Evaluator) Evaluate(ctx context.Context, ev events.PriceUpdated) (Summary, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.newest.IsZero() && ev.Timestamp.Before(e.newest) {
		e.logger.Debug().
			Time("observed_at", ev.Timestamp).
			Time("newest", e.newest).
			Msg("ignoring out-of-order price update")
		return Summary{Stale: true}, nil
	}

	active, err := e.alerts.ListActive(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("load active alerts: %w", err)
	}
	e.newest = ev.Timestamp

	var sum Summary
	for _, a := range active {
		sum.Evaluated++
		if !a.Crossed(ev.Price) {
			continue
		}
		switch err := e.trigger(ctx, a, ev); {
		case errors.Is(err, errDeduplicated):
			sum.Deduplicated++
		case err != nil:
			sum.Failed++
			e.metrics.EvaluationFailed()
			e.logger.Error().Err(err).Int64("alert_id", a.ID).Msg("alert evaluation failed")
		default:
			sum.Triggered++
		}
	}

	e.logger.Info().
		Str("price", ev.Price.String()).
		Int("evaluated", sum.Evaluated).
		Int("triggered", sum.Triggered).
		Int("deduplicated", sum.Deduplicated).
		Int("failed", sum.Failed).
		Msg("price update evaluated")
	return sum, nil
}

var errDeduplicated = errors.New("within dedup window")

func (e *Evaluator) trigger(ctx context.Context, a alert.Alert, ev events.PriceUpdated) error {
	now := e.clock.Now()
	if a.LastTriggeredAt != nil && now.Sub(*a.LastTriggeredAt) < e.opts.DedupWindow {
		e.metrics.AlertDeduplicated()
		e.logger.Debug().
			Int64("alert_id", a.ID).
			Time("last_triggered_at", *a.LastTriggeredAt).
			Msg("trigger suppressed by dedup window")
		return errDeduplicated
	}

	if err := e.alerts.RecordTrigger(ctx, a.ID, now); err != nil {
		return fmt.Errorf("record trigger: %w", err)
	}

	payload := events.AlertTriggered{
		AlertID:      a.ID,
		UserID:       a.OwnerID,
		CurrentPrice: ev.Price,
		MinPrice:     a.MinPrice,
		MaxPrice:     a.MaxPrice,
		TriggeredAt:  now,
	}
	if err := e.publisher.Publish(ctx, e.opts.AlertExchange, events.AlertTriggeredKey, payload); err != nil {
		return fmt.Errorf("publish trigger: %w", err)
	}

	e.metrics.AlertTriggered()
	e.logger.Info().
		Int64("alert_id", a.ID).
		Str("owner", a.OwnerID).
		Str("price", ev.Price.String()).
		Msg("alert triggered")
	return nil
}
