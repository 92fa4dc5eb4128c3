package alerting

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"price-alerts/internal/bus"
	"price-alerts/internal/events"
)

// Subscriber attaches a handler to a topic.
type Subscriber interface {
	Subscribe(ctx context.Context, topic, pattern string, handler bus.Handler) (*bus.Subscription, error)
}

// Relay forwards alert.triggered deliveries to a Notifier.
type Relay struct {
	exchange string
	notifier Notifier
	logger   zerolog.Logger
}

// NewRelay builds a relay for exchange (default "alerts").
func NewRelay(exchange string, notifier Notifier, logger zerolog.Logger) *Relay {
	if exchange == "" {
		exchange = "alerts"
	}
	return &Relay{
		exchange: exchange,
		notifier: notifier,
		logger:   logger.With().Str("component", "alert_relay").Logger(),
	}
}

// Start subscribes the relay.
func (r *Relay) Start(ctx context.Context, sub Subscriber) (*bus.Subscription, error) {
	s, err := sub.Subscribe(ctx, r.exchange, events.AlertTriggeredKey, r.HandleMessage)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", events.AlertTriggeredKey, err)
	}
	return s, nil
}

// HandleMessage notifies once per delivery. Notifier failures are returned so
// the bus requeues the first delivery.
func (r *Relay) HandleMessage(ctx context.Context, msg bus.Message) error {
	var trigger events.AlertTriggered
	if err := json.Unmarshal(msg.Body, &trigger); err != nil {
		r.logger.Error().Err(err).Msg("discarding malformed alert trigger")
		return nil
	}
	if err := r.notifier.Notify(ctx, trigger); err != nil {
		return fmt.Errorf("notify alert %d: %w", trigger.AlertID, err)
	}
	return nil
}
