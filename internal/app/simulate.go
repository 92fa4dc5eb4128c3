package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"

	"price-alerts/internal/alert"
	"price-alerts/internal/clock"
	"price-alerts/internal/evaluator"
	"price-alerts/internal/events"
)

// SimulateOptions configure a one-off evaluation against a synthetic price.
type SimulateOptions struct {
	Price  decimal.Decimal
	DryRun bool
}

// Simulate evaluates every active alert against opts.Price. Outside dry-run
// mode triggers are recorded and alert.triggered is published as in production.
func (a *App) Simulate(ctx context.Context, w io.Writer, opts SimulateOptions) error {
	if !opts.Price.IsPositive() {
		return errors.New("price must be greater than zero")
	}

	c, err := a.buildComponents(ctx)
	if err != nil {
		return err
	}
	defer c.close()

	var alerts evaluator.Alerts = c.alerts
	var publisher evaluator.Publisher = c.bus
	if opts.DryRun {
		alerts = dryRunAlerts{Alerts: c.alerts}
		publisher = discardPublisher{}
	}

	eval := evaluator.New(evaluator.Options{
		DedupWindow:   a.Config.Alerting.DedupWindow,
		PriceExchange: a.Config.Broker.PriceExchange,
		AlertExchange: a.Config.Broker.AlertExchange,
	}, alerts, publisher, clock.Real{}, nil, a.Logger)

	sum, err := eval.Evaluate(ctx, events.PriceUpdated{
		Price:     opts.Price,
		Currency:  a.Config.Upstream.Currency,
		Timestamp: time.Now().UTC(),
		Source:    "simulated",
	})
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(w, "price %s: evaluated=%d triggered=%d deduplicated=%d failed=%d\n",
		opts.Price.String(), sum.Evaluated, sum.Triggered, sum.Deduplicated, sum.Failed)
	return err
}

// dryRunAlerts reads through to the registry but never records a trigger.
type dryRunAlerts struct {
	evaluator.Alerts
}

func (dryRunAlerts) RecordTrigger(context.Context, int64, time.Time) error { return nil }

type discardPublisher struct{}

func (discardPublisher) Publish(context.Context, string, string, any) error { return nil }

var (
	_ evaluator.Alerts    = dryRunAlerts{}
	_ evaluator.Publisher = discardPublisher{}
	_ evaluator.Alerts    = (*alert.Registry)(nil)
)
