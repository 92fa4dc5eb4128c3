package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"price-alerts/internal/quote"
)

// Price prints the current quote, bypassing the cache when refresh is set.
func (a *App) Price(ctx context.Context, w io.Writer, refresh bool) error {
	c, err := a.buildComponents(ctx)
	if err != nil {
		return err
	}
	defer c.close()

	var q quote.Quote
	if refresh {
		q, err = c.fetcher.InvalidateAndRefetch(ctx)
	} else {
		q, err = c.fetcher.GetCurrentQuote(ctx)
	}
	if err != nil {
		return err
	}
	return writeQuote(w, q)
}

func writeQuote(w io.Writer, q quote.Quote) error {
	_, err := fmt.Fprintf(w, "%s %s (source %s, observed %s)\n",
		q.Price.StringFixed(2), q.Currency, q.Source, q.ObservedAt.UTC().Format(time.RFC3339))
	return err
}
