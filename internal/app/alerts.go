package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"price-alerts/internal/alert"
)

// ListAlerts prints the live alerts of one owner.
func (a *App) ListAlerts(ctx context.Context, w io.Writer, opts ListOptions) error {
	if strings.TrimSpace(opts.Owner) == "" {
		return errors.New("owner is required")
	}

	c, err := a.buildComponents(ctx)
	if err != nil {
		return err
	}
	defer c.close()

	alerts, err := c.alerts.ListByOwner(ctx, opts.Owner)
	if err != nil {
		return err
	}
	return writeAlerts(w, alerts)
}

func writeAlerts(w io.Writer, alerts []alert.Alert) error {
	if len(alerts) == 0 {
		_, err := fmt.Fprintln(w, "no alerts found")
		return err
	}

	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tOwner\tMin\tMax\tStatus\tLast Triggered (UTC)\tCreated (UTC)")
	for _, al := range alerts {
		fmt.Fprintf(
			writer,
			"%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			al.ID,
			al.OwnerID,
			formatBound(al.MinPrice),
			formatBound(al.MaxPrice),
			al.Status,
			formatTime(al.LastTriggeredAt),
			al.CreatedAt.UTC().Format(time.RFC3339),
		)
	}
	return writer.Flush()
}

func formatBound(d decimal.NullDecimal) string {
	if !d.Valid {
		return "-"
	}
	return d.Decimal.StringFixed(2)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
