package quote

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInvalidTTL is returned when a quote is stored without a positive lifetime.
var ErrInvalidTTL = errors.New("quote: ttl must be positive")

// Quote is an immutable price observation.
type Quote struct {
	Price      decimal.Decimal `json:"price"`
	Currency   string          `json:"currency"`
	ObservedAt time.Time       `json:"observedAt"`
	Source     string          `json:"source"`
}

// IsZero reports whether q carries no observation.
func (q Quote) IsZero() bool {
	return q.ObservedAt.IsZero() && q.Price.IsZero() && q.Currency == ""
}

// Equal compares two quotes field by field.
func (q Quote) Equal(other Quote) bool {
	return q.Price.Equal(other.Price) &&
		q.Currency == other.Currency &&
		q.ObservedAt.Equal(other.ObservedAt) &&
		q.Source == other.Source
}

// Store holds at most one live quote with an absolute expiry.
// Get reports ok=false once the quote has expired or was invalidated; stores never refresh themselves.
type Store interface {
	Put(ctx context.Context, q Quote, ttl time.Duration) error
	Get(ctx context.Context) (q Quote, ok bool, err error)
	Invalidate(ctx context.Context) error
}
