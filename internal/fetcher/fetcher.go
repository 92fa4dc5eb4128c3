package fetcher

import (
	"context"
	"errors"
	"fmt"

	"price-alerts/internal/quote"
)

// Source retrieves the latest quote from the external price feed.
type Source interface {
	FetchQuote(ctx context.Context) (quote.Quote, error)
}

// Publisher announces events on a topic.
type Publisher interface {
	Publish(ctx context.Context, topic, routingKey string, payload any) error
}

// UpstreamError reports an unreachable, failing, or undecodable price source.
type UpstreamError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upstream %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("upstream %s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// IsUpstreamError reports whether err wraps an UpstreamError.
func IsUpstreamError(err error) bool {
	var upstream *UpstreamError
	return errors.As(err, &upstream)
}
