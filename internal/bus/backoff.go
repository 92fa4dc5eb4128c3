package bus

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"

	"price-alerts/internal/clock"
)

// DefaultReconnectDelay is the pause between broker connection attempts.
const DefaultReconnectDelay = 5 * time.Second

// Backoff decides how long to wait after a failed attempt.
type Backoff interface {
	// Next returns the delay before attempt+1, or false to give up.
	// attempt is the number of failed attempts so far, starting at 1.
	Next(attempt int) (time.Duration, bool)
}

// ConstantBackoff waits Delay (plus up to Jitter) between attempts.
// MaxAttempts <= 0 retries forever.
type ConstantBackoff struct {
	Delay       time.Duration
	MaxAttempts int
	Jitter      time.Duration
}

// Next implements Backoff.
func (b ConstantBackoff) Next(attempt int) (time.Duration, bool) {
	if b.MaxAttempts > 0 && attempt >= b.MaxAttempts {
		return 0, false
	}
	delay := b.Delay
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}
	if b.Jitter > 0 {
		delay += time.Duration(rand.Int64N(int64(b.Jitter)))
	}
	return delay, true
}

type retrier struct {
	backoff Backoff
	clock   clock.Clock
	logger  zerolog.Logger
}

// do runs op until it succeeds, the backoff gives up, or ctx ends.
func (r retrier) do(ctx context.Context, what string, op func(context.Context) error) error {
	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil {
			if attempt > 1 {
				r.logger.Info().Str("op", what).Int("attempts", attempt).Msg("broker operation recovered")
			}
			return nil
		}
		if errors.Is(err, ErrClosed) {
			return err
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %s: %w", ErrBrokerUnavailable, what, err)
		}

		delay, ok := r.backoff.Next(attempt)
		if !ok {
			return fmt.Errorf("%w: %s after %d attempts: %w", ErrBrokerUnavailable, what, attempt, err)
		}
		r.logger.Warn().Err(err).Str("op", what).Int("attempt", attempt).Dur("retry_in", delay).Msg("broker operation failed")

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s: %w", ErrBrokerUnavailable, what, ctx.Err())
		case <-r.clock.After(delay):
		}
	}
}
