package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-alerts/internal/clock"
	"price-alerts/internal/events"
	"price-alerts/internal/quote"
)

const (
	defaultUserAgent  = "price-alerts/1.0"
	defaultPriceField = "gold"
	maxBodyBytes      = 1 << 20
)

// SourceOptions parameterise the HTTP price source.
type SourceOptions struct {
	URL        string
	Timeout    time.Duration
	UserAgent  string
	PriceField string
	Currency   string
	Source     string
}

// HTTPSource polls a JSON price endpoint such as metals.live.
type HTTPSource struct {
	opts   SourceOptions
	logger zerolog.Logger
	client *http.Client
	clock  clock.Clock
}

// NewHTTPSource constructs the source. A nil clock uses the system clock.
func NewHTTPSource(opts SourceOptions, c clock.Clock, logger zerolog.Logger) *HTTPSource {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if strings.TrimSpace(opts.UserAgent) == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.PriceField == "" {
		opts.PriceField = defaultPriceField
	}
	if opts.Currency == "" {
		opts.Currency = "USD"
	}
	if opts.Source == "" {
		opts.Source = "upstream"
	}
	if c == nil {
		c = clock.Real{}
	}

	return &HTTPSource{
		opts:   opts,
		logger: logger.With().Str("component", "price_source").Logger(),
		client: &http.Client{Timeout: opts.Timeout},
		clock:  c,
	}
}

// FetchQuote performs one GET against the upstream and normalises the response.
func (s *HTTPSource) FetchQuote(ctx context.Context) (quote.Quote, error) {
	if s.opts.URL == "" {
		return quote.Quote{}, &UpstreamError{Op: "configure", Err: errors.New("upstream url not configured")}
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.opts.URL, nil)
	if err != nil {
		return quote.Quote{}, &UpstreamError{Op: "build request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", s.opts.UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return quote.Quote{}, &UpstreamError{Op: "request", Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return quote.Quote{}, &UpstreamError{Op: "read body", StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return quote.Quote{}, &UpstreamError{Op: "request", StatusCode: resp.StatusCode, Err: describeBody(payload)}
	}

	price, err := extractPrice(payload, s.opts.PriceField)
	if err != nil {
		return quote.Quote{}, &UpstreamError{Op: "decode", StatusCode: resp.StatusCode, Err: err}
	}

	q := quote.Quote{
		Price:      price,
		Currency:   s.opts.Currency,
		ObservedAt: s.clock.Now(),
		Source:     s.opts.Source,
	}
	s.logger.Debug().Str("price", price.String()).Msg("upstream quote decoded")
	return q, nil
}

// extractPrice reads field from a JSON object or from the first element of a JSON array.
func extractPrice(payload []byte, field string) (decimal.Decimal, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return decimal.Decimal{}, errors.New("empty response body")
	}

	var object map[string]json.RawMessage
	if trimmed[0] == '[' {
		var list []map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return decimal.Decimal{}, fmt.Errorf("parse array response: %w", err)
		}
		if len(list) == 0 {
			return decimal.Decimal{}, errors.New("empty array response")
		}
		object = list[0]
	} else if err := json.Unmarshal(trimmed, &object); err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse object response: %w", err)
	}

	raw, ok := object[field]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("field %q missing from response", field)
	}

	price, err := events.ParseAmount(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse %s: %w", field, err)
	}
	if !price.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("%s must be positive, got %s", field, price.String())
	}
	return price, nil
}

func describeBody(payload []byte) error {
	var apiErr struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Message != "" {
			return errors.New(apiErr.Message)
		}
		if apiErr.Error != "" {
			return errors.New(apiErr.Error)
		}
	}
	if text := strings.TrimSpace(string(payload)); text != "" {
		if len(text) > 256 {
			text = text[:256]
		}
		return errors.New(text)
	}
	return errors.New("non-success response")
}

var _ Source = (*HTTPSource)(nil)
