// Package events defines the JSON payloads exchanged over the bus.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"price-alerts/internal/quote"
)

// Routing keys.
const (
	PriceUpdatedKey   = "price.updated"
	AlertTriggeredKey = "alert.triggered"
)

// PriceUpdated announces a freshly fetched quote.
type PriceUpdated struct {
	Price     decimal.Decimal
	Currency  string
	Timestamp time.Time
	Source    string
}

type priceUpdatedWire struct {
	Price     json.Number `json:"price"`
	Currency  string      `json:"currency"`
	Timestamp time.Time   `json:"timestamp"`
	Source    string      `json:"source"`
}

// NewPriceUpdated converts a quote to its event form.
func NewPriceUpdated(q quote.Quote) PriceUpdated {
	return PriceUpdated{
		Price:     q.Price,
		Currency:  q.Currency,
		Timestamp: q.ObservedAt,
		Source:    q.Source,
	}
}

// MarshalJSON encodes the price as a JSON number.
func (p PriceUpdated) MarshalJSON() ([]byte, error) {
	return json.Marshal(priceUpdatedWire{
		Price:     json.Number(p.Price.String()),
		Currency:  p.Currency,
		Timestamp: p.Timestamp.UTC(),
		Source:    p.Source,
	})
}

// UnmarshalJSON accepts the price as a number or numeric string.
func (p *PriceUpdated) UnmarshalJSON(data []byte) error {
	var raw struct {
		Price     json.RawMessage `json:"price"`
		Currency  string          `json:"currency"`
		Timestamp time.Time       `json:"timestamp"`
		Source    string          `json:"source"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	price, err := ParseAmount(raw.Price)
	if err != nil {
		return fmt.Errorf("price: %w", err)
	}
	*p = PriceUpdated{
		Price:     price,
		Currency:  raw.Currency,
		Timestamp: raw.Timestamp,
		Source:    raw.Source,
	}
	return nil
}

// AlertTriggered is published once per triggering occurrence.
type AlertTriggered struct {
	AlertID      int64
	UserID       string
	CurrentPrice decimal.Decimal
	MinPrice     decimal.NullDecimal
	MaxPrice     decimal.NullDecimal
	TriggeredAt  time.Time
}

type alertTriggeredWire struct {
	AlertID      int64        `json:"alertId"`
	UserID       string       `json:"userId"`
	CurrentPrice json.Number  `json:"currentPrice"`
	MinPrice     *json.Number `json:"minPrice"`
	MaxPrice     *json.Number `json:"maxPrice"`
	TriggeredAt  time.Time    `json:"triggeredAt"`
}

// MarshalJSON encodes prices as numbers and unset bounds as null.
func (a AlertTriggered) MarshalJSON() ([]byte, error) {
	return json.Marshal(alertTriggeredWire{
		AlertID:      a.AlertID,
		UserID:       a.UserID,
		CurrentPrice: json.Number(a.CurrentPrice.String()),
		MinPrice:     nullableNumber(a.MinPrice),
		MaxPrice:     nullableNumber(a.MaxPrice),
		TriggeredAt:  a.TriggeredAt.UTC(),
	})
}

// UnmarshalJSON decodes the wire form.
func (a *AlertTriggered) UnmarshalJSON(data []byte) error {
	var w alertTriggeredWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	current, err := decimal.NewFromString(w.CurrentPrice.String())
	if err != nil {
		return fmt.Errorf("currentPrice: %w", err)
	}
	minPrice, err := nullableDecimal(w.MinPrice)
	if err != nil {
		return fmt.Errorf("minPrice: %w", err)
	}
	maxPrice, err := nullableDecimal(w.MaxPrice)
	if err != nil {
		return fmt.Errorf("maxPrice: %w", err)
	}
	*a = AlertTriggered{
		AlertID:      w.AlertID,
		UserID:       w.UserID,
		CurrentPrice: current,
		MinPrice:     minPrice,
		MaxPrice:     maxPrice,
		TriggeredAt:  w.TriggeredAt,
	}
	return nil
}

func nullableNumber(d decimal.NullDecimal) *json.Number {
	if !d.Valid {
		return nil
	}
	n := json.Number(d.Decimal.String())
	return &n
}

func nullableDecimal(n *json.Number) (decimal.NullDecimal, error) {
	if n == nil {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

// ParseAmount decodes a JSON number or numeric string into a decimal.
func ParseAmount(raw json.RawMessage) (decimal.Decimal, error) {
	text := strings.TrimSpace(string(raw))
	if text == "" || text == "null" {
		return decimal.Decimal{}, errors.New("missing")
	}
	if unquoted, err := strconv.Unquote(text); err == nil {
		text = strings.TrimSpace(unquoted)
	}
	return decimal.NewFromString(text)
}
