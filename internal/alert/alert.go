// Package alert holds per-user price threshold alerts and the registry that owns them.
package alert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of an alert.
type Status string

const (
	StatusActive  Status = "active"
	StatusPaused  Status = "paused"
	StatusDeleted Status = "deleted"
)

// ErrNotFound is returned for unknown or soft-deleted alerts.
var ErrNotFound = errors.New("alert: not found")

// ValidationError rejects malformed input before anything is persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid alert: " + e.Reason
	}
	return fmt.Sprintf("invalid alert: %s %s", e.Field, e.Reason)
}

// IsValidationError reports whether err wraps a ValidationError.
func IsValidationError(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// Alert is a user's price threshold. At least one bound is always set.
type Alert struct {
	ID              int64
	OwnerID         string
	MinPrice        decimal.NullDecimal
	MaxPrice        decimal.NullDecimal
	Status          Status
	LastTriggeredAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
	DeletedAt       *time.Time
}

// Bounds are the thresholds supplied on creation.
type Bounds struct {
	MinPrice decimal.NullDecimal
	MaxPrice decimal.NullDecimal
}

// Patch describes a partial update. A nil field is left unchanged; a non-nil
// bound with Valid=false clears it.
type Patch struct {
	MinPrice *decimal.NullDecimal
	MaxPrice *decimal.NullDecimal
	Status   *Status
}

// Crossed reports whether price reaches either bound. Boundaries are inclusive.
func (a Alert) Crossed(price decimal.Decimal) bool {
	if a.MinPrice.Valid && price.LessThanOrEqual(a.MinPrice.Decimal) {
		return true
	}
	return a.MaxPrice.Valid && price.GreaterThanOrEqual(a.MaxPrice.Decimal)
}

// Deleted reports whether the alert was soft-deleted.
func (a Alert) Deleted() bool {
	return a.Status == StatusDeleted
}

func validateBounds(minPrice, maxPrice decimal.NullDecimal) error {
	if !minPrice.Valid && !maxPrice.Valid {
		return &ValidationError{Reason: "at least one of minPrice or maxPrice is required"}
	}
	if minPrice.Valid && minPrice.Decimal.IsNegative() {
		return &ValidationError{Field: "minPrice", Reason: "must be >= 0"}
	}
	if maxPrice.Valid && maxPrice.Decimal.IsNegative() {
		return &ValidationError{Field: "maxPrice", Reason: "must be >= 0"}
	}
	return nil
}

// Repository persists alerts. Implementations must be safe for concurrent use.
type Repository interface {
	// Insert stores a new alert and returns it with its assigned ID.
	Insert(ctx context.Context, a Alert) (Alert, error)
	// Get returns the alert in any status, or ErrNotFound.
	Get(ctx context.Context, id int64) (Alert, error)
	// ListByOwner returns the owner's non-deleted alerts ordered by ID.
	ListByOwner(ctx context.Context, ownerID string) ([]Alert, error)
	// ListActive returns every active alert ordered by ID.
	ListActive(ctx context.Context) ([]Alert, error)
	// Save overwrites bounds, status and timestamps. LastTriggeredAt is left untouched.
	// A stored alert that is already deleted is reported as ErrNotFound.
	Save(ctx context.Context, a Alert) (Alert, error)
	// MarkTriggered sets LastTriggeredAt on an active alert, or returns ErrNotFound.
	MarkTriggered(ctx context.Context, id int64, at time.Time) error
}
