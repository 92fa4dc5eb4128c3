package alert

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"price-alerts/internal/clock"
)

// Registry validates and applies every alert mutation.
type Registry struct {
	repo   Repository
	clock  clock.Clock
	logger zerolog.Logger
}

// NewRegistry wires a registry over repo. A nil clock uses the system clock.
func NewRegistry(repo Repository, c clock.Clock, logger zerolog.Logger) *Registry {
	if c == nil {
		c = clock.Real{}
	}
	return &Registry{
		repo:   repo,
		clock:  c,
		logger: logger.With().Str("component", "alert_registry").Logger(),
	}
}

// Create stores a new active alert for ownerID.
func (r *Registry) Create(ctx context.Context, ownerID string, bounds Bounds) (Alert, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return Alert{}, &ValidationError{Field: "userId", Reason: "is required"}
	}
	if err := validateBounds(bounds.MinPrice, bounds.MaxPrice); err != nil {
		return Alert{}, err
	}

	now := r.clock.Now()
	created, err := r.repo.Insert(ctx, Alert{
		OwnerID:   ownerID,
		MinPrice:  bounds.MinPrice,
		MaxPrice:  bounds.MaxPrice,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return Alert{}, fmt.Errorf("insert alert: %w", err)
	}

	r.logger.Info().Int64("alert_id", created.ID).Str("owner", ownerID).Msg("alert created")
	return created, nil
}

// ListByOwner returns the owner's non-deleted alerts ordered by ID.
func (r *Registry) ListByOwner(ctx context.Context, ownerID string) ([]Alert, error) {
	alerts, err := r.repo.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list alerts for %s: %w", ownerID, err)
	}
	return alerts, nil
}

// Get returns a non-deleted alert.
func (r *Registry) Get(ctx context.Context, id int64) (Alert, error) {
	a, err := r.repo.Get(ctx, id)
	if err != nil {
		return Alert{}, wrapLookup(id, err)
	}
	if a.Deleted() {
		return Alert{}, ErrNotFound
	}
	return a, nil
}

// Update applies p and re-validates the result.
func (r *Registry) Update(ctx context.Context, id int64, p Patch) (Alert, error) {
	a, err := r.Get(ctx, id)
	if err != nil {
		return Alert{}, err
	}

	if p.MinPrice != nil {
		a.MinPrice = *p.MinPrice
	}
	if p.MaxPrice != nil {
		a.MaxPrice = *p.MaxPrice
	}
	if p.Status != nil {
		switch *p.Status {
		case StatusActive, StatusPaused:
			a.Status = *p.Status
		default:
			return Alert{}, &ValidationError{Field: "status", Reason: "must be one of active, paused"}
		}
	}
	if err := validateBounds(a.MinPrice, a.MaxPrice); err != nil {
		return Alert{}, err
	}

	a.UpdatedAt = r.clock.Now()
	saved, err := r.repo.Save(ctx, a)
	if err != nil {
		return Alert{}, wrapLookup(id, err)
	}

	r.logger.Info().Int64("alert_id", id).Str("status", string(saved.Status)).Msg("alert updated")
	return saved, nil
}

// SoftDelete marks the alert deleted. It stays stored but is never re-activated.
func (r *Registry) SoftDelete(ctx context.Context, id int64) (Alert, error) {
	a, err := r.Get(ctx, id)
	if err != nil {
		return Alert{}, err
	}

	now := r.clock.Now()
	a.Status = StatusDeleted
	a.DeletedAt = &now
	a.UpdatedAt = now

	saved, err := r.repo.Save(ctx, a)
	if err != nil {
		return Alert{}, wrapLookup(id, err)
	}

	r.logger.Info().Int64("alert_id", id).Msg("alert deleted")
	return saved, nil
}

// ListActive returns every alert eligible for evaluation.
func (r *Registry) ListActive(ctx context.Context) ([]Alert, error) {
	alerts, err := r.repo.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active alerts: %w", err)
	}
	return alerts, nil
}

// RecordTrigger stamps lastTriggeredAt. It fails with ErrNotFound once the alert is no longer active.
func (r *Registry) RecordTrigger(ctx context.Context, id int64, at time.Time) error {
	if err := r.repo.MarkTriggered(ctx, id, at); err != nil {
		return wrapLookup(id, err)
	}
	return nil
}

func wrapLookup(id int64, err error) error {
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("alert %d: %w", id, err)
}
