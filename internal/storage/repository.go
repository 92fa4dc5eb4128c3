package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"price-alerts/internal/alert"
)

const (
	alertColumns = `id,
        user_id,
        min_price,
        max_price,
        status,
        last_triggered_at,
        created_at,
        updated_at,
        deleted_at`

	insertAlertSQL = `INSERT INTO price_alerts (
        user_id,
        min_price,
        max_price,
        status,
        created_at,
        updated_at
    ) VALUES ($1,$2,$3,$4,$5,$6)
    RETURNING ` + alertColumns + `;`

	getAlertSQL = `SELECT ` + alertColumns + `
    FROM price_alerts
    WHERE id = $1;`

	listAlertsByOwnerSQL = `SELECT ` + alertColumns + `
    FROM price_alerts
    WHERE user_id = $1
      AND status <> 'deleted'
    ORDER BY id;`

	listActiveAlertsSQL = `SELECT ` + alertColumns + `
    FROM price_alerts
    WHERE status = 'active'
    ORDER BY id;`

	saveAlertSQL = `UPDATE price_alerts
    SET
        min_price  = $2,
        max_price  = $3,
        status     = $4,
        updated_at = $5,
        deleted_at = $6
    WHERE id = $1 AND status <> 'deleted'
    RETURNING ` + alertColumns + `;`

	markTriggeredSQL = `UPDATE price_alerts
    SET
        last_triggered_at = $2,
        updated_at        = $2
    WHERE id = $1
      AND status = 'active';`
)

// AlertRepository stores alerts in the price_alerts table.
type AlertRepository struct {
	store *Store
}

// NewAlertRepository binds the repository to s.
func NewAlertRepository(s *Store) *AlertRepository {
	return &AlertRepository{store: s}
}

// Insert persists a new alert and returns the stored row.
func (r *AlertRepository) Insert(ctx context.Context, a alert.Alert) (alert.Alert, error) {
	pool, err := r.store.getPool()
	if err != nil {
		return alert.Alert{}, err
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		a.OwnerID,
		decimalArg(a.MinPrice),
		decimalArg(a.MaxPrice),
		string(a.Status),
		a.CreatedAt,
		a.UpdatedAt,
	)
	stored, err := scanAlert(row)
	if err != nil {
		return alert.Alert{}, fmt.Errorf("insert alert: %w", err)
	}
	return stored, nil
}

// Get loads one alert regardless of status.
func (r *AlertRepository) Get(ctx context.Context, id int64) (alert.Alert, error) {
	pool, err := r.store.getPool()
	if err != nil {
		return alert.Alert{}, err
	}

	a, err := scanAlert(pool.QueryRow(ctx, getAlertSQL, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return alert.Alert{}, alert.ErrNotFound
	}
	if err != nil {
		return alert.Alert{}, fmt.Errorf("get alert: %w", err)
	}
	return a, nil
}

// ListByOwner lists the owner's non-deleted alerts.
func (r *AlertRepository) ListByOwner(ctx context.Context, ownerID string) ([]alert.Alert, error) {
	return r.list(ctx, "list alerts by owner", listAlertsByOwnerSQL, ownerID)
}

// ListActive lists alerts eligible for evaluation.
func (r *AlertRepository) ListActive(ctx context.Context) ([]alert.Alert, error) {
	return r.list(ctx, "list active alerts", listActiveAlertsSQL)
}

// Save updates bounds, status and timestamps; last_triggered_at is untouched.
func (r *AlertRepository) Save(ctx context.Context, a alert.Alert) (alert.Alert, error) {
	pool, err := r.store.getPool()
	if err != nil {
		return alert.Alert{}, err
	}

	var deletedAt any
	if a.DeletedAt != nil {
		deletedAt = *a.DeletedAt
	}

	row := pool.QueryRow(ctx, saveAlertSQL,
		a.ID,
		decimalArg(a.MinPrice),
		decimalArg(a.MaxPrice),
		string(a.Status),
		a.UpdatedAt,
		deletedAt,
	)
	stored, err := scanAlert(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return alert.Alert{}, alert.ErrNotFound
	}
	if err != nil {
		return alert.Alert{}, fmt.Errorf("save alert: %w", err)
	}
	return stored, nil
}

// MarkTriggered stamps last_triggered_at on an active alert.
func (r *AlertRepository) MarkTriggered(ctx context.Context, id int64, at time.Time) error {
	pool, err := r.store.getPool()
	if err != nil {
		return err
	}
	tag, err := pool.Exec(ctx, markTriggeredSQL, id, at)
	if err != nil {
		return fmt.Errorf("mark alert triggered: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return alert.ErrNotFound
	}
	return nil
}

func (r *AlertRepository) list(ctx context.Context, op, query string, args ...any) ([]alert.Alert, error) {
	pool, err := r.store.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	alerts := make([]alert.Alert, 0)
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return alerts, nil
}

func scanAlert(row pgx.Row) (alert.Alert, error) {
	var (
		a                  alert.Alert
		status             string
		minPrice, maxPrice *string
	)
	if err := row.Scan(
		&a.ID,
		&a.OwnerID,
		&minPrice,
		&maxPrice,
		&status,
		&a.LastTriggeredAt,
		&a.CreatedAt,
		&a.UpdatedAt,
		&a.DeletedAt,
	); err != nil {
		return alert.Alert{}, err
	}

	var err error
	if a.MinPrice, err = parseNullDecimal(minPrice); err != nil {
		return alert.Alert{}, fmt.Errorf("parse min_price: %w", err)
	}
	if a.MaxPrice, err = parseNullDecimal(maxPrice); err != nil {
		return alert.Alert{}, fmt.Errorf("parse max_price: %w", err)
	}
	a.Status = alert.Status(status)
	return a, nil
}

func decimalArg(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}
	return d.Decimal.String()
}

func parseNullDecimal(s *string) (decimal.NullDecimal, error) {
	if s == nil {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

var _ alert.Repository = (*AlertRepository)(nil)
