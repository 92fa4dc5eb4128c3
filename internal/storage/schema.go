package storage

import (
	"context"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS price_alerts (
        id                BIGSERIAL PRIMARY KEY,
        user_id           TEXT        NOT NULL,
        min_price         NUMERIC,
        max_price         NUMERIC,
        status            TEXT        NOT NULL DEFAULT 'active',
        last_triggered_at TIMESTAMPTZ,
        created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
        updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
        deleted_at        TIMESTAMPTZ,
        CONSTRAINT price_alerts_bounds_chk CHECK (min_price IS NOT NULL OR max_price IS NOT NULL),
        CONSTRAINT price_alerts_status_chk CHECK (status IN ('active', 'paused', 'deleted'))
    );`,
	`CREATE INDEX IF NOT EXISTS price_alerts_user_idx ON price_alerts (user_id, id) WHERE status <> 'deleted';`,
	`CREATE INDEX IF NOT EXISTS price_alerts_active_idx ON price_alerts (id) WHERE status = 'active';`,
	`CREATE TABLE IF NOT EXISTS scheduled_jobs (
        name        TEXT PRIMARY KEY,
        interval_ms BIGINT      NOT NULL,
        next_run_at TIMESTAMPTZ,
        updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
    );`,
}

// EnsureSchema creates the tables and indexes when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	s.logger.Info().Int("statements", len(schemaStatements)).Msg("schema ensured")
	return nil
}
