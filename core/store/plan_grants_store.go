package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PlanGrantsStore reads platform-level entitlements. Grants are keyed by
// plan, not tenant, so the table is global and consulted before the tenant's
// own flag as an enablement ceiling.
type PlanGrantsStore interface {
	Get(ctx context.Context, planID int64, featureKey string) (enabled, found bool, err error)
	Set(ctx context.Context, planID int64, featureKey string, enabled bool) error
}

type planGrantsStore struct {
	db *sql.DB
}

func NewPlanGrantsStore(db *sql.DB) PlanGrantsStore {
	return &planGrantsStore{db: db}
}

func (s *planGrantsStore) Get(ctx context.Context, planID int64, featureKey string) (bool, bool, error) {
	var enabled bool
	err := s.db.QueryRowContext(ctx,
		`SELECT enabled FROM plan_feature_grants WHERE plan_id = $1 AND feature_key = $2`,
		planID, featureKey).Scan(&enabled)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, false, nil
		}
		return false, false, fmt.Errorf("get plan grant: %w", err)
	}
	return enabled, true, nil
}

func (s *planGrantsStore) Set(ctx context.Context, planID int64, featureKey string, enabled bool) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO plan_feature_grants(plan_id, feature_key, enabled)
		 VALUES($1, $2, $3)
		 ON CONFLICT (plan_id, feature_key) DO UPDATE SET enabled = EXCLUDED.enabled`,
		planID, featureKey, enabled); err != nil {
		return fmt.Errorf("set plan grant: %w", err)
	}
	return nil
}
