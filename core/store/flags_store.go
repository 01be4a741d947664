package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bazaarbot/core/tenantdb"
)

type FlagRecord struct {
	TenantID   int64
	FeatureKey string
	Enabled    bool
	Config     json.RawMessage
	UpdatedAt  time.Time
}

// FlagsStore accesses per-tenant feature flags on binder-bound sessions.
type FlagsStore interface {
	Get(ctx context.Context, tenantID int64, featureKey string) (*FlagRecord, error)
	GetTx(ctx context.Context, q tenantdb.Querier, tenantID int64, featureKey string) (*FlagRecord, error)
	UpsertTx(ctx context.Context, q tenantdb.Querier, rec *FlagRecord) error
	List(ctx context.Context, tenantID int64) ([]FlagRecord, error)
}

type flagsStore struct {
	binder *tenantdb.Binder
}

func NewFlagsStore(binder *tenantdb.Binder) FlagsStore {
	return &flagsStore{binder: binder}
}

func (s *flagsStore) Get(ctx context.Context, tenantID int64, featureKey string) (*FlagRecord, error) {
	conn, release, err := s.binder.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return s.GetTx(ctx, conn, tenantID, featureKey)
}

func (s *flagsStore) GetTx(ctx context.Context, q tenantdb.Querier, tenantID int64, featureKey string) (*FlagRecord, error) {
	var rec FlagRecord
	err := q.QueryRowContext(ctx,
		`SELECT tenant_id, feature_key, enabled, config, updated_at
		 FROM feature_flags WHERE tenant_id = $1 AND feature_key = $2`,
		tenantID, featureKey).Scan(&rec.TenantID, &rec.FeatureKey, &rec.Enabled, &rec.Config, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get feature flag: %w", err)
	}
	return &rec, nil
}

func (s *flagsStore) UpsertTx(ctx context.Context, q tenantdb.Querier, rec *FlagRecord) error {
	cfg := rec.Config
	if len(cfg) == 0 {
		cfg = json.RawMessage(`{}`)
	}
	if _, err := q.ExecContext(ctx,
		`INSERT INTO feature_flags(tenant_id, feature_key, enabled, config, updated_at)
		 VALUES($1, $2, $3, $4, now())
		 ON CONFLICT (tenant_id, feature_key) DO UPDATE SET enabled = EXCLUDED.enabled, config = EXCLUDED.config, updated_at = now()`,
		rec.TenantID, rec.FeatureKey, rec.Enabled, []byte(cfg)); err != nil {
		return fmt.Errorf("upsert feature flag: %w", err)
	}
	return nil
}

func (s *flagsStore) List(ctx context.Context, tenantID int64) ([]FlagRecord, error) {
	conn, release, err := s.binder.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	rows, err := conn.QueryContext(ctx,
		`SELECT tenant_id, feature_key, enabled, config, updated_at
		 FROM feature_flags WHERE tenant_id = $1 ORDER BY feature_key`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list feature flags: %w", err)
	}
	defer rows.Close()
	var out []FlagRecord
	for rows.Next() {
		var rec FlagRecord
		if err := rows.Scan(&rec.TenantID, &rec.FeatureKey, &rec.Enabled, &rec.Config, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
