package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"bazaarbot/core/tenantdb"
)

// ConfigEntriesStore accesses the new generic key-value config table. All
// reads and writes run on binder-bound sessions, so row security applies on
// top of the explicit tenant_id filters.
type ConfigEntriesStore interface {
	Get(ctx context.Context, tenantID int64, key string) (json.RawMessage, bool, error)
	GetTx(ctx context.Context, q tenantdb.Querier, tenantID int64, key string) (json.RawMessage, bool, error)
	Upsert(ctx context.Context, tenantID int64, key string, value json.RawMessage) error
	UpsertTx(ctx context.Context, q tenantdb.Querier, tenantID int64, key string, value json.RawMessage) error
	InsertIfAbsentTx(ctx context.Context, q tenantdb.Querier, tenantID int64, key string, value json.RawMessage) error
}

type configEntriesStore struct {
	binder *tenantdb.Binder
}

func NewConfigEntriesStore(binder *tenantdb.Binder) ConfigEntriesStore {
	return &configEntriesStore{binder: binder}
}

func (s *configEntriesStore) Get(ctx context.Context, tenantID int64, key string) (json.RawMessage, bool, error) {
	conn, release, err := s.binder.Acquire(ctx)
	if err != nil {
		return nil, false, err
	}
	defer release()
	return s.GetTx(ctx, conn, tenantID, key)
}

func (s *configEntriesStore) GetTx(ctx context.Context, q tenantdb.Querier, tenantID int64, key string) (json.RawMessage, bool, error) {
	var raw []byte
	err := q.QueryRowContext(ctx,
		`SELECT value FROM config_entries WHERE tenant_id = $1 AND config_key = $2`,
		tenantID, key).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get config entry: %w", err)
	}
	return raw, true, nil
}

func (s *configEntriesStore) Upsert(ctx context.Context, tenantID int64, key string, value json.RawMessage) error {
	conn, release, err := s.binder.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return s.UpsertTx(ctx, conn, tenantID, key, value)
}

func (s *configEntriesStore) UpsertTx(ctx context.Context, q tenantdb.Querier, tenantID int64, key string, value json.RawMessage) error {
	if _, err := q.ExecContext(ctx,
		`INSERT INTO config_entries(tenant_id, config_key, value, updated_at)
		 VALUES($1, $2, $3, now())
		 ON CONFLICT (tenant_id, config_key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		tenantID, key, []byte(value)); err != nil {
		return fmt.Errorf("upsert config entry: %w", err)
	}
	return nil
}

// InsertIfAbsentTx backs the idempotent backfill: an existing row wins, so a
// re-run never clobbers a value written after the first pass.
func (s *configEntriesStore) InsertIfAbsentTx(ctx context.Context, q tenantdb.Querier, tenantID int64, key string, value json.RawMessage) error {
	if _, err := q.ExecContext(ctx,
		`INSERT INTO config_entries(tenant_id, config_key, value, updated_at)
		 VALUES($1, $2, $3, now())
		 ON CONFLICT (tenant_id, config_key) DO NOTHING`,
		tenantID, key, []byte(value)); err != nil {
		return fmt.Errorf("backfill config entry: %w", err)
	}
	return nil
}
