package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// MigrationStateStore persists the per-key config migration state. The state
// is data, mutated only by the explicit admin operation; nothing ever infers
// it from query results.
type MigrationStateStore interface {
	Get(ctx context.Context, configKey string) (state string, found bool, err error)
	Set(ctx context.Context, configKey, state string) error
	All(ctx context.Context) (map[string]string, error)
}

type migrationStateStore struct {
	db *sql.DB
}

func NewMigrationStateStore(db *sql.DB) MigrationStateStore {
	return &migrationStateStore{db: db}
}

func (s *migrationStateStore) Get(ctx context.Context, configKey string) (string, bool, error) {
	var state string
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM config_migration_state WHERE config_key = $1`, configKey).Scan(&state)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get migration state: %w", err)
	}
	return state, true, nil
}

func (s *migrationStateStore) Set(ctx context.Context, configKey, state string) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO config_migration_state(config_key, state, updated_at)
		 VALUES($1, $2, now())
		 ON CONFLICT (config_key) DO UPDATE SET state = EXCLUDED.state, updated_at = now()`,
		configKey, state); err != nil {
		return fmt.Errorf("set migration state: %w", err)
	}
	return nil
}

func (s *migrationStateStore) All(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT config_key, state FROM config_migration_state`)
	if err != nil {
		return nil, fmt.Errorf("list migration states: %w", err)
	}
	defer rows.Close()
	out := map[string]string{}
	for rows.Next() {
		var key, state string
		if err := rows.Scan(&key, &state); err != nil {
			return nil, err
		}
		out[key] = state
	}
	return out, rows.Err()
}
