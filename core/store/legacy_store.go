package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"bazaarbot/core/tenantdb"
)

// legacyColumns is the fixed set of per-tenant columns still holding config
// values mid-migration. Column names are only ever taken from this map, never
// from request input.
var legacyColumns = map[string]bool{
	"default_language": true,
	"currency":         true,
	"welcome_text":     true,
	"support_contact":  true,
}

// ErrUnknownLegacyColumn guards against a config key being routed to a
// legacy read or write it has no column for.
var ErrUnknownLegacyColumn = errors.New("unknown legacy config column")

// LegacyConfigStore reads and writes the transitional columns on the tenants
// row. Only configsvc may use it; collaborators go through the resolution
// service.
type LegacyConfigStore interface {
	Read(ctx context.Context, tenantID int64, column string) (*string, error)
	WriteTx(ctx context.Context, q tenantdb.Querier, tenantID int64, column, value string) error
}

type legacyConfigStore struct {
	db *sql.DB
}

func NewLegacyConfigStore(db *sql.DB) LegacyConfigStore {
	return &legacyConfigStore{db: db}
}

func (s *legacyConfigStore) Read(ctx context.Context, tenantID int64, column string) (*string, error) {
	if !legacyColumns[column] {
		return nil, ErrUnknownLegacyColumn
	}
	var val sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT `+column+` FROM tenants WHERE id = $1`, tenantID).Scan(&val)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("read legacy column %s: %w", column, err)
	}
	if !val.Valid {
		return nil, nil
	}
	return &val.String, nil
}

func (s *legacyConfigStore) WriteTx(ctx context.Context, q tenantdb.Querier, tenantID int64, column, value string) error {
	if !legacyColumns[column] {
		return ErrUnknownLegacyColumn
	}
	res, err := q.ExecContext(ctx,
		`UPDATE tenants SET `+column+` = $2, updated_at = now() WHERE id = $1`, tenantID, value)
	if err != nil {
		return fmt.Errorf("write legacy column %s: %w", column, err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("write legacy column %s: tenant %d missing", column, tenantID)
	}
	return nil
}
