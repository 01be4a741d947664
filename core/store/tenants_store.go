package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"bazaarbot/core/tenant"
)

// TenantsStore reads the tenants table. The table itself carries no
// row-security policy: resolution has to run before any tenant marker exists,
// and the legacy config columns on it are only touched through
// LegacyConfigStore with an explicit id filter.
type TenantsStore interface {
	FindByToken(ctx context.Context, token string) (*tenant.Tenant, error)
	GetByID(ctx context.Context, id int64) (*tenant.Tenant, error)
	ListActiveIDs(ctx context.Context) ([]int64, error)
	SetActive(ctx context.Context, id int64, active bool) error
}

type tenantsStore struct {
	db *sql.DB
}

func NewTenantsStore(db *sql.DB) TenantsStore {
	return &tenantsStore{db: db}
}

const tenantColumns = `id, bot_token, display_name, active, plan_id, created_at, updated_at`

func (s *tenantsStore) FindByToken(ctx context.Context, token string) (*tenant.Tenant, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE bot_token = $1`, token)
	return scanTenant(row)
}

func (s *tenantsStore) GetByID(ctx context.Context, id int64) (*tenant.Tenant, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id)
	return scanTenant(row)
}

func scanTenant(row *sql.Row) (*tenant.Tenant, error) {
	var t tenant.Tenant
	if err := row.Scan(&t.ID, &t.BotToken, &t.DisplayName, &t.Active, &t.PlanID, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan tenant: %w", err)
	}
	return &t, nil
}

func (s *tenantsStore) ListActiveIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM tenants WHERE active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list active tenants: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *tenantsStore) SetActive(ctx context.Context, id int64, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tenants SET active = $2, updated_at = now() WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("set tenant active: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return tenant.ErrTenantNotFound
	}
	return nil
}
