package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// AuditStore appends to the global audit_log table. Bypass sessions, flag
// overrides and migration-state changes all land here.
type AuditStore interface {
	Record(ctx context.Context, actor, action string, tenantID *int64, details map[string]any) error
	RecordBypass(ctx context.Context, actor, reason string) error
}

type auditStore struct {
	db *sql.DB
}

func NewAuditStore(db *sql.DB) AuditStore {
	return &auditStore{db: db}
}

func (s *auditStore) Record(ctx context.Context, actor, action string, tenantID *int64, details map[string]any) error {
	raw := []byte(`{}`)
	if len(details) > 0 {
		var err error
		raw, err = json.Marshal(details)
		if err != nil {
			return fmt.Errorf("encode audit details: %w", err)
		}
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log(actor, action, tenant_id, details) VALUES($1, $2, $3, $4)`,
		actor, action, tenantID, raw); err != nil {
		return fmt.Errorf("insert audit row: %w", err)
	}
	return nil
}

func (s *auditStore) RecordBypass(ctx context.Context, actor, reason string) error {
	return s.Record(ctx, actor, "rls.bypass", nil, map[string]any{"reason": reason})
}
