package configsvc

import (
	"context"
	"fmt"

	"bazaarbot/core/authz"
	"bazaarbot/core/tenant"
	"bazaarbot/core/tenantdb"
)

// BackfillResult summarizes one backfill run.
type BackfillResult struct {
	Tenants int `json:"tenants"`
	Copied  int `json:"copied"`
	Skipped int `json:"skipped"`
}

// Backfill copies every populated legacy column into config_entries for all
// active tenants. Existing entries win (insert-if-absent), so the operation
// is idempotent and safe to re-run; per-tenant work is independent, so no
// ordering across tenants matters. Intended for the dual-write window.
func (s *Service) Backfill(ctx context.Context, actor string) (*BackfillResult, error) {
	if s.deps.Authz == nil || !s.deps.Authz.Allowed(actor, authz.ObjMigration, authz.ActBackfill) {
		return nil, ErrNotAuthorized
	}
	ids, err := s.deps.Tenants.ListActiveIDs(ctx)
	if err != nil {
		return nil, err
	}
	res := &BackfillResult{Tenants: len(ids)}
	for _, id := range ids {
		if err := s.backfillTenant(ctx, id, res); err != nil {
			return nil, fmt.Errorf("backfill tenant %d: %w", id, err)
		}
	}
	if s.deps.Audits != nil {
		_ = s.deps.Audits.Record(ctx, actor, "config.backfill", nil, map[string]any{
			"tenants": res.Tenants, "copied": res.Copied, "skipped": res.Skipped,
		})
	}
	s.deps.Logger.Printf("BACKFILL tenants=%d copied=%d skipped=%d actor=%s", res.Tenants, res.Copied, res.Skipped, actor)
	return res, nil
}

func (s *Service) backfillTenant(ctx context.Context, tenantID int64, res *BackfillResult) error {
	tctx, err := tenant.Bind(ctx, tenantID)
	if err != nil {
		return err
	}
	for key, column := range legacyKeys {
		val, err := s.deps.Legacy.Read(tctx, tenantID, column)
		if err != nil {
			return err
		}
		if val == nil {
			res.Skipped++
			continue
		}
		raw, err := StringValue(*val).Encode()
		if err != nil {
			return err
		}
		err = s.deps.Tx.RunInTenantTx(tctx, func(q tenantdb.Querier) error {
			return s.deps.Entries.InsertIfAbsentTx(tctx, q, tenantID, key, raw)
		})
		if err != nil {
			return err
		}
		res.Copied++
	}
	return nil
}
