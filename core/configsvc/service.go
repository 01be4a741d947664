// Package configsvc resolves per-tenant configuration and feature flags while
// the platform migrates config values from legacy tenants columns to the
// generic key-value store. All collaborator code reads config through this
// service; direct legacy column access outside core/store is forbidden and
// flagged by the CI auditor.
package configsvc

import (
	"context"
	"encoding/json"
	"fmt"

	"bazaarbot/core/authz"
	"bazaarbot/core/store"
	"bazaarbot/core/tenant"
	"bazaarbot/core/tenantdb"
	"bazaarbot/core/utils"
)

// TxRunner runs a function inside one tenant-bound transaction. Satisfied by
// tenantdb.Binder.
type TxRunner interface {
	RunInTenantTx(ctx context.Context, fn func(q tenantdb.Querier) error) error
}

// Authorizer gates the privileged operations. Satisfied by authz.Enforcer.
type Authorizer interface {
	Allowed(actor, obj, act string) bool
}

type Deps struct {
	Entries store.ConfigEntriesStore
	Legacy  store.LegacyConfigStore
	Flags   store.FlagsStore
	Grants  store.PlanGrantsStore
	States  store.MigrationStateStore
	Tenants store.TenantsStore
	Tx      TxRunner
	Authz   Authorizer
	Audits  store.AuditStore
	Logger  *utils.Logger
}

type Service struct {
	deps Deps
}

func NewService(deps Deps) *Service {
	return &Service{deps: deps}
}

// guardTenant rejects calls whose tenant argument disagrees with the tenant
// bound to the request context. RLS would starve such a query of rows anyway;
// failing here names the bug instead of returning confusing emptiness.
func guardTenant(ctx context.Context, tenantID int64) error {
	if bound, ok := tenant.FromContext(ctx); ok && bound != tenantID {
		return tenant.ErrTenantMismatch
	}
	return nil
}

func (s *Service) stateFor(ctx context.Context, key string) (MigrationState, error) {
	raw, found, err := s.deps.States.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if !found {
		return defaultState(key), nil
	}
	return ParseState(raw)
}

// Get resolves the config value for (tenant, key), routing reads by the key's
// migration state, and returns def when no routed path has a value.
func (s *Service) Get(ctx context.Context, tenantID int64, key string, def Value) (Value, error) {
	v, found, err := s.lookup(ctx, tenantID, key)
	if err != nil {
		return Value{}, err
	}
	if !found {
		return def, nil
	}
	return v, nil
}

// GetRequired is Get without default substitution: an absent key is the typed
// failure ErrConfigKeyRequired.
func (s *Service) GetRequired(ctx context.Context, tenantID int64, key string) (Value, error) {
	v, found, err := s.lookup(ctx, tenantID, key)
	if err != nil {
		return Value{}, err
	}
	if !found {
		return Value{}, fmt.Errorf("key %s: %w", key, ErrConfigKeyRequired)
	}
	return v, nil
}

func (s *Service) lookup(ctx context.Context, tenantID int64, key string) (Value, bool, error) {
	if err := guardTenant(ctx, tenantID); err != nil {
		return Value{}, false, err
	}
	state, err := s.stateFor(ctx, key)
	if err != nil {
		return Value{}, false, err
	}
	switch state {
	case StateLegacyOnly:
		return s.readLegacy(ctx, tenantID, key)
	case StateDualWrite:
		v, found, err := s.readNew(ctx, tenantID, key)
		if err != nil || found {
			return v, found, err
		}
		if _, ok := legacyKeys[key]; !ok {
			return Value{}, false, nil
		}
		return s.readLegacy(ctx, tenantID, key)
	default:
		return s.readNew(ctx, tenantID, key)
	}
}

func (s *Service) readNew(ctx context.Context, tenantID int64, key string) (Value, bool, error) {
	raw, found, err := s.deps.Entries.Get(ctx, tenantID, key)
	if err != nil || !found {
		return Value{}, false, err
	}
	v, err := DecodeValue(raw)
	if err != nil {
		return Value{}, false, err
	}
	return v, true, nil
}

func (s *Service) readLegacy(ctx context.Context, tenantID int64, key string) (Value, bool, error) {
	column, ok := legacyKeys[key]
	if !ok {
		return Value{}, false, fmt.Errorf("key %s: %w", key, ErrUnknownLegacyKey)
	}
	val, err := s.deps.Legacy.Read(ctx, tenantID, column)
	if err != nil {
		return Value{}, false, err
	}
	if val == nil {
		return Value{}, false, nil
	}
	return StringValue(*val), true, nil
}

// Set writes the config value by migration state. Dual-write puts both sides
// in one transaction: a reader on the stale path can never miss a write that
// the other path already sees.
func (s *Service) Set(ctx context.Context, tenantID int64, key string, value Value) error {
	if err := guardTenant(ctx, tenantID); err != nil {
		return err
	}
	state, err := s.stateFor(ctx, key)
	if err != nil {
		return err
	}
	raw, err := value.Encode()
	if err != nil {
		return err
	}
	switch state {
	case StateLegacyOnly:
		return fmt.Errorf("key %s: %w", key, ErrLegacyWriteBlocked)
	case StateDualWrite:
		column, ok := legacyKeys[key]
		if !ok {
			return fmt.Errorf("key %s: %w", key, ErrUnknownLegacyKey)
		}
		err := s.deps.Tx.RunInTenantTx(ctx, func(q tenantdb.Querier) error {
			if err := s.deps.Entries.UpsertTx(ctx, q, tenantID, key, raw); err != nil {
				return err
			}
			return s.deps.Legacy.WriteTx(ctx, q, tenantID, column, value.legacyString())
		})
		if err != nil {
			return fmt.Errorf("key %s: %w: %w", key, ErrMigrationWrite, err)
		}
		return nil
	default:
		return s.deps.Entries.Upsert(ctx, tenantID, key, raw)
	}
}

// IsEnabled evaluates a feature for a tenant: the plan grant is the platform
// ceiling, then the tenant's own flag; absence at either level is disabled.
// A flag carrying the audited force-enable override skips the ceiling.
func (s *Service) IsEnabled(ctx context.Context, tenantID int64, featureKey string) (bool, error) {
	if err := guardTenant(ctx, tenantID); err != nil {
		return false, err
	}
	flag, err := s.deps.Flags.Get(ctx, tenantID, featureKey)
	if err != nil {
		return false, err
	}
	if flag == nil || !flag.Enabled {
		return false, nil
	}
	if flagForced(flag) {
		return true, nil
	}
	t, err := s.deps.Tenants.GetByID(ctx, tenantID)
	if err != nil {
		return false, err
	}
	if t == nil {
		return false, tenant.ErrTenantNotFound
	}
	granted, found, err := s.deps.Grants.Get(ctx, t.PlanID, featureKey)
	if err != nil {
		return false, err
	}
	if !found || !granted {
		return false, nil
	}
	return true, nil
}

func flagForced(flag *store.FlagRecord) bool {
	if len(flag.Config) == 0 {
		return false
	}
	var cfg struct {
		ForceEnabled bool `json:"force_enabled"`
	}
	if err := json.Unmarshal(flag.Config, &cfg); err != nil {
		return false
	}
	return cfg.ForceEnabled
}

// FlagView is the read shape handed to the API layer.
type FlagView struct {
	Feature string `json:"feature"`
	Enabled bool   `json:"enabled"`
}

// ListFlags returns the tenant's own flag rows. Plan ceilings are not applied
// here; IsEnabled is the authoritative per-feature evaluation.
func (s *Service) ListFlags(ctx context.Context, tenantID int64) ([]FlagView, error) {
	if err := guardTenant(ctx, tenantID); err != nil {
		return nil, err
	}
	recs, err := s.deps.Flags.List(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	out := make([]FlagView, 0, len(recs))
	for _, rec := range recs {
		out = append(out, FlagView{Feature: rec.FeatureKey, Enabled: rec.Enabled})
	}
	return out, nil
}

// Toggle flips a tenant's flag in one short read-modify-write transaction so
// concurrent toggles cannot lose updates. Scope is a single tenant; no
// cross-tenant locking exists.
func (s *Service) Toggle(ctx context.Context, tenantID int64, featureKey string, enabled bool) error {
	if err := guardTenant(ctx, tenantID); err != nil {
		return err
	}
	return s.deps.Tx.RunInTenantTx(ctx, func(q tenantdb.Querier) error {
		rec, err := s.deps.Flags.GetTx(ctx, q, tenantID, featureKey)
		if err != nil {
			return err
		}
		if rec == nil {
			rec = &store.FlagRecord{TenantID: tenantID, FeatureKey: featureKey}
		}
		rec.Enabled = enabled
		return s.deps.Flags.UpsertTx(ctx, q, rec)
	})
}

// ForceEnable turns a feature on for a tenant regardless of its plan grant.
// Privileged, audited; the override is stored on the flag row itself so
// every later read honors it without consulting the caller again. The admin
// surface calls this with no tenant bound, so the target tenant is bound here
// before the transaction opens, the same way the backfill binds per tenant.
func (s *Service) ForceEnable(ctx context.Context, actor string, tenantID int64, featureKey string) error {
	if s.deps.Authz == nil || !s.deps.Authz.Allowed(actor, authz.ObjFlags, authz.ActOverride) {
		return ErrNotAuthorized
	}
	if err := guardTenant(ctx, tenantID); err != nil {
		return err
	}
	tctx, err := tenant.Bind(ctx, tenantID)
	if err != nil {
		return err
	}
	err = s.deps.Tx.RunInTenantTx(tctx, func(q tenantdb.Querier) error {
		rec, err := s.deps.Flags.GetTx(tctx, q, tenantID, featureKey)
		if err != nil {
			return err
		}
		if rec == nil {
			rec = &store.FlagRecord{TenantID: tenantID, FeatureKey: featureKey}
		}
		rec.Enabled = true
		rec.Config = json.RawMessage(`{"force_enabled":true}`)
		return s.deps.Flags.UpsertTx(tctx, q, rec)
	})
	if err != nil {
		return err
	}
	if s.deps.Audits != nil {
		_ = s.deps.Audits.Record(ctx, actor, "flags.force_enable", &tenantID, map[string]any{"feature": featureKey})
	}
	s.deps.Logger.Printf("FLAG override actor=%s tenant=%d feature=%s", actor, tenantID, featureKey)
	return nil
}

// AdvanceState moves a config key to a new migration state. This is the only
// mutation path for the state machine.
func (s *Service) AdvanceState(ctx context.Context, actor, key string, to MigrationState) error {
	if s.deps.Authz == nil || !s.deps.Authz.Allowed(actor, authz.ObjMigration, authz.ActAdvance) {
		return ErrNotAuthorized
	}
	if _, err := ParseState(string(to)); err != nil {
		return err
	}
	if _, ok := legacyKeys[key]; !ok && to != StateNewOnly {
		return fmt.Errorf("key %s: %w", key, ErrUnknownLegacyKey)
	}
	if err := s.deps.States.Set(ctx, key, string(to)); err != nil {
		return err
	}
	if s.deps.Audits != nil {
		_ = s.deps.Audits.Record(ctx, actor, "config.migration_state", nil, map[string]any{"key": key, "state": string(to)})
	}
	s.deps.Logger.Printf("MIGRATION state key=%s state=%s actor=%s", key, to, actor)
	return nil
}
