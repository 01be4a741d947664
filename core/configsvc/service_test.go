package configsvc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"bazaarbot/core/store"
	"bazaarbot/core/tenant"
	"bazaarbot/core/tenantdb"
)

type fakeEntries struct {
	values map[int64]map[string]json.RawMessage
}

func newFakeEntries() *fakeEntries {
	return &fakeEntries{values: map[int64]map[string]json.RawMessage{}}
}

func (f *fakeEntries) Get(ctx context.Context, tenantID int64, key string) (json.RawMessage, bool, error) {
	raw, ok := f.values[tenantID][key]
	return raw, ok, nil
}

func (f *fakeEntries) GetTx(ctx context.Context, q tenantdb.Querier, tenantID int64, key string) (json.RawMessage, bool, error) {
	return f.Get(ctx, tenantID, key)
}

func (f *fakeEntries) Upsert(ctx context.Context, tenantID int64, key string, value json.RawMessage) error {
	if f.values[tenantID] == nil {
		f.values[tenantID] = map[string]json.RawMessage{}
	}
	f.values[tenantID][key] = value
	return nil
}

func (f *fakeEntries) UpsertTx(ctx context.Context, q tenantdb.Querier, tenantID int64, key string, value json.RawMessage) error {
	return f.Upsert(ctx, tenantID, key, value)
}

func (f *fakeEntries) InsertIfAbsentTx(ctx context.Context, q tenantdb.Querier, tenantID int64, key string, value json.RawMessage) error {
	if _, ok := f.values[tenantID][key]; ok {
		return nil
	}
	return f.Upsert(ctx, tenantID, key, value)
}

func (f *fakeEntries) snapshot() map[int64]map[string]json.RawMessage {
	out := map[int64]map[string]json.RawMessage{}
	for id, kv := range f.values {
		out[id] = map[string]json.RawMessage{}
		for k, v := range kv {
			out[id][k] = v
		}
	}
	return out
}

type fakeLegacy struct {
	values   map[int64]map[string]string
	failNext bool
}

func newFakeLegacy() *fakeLegacy {
	return &fakeLegacy{values: map[int64]map[string]string{}}
}

func (f *fakeLegacy) Read(ctx context.Context, tenantID int64, column string) (*string, error) {
	val, ok := f.values[tenantID][column]
	if !ok {
		return nil, nil
	}
	return &val, nil
}

func (f *fakeLegacy) WriteTx(ctx context.Context, q tenantdb.Querier, tenantID int64, column, value string) error {
	if f.failNext {
		f.failNext = false
		return errors.New("legacy write refused")
	}
	if f.values[tenantID] == nil {
		f.values[tenantID] = map[string]string{}
	}
	f.values[tenantID][column] = value
	return nil
}

type fakeFlags struct {
	flags map[int64]map[string]*store.FlagRecord
}

func newFakeFlags() *fakeFlags {
	return &fakeFlags{flags: map[int64]map[string]*store.FlagRecord{}}
}

func (f *fakeFlags) Get(ctx context.Context, tenantID int64, featureKey string) (*store.FlagRecord, error) {
	rec, ok := f.flags[tenantID][featureKey]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeFlags) GetTx(ctx context.Context, q tenantdb.Querier, tenantID int64, featureKey string) (*store.FlagRecord, error) {
	return f.Get(ctx, tenantID, featureKey)
}

func (f *fakeFlags) UpsertTx(ctx context.Context, q tenantdb.Querier, rec *store.FlagRecord) error {
	if f.flags[rec.TenantID] == nil {
		f.flags[rec.TenantID] = map[string]*store.FlagRecord{}
	}
	cp := *rec
	f.flags[rec.TenantID][rec.FeatureKey] = &cp
	return nil
}

func (f *fakeFlags) List(ctx context.Context, tenantID int64) ([]store.FlagRecord, error) {
	var out []store.FlagRecord
	for _, rec := range f.flags[tenantID] {
		out = append(out, *rec)
	}
	return out, nil
}

type fakeGrants struct {
	grants map[string]bool // "planID/feature" -> enabled
}

func (f *fakeGrants) Get(ctx context.Context, planID int64, featureKey string) (bool, bool, error) {
	enabled, ok := f.grants[fmt.Sprintf("%d/%s", planID, featureKey)]
	return enabled, ok, nil
}

func (f *fakeGrants) Set(ctx context.Context, planID int64, featureKey string, enabled bool) error {
	f.grants[fmt.Sprintf("%d/%s", planID, featureKey)] = enabled
	return nil
}

type fakeStates struct {
	states map[string]string
}

func (f *fakeStates) Get(ctx context.Context, configKey string) (string, bool, error) {
	s, ok := f.states[configKey]
	return s, ok, nil
}

func (f *fakeStates) Set(ctx context.Context, configKey, state string) error {
	f.states[configKey] = state
	return nil
}

func (f *fakeStates) All(ctx context.Context) (map[string]string, error) {
	return f.states, nil
}

type fakeTenants struct {
	tenants map[int64]*tenant.Tenant
}

func (f *fakeTenants) FindByToken(ctx context.Context, token string) (*tenant.Tenant, error) {
	for _, t := range f.tenants {
		if t.BotToken == token {
			return t, nil
		}
	}
	return nil, nil
}

func (f *fakeTenants) GetByID(ctx context.Context, id int64) (*tenant.Tenant, error) {
	return f.tenants[id], nil
}

func (f *fakeTenants) ListActiveIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	for id, t := range f.tenants {
		if t.Active {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeTenants) SetActive(ctx context.Context, id int64, active bool) error {
	t, ok := f.tenants[id]
	if !ok {
		return tenant.ErrTenantNotFound
	}
	t.Active = active
	return nil
}

// fakeTx emulates the binder's all-or-nothing transaction over the in-memory
// fakes: on error, the entries state is restored to its pre-tx snapshot.
type fakeTx struct {
	entries *fakeEntries
}

func (f *fakeTx) RunInTenantTx(ctx context.Context, fn func(q tenantdb.Querier) error) error {
	// Mirror the binder: transactions refuse to start without a bound tenant.
	if _, err := tenant.Require(ctx); err != nil {
		return err
	}
	before := f.entries.snapshot()
	if err := fn(nil); err != nil {
		f.entries.values = before
		return err
	}
	return nil
}

type fakeAuthz struct {
	allow bool
}

func (f *fakeAuthz) Allowed(actor, obj, act string) bool { return f.allow }

type fakeAudits struct {
	records []string
}

func (f *fakeAudits) Record(ctx context.Context, actor, action string, tenantID *int64, details map[string]any) error {
	f.records = append(f.records, action)
	return nil
}

func (f *fakeAudits) RecordBypass(ctx context.Context, actor, reason string) error {
	return f.Record(ctx, actor, "rls.bypass", nil, nil)
}

type env struct {
	svc     *Service
	entries *fakeEntries
	legacy  *fakeLegacy
	flags   *fakeFlags
	grants  *fakeGrants
	states  *fakeStates
	tenants *fakeTenants
	authz   *fakeAuthz
	audits  *fakeAudits
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		entries: newFakeEntries(),
		legacy:  newFakeLegacy(),
		flags:   newFakeFlags(),
		grants:  &fakeGrants{grants: map[string]bool{}},
		states:  &fakeStates{states: map[string]string{}},
		tenants: &fakeTenants{tenants: map[int64]*tenant.Tenant{}},
		authz:   &fakeAuthz{allow: true},
		audits:  &fakeAudits{},
	}
	e.svc = NewService(Deps{
		Entries: e.entries,
		Legacy:  e.legacy,
		Flags:   e.flags,
		Grants:  e.grants,
		States:  e.states,
		Tenants: e.tenants,
		Tx:      &fakeTx{entries: e.entries},
		Authz:   e.authz,
		Audits:  e.audits,
	})
	return e
}

func (e *env) addTenant(id int64, token string, planID int64) {
	e.tenants.tenants[id] = &tenant.Tenant{ID: id, BotToken: token, Active: true, PlanID: planID}
}

func boundCtx(t *testing.T, id int64) context.Context {
	t.Helper()
	ctx, err := tenant.Bind(context.Background(), id)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	return ctx
}

func TestFeatureFlagScenario(t *testing.T) {
	// Tenant 1 has card_to_card enabled, tenant 2 has no flag at all.
	e := newEnv(t)
	e.addTenant(1, "100:AAAAAAAAAAAAAAAAAAAAAA", 10)
	e.addTenant(2, "200:BBBBBBBBBBBBBBBBBBBBBB", 10)
	e.grants.grants["10/card_to_card"] = true
	if err := e.svc.Toggle(boundCtx(t, 1), 1, "card_to_card", true); err != nil {
		t.Fatalf("toggle: %v", err)
	}

	on, err := e.svc.IsEnabled(boundCtx(t, 1), 1, "card_to_card")
	if err != nil {
		t.Fatalf("is_enabled tenant 1: %v", err)
	}
	if !on {
		t.Fatalf("expected card_to_card enabled for tenant 1")
	}
	on, err = e.svc.IsEnabled(boundCtx(t, 2), 2, "card_to_card")
	if err != nil {
		t.Fatalf("is_enabled tenant 2: %v", err)
	}
	if on {
		t.Fatalf("expected card_to_card disabled by default for tenant 2")
	}
}

func TestPlanGrantIsACeiling(t *testing.T) {
	e := newEnv(t)
	e.addTenant(1, "100:AAAAAAAAAAAAAAAAAAAAAA", 10)
	// Flag on, but the plan never granted the feature.
	if err := e.svc.Toggle(boundCtx(t, 1), 1, "card_to_card", true); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	on, err := e.svc.IsEnabled(boundCtx(t, 1), 1, "card_to_card")
	if err != nil {
		t.Fatalf("is_enabled: %v", err)
	}
	if on {
		t.Fatalf("flag must not beat an absent plan grant")
	}
}

func TestForceEnableOverridesPlanCeiling(t *testing.T) {
	e := newEnv(t)
	e.addTenant(1, "100:AAAAAAAAAAAAAAAAAAAAAA", 10)
	if err := e.svc.ForceEnable(boundCtx(t, 1), "superadmin", 1, "card_to_card"); err != nil {
		t.Fatalf("force enable: %v", err)
	}
	on, err := e.svc.IsEnabled(boundCtx(t, 1), 1, "card_to_card")
	if err != nil {
		t.Fatalf("is_enabled: %v", err)
	}
	if !on {
		t.Fatalf("override must enable regardless of plan grant")
	}
	if len(e.audits.records) == 0 || e.audits.records[0] != "flags.force_enable" {
		t.Fatalf("override must be audit-logged, got %v", e.audits.records)
	}
}

// The admin surface carries no tenant in its context; the override must bind
// the target tenant itself before opening the transaction.
func TestForceEnableFromUnboundContext(t *testing.T) {
	e := newEnv(t)
	e.addTenant(1, "100:AAAAAAAAAAAAAAAAAAAAAA", 10)
	if err := e.svc.ForceEnable(context.Background(), "superadmin", 1, "card_to_card"); err != nil {
		t.Fatalf("force enable without a bound tenant: %v", err)
	}
	on, err := e.svc.IsEnabled(boundCtx(t, 1), 1, "card_to_card")
	if err != nil {
		t.Fatalf("is_enabled: %v", err)
	}
	if !on {
		t.Fatalf("override not persisted")
	}
}

func TestForceEnableRequiresAuthorization(t *testing.T) {
	e := newEnv(t)
	e.addTenant(1, "100:AAAAAAAAAAAAAAAAAAAAAA", 10)
	e.authz.allow = false
	if err := e.svc.ForceEnable(boundCtx(t, 1), "nobody", 1, "card_to_card"); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
}

func TestDualWriteLegacyFallback(t *testing.T) {
	// Tenant 5 has legacy DEFAULT_LANGUAGE="fa" and no new-store row.
	e := newEnv(t)
	e.addTenant(5, "500:EEEEEEEEEEEEEEEEEEEEEE", 10)
	e.legacy.values[5] = map[string]string{"default_language": "fa"}
	e.states.states["DEFAULT_LANGUAGE"] = string(StateDualWrite)

	ctx := boundCtx(t, 5)
	v, err := e.svc.Get(ctx, 5, "DEFAULT_LANGUAGE", StringValue("en"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if s, _ := v.AsString(); s != "fa" {
		t.Fatalf("expected legacy fallback fa, got %q", s)
	}

	if err := e.svc.Set(ctx, 5, "DEFAULT_LANGUAGE", StringValue("en")); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, err = e.svc.Get(ctx, 5, "DEFAULT_LANGUAGE", StringValue("xx"))
	if err != nil {
		t.Fatalf("get after set: %v", err)
	}
	if s, _ := v.AsString(); s != "en" {
		t.Fatalf("expected en after set, got %q", s)
	}
	if e.legacy.values[5]["default_language"] != "en" {
		t.Fatalf("legacy column must reflect the dual-write, got %q", e.legacy.values[5]["default_language"])
	}
}

func TestDualWriteRoundTrip(t *testing.T) {
	e := newEnv(t)
	e.addTenant(5, "500:EEEEEEEEEEEEEEEEEEEEEE", 10)
	e.states.states["CURRENCY"] = string(StateDualWrite)
	ctx := boundCtx(t, 5)
	if err := e.svc.Set(ctx, 5, "CURRENCY", StringValue("IRR")); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, err := e.svc.Get(ctx, 5, "CURRENCY", StringValue(""))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if s, _ := v.AsString(); s != "IRR" {
		t.Fatalf("round trip lost the value: %q", s)
	}
	if e.legacy.values[5]["currency"] != "IRR" {
		t.Fatalf("legacy side missing after dual-write")
	}
}

func TestDualWriteIsAtomic(t *testing.T) {
	e := newEnv(t)
	e.addTenant(5, "500:EEEEEEEEEEEEEEEEEEEEEE", 10)
	e.states.states["CURRENCY"] = string(StateDualWrite)
	e.legacy.failNext = true
	ctx := boundCtx(t, 5)
	err := e.svc.Set(ctx, 5, "CURRENCY", StringValue("IRR"))
	if !errors.Is(err, ErrMigrationWrite) {
		t.Fatalf("expected ErrMigrationWrite, got %v", err)
	}
	if _, found, _ := e.entries.Get(ctx, 5, "CURRENCY"); found {
		t.Fatalf("new-store write must roll back when the legacy side fails")
	}
}

func TestLegacyOnlyReadAndWriteBlock(t *testing.T) {
	e := newEnv(t)
	e.addTenant(5, "500:EEEEEEEEEEEEEEEEEEEEEE", 10)
	e.legacy.values[5] = map[string]string{"welcome_text": "salam"}
	// No explicit state row: legacy keys default to legacy-only.
	ctx := boundCtx(t, 5)
	v, err := e.svc.Get(ctx, 5, "WELCOME_TEXT", StringValue(""))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if s, _ := v.AsString(); s != "salam" {
		t.Fatalf("expected legacy read, got %q", s)
	}
	if err := e.svc.Set(ctx, 5, "WELCOME_TEXT", StringValue("hi")); !errors.Is(err, ErrLegacyWriteBlocked) {
		t.Fatalf("expected ErrLegacyWriteBlocked, got %v", err)
	}
}

func TestNewOnlyIgnoresLegacy(t *testing.T) {
	e := newEnv(t)
	e.addTenant(5, "500:EEEEEEEEEEEEEEEEEEEEEE", 10)
	e.legacy.values[5] = map[string]string{"default_language": "fa"}
	e.states.states["DEFAULT_LANGUAGE"] = string(StateNewOnly)
	ctx := boundCtx(t, 5)
	v, err := e.svc.Get(ctx, 5, "DEFAULT_LANGUAGE", StringValue("en"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if s, _ := v.AsString(); s != "en" {
		t.Fatalf("new-only must not fall back to legacy, got %q", s)
	}
}

func TestGetRequiredAbsentKey(t *testing.T) {
	e := newEnv(t)
	e.addTenant(5, "500:EEEEEEEEEEEEEEEEEEEEEE", 10)
	_, err := e.svc.GetRequired(boundCtx(t, 5), 5, "PAYMENT_GATEWAY")
	if !errors.Is(err, ErrConfigKeyRequired) {
		t.Fatalf("expected ErrConfigKeyRequired, got %v", err)
	}
}

func TestGuardRejectsTenantMismatch(t *testing.T) {
	e := newEnv(t)
	e.addTenant(1, "100:AAAAAAAAAAAAAAAAAAAAAA", 10)
	e.addTenant(2, "200:BBBBBBBBBBBBBBBBBBBBBB", 10)
	_, err := e.svc.Get(boundCtx(t, 2), 1, "DEFAULT_LANGUAGE", StringValue(""))
	if !errors.Is(err, tenant.ErrTenantMismatch) {
		t.Fatalf("expected ErrTenantMismatch, got %v", err)
	}
}

func TestBackfillIsIdempotent(t *testing.T) {
	e := newEnv(t)
	e.addTenant(1, "100:AAAAAAAAAAAAAAAAAAAAAA", 10)
	e.addTenant(2, "200:BBBBBBBBBBBBBBBBBBBBBB", 10)
	e.legacy.values[1] = map[string]string{"default_language": "fa", "currency": "IRR"}
	e.legacy.values[2] = map[string]string{"default_language": "en"}

	res1, err := e.svc.Backfill(context.Background(), "superadmin")
	if err != nil {
		t.Fatalf("backfill: %v", err)
	}
	if res1.Copied != 3 {
		t.Fatalf("expected 3 copied, got %d", res1.Copied)
	}
	after1 := e.entries.snapshot()

	// Running again must not change anything, including a value that was
	// updated through the new store between runs.
	if err := e.entries.Upsert(context.Background(), 2, "DEFAULT_LANGUAGE", json.RawMessage(`"de"`)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := e.svc.Backfill(context.Background(), "superadmin"); err != nil {
		t.Fatalf("backfill again: %v", err)
	}
	raw, found, _ := e.entries.Get(context.Background(), 2, "DEFAULT_LANGUAGE")
	if !found || string(raw) != `"de"` {
		t.Fatalf("backfill re-run clobbered a newer value: %s", raw)
	}
	raw, found, _ = e.entries.Get(context.Background(), 1, "DEFAULT_LANGUAGE")
	if !found || string(raw) != string(after1[1]["DEFAULT_LANGUAGE"]) {
		t.Fatalf("backfill re-run changed tenant 1 state")
	}
}

func TestBackfillRequiresAuthorization(t *testing.T) {
	e := newEnv(t)
	e.authz.allow = false
	if _, err := e.svc.Backfill(context.Background(), "nobody"); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
}

func TestAdvanceStateValidation(t *testing.T) {
	e := newEnv(t)
	if err := e.svc.AdvanceState(context.Background(), "superadmin", "DEFAULT_LANGUAGE", StateDualWrite); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if e.states.states["DEFAULT_LANGUAGE"] != string(StateDualWrite) {
		t.Fatalf("state not persisted")
	}
	// A key with no legacy column cannot enter a legacy-reading state.
	if err := e.svc.AdvanceState(context.Background(), "superadmin", "PAYMENT_GATEWAY", StateDualWrite); !errors.Is(err, ErrUnknownLegacyKey) {
		t.Fatalf("expected ErrUnknownLegacyKey, got %v", err)
	}
	if err := e.svc.AdvanceState(context.Background(), "superadmin", "DEFAULT_LANGUAGE", "half-written"); err == nil {
		t.Fatalf("expected invalid state to be rejected")
	}
}

func TestToggleLastWriteWins(t *testing.T) {
	e := newEnv(t)
	e.addTenant(1, "100:AAAAAAAAAAAAAAAAAAAAAA", 10)
	ctx := boundCtx(t, 1)
	if err := e.svc.Toggle(ctx, 1, "card_to_card", true); err != nil {
		t.Fatalf("toggle on: %v", err)
	}
	if err := e.svc.Toggle(ctx, 1, "card_to_card", false); err != nil {
		t.Fatalf("toggle off: %v", err)
	}
	rec, _ := e.flags.Get(ctx, 1, "card_to_card")
	if rec == nil || rec.Enabled {
		t.Fatalf("expected flag disabled after second toggle")
	}
}
