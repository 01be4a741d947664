// Package authz answers who may use the privileged platform operations:
// the RLS bypass, migration-state changes and plan-override flag toggles.
package authz

import (
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

const (
	ObjRLS       = "rls"
	ObjMigration = "migration"
	ObjFlags     = "flags"

	ActBypass   = "bypass"
	ActAdvance  = "advance"
	ActBackfill = "backfill"
	ActOverride = "override"
)

const rbacModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && r.obj == p.obj && r.act == p.act
`

// Enforcer wraps a casbin enforcer with the platform's fixed policy set.
// Superadmin roles come from configuration; policies are code, not data.
type Enforcer struct {
	e *casbin.Enforcer
}

func NewEnforcer(superadminRoles []string) (*Enforcer, error) {
	m, err := model.NewModelFromString(rbacModel)
	if err != nil {
		return nil, fmt.Errorf("authz model: %w", err)
	}
	e, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("authz enforcer: %w", err)
	}
	policies := [][]string{
		{"superadmin", ObjRLS, ActBypass},
		{"superadmin", ObjMigration, ActAdvance},
		{"superadmin", ObjMigration, ActBackfill},
		{"superadmin", ObjFlags, ActOverride},
		// The in-process backfill scheduler runs the same audited operation
		// the admin surface exposes, under its own named actor.
		{"scheduler", ObjMigration, ActBackfill},
	}
	for _, p := range policies {
		if _, err := e.AddPolicy(p[0], p[1], p[2]); err != nil {
			return nil, fmt.Errorf("authz policy: %w", err)
		}
	}
	for _, role := range superadminRoles {
		if role == "" || role == "superadmin" {
			continue
		}
		if _, err := e.AddGroupingPolicy(role, "superadmin"); err != nil {
			return nil, fmt.Errorf("authz grouping: %w", err)
		}
	}
	return &Enforcer{e: e}, nil
}

// Allowed reports whether the actor may perform act on obj.
func (a *Enforcer) Allowed(actor, obj, act string) bool {
	ok, err := a.e.Enforce(actor, obj, act)
	return err == nil && ok
}

// CanBypass satisfies tenantdb.BypassAuthorizer.
func (a *Enforcer) CanBypass(actor string) bool {
	return a.Allowed(actor, ObjRLS, ActBypass)
}
