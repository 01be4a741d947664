// Package tenantdb binds pooled database sessions to the tenant resolved for
// the current request. The Postgres row-security policies key on the
// app.tenant_id session setting; nothing in this package or in application
// code can widen what a session sees except the explicit bypass path below.
package tenantdb

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"bazaarbot/core/tenant"
	"bazaarbot/core/utils"
)

// Querier is the subset of database/sql satisfied by *sql.Conn and *sql.Tx.
// Tenant-scoped stores execute through it so every statement runs on a
// session whose marker was set by this package.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// BypassAuthorizer decides whether an actor may open an unrestricted session.
type BypassAuthorizer interface {
	CanBypass(actor string) bool
}

// AuditRecorder persists bypass usage. Implemented by store.AuditStore.
type AuditRecorder interface {
	RecordBypass(ctx context.Context, actor, reason string) error
}

// ErrBypassDenied is returned when AcquireBypass is called by an actor the
// authorizer does not allow.
var ErrBypassDenied = fmt.Errorf("rls bypass denied")

const (
	markerSetting = "app.tenant_id"
	// bypassMarker is the value the row-security policies treat as
	// unrestricted. It is only ever set by AcquireBypass.
	bypassMarker = "*"
	// denyAllMarker matches no tenant_id, so an unbound session sees nothing.
	denyAllMarker = ""
)

// Binder re-binds every database session checkout to the request's tenant.
// Pooled connections are reused across tenants; a checkout is never trusted
// to retain a prior marker and is always set before the first query.
type Binder struct {
	db     *sql.DB
	authz  BypassAuthorizer
	audits AuditRecorder
	logger *utils.Logger
}

func NewBinder(db *sql.DB, authz BypassAuthorizer, audits AuditRecorder, logger *utils.Logger) *Binder {
	return &Binder{db: db, authz: authz, audits: audits, logger: logger}
}

// Acquire checks a connection out of the pool and sets its tenant marker from
// the request context before any other statement can run on it. With no
// tenant bound the session gets the deny-all marker: it fails closed rather
// than open. The release func resets the marker and returns the connection to
// the pool; callers must invoke it on every exit path.
func (b *Binder) Acquire(ctx context.Context) (*sql.Conn, func(), error) {
	marker := denyAllMarker
	if id, err := tenant.Require(ctx); err == nil {
		marker = strconv.FormatInt(id, 10)
	}
	return b.acquireWithMarker(ctx, marker)
}

// AcquireBypass opens a session with the unrestricted marker. This is the
// only path that can see rows across tenants: it is named, authorized per
// call and audit-logged, never inferred from an absent tenant context.
func (b *Binder) AcquireBypass(ctx context.Context, actor, reason string) (*sql.Conn, func(), error) {
	if b.authz == nil || !b.authz.CanBypass(actor) {
		return nil, nil, ErrBypassDenied
	}
	if b.audits != nil {
		if err := b.audits.RecordBypass(ctx, actor, reason); err != nil {
			return nil, nil, fmt.Errorf("record bypass: %w", err)
		}
	}
	b.logger.Printf("RLS bypass actor=%s reason=%q", actor, reason)
	return b.acquireWithMarker(ctx, bypassMarker)
}

func (b *Binder) acquireWithMarker(ctx context.Context, marker string) (*sql.Conn, func(), error) {
	conn, err := b.db.Conn(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("checkout conn: %w", err)
	}
	if _, err := conn.ExecContext(ctx, `SELECT set_config($1, $2, false)`, markerSetting, marker); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("bind session marker: %w", err)
	}
	release := func() {
		// Reset before the conn rejoins the pool so no later checkout can
		// inherit this tenant even if its own bind were skipped.
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), `SELECT set_config($1, $2, false)`, markerSetting, denyAllMarker)
		_ = conn.Close()
	}
	return conn, release, nil
}

// RunInTenantTx runs fn inside a single tenant-bound transaction: either
// every statement commits or none do. The config dual-write relies on this so
// cancellation mid-request can never leave one side applied.
func (b *Binder) RunInTenantTx(ctx context.Context, fn func(q Querier) error) error {
	tx, err := b.BeginTx(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tenant tx: %w", err)
	}
	return nil
}

// BeginTx starts a transaction whose tenant marker is transaction-local
// (set_config with is_local=true), for multi-statement writes such as the
// config dual-write. Commit or rollback drops the marker with the tx.
func (b *Binder) BeginTx(ctx context.Context) (*sql.Tx, error) {
	id, err := tenant.Require(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `SELECT set_config($1, $2, true)`, markerSetting, strconv.FormatInt(id, 10)); err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("bind tx marker: %w", err)
	}
	return tx, nil
}
