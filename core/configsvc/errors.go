package configsvc

import "errors"

var (
	// ErrConfigKeyRequired means GetRequired found nothing on any routed path.
	// Callers that can live with a default use Get instead; this is an
	// explicit branch, not silent defaulting.
	ErrConfigKeyRequired = errors.New("required config key absent")

	// ErrMigrationWrite means one side of a dual-write failed; the
	// transaction rolled both sides back.
	ErrMigrationWrite = errors.New("config migration write failed")

	// ErrLegacyWriteBlocked rejects writes for keys still in legacy-only
	// state. Writing a column the new store will never see is the transition
	// hazard this state exists to prevent; move the key to dual-write first.
	ErrLegacyWriteBlocked = errors.New("write blocked for legacy-only config key")

	// ErrUnknownLegacyKey means a key was routed to a legacy read or write
	// but has no registered tenants column.
	ErrUnknownLegacyKey = errors.New("config key has no legacy column")

	// ErrNotAuthorized covers privileged operations (state changes, backfill,
	// flag overrides) invoked by an actor without the required role.
	ErrNotAuthorized = errors.New("not authorized")
)
