package tenant

import "errors"

// Failure taxonomy for tenant resolution and context handling. Callers branch
// with errors.Is; the API layer maps each sentinel to a distinct status code.
var (
	// ErrTokenInvalid means the routing token is malformed and was rejected
	// before any lookup ran.
	ErrTokenInvalid = errors.New("tenant token invalid")

	// ErrTenantNotFound means the token is well-formed but matches no tenant.
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrTenantInactive means the tenant exists but has been deactivated.
	ErrTenantInactive = errors.New("tenant inactive")

	// ErrMissingTenantContext means Require was called with no tenant bound.
	ErrMissingTenantContext = errors.New("missing tenant context")

	// ErrRebindConflict means a second, different tenant id was bound within
	// the same request. This is always a bug in the caller and is surfaced
	// loudly instead of overwriting.
	ErrRebindConflict = errors.New("tenant rebind conflict")

	// ErrTenantMismatch means an identity token's tenant claim does not match
	// the tenant resolved for the current request.
	ErrTenantMismatch = errors.New("tenant mismatch")
)
