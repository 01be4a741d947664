package tenant

import "context"

type ctxKey struct{}

// Bind attaches the tenant id to the request context. Binding the same id
// again is a no-op; binding a different id within the same request fails with
// ErrRebindConflict so cross-tenant bugs surface at the bind site instead of
// silently overwriting. The value lives only in the returned context and dies
// with the request, so nothing survives into a reused execution unit.
func Bind(ctx context.Context, id int64) (context.Context, error) {
	if existing, ok := FromContext(ctx); ok {
		if existing == id {
			return ctx, nil
		}
		return ctx, ErrRebindConflict
	}
	return context.WithValue(ctx, ctxKey{}, id), nil
}

// FromContext returns the bound tenant id, if any.
func FromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(ctxKey{}).(int64)
	return id, ok
}

// Require returns the bound tenant id or ErrMissingTenantContext. Collaborator
// code must obtain the tenant id only through this call.
func Require(ctx context.Context) (int64, error) {
	id, ok := FromContext(ctx)
	if !ok {
		return 0, ErrMissingTenantContext
	}
	return id, nil
}
