package tenant

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"bazaarbot/core/cachekeys"
	"bazaarbot/core/utils"
)

// Store is the lookup surface the resolver needs. Implemented by
// store.TenantsStore; a nil result with nil error means no match.
type Store interface {
	FindByToken(ctx context.Context, token string) (*Tenant, error)
}

// Resolver maps an inbound routing token to exactly one tenant. Positive
// lookups are cached briefly; misses and inactive tenants are not cached so a
// provisioning or reactivation change is visible immediately. A deactivation
// applied outside this process (provisioning tooling writing the tenants
// table directly) stays resolvable for at most resolverCacheTTL unless
// Invalidate is called; the in-process deactivation path always invalidates.
type Resolver struct {
	store  Store
	cache  *expirable.LRU[string, Tenant]
	logger *utils.Logger
}

const resolverCacheTTL = 30 * time.Second

func NewResolver(store Store, cacheSize int, logger *utils.Logger) *Resolver {
	if cacheSize <= 0 {
		cacheSize = 4096
	}
	return &Resolver{
		store:  store,
		cache:  expirable.NewLRU[string, Tenant](cacheSize, nil, resolverCacheTTL),
		logger: logger,
	}
}

// Resolve validates the raw path token, looks up the tenant and returns a
// request context with the tenant id bound. Failures are the three distinct
// sentinels from errors.go and always short-circuit before any tenant-scoped
// query runs.
func (r *Resolver) Resolve(ctx context.Context, rawToken string) (context.Context, *Tenant, error) {
	token := strings.TrimSpace(rawToken)
	if !ValidToken(token) {
		return ctx, nil, ErrTokenInvalid
	}
	key := cachekeys.TokenLookup(token)
	if cached, ok := r.cache.Get(key); ok && cached.Active {
		boundCtx, err := Bind(ctx, cached.ID)
		if err != nil {
			return ctx, nil, err
		}
		return boundCtx, &cached, nil
	}
	t, err := r.store.FindByToken(ctx, token)
	if err != nil {
		return ctx, nil, fmt.Errorf("tenant lookup: %w", err)
	}
	if t == nil {
		return ctx, nil, ErrTenantNotFound
	}
	if !t.Active {
		return ctx, nil, ErrTenantInactive
	}
	r.cache.Add(key, *t)
	boundCtx, err := Bind(ctx, t.ID)
	if err != nil {
		return ctx, nil, err
	}
	return boundCtx, t, nil
}

// Invalidate drops a token from the resolver cache. Called when a tenant is
// deactivated so a stale positive entry cannot outlive the change.
func (r *Resolver) Invalidate(token string) {
	r.cache.Remove(cachekeys.TokenLookup(token))
}

// ValidToken reports whether the raw token has the bot-token shape
// "<digits>:<secret>" with a secret of at least 22 URL-safe base64 characters.
func ValidToken(token string) bool {
	idPart, secret, ok := strings.Cut(token, ":")
	if !ok || idPart == "" || len(secret) < 22 {
		return false
	}
	for _, c := range idPart {
		if c < '0' || c > '9' {
			return false
		}
	}
	for _, c := range secret {
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '_':
		default:
			return false
		}
	}
	return true
}
