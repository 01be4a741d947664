package tenant

import (
	"context"
	"errors"
	"testing"
)

type fakeStore struct {
	tenants map[string]*Tenant
	calls   int
	err     error
}

func (f *fakeStore) FindByToken(ctx context.Context, token string) (*Tenant, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.tenants[token], nil
}

const (
	goodToken     = "100:AAAAAAAAAAAAAAAAAAAAAA"
	inactiveToken = "200:BBBBBBBBBBBBBBBBBBBBBB"
)

func newTestResolver(t *testing.T) (*Resolver, *fakeStore) {
	t.Helper()
	fs := &fakeStore{tenants: map[string]*Tenant{
		goodToken:     {ID: 1, BotToken: goodToken, Active: true},
		inactiveToken: {ID: 2, BotToken: inactiveToken, Active: false},
	}}
	return NewResolver(fs, 16, nil), fs
}

func TestResolveMalformedToken(t *testing.T) {
	r, fs := newTestResolver(t)
	for _, raw := range []string{"", "abc", "12", "12:", "12:short", "xx:AAAAAAAAAAAAAAAAAAAAAA", "12:AAAAAAAAAAAAAAAAAAAA$$"} {
		if _, _, err := r.Resolve(context.Background(), raw); !errors.Is(err, ErrTokenInvalid) {
			t.Fatalf("token %q: expected ErrTokenInvalid, got %v", raw, err)
		}
	}
	if fs.calls != 0 {
		t.Fatalf("malformed tokens must never reach the store, got %d lookups", fs.calls)
	}
}

func TestResolveUnknownToken(t *testing.T) {
	r, _ := newTestResolver(t)
	_, _, err := r.Resolve(context.Background(), "999:CCCCCCCCCCCCCCCCCCCCCC")
	if !errors.Is(err, ErrTenantNotFound) {
		t.Fatalf("expected ErrTenantNotFound, got %v", err)
	}
}

func TestResolveInactiveTenant(t *testing.T) {
	r, _ := newTestResolver(t)
	_, _, err := r.Resolve(context.Background(), inactiveToken)
	if !errors.Is(err, ErrTenantInactive) {
		t.Fatalf("expected ErrTenantInactive, got %v", err)
	}
}

func TestResolveBindsContext(t *testing.T) {
	r, _ := newTestResolver(t)
	ctx, resolved, err := r.Resolve(context.Background(), goodToken)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.ID != 1 {
		t.Fatalf("expected tenant 1, got %d", resolved.ID)
	}
	id, err := Require(ctx)
	if err != nil || id != 1 {
		t.Fatalf("context not bound: id=%d err=%v", id, err)
	}
}

func TestResolveCachesPositiveLookups(t *testing.T) {
	r, fs := newTestResolver(t)
	if _, _, err := r.Resolve(context.Background(), goodToken); err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	if _, _, err := r.Resolve(context.Background(), goodToken); err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if fs.calls != 1 {
		t.Fatalf("expected one store lookup, got %d", fs.calls)
	}
}

func TestResolveDoesNotCacheMisses(t *testing.T) {
	r, fs := newTestResolver(t)
	unknown := "999:CCCCCCCCCCCCCCCCCCCCCC"
	for i := 0; i < 2; i++ {
		if _, _, err := r.Resolve(context.Background(), unknown); !errors.Is(err, ErrTenantNotFound) {
			t.Fatalf("resolve %d: %v", i, err)
		}
	}
	if fs.calls != 2 {
		t.Fatalf("misses must not be cached, got %d lookups", fs.calls)
	}
}

func TestInvalidateDropsCacheEntry(t *testing.T) {
	r, fs := newTestResolver(t)
	if _, _, err := r.Resolve(context.Background(), goodToken); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	r.Invalidate(goodToken)
	fs.tenants[goodToken].Active = false
	if _, _, err := r.Resolve(context.Background(), goodToken); !errors.Is(err, ErrTenantInactive) {
		t.Fatalf("expected ErrTenantInactive after invalidation, got %v", err)
	}
}

func TestResolveRejectsConflictingRebind(t *testing.T) {
	r, _ := newTestResolver(t)
	ctx, err := Bind(context.Background(), 42)
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	if _, _, err := r.Resolve(ctx, goodToken); !errors.Is(err, ErrRebindConflict) {
		t.Fatalf("expected ErrRebindConflict, got %v", err)
	}
}
