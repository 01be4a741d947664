// Package cachekeys builds cache keys for tenant-scoped values. Every key is
// composite, "{tenant_id}:{logical_key}", so a bare logical key can never
// collide across tenants. The CI auditor flags tenant-scoped cache usage that
// bypasses these helpers.
package cachekeys

import (
	"fmt"
	"strconv"
)

// Scoped returns the composite cache key for a tenant-scoped logical key.
func Scoped(tenantID int64, logical string) string {
	return strconv.FormatInt(tenantID, 10) + ":" + logical
}

// ScopedF is Scoped with a formatted logical key.
func ScopedF(tenantID int64, format string, args ...any) string {
	return Scoped(tenantID, fmt.Sprintf(format, args...))
}

// TokenLookup keys the routing-token lookup cache. The token itself is the
// tenant discriminator here, since resolution is what produces the tenant id.
func TokenLookup(token string) string {
	return "tenant:token:" + token
}
