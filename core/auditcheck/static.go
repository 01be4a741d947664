// Package auditcheck is the CI-time isolation auditor. It never runs on the
// request path; it scans the source tree (and optionally the live schema) for
// code that steps outside the tenant-isolation contract and reports
// file:line violations intended to gate merges.
package auditcheck

import (
	"fmt"
	"go/ast"
	"go/token"
	"strings"
)

type Violation struct {
	Pos token.Position
	Msg string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s:%d: %s", v.Pos.Filename, v.Pos.Line, v.Msg)
}

// tenantScopedTables are the row-secured tables. SQL that names one of these
// outside the store layer must carry an explicit tenant_id filter; inside the
// store layer the same rule applies on top of the binder-bound session.
var tenantScopedTables = []string{"feature_flags", "config_entries"}

// CheckFile runs every static check over one parsed file.
func CheckFile(fset *token.FileSet, file *ast.File) []Violation {
	var out []Violation
	out = append(out, CheckSQLTenantFilter(fset, file)...)
	out = append(out, CheckTenantRoutes(fset, file)...)
	out = append(out, CheckCacheKeys(fset, file)...)
	return out
}

var queryMethods = map[string]bool{
	"QueryContext":    true,
	"QueryRowContext": true,
	"ExecContext":     true,
}

// CheckSQLTenantFilter flags query calls whose SQL string names a
// tenant-scoped table without filtering on tenant_id. Row security is the
// backstop, but a query relying on it alone is almost always a bug: against
// an unbound session it silently sees nothing.
func CheckSQLTenantFilter(fset *token.FileSet, file *ast.File) []Violation {
	var out []Violation
	ast.Inspect(file, func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		sel, ok := call.Fun.(*ast.SelectorExpr)
		if !ok || !queryMethods[sel.Sel.Name] || len(call.Args) < 2 {
			return true
		}
		sqlText, ok := stringArg(call.Args[1])
		if !ok {
			return true
		}
		lower := strings.ToLower(sqlText)
		for _, table := range tenantScopedTables {
			if !strings.Contains(lower, table) {
				continue
			}
			if !strings.Contains(lower, "tenant_id") {
				out = append(out, Violation{
					Pos: fset.Position(call.Pos()),
					Msg: fmt.Sprintf("query touches tenant-scoped table %q without a tenant_id filter", table),
				})
			}
		}
		return true
	})
	return out
}

var routeMethods = map[string]bool{
	"MethodFunc": true,
	"Get":        true,
	"Post":       true,
	"Put":        true,
	"Delete":     true,
	"Handle":     true,
	"HandleFunc": true,
}

// CheckTenantRoutes flags route registrations for tenant-token paths whose
// handler is not wrapped in the tenant-resolution middleware.
func CheckTenantRoutes(fset *token.FileSet, file *ast.File) []Violation {
	var out []Violation
	ast.Inspect(file, func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		sel, ok := call.Fun.(*ast.SelectorExpr)
		if !ok || !routeMethods[sel.Sel.Name] || len(call.Args) < 2 {
			return true
		}
		var pattern string
		var handler ast.Expr
		if first, ok := stringArg(call.Args[0]); ok {
			pattern = first
			handler = call.Args[1]
		} else if len(call.Args) >= 3 {
			second, ok := stringArg(call.Args[1])
			if !ok {
				return true
			}
			pattern = second
			handler = call.Args[2]
		} else {
			return true
		}
		if !strings.Contains(pattern, "{tenant_token}") {
			return true
		}
		if !wrappedBy(handler, "withTenant") {
			out = append(out, Violation{
				Pos: fset.Position(call.Pos()),
				Msg: fmt.Sprintf("route %q registered without withTenant middleware", pattern),
			})
		}
		return true
	})
	return out
}

// wrappedBy reports whether expr is (or contains, through nested middleware
// calls) a call to the named wrapper.
func wrappedBy(expr ast.Expr, name string) bool {
	call, ok := expr.(*ast.CallExpr)
	if !ok {
		return false
	}
	if sel, ok := call.Fun.(*ast.SelectorExpr); ok && sel.Sel.Name == name {
		return true
	}
	if ident, ok := call.Fun.(*ast.Ident); ok && ident.Name == name {
		return true
	}
	for _, arg := range call.Args {
		if wrappedBy(arg, name) {
			return true
		}
	}
	return false
}

var cacheMethods = map[string]bool{
	"Add":      true,
	"Get":      true,
	"Remove":   true,
	"Contains": true,
}

// CheckCacheKeys flags cache operations whose key is not built by the
// cachekeys helpers, so a bare logical key can never be shared across
// tenants.
func CheckCacheKeys(fset *token.FileSet, file *ast.File) []Violation {
	var out []Violation
	ast.Inspect(file, func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		sel, ok := call.Fun.(*ast.SelectorExpr)
		if !ok || !cacheMethods[sel.Sel.Name] || len(call.Args) < 1 {
			return true
		}
		recv, ok := sel.X.(*ast.Ident)
		if !ok || !strings.Contains(strings.ToLower(recv.Name), "cache") {
			return true
		}
		if !builtByCachekeys(call.Args[0]) {
			out = append(out, Violation{
				Pos: fset.Position(call.Pos()),
				Msg: "cache key not built by the cachekeys helpers",
			})
		}
		return true
	})
	return out
}

func builtByCachekeys(expr ast.Expr) bool {
	switch e := expr.(type) {
	case *ast.CallExpr:
		if sel, ok := e.Fun.(*ast.SelectorExpr); ok {
			if pkg, ok := sel.X.(*ast.Ident); ok && pkg.Name == "cachekeys" {
				return true
			}
		}
	case *ast.Ident:
		// A plain variable is accepted; the assignment site is checked where
		// it appears.
		return true
	}
	return false
}

func stringArg(expr ast.Expr) (string, bool) {
	switch e := expr.(type) {
	case *ast.BasicLit:
		if e.Kind == token.STRING {
			return strings.Trim(e.Value, "`\""), true
		}
	case *ast.BinaryExpr:
		if e.Op == token.ADD {
			left, lok := stringArg(e.X)
			right, rok := stringArg(e.Y)
			if lok || rok {
				return left + right, true
			}
		}
	}
	return "", false
}
