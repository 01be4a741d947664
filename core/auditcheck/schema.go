package auditcheck

import (
	"context"
	"database/sql"
	"fmt"
	"go/token"
)

// schemaExceptions are tables that carry a tenant_id column but are global by
// design. audit_log records platform-level actions (bypass sessions, state
// changes) and is written before any tenant marker exists; it is readable
// only through the superadmin surface.
var schemaExceptions = map[string]bool{
	"audit_log": true,
}

// CheckSchemaPolicies asserts every table with a tenant_id column has a
// row-security policy attached and row security forced. A missing policy is a
// build-breaking violation, not a warning.
func CheckSchemaPolicies(ctx context.Context, db *sql.DB) ([]Violation, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT c.table_name,
		       COALESCE(p.policy_count, 0),
		       COALESCE(t.relforcerowsecurity, false)
		FROM information_schema.columns c
		LEFT JOIN (
			SELECT tablename, COUNT(*) AS policy_count
			FROM pg_policies WHERE schemaname = 'public'
			GROUP BY tablename
		) p ON p.tablename = c.table_name
		LEFT JOIN pg_class t ON t.relname = c.table_name
		WHERE c.table_schema = 'public' AND c.column_name = 'tenant_id'`)
	if err != nil {
		return nil, fmt.Errorf("query schema: %w", err)
	}
	defer rows.Close()
	var out []Violation
	for rows.Next() {
		var table string
		var policies int
		var forced bool
		if err := rows.Scan(&table, &policies, &forced); err != nil {
			return nil, err
		}
		if schemaExceptions[table] {
			continue
		}
		if policies == 0 {
			out = append(out, Violation{
				Pos: token.Position{Filename: "schema/" + table},
				Msg: "table has a tenant_id column but no row-security policy",
			})
			continue
		}
		if !forced {
			out = append(out, Violation{
				Pos: token.Position{Filename: "schema/" + table},
				Msg: "row security not forced; table owner could bypass the policy",
			})
		}
	}
	return out, rows.Err()
}
