// tenantaudit is the CI gate for the tenant-isolation contract. It scans Go
// packages for tenant-scoped queries, routes and cache keys that step outside
// the contract, and (with -db) checks the live schema for tables missing
// their row-security policy.
//
//	tenantaudit ./...
//	tenantaudit -db "$DATABASE_URL" ./...
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/tools/go/packages"

	"bazaarbot/core/auditcheck"
)

func main() {
	dbURL := flag.String("db", "", "database URL for the schema policy check (optional)")
	flag.Parse()
	patterns := flag.Args()
	if len(patterns) == 0 {
		patterns = []string{"./..."}
	}

	var violations []auditcheck.Violation

	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedFiles | packages.NeedSyntax | packages.NeedTypes}
	pkgs, err := packages.Load(cfg, patterns...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tenantaudit: load packages: %v\n", err)
		os.Exit(2)
	}
	for _, pkg := range pkgs {
		for _, file := range pkg.Syntax {
			violations = append(violations, auditcheck.CheckFile(pkg.Fset, file)...)
		}
	}

	if *dbURL != "" {
		db, err := sql.Open("pgx", *dbURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "tenantaudit: open db: %v\n", err)
			os.Exit(2)
		}
		defer db.Close()
		schemaViolations, err := auditcheck.CheckSchemaPolicies(context.Background(), db)
		if err != nil {
			fmt.Fprintf(os.Stderr, "tenantaudit: schema check: %v\n", err)
			os.Exit(2)
		}
		violations = append(violations, schemaViolations...)
	}

	for _, v := range violations {
		fmt.Println(v.String())
	}
	if len(violations) > 0 {
		fmt.Fprintf(os.Stderr, "tenantaudit: %d violation(s)\n", len(violations))
		os.Exit(1)
	}
	fmt.Println("tenantaudit: ok")
}
