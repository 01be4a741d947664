package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"bazaarbot/config"
	"bazaarbot/core/utils"
)

// NewDB opens the Postgres pool through the pgx stdlib driver. Row-level
// security does the per-tenant filtering, so the pool is shared by all
// tenants and every checkout is re-bound by tenantdb.Binder.
func NewDB(cfg *config.AppConfig, logger *utils.Logger) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.DBURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnLifetime)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	logger.Printf("DB connected max_open=%d", cfg.DBMaxOpenConns)
	return db, nil
}
