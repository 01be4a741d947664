package appbootstrap

import (
	"database/sql"

	"bazaarbot/api"
	"bazaarbot/config"
	"bazaarbot/core/authz"
	"bazaarbot/core/configsvc"
	"bazaarbot/core/store"
	"bazaarbot/core/tenant"
	"bazaarbot/core/tenantdb"
	"bazaarbot/core/utils"
)

type runtimeComposition struct {
	serverDeps api.ServerDeps
	workers    []api.BackgroundWorker
}

func composeRuntime(cfg *config.AppConfig, db *sql.DB, logger *utils.Logger) (*runtimeComposition, error) {
	enforcer, err := authz.NewEnforcer(cfg.Security.SuperadminRoles)
	if err != nil {
		return nil, err
	}
	audits := store.NewAuditStore(db)
	binder := tenantdb.NewBinder(db, enforcer, audits, logger)

	tenants := store.NewTenantsStore(db)
	entries := store.NewConfigEntriesStore(binder)
	legacy := store.NewLegacyConfigStore(db)
	flags := store.NewFlagsStore(binder)
	grants := store.NewPlanGrantsStore(db)
	states := store.NewMigrationStateStore(db)

	resolver := tenant.NewResolver(tenants, cfg.EffectiveResolverCache(), logger)
	configSvc := configsvc.NewService(configsvc.Deps{
		Entries: entries,
		Legacy:  legacy,
		Flags:   flags,
		Grants:  grants,
		States:  states,
		Tenants: tenants,
		Tx:      binder,
		Authz:   enforcer,
		Audits:  audits,
		Logger:  logger,
	})
	backfillScheduler := configsvc.NewBackfillScheduler(cfg.Migration, configSvc, logger)

	return &runtimeComposition{
		serverDeps: api.ServerDeps{
			Resolver:  resolver,
			ConfigSvc: configSvc,
			Tenants:   tenants,
			Audits:    audits,
		},
		workers: []api.BackgroundWorker{backfillScheduler},
	}, nil
}
