package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"bazaarbot/config"
	"bazaarbot/core/configsvc"
	"bazaarbot/core/store"
	"bazaarbot/core/tenant"
	"bazaarbot/core/utils"
)

// BackgroundWorker is anything started with the server and stopped on
// shutdown.
type BackgroundWorker interface {
	Start()
	Stop()
}

type ServerDeps struct {
	Resolver  *tenant.Resolver
	ConfigSvc *configsvc.Service
	Tenants   store.TenantsStore
	Audits    store.AuditStore
}

type Server struct {
	cfg       *config.AppConfig
	resolver  *tenant.Resolver
	configSvc *configsvc.Service
	tenants   store.TenantsStore
	audits    store.AuditStore
	logger    *utils.Logger
}

func NewServer(cfg *config.AppConfig, deps ServerDeps, logger *utils.Logger) *Server {
	return &Server{
		cfg:       cfg,
		resolver:  deps.Resolver,
		configSvc: deps.ConfigSvc,
		tenants:   deps.Tenants,
		audits:    deps.Audits,
		logger:    logger,
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.recoverMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.jsonMiddleware)

	r.MethodFunc(http.MethodPost, "/webhook/{tenant_token}", s.withTenant(s.handleWebhook))

	r.Route("/api/{tenant_token}", func(r chi.Router) {
		r.MethodFunc(http.MethodGet, "/config/{key}", s.withTenant(s.withUserToken(s.handleGetConfig)))
		r.MethodFunc(http.MethodPut, "/config/{key}", s.withTenant(s.withUserToken(s.handlePutConfig)))
		r.MethodFunc(http.MethodGet, "/features", s.withTenant(s.withUserToken(s.handleListFeatures)))
		r.MethodFunc(http.MethodGet, "/features/{key}", s.withTenant(s.withUserToken(s.handleFeatureCheck)))
		r.MethodFunc(http.MethodPost, "/features/{key}/toggle", s.withTenant(s.withUserToken(s.handleToggleFeature)))
	})

	r.Route("/admin", func(r chi.Router) {
		r.MethodFunc(http.MethodPut, "/migration/{key}/state", s.withAdminKey(s.handleAdvanceState))
		r.MethodFunc(http.MethodPost, "/migration/backfill", s.withAdminKey(s.handleBackfill))
		r.MethodFunc(http.MethodPost, "/tenants/{id:[0-9]+}/features/{key}/force-enable", s.withAdminKey(s.handleForceEnable))
		r.MethodFunc(http.MethodPost, "/tenants/{id:[0-9]+}/deactivate", s.withAdminKey(s.handleDeactivateTenant))
	})

	return r
}
