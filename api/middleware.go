package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"bazaarbot/core/auth"
	"bazaarbot/core/tenant"
	"bazaarbot/core/utils"
)

type claimsCtxKey struct{}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Errorf("PANIC %s %s: %v\n%s", r.Method, r.URL.Path, rec, string(debug.Stack()))
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		tenantID := int64(0)
		if id, ok := tenant.FromContext(r.Context()); ok {
			tenantID = id
		}
		s.logger.Printf("RESP %s %s tenant=%d status=%d dur=%s", r.Method, utils.RedactPath(r.URL.Path), tenantID, rec.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// withTenant resolves the path token to exactly one tenant and binds it into
// the request context. Resolution failure short-circuits here: no handler or
// tenant-scoped query runs with an unbound or wrongly bound session.
func (s *Server) withTenant(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := chi.URLParam(r, "tenant_token")
		ctx, _, err := s.resolver.Resolve(r.Context(), raw)
		if err != nil {
			switch {
			case errors.Is(err, tenant.ErrTokenInvalid):
				writeError(w, http.StatusBadRequest, "tenant.token_invalid")
			case errors.Is(err, tenant.ErrTenantNotFound):
				writeError(w, http.StatusNotFound, "tenant.not_found")
			case errors.Is(err, tenant.ErrTenantInactive):
				writeError(w, http.StatusNotFound, "tenant.inactive")
			default:
				s.logger.Errorf("TENANT resolve %s: %v", r.Method, err)
				writeError(w, http.StatusInternalServerError, "tenant.resolve_failed")
			}
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// withUserToken verifies the bearer token and that its tenant claim equals
// the tenant resolved for this request. Missing or invalid token is
// unauthorized; a well-formed token for another tenant is forbidden, a
// distinct result so token swaps are visible as such.
func (s *Server) withUserToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		bearer, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(bearer) == "" {
			writeError(w, http.StatusUnauthorized, "auth.token_missing")
			return
		}
		claims, err := auth.Parse(s.cfg.TokenSecret, bearer, time.Now())
		if err != nil {
			code := "auth.token_invalid"
			if errors.Is(err, auth.ErrTokenExpired) {
				code = "auth.token_expired"
			}
			writeError(w, http.StatusUnauthorized, code)
			return
		}
		if err := auth.VerifyTenant(r.Context(), claims); err != nil {
			switch {
			case errors.Is(err, auth.ErrMissingTenantClaim):
				writeError(w, http.StatusUnauthorized, "auth.tenant_claim_missing")
			case errors.Is(err, tenant.ErrTenantMismatch):
				s.logger.Printf("AUTH tenant mismatch sub=%s claim=%d %s", claims.Subject, claims.TenantID, r.URL.Path)
				writeError(w, http.StatusForbidden, "auth.tenant_mismatch")
			default:
				writeError(w, http.StatusUnauthorized, "auth.unauthorized")
			}
			return
		}
		ctx := context.WithValue(r.Context(), claimsCtxKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

func claimsFrom(ctx context.Context) *auth.Claims {
	c, _ := ctx.Value(claimsCtxKey{}).(*auth.Claims)
	return c
}

// withAdminKey guards the platform admin surface. The presented key is
// bcrypt-checked against configuration; the acting subject for authorization
// and audit is always the named superadmin role, never inferred.
func (s *Server) withAdminKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get("X-Admin-Key"))
		if err := auth.VerifyAdminKey(s.cfg.AdminKeyHash, key); err != nil {
			s.logger.Printf("ADMIN auth fail %s %s", r.Method, r.URL.Path)
			writeError(w, http.StatusUnauthorized, "admin.unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"code": code},
	})
}
