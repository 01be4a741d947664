package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"bazaarbot/core/configsvc"
	"bazaarbot/core/tenant"
)

const requestPayloadMaxBytes = 64 * 1024

// handleWebhook acknowledges an inbound bot update. Processing the update is
// business logic outside this core; what matters here is that the tenant is
// resolved and bound before anything else touches the request.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	id, err := tenant.Require(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "tenant.context_missing")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "tenant_id": id})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	id, err := tenant.Require(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "tenant.context_missing")
		return
	}
	key := chi.URLParam(r, "key")
	v, err := s.configSvc.GetRequired(r.Context(), id, key)
	if err != nil {
		if errors.Is(err, configsvc.ErrConfigKeyRequired) {
			writeError(w, http.StatusNotFound, "config.key_absent")
			return
		}
		s.logger.Errorf("CONFIG get tenant=%d key=%s: %v", id, key, err)
		writeError(w, http.StatusInternalServerError, "config.read_failed")
		return
	}
	raw, err := v.Encode()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "config.read_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "value": json.RawMessage(raw)})
}

func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	id, err := tenant.Require(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "tenant.context_missing")
		return
	}
	key := chi.URLParam(r, "key")
	var body struct {
		Value json.RawMessage `json:"value"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, requestPayloadMaxBytes)
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.Value) == 0 {
		writeError(w, http.StatusBadRequest, "config.invalid_body")
		return
	}
	value, err := configsvc.DecodeValue(body.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, "config.invalid_value")
		return
	}
	if err := s.configSvc.Set(r.Context(), id, key, value); err != nil {
		switch {
		case errors.Is(err, configsvc.ErrLegacyWriteBlocked):
			writeError(w, http.StatusConflict, "config.legacy_write_blocked")
		case errors.Is(err, configsvc.ErrUnknownLegacyKey):
			writeError(w, http.StatusBadRequest, "config.unknown_legacy_key")
		default:
			s.logger.Errorf("CONFIG set tenant=%d key=%s: %v", id, key, err)
			writeError(w, http.StatusInternalServerError, "config.write_failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleListFeatures(w http.ResponseWriter, r *http.Request) {
	id, err := tenant.Require(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "tenant.context_missing")
		return
	}
	flags, err := s.configSvc.ListFlags(r.Context(), id)
	if err != nil {
		s.logger.Errorf("FLAGS list tenant=%d: %v", id, err)
		writeError(w, http.StatusInternalServerError, "flags.list_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"features": flags})
}

func (s *Server) handleFeatureCheck(w http.ResponseWriter, r *http.Request) {
	id, err := tenant.Require(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "tenant.context_missing")
		return
	}
	key := chi.URLParam(r, "key")
	enabled, err := s.configSvc.IsEnabled(r.Context(), id, key)
	if err != nil {
		s.logger.Errorf("FLAGS check tenant=%d key=%s: %v", id, key, err)
		writeError(w, http.StatusInternalServerError, "flags.check_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"feature": key, "enabled": enabled})
}

func (s *Server) handleToggleFeature(w http.ResponseWriter, r *http.Request) {
	id, err := tenant.Require(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "tenant.context_missing")
		return
	}
	key := chi.URLParam(r, "key")
	var body struct {
		Enabled bool `json:"enabled"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, requestPayloadMaxBytes)
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "flags.invalid_body")
		return
	}
	if err := s.configSvc.Toggle(r.Context(), id, key, body.Enabled); err != nil {
		s.logger.Errorf("FLAGS toggle tenant=%d key=%s: %v", id, key, err)
		writeError(w, http.StatusInternalServerError, "flags.toggle_failed")
		return
	}
	if claims := claimsFrom(r.Context()); claims != nil {
		s.logger.Printf("FLAGS toggle tenant=%d key=%s enabled=%v sub=%s", id, key, body.Enabled, claims.Subject)
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "feature": key, "enabled": body.Enabled})
}

const adminActor = "superadmin"

func (s *Server) handleAdvanceState(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	var body struct {
		State string `json:"state"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, requestPayloadMaxBytes)
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "migration.invalid_body")
		return
	}
	state, err := configsvc.ParseState(body.State)
	if err != nil {
		writeError(w, http.StatusBadRequest, "migration.invalid_state")
		return
	}
	if err := s.configSvc.AdvanceState(r.Context(), adminActor, key, state); err != nil {
		switch {
		case errors.Is(err, configsvc.ErrNotAuthorized):
			writeError(w, http.StatusForbidden, "migration.forbidden")
		case errors.Is(err, configsvc.ErrUnknownLegacyKey):
			writeError(w, http.StatusBadRequest, "migration.unknown_legacy_key")
		default:
			s.logger.Errorf("MIGRATION advance key=%s: %v", key, err)
			writeError(w, http.StatusInternalServerError, "migration.failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "key": key, "state": string(state)})
}

func (s *Server) handleBackfill(w http.ResponseWriter, r *http.Request) {
	res, err := s.configSvc.Backfill(r.Context(), adminActor)
	if err != nil {
		if errors.Is(err, configsvc.ErrNotAuthorized) {
			writeError(w, http.StatusForbidden, "migration.forbidden")
			return
		}
		s.logger.Errorf("BACKFILL: %v", err)
		writeError(w, http.StatusInternalServerError, "migration.backfill_failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleForceEnable(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "tenant.invalid_id")
		return
	}
	key := chi.URLParam(r, "key")
	if err := s.configSvc.ForceEnable(r.Context(), adminActor, id, key); err != nil {
		if errors.Is(err, configsvc.ErrNotAuthorized) {
			writeError(w, http.StatusForbidden, "flags.forbidden")
			return
		}
		s.logger.Errorf("FLAGS force-enable tenant=%d key=%s: %v", id, key, err)
		writeError(w, http.StatusInternalServerError, "flags.override_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleDeactivateTenant(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "tenant.invalid_id")
		return
	}
	t, err := s.tenants.GetByID(r.Context(), id)
	if err != nil {
		s.logger.Errorf("TENANT get %d: %v", id, err)
		writeError(w, http.StatusInternalServerError, "tenant.lookup_failed")
		return
	}
	if t == nil {
		writeError(w, http.StatusNotFound, "tenant.not_found")
		return
	}
	if err := s.tenants.SetActive(r.Context(), id, false); err != nil {
		s.logger.Errorf("TENANT deactivate %d: %v", id, err)
		writeError(w, http.StatusInternalServerError, "tenant.deactivate_failed")
		return
	}
	s.resolver.Invalidate(t.BotToken)
	_ = s.audits.Record(r.Context(), adminActor, "tenant.deactivate", &id, nil)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
