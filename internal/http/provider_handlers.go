package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	httperrors "github.com/raisehead/contactsync/internal/http/errors"
	"github.com/raisehead/contactsync/internal/store"
)

type providerConfigDTO struct {
	Provider  string         `json:"provider"`
	Enabled   bool           `json:"enabled"`
	Config    map[string]any `json:"config"`
	Connected bool           `json:"connected"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

func providerConfigToDTO(cfg store.ProviderConfig) providerConfigDTO {
	// Credentials never leave the service; only their presence is reported.
	redacted := make(map[string]any, len(cfg.Config))
	for k, v := range cfg.Config {
		if k == "apiKey" {
			redacted[k] = "********"
			continue
		}
		redacted[k] = v
	}
	return providerConfigDTO{
		Provider:  string(cfg.Provider),
		Enabled:   cfg.Enabled,
		Config:    redacted,
		Connected: len(cfg.Credentials) > 0,
		UpdatedAt: cfg.UpdatedAt,
	}
}

func (h *handlers) listProviders(w http.ResponseWriter, r *http.Request) {
	configs, err := h.svc.Store.ProviderConfigs.List(r.Context())
	if err != nil {
		httperrors.LogError(r, "failed to list provider configs", err)
		respondErr(w, http.StatusInternalServerError, "failed to list providers")
		return
	}

	byProvider := make(map[store.Provider]store.ProviderConfig, len(configs))
	for _, cfg := range configs {
		byProvider[cfg.Provider] = cfg
	}
	// Unconfigured providers are reported as disabled rather than omitted.
	dtos := make([]providerConfigDTO, 0, len(store.Providers))
	for _, p := range store.Providers {
		cfg, ok := byProvider[p]
		if !ok {
			cfg = store.ProviderConfig{Provider: p}
		}
		dtos = append(dtos, providerConfigToDTO(cfg))
	}
	respondJSON(w, http.StatusOK, dtos, "")
}

// upsertProvider sets the enabled flag and provider-specific settings.
// Database-style providers take their API key through the config object.
func (h *handlers) upsertProvider(w http.ResponseWriter, r *http.Request) {
	p, ok := parseProvider(chi.URLParam(r, "provider"))
	if !ok {
		respondErr(w, http.StatusBadRequest, "unknown provider")
		return
	}
	var req struct {
		Enabled bool           `json:"enabled"`
		Config  map[string]any `json:"config"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErr(w, http.StatusBadRequest, "invalid request body")
		return
	}

	existing, err := h.svc.Store.ProviderConfigs.Get(r.Context(), p)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		httperrors.LogError(r, "failed to load provider config", err)
		respondErr(w, http.StatusInternalServerError, "failed to update provider")
		return
	}

	cfg := &store.ProviderConfig{Provider: p, Enabled: req.Enabled, Config: req.Config}
	if cfg.Config == nil {
		if existing != nil {
			cfg.Config = existing.Config
		} else {
			cfg.Config = map[string]any{}
		}
	}
	if err := h.svc.Store.ProviderConfigs.Upsert(r.Context(), cfg); err != nil {
		httperrors.LogError(r, "failed to upsert provider config", err)
		respondErr(w, http.StatusInternalServerError, "failed to update provider")
		return
	}
	respondJSON(w, http.StatusOK, providerConfigToDTO(*cfg), "Provider updated")
}

// connectProvider begins the OAuth flow and returns the authorization URL.
func (h *handlers) connectProvider(w http.ResponseWriter, r *http.Request) {
	p, ok := parseProvider(chi.URLParam(r, "provider"))
	if !ok {
		respondErr(w, http.StatusBadRequest, "unknown provider")
		return
	}
	flow, ok := h.svc.Flows[p]
	if !ok {
		respondErr(w, http.StatusBadRequest, "provider does not use oauth")
		return
	}
	authURL, err := flow.AuthURL()
	if err != nil {
		httperrors.LogError(r, "failed to build auth url", err)
		respondErr(w, http.StatusInternalServerError, "failed to start connect flow")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"authUrl": authURL}, "")
}

// providerCallback completes the OAuth flow.
func (h *handlers) providerCallback(w http.ResponseWriter, r *http.Request) {
	p, ok := parseProvider(chi.URLParam(r, "provider"))
	if !ok {
		respondErr(w, http.StatusBadRequest, "unknown provider")
		return
	}
	flow, ok := h.svc.Flows[p]
	if !ok {
		respondErr(w, http.StatusBadRequest, "provider does not use oauth")
		return
	}
	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")
	if state == "" || code == "" {
		respondErr(w, http.StatusBadRequest, "missing state or code")
		return
	}
	if err := flow.Exchange(r.Context(), state, code); err != nil {
		httperrors.LogError(r, "oauth exchange failed", err)
		respondErr(w, http.StatusBadRequest, "connect flow failed")
		return
	}
	respondJSON(w, http.StatusOK, nil, "Provider connected")
}

func (h *handlers) revokeProvider(w http.ResponseWriter, r *http.Request) {
	p, ok := parseProvider(chi.URLParam(r, "provider"))
	if !ok {
		respondErr(w, http.StatusBadRequest, "unknown provider")
		return
	}
	flow, ok := h.svc.Flows[p]
	if !ok {
		respondErr(w, http.StatusBadRequest, "provider does not use oauth")
		return
	}
	if err := flow.Revoke(r.Context()); err != nil {
		httperrors.LogError(r, "failed to revoke credentials", err)
		respondErr(w, http.StatusInternalServerError, "failed to revoke credentials")
		return
	}
	respondJSON(w, http.StatusOK, nil, "Credentials revoked")
}
