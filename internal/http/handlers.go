package httpserver

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/raisehead/contactsync/internal/config"
	"github.com/raisehead/contactsync/internal/provider"
	"github.com/raisehead/contactsync/internal/store"
	"github.com/raisehead/contactsync/internal/sync"
)

// Services are the collaborators the HTTP layer exposes.
type Services struct {
	Store        *store.Store
	Orchestrator *sync.Orchestrator
	Registry     *sync.Registry
	Flows        map[store.Provider]*provider.ConnectFlow
}

type handlers struct {
	cfg *config.Config
	svc Services
}

type envelope struct {
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data any, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Data: data, Message: message})
}

func respondErr(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Error: message})
}

// parseProvider maps a URL segment to the provider enum. Both the kebab
// route form (provider-a) and the enum form (PROVIDER_A) are accepted.
func parseProvider(segment string) (store.Provider, bool) {
	normalized := strings.ToUpper(strings.ReplaceAll(segment, "-", "_"))
	p := store.Provider(normalized)
	if p.Valid() {
		return p, true
	}
	return "", false
}
