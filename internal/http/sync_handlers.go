package httpserver

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	httperrors "github.com/raisehead/contactsync/internal/http/errors"
	"github.com/raisehead/contactsync/internal/store"
	"github.com/raisehead/contactsync/internal/sync"
)

type syncLogDTO struct {
	ID               uuid.UUID  `json:"id"`
	Provider         string     `json:"provider"`
	Direction        string     `json:"direction"`
	Status           string     `json:"status"`
	ContactID        *uuid.UUID `json:"contactId,omitempty"`
	ExternalID       *string    `json:"externalId,omitempty"`
	Message          string     `json:"message"`
	ErrorDetails     *string    `json:"errorDetails,omitempty"`
	RecordsProcessed int        `json:"recordsProcessed"`
	CreatedAt        time.Time  `json:"createdAt"`
}

func syncLogToDTO(l store.SyncLog) syncLogDTO {
	return syncLogDTO{
		ID:               l.ID,
		Provider:         string(l.Provider),
		Direction:        string(l.Direction),
		Status:           string(l.Status),
		ContactID:        l.ContactID,
		ExternalID:       l.ExternalID,
		Message:          l.Message,
		ErrorDetails:     l.ErrorDetails,
		RecordsProcessed: l.RecordsProcessed,
		CreatedAt:        l.CreatedAt,
	}
}

// fullSync runs a provider-wide reconciliation synchronously.
func (h *handlers) fullSync(w http.ResponseWriter, r *http.Request) {
	provider, ok := parseProvider(chi.URLParam(r, "provider"))
	if !ok {
		respondErr(w, http.StatusBadRequest, "unknown provider")
		return
	}

	summary, err := h.svc.Orchestrator.FullSync(r.Context(), provider)
	if errors.Is(err, sync.ErrProviderDisabled) {
		respondErr(w, http.StatusBadRequest, "provider integration is not enabled")
		return
	}
	if err != nil {
		httperrors.LogError(r, "full sync failed", err)
		respondErr(w, http.StatusInternalServerError, "full sync failed")
		return
	}
	respondJSON(w, http.StatusOK, summary, "Full sync completed")
}

// syncContact pushes one contact to one provider synchronously.
func (h *handlers) syncContact(w http.ResponseWriter, r *http.Request) {
	provider, ok := parseProvider(chi.URLParam(r, "provider"))
	if !ok {
		respondErr(w, http.StatusBadRequest, "unknown provider")
		return
	}
	contactID, err := uuid.Parse(chi.URLParam(r, "contactID"))
	if err != nil {
		respondErr(w, http.StatusBadRequest, "invalid contact id")
		return
	}

	externalID, err := h.svc.Orchestrator.SyncSingleContact(r.Context(), provider, contactID)
	switch {
	case errors.Is(err, sync.ErrProviderDisabled):
		respondErr(w, http.StatusBadRequest, "provider integration is not enabled")
	case errors.Is(err, store.ErrNotFound):
		respondErr(w, http.StatusNotFound, "contact not found")
	case err != nil:
		httperrors.LogError(r, "single contact sync failed", err)
		respondErr(w, http.StatusInternalServerError, "sync failed")
	default:
		respondJSON(w, http.StatusOK, map[string]any{"success": true, "externalId": externalID}, "Contact synced")
	}
}

// notifyContactChanged queues an outbound push for a locally edited contact.
// The caller gets a fast ack; the outbox worker does the pushing.
func (h *handlers) notifyContactChanged(w http.ResponseWriter, r *http.Request) {
	contactID, err := uuid.Parse(chi.URLParam(r, "contactID"))
	if err != nil {
		respondErr(w, http.StatusBadRequest, "invalid contact id")
		return
	}
	if err := h.svc.Store.Outbox.Enqueue(r.Context(), contactID); err != nil {
		httperrors.LogError(r, "failed to enqueue change notification", err)
		respondErr(w, http.StatusInternalServerError, "failed to queue notification")
		return
	}
	respondJSON(w, http.StatusAccepted, nil, "Change notification queued")
}

// notifyContactDeleted tears down a removed contact's external records and
// links. Deletion cannot go through the outbox: by the time the worker ran,
// the contact row the links hang off would already be gone.
func (h *handlers) notifyContactDeleted(w http.ResponseWriter, r *http.Request) {
	contactID, err := uuid.Parse(chi.URLParam(r, "contactID"))
	if err != nil {
		respondErr(w, http.StatusBadRequest, "invalid contact id")
		return
	}
	if err := h.svc.Orchestrator.OnContactDeleted(r.Context(), contactID); err != nil {
		httperrors.LogError(r, "failed to process contact deletion", err)
		respondErr(w, http.StatusInternalServerError, "failed to process deletion")
		return
	}
	respondJSON(w, http.StatusOK, nil, "Contact links removed")
}

// syncRoute reconciles one tag route's container in both directions.
func (h *handlers) syncRoute(w http.ResponseWriter, r *http.Request) {
	routeID, err := uuid.Parse(chi.URLParam(r, "routeID"))
	if err != nil {
		respondErr(w, http.StatusBadRequest, "invalid route id")
		return
	}

	summary, err := h.svc.Orchestrator.FullSyncByRoute(r.Context(), routeID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondErr(w, http.StatusNotFound, "route not found")
	case errors.Is(err, sync.ErrRouteDisabled), errors.Is(err, sync.ErrProviderDisabled):
		respondErr(w, http.StatusBadRequest, err.Error())
	case err != nil:
		httperrors.LogError(r, "route sync failed", err)
		respondErr(w, http.StatusInternalServerError, "route sync failed")
	default:
		respondJSON(w, http.StatusOK, summary, "Route sync completed")
	}
}

// listSyncLogs serves the paginated audit trail, newest first.
func (h *handlers) listSyncLogs(w http.ResponseWriter, r *http.Request) {
	var providerFilter *store.Provider
	if raw := r.URL.Query().Get("provider"); raw != "" {
		p, ok := parseProvider(raw)
		if !ok {
			respondErr(w, http.StatusBadRequest, "unknown provider")
			return
		}
		providerFilter = &p
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	logs, total, err := h.svc.Store.SyncLogs.List(r.Context(), providerFilter, page, limit)
	if err != nil {
		httperrors.LogError(r, "failed to list sync logs", err)
		respondErr(w, http.StatusInternalServerError, "failed to list sync logs")
		return
	}

	dtos := make([]syncLogDTO, 0, len(logs))
	for _, l := range logs {
		dtos = append(dtos, syncLogToDTO(l))
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"logs":  dtos,
		"total": total,
	}, "")
}
