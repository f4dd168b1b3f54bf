package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	httperrors "github.com/raisehead/contactsync/internal/http/errors"
	"github.com/raisehead/contactsync/internal/metrics"
	"github.com/raisehead/contactsync/internal/store"
	"github.com/raisehead/contactsync/internal/sync"
)

// How far back a change notification reaches. The directory provider's
// notifications carry no payload, so the handler re-reads the list and
// ingests anything modified inside this window.
const directoryChangeWindow = 10 * time.Minute

const webhookIngestTimeout = 2 * time.Minute

// directoryWebhook receives push notifications from the directory provider.
// The provider expects a fast 200; ingestion happens after the ack.
func (h *handlers) directoryWebhook(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)

	// The handshake notification sent on channel creation carries no change.
	if r.Header.Get("X-Resource-State") == "sync" {
		httperrors.LogInfo(r, "directory webhook handshake acknowledged")
		return
	}

	go h.ingestDirectoryChanges()
}

func (h *handlers) ingestDirectoryChanges() {
	ctx, cancel := context.WithTimeout(context.Background(), webhookIngestTimeout)
	defer cancel()

	enabled, err := h.svc.Orchestrator.ProviderEnabled(ctx, store.ProviderA)
	if err != nil || !enabled {
		return
	}
	adapter, err := h.svc.Registry.Get(store.ProviderA)
	if err != nil {
		return
	}

	cutoff := time.Now().Add(-directoryChangeWindow)
	err = adapter.FetchAllContacts(ctx, "", func(rec sync.ExternalRecord) error {
		// Notifications carry no delta, so skip anything not recently touched.
		if rec.LastModified == nil || rec.LastModified.Before(cutoff) {
			return nil
		}
		if err := h.svc.Orchestrator.HandleInboundChange(ctx, store.ProviderA, rec.ExternalID, rec.Snapshot, rec.LastModified, nil); err != nil {
			h.appendWebhookError(ctx, store.ProviderA, &rec.ExternalID, "Failed to process directory notification", err)
		}
		return nil
	})
	if err != nil {
		h.appendWebhookError(ctx, store.ProviderA, nil, "Webhook processing failed", err)
	}
}

// graphWebhook receives change notifications from the graph provider.
// Subscription handshakes send a validationToken that must be echoed back
// as plain text; real notifications get a fast 202.
func (h *handlers) graphWebhook(w http.ResponseWriter, r *http.Request) {
	if token := r.URL.Query().Get("validationToken"); token != "" {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(token))
		return
	}

	var payload struct {
		Value []struct {
			ResourceData struct {
				ID string `json:"id"`
			} `json:"resourceData"`
		} `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		// Bad payloads still get the ack; the provider retries otherwise.
		w.WriteHeader(http.StatusAccepted)
		return
	}
	w.WriteHeader(http.StatusAccepted)

	ids := make([]string, 0, len(payload.Value))
	for _, n := range payload.Value {
		if n.ResourceData.ID != "" {
			ids = append(ids, n.ResourceData.ID)
		}
	}
	if len(ids) == 0 {
		return
	}

	go h.ingestGraphChanges(ids)
}

func (h *handlers) ingestGraphChanges(ids []string) {
	ctx, cancel := context.WithTimeout(context.Background(), webhookIngestTimeout)
	defer cancel()

	enabled, err := h.svc.Orchestrator.ProviderEnabled(ctx, store.ProviderB)
	if err != nil || !enabled {
		return
	}
	adapter, err := h.svc.Registry.Get(store.ProviderB)
	if err != nil {
		return
	}

	for _, id := range ids {
		externalID := id
		pull, err := adapter.PullContact(ctx, externalID)
		if err != nil {
			h.appendWebhookError(ctx, store.ProviderB, &externalID, "Failed to process graph notification", err)
			continue
		}
		if err := h.svc.Orchestrator.HandleInboundChange(ctx, store.ProviderB, externalID, pull.Snapshot, pull.LastModified, nil); err != nil {
			h.appendWebhookError(ctx, store.ProviderB, &externalID, "Failed to process graph notification", err)
		}
	}
}

// Webhook-path failures never reach the provider; they are recorded in the
// sync log only.
func (h *handlers) appendWebhookError(ctx context.Context, provider store.Provider, externalID *string, message string, err error) {
	metrics.CountSyncAttempt(string(provider), string(store.DirectionInbound), string(store.StatusError))
	details := err.Error()
	entry := &store.SyncLog{
		Provider:     provider,
		Direction:    store.DirectionInbound,
		Status:       store.StatusError,
		ExternalID:   externalID,
		Message:      message,
		ErrorDetails: &details,
	}
	_ = h.svc.Store.SyncLogs.Append(ctx, entry)
}
