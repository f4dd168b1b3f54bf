package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/raisehead/contactsync/internal/config"
	"github.com/raisehead/contactsync/internal/http/ratelimit"
	"github.com/raisehead/contactsync/internal/metrics"
)

// NewRouter wires all HTTP routes for the sync API and provider webhooks.
func NewRouter(cfg *config.Config, svc Services) http.Handler {
	r := chi.NewRouter()

	h := &handlers{cfg: cfg, svc: svc}

	// API endpoints: 10 requests per second, burst of 20
	apiRateLimiter := ratelimit.NewIPRateLimiter(rate.Limit(10), 20, 5*time.Minute, cfg.TrustedProxies)
	// Webhook endpoints: 50 requests per second, burst of 100 (providers batch notifications)
	webhookRateLimiter := ratelimit.NewIPRateLimiter(rate.Limit(50), 100, 5*time.Minute, cfg.TrustedProxies)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware())

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := svc.Store.HealthCheck(ctx); err != nil {
			http.Error(w, "unready", http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if cfg.PrometheusEnabled {
		r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
			metrics.Handler().ServeHTTP(w, r)
		})
	}

	r.Group(func(r chi.Router) {
		r.Use(apiRateLimiter.Middleware())

		r.Post("/sync/{provider}/full", h.fullSync)
		r.Post("/sync/{provider}/contact/{contactID}", h.syncContact)
		r.Post("/sync/notify/{contactID}", h.notifyContactChanged)
		r.Delete("/sync/notify/{contactID}", h.notifyContactDeleted)
		r.Get("/sync/logs", h.listSyncLogs)

		r.Get("/routes", h.listRoutes)
		r.Post("/routes", h.createRoute)
		r.Put("/routes/{routeID}", h.updateRoute)
		r.Delete("/routes/{routeID}", h.deleteRoute)
		r.Post("/routes/{routeID}/sync", h.syncRoute)

		r.Get("/providers", h.listProviders)
		r.Put("/providers/{provider}", h.upsertProvider)
		r.Post("/providers/{provider}/connect", h.connectProvider)
		r.Get("/providers/{provider}/callback", h.providerCallback)
		r.Post("/providers/{provider}/revoke", h.revokeProvider)
	})

	r.Route("/webhooks", func(r chi.Router) {
		r.Use(webhookRateLimiter.Middleware())
		r.Post("/provider-a", h.directoryWebhook)
		r.Post("/provider-b", h.graphWebhook)
	})

	return r
}
