package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/raisehead/contactsync/internal/config"
	httpserver "github.com/raisehead/contactsync/internal/http"
	"github.com/raisehead/contactsync/internal/provider"
	"github.com/raisehead/contactsync/internal/secrets"
	"github.com/raisehead/contactsync/internal/store"
	"github.com/raisehead/contactsync/internal/sync"
)

func main() {
	log.Println("Starting contactsync server...")
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DB.DSN)
	if err != nil {
		log.Fatalf("failed to create db pool: %v", err)
	}
	defer pool.Close()

	if err := store.ApplyMigrations(ctx, pool); err != nil {
		log.Fatalf("failed to apply migrations: %v", err)
	}

	st := store.New(pool)

	box, err := secrets.NewBox(cfg.SecretKey)
	if err != nil {
		log.Fatalf("failed to initialize secret box: %v", err)
	}
	creds := provider.NewCredentialStore(st.ProviderConfigs, box)

	oauthA := provider.OAuthConfig(cfg.ProviderA, cfg.BaseURL)
	oauthB := provider.OAuthConfig(cfg.ProviderB, cfg.BaseURL)

	// The directory provider issues OIDC ID tokens; verify them on connect.
	var verifierA *oidc.IDTokenVerifier
	if cfg.ProviderA.IssuerURL != "" {
		oidcProvider, err := oidc.NewProvider(ctx, cfg.ProviderA.IssuerURL)
		if err != nil {
			log.Fatalf("failed to discover provider-a issuer: %v", err)
		}
		oauthA.Endpoint = oidcProvider.Endpoint()
		verifierA = oidcProvider.Verifier(&oidc.Config{ClientID: cfg.ProviderA.ClientID})
	}

	flows := map[store.Provider]*provider.ConnectFlow{
		store.ProviderA: provider.NewConnectFlow(store.ProviderA, oauthA, verifierA, creds),
		store.ProviderB: provider.NewConnectFlow(store.ProviderB, oauthB, nil, creds),
	}

	registry := sync.NewRegistry(
		provider.NewDirectoryAdapter(provider.NewClient(provider.ClientOptions{
			BaseURL: cfg.ProviderA.APIBaseURL,
			Token:   creds.OAuthToken(oauthA, store.ProviderA),
		})),
		provider.NewGraphAdapter(provider.NewClient(provider.ClientOptions{
			BaseURL: cfg.ProviderB.APIBaseURL,
			Token:   creds.OAuthToken(oauthB, store.ProviderB),
		})),
		provider.NewDatabaseAdapter(provider.NewClient(provider.ClientOptions{
			BaseURL: cfg.ProviderCAPIBaseURL,
			Token:   creds.APIKey(store.ProviderC),
		})),
	)

	orchestrator := sync.NewOrchestrator(sync.DepsFromStore(st), registry, 30*time.Second)

	worker := sync.NewOutboxWorker(st.Outbox, orchestrator, cfg.OutboxInterval)
	go worker.Run(ctx)

	poller := sync.NewPoller(st, orchestrator, cfg.PollInterval)
	go poller.Run(ctx)

	r := httpserver.NewRouter(cfg, httpserver.Services{
		Store:        st,
		Orchestrator: orchestrator,
		Registry:     registry,
		Flows:        flows,
	})

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("server listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
