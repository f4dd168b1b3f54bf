package provider

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	gosync "sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/raisehead/contactsync/internal/config"
	"github.com/raisehead/contactsync/internal/secrets"
	"github.com/raisehead/contactsync/internal/store"
)

// ErrNotConnected means no credentials are stored for a provider.
var ErrNotConnected = errors.New("provider is not connected")

// ErrInvalidState rejects OAuth callbacks whose state we did not issue.
var ErrInvalidState = errors.New("invalid or expired oauth state")

// CredentialStore seals OAuth tokens and hands them to adapters. Tokens are
// stored per provider as encrypted JSON in provider_configs.
type CredentialStore struct {
	configs store.ProviderConfigRepository
	box     *secrets.Box
}

func NewCredentialStore(configs store.ProviderConfigRepository, box *secrets.Box) *CredentialStore {
	return &CredentialStore{configs: configs, box: box}
}

func (s *CredentialStore) SaveToken(ctx context.Context, provider store.Provider, token *oauth2.Token) error {
	raw, err := json.Marshal(token)
	if err != nil {
		return err
	}
	sealed, err := s.box.Seal(raw)
	if err != nil {
		return fmt.Errorf("seal credentials: %w", err)
	}
	return s.configs.SetCredentials(ctx, provider, sealed)
}

func (s *CredentialStore) LoadToken(ctx context.Context, provider store.Provider) (*oauth2.Token, error) {
	cfg, err := s.configs.Get(ctx, provider)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotConnected
	}
	if err != nil {
		return nil, err
	}
	if len(cfg.Credentials) == 0 {
		return nil, ErrNotConnected
	}
	raw, err := s.box.Open(cfg.Credentials)
	if err != nil {
		return nil, fmt.Errorf("open credentials: %w", err)
	}
	var token oauth2.Token
	if err := json.Unmarshal(raw, &token); err != nil {
		return nil, err
	}
	return &token, nil
}

func (s *CredentialStore) Clear(ctx context.Context, provider store.Provider) error {
	return s.configs.ClearCredentials(ctx, provider)
}

// OAuthToken returns a TokenProvider that refreshes through the oauth2
// config and persists rotated tokens back to the store.
func (s *CredentialStore) OAuthToken(cfg *oauth2.Config, provider store.Provider) TokenProvider {
	return func(ctx context.Context) (string, error) {
		stored, err := s.LoadToken(ctx, provider)
		if err != nil {
			return "", err
		}
		token, err := cfg.TokenSource(ctx, stored).Token()
		if err != nil {
			return "", fmt.Errorf("refresh token: %w", err)
		}
		if token.AccessToken != stored.AccessToken {
			if err := s.SaveToken(ctx, provider, token); err != nil {
				return "", err
			}
		}
		return token.AccessToken, nil
	}
}

// APIKey returns a TokenProvider backed by the provider's stored config.
// Database-style providers authenticate with a long-lived key instead of an
// OAuth grant.
func (s *CredentialStore) APIKey(provider store.Provider) TokenProvider {
	return func(ctx context.Context) (string, error) {
		cfg, err := s.configs.Get(ctx, provider)
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrNotConnected
		}
		if err != nil {
			return "", err
		}
		key, _ := cfg.Config["apiKey"].(string)
		if strings.TrimSpace(key) == "" {
			return "", ErrNotConnected
		}
		return key, nil
	}
}

// OAuthConfig builds the oauth2 config for a provider from the service
// configuration.
func OAuthConfig(pc config.ProviderOAuth, baseURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     pc.ClientID,
		ClientSecret: pc.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  pc.AuthURL,
			TokenURL: pc.TokenURL,
		},
		RedirectURL: strings.TrimRight(baseURL, "/") + pc.RedirectPath,
		Scopes:      pc.Scopes,
	}
}

const stateTTL = 10 * time.Minute

// ConnectFlow runs the OAuth authorization-code flow for one provider. The
// credentials belong to the integration itself, not to a signed-in user.
type ConnectFlow struct {
	provider store.Provider
	oauth    *oauth2.Config
	verifier *oidc.IDTokenVerifier
	creds    *CredentialStore

	mu     gosync.Mutex
	states map[string]time.Time
}

// NewConnectFlow wires a flow. verifier may be nil for providers that do not
// return an id_token.
func NewConnectFlow(provider store.Provider, oauthCfg *oauth2.Config, verifier *oidc.IDTokenVerifier, creds *CredentialStore) *ConnectFlow {
	return &ConnectFlow{
		provider: provider,
		oauth:    oauthCfg,
		verifier: verifier,
		creds:    creds,
		states:   map[string]time.Time{},
	}
}

func (f *ConnectFlow) Provider() store.Provider { return f.provider }

// AuthURL issues a fresh state nonce and returns the authorization URL.
func (f *ConnectFlow) AuthURL() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	state := hex.EncodeToString(buf)

	f.mu.Lock()
	now := time.Now()
	for s, issued := range f.states {
		if now.Sub(issued) > stateTTL {
			delete(f.states, s)
		}
	}
	f.states[state] = now
	f.mu.Unlock()

	return f.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline), nil
}

func (f *ConnectFlow) consumeState(state string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	issued, ok := f.states[state]
	if !ok {
		return false
	}
	delete(f.states, state)
	return time.Since(issued) <= stateTTL
}

// Exchange completes the callback: validates state, trades the code for a
// token, verifies the id_token where the provider issues one, and seals the
// result into the store.
func (f *ConnectFlow) Exchange(ctx context.Context, state, code string) error {
	if !f.consumeState(state) {
		return ErrInvalidState
	}
	token, err := f.oauth.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("exchange code: %w", err)
	}

	if f.verifier != nil {
		rawIDToken, ok := token.Extra("id_token").(string)
		if !ok || rawIDToken == "" {
			return errors.New("token response is missing id_token")
		}
		if _, err := f.verifier.Verify(ctx, rawIDToken); err != nil {
			return fmt.Errorf("verify id_token: %w", err)
		}
	}

	return f.creds.SaveToken(ctx, f.provider, token)
}

// Revoke drops the stored credentials. The provider-side grant stays valid
// until it expires; only our copy is destroyed.
func (f *ConnectFlow) Revoke(ctx context.Context) error {
	return f.creds.Clear(ctx, f.provider)
}
