package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"golang.org/x/oauth2"

	"github.com/raisehead/contactsync/internal/secrets"
	"github.com/raisehead/contactsync/internal/store"
)

type fakeConfigRepo struct {
	configs map[store.Provider]*store.ProviderConfig
}

func newFakeConfigRepo() *fakeConfigRepo {
	return &fakeConfigRepo{configs: map[store.Provider]*store.ProviderConfig{}}
}

func (f *fakeConfigRepo) Get(ctx context.Context, provider store.Provider) (*store.ProviderConfig, error) {
	c, ok := f.configs[provider]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeConfigRepo) List(ctx context.Context) ([]store.ProviderConfig, error) {
	var out []store.ProviderConfig
	for _, c := range f.configs {
		out = append(out, *c)
	}
	return out, nil
}

func (f *fakeConfigRepo) Upsert(ctx context.Context, cfg *store.ProviderConfig) error {
	cp := *cfg
	f.configs[cfg.Provider] = &cp
	return nil
}

func (f *fakeConfigRepo) SetCredentials(ctx context.Context, provider store.Provider, credentials []byte) error {
	c, ok := f.configs[provider]
	if !ok {
		c = &store.ProviderConfig{Provider: provider}
		f.configs[provider] = c
	}
	c.Credentials = credentials
	return nil
}

func (f *fakeConfigRepo) ClearCredentials(ctx context.Context, provider store.Provider) error {
	if c, ok := f.configs[provider]; ok {
		c.Credentials = nil
	}
	return nil
}

func newTestCredentialStore(t *testing.T) (*CredentialStore, *fakeConfigRepo) {
	t.Helper()
	box, err := secrets.NewBox("0123456789abcdef0123456789abcdef")
	if err != nil {
		t.Fatal(err)
	}
	repo := newFakeConfigRepo()
	return NewCredentialStore(repo, box), repo
}

func TestCredentialStoreRoundTrip(t *testing.T) {
	creds, repo := newTestCredentialStore(t)
	ctx := context.Background()

	token := &oauth2.Token{AccessToken: "at", RefreshToken: "rt", TokenType: "Bearer"}
	if err := creds.SaveToken(ctx, store.ProviderA, token); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}

	stored := repo.configs[store.ProviderA].Credentials
	if len(stored) == 0 {
		t.Fatal("no credentials persisted")
	}
	if string(stored) == `{"access_token":"at"` {
		t.Error("credentials stored in cleartext")
	}

	loaded, err := creds.LoadToken(ctx, store.ProviderA)
	if err != nil {
		t.Fatalf("LoadToken: %v", err)
	}
	if loaded.AccessToken != "at" || loaded.RefreshToken != "rt" {
		t.Errorf("loaded token = %+v", loaded)
	}
}

func TestLoadTokenNotConnected(t *testing.T) {
	creds, _ := newTestCredentialStore(t)
	if _, err := creds.LoadToken(context.Background(), store.ProviderB); !errors.Is(err, ErrNotConnected) {
		t.Errorf("err = %v, want ErrNotConnected", err)
	}
}

func TestAPIKeyFromConfig(t *testing.T) {
	creds, repo := newTestCredentialStore(t)
	repo.configs[store.ProviderC] = &store.ProviderConfig{
		Provider: store.ProviderC,
		Enabled:  true,
		Config:   map[string]any{"apiKey": "secret-key"},
	}

	key, err := creds.APIKey(store.ProviderC)(context.Background())
	if err != nil {
		t.Fatalf("APIKey: %v", err)
	}
	if key != "secret-key" {
		t.Errorf("key = %q", key)
	}

	repo.configs[store.ProviderC].Config = map[string]any{}
	if _, err := creds.APIKey(store.ProviderC)(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("err = %v, want ErrNotConnected for missing key", err)
	}
}

func TestConnectFlowExchange(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"granted","token_type":"Bearer","refresh_token":"refresh"}`))
	}))
	defer tokenSrv.Close()

	creds, repo := newTestCredentialStore(t)
	oauthCfg := &oauth2.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		Endpoint:     oauth2.Endpoint{AuthURL: tokenSrv.URL + "/auth", TokenURL: tokenSrv.URL + "/token"},
		RedirectURL:  "http://localhost/providers/provider-b/callback",
	}
	flow := NewConnectFlow(store.ProviderB, oauthCfg, nil, creds)

	authURL, err := flow.AuthURL()
	if err != nil {
		t.Fatalf("AuthURL: %v", err)
	}
	parsed, err := url.Parse(authURL)
	if err != nil {
		t.Fatal(err)
	}
	state := parsed.Query().Get("state")
	if state == "" {
		t.Fatal("auth URL missing state")
	}

	if err := flow.Exchange(context.Background(), state, "auth-code"); err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if len(repo.configs[store.ProviderB].Credentials) == 0 {
		t.Error("credentials not persisted after exchange")
	}

	// The state is single use.
	if err := flow.Exchange(context.Background(), state, "auth-code"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("replayed state err = %v, want ErrInvalidState", err)
	}
}

func TestConnectFlowRejectsUnknownState(t *testing.T) {
	creds, _ := newTestCredentialStore(t)
	flow := NewConnectFlow(store.ProviderB, &oauth2.Config{}, nil, creds)
	if err := flow.Exchange(context.Background(), "forged", "code"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("err = %v, want ErrInvalidState", err)
	}
}

func TestConnectFlowRevoke(t *testing.T) {
	creds, repo := newTestCredentialStore(t)
	if err := creds.SaveToken(context.Background(), store.ProviderA, &oauth2.Token{AccessToken: "at"}); err != nil {
		t.Fatal(err)
	}
	flow := NewConnectFlow(store.ProviderA, &oauth2.Config{}, nil, creds)
	if err := flow.Revoke(context.Background()); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if len(repo.configs[store.ProviderA].Credentials) != 0 {
		t.Error("credentials remain after revoke")
	}
}
