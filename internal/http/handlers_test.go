package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/raisehead/contactsync/internal/config"
	"github.com/raisehead/contactsync/internal/store"
	"github.com/raisehead/contactsync/internal/sync"
)

type fakeRoutes struct {
	routes    map[uuid.UUID]*store.TagRoute
	createErr error
}

func (f *fakeRoutes) GetByID(ctx context.Context, id uuid.UUID) (*store.TagRoute, error) {
	rt, ok := f.routes[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *rt
	return &cp, nil
}

func (f *fakeRoutes) List(ctx context.Context, onlyEnabled bool) ([]store.TagRoute, error) {
	var out []store.TagRoute
	for _, rt := range f.routes {
		if onlyEnabled && !rt.Enabled {
			continue
		}
		out = append(out, *rt)
	}
	return out, nil
}

func (f *fakeRoutes) Create(ctx context.Context, route *store.TagRoute) error {
	if f.createErr != nil {
		return f.createErr
	}
	route.ID = uuid.New()
	f.routes[route.ID] = route
	return nil
}

func (f *fakeRoutes) Update(ctx context.Context, route *store.TagRoute) error {
	if _, ok := f.routes[route.ID]; !ok {
		return store.ErrNotFound
	}
	f.routes[route.ID] = route
	return nil
}

func (f *fakeRoutes) SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	rt, ok := f.routes[id]
	if !ok {
		return store.ErrNotFound
	}
	rt.Enabled = enabled
	return nil
}

func (f *fakeRoutes) Delete(ctx context.Context, id uuid.UUID) error {
	delete(f.routes, id)
	return nil
}

type fakeTags struct {
	tags map[uuid.UUID]*store.Tag
}

func (f *fakeTags) GetByID(ctx context.Context, id uuid.UUID) (*store.Tag, error) {
	tag, ok := f.tags[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return tag, nil
}

func (f *fakeTags) ListByContact(ctx context.Context, contactID uuid.UUID) ([]store.Tag, error) {
	return nil, nil
}

func (f *fakeTags) Attach(ctx context.Context, contactID, tagID uuid.UUID) error {
	return nil
}

type fakeLinks struct {
	store.LinkRepository
	removed         int64
	deletedContacts []uuid.UUID
}

func (f *fakeLinks) ListByContact(ctx context.Context, contactID uuid.UUID) ([]store.ExternalContactLink, error) {
	return nil, nil
}

func (f *fakeLinks) DeleteByContact(ctx context.Context, contactID uuid.UUID) error {
	f.deletedContacts = append(f.deletedContacts, contactID)
	return nil
}

func (f *fakeLinks) DeleteByContainer(ctx context.Context, provider store.Provider, containerID string) (int64, error) {
	return f.removed, nil
}

type fakeSyncLogs struct {
	logs []store.SyncLog
}

func (f *fakeSyncLogs) Append(ctx context.Context, entry *store.SyncLog) error {
	f.logs = append(f.logs, *entry)
	return nil
}

func (f *fakeSyncLogs) List(ctx context.Context, provider *store.Provider, page, limit int) ([]store.SyncLog, int, error) {
	if provider == nil {
		return f.logs, len(f.logs), nil
	}
	var out []store.SyncLog
	for _, l := range f.logs {
		if l.Provider == *provider {
			out = append(out, l)
		}
	}
	return out, len(out), nil
}

type fakeProviderConfigs struct {
	configs map[store.Provider]*store.ProviderConfig
}

func (f *fakeProviderConfigs) Get(ctx context.Context, provider store.Provider) (*store.ProviderConfig, error) {
	cfg, ok := f.configs[provider]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cfg, nil
}

func (f *fakeProviderConfigs) List(ctx context.Context) ([]store.ProviderConfig, error) {
	var out []store.ProviderConfig
	for _, cfg := range f.configs {
		out = append(out, *cfg)
	}
	return out, nil
}

func (f *fakeProviderConfigs) Upsert(ctx context.Context, cfg *store.ProviderConfig) error {
	f.configs[cfg.Provider] = cfg
	return nil
}

func (f *fakeProviderConfigs) SetCredentials(ctx context.Context, provider store.Provider, credentials []byte) error {
	cfg, ok := f.configs[provider]
	if !ok {
		return store.ErrNotFound
	}
	cfg.Credentials = credentials
	return nil
}

func (f *fakeProviderConfigs) ClearCredentials(ctx context.Context, provider store.Provider) error {
	cfg, ok := f.configs[provider]
	if !ok {
		return store.ErrNotFound
	}
	cfg.Credentials = nil
	return nil
}

type fakeOutbox struct {
	enqueued []uuid.UUID
}

func (f *fakeOutbox) Enqueue(ctx context.Context, contactID uuid.UUID) error {
	f.enqueued = append(f.enqueued, contactID)
	return nil
}

func (f *fakeOutbox) Claim(ctx context.Context, limit, maxAttempts int) ([]store.OutboxEntry, error) {
	return nil, nil
}

func (f *fakeOutbox) Delete(ctx context.Context, id uuid.UUID) error { return nil }

func (f *fakeOutbox) TakeExceeded(ctx context.Context, maxAttempts int) ([]store.OutboxEntry, error) {
	return nil, nil
}

func (f *fakeOutbox) Depth(ctx context.Context) (int, error) { return 0, nil }

type routerFixture struct {
	handler http.Handler
	routes  *fakeRoutes
	tags    *fakeTags
	links   *fakeLinks
	logs    *fakeSyncLogs
	configs *fakeProviderConfigs
	outbox  *fakeOutbox
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	f := &routerFixture{
		routes:  &fakeRoutes{routes: map[uuid.UUID]*store.TagRoute{}},
		tags:    &fakeTags{tags: map[uuid.UUID]*store.Tag{}},
		links:   &fakeLinks{},
		logs:    &fakeSyncLogs{},
		configs: &fakeProviderConfigs{configs: map[store.Provider]*store.ProviderConfig{}},
		outbox:  &fakeOutbox{},
	}
	st := &store.Store{
		Tags:            f.tags,
		Links:           f.links,
		SyncLogs:        f.logs,
		Routes:          f.routes,
		ProviderConfigs: f.configs,
		Outbox:          f.outbox,
	}
	deps := sync.Deps{
		Tags:            f.tags,
		Links:           f.links,
		SyncLogs:        f.logs,
		Routes:          f.routes,
		ProviderConfigs: f.configs,
	}
	svc := Services{
		Store:        st,
		Orchestrator: sync.NewOrchestrator(deps, sync.NewRegistry(), 0),
		Registry:     sync.NewRegistry(),
	}
	cfg := &config.Config{ListenAddr: ":0"}
	f.handler = NewRouter(cfg, svc)
	return f
}

func (f *routerFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return env
}

func TestParseProvider(t *testing.T) {
	cases := []struct {
		in   string
		want store.Provider
		ok   bool
	}{
		{"provider-a", store.ProviderA, true},
		{"PROVIDER_B", store.ProviderB, true},
		{"provider_c", store.ProviderC, true},
		{"provider-d", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := parseProvider(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Errorf("parseProvider(%q) = (%q, %v), want (%q, %v)", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestHealthz(t *testing.T) {
	f := newRouterFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d, want 200", rec.Code)
	}
}

func TestCreateRouteRequiresContainerAndName(t *testing.T) {
	f := newRouterFixture(t)
	rec := f.do(t, http.MethodPost, "/routes", map[string]any{"name": "Vendors"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCreateRouteRejectsUnknownTag(t *testing.T) {
	f := newRouterFixture(t)
	rec := f.do(t, http.MethodPost, "/routes", map[string]any{
		"tagId":       uuid.New().String(),
		"containerId": "db-1",
		"name":        "Vendors",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if env := decodeEnvelope(t, rec); env.Error != "tag does not exist" {
		t.Errorf("error = %q", env.Error)
	}
}

func TestCreateRouteConflict(t *testing.T) {
	f := newRouterFixture(t)
	f.routes.createErr = store.ErrDuplicate
	rec := f.do(t, http.MethodPost, "/routes", map[string]any{
		"containerId": "db-1",
		"name":        "Everyone",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestCreateRouteDefaultsToEnabled(t *testing.T) {
	f := newRouterFixture(t)
	tagID := uuid.New()
	f.tags.tags[tagID] = &store.Tag{ID: tagID, Name: "vendors"}

	rec := f.do(t, http.MethodPost, "/routes", map[string]any{
		"tagId":       tagID.String(),
		"containerId": "db-1",
		"name":        "Vendors",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body %s)", rec.Code, rec.Body.String())
	}
	if len(f.routes.routes) != 1 {
		t.Fatalf("routes stored = %d, want 1", len(f.routes.routes))
	}
	for _, rt := range f.routes.routes {
		if !rt.Enabled {
			t.Error("route should default to enabled")
		}
	}
}

func TestUpdateRouteNotFound(t *testing.T) {
	f := newRouterFixture(t)
	rec := f.do(t, http.MethodPut, "/routes/"+uuid.New().String(), map[string]any{"name": "Renamed"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestUpdateRouteToggleOnly(t *testing.T) {
	f := newRouterFixture(t)
	routeID := uuid.New()
	f.routes.routes[routeID] = &store.TagRoute{ID: routeID, ContainerID: "db-1", Name: "Vendors", Enabled: true}

	rec := f.do(t, http.MethodPut, "/routes/"+routeID.String(), map[string]any{"enabled": false})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	if f.routes.routes[routeID].Enabled {
		t.Error("route should be disabled")
	}
}

func TestDeleteRouteRemovesContainerLinks(t *testing.T) {
	f := newRouterFixture(t)
	routeID := uuid.New()
	f.routes.routes[routeID] = &store.TagRoute{ID: routeID, ContainerID: "db-9", Name: "Vendors", Enabled: true}
	f.links.removed = 3

	rec := f.do(t, http.MethodDelete, "/routes/"+routeID.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"linksRemoved":3`) {
		t.Errorf("body %q should report removed links", rec.Body.String())
	}
	if _, ok := f.routes.routes[routeID]; ok {
		t.Error("route should be deleted")
	}
}

func TestNotifyContactChangedEnqueues(t *testing.T) {
	f := newRouterFixture(t)
	contactID := uuid.New()

	rec := f.do(t, http.MethodPost, "/sync/notify/"+contactID.String(), nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if len(f.outbox.enqueued) != 1 || f.outbox.enqueued[0] != contactID {
		t.Errorf("enqueued = %v, want [%s]", f.outbox.enqueued, contactID)
	}
}

func TestNotifyContactDeletedRemovesLinks(t *testing.T) {
	f := newRouterFixture(t)
	contactID := uuid.New()

	rec := f.do(t, http.MethodDelete, "/sync/notify/"+contactID.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(f.links.deletedContacts) != 1 || f.links.deletedContacts[0] != contactID {
		t.Errorf("deleted = %v, want [%s]", f.links.deletedContacts, contactID)
	}
}

func TestNotifyContactChangedRejectsBadID(t *testing.T) {
	f := newRouterFixture(t)
	rec := f.do(t, http.MethodPost, "/sync/notify/not-a-uuid", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestFullSyncDisabledProvider(t *testing.T) {
	f := newRouterFixture(t)
	rec := f.do(t, http.MethodPost, "/sync/provider-a/full", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if env := decodeEnvelope(t, rec); env.Error != "provider integration is not enabled" {
		t.Errorf("error = %q", env.Error)
	}
}

func TestFullSyncUnknownProvider(t *testing.T) {
	f := newRouterFixture(t)
	rec := f.do(t, http.MethodPost, "/sync/provider-z/full", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestListSyncLogsFiltersByProvider(t *testing.T) {
	f := newRouterFixture(t)
	f.logs.logs = []store.SyncLog{
		{Provider: store.ProviderA, Message: "a"},
		{Provider: store.ProviderB, Message: "b"},
	}

	rec := f.do(t, http.MethodGet, "/sync/logs?provider=provider-a", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"total":1`) {
		t.Errorf("body %q should contain one filtered log", rec.Body.String())
	}
}

func TestListProvidersRedactsAPIKey(t *testing.T) {
	f := newRouterFixture(t)
	f.configs.configs[store.ProviderC] = &store.ProviderConfig{
		Provider:    store.ProviderC,
		Enabled:     true,
		Config:      map[string]any{"apiKey": "secret-key-123"},
		Credentials: []byte("sealed"),
	}

	rec := f.do(t, http.MethodGet, "/providers", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if strings.Contains(body, "secret-key-123") {
		t.Error("api key must not appear in the response")
	}
	if !strings.Contains(body, "********") {
		t.Error("api key should be redacted, not dropped")
	}
	// Unconfigured providers are still listed.
	if !strings.Contains(body, string(store.ProviderA)) {
		t.Errorf("body %q should list every provider", body)
	}
}

func TestConnectProviderWithoutOAuthFlow(t *testing.T) {
	f := newRouterFixture(t)
	rec := f.do(t, http.MethodPost, "/providers/provider-c/connect", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if env := decodeEnvelope(t, rec); env.Error != "provider does not use oauth" {
		t.Errorf("error = %q", env.Error)
	}
}

func TestUpsertProviderPreservesConfigWhenOmitted(t *testing.T) {
	f := newRouterFixture(t)
	f.configs.configs[store.ProviderC] = &store.ProviderConfig{
		Provider: store.ProviderC,
		Enabled:  false,
		Config:   map[string]any{"apiKey": "k"},
	}

	rec := f.do(t, http.MethodPut, "/providers/provider-c", map[string]any{"enabled": true})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	got := f.configs.configs[store.ProviderC]
	if !got.Enabled {
		t.Error("provider should be enabled")
	}
	if got.Config["apiKey"] != "k" {
		t.Errorf("config = %v, existing settings should survive", got.Config)
	}
}
