package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/raisehead/contactsync/internal/store"
	"github.com/raisehead/contactsync/internal/sync"
)

func directoryAdapter(t *testing.T, handler http.Handler) *DirectoryAdapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewDirectoryAdapter(NewClient(ClientOptions{
		BaseURL:   srv.URL,
		Token:     StaticToken("tok"),
		Limiter:   rate.NewLimiter(rate.Inf, 1),
		BaseDelay: time.Millisecond,
		MaxDelay:  time.Millisecond,
	}))
}

func strp(s string) *string { return &s }

func TestDirectoryPushCreates(t *testing.T) {
	var gotMethod, gotPath string
	var gotBody directoryPerson
	a := directoryAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		gotBody.ID = "p-new"
		json.NewEncoder(w).Encode(gotBody)
	}))

	contact := &store.Contact{
		DisplayName: "Ada Lovelace",
		FirstName:   strp("Ada"),
		Email:       strp("ada@example.com"),
	}
	res, err := a.PushContact(context.Background(), contact, "", "")
	if err != nil {
		t.Fatalf("PushContact: %v", err)
	}
	if gotMethod != http.MethodPost || gotPath != "/v1/people" {
		t.Errorf("request = %s %s, want POST /v1/people", gotMethod, gotPath)
	}
	if gotBody.DisplayName != "Ada Lovelace" || gotBody.GivenName != "Ada" {
		t.Errorf("pushed person = %+v", gotBody)
	}
	if len(gotBody.EmailAddresses) != 1 || gotBody.EmailAddresses[0].Value != "ada@example.com" {
		t.Errorf("pushed emails = %+v", gotBody.EmailAddresses)
	}
	if res.ExternalID != "p-new" {
		t.Errorf("external id = %q", res.ExternalID)
	}
	if res.Data["displayName"] != "Ada Lovelace" {
		t.Errorf("snapshot data = %+v", res.Data)
	}
}

func TestDirectoryPushUpdatesInPlace(t *testing.T) {
	var gotMethod, gotPath string
	a := directoryAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		json.NewEncoder(w).Encode(directoryPerson{ID: "p-7", DisplayName: "Ada Lovelace"})
	}))

	_, err := a.PushContact(context.Background(), &store.Contact{DisplayName: "Ada Lovelace"}, "p-7", "")
	if err != nil {
		t.Fatalf("PushContact: %v", err)
	}
	if gotMethod != http.MethodPut || gotPath != "/v1/people/p-7" {
		t.Errorf("request = %s %s, want PUT /v1/people/p-7", gotMethod, gotPath)
	}
}

func TestDirectoryPullParsesTimestamp(t *testing.T) {
	a := directoryAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(directoryPerson{
			ID:          "p-1",
			DisplayName: "Ada Lovelace",
			UpdateTime:  "2026-03-01T12:00:00Z",
		})
	}))

	res, err := a.PullContact(context.Background(), "p-1")
	if err != nil {
		t.Fatalf("PullContact: %v", err)
	}
	want := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if res.LastModified == nil || !res.LastModified.Equal(want) {
		t.Errorf("lastModified = %v, want %v", res.LastModified, want)
	}
	if res.Snapshot.DisplayName != "Ada Lovelace" {
		t.Errorf("snapshot = %+v", res.Snapshot)
	}
}

func TestDirectoryPullMissingTimestampIsNil(t *testing.T) {
	a := directoryAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(directoryPerson{ID: "p-1", DisplayName: "Ada Lovelace"})
	}))
	res, err := a.PullContact(context.Background(), "p-1")
	if err != nil {
		t.Fatalf("PullContact: %v", err)
	}
	if res.LastModified != nil {
		t.Errorf("lastModified = %v, want nil when provider omits it", res.LastModified)
	}
}

func TestDirectoryPullNotFound(t *testing.T) {
	a := directoryAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"code":"not_found","message":"gone"}`))
	}))

	_, err := a.PullContact(context.Background(), "p-gone")
	var ae *sync.AdapterError
	if !errors.As(err, &ae) || !ae.NotFound {
		t.Fatalf("err = %v, want not-found AdapterError", err)
	}
}

func TestDirectoryDeleteToleratesMissing(t *testing.T) {
	a := directoryAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	if err := a.DeleteContact(context.Background(), "p-gone"); err != nil {
		t.Errorf("DeleteContact on missing record = %v, want nil", err)
	}
}

func TestDirectoryFetchAllPaginates(t *testing.T) {
	pages := map[string]struct {
		People        []directoryPerson `json:"people"`
		NextPageToken string            `json:"nextPageToken"`
	}{
		"": {
			People:        []directoryPerson{{ID: "p-1", DisplayName: "One"}},
			NextPageToken: "page-2",
		},
		"page-2": {
			People: []directoryPerson{{ID: "p-2", DisplayName: "Two"}},
		},
	}
	a := directoryAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(pages[r.URL.Query().Get("pageToken")])
	}))

	var seen []string
	err := a.FetchAllContacts(context.Background(), "", func(rec sync.ExternalRecord) error {
		seen = append(seen, rec.ExternalID)
		return nil
	})
	if err != nil {
		t.Fatalf("FetchAllContacts: %v", err)
	}
	if len(seen) != 2 || seen[0] != "p-1" || seen[1] != "p-2" {
		t.Errorf("seen = %v, want [p-1 p-2]", seen)
	}
}
