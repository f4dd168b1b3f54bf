package provider

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/raisehead/contactsync/internal/metrics"
	"github.com/raisehead/contactsync/internal/store"
	"github.com/raisehead/contactsync/internal/sync"
)

// GraphAdapter talks to the graph-style provider: a personal contact list
// behind webhook subscriptions that handshake with a validation token.
type GraphAdapter struct {
	client *Client
}

func NewGraphAdapter(client *Client) *GraphAdapter {
	return &GraphAdapter{client: client}
}

func (a *GraphAdapter) Provider() store.Provider { return store.ProviderB }

type graphEmail struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

type graphContact struct {
	ID               string       `json:"id,omitempty"`
	DisplayName      string       `json:"displayName"`
	GivenName        string       `json:"givenName,omitempty"`
	Surname          string       `json:"surname,omitempty"`
	EmailAddresses   []graphEmail `json:"emailAddresses,omitempty"`
	BusinessPhones   []string     `json:"businessPhones,omitempty"`
	BusinessAddress  string       `json:"businessAddress,omitempty"`
	JobTitle         string       `json:"jobTitle,omitempty"`
	PersonalNotes    string       `json:"personalNotes,omitempty"`
	LastModifiedTime string       `json:"lastModifiedDateTime,omitempty"`
}

func graphContactFromContact(contact *store.Contact) graphContact {
	g := graphContact{
		DisplayName:     contact.DisplayName,
		GivenName:       deref(contact.FirstName),
		Surname:         deref(contact.LastName),
		BusinessAddress: deref(contact.Address),
		JobTitle:        deref(contact.JobTitle),
		PersonalNotes:   deref(contact.Notes),
	}
	if v := deref(contact.Email); v != "" {
		g.EmailAddresses = []graphEmail{{Address: v, Name: contact.DisplayName}}
	}
	if v := deref(contact.Phone); v != "" {
		g.BusinessPhones = []string{v}
	}
	return g
}

func (g graphContact) snapshot() sync.Snapshot {
	s := sync.Snapshot{
		DisplayName: g.DisplayName,
		FirstName:   optional(g.GivenName),
		LastName:    optional(g.Surname),
		Address:     optional(g.BusinessAddress),
		JobTitle:    optional(g.JobTitle),
		Notes:       optional(g.PersonalNotes),
	}
	if len(g.EmailAddresses) > 0 {
		s.Email = optional(g.EmailAddresses[0].Address)
	}
	if len(g.BusinessPhones) > 0 {
		s.Phone = optional(g.BusinessPhones[0])
	}
	return s
}

func (a *GraphAdapter) PushContact(ctx context.Context, contact *store.Contact, externalID, container string) (*sync.PushResult, error) {
	defer metrics.ObserveAdapterCall(string(store.ProviderB), "push", time.Now())

	payload := graphContactFromContact(contact)
	var result graphContact
	var err error
	if externalID == "" {
		err = a.client.Do(ctx, http.MethodPost, "/v1.0/me/contacts", nil, payload, &result)
	} else {
		err = a.client.Do(ctx, http.MethodPatch, "/v1.0/me/contacts/"+url.PathEscape(externalID), nil, payload, &result)
	}
	if err != nil {
		return nil, wrapErr(store.ProviderB, "push", err)
	}
	return &sync.PushResult{ExternalID: result.ID, Data: result.snapshot().Data()}, nil
}

func (a *GraphAdapter) PullContact(ctx context.Context, externalID string) (*sync.PullResult, error) {
	defer metrics.ObserveAdapterCall(string(store.ProviderB), "pull", time.Now())

	var result graphContact
	if err := a.client.Do(ctx, http.MethodGet, "/v1.0/me/contacts/"+url.PathEscape(externalID), nil, nil, &result); err != nil {
		return nil, wrapErr(store.ProviderB, "pull", err)
	}
	return &sync.PullResult{
		Snapshot:     result.snapshot(),
		LastModified: parseTimePtr(result.LastModifiedTime),
	}, nil
}

func (a *GraphAdapter) DeleteContact(ctx context.Context, externalID string) error {
	defer metrics.ObserveAdapterCall(string(store.ProviderB), "delete", time.Now())

	err := a.client.Do(ctx, http.MethodDelete, "/v1.0/me/contacts/"+url.PathEscape(externalID), nil, nil, nil)
	if err == nil {
		return nil
	}
	wrapped := wrapErr(store.ProviderB, "delete", err)
	var ae *sync.AdapterError
	if errors.As(wrapped, &ae) && ae.NotFound {
		return nil
	}
	return wrapped
}

func (a *GraphAdapter) FetchAllContacts(ctx context.Context, container string, fn func(sync.ExternalRecord) error) error {
	defer metrics.ObserveAdapterCall(string(store.ProviderB), "fetch_all", time.Now())

	path := "/v1.0/me/contacts?top=100"
	for path != "" {
		var page struct {
			Value    []graphContact `json:"value"`
			NextLink string         `json:"nextLink"`
		}
		if err := a.client.Do(ctx, http.MethodGet, path, nil, nil, &page); err != nil {
			return wrapErr(store.ProviderB, "fetch_all", err)
		}
		for _, contact := range page.Value {
			rec := sync.ExternalRecord{
				ExternalID:   contact.ID,
				Snapshot:     contact.snapshot(),
				LastModified: parseTimePtr(contact.LastModifiedTime),
			}
			if err := fn(rec); err != nil {
				return err
			}
		}
		path = page.NextLink
	}
	return nil
}

// EnsureContainerSchema is a no-op: the graph contact list has a fixed shape.
func (a *GraphAdapter) EnsureContainerSchema(ctx context.Context, container string) error {
	return nil
}
