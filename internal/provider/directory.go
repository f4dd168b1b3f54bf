package provider

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/raisehead/contactsync/internal/metrics"
	"github.com/raisehead/contactsync/internal/store"
	"github.com/raisehead/contactsync/internal/sync"
)

// DirectoryAdapter talks to the directory-style provider: one flat person
// list, no containers, change notifications via push webhooks.
type DirectoryAdapter struct {
	client *Client
}

func NewDirectoryAdapter(client *Client) *DirectoryAdapter {
	return &DirectoryAdapter{client: client}
}

func (a *DirectoryAdapter) Provider() store.Provider { return store.ProviderA }

type directoryValue struct {
	Value string `json:"value"`
}

type directoryPerson struct {
	ID             string           `json:"id,omitempty"`
	DisplayName    string           `json:"displayName"`
	GivenName      string           `json:"givenName,omitempty"`
	FamilyName     string           `json:"familyName,omitempty"`
	EmailAddresses []directoryValue `json:"emailAddresses,omitempty"`
	PhoneNumbers   []directoryValue `json:"phoneNumbers,omitempty"`
	Addresses      []directoryValue `json:"addresses,omitempty"`
	JobTitle       string           `json:"jobTitle,omitempty"`
	Notes          string           `json:"notes,omitempty"`
	UpdateTime     string           `json:"updateTime,omitempty"`
}

func directoryPersonFromContact(contact *store.Contact) directoryPerson {
	p := directoryPerson{
		DisplayName: contact.DisplayName,
		GivenName:   deref(contact.FirstName),
		FamilyName:  deref(contact.LastName),
		JobTitle:    deref(contact.JobTitle),
		Notes:       deref(contact.Notes),
	}
	if v := deref(contact.Email); v != "" {
		p.EmailAddresses = []directoryValue{{Value: v}}
	}
	if v := deref(contact.Phone); v != "" {
		p.PhoneNumbers = []directoryValue{{Value: v}}
	}
	if v := deref(contact.Address); v != "" {
		p.Addresses = []directoryValue{{Value: v}}
	}
	return p
}

func (p directoryPerson) snapshot() sync.Snapshot {
	s := sync.Snapshot{
		DisplayName: p.DisplayName,
		FirstName:   optional(p.GivenName),
		LastName:    optional(p.FamilyName),
		JobTitle:    optional(p.JobTitle),
		Notes:       optional(p.Notes),
	}
	if len(p.EmailAddresses) > 0 {
		s.Email = optional(p.EmailAddresses[0].Value)
	}
	if len(p.PhoneNumbers) > 0 {
		s.Phone = optional(p.PhoneNumbers[0].Value)
	}
	if len(p.Addresses) > 0 {
		s.Address = optional(p.Addresses[0].Value)
	}
	return s
}

func (a *DirectoryAdapter) PushContact(ctx context.Context, contact *store.Contact, externalID, container string) (*sync.PushResult, error) {
	defer metrics.ObserveAdapterCall(string(store.ProviderA), "push", time.Now())

	payload := directoryPersonFromContact(contact)
	var person directoryPerson
	var err error
	if externalID == "" {
		err = a.client.Do(ctx, http.MethodPost, "/v1/people", nil, payload, &person)
	} else {
		err = a.client.Do(ctx, http.MethodPut, "/v1/people/"+url.PathEscape(externalID), nil, payload, &person)
	}
	if err != nil {
		return nil, wrapErr(store.ProviderA, "push", err)
	}
	return &sync.PushResult{ExternalID: person.ID, Data: person.snapshot().Data()}, nil
}

func (a *DirectoryAdapter) PullContact(ctx context.Context, externalID string) (*sync.PullResult, error) {
	defer metrics.ObserveAdapterCall(string(store.ProviderA), "pull", time.Now())

	var person directoryPerson
	if err := a.client.Do(ctx, http.MethodGet, "/v1/people/"+url.PathEscape(externalID), nil, nil, &person); err != nil {
		return nil, wrapErr(store.ProviderA, "pull", err)
	}
	return &sync.PullResult{
		Snapshot:     person.snapshot(),
		LastModified: parseTimePtr(person.UpdateTime),
	}, nil
}

func (a *DirectoryAdapter) DeleteContact(ctx context.Context, externalID string) error {
	defer metrics.ObserveAdapterCall(string(store.ProviderA), "delete", time.Now())

	err := a.client.Do(ctx, http.MethodDelete, "/v1/people/"+url.PathEscape(externalID), nil, nil, nil)
	if err == nil {
		return nil
	}
	wrapped := wrapErr(store.ProviderA, "delete", err)
	var ae *sync.AdapterError
	if errors.As(wrapped, &ae) && ae.NotFound {
		return nil // already gone
	}
	return wrapped
}

func (a *DirectoryAdapter) FetchAllContacts(ctx context.Context, container string, fn func(sync.ExternalRecord) error) error {
	defer metrics.ObserveAdapterCall(string(store.ProviderA), "fetch_all", time.Now())

	pageToken := ""
	for {
		query := url.Values{"pageSize": {strconv.Itoa(100)}}
		if pageToken != "" {
			query.Set("pageToken", pageToken)
		}
		var page struct {
			People        []directoryPerson `json:"people"`
			NextPageToken string            `json:"nextPageToken"`
		}
		if err := a.client.Do(ctx, http.MethodGet, "/v1/people", query, nil, &page); err != nil {
			return wrapErr(store.ProviderA, "fetch_all", err)
		}
		for _, person := range page.People {
			rec := sync.ExternalRecord{
				ExternalID:   person.ID,
				Snapshot:     person.snapshot(),
				LastModified: parseTimePtr(person.UpdateTime),
			}
			if err := fn(rec); err != nil {
				return err
			}
		}
		if page.NextPageToken == "" {
			return nil
		}
		pageToken = page.NextPageToken
	}
}

// EnsureContainerSchema is a no-op: the directory has no containers.
func (a *DirectoryAdapter) EnsureContainerSchema(ctx context.Context, container string) error {
	return nil
}
