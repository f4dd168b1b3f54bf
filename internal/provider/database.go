package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/raisehead/contactsync/internal/metrics"
	"github.com/raisehead/contactsync/internal/store"
	"github.com/raisehead/contactsync/internal/sync"
)

// DatabaseAdapter talks to the database-style provider: user-defined record
// databases addressed by container id, no webhooks, deletes modeled as
// archival. Records are routed into containers by the tag-routing table.
type DatabaseAdapter struct {
	client *Client
}

func NewDatabaseAdapter(client *Client) *DatabaseAdapter {
	return &DatabaseAdapter{client: client}
}

func (a *DatabaseAdapter) Provider() store.Provider { return store.ProviderC }

// Field names this system writes into a container, with the column type each
// needs. EnsureContainerSchema creates the missing ones.
var databaseFields = map[string]string{
	"Name":       "title",
	"First Name": "text",
	"Last Name":  "text",
	"Email":      "email",
	"Phone":      "phone",
	"Address":    "text",
	"Job Title":  "text",
	"Notes":      "text",
}

type databaseRecord struct {
	ID             string            `json:"id,omitempty"`
	DatabaseID     string            `json:"databaseId,omitempty"`
	Properties     map[string]string `json:"properties"`
	Archived       bool              `json:"archived,omitempty"`
	LastEditedTime string            `json:"lastEditedTime,omitempty"`
}

func databaseRecordFromContact(contact *store.Contact) databaseRecord {
	props := map[string]string{"Name": contact.DisplayName}
	set := func(key string, v *string) {
		if s := deref(v); s != "" {
			props[key] = s
		}
	}
	set("First Name", contact.FirstName)
	set("Last Name", contact.LastName)
	set("Email", contact.Email)
	set("Phone", contact.Phone)
	set("Address", contact.Address)
	set("Job Title", contact.JobTitle)
	set("Notes", contact.Notes)
	return databaseRecord{Properties: props}
}

func (r databaseRecord) snapshot() sync.Snapshot {
	name := r.Properties["Name"]
	if name == "" {
		name = "Unknown"
	}
	return sync.Snapshot{
		DisplayName: name,
		FirstName:   optional(r.Properties["First Name"]),
		LastName:    optional(r.Properties["Last Name"]),
		Email:       optional(r.Properties["Email"]),
		Phone:       optional(r.Properties["Phone"]),
		Address:     optional(r.Properties["Address"]),
		JobTitle:    optional(r.Properties["Job Title"]),
		Notes:       optional(r.Properties["Notes"]),
	}
}

func (a *DatabaseAdapter) PushContact(ctx context.Context, contact *store.Contact, externalID, container string) (*sync.PushResult, error) {
	defer metrics.ObserveAdapterCall(string(store.ProviderC), "push", time.Now())

	payload := databaseRecordFromContact(contact)
	var result databaseRecord
	var err error
	if externalID == "" {
		if container == "" {
			return nil, &sync.AdapterError{
				Provider: store.ProviderC, Op: "push",
				Err: errors.New("container id is required to create a record"),
			}
		}
		payload.DatabaseID = container
		err = a.client.Do(ctx, http.MethodPost, "/v1/records", nil, payload, &result)
	} else {
		err = a.client.Do(ctx, http.MethodPatch, "/v1/records/"+url.PathEscape(externalID), nil, payload, &result)
	}
	if err != nil {
		return nil, wrapErr(store.ProviderC, "push", err)
	}
	return &sync.PushResult{ExternalID: result.ID, Data: result.snapshot().Data()}, nil
}

func (a *DatabaseAdapter) PullContact(ctx context.Context, externalID string) (*sync.PullResult, error) {
	defer metrics.ObserveAdapterCall(string(store.ProviderC), "pull", time.Now())

	var result databaseRecord
	if err := a.client.Do(ctx, http.MethodGet, "/v1/records/"+url.PathEscape(externalID), nil, nil, &result); err != nil {
		return nil, wrapErr(store.ProviderC, "pull", err)
	}
	if result.Archived {
		return nil, &sync.AdapterError{
			Provider: store.ProviderC, Op: "pull", NotFound: true,
			Err: fmt.Errorf("record %s is archived", externalID),
		}
	}
	return &sync.PullResult{
		Snapshot:     result.snapshot(),
		LastModified: parseTimePtr(result.LastEditedTime),
	}, nil
}

// DeleteContact archives rather than destroys, matching how the provider's
// own UI removes records.
func (a *DatabaseAdapter) DeleteContact(ctx context.Context, externalID string) error {
	defer metrics.ObserveAdapterCall(string(store.ProviderC), "delete", time.Now())

	payload := map[string]any{"archived": true}
	err := a.client.Do(ctx, http.MethodPatch, "/v1/records/"+url.PathEscape(externalID), nil, payload, nil)
	if err == nil {
		return nil
	}
	wrapped := wrapErr(store.ProviderC, "delete", err)
	var ae *sync.AdapterError
	if errors.As(wrapped, &ae) && ae.NotFound {
		return nil
	}
	return wrapped
}

func (a *DatabaseAdapter) FetchAllContacts(ctx context.Context, container string, fn func(sync.ExternalRecord) error) error {
	defer metrics.ObserveAdapterCall(string(store.ProviderC), "fetch_all", time.Now())

	if container == "" {
		return &sync.AdapterError{
			Provider: store.ProviderC, Op: "fetch_all",
			Err: errors.New("container id is required"),
		}
	}

	cursor := ""
	for {
		body := map[string]any{"pageSize": 100}
		if cursor != "" {
			body["startCursor"] = cursor
		}
		var page struct {
			Results    []databaseRecord `json:"results"`
			HasMore    bool             `json:"hasMore"`
			NextCursor string           `json:"nextCursor"`
		}
		err := a.client.Do(ctx, http.MethodPost, "/v1/databases/"+url.PathEscape(container)+"/query", nil, body, &page)
		if err != nil {
			return wrapErr(store.ProviderC, "fetch_all", err)
		}
		for _, rec := range page.Results {
			if rec.Archived {
				continue
			}
			er := sync.ExternalRecord{
				ExternalID:   rec.ID,
				Snapshot:     rec.snapshot(),
				LastModified: parseTimePtr(rec.LastEditedTime),
			}
			if err := fn(er); err != nil {
				return err
			}
		}
		if !page.HasMore || page.NextCursor == "" {
			return nil
		}
		cursor = page.NextCursor
	}
}

// EnsureContainerSchema adds the fields this system writes that the container
// is missing. Existing fields are never retyped or removed; a container
// shared with manual edits keeps whatever else it has.
func (a *DatabaseAdapter) EnsureContainerSchema(ctx context.Context, container string) error {
	defer metrics.ObserveAdapterCall(string(store.ProviderC), "ensure_schema", time.Now())

	var db struct {
		ID         string            `json:"id"`
		Properties map[string]string `json:"properties"`
	}
	if err := a.client.Do(ctx, http.MethodGet, "/v1/databases/"+url.PathEscape(container), nil, nil, &db); err != nil {
		return wrapErr(store.ProviderC, "ensure_schema", err)
	}

	missing := map[string]string{}
	for name, kind := range databaseFields {
		if _, ok := db.Properties[name]; !ok {
			missing[name] = kind
		}
	}
	if len(missing) == 0 {
		return nil
	}

	payload := map[string]any{"properties": missing}
	if err := a.client.Do(ctx, http.MethodPatch, "/v1/databases/"+url.PathEscape(container), nil, payload, nil); err != nil {
		return wrapErr(store.ProviderC, "ensure_schema", err)
	}
	return nil
}
