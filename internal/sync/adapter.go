package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/raisehead/contactsync/internal/store"
)

// Snapshot is the narrow common projection of an external record. Provider
// adapters translate their own wire shapes into this; fields a provider does
// not supply stay nil and are never written over local state.
type Snapshot struct {
	DisplayName string
	FirstName   *string
	LastName    *string
	Email       *string
	Phone       *string
	Address     *string
	JobTitle    *string
	Notes       *string
	// Extra holds provider-specific fields carried along for persistence in
	// the link's external_data blob. Adapters own its keys.
	Extra map[string]any
}

// Data flattens the snapshot for storage in external_data.
func (s Snapshot) Data() map[string]any {
	m := make(map[string]any, len(s.Extra)+8)
	for k, v := range s.Extra {
		m[k] = v
	}
	if s.DisplayName != "" {
		m["displayName"] = s.DisplayName
	}
	setIf := func(key string, v *string) {
		if v != nil {
			m[key] = *v
		}
	}
	setIf("firstName", s.FirstName)
	setIf("lastName", s.LastName)
	setIf("email", s.Email)
	setIf("phone", s.Phone)
	setIf("address", s.Address)
	setIf("jobTitle", s.JobTitle)
	setIf("notes", s.Notes)
	return m
}

// Patch converts the snapshot into a partial contact update. Only fields the
// snapshot actually supplies are included.
func (s Snapshot) Patch() store.ContactPatch {
	p := store.ContactPatch{
		FirstName: s.FirstName,
		LastName:  s.LastName,
		Email:     s.Email,
		Phone:     s.Phone,
		Address:   s.Address,
		JobTitle:  s.JobTitle,
		Notes:     s.Notes,
	}
	if s.DisplayName != "" {
		name := s.DisplayName
		p.DisplayName = &name
	}
	return p
}

// PushResult is what a provider reports after an upsert.
type PushResult struct {
	ExternalID string
	Data       map[string]any
}

// PullResult is the current external state of one record.
type PullResult struct {
	Snapshot     Snapshot
	LastModified *time.Time
}

// ExternalRecord is one enumerated record during reconciliation.
type ExternalRecord struct {
	ExternalID   string
	Snapshot     Snapshot
	LastModified *time.Time
}

// Adapter translates between the local contact shape and one external API.
// Adapters make network calls only; they never touch local persistence, and
// they carry no sync policy.
type Adapter interface {
	Provider() store.Provider

	// PushContact upserts. With externalID it updates in place and fails with
	// a not-found AdapterError if the record was deleted externally; without
	// it it creates, requiring container when the provider needs one. It must
	// be idempotent under retry for the same externalID.
	PushContact(ctx context.Context, contact *store.Contact, externalID, container string) (*PushResult, error)

	PullContact(ctx context.Context, externalID string) (*PullResult, error)

	// DeleteContact is best-effort; callers log failures and move on.
	DeleteContact(ctx context.Context, externalID string) error

	// FetchAllContacts enumerates everything in scope, invoking fn per record.
	// Enumeration is paginated provider-side and consumed lazily; fn returning
	// an error stops the walk.
	FetchAllContacts(ctx context.Context, container string, fn func(ExternalRecord) error) error

	// EnsureContainerSchema additively creates any fields this system writes.
	// It never deletes or retypes existing fields.
	EnsureContainerSchema(ctx context.Context, container string) error
}

// AdapterError classifies a provider call failure. The orchestrator treats
// transient and permanent the same for now; the classification is kept so
// callers can branch later without an adapter change.
type AdapterError struct {
	Provider  store.Provider
	Op        string
	Transient bool
	NotFound  bool
	Err       error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

// Registry resolves a provider enum to its adapter.
type Registry struct {
	adapters map[store.Provider]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[store.Provider]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Provider()] = a
	}
	return r
}

func (r *Registry) Get(provider store.Provider) (Adapter, error) {
	a, ok := r.adapters[provider]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for provider %s", provider)
	}
	return a, nil
}
