package store

import (
	"context"

	"github.com/google/uuid"
)

// ContactRepository is the slice of the ERP contact service the sync engine
// consumes: read, create from an inbound snapshot, and partial update.
type ContactRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Contact, error)
	Create(ctx context.Context, contact *Contact) error
	ApplyPatch(ctx context.Context, id uuid.UUID, patch ContactPatch) error
	// Delete removes a contact this service provisionally created and lost a
	// link-creation race for. General contact deletion stays with the ERP.
	Delete(ctx context.Context, id uuid.UUID) error
	ListIDsByTag(ctx context.Context, tagID *uuid.UUID) ([]uuid.UUID, error)
}

// TagRepository exposes tag existence, membership, and the idempotent attach
// primitive used by route auto-tagging.
type TagRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Tag, error)
	ListByContact(ctx context.Context, contactID uuid.UUID) ([]Tag, error)
	Attach(ctx context.Context, contactID, tagID uuid.UUID) error
}

// LinkRepository persists contact-to-external-record bindings.
type LinkRepository interface {
	GetByExternalID(ctx context.Context, provider Provider, externalID string) (*ExternalContactLink, error)
	ListByContact(ctx context.Context, contactID uuid.UUID) ([]ExternalContactLink, error)
	ListByProvider(ctx context.Context, provider Provider) ([]ExternalContactLink, error)
	// FindFor locates the link for (contact, provider, container); container ""
	// matches links without a container discriminator.
	FindFor(ctx context.Context, contactID uuid.UUID, provider Provider, container string) (*ExternalContactLink, error)
	// Create returns ErrDuplicate when (provider, externalID) already exists.
	Create(ctx context.Context, link *ExternalContactLink) error
	// RecordSuccess stores the snapshot, advances last_synced_at, sets SYNCED,
	// and clears sync_error.
	RecordSuccess(ctx context.Context, id uuid.UUID, externalID string, data map[string]any) error
	// RecordFailure sets ERROR and the message but never touches
	// last_synced_at: a failed attempt must not advance the sync watermark.
	RecordFailure(ctx context.Context, id uuid.UUID, message string) error
	DeleteByContact(ctx context.Context, contactID uuid.UUID) error
	DeleteByContainer(ctx context.Context, provider Provider, containerID string) (int64, error)
}

// SyncLogRepository is append-only plus a paginated reader for the API.
type SyncLogRepository interface {
	Append(ctx context.Context, entry *SyncLog) error
	List(ctx context.Context, provider *Provider, page, limit int) ([]SyncLog, int, error)
}

// RouteRepository manages the tag-routing table.
type RouteRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*TagRoute, error)
	List(ctx context.Context, onlyEnabled bool) ([]TagRoute, error)
	// Create returns ErrDuplicate when the tag or container is already routed.
	Create(ctx context.Context, route *TagRoute) error
	Update(ctx context.Context, route *TagRoute) error
	SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// ProviderConfigRepository stores per-provider settings and credentials.
type ProviderConfigRepository interface {
	Get(ctx context.Context, provider Provider) (*ProviderConfig, error)
	List(ctx context.Context) ([]ProviderConfig, error)
	Upsert(ctx context.Context, cfg *ProviderConfig) error
	SetCredentials(ctx context.Context, provider Provider, credentials []byte) error
	ClearCredentials(ctx context.Context, provider Provider) error
}

// OutboxRepository is the durable queue behind fire-and-forget pushes.
type OutboxRepository interface {
	Enqueue(ctx context.Context, contactID uuid.UUID) error
	// Claim increments attempts on up to limit entries, skipping rows another
	// worker holds, and returns them oldest first.
	Claim(ctx context.Context, limit, maxAttempts int) ([]OutboxEntry, error)
	Delete(ctx context.Context, id uuid.UUID) error
	// TakeExceeded removes and returns entries whose attempts reached the
	// bound, so the worker can dead-letter them to the sync log.
	TakeExceeded(ctx context.Context, maxAttempts int) ([]OutboxEntry, error)
	Depth(ctx context.Context) (int, error)
}
