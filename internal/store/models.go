package store

import (
	"time"

	"github.com/google/uuid"
)

// Provider identifies one external directory system.
type Provider string

const (
	ProviderA Provider = "PROVIDER_A"
	ProviderB Provider = "PROVIDER_B"
	ProviderC Provider = "PROVIDER_C"
)

// Providers lists every known provider in a stable order.
var Providers = []Provider{ProviderA, ProviderB, ProviderC}

func (p Provider) Valid() bool {
	switch p {
	case ProviderA, ProviderB, ProviderC:
		return true
	}
	return false
}

// SyncStatus is the reconciliation state of a link or log entry.
type SyncStatus string

const (
	StatusSynced  SyncStatus = "SYNCED"
	StatusPending SyncStatus = "PENDING"
	StatusError   SyncStatus = "ERROR"
)

// SyncDirection records which way data flowed for a sync log entry.
type SyncDirection string

const (
	DirectionInbound  SyncDirection = "INBOUND"
	DirectionOutbound SyncDirection = "OUTBOUND"
	DirectionBoth     SyncDirection = "BOTH"
)

// Contact is the local record being synchronized. The full CRUD surface
// lives in the ERP; this service reads it and applies inbound updates.
type Contact struct {
	ID          uuid.UUID
	DisplayName string
	FirstName   *string
	LastName    *string
	Email       *string
	Phone       *string
	Address     *string
	JobTitle    *string
	Notes       *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ContactPatch is a partial update. Nil fields are left untouched, which is
// how inbound sync avoids nulling columns the external snapshot did not
// supply.
type ContactPatch struct {
	DisplayName *string
	FirstName   *string
	LastName    *string
	Email       *string
	Phone       *string
	Address     *string
	JobTitle    *string
	Notes       *string
}

// Empty reports whether the patch would change nothing.
func (p ContactPatch) Empty() bool {
	return p.DisplayName == nil && p.FirstName == nil && p.LastName == nil &&
		p.Email == nil && p.Phone == nil && p.Address == nil &&
		p.JobTitle == nil && p.Notes == nil
}

// Tag is a label attached to contacts, consumed read-only except for the
// idempotent attach used by route auto-tagging.
type Tag struct {
	ID        uuid.UUID
	Name      string
	CreatedAt time.Time
}

// ContainerKey is the discriminator key inside external_data that scopes a
// link to one provider container.
const ContainerKey = "_containerId"

// ExternalContactLink binds a local contact to one external record.
type ExternalContactLink struct {
	ID           uuid.UUID
	ContactID    uuid.UUID
	Provider     Provider
	ExternalID   string
	ExternalData map[string]any
	LastSyncedAt *time.Time
	SyncStatus   SyncStatus
	SyncError    *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Container returns the container discriminator embedded in the snapshot,
// or "" for bare links.
func (l *ExternalContactLink) Container() string {
	if l.ExternalData == nil {
		return ""
	}
	if v, ok := l.ExternalData[ContainerKey].(string); ok {
		return v
	}
	return ""
}

// SyncLog is an immutable audit entry. Never updated or deleted here.
type SyncLog struct {
	ID               uuid.UUID
	Provider         Provider
	Direction        SyncDirection
	Status           SyncStatus
	ContactID        *uuid.UUID
	ExternalID       *string
	Message          string
	ErrorDetails     *string
	RecordsProcessed int
	CreatedAt        time.Time
}

// TagRoute maps a local tag (nil = all contacts) to one external container.
type TagRoute struct {
	ID          uuid.UUID
	TagID       *uuid.UUID
	ContainerID string
	Name        string
	Enabled     bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ProviderConfig is the integration configuration for one provider,
// including its encrypted service credentials.
type ProviderConfig struct {
	Provider    Provider
	Enabled     bool
	Config      map[string]any
	Credentials []byte
	UpdatedAt   time.Time
}

// OutboxEntry is one pending outbound change notification.
type OutboxEntry struct {
	ID        uuid.UUID
	ContactID uuid.UUID
	Attempts  int
	CreatedAt time.Time
}
