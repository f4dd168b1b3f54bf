package sync

import "time"

// Action is the direction data should flow for one contact/provider pair.
type Action string

const (
	ActionPushLocal    Action = "PUSH_LOCAL"
	ActionPullExternal Action = "PULL_EXTERNAL"
	ActionNone         Action = "NO_ACTION"
)

// Resolution carries the chosen action and a human-readable reason that ends
// up in the sync log.
type Resolution struct {
	Action Action
	Reason string
}

// Resolve implements whole-record last-write-wins over three timestamps. It
// is a pure function: no I/O, no hidden state.
//
// A nil lastSyncedAt means the pair has never been reconciled, so any side
// with a real timestamp counts as changed. A nil externalLastModified means
// the provider has no modification signal; such a provider never overrides
// local state on its own. When both sides changed, the newer timestamp wins
// and the external side wins exact ties.
func Resolve(localUpdatedAt, externalLastModified, lastSyncedAt *time.Time) Resolution {
	localChanged := localUpdatedAt != nil &&
		(lastSyncedAt == nil || localUpdatedAt.After(*lastSyncedAt))
	externalChanged := externalLastModified != nil &&
		(lastSyncedAt == nil || externalLastModified.After(*lastSyncedAt))

	switch {
	case localChanged && !externalChanged:
		return Resolution{Action: ActionPushLocal, Reason: "Only local changed since last sync"}
	case externalChanged && !localChanged:
		return Resolution{Action: ActionPullExternal, Reason: "Only external changed since last sync"}
	case localChanged && externalChanged:
		if externalLastModified.Before(*localUpdatedAt) {
			return Resolution{Action: ActionPushLocal, Reason: "Both changed, local is newer (last-write-wins)"}
		}
		return Resolution{Action: ActionPullExternal, Reason: "Both changed, external is newer (last-write-wins)"}
	default:
		return Resolution{Action: ActionNone, Reason: "No changes since last sync"}
	}
}
