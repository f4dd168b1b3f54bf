package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/raisehead/contactsync/internal/metrics"
	"github.com/raisehead/contactsync/internal/store"
)

// ErrProviderDisabled rejects sync work before any adapter call is made.
var ErrProviderDisabled = errors.New("provider integration is not enabled")

// ErrRouteDisabled rejects route syncs for disabled routes.
var ErrRouteDisabled = errors.New("route is not enabled")

// Summary is the outcome of a batch pass. Partial failure is reported, not
// raised: a non-zero error count still returns success to the caller.
type Summary struct {
	Processed int `json:"processed"`
	Errors    int `json:"errors"`
}

// RouteContext tells inbound ingestion which route a record came through,
// driving auto-tagging and the container discriminator.
type RouteContext struct {
	TagID       *uuid.UUID
	ContainerID string
}

// Deps are the persistence collaborators the orchestrator works against.
type Deps struct {
	Contacts        store.ContactRepository
	Tags            store.TagRepository
	Links           store.LinkRepository
	SyncLogs        store.SyncLogRepository
	Routes          store.RouteRepository
	ProviderConfigs store.ProviderConfigRepository
}

// DepsFromStore wires the orchestrator against the real repositories.
func DepsFromStore(st *store.Store) Deps {
	return Deps{
		Contacts:        st.Contacts,
		Tags:            st.Tags,
		Links:           st.Links,
		SyncLogs:        st.SyncLogs,
		Routes:          st.Routes,
		ProviderConfigs: st.ProviderConfigs,
	}
}

// Orchestrator coordinates adapters, links, the resolver, and the sync log.
// Each (contact, provider, container) pair is synchronized independently;
// decisions derive solely from link state, never from the log.
type Orchestrator struct {
	deps        Deps
	registry    *Registry
	callTimeout time.Duration
	now         func() time.Time
}

func NewOrchestrator(deps Deps, registry *Registry, callTimeout time.Duration) *Orchestrator {
	if callTimeout <= 0 {
		callTimeout = 30 * time.Second
	}
	return &Orchestrator{
		deps:        deps,
		registry:    registry,
		callTimeout: callTimeout,
		now:         time.Now,
	}
}

func (o *Orchestrator) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, o.callTimeout)
}

func (o *Orchestrator) providerEnabled(ctx context.Context, provider store.Provider) (bool, error) {
	cfg, err := o.deps.ProviderConfigs.Get(ctx, provider)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return cfg.Enabled, nil
}

// ProviderEnabled reports whether a provider integration is switched on. A
// provider with no stored configuration counts as disabled.
func (o *Orchestrator) ProviderEnabled(ctx context.Context, provider store.Provider) (bool, error) {
	return o.providerEnabled(ctx, provider)
}

func (o *Orchestrator) requireEnabled(ctx context.Context, provider store.Provider) error {
	enabled, err := o.providerEnabled(ctx, provider)
	if err != nil {
		return err
	}
	if !enabled {
		return fmt.Errorf("%s: %w", provider, ErrProviderDisabled)
	}
	return nil
}

// appendLog writes one audit entry and counts it. Log-write failures must
// not fail the sync itself.
func (o *Orchestrator) appendLog(ctx context.Context, entry store.SyncLog) {
	metrics.CountSyncAttempt(string(entry.Provider), string(entry.Direction), string(entry.Status))
	if err := o.deps.SyncLogs.Append(ctx, &entry); err != nil {
		log.Printf("[ERROR] failed to append sync log: %v", err)
	}
}

func stampContainer(data map[string]any, container string) map[string]any {
	if container == "" {
		return data
	}
	if data == nil {
		data = map[string]any{}
	}
	data[store.ContainerKey] = container
	return data
}

// pushExisting re-pushes local state over an existing link and records the
// outcome on the link either way.
func (o *Orchestrator) pushExisting(ctx context.Context, adapter Adapter, contact *store.Contact, link *store.ExternalContactLink) (*PushResult, error) {
	cctx, cancel := o.callCtx(ctx)
	res, err := adapter.PushContact(cctx, contact, link.ExternalID, link.Container())
	cancel()
	if err != nil {
		if recErr := o.deps.Links.RecordFailure(ctx, link.ID, err.Error()); recErr != nil {
			log.Printf("[ERROR] failed to record link failure: %v", recErr)
		}
		return nil, err
	}
	data := stampContainer(res.Data, link.Container())
	if err := o.deps.Links.RecordSuccess(ctx, link.ID, res.ExternalID, data); err != nil {
		return nil, err
	}
	return res, nil
}

// createAndPush creates the external record and the link for it. When a
// concurrent writer already created the link, the loser re-reads and records
// its result on the existing row.
func (o *Orchestrator) createAndPush(ctx context.Context, adapter Adapter, contact *store.Contact, container string) (*store.ExternalContactLink, error) {
	cctx, cancel := o.callCtx(ctx)
	res, err := adapter.PushContact(cctx, contact, "", container)
	cancel()
	if err != nil {
		return nil, err
	}

	data := stampContainer(res.Data, container)
	now := o.now()
	link := &store.ExternalContactLink{
		ContactID:    contact.ID,
		Provider:     adapter.Provider(),
		ExternalID:   res.ExternalID,
		ExternalData: data,
		LastSyncedAt: &now,
		SyncStatus:   store.StatusSynced,
	}
	err = o.deps.Links.Create(ctx, link)
	if errors.Is(err, store.ErrDuplicate) {
		existing, getErr := o.deps.Links.GetByExternalID(ctx, adapter.Provider(), res.ExternalID)
		if getErr != nil {
			return nil, getErr
		}
		if recErr := o.deps.Links.RecordSuccess(ctx, existing.ID, res.ExternalID, data); recErr != nil {
			return nil, recErr
		}
		return existing, nil
	}
	if err != nil {
		return nil, err
	}
	return link, nil
}

// OnContactChanged pushes a local edit out to every linked provider. Local
// state is authoritative here: the edit just happened, so no conflict check
// runs. Per-link failures are logged and swallowed; only lookup failures
// propagate so the outbox can retry the whole notification.
func (o *Orchestrator) OnContactChanged(ctx context.Context, contactID uuid.UUID) error {
	contact, err := o.deps.Contacts.GetByID(ctx, contactID)
	if errors.Is(err, store.ErrNotFound) {
		// Deleted since the change was queued; pushing now would resurrect it.
		return nil
	}
	if err != nil {
		return err
	}

	links, err := o.deps.Links.ListByContact(ctx, contactID)
	if err != nil {
		return err
	}

	for i := range links {
		link := &links[i]
		enabled, err := o.providerEnabled(ctx, link.Provider)
		if err != nil {
			return err
		}
		if !enabled {
			continue
		}
		adapter, err := o.registry.Get(link.Provider)
		if err != nil {
			log.Printf("[ERROR] %v", err)
			continue
		}

		res, pushErr := o.pushExisting(ctx, adapter, contact, link)
		if pushErr != nil {
			msg := pushErr.Error()
			o.appendLog(ctx, store.SyncLog{
				Provider:     link.Provider,
				Direction:    store.DirectionOutbound,
				Status:       store.StatusError,
				ContactID:    &contact.ID,
				ExternalID:   &link.ExternalID,
				Message:      "Failed to push contact",
				ErrorDetails: &msg,
			})
			continue
		}
		o.appendLog(ctx, store.SyncLog{
			Provider:         link.Provider,
			Direction:        store.DirectionOutbound,
			Status:           store.StatusSynced,
			ContactID:        &contact.ID,
			ExternalID:       &res.ExternalID,
			Message:          "Contact pushed to external provider",
			RecordsProcessed: 1,
		})
	}

	return o.fanOutRoutes(ctx, contact)
}

// fanOutRoutes creates links for tag routes that match the contact but have
// no link yet. Routes whose tag the contact no longer carries are left
// alone: removing a tag never retracts a previously pushed record.
func (o *Orchestrator) fanOutRoutes(ctx context.Context, contact *store.Contact) error {
	enabled, err := o.providerEnabled(ctx, store.ProviderC)
	if err != nil || !enabled {
		return err
	}

	routes, err := o.deps.Routes.List(ctx, true)
	if err != nil {
		return err
	}
	if len(routes) == 0 {
		return nil
	}

	contactTags, err := o.deps.Tags.ListByContact(ctx, contact.ID)
	if err != nil {
		return err
	}
	tagSet := make(map[uuid.UUID]bool, len(contactTags))
	for _, t := range contactTags {
		tagSet[t.ID] = true
	}

	adapter, err := o.registry.Get(store.ProviderC)
	if err != nil {
		return err
	}

	for _, route := range routes {
		if route.TagID != nil && !tagSet[*route.TagID] {
			continue
		}
		_, err := o.deps.Links.FindFor(ctx, contact.ID, store.ProviderC, route.ContainerID)
		if err == nil {
			continue // already pushed above
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		link, pushErr := o.createAndPush(ctx, adapter, contact, route.ContainerID)
		if pushErr != nil {
			msg := pushErr.Error()
			o.appendLog(ctx, store.SyncLog{
				Provider:     store.ProviderC,
				Direction:    store.DirectionOutbound,
				Status:       store.StatusError,
				ContactID:    &contact.ID,
				Message:      fmt.Sprintf("Failed to push contact to container %s", route.ContainerID),
				ErrorDetails: &msg,
			})
			continue
		}
		o.appendLog(ctx, store.SyncLog{
			Provider:         store.ProviderC,
			Direction:        store.DirectionOutbound,
			Status:           store.StatusSynced,
			ContactID:        &contact.ID,
			ExternalID:       &link.ExternalID,
			Message:          fmt.Sprintf("Contact pushed to container %s", route.ContainerID),
			RecordsProcessed: 1,
		})
	}
	return nil
}

// SyncSingleContact is the synchronous, user-triggered push. Unlike
// OnContactChanged it propagates failure to the caller after logging it.
func (o *Orchestrator) SyncSingleContact(ctx context.Context, provider store.Provider, contactID uuid.UUID) (string, error) {
	if err := o.requireEnabled(ctx, provider); err != nil {
		return "", err
	}
	contact, err := o.deps.Contacts.GetByID(ctx, contactID)
	if err != nil {
		return "", err
	}
	adapter, err := o.registry.Get(provider)
	if err != nil {
		return "", err
	}

	links, err := o.deps.Links.ListByContact(ctx, contactID)
	if err != nil {
		return "", err
	}
	var link *store.ExternalContactLink
	for i := range links {
		if links[i].Provider == provider {
			link = &links[i]
			break
		}
	}

	var externalID string
	var syncErr error
	if link != nil {
		res, pushErr := o.pushExisting(ctx, adapter, contact, link)
		if pushErr == nil {
			externalID = res.ExternalID
		}
		syncErr = pushErr
	} else {
		created, pushErr := o.createAndPush(ctx, adapter, contact, "")
		if pushErr == nil {
			externalID = created.ExternalID
		}
		syncErr = pushErr
	}

	if syncErr != nil {
		msg := syncErr.Error()
		o.appendLog(ctx, store.SyncLog{
			Provider:     provider,
			Direction:    store.DirectionOutbound,
			Status:       store.StatusError,
			ContactID:    &contact.ID,
			Message:      "Failed to sync single contact",
			ErrorDetails: &msg,
		})
		return "", fmt.Errorf("sync failed: %w", syncErr)
	}

	o.appendLog(ctx, store.SyncLog{
		Provider:         provider,
		Direction:        store.DirectionOutbound,
		Status:           store.StatusSynced,
		ContactID:        &contact.ID,
		ExternalID:       &externalID,
		Message:          "Single contact synced",
		RecordsProcessed: 1,
	})
	return externalID, nil
}

// FullSync reconciles every linked pair for a provider. Pairs are processed
// sequentially; a failing pair is counted and left in ERROR without
// aborting the batch.
func (o *Orchestrator) FullSync(ctx context.Context, provider store.Provider) (Summary, error) {
	if err := o.requireEnabled(ctx, provider); err != nil {
		return Summary{}, err
	}
	adapter, err := o.registry.Get(provider)
	if err != nil {
		return Summary{}, err
	}

	links, err := o.deps.Links.ListByProvider(ctx, provider)
	if err != nil {
		return Summary{}, err
	}

	var sum Summary
	for i := range links {
		if err := o.reconcilePair(ctx, adapter, &links[i]); err != nil {
			sum.Errors++
			continue
		}
		sum.Processed++
	}

	status := store.StatusSynced
	var details *string
	if sum.Errors > 0 {
		status = store.StatusError
		d := fmt.Sprintf("%d contacts failed to sync", sum.Errors)
		details = &d
	}
	o.appendLog(ctx, store.SyncLog{
		Provider:         provider,
		Direction:        store.DirectionBoth,
		Status:           status,
		Message:          fmt.Sprintf("Full sync completed: %d processed, %d errors", sum.Processed, sum.Errors),
		ErrorDetails:     details,
		RecordsProcessed: sum.Processed,
	})
	return sum, nil
}

func (o *Orchestrator) reconcilePair(ctx context.Context, adapter Adapter, link *store.ExternalContactLink) error {
	contact, err := o.deps.Contacts.GetByID(ctx, link.ContactID)
	if err != nil {
		if recErr := o.deps.Links.RecordFailure(ctx, link.ID, "local contact missing"); recErr != nil {
			log.Printf("[ERROR] failed to record link failure: %v", recErr)
		}
		return err
	}

	cctx, cancel := o.callCtx(ctx)
	pull, err := adapter.PullContact(cctx, link.ExternalID)
	cancel()
	if err != nil {
		if recErr := o.deps.Links.RecordFailure(ctx, link.ID, err.Error()); recErr != nil {
			log.Printf("[ERROR] failed to record link failure: %v", recErr)
		}
		return err
	}

	res := Resolve(&contact.UpdatedAt, pull.LastModified, link.LastSyncedAt)
	switch res.Action {
	case ActionPushLocal:
		if _, err := o.pushExisting(ctx, adapter, contact, link); err != nil {
			return err
		}
	case ActionPullExternal:
		if err := o.deps.Contacts.ApplyPatch(ctx, contact.ID, pull.Snapshot.Patch()); err != nil {
			if recErr := o.deps.Links.RecordFailure(ctx, link.ID, err.Error()); recErr != nil {
				log.Printf("[ERROR] failed to record link failure: %v", recErr)
			}
			return err
		}
		data := stampContainer(pull.Snapshot.Data(), link.Container())
		if err := o.deps.Links.RecordSuccess(ctx, link.ID, link.ExternalID, data); err != nil {
			return err
		}
	case ActionNone:
		// Nothing moved; the watermark stays where it is.
	}
	return nil
}

// HandleInboundChange ingests one external record delivered by a webhook or
// the poller. This is the only path by which sync creates local contacts.
func (o *Orchestrator) HandleInboundChange(ctx context.Context, provider store.Provider, externalID string, snap Snapshot, lastModified *time.Time, route *RouteContext) error {
	link, err := o.deps.Links.GetByExternalID(ctx, provider, externalID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	if link == nil {
		return o.ingestNewContact(ctx, provider, externalID, snap, route)
	}

	if route != nil && route.TagID != nil {
		if err := o.deps.Tags.Attach(ctx, link.ContactID, *route.TagID); err != nil {
			return err
		}
	}

	contact, err := o.deps.Contacts.GetByID(ctx, link.ContactID)
	if err != nil {
		return err
	}

	res := Resolve(&contact.UpdatedAt, lastModified, link.LastSyncedAt)
	if res.Action == ActionPullExternal {
		if err := o.deps.Contacts.ApplyPatch(ctx, contact.ID, snap.Patch()); err != nil {
			return err
		}
		container := link.Container()
		if route != nil && route.ContainerID != "" {
			container = route.ContainerID
		}
		data := stampContainer(snap.Data(), container)
		if err := o.deps.Links.RecordSuccess(ctx, link.ID, externalID, data); err != nil {
			return err
		}
		o.appendLog(ctx, store.SyncLog{
			Provider:         provider,
			Direction:        store.DirectionInbound,
			Status:           store.StatusSynced,
			ContactID:        &link.ContactID,
			ExternalID:       &externalID,
			Message:          fmt.Sprintf("Contact updated from external source: %s", res.Reason),
			RecordsProcessed: 1,
		})
		return nil
	}

	// PUSH_LOCAL here means local is already newer; a stale external event
	// must not overwrite it. NO_ACTION means nothing moved.
	o.appendLog(ctx, store.SyncLog{
		Provider:   provider,
		Direction:  store.DirectionInbound,
		Status:     store.StatusSynced,
		ContactID:  &link.ContactID,
		ExternalID: &externalID,
		Message:    fmt.Sprintf("No update needed: %s", res.Reason),
	})
	return nil
}

func (o *Orchestrator) ingestNewContact(ctx context.Context, provider store.Provider, externalID string, snap Snapshot, route *RouteContext) error {
	contact := contactFromSnapshot(snap)
	if err := o.deps.Contacts.Create(ctx, contact); err != nil {
		return err
	}

	var container string
	if route != nil {
		container = route.ContainerID
	}
	now := o.now()
	link := &store.ExternalContactLink{
		ContactID:    contact.ID,
		Provider:     provider,
		ExternalID:   externalID,
		ExternalData: stampContainer(snap.Data(), container),
		LastSyncedAt: &now,
		SyncStatus:   store.StatusSynced,
	}
	err := o.deps.Links.Create(ctx, link)
	if errors.Is(err, store.ErrDuplicate) {
		// A concurrent delivery won the race; drop the provisional contact
		// and treat this as a redelivery against the existing link.
		if delErr := o.deps.Contacts.Delete(ctx, contact.ID); delErr != nil {
			log.Printf("[ERROR] failed to remove provisional contact %s: %v", contact.ID, delErr)
		}
		existing, getErr := o.deps.Links.GetByExternalID(ctx, provider, externalID)
		if getErr != nil {
			return getErr
		}
		if route != nil && route.TagID != nil {
			if err := o.deps.Tags.Attach(ctx, existing.ContactID, *route.TagID); err != nil {
				return err
			}
		}
		return nil
	}
	if err != nil {
		return err
	}

	if route != nil && route.TagID != nil {
		if err := o.deps.Tags.Attach(ctx, contact.ID, *route.TagID); err != nil {
			return err
		}
	}

	o.appendLog(ctx, store.SyncLog{
		Provider:         provider,
		Direction:        store.DirectionInbound,
		Status:           store.StatusSynced,
		ContactID:        &contact.ID,
		ExternalID:       &externalID,
		Message:          "New contact created from external source",
		RecordsProcessed: 1,
	})
	return nil
}

func contactFromSnapshot(snap Snapshot) *store.Contact {
	name := snap.DisplayName
	if name == "" {
		name = "Unknown"
	}
	return &store.Contact{
		DisplayName: name,
		FirstName:   snap.FirstName,
		LastName:    snap.LastName,
		Email:       snap.Email,
		Phone:       snap.Phone,
		Address:     snap.Address,
		JobTitle:    snap.JobTitle,
		Notes:       snap.Notes,
	}
}

// FullSyncByRoute reconciles one container in both directions: external
// records are ingested with the route's tag context, then local contacts
// matching the route's tag are pushed in.
func (o *Orchestrator) FullSyncByRoute(ctx context.Context, routeID uuid.UUID) (Summary, error) {
	route, err := o.deps.Routes.GetByID(ctx, routeID)
	if err != nil {
		return Summary{}, err
	}
	if !route.Enabled {
		return Summary{}, fmt.Errorf("route %q: %w", route.Name, ErrRouteDisabled)
	}
	if err := o.requireEnabled(ctx, store.ProviderC); err != nil {
		return Summary{}, err
	}
	adapter, err := o.registry.Get(store.ProviderC)
	if err != nil {
		return Summary{}, err
	}

	// Additive-only schema preflight. Failure is logged and does not block
	// the sync; the container may be shared with humans editing it manually.
	cctx, cancel := o.callCtx(ctx)
	if err := adapter.EnsureContainerSchema(cctx, route.ContainerID); err != nil {
		msg := err.Error()
		o.appendLog(ctx, store.SyncLog{
			Provider:     store.ProviderC,
			Direction:    store.DirectionBoth,
			Status:       store.StatusError,
			Message:      fmt.Sprintf("Failed to ensure schema for container %s", route.ContainerID),
			ErrorDetails: &msg,
		})
	}
	cancel()

	var sum Summary
	rctx := &RouteContext{TagID: route.TagID, ContainerID: route.ContainerID}

	err = adapter.FetchAllContacts(ctx, route.ContainerID, func(rec ExternalRecord) error {
		if err := o.HandleInboundChange(ctx, store.ProviderC, rec.ExternalID, rec.Snapshot, rec.LastModified, rctx); err != nil {
			sum.Errors++
			msg := err.Error()
			o.appendLog(ctx, store.SyncLog{
				Provider:     store.ProviderC,
				Direction:    store.DirectionInbound,
				Status:       store.StatusError,
				ExternalID:   &rec.ExternalID,
				Message:      "Failed to ingest external contact during route sync",
				ErrorDetails: &msg,
			})
			return nil
		}
		sum.Processed++
		return nil
	})
	if err != nil {
		sum.Errors++
		msg := err.Error()
		o.appendLog(ctx, store.SyncLog{
			Provider:     store.ProviderC,
			Direction:    store.DirectionInbound,
			Status:       store.StatusError,
			Message:      fmt.Sprintf("Failed to enumerate container %s", route.ContainerID),
			ErrorDetails: &msg,
		})
	}

	ids, err := o.deps.Contacts.ListIDsByTag(ctx, route.TagID)
	if err != nil {
		return sum, err
	}
	for _, id := range ids {
		if err := o.pushToContainer(ctx, adapter, id, route.ContainerID); err != nil {
			sum.Errors++
			continue
		}
		sum.Processed++
	}

	status := store.StatusSynced
	var details *string
	if sum.Errors > 0 {
		status = store.StatusError
		d := fmt.Sprintf("%d records failed to sync", sum.Errors)
		details = &d
	}
	o.appendLog(ctx, store.SyncLog{
		Provider:         store.ProviderC,
		Direction:        store.DirectionBoth,
		Status:           status,
		Message:          fmt.Sprintf("Route sync completed for container %s: %d processed, %d errors", route.ContainerID, sum.Processed, sum.Errors),
		ErrorDetails:     details,
		RecordsProcessed: sum.Processed,
	})
	return sum, nil
}

func (o *Orchestrator) pushToContainer(ctx context.Context, adapter Adapter, contactID uuid.UUID, container string) error {
	contact, err := o.deps.Contacts.GetByID(ctx, contactID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	link, err := o.deps.Links.FindFor(ctx, contactID, store.ProviderC, container)
	if err == nil {
		_, pushErr := o.pushExisting(ctx, adapter, contact, link)
		return pushErr
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	_, err = o.createAndPush(ctx, adapter, contact, container)
	return err
}

// OnContactDeleted removes external records best-effort and drops the
// contact's links. Provider-side failures are logged, never fatal: the
// local deletion already happened and must not be blocked.
func (o *Orchestrator) OnContactDeleted(ctx context.Context, contactID uuid.UUID) error {
	links, err := o.deps.Links.ListByContact(ctx, contactID)
	if err != nil {
		return err
	}
	for i := range links {
		link := &links[i]
		enabled, err := o.providerEnabled(ctx, link.Provider)
		if err != nil || !enabled {
			continue
		}
		adapter, err := o.registry.Get(link.Provider)
		if err != nil {
			continue
		}
		cctx, cancel := o.callCtx(ctx)
		if err := adapter.DeleteContact(cctx, link.ExternalID); err != nil {
			msg := err.Error()
			o.appendLog(ctx, store.SyncLog{
				Provider:     link.Provider,
				Direction:    store.DirectionOutbound,
				Status:       store.StatusError,
				ExternalID:   &link.ExternalID,
				Message:      "Failed to delete external contact",
				ErrorDetails: &msg,
			})
		}
		cancel()
	}
	return o.deps.Links.DeleteByContact(ctx, contactID)
}
