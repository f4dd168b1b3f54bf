package sync

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/raisehead/contactsync/internal/store"
)

// ProviderLocker serializes poll passes across instances.
type ProviderLocker interface {
	TryProviderLock(ctx context.Context, provider store.Provider) (release func(), ok bool, err error)
}

// Poller ingests changes from providers without webhook support. It walks
// every enabled route's container and feeds each record through inbound
// ingestion; outbound pushes stay on the outbox path.
type Poller struct {
	locker       ProviderLocker
	orchestrator *Orchestrator
	interval     time.Duration
}

func NewPoller(locker ProviderLocker, orchestrator *Orchestrator, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Poller{locker: locker, orchestrator: orchestrator, interval: interval}
}

func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.RunOnce(ctx); err != nil {
				log.Printf("[ERROR] poll pass failed: %v", err)
			}
		}
	}
}

// RunOnce performs a single poll pass. If another instance holds the poll
// lock the pass is skipped; overlapping walks of the same container would
// race each other's link writes.
func (p *Poller) RunOnce(ctx context.Context) error {
	o := p.orchestrator

	enabled, err := o.providerEnabled(ctx, store.ProviderC)
	if err != nil {
		return err
	}
	if !enabled {
		return nil
	}

	release, locked, err := p.locker.TryProviderLock(ctx, store.ProviderC)
	if err != nil {
		return fmt.Errorf("acquire poll lock: %w", err)
	}
	if !locked {
		log.Printf("[INFO] poll pass skipped: another instance holds the lock")
		return nil
	}
	defer release()

	adapter, err := o.registry.Get(store.ProviderC)
	if err != nil {
		return err
	}
	routes, err := o.deps.Routes.List(ctx, true)
	if err != nil {
		return err
	}

	for _, route := range routes {
		p.pollRoute(ctx, adapter, route)
	}
	return nil
}

func (p *Poller) pollRoute(ctx context.Context, adapter Adapter, route store.TagRoute) {
	o := p.orchestrator
	rctx := &RouteContext{TagID: route.TagID, ContainerID: route.ContainerID}
	processed := 0

	err := adapter.FetchAllContacts(ctx, route.ContainerID, func(rec ExternalRecord) error {
		if err := o.HandleInboundChange(ctx, store.ProviderC, rec.ExternalID, rec.Snapshot, rec.LastModified, rctx); err != nil {
			msg := err.Error()
			o.appendLog(ctx, store.SyncLog{
				Provider:     store.ProviderC,
				Direction:    store.DirectionInbound,
				Status:       store.StatusError,
				ExternalID:   &rec.ExternalID,
				Message:      "Failed to ingest polled contact",
				ErrorDetails: &msg,
			})
			return nil
		}
		processed++
		return nil
	})
	if err != nil {
		msg := err.Error()
		o.appendLog(ctx, store.SyncLog{
			Provider:     store.ProviderC,
			Direction:    store.DirectionInbound,
			Status:       store.StatusError,
			Message:      fmt.Sprintf("Failed to poll container %s", route.ContainerID),
			ErrorDetails: &msg,
		})
		return
	}

	// Quiet containers produce no log at all; the poller runs constantly
	// and would otherwise flood the audit trail.
	if processed > 0 {
		o.appendLog(ctx, store.SyncLog{
			Provider:         store.ProviderC,
			Direction:        store.DirectionInbound,
			Status:           store.StatusSynced,
			Message:          fmt.Sprintf("Poll of container %s processed %d records", route.ContainerID, processed),
			RecordsProcessed: processed,
		})
	}
}
