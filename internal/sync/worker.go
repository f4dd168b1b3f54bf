package sync

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/raisehead/contactsync/internal/metrics"
	"github.com/raisehead/contactsync/internal/store"
)

const (
	defaultOutboxBatch  = 50
	defaultMaxAttempts  = 5
	defaultOutboxPeriod = 5 * time.Second
)

// OutboxWorker drains the change outbox. Entries are claimed with their
// attempt counter bumped, so a crash mid-push leads to redelivery rather
// than loss; OnContactChanged is safe to redeliver.
type OutboxWorker struct {
	outbox       store.OutboxRepository
	orchestrator *Orchestrator
	interval     time.Duration
	batchSize    int
	maxAttempts  int
}

func NewOutboxWorker(outbox store.OutboxRepository, orchestrator *Orchestrator, interval time.Duration) *OutboxWorker {
	if interval <= 0 {
		interval = defaultOutboxPeriod
	}
	return &OutboxWorker{
		outbox:       outbox,
		orchestrator: orchestrator,
		interval:     interval,
		batchSize:    defaultOutboxBatch,
		maxAttempts:  defaultMaxAttempts,
	}
}

// Run loops until the context is cancelled.
func (w *OutboxWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.RunOnce(ctx); err != nil {
				log.Printf("[ERROR] outbox pass failed: %v", err)
			}
		}
	}
}

// RunOnce drains one batch, dead-letters exhausted entries, and updates the
// depth gauge. Individual entry failures are left for the next pass.
func (w *OutboxWorker) RunOnce(ctx context.Context) error {
	w.deadLetter(ctx)

	entries, err := w.outbox.Claim(ctx, w.batchSize, w.maxAttempts)
	if err != nil {
		return fmt.Errorf("claim outbox entries: %w", err)
	}

	for _, entry := range entries {
		if err := w.orchestrator.OnContactChanged(ctx, entry.ContactID); err != nil {
			log.Printf("[WARN] outbox entry %s for contact %s failed (attempt %d): %v",
				entry.ID, entry.ContactID, entry.Attempts, err)
			continue
		}
		if err := w.outbox.Delete(ctx, entry.ID); err != nil {
			log.Printf("[ERROR] failed to delete outbox entry %s: %v", entry.ID, err)
		}
	}

	if depth, err := w.outbox.Depth(ctx); err == nil {
		metrics.SetOutboxDepth(depth)
	}
	return nil
}

// deadLetter removes entries past the attempt budget and records each in
// the sync log so the failure stays visible.
func (w *OutboxWorker) deadLetter(ctx context.Context) {
	exceeded, err := w.outbox.TakeExceeded(ctx, w.maxAttempts)
	if err != nil {
		log.Printf("[ERROR] failed to collect exhausted outbox entries: %v", err)
		return
	}
	for _, entry := range exceeded {
		details := fmt.Sprintf("gave up after %d attempts", entry.Attempts)
		links, err := w.orchestrator.deps.Links.ListByContact(ctx, entry.ContactID)
		if err != nil || len(links) == 0 {
			log.Printf("[ERROR] abandoned change notification for contact %s: %s", entry.ContactID, details)
			continue
		}
		for i := range links {
			w.orchestrator.appendLog(ctx, store.SyncLog{
				Provider:     links[i].Provider,
				Direction:    store.DirectionOutbound,
				Status:       store.StatusError,
				ContactID:    &entry.ContactID,
				ExternalID:   &links[i].ExternalID,
				Message:      "Change notification abandoned",
				ErrorDetails: &details,
			})
		}
	}
}
