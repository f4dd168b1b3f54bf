package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type outboxRepo struct {
	pool *pgxpool.Pool
}

func (r *outboxRepo) Enqueue(ctx context.Context, contactID uuid.UUID) error {
	defer observeDB(ctx, "outbox.enqueue")()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO sync_outbox (id, contact_id) VALUES ($1, $2)`, uuid.New(), contactID)
	if err != nil {
		return fmt.Errorf("enqueue outbox entry: %w", err)
	}
	return nil
}

// Claim bumps attempts on up to limit rows and returns them. SKIP LOCKED
// keeps concurrent workers off the same rows; a crashed worker's rows come
// back on the next pass with their attempt count already incremented.
func (r *outboxRepo) Claim(ctx context.Context, limit, maxAttempts int) ([]OutboxEntry, error) {
	defer observeDB(ctx, "outbox.claim")()
	const q = `UPDATE sync_outbox SET attempts = attempts + 1
WHERE id IN (
    SELECT id FROM sync_outbox
    WHERE attempts < $2
    ORDER BY created_at
    LIMIT $1
    FOR UPDATE SKIP LOCKED
)
RETURNING id, contact_id, attempts, created_at`
	rows, err := r.pool.Query(ctx, q, limit, maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("claim outbox entries: %w", err)
	}
	return scanOutboxEntries(rows)
}

func (r *outboxRepo) Delete(ctx context.Context, id uuid.UUID) error {
	defer observeDB(ctx, "outbox.delete")()
	if _, err := r.pool.Exec(ctx, `DELETE FROM sync_outbox WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete outbox entry: %w", err)
	}
	return nil
}

func (r *outboxRepo) TakeExceeded(ctx context.Context, maxAttempts int) ([]OutboxEntry, error) {
	defer observeDB(ctx, "outbox.take_exceeded")()
	rows, err := r.pool.Query(ctx,
		`DELETE FROM sync_outbox WHERE attempts >= $1
         RETURNING id, contact_id, attempts, created_at`, maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("take exceeded outbox entries: %w", err)
	}
	return scanOutboxEntries(rows)
}

func (r *outboxRepo) Depth(ctx context.Context) (int, error) {
	defer observeDB(ctx, "outbox.depth")()
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM sync_outbox`).Scan(&n); err != nil {
		return 0, fmt.Errorf("outbox depth: %w", err)
	}
	return n, nil
}

func scanOutboxEntries(rows pgx.Rows) ([]OutboxEntry, error) {
	defer rows.Close()
	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		if err := rows.Scan(&e.ID, &e.ContactID, &e.Attempts, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
