package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type syncLogRepo struct {
	pool *pgxpool.Pool
}

func (r *syncLogRepo) Append(ctx context.Context, entry *SyncLog) error {
	defer observeDB(ctx, "sync_logs.append")()
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	const q = `INSERT INTO sync_logs
    (id, provider, direction, status, contact_id, external_id, message, error_details, records_processed)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING created_at`
	err := r.pool.QueryRow(ctx, q, entry.ID, entry.Provider, entry.Direction, entry.Status,
		entry.ContactID, entry.ExternalID, entry.Message, entry.ErrorDetails,
		entry.RecordsProcessed).Scan(&entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("append sync log: %w", err)
	}
	return nil
}

func (r *syncLogRepo) List(ctx context.Context, provider *Provider, page, limit int) ([]SyncLog, int, error) {
	defer observeDB(ctx, "sync_logs.list")()
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 500 {
		limit = 50
	}
	offset := (page - 1) * limit

	var total int
	if provider == nil {
		if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM sync_logs`).Scan(&total); err != nil {
			return nil, 0, fmt.Errorf("count sync logs: %w", err)
		}
	} else {
		if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM sync_logs WHERE provider = $1`, *provider).Scan(&total); err != nil {
			return nil, 0, fmt.Errorf("count sync logs: %w", err)
		}
	}

	const cols = `id, provider, direction, status, contact_id, external_id, message, error_details, records_processed, created_at`
	var (
		query string
		args  []any
	)
	if provider == nil {
		query = `SELECT ` + cols + ` FROM sync_logs ORDER BY created_at DESC LIMIT $1 OFFSET $2`
		args = []any{limit, offset}
	} else {
		query = `SELECT ` + cols + ` FROM sync_logs WHERE provider = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
		args = []any{*provider, limit, offset}
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list sync logs: %w", err)
	}
	defer rows.Close()

	var logs []SyncLog
	for rows.Next() {
		var l SyncLog
		if err := rows.Scan(&l.ID, &l.Provider, &l.Direction, &l.Status, &l.ContactID,
			&l.ExternalID, &l.Message, &l.ErrorDetails, &l.RecordsProcessed, &l.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan sync log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, total, rows.Err()
}
