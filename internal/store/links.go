package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type linkRepo struct {
	pool *pgxpool.Pool
}

const linkColumns = `id, contact_id, provider, external_id, external_data, last_synced_at, sync_status, sync_error, created_at, updated_at`

func scanLink(row pgx.Row) (*ExternalContactLink, error) {
	var l ExternalContactLink
	err := row.Scan(&l.ID, &l.ContactID, &l.Provider, &l.ExternalID, &l.ExternalData,
		&l.LastSyncedAt, &l.SyncStatus, &l.SyncError, &l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan link: %w", err)
	}
	return &l, nil
}

func scanLinks(rows pgx.Rows) ([]ExternalContactLink, error) {
	defer rows.Close()
	var links []ExternalContactLink
	for rows.Next() {
		var l ExternalContactLink
		if err := rows.Scan(&l.ID, &l.ContactID, &l.Provider, &l.ExternalID, &l.ExternalData,
			&l.LastSyncedAt, &l.SyncStatus, &l.SyncError, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

func (r *linkRepo) GetByExternalID(ctx context.Context, provider Provider, externalID string) (*ExternalContactLink, error) {
	defer observeDB(ctx, "links.get_by_external_id")()
	row := r.pool.QueryRow(ctx,
		`SELECT `+linkColumns+` FROM external_contact_links WHERE provider = $1 AND external_id = $2`,
		provider, externalID)
	return scanLink(row)
}

func (r *linkRepo) ListByContact(ctx context.Context, contactID uuid.UUID) ([]ExternalContactLink, error) {
	defer observeDB(ctx, "links.list_by_contact")()
	rows, err := r.pool.Query(ctx,
		`SELECT `+linkColumns+` FROM external_contact_links WHERE contact_id = $1 ORDER BY created_at`,
		contactID)
	if err != nil {
		return nil, fmt.Errorf("list links by contact: %w", err)
	}
	return scanLinks(rows)
}

func (r *linkRepo) ListByProvider(ctx context.Context, provider Provider) ([]ExternalContactLink, error) {
	defer observeDB(ctx, "links.list_by_provider")()
	rows, err := r.pool.Query(ctx,
		`SELECT `+linkColumns+` FROM external_contact_links WHERE provider = $1 ORDER BY created_at`,
		provider)
	if err != nil {
		return nil, fmt.Errorf("list links by provider: %w", err)
	}
	return scanLinks(rows)
}

func (r *linkRepo) FindFor(ctx context.Context, contactID uuid.UUID, provider Provider, container string) (*ExternalContactLink, error) {
	defer observeDB(ctx, "links.find_for")()
	row := r.pool.QueryRow(ctx,
		`SELECT `+linkColumns+` FROM external_contact_links
         WHERE contact_id = $1 AND provider = $2
           AND COALESCE(external_data ->> '`+ContainerKey+`', '') = $3
         LIMIT 1`,
		contactID, provider, container)
	return scanLink(row)
}

func (r *linkRepo) Create(ctx context.Context, link *ExternalContactLink) error {
	defer observeDB(ctx, "links.create")()
	if link.ID == uuid.Nil {
		link.ID = uuid.New()
	}
	if link.ExternalData == nil {
		link.ExternalData = map[string]any{}
	}
	const q = `INSERT INTO external_contact_links
    (id, contact_id, provider, external_id, external_data, last_synced_at, sync_status, sync_error)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING created_at, updated_at`
	err := r.pool.QueryRow(ctx, q, link.ID, link.ContactID, link.Provider, link.ExternalID,
		link.ExternalData, link.LastSyncedAt, link.SyncStatus, link.SyncError).
		Scan(&link.CreatedAt, &link.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("create link: %w", err)
	}
	return nil
}

func (r *linkRepo) RecordSuccess(ctx context.Context, id uuid.UUID, externalID string, data map[string]any) error {
	defer observeDB(ctx, "links.record_success")()
	if data == nil {
		data = map[string]any{}
	}
	const q = `UPDATE external_contact_links SET
    external_id = $2,
    external_data = $3,
    last_synced_at = now(),
    sync_status = 'SYNCED',
    sync_error = NULL,
    updated_at = now()
WHERE id = $1`
	tag, err := r.pool.Exec(ctx, q, id, externalID, data)
	if err != nil {
		return fmt.Errorf("record link success: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *linkRepo) RecordFailure(ctx context.Context, id uuid.UUID, message string) error {
	defer observeDB(ctx, "links.record_failure")()
	// last_synced_at is deliberately untouched so the next reconciliation
	// re-attempts the same action instead of skipping it.
	const q = `UPDATE external_contact_links SET
    sync_status = 'ERROR',
    sync_error = $2,
    updated_at = now()
WHERE id = $1`
	tag, err := r.pool.Exec(ctx, q, id, message)
	if err != nil {
		return fmt.Errorf("record link failure: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *linkRepo) DeleteByContact(ctx context.Context, contactID uuid.UUID) error {
	defer observeDB(ctx, "links.delete_by_contact")()
	_, err := r.pool.Exec(ctx, `DELETE FROM external_contact_links WHERE contact_id = $1`, contactID)
	if err != nil {
		return fmt.Errorf("delete links by contact: %w", err)
	}
	return nil
}

func (r *linkRepo) DeleteByContainer(ctx context.Context, provider Provider, containerID string) (int64, error) {
	defer observeDB(ctx, "links.delete_by_container")()
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM external_contact_links
         WHERE provider = $1 AND external_data ->> '`+ContainerKey+`' = $2`,
		provider, containerID)
	if err != nil {
		return 0, fmt.Errorf("delete links by container: %w", err)
	}
	return tag.RowsAffected(), nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
