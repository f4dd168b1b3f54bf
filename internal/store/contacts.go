package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type contactRepo struct {
	pool *pgxpool.Pool
}

const contactColumns = `id, display_name, first_name, last_name, email, phone, address, job_title, notes, created_at, updated_at`

func scanContact(row pgx.Row) (*Contact, error) {
	var c Contact
	err := row.Scan(&c.ID, &c.DisplayName, &c.FirstName, &c.LastName, &c.Email,
		&c.Phone, &c.Address, &c.JobTitle, &c.Notes, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan contact: %w", err)
	}
	return &c, nil
}

func (r *contactRepo) GetByID(ctx context.Context, id uuid.UUID) (*Contact, error) {
	defer observeDB(ctx, "contacts.get_by_id")()
	row := r.pool.QueryRow(ctx, `SELECT `+contactColumns+` FROM contacts WHERE id = $1`, id)
	return scanContact(row)
}

func (r *contactRepo) Create(ctx context.Context, contact *Contact) error {
	defer observeDB(ctx, "contacts.create")()
	if contact.ID == uuid.Nil {
		contact.ID = uuid.New()
	}
	const q = `INSERT INTO contacts (id, display_name, first_name, last_name, email, phone, address, job_title, notes)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING created_at, updated_at`
	err := r.pool.QueryRow(ctx, q, contact.ID, contact.DisplayName, contact.FirstName,
		contact.LastName, contact.Email, contact.Phone, contact.Address,
		contact.JobTitle, contact.Notes).Scan(&contact.CreatedAt, &contact.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create contact: %w", err)
	}
	return nil
}

func (r *contactRepo) ApplyPatch(ctx context.Context, id uuid.UUID, patch ContactPatch) error {
	defer observeDB(ctx, "contacts.apply_patch")()
	if patch.Empty() {
		return nil
	}
	// COALESCE keeps the stored value for every field the patch omits.
	const q = `UPDATE contacts SET
    display_name = COALESCE($2, display_name),
    first_name = COALESCE($3, first_name),
    last_name = COALESCE($4, last_name),
    email = COALESCE($5, email),
    phone = COALESCE($6, phone),
    address = COALESCE($7, address),
    job_title = COALESCE($8, job_title),
    notes = COALESCE($9, notes),
    updated_at = now()
WHERE id = $1`
	tag, err := r.pool.Exec(ctx, q, id, patch.DisplayName, patch.FirstName,
		patch.LastName, patch.Email, patch.Phone, patch.Address,
		patch.JobTitle, patch.Notes)
	if err != nil {
		return fmt.Errorf("patch contact: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *contactRepo) Delete(ctx context.Context, id uuid.UUID) error {
	defer observeDB(ctx, "contacts.delete")()
	tag, err := r.pool.Exec(ctx, `DELETE FROM contacts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete contact: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *contactRepo) ListIDsByTag(ctx context.Context, tagID *uuid.UUID) ([]uuid.UUID, error) {
	defer observeDB(ctx, "contacts.list_ids_by_tag")()
	var (
		rows pgx.Rows
		err  error
	)
	if tagID == nil {
		rows, err = r.pool.Query(ctx, `SELECT id FROM contacts ORDER BY created_at`)
	} else {
		rows, err = r.pool.Query(ctx,
			`SELECT c.id FROM contacts c
             JOIN contact_tags ct ON ct.contact_id = c.id
             WHERE ct.tag_id = $1
             ORDER BY c.created_at`, *tagID)
	}
	if err != nil {
		return nil, fmt.Errorf("list contact ids: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan contact id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type tagRepo struct {
	pool *pgxpool.Pool
}

func (r *tagRepo) GetByID(ctx context.Context, id uuid.UUID) (*Tag, error) {
	defer observeDB(ctx, "tags.get_by_id")()
	var t Tag
	err := r.pool.QueryRow(ctx, `SELECT id, name, created_at FROM tags WHERE id = $1`, id).
		Scan(&t.ID, &t.Name, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tag: %w", err)
	}
	return &t, nil
}

func (r *tagRepo) ListByContact(ctx context.Context, contactID uuid.UUID) ([]Tag, error) {
	defer observeDB(ctx, "tags.list_by_contact")()
	rows, err := r.pool.Query(ctx,
		`SELECT t.id, t.name, t.created_at FROM tags t
         JOIN contact_tags ct ON ct.tag_id = t.id
         WHERE ct.contact_id = $1
         ORDER BY t.name`, contactID)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()

	var tags []Tag
	for rows.Next() {
		var t Tag
		if err := rows.Scan(&t.ID, &t.Name, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// Attach is idempotent: attaching an already-present tag is a no-op.
func (r *tagRepo) Attach(ctx context.Context, contactID, tagID uuid.UUID) error {
	defer observeDB(ctx, "tags.attach")()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO contact_tags (contact_id, tag_id) VALUES ($1, $2)
         ON CONFLICT (contact_id, tag_id) DO NOTHING`, contactID, tagID)
	if err != nil {
		return fmt.Errorf("attach tag: %w", err)
	}
	return nil
}
