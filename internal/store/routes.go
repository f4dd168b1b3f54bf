package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type routeRepo struct {
	pool *pgxpool.Pool
}

const routeColumns = `id, tag_id, container_id, name, enabled, created_at, updated_at`

func scanRoute(row pgx.Row) (*TagRoute, error) {
	var rt TagRoute
	err := row.Scan(&rt.ID, &rt.TagID, &rt.ContainerID, &rt.Name, &rt.Enabled,
		&rt.CreatedAt, &rt.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan route: %w", err)
	}
	return &rt, nil
}

func (r *routeRepo) GetByID(ctx context.Context, id uuid.UUID) (*TagRoute, error) {
	defer observeDB(ctx, "routes.get_by_id")()
	row := r.pool.QueryRow(ctx, `SELECT `+routeColumns+` FROM tag_routes WHERE id = $1`, id)
	return scanRoute(row)
}

func (r *routeRepo) List(ctx context.Context, onlyEnabled bool) ([]TagRoute, error) {
	defer observeDB(ctx, "routes.list")()
	query := `SELECT ` + routeColumns + ` FROM tag_routes ORDER BY created_at DESC`
	if onlyEnabled {
		query = `SELECT ` + routeColumns + ` FROM tag_routes WHERE enabled ORDER BY created_at DESC`
	}
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list routes: %w", err)
	}
	defer rows.Close()

	var routes []TagRoute
	for rows.Next() {
		var rt TagRoute
		if err := rows.Scan(&rt.ID, &rt.TagID, &rt.ContainerID, &rt.Name, &rt.Enabled,
			&rt.CreatedAt, &rt.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan route: %w", err)
		}
		routes = append(routes, rt)
	}
	return routes, rows.Err()
}

func (r *routeRepo) Create(ctx context.Context, route *TagRoute) error {
	defer observeDB(ctx, "routes.create")()
	if route.ID == uuid.Nil {
		route.ID = uuid.New()
	}
	const q = `INSERT INTO tag_routes (id, tag_id, container_id, name, enabled)
VALUES ($1, $2, $3, $4, $5)
RETURNING created_at, updated_at`
	err := r.pool.QueryRow(ctx, q, route.ID, route.TagID, route.ContainerID, route.Name, route.Enabled).
		Scan(&route.CreatedAt, &route.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("create route: %w", err)
	}
	return nil
}

func (r *routeRepo) Update(ctx context.Context, route *TagRoute) error {
	defer observeDB(ctx, "routes.update")()
	const q = `UPDATE tag_routes SET
    tag_id = $2, container_id = $3, name = $4, enabled = $5, updated_at = now()
WHERE id = $1`
	tag, err := r.pool.Exec(ctx, q, route.ID, route.TagID, route.ContainerID, route.Name, route.Enabled)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("update route: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *routeRepo) SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	defer observeDB(ctx, "routes.set_enabled")()
	tag, err := r.pool.Exec(ctx,
		`UPDATE tag_routes SET enabled = $2, updated_at = now() WHERE id = $1`, id, enabled)
	if err != nil {
		return fmt.Errorf("set route enabled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *routeRepo) Delete(ctx context.Context, id uuid.UUID) error {
	defer observeDB(ctx, "routes.delete")()
	tag, err := r.pool.Exec(ctx, `DELETE FROM tag_routes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete route: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
