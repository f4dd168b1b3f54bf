package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type providerConfigRepo struct {
	pool *pgxpool.Pool
}

func (r *providerConfigRepo) Get(ctx context.Context, provider Provider) (*ProviderConfig, error) {
	defer observeDB(ctx, "provider_configs.get")()
	var cfg ProviderConfig
	err := r.pool.QueryRow(ctx,
		`SELECT provider, enabled, config, credentials, updated_at FROM provider_configs WHERE provider = $1`,
		provider).Scan(&cfg.Provider, &cfg.Enabled, &cfg.Config, &cfg.Credentials, &cfg.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get provider config: %w", err)
	}
	return &cfg, nil
}

func (r *providerConfigRepo) List(ctx context.Context) ([]ProviderConfig, error) {
	defer observeDB(ctx, "provider_configs.list")()
	rows, err := r.pool.Query(ctx,
		`SELECT provider, enabled, config, credentials, updated_at FROM provider_configs ORDER BY provider`)
	if err != nil {
		return nil, fmt.Errorf("list provider configs: %w", err)
	}
	defer rows.Close()

	var configs []ProviderConfig
	for rows.Next() {
		var cfg ProviderConfig
		if err := rows.Scan(&cfg.Provider, &cfg.Enabled, &cfg.Config, &cfg.Credentials, &cfg.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan provider config: %w", err)
		}
		configs = append(configs, cfg)
	}
	return configs, rows.Err()
}

func (r *providerConfigRepo) Upsert(ctx context.Context, cfg *ProviderConfig) error {
	defer observeDB(ctx, "provider_configs.upsert")()
	if cfg.Config == nil {
		cfg.Config = map[string]any{}
	}
	const q = `INSERT INTO provider_configs (provider, enabled, config)
VALUES ($1, $2, $3)
ON CONFLICT (provider) DO UPDATE SET
    enabled = EXCLUDED.enabled,
    config = EXCLUDED.config,
    updated_at = now()
RETURNING updated_at`
	if err := r.pool.QueryRow(ctx, q, cfg.Provider, cfg.Enabled, cfg.Config).Scan(&cfg.UpdatedAt); err != nil {
		return fmt.Errorf("upsert provider config: %w", err)
	}
	return nil
}

func (r *providerConfigRepo) SetCredentials(ctx context.Context, provider Provider, credentials []byte) error {
	defer observeDB(ctx, "provider_configs.set_credentials")()
	const q = `INSERT INTO provider_configs (provider, credentials)
VALUES ($1, $2)
ON CONFLICT (provider) DO UPDATE SET credentials = EXCLUDED.credentials, updated_at = now()`
	if _, err := r.pool.Exec(ctx, q, provider, credentials); err != nil {
		return fmt.Errorf("set provider credentials: %w", err)
	}
	return nil
}

func (r *providerConfigRepo) ClearCredentials(ctx context.Context, provider Provider) error {
	defer observeDB(ctx, "provider_configs.clear_credentials")()
	tag, err := r.pool.Exec(ctx,
		`UPDATE provider_configs SET credentials = NULL, updated_at = now() WHERE provider = $1`, provider)
	if err != nil {
		return fmt.Errorf("clear provider credentials: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
