package store

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store aggregates repositories backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool

	Contacts        ContactRepository
	Tags            TagRepository
	Links           LinkRepository
	SyncLogs        SyncLogRepository
	Routes          RouteRepository
	ProviderConfigs ProviderConfigRepository
	Outbox          OutboxRepository
}

// New wires concrete repository implementations with a shared connection pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{
		pool:            pool,
		Contacts:        &contactRepo{pool: pool},
		Tags:            &tagRepo{pool: pool},
		Links:           &linkRepo{pool: pool},
		SyncLogs:        &syncLogRepo{pool: pool},
		Routes:          &routeRepo{pool: pool},
		ProviderConfigs: &providerConfigRepo{pool: pool},
		Outbox:          &outboxRepo{pool: pool},
	}
}

// HealthCheck verifies that the underlying database is reachable.
func (s *Store) HealthCheck(ctx context.Context) error {
	defer observeDB(ctx, "db.healthcheck")()
	return s.pool.Ping(ctx)
}

// TryProviderLock takes the advisory lock guarding one provider's poll pass.
// It returns false when another pass already holds the lock. The returned
// release function must be called when ok is true.
func (s *Store) TryProviderLock(ctx context.Context, provider Provider) (release func(), ok bool, err error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection for provider lock: %w", err)
	}

	key := providerLockKey(provider)
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&ok); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try provider lock: %w", err)
	}
	if !ok {
		conn.Release()
		return nil, false, nil
	}

	release = func() {
		// Unlock on the same session that took the lock.
		_, _ = conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, key)
		conn.Release()
	}
	return release, true, nil
}

func providerLockKey(provider Provider) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte("contactsync.poll." + string(provider)))
	return int64(h.Sum64())
}
