// Package pgstore persists records and schedule state in PostgreSQL.
//
// Records of every entity type share one table keyed by (entity_type,
// record_key) with the fields held in a JSONB document. Schedule configs and
// job history are stored as JSONB payloads in schedule_state.
package pgstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolConfig holds the connection settings for Connect.
type PoolConfig struct {
	URL             string
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Connect opens a pool and verifies it with a ping.
func Connect(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}
	poolConfig.MinConns = int32(cfg.MinConns)
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// DatabaseName returns the database named in a connection URL, for logging.
func DatabaseName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Path, "/")
}

// Store implements core.BulkWriter, core.Fetcher and schedule.Store.
type Store struct {
	pool *pgxpool.Pool
}

// New returns a Store over pool. Call Migrate before first use.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS records (
		entity_type TEXT NOT NULL,
		record_key  TEXT NOT NULL,
		data        JSONB NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (entity_type, record_key)
	)`,
	`CREATE INDEX IF NOT EXISTS records_data_idx ON records USING GIN (data jsonb_path_ops)`,
	`CREATE OR REPLACE FUNCTION record_instant(v TEXT) RETURNS TIMESTAMPTZ
	LANGUAGE plpgsql STABLE AS $$
	BEGIN
		RETURN v::timestamptz;
	EXCEPTION WHEN others THEN
		RETURN NULL;
	END
	$$`,
	`CREATE TABLE IF NOT EXISTS schedule_state (
		kind       TEXT NOT NULL,
		id         TEXT NOT NULL,
		position   INTEGER NOT NULL,
		payload    JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (kind, id)
	)`,
}

// Migrate creates the tables the store needs. It is safe to run on every
// start.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
