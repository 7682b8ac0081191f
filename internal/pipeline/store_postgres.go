package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists the pipeline state in a Postgres row keyed by
// StateKey and an owner id, so one database can serve several wallets.
type PostgresStore struct {
	pool  *pgxpool.Pool
	owner string
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS cashout_pipeline_state (
    owner      TEXT NOT NULL,
    key        TEXT NOT NULL,
    state      JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (owner, key)
);
`

// ConnectPostgres opens a pool for dsn with conservative sizing; the
// pipeline writes one row at a time.
func ConnectPostgres(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	cfg.MaxConns = 4
	cfg.MinConns = 1
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// NewPostgresStore creates a store for owner (usually the wallet address).
func NewPostgresStore(pool *pgxpool.Pool, owner string) *PostgresStore {
	return &PostgresStore{pool: pool, owner: owner}
}

// Migrate creates the state table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("apply postgres schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context) (*PipelineState, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT state FROM cashout_pipeline_state WHERE owner = $1 AND key = $2`,
		s.owner, StateKey,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load pipeline state: %w", err)
	}
	return Unmarshal(data)
}

func (s *PostgresStore) Save(ctx context.Context, ps *PipelineState) error {
	data, err := Marshal(ps)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO cashout_pipeline_state (owner, key, state, updated_at)
VALUES ($1, $2, $3::jsonb, now())
ON CONFLICT (owner, key) DO UPDATE SET state = EXCLUDED.state, updated_at = now()
`, s.owner, StateKey, string(data))
	if err != nil {
		return fmt.Errorf("save pipeline state: %w", err)
	}
	return nil
}

func (s *PostgresStore) Remove(ctx context.Context) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM cashout_pipeline_state WHERE owner = $1 AND key = $2`,
		s.owner, StateKey,
	)
	if err != nil {
		return fmt.Errorf("remove pipeline state: %w", err)
	}
	return nil
}
