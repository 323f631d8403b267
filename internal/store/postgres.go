package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

const (
	sqlCreateStateTable = `
        CREATE TABLE IF NOT EXISTS flow_state (
            key        TEXT PRIMARY KEY,
            value      JSONB NOT NULL,
            updated_at TIMESTAMPTZ NOT NULL
        );
    `
	sqlSelectState = `SELECT value FROM flow_state WHERE key = $1;`
	sqlUpsertState = `
        INSERT INTO flow_state (key, value, updated_at)
        VALUES ($1, $2, $3)
        ON CONFLICT (key) DO UPDATE SET
            value = EXCLUDED.value,
            updated_at = EXCLUDED.updated_at;
    `
)

// PostgresBackend stores records as rows of the flow_state table.
type PostgresBackend struct {
	pool DBPool
}

// NewPostgresBackend verifies the connection and creates the table.
func NewPostgresBackend(ctx context.Context, pool DBPool) (*PostgresBackend, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, sqlCreateStateTable); err != nil {
		return nil, fmt.Errorf("failed to create flow_state table: %w", err)
	}
	return &PostgresBackend{pool: pool}, nil
}

func (p *PostgresBackend) Get(ctx context.Context, key Key) ([]byte, bool, error) {
	var value []byte
	err := p.pool.QueryRow(ctx, sqlSelectState, string(key)).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (p *PostgresBackend) Put(ctx context.Context, key Key, value []byte) error {
	_, err := p.pool.Exec(ctx, sqlUpsertState, string(key), value, time.Now().UTC())
	return err
}

func (p *PostgresBackend) Close() error {
	p.pool.Close()
	return nil
}
