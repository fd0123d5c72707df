// Package pg implements the remote backend's row store and realtime feed on
// Postgres.
package pg

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/queuecx/dashboard/internal/remote"
)

//go:embed schema.sql
var schema string

type Client struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

type Option func(*Client)

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New connects a pool of at most poolSize connections to dsn.
func New(ctx context.Context, dsn string, poolSize int, opts ...Option) (*Client, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if poolSize > 0 {
		cfg.MaxConns = int32(poolSize)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	c := &Client{pool: pool, log: zerolog.Nop()}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func (c *Client) Close() { c.pool.Close() }

// Migrate applies the embedded schema. It is idempotent.
func (c *Client) Migrate(ctx context.Context) error {
	if _, err := c.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Ping reads a single profile id, exercising the same path as real queries.
func (c *Client) Ping(ctx context.Context) error {
	var id string
	err := c.pool.QueryRow(ctx, `SELECT id::text FROM profiles LIMIT 1`).Scan(&id)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

func collectOne[T any](rows pgx.Rows, err error) (*T, error) {
	if err != nil {
		return nil, err
	}
	v, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[T])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, remote.ErrNotFound
	}
	return v, err
}

func collectAll[T any](rows pgx.Rows, err error) ([]T, error) {
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[T])
}
