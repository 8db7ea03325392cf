package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"taskforge/internal/key"
	"taskforge/internal/node"
	"taskforge/internal/step"
)

// Postgres is the persistent Storage backend spec.md §1 anticipates as a
// "drop-in storage backend": same content-addressed contract as Memory,
// durable across process restarts. Selected via
// internal/config.Config{Storage: {InMemory: false, PostgresDSN: ...}}.
//
// Table shape:
//
//	blobs(key bytea primary key, value bytea not null)
type Postgres struct {
	codec NodeCodec
	pool  *pgxpool.Pool
	dsn   string
}

// NewPostgres opens a pool against dsn and ensures the backing table
// exists.
func NewPostgres(ctx context.Context, dsn string, codec NodeCodec) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres storage: %w", err)
	}
	p := &Postgres{codec: codec, pool: pool, dsn: dsn}
	if err := p.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) ensureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS blobs (
			key   bytea PRIMARY KEY,
			value bytea NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("ensuring storage schema: %w", err)
	}
	return nil
}

// Put stores data and returns its content key. Concurrent Puts of the same
// key with equal values are safe: ON CONFLICT DO NOTHING preserves the
// idempotent/commutative contract spec.md §4.1 requires.
func (p *Postgres) Put(data []byte) (key.Key, error) {
	k := key.Of(data)
	ctx := context.Background()
	_, err := p.pool.Exec(ctx,
		`INSERT INTO blobs (key, value) VALUES ($1, $2) ON CONFLICT (key) DO NOTHING`,
		k[:], data)
	if err != nil {
		return key.Zero, fmt.Errorf("storing blob %s: %w", k, err)
	}
	return k, nil
}

// Get retrieves the bytes stored at k.
func (p *Postgres) Get(k key.Key) ([]byte, bool, error) {
	ctx := context.Background()
	var data []byte
	err := p.pool.QueryRow(ctx, `SELECT value FROM blobs WHERE key = $1`, k[:]).Scan(&data)
	if err != nil {
		if isNoRows(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("reading blob %s: %w", k, err)
	}
	return data, true, nil
}

// KeyForRequest implements Storage.
func (p *Postgres) KeyForRequest(s step.Step) (key.Key, error) {
	return keyForRequest(p, p.codec, s)
}

// ResolveRequest implements Storage.
func (p *Postgres) ResolveRequest(k key.Key) (step.Step, error) {
	return resolveRequest(p, p.codec, k)
}

// ResolveResult implements Storage.
func (p *Postgres) ResolveResult(k key.Key) (node.Result, error) {
	return resolveResult(p, k)
}

// Clone returns a Postgres Storage bound to the same DSN and a fresh
// connection pool: workers in multiprocess mode share the backing
// database directly rather than receiving a copied snapshot, since it is
// already durable and concurrent-safe.
func (p *Postgres) Clone() (Storage, error) {
	return NewPostgres(context.Background(), p.dsn, p.codec)
}

// DSN returns the connection string this Postgres was opened with, so a
// caller that only holds a Storage interface value (after a type
// assertion) can hand the same DSN to a separate-process worker — the one
// way a multiprocess worker subprocess can reach the same backing store.
func (p *Postgres) DSN() string { return p.dsn }

// Close releases the connection pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
