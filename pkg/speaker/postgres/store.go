// Package postgres persists speaker profiles in PostgreSQL using the
// pgvector extension for the embedding column.
//
// Usage:
//
//	b, err := postgres.New(ctx, dsn, 192)
//	if err != nil { … }
//	reg, err := speaker.Open(ctx, b)
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/gamevox/pkg/speaker"
)

var _ speaker.Backend = (*Backend)(nil)

// Backend stores profiles in the speaker_profiles table.
// All operations are safe for concurrent use.
type Backend struct {
	pool *pgxpool.Pool
}

// New connects to dsn, registers pgvector types on every pooled
// connection and runs [Migrate].
func New(ctx context.Context, dsn string, dimensions int) (*Backend, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres speakers: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres speakers: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres speakers: ping: %w", err)
	}
	if err := Migrate(ctx, pool, dimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres speakers: %w", err)
	}
	return &Backend{pool: pool}, nil
}

// Load returns all profiles ordered by insertion position.
func (b *Backend) Load(ctx context.Context) ([]speaker.Profile, error) {
	const q = `
		SELECT id, name, embedding, created_at
		FROM   speaker_profiles
		ORDER  BY position`

	rows, err := b.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("postgres speakers: load: %w", err)
	}
	profiles, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (speaker.Profile, error) {
		var (
			p   speaker.Profile
			vec pgvector.Vector
		)
		if err := row.Scan(&p.ID, &p.Name, &vec, &p.CreatedAt); err != nil {
			return speaker.Profile{}, err
		}
		p.Embedding = vec.Slice()
		return p, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres speakers: scan rows: %w", err)
	}
	return profiles, nil
}

// Save upserts p keyed by its normalized name. position is left untouched
// on conflict so updates keep their order.
func (b *Backend) Save(ctx context.Context, p speaker.Profile) error {
	const q = `
		INSERT INTO speaker_profiles (key, id, name, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (key) DO UPDATE SET
		    name      = EXCLUDED.name,
		    embedding = EXCLUDED.embedding`

	created := p.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := b.pool.Exec(ctx, q,
		speaker.Key(p.Name),
		p.ID,
		p.Name,
		pgvector.NewVector(p.Embedding),
		created,
	)
	if err != nil {
		return fmt.Errorf("postgres speakers: save %q: %w", p.Name, err)
	}
	return nil
}

// Delete removes the row for key.
func (b *Backend) Delete(ctx context.Context, key string) error {
	if _, err := b.pool.Exec(ctx, `DELETE FROM speaker_profiles WHERE key = $1`, key); err != nil {
		return fmt.Errorf("postgres speakers: delete %q: %w", key, err)
	}
	return nil
}

// Nearest returns up to k stored names ordered by cosine distance to
// embedding, computed in the database. Used by admin tooling to inspect
// how separable enrolled voices are.
func (b *Backend) Nearest(ctx context.Context, embedding []float32, k int) ([]Neighbor, error) {
	const q = `
		SELECT name, 1 - (embedding <=> $1) AS similarity
		FROM   speaker_profiles
		ORDER  BY embedding <=> $1
		LIMIT  $2`

	rows, err := b.pool.Query(ctx, q, pgvector.NewVector(embedding), k)
	if err != nil {
		return nil, fmt.Errorf("postgres speakers: nearest: %w", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByPos[Neighbor])
	if err != nil {
		return nil, fmt.Errorf("postgres speakers: scan rows: %w", err)
	}
	return out, nil
}

// Neighbor is one result of [Backend.Nearest].
type Neighbor struct {
	Name       string
	Similarity float64
}

// Ping checks connectivity.
func (b *Backend) Ping(ctx context.Context) error {
	return b.pool.Ping(ctx)
}

// Close releases all pooled connections.
func (b *Backend) Close() error {
	b.pool.Close()
	return nil
}
