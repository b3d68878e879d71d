package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ddlSpeakers returns the speaker table DDL with the embedding dimension
// baked into the vector column type. The BIGSERIAL position column records
// insertion order and is preserved across upserts.
func ddlSpeakers(dimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS speaker_profiles (
    position    BIGSERIAL    NOT NULL,
    key         TEXT         PRIMARY KEY,
    id          TEXT         NOT NULL,
    name        TEXT         NOT NULL,
    embedding   vector(%d)   NOT NULL,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_speaker_profiles_position
    ON speaker_profiles (position);
`, dimensions)
}

// Migrate creates the speaker table if missing. It is idempotent and safe
// to run on every start. Changing dimensions after the first migration
// requires dropping the table.
func Migrate(ctx context.Context, pool *pgxpool.Pool, dimensions int) error {
	if dimensions <= 0 {
		return fmt.Errorf("postgres migrate: invalid embedding dimension %d", dimensions)
	}
	if _, err := pool.Exec(ctx, ddlSpeakers(dimensions)); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}
