// Package postgres mirrors interview conversations into PostgreSQL.
//
// Usage:
//
//	archive, err := postgres.NewArchive(ctx, dsn)
//	if err != nil { … }
//	defer archive.Close()
//
//	log := conversation.NewLog(id, conversation.WithArchive(archive))
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/parley/internal/conversation"
)

var _ conversation.Archive = (*Archive)(nil)

const ddlConversationEntries = `
CREATE TABLE IF NOT EXISTS conversation_entries (
    id            BIGSERIAL    PRIMARY KEY,
    interview_id  TEXT         NOT NULL,
    seq           INTEGER      NOT NULL,
    speaker       TEXT         NOT NULL,
    text          TEXT         NOT NULL,
    typed         BOOLEAN      NOT NULL DEFAULT false,
    at            TIMESTAMPTZ  NOT NULL DEFAULT now(),
    UNIQUE (interview_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_conversation_entries_interview
    ON conversation_entries (interview_id, seq);
`

// Migrate creates the conversation table. It is idempotent and safe to call
// on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlConversationEntries); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}

// Archive is a [conversation.Archive] backed by a conversation_entries table.
// All methods are safe for concurrent use.
type Archive struct {
	pool *pgxpool.Pool
}

// NewArchive connects to dsn, verifies the connection and runs [Migrate].
func NewArchive(ctx context.Context, dsn string) (*Archive, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres archive: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres archive: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres archive: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres archive: %w", err)
	}
	return &Archive{pool: pool}, nil
}

// Append implements [conversation.Archive]. Re-appending an entry with the
// same sequence number is a no-op.
func (a *Archive) Append(ctx context.Context, interviewID string, e conversation.Entry) error {
	const q = `
		INSERT INTO conversation_entries (interview_id, seq, speaker, text, typed, at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (interview_id, seq) DO NOTHING`

	if _, err := a.pool.Exec(ctx, q, interviewID, e.Seq, string(e.Speaker), e.Text, e.Typed, e.At); err != nil {
		return fmt.Errorf("postgres archive: append: %w", err)
	}
	return nil
}

// Entries returns the archived conversation of interviewID in order.
func (a *Archive) Entries(ctx context.Context, interviewID string) ([]conversation.Entry, error) {
	const q = `
		SELECT seq, speaker, text, typed, at
		FROM   conversation_entries
		WHERE  interview_id = $1
		ORDER  BY seq`

	rows, err := a.pool.Query(ctx, q, interviewID)
	if err != nil {
		return nil, fmt.Errorf("postgres archive: entries: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (conversation.Entry, error) {
		var (
			e       conversation.Entry
			speaker string
		)
		if err := row.Scan(&e.Seq, &speaker, &e.Text, &e.Typed, &e.At); err != nil {
			return conversation.Entry{}, err
		}
		e.Speaker = conversation.Speaker(speaker)
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres archive: scan rows: %w", err)
	}
	if entries == nil {
		entries = []conversation.Entry{}
	}
	return entries, nil
}

// Ping checks that the database is reachable. It backs the readiness probe.
func (a *Archive) Ping(ctx context.Context) error {
	return a.pool.Ping(ctx)
}

// Close releases the connection pool.
func (a *Archive) Close() {
	a.pool.Close()
}
