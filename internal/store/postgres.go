package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"bizsim/internal/game"
)

const schema = `
CREATE SCHEMA IF NOT EXISTS bizsim;

CREATE TABLE IF NOT EXISTS bizsim.sessions (
	game_id    TEXT PRIMARY KEY,
	quarter    INTEGER NOT NULL,
	record     JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS sessions_updated_at_idx ON bizsim.sessions (updated_at DESC);
`

// PostgresStore keeps one JSONB document per session. WithLock holds a
// transaction-scoped advisory lock keyed by the game id, so every process
// sharing the database serializes on the same session.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the schema if it is missing. It is safe to run repeatedly.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate sessions schema: %w", err)
	}
	return nil
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *PostgresStore) Get(ctx context.Context, gameID string) (*game.Session, error) {
	return readSession(ctx, s.pool, gameID, false)
}

func (s *PostgresStore) Put(ctx context.Context, sess *game.Session) error {
	return writeSession(ctx, s.pool, sess)
}

func (s *PostgresStore) List(ctx context.Context) ([]game.Session, error) {
	rows, err := s.pool.Query(ctx, `SELECT record::TEXT FROM bizsim.sessions ORDER BY game_id`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []game.Session
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		var sess game.Session
		if err := json.Unmarshal([]byte(raw), &sess); err != nil {
			return nil, fmt.Errorf("decode session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *PostgresStore) WithLock(ctx context.Context, gameID string, fn func(*game.Session) (*game.Session, error)) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin session tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, gameID); err != nil {
		return fmt.Errorf("lock session %s: %w", gameID, err)
	}

	current, err := readSession(ctx, tx, gameID, true)
	if err != nil && !errors.Is(err, game.ErrSessionNotFound) {
		return err
	}
	next, err := fn(current)
	if err != nil || next == nil {
		return err
	}
	if err := writeSession(ctx, tx, next); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func readSession(ctx context.Context, q querier, gameID string, forUpdate bool) (*game.Session, error) {
	query := `SELECT record::TEXT FROM bizsim.sessions WHERE game_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var raw string
	err := q.QueryRow(ctx, query, gameID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, game.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", gameID, err)
	}
	var sess game.Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", gameID, err)
	}
	return &sess, nil
}

func writeSession(ctx context.Context, q querier, sess *game.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sess.GameID, err)
	}
	_, err = q.Exec(ctx, `
		INSERT INTO bizsim.sessions (game_id, quarter, record, created_at, updated_at)
		VALUES ($1, $2, $3::jsonb, $4, $5)
		ON CONFLICT (game_id) DO UPDATE
		SET quarter = EXCLUDED.quarter,
		    record = EXCLUDED.record,
		    updated_at = EXCLUDED.updated_at
	`, sess.GameID, sess.Quarter, string(data), sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return fmt.Errorf("put session %s: %w", sess.GameID, err)
	}
	return nil
}
