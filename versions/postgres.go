package versions

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

const versionsSchema = `
CREATE TABLE IF NOT EXISTS versions (
	room        TEXT NOT NULL,
	key         TEXT NOT NULL,
	editors     TEXT[] NOT NULL,
	origin_text TEXT NOT NULL,
	new_text    TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (room, key)
)`

// PostgresStore keeps the snapshots of one room in Postgres.
type PostgresStore struct {
	pool *pgxpool.Pool
	room string
}

// NewPostgresStore creates the versions table if needed. The pool stays
// owned by the caller.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool, room string) (*PostgresStore, error) {
	if _, err := pool.Exec(ctx, versionsSchema); err != nil {
		return nil, errors.Wrap(err, "create versions table")
	}
	return &PostgresStore{pool: pool, room: room}, nil
}

func (s *PostgresStore) Put(ctx context.Context, snap Snapshot) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO versions (room, key, editors, origin_text, new_text, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (room, key) DO NOTHING`,
		s.room, snap.Key, snap.Editors, snap.OriginText, snap.NewText, snap.CreatedAt)
	if err != nil {
		return errors.Wrap(err, "insert snapshot")
	}
	if tag.RowsAffected() == 0 {
		return ErrExists
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) (Snapshot, error) {
	var snap Snapshot
	err := s.pool.QueryRow(ctx,
		`SELECT key, editors, origin_text, new_text, created_at
		 FROM versions WHERE room = $1 AND key = $2`, s.room, key).
		Scan(&snap.Key, &snap.Editors, &snap.OriginText, &snap.NewText, &snap.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return snap, ErrNotFound
	}
	return snap, errors.Wrap(err, "select snapshot")
}

func (s *PostgresStore) List(ctx context.Context) ([]Snapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key, editors, origin_text, new_text, created_at
		 FROM versions WHERE room = $1 ORDER BY key`, s.room)
	if err != nil {
		return nil, errors.Wrap(err, "list snapshots")
	}
	defer rows.Close()
	var out []Snapshot
	for rows.Next() {
		var snap Snapshot
		if err := rows.Scan(&snap.Key, &snap.Editors, &snap.OriginText, &snap.NewText, &snap.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan snapshot")
		}
		out = append(out, snap)
	}
	return out, errors.Wrap(rows.Err(), "list snapshots")
}

// Close is a no-op; the pool belongs to the caller.
func (s *PostgresStore) Close() error { return nil }
