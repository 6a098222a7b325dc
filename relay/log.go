package relay

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"collabtext/crdt"
)

// Log stores the document ops of each room in arrival order.
type Log interface {
	Append(ctx context.Context, room string, ops []crdt.Op) error
	Replay(ctx context.Context, room string) ([]crdt.Op, error)
}

type opKey struct {
	action crdt.Action
	id     crdt.CharID
}

// unseen returns the ops not already in held. An op is identified by its
// action and character ID, and applying one twice changes nothing, so the
// ops a log holds describe the room's state regardless of duplicates.
func unseen(held, ops []crdt.Op) []crdt.Op {
	seen := make(map[opKey]bool, len(held))
	for _, op := range held {
		seen[opKey{op.Action, op.Char.ID}] = true
	}
	var out []crdt.Op
	for _, op := range ops {
		k := opKey{op.Action, op.Char.ID}
		if !seen[k] {
			seen[k] = true
			out = append(out, op)
		}
	}
	return out
}

// MemoryLog keeps ops in memory. It is lost on restart.
type MemoryLog struct {
	mu    sync.Mutex
	rooms map[string][]crdt.Op
}

// NewMemoryLog creates an empty log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{rooms: make(map[string][]crdt.Op)}
}

func (l *MemoryLog) Append(_ context.Context, room string, ops []crdt.Op) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rooms[room] = append(l.rooms[room], ops...)
	return nil
}

func (l *MemoryLog) Replay(_ context.Context, room string) ([]crdt.Op, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]crdt.Op(nil), l.rooms[room]...), nil
}

const opsSchema = `
CREATE TABLE IF NOT EXISTS room_ops (
	id   BIGSERIAL PRIMARY KEY,
	room TEXT NOT NULL,
	ops  JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS room_ops_room ON room_ops (room, id)`

// PostgresLog keeps ops in Postgres, one row per published batch.
type PostgresLog struct {
	pool *pgxpool.Pool
}

// NewPostgresLog creates the ops table if needed.
func NewPostgresLog(ctx context.Context, pool *pgxpool.Pool) (*PostgresLog, error) {
	if _, err := pool.Exec(ctx, opsSchema); err != nil {
		return nil, errors.Wrap(err, "create room_ops table")
	}
	return &PostgresLog{pool: pool}, nil
}

func (l *PostgresLog) Append(ctx context.Context, room string, ops []crdt.Op) error {
	b, err := json.Marshal(ops)
	if err != nil {
		return errors.Wrap(err, "encode ops")
	}
	_, err = l.pool.Exec(ctx, `INSERT INTO room_ops (room, ops) VALUES ($1, $2)`, room, b)
	return errors.Wrap(err, "insert ops")
}

func (l *PostgresLog) Replay(ctx context.Context, room string) ([]crdt.Op, error) {
	rows, err := l.pool.Query(ctx, `SELECT ops FROM room_ops WHERE room = $1 ORDER BY id`, room)
	if err != nil {
		return nil, errors.Wrap(err, "select ops")
	}
	defer rows.Close()
	var out []crdt.Op
	for rows.Next() {
		var b []byte
		if err := rows.Scan(&b); err != nil {
			return nil, errors.Wrap(err, "scan ops")
		}
		var batch []crdt.Op
		if err := json.Unmarshal(b, &batch); err != nil {
			return nil, errors.Wrap(err, "decode ops")
		}
		out = append(out, batch...)
	}
	return out, errors.Wrap(rows.Err(), "select ops")
}
