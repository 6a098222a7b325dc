// Package versions persists version snapshots of a document for the
// history view.
package versions

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/pkg/errors"
)

// ErrNotFound is returned when a snapshot key does not exist.
var ErrNotFound = errors.New("snapshot not found")

// ErrExists is returned by Put when the key is already taken.
var ErrExists = errors.New("snapshot key exists")

// KeyLayout formats snapshot keys. Keys sort chronologically as strings.
const KeyLayout = "2006-01-02 15:04:05.000"

// maxKeySeq bounds how many snapshots may share one millisecond.
const maxKeySeq = 999

// Key returns the store key for a snapshot taken at t, in UTC.
func Key(t time.Time) string {
	return t.UTC().Format(KeyLayout)
}

// SeqKey returns the n-th alternative to key for snapshots taken in the
// same millisecond. It sorts after key and before the next millisecond.
func SeqKey(key string, n int) string {
	return fmt.Sprintf("%s-%03d", key, n)
}

// Snapshot is an immutable record of the document text at one point in
// time, together with who edited it since the previous snapshot.
type Snapshot struct {
	Key        string    `json:"key"`
	Editors    []string  `json:"editors"`
	OriginText string    `json:"originText"`
	NewText    string    `json:"newText"`
	CreatedAt  time.Time `json:"createdAt"`
}

// NewSnapshot builds a snapshot taken at t. Editors are sorted.
func NewSnapshot(t time.Time, editors []string, originText, newText string) Snapshot {
	eds := append([]string(nil), editors...)
	sort.Strings(eds)
	return Snapshot{
		Key:        Key(t),
		Editors:    eds,
		OriginText: originText,
		NewText:    newText,
		CreatedAt:  t,
	}
}

// Store is a persistent key-value store of snapshots.
type Store interface {
	// Put writes a snapshot under its key. Existing keys are never
	// overwritten; Put returns ErrExists instead.
	Put(ctx context.Context, s Snapshot) error
	Get(ctx context.Context, key string) (Snapshot, error)
	// List returns all snapshots in key order.
	List(ctx context.Context) ([]Snapshot, error)
	Close() error
}
