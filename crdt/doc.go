// Package crdt implements the replicated plain-text sequence the editor
// synchronises against.
//
// Characters are kept in document order together with tombstones of deleted
// characters. A new character is placed after its origin, skipping any
// characters with a greater ID, so replicas that integrate the same set of
// ops converge on the same order regardless of arrival order.
//
// Changes are grouped into transactions. Every transaction that changed the
// document is reported to observers once, together with the origin value the
// caller passed in. Remote changes should be applied with the Remote origin.
package crdt

import (
	"strings"

	"github.com/pkg/errors"

	"collabtext/delta"
)

// ErrOutOfRange is returned when a position lies outside the document.
var ErrOutOfRange = errors.New("position out of range")

type remoteOrigin struct{}

// Remote is the origin used for changes received from other peers.
var Remote interface{} = remoteOrigin{}

// Update describes the ops a single transaction applied.
type Update struct {
	Ops []Op
}

// Observer receives document updates with the origin of the transaction.
type Observer func(u Update, origin interface{})

// Doc is a replicated text document.
// It is not safe for concurrent use; callers serialise access.
type Doc struct {
	peerID string
	clock  int

	chars []*Char
	byID  map[CharID]*Char

	// remote ops whose dependencies have not arrived yet
	pending []Op

	observers    map[int]Observer
	nextObserver int
}

// NewDoc creates an empty document for the given peer.
func NewDoc(peerID string) *Doc {
	return &Doc{
		peerID:    peerID,
		byID:      make(map[CharID]*Char),
		observers: make(map[int]Observer),
	}
}

// PeerID returns the ID of the local peer.
func (d *Doc) PeerID() string { return d.peerID }

// Len returns the number of visible characters.
func (d *Doc) Len() int {
	n := 0
	for _, c := range d.chars {
		if !c.deleted {
			n++
		}
	}
	return n
}

// String renders the visible text.
func (d *Doc) String() string {
	var b strings.Builder
	for _, c := range d.chars {
		if !c.deleted {
			b.WriteString(c.Value)
		}
	}
	return b.String()
}

// Observe registers fn for document updates and returns a function that
// removes it.
func (d *Doc) Observe(fn Observer) func() {
	id := d.nextObserver
	d.nextObserver++
	d.observers[id] = fn
	return func() { delete(d.observers, id) }
}

type txn struct {
	doc *Doc
	ops []Op
}

// transact runs fn and notifies observers of the ops it produced, even when
// fn fails part way through.
func (d *Doc) transact(origin interface{}, fn func(tx *txn) error) error {
	tx := &txn{doc: d}
	err := fn(tx)
	if len(tx.ops) > 0 {
		u := Update{Ops: tx.ops}
		for _, id := range d.observerIDs() {
			if obs, ok := d.observers[id]; ok {
				obs(u, origin)
			}
		}
	}
	return err
}

// observerIDs returns registration order so observers run deterministically.
func (d *Doc) observerIDs() []int {
	ids := make([]int, 0, len(d.observers))
	for id := 0; id < d.nextObserver; id++ {
		if _, ok := d.observers[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// Insert inserts text at the visible position pos.
func (d *Doc) Insert(pos int, text string, origin interface{}) error {
	return d.transact(origin, func(tx *txn) error {
		return tx.insert(pos, text)
	})
}

// Delete removes n visible characters starting at pos.
func (d *Doc) Delete(pos, n int, origin interface{}) error {
	return d.transact(origin, func(tx *txn) error {
		return tx.delete(pos, n)
	})
}

// ApplyDelta applies a local edit as one transaction.
func (d *Doc) ApplyDelta(dl delta.Delta, origin interface{}) error {
	if base, n := dl.BaseLength(), d.Len(); base > n {
		return errors.Wrapf(ErrOutOfRange, "delta consumes %d of %d characters", base, n)
	}
	return d.transact(origin, func(tx *txn) error {
		pos := 0
		for _, op := range dl {
			switch op.Kind {
			case delta.KindRetain:
				pos += op.Count
			case delta.KindDelete:
				if err := tx.delete(pos, op.Count); err != nil {
					return err
				}
			case delta.KindInsert:
				if err := tx.insert(pos, op.Text); err != nil {
					return err
				}
				pos += op.Len()
			}
		}
		return nil
	})
}

// Apply integrates ops produced by another replica. Ops already seen are
// ignored; ops referring to characters not yet known are held back until
// those characters arrive.
func (d *Doc) Apply(ops []Op, origin interface{}) error {
	return d.transact(origin, func(tx *txn) error {
		queue := append(d.pending, ops...)
		d.pending = nil
		for {
			var held []Op
			progress := false
			for _, op := range queue {
				applied, ready := tx.integrate(op)
				if !ready {
					held = append(held, op)
					continue
				}
				if applied {
					progress = true
				}
			}
			queue = held
			if !progress || len(queue) == 0 {
				break
			}
		}
		d.pending = queue
		return nil
	})
}

// Pending reports how many remote ops wait for missing dependencies.
func (d *Doc) Pending() int { return len(d.pending) }

// State returns ops that rebuild this document, tombstones included, on an
// empty replica.
func (d *Doc) State() []Op {
	ops := make([]Op, 0, len(d.chars))
	var deletes []Op
	for _, c := range d.chars {
		ops = append(ops, Op{Action: ActionInsert, Char: Char{ID: c.ID, Value: c.Value, Origin: c.Origin}})
		if c.deleted {
			deletes = append(deletes, Op{Action: ActionDelete, Char: Char{ID: c.ID}})
		}
	}
	return append(ops, deletes...)
}

// visibleIndex returns the internal index of the pos-th visible character,
// or len(d.chars) when pos equals the visible length.
func (d *Doc) visibleIndex(pos int) (int, bool) {
	seen := 0
	for i, c := range d.chars {
		if c.deleted {
			continue
		}
		if seen == pos {
			return i, true
		}
		seen++
	}
	if seen == pos {
		return len(d.chars), true
	}
	return 0, false
}

func (d *Doc) indexOf(id CharID) int {
	for i, c := range d.chars {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func (d *Doc) nextID() CharID {
	d.clock++
	return CharID{Clock: d.clock, PeerID: d.peerID}
}

// place inserts c after its origin, skipping characters with greater IDs.
func (d *Doc) place(c *Char) {
	i := 0
	if c.Origin != nil {
		i = d.indexOf(*c.Origin) + 1
	}
	for i < len(d.chars) && c.ID.Less(d.chars[i].ID) {
		i++
	}
	d.chars = append(d.chars, nil)
	copy(d.chars[i+1:], d.chars[i:])
	d.chars[i] = c
	d.byID[c.ID] = c
	if c.ID.Clock > d.clock {
		d.clock = c.ID.Clock
	}
}

func (tx *txn) insert(pos int, text string) error {
	d := tx.doc
	if pos < 0 || pos > d.Len() {
		return errors.Wrapf(ErrOutOfRange, "insert at %d of %d", pos, d.Len())
	}
	var origin *CharID
	if pos > 0 {
		i, _ := d.visibleIndex(pos - 1)
		id := d.chars[i].ID
		origin = &id
	}
	for _, r := range text {
		c := &Char{ID: d.nextID(), Value: string(r), Origin: origin}
		d.place(c)
		tx.ops = append(tx.ops, Op{Action: ActionInsert, Char: Char{ID: c.ID, Value: c.Value, Origin: c.Origin}})
		id := c.ID
		origin = &id
	}
	return nil
}

func (tx *txn) delete(pos, n int) error {
	d := tx.doc
	if pos < 0 || n < 0 || pos+n > d.Len() {
		return errors.Wrapf(ErrOutOfRange, "delete %d at %d of %d", n, pos, d.Len())
	}
	for ; n > 0; n-- {
		i, _ := d.visibleIndex(pos)
		c := d.chars[i]
		c.deleted = true
		tx.ops = append(tx.ops, Op{Action: ActionDelete, Char: Char{ID: c.ID}})
	}
	return nil
}

// reinsert places a copy of a deleted character right after its tombstone.
func (tx *txn) reinsert(id CharID) bool {
	d := tx.doc
	old, ok := d.byID[id]
	if !ok || !old.deleted {
		return false
	}
	origin := old.ID
	c := &Char{ID: d.nextID(), Value: old.Value, Origin: &origin}
	d.place(c)
	tx.ops = append(tx.ops, Op{Action: ActionInsert, Char: Char{ID: c.ID, Value: c.Value, Origin: c.Origin}})
	return true
}

// remove tombstones a visible character by ID.
func (tx *txn) remove(id CharID) bool {
	c, ok := tx.doc.byID[id]
	if !ok || c.deleted {
		return false
	}
	c.deleted = true
	tx.ops = append(tx.ops, Op{Action: ActionDelete, Char: Char{ID: c.ID}})
	return true
}

// integrate applies a remote op. ready is false when the op depends on a
// character this replica has not seen.
func (tx *txn) integrate(op Op) (applied, ready bool) {
	d := tx.doc
	switch op.Action {
	case ActionInsert:
		if _, ok := d.byID[op.Char.ID]; ok {
			return false, true
		}
		if op.Char.Origin != nil {
			if _, ok := d.byID[*op.Char.Origin]; !ok {
				return false, false
			}
		}
		c := &Char{ID: op.Char.ID, Value: op.Char.Value, Origin: op.Char.Origin}
		d.place(c)
		tx.ops = append(tx.ops, Op{Action: ActionInsert, Char: Char{ID: c.ID, Value: c.Value, Origin: c.Origin}})
		return true, true
	case ActionDelete:
		c, ok := d.byID[op.Char.ID]
		if !ok {
			return false, false
		}
		if c.deleted {
			return false, true
		}
		c.deleted = true
		tx.ops = append(tx.ops, op)
		return true, true
	}
	// unknown actions are dropped
	return false, true
}

// inDocumentOrder sorts ids by their current position in the sequence.
func (d *Doc) inDocumentOrder(ids []CharID) []CharID {
	want := make(map[CharID]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	out := make([]CharID, 0, len(ids))
	for _, c := range d.chars {
		if want[c.ID] {
			out = append(out, c.ID)
		}
	}
	return out
}
