package crdt

import (
	"time"

	"github.com/pkg/errors"
)

// Common errors for undo operations.
var (
	ErrNothingToUndo = errors.New("nothing to undo")
	ErrNothingToRedo = errors.New("nothing to redo")
)

// DefaultCaptureTimeout is how close together changes must be to merge into
// one undo step.
const DefaultCaptureTimeout = 500 * time.Millisecond

// stackItem records the characters a group of transactions inserted and
// deleted.
type stackItem struct {
	inserted []CharID
	deleted  []CharID
}

func (s *stackItem) add(u Update) {
	for _, op := range u.Ops {
		switch op.Action {
		case ActionInsert:
			s.inserted = append(s.inserted, op.Char.ID)
		case ActionDelete:
			s.deleted = append(s.deleted, op.Char.ID)
		}
	}
}

// UndoOption configures an UndoManager.
type UndoOption func(*UndoManager)

// WithCaptureTimeout sets the grouping window for consecutive changes.
func WithCaptureTimeout(d time.Duration) UndoOption {
	return func(u *UndoManager) { u.captureTimeout = d }
}

// WithUndoClock overrides the time source used for grouping.
func WithUndoClock(now func() time.Time) UndoOption {
	return func(u *UndoManager) { u.now = now }
}

// WithTrackedOrigins sets which transaction origins are recorded. By default
// only transactions with a nil origin are.
func WithTrackedOrigins(origins ...interface{}) UndoOption {
	return func(u *UndoManager) { u.tracked = origins }
}

// UndoManager records local changes to a Doc and reverts them on request.
// Changes made within the capture timeout of each other form a single step.
type UndoManager struct {
	doc            *Doc
	captureTimeout time.Duration
	now            func() time.Time
	tracked        []interface{}

	undoStack []*stackItem
	redoStack []*stackItem
	undoing   bool
	redoing   bool

	lastChange time.Time
	stop       func()
}

// NewUndoManager binds an undo manager to doc.
func NewUndoManager(doc *Doc, opts ...UndoOption) *UndoManager {
	u := &UndoManager{
		doc:            doc,
		captureTimeout: DefaultCaptureTimeout,
		now:            time.Now,
		tracked:        []interface{}{nil},
	}
	for _, opt := range opts {
		opt(u)
	}
	u.stop = doc.Observe(u.record)
	return u
}

func (u *UndoManager) isTracked(origin interface{}) bool {
	for _, o := range u.tracked {
		if o == origin {
			return true
		}
	}
	return false
}

func (u *UndoManager) record(up Update, origin interface{}) {
	if origin == interface{}(u) {
		item := &stackItem{}
		item.add(up)
		switch {
		case u.undoing:
			u.redoStack = append(u.redoStack, item)
		case u.redoing:
			u.undoStack = append(u.undoStack, item)
		}
		return
	}
	if !u.isTracked(origin) {
		return
	}
	now := u.now()
	if n := len(u.undoStack); n > 0 && !u.lastChange.IsZero() && now.Sub(u.lastChange) < u.captureTimeout {
		u.undoStack[n-1].add(up)
	} else {
		item := &stackItem{}
		item.add(up)
		u.undoStack = append(u.undoStack, item)
	}
	u.lastChange = now
	u.redoStack = nil
}

// StopCapturing makes the next change start a new undo step.
func (u *UndoManager) StopCapturing() {
	u.lastChange = time.Time{}
}

// CanUndo reports whether there is anything to undo.
func (u *UndoManager) CanUndo() bool { return len(u.undoStack) > 0 }

// CanRedo reports whether there is anything to redo.
func (u *UndoManager) CanRedo() bool { return len(u.redoStack) > 0 }

// Undo reverts the most recent step. Steps whose effects were already wiped
// out by other peers are skipped.
func (u *UndoManager) Undo() error {
	if len(u.undoStack) == 0 {
		return ErrNothingToUndo
	}
	u.undoing = true
	defer func() { u.undoing = false }()
	return u.pop(&u.undoStack)
}

// Redo reapplies the most recently undone step.
func (u *UndoManager) Redo() error {
	if len(u.redoStack) == 0 {
		return ErrNothingToRedo
	}
	u.redoing = true
	defer func() { u.redoing = false }()
	return u.pop(&u.redoStack)
}

func (u *UndoManager) pop(stack *[]*stackItem) error {
	defer u.StopCapturing()
	for len(*stack) > 0 {
		item := (*stack)[len(*stack)-1]
		*stack = (*stack)[:len(*stack)-1]
		changed := false
		err := u.doc.transact(u, func(tx *txn) error {
			inserted := make(map[CharID]bool, len(item.inserted))
			for _, id := range item.inserted {
				inserted[id] = true
			}
			for _, id := range u.doc.inDocumentOrder(item.deleted) {
				if !inserted[id] && tx.reinsert(id) {
					changed = true
				}
			}
			for _, id := range item.inserted {
				if tx.remove(id) {
					changed = true
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		if changed {
			return nil
		}
	}
	return nil
}

// Destroy detaches the manager from its document.
func (u *UndoManager) Destroy() {
	if u.stop != nil {
		u.stop()
		u.stop = nil
	}
	u.undoStack = nil
	u.redoStack = nil
}
