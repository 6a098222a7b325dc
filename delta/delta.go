// Package delta describes edits to plain text as an ordered list of
// retain, delete and insert steps. Lengths count characters (runes).
package delta

import (
	"unicode/utf8"

	"github.com/pkg/errors"
)

// ErrLengthMismatch is returned when a delta consumes more text than exists.
var ErrLengthMismatch = errors.New("delta consumes past end of text")

// Kind identifies the type of a step.
type Kind string

const (
	KindRetain Kind = "retain"
	KindInsert Kind = "insert"
	KindDelete Kind = "delete"
)

// Op is a single step of a Delta.
type Op struct {
	Kind  Kind   `json:"kind"`
	Count int    `json:"count,omitempty"` // retain/delete length
	Text  string `json:"text,omitempty"`  // insert text
}

// Len returns the number of characters the step covers.
func (o Op) Len() int {
	if o.Kind == KindInsert {
		return utf8.RuneCountInString(o.Text)
	}
	return o.Count
}

// Delta is an ordered sequence of steps.
type Delta []Op

// New returns an empty delta.
func New() Delta { return Delta{} }

// Retain appends a retain step. Non-positive counts are dropped and adjacent
// retains are merged.
func (d Delta) Retain(n int) Delta {
	if n <= 0 {
		return d
	}
	if last := len(d) - 1; last >= 0 && d[last].Kind == KindRetain {
		d[last].Count += n
		return d
	}
	return append(d, Op{Kind: KindRetain, Count: n})
}

// Delete appends a delete step.
func (d Delta) Delete(n int) Delta {
	if n <= 0 {
		return d
	}
	if last := len(d) - 1; last >= 0 && d[last].Kind == KindDelete {
		d[last].Count += n
		return d
	}
	return append(d, Op{Kind: KindDelete, Count: n})
}

// Insert appends an insert step.
func (d Delta) Insert(s string) Delta {
	if s == "" {
		return d
	}
	if last := len(d) - 1; last >= 0 && d[last].Kind == KindInsert {
		d[last].Text += s
		return d
	}
	return append(d, Op{Kind: KindInsert, Text: s})
}

// BaseLength is the number of characters of the pre-edit text the delta
// consumes through retain and delete steps.
func (d Delta) BaseLength() int {
	n := 0
	for _, op := range d {
		if op.Kind != KindInsert {
			n += op.Count
		}
	}
	return n
}

// Inserted returns the total number of inserted characters.
func (d Delta) Inserted() int {
	n := 0
	for _, op := range d {
		if op.Kind == KindInsert {
			n += op.Len()
		}
	}
	return n
}

// Deleted returns the total number of deleted characters.
func (d Delta) Deleted() int {
	n := 0
	for _, op := range d {
		if op.Kind == KindDelete {
			n += op.Count
		}
	}
	return n
}

// IsNoop reports whether applying d changes nothing.
func (d Delta) IsNoop() bool {
	for _, op := range d {
		if op.Kind != KindRetain {
			return false
		}
	}
	return true
}

// Apply applies d to text. Characters past the delta's base length are kept.
func (d Delta) Apply(text string) (string, error) {
	src := []rune(text)
	out := make([]rune, 0, len(src)+d.Inserted())
	pos := 0
	for _, op := range d {
		switch op.Kind {
		case KindRetain:
			if pos+op.Count > len(src) {
				return "", errors.Wrapf(ErrLengthMismatch, "retain %d at %d of %d", op.Count, pos, len(src))
			}
			out = append(out, src[pos:pos+op.Count]...)
			pos += op.Count
		case KindDelete:
			if pos+op.Count > len(src) {
				return "", errors.Wrapf(ErrLengthMismatch, "delete %d at %d of %d", op.Count, pos, len(src))
			}
			pos += op.Count
		case KindInsert:
			out = append(out, []rune(op.Text)...)
		default:
			return "", errors.Errorf("unknown delta step %q", op.Kind)
		}
	}
	out = append(out, src[pos:]...)
	return string(out), nil
}
