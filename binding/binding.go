// Package binding translates native text-field events into edit operations.
//
// Bind attaches to a widget.Field and reports every user edit as a
// delta.Delta relative to the text the field held before the edit, or as an
// undo/redo signal. Edits made during an IME composition are held back until
// the composition ends and then reported as one insertion.
package binding

import (
	"fmt"
	"strings"

	"collabtext/delta"
	"collabtext/widget"
)

// History identifies an undo or redo request.
type History int

const (
	NoHistory History = iota
	Undo
	Redo
)

func (h History) String() string {
	switch h {
	case Undo:
		return "undo"
	case Redo:
		return "redo"
	}
	return ""
}

// Change is what the translator emits for one input event: either an edit
// or a history signal.
type Change struct {
	Delta   delta.Delta
	History History
}

// IsHistory reports whether the change is an undo/redo signal.
func (c Change) IsHistory() bool { return c.History != NoHistory }

// UnsupportedInputKindError is the panic value for input events the
// translator cannot classify. It indicates a defect in the native bridge.
type UnsupportedInputKindError struct {
	InputType string
}

func (e *UnsupportedInputKindError) Error() string {
	return fmt.Sprintf("unsupported input type %q", e.InputType)
}

// Options holds the callbacks the translator reports to.
type Options struct {
	OnChange    func(Change)
	OnSelection func(start, end int)
}

type translator struct {
	field       *widget.Field
	opts        Options
	isComposing bool
	start, end  int
	value       string
}

// Bind attaches the translator to field and returns a function that
// detaches every listener it installed.
func Bind(field *widget.Field, opts Options) (detach func()) {
	t := &translator{
		field: field,
		opts:  opts,
		start: -1,
		end:   -1,
		value: field.Text(),
	}
	t.handleSelectionChange()

	removeWrite := field.OnWrite(func(_, newValue string) { t.value = newValue })
	removeListen := field.Listen(t.handle)
	return func() {
		removeWrite()
		removeListen()
	}
}

func (t *translator) handle(e widget.Event) {
	switch e.Kind {
	case widget.EventInput:
		t.handleInput(e.InputType, e.IsComposing)
	case widget.EventCompositionStart:
		t.isComposing = true
	case widget.EventCompositionEnd:
		t.isComposing = false
		t.handleInput("insertText", false)
	case widget.EventSelectionChange:
		t.handleSelectionChange()
	}
}

func (t *translator) handleSelectionChange() {
	if t.isComposing {
		return
	}
	start, end := t.field.Selection()
	if start != t.start || end != t.end {
		t.start, t.end = start, end
		if t.opts.OnSelection != nil {
			t.opts.OnSelection(start, end)
		}
	}
}

func (t *translator) handleInput(inputType string, isComposing bool) {
	if isComposing || t.isComposing {
		return
	}
	oldStart, oldEnd := t.start, t.end
	if oldStart < 0 {
		oldStart, oldEnd = 0, 0
	}
	oldValue := []rune(t.value)
	newValue := []rune(t.field.Text())
	newStart, _ := t.field.Selection()

	var change Change
	switch {
	case strings.HasPrefix(inputType, "history"):
		change.History = Redo
		if strings.HasSuffix(inputType, "Undo") {
			change.History = Undo
		}
	case strings.HasPrefix(inputType, "insert"):
		d := delta.New().Retain(oldStart)
		if oldStart != oldEnd {
			d = d.Delete(oldEnd - oldStart)
		}
		if newStart > oldStart && newStart <= len(newValue) {
			d = d.Insert(string(newValue[oldStart:newStart]))
		}
		change.Delta = d
	case strings.HasPrefix(inputType, "delete"):
		change.Delta = delta.New().Retain(newStart).Delete(len(oldValue) - len(newValue))
	default:
		panic(&UnsupportedInputKindError{InputType: inputType})
	}

	t.value = string(newValue)
	if t.opts.OnChange != nil {
		t.opts.OnChange(change)
	}
	if !change.IsHistory() {
		t.handleSelectionChange()
	}
}
