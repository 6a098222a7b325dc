// Package widget wraps a native text-input widget behind an explicit
// Text/SetText interface.
//
// Native code reports what the user did through Type, Compose, Select and
// Scroll. Those calls update the field's state and dispatch an Event to
// listeners. Programmatic writes go through SetText, which notifies write
// hooks instead of dispatching an input event, so observers can track every
// value the field holds without mistaking a resync for user typing.
package widget

import "unicode/utf8"

// EventKind identifies a native widget event.
type EventKind int

const (
	EventInput EventKind = iota
	EventCompositionStart
	EventCompositionEnd
	EventSelectionChange
	EventScroll
)

func (k EventKind) String() string {
	switch k {
	case EventInput:
		return "input"
	case EventCompositionStart:
		return "compositionstart"
	case EventCompositionEnd:
		return "compositionend"
	case EventSelectionChange:
		return "selectionchange"
	case EventScroll:
		return "scroll"
	}
	return "unknown"
}

// Event is dispatched to listeners after the field's state was updated.
type Event struct {
	Kind EventKind
	// InputType follows the browser input-event naming, e.g. "insertText",
	// "deleteContentBackward" or "historyUndo". Only set for EventInput.
	InputType   string
	IsComposing bool
}

// Listener receives widget events.
type Listener func(Event)

// WriteHook observes every programmatic write to the field's text.
type WriteHook func(old, new string)

// Field is the explicit wrapper around a native text field. Offsets are
// character (rune) offsets.
type Field struct {
	value      string
	selStart   int
	selEnd     int
	scrollTop  int
	scrollLeft int
	composing  bool

	listeners map[int]Listener
	hooks     map[int]WriteHook
	nextID    int
}

// NewField creates a field holding text with the caret at the start.
func NewField(text string) *Field {
	return &Field{
		value:     text,
		listeners: make(map[int]Listener),
		hooks:     make(map[int]WriteHook),
	}
}

// Text returns the current value.
func (f *Field) Text() string { return f.value }

// Len returns the length of the value in characters.
func (f *Field) Len() int { return utf8.RuneCountInString(f.value) }

// SetText overwrites the value programmatically. Write hooks always run,
// even when the value is unchanged. The selection is clamped to the new
// length and a selection change is dispatched if clamping moved it.
func (f *Field) SetText(text string) {
	old := f.value
	f.value = text
	for _, id := range sortedIDs(len(f.hooks), f.nextID, func(id int) bool { _, ok := f.hooks[id]; return ok }) {
		if h, ok := f.hooks[id]; ok {
			h(old, text)
		}
	}
	n := f.Len()
	if f.selStart > n || f.selEnd > n {
		f.selStart, f.selEnd = clamp(f.selStart, 0, n), clamp(f.selEnd, 0, n)
		f.dispatch(Event{Kind: EventSelectionChange})
	}
}

// Selection returns the selection start and end.
func (f *Field) Selection() (start, end int) { return f.selStart, f.selEnd }

// SetSelectionRange moves the selection and dispatches a selection change
// when it differs from the current one.
func (f *Field) SetSelectionRange(start, end int) {
	n := f.Len()
	start, end = clamp(start, 0, n), clamp(end, 0, n)
	if end < start {
		end = start
	}
	if start == f.selStart && end == f.selEnd {
		return
	}
	f.selStart, f.selEnd = start, end
	f.dispatch(Event{Kind: EventSelectionChange})
}

// ScrollOffset returns the scroll position.
func (f *Field) ScrollOffset() (top, left int) { return f.scrollTop, f.scrollLeft }

// Composing reports whether an IME composition is in progress.
func (f *Field) Composing() bool { return f.composing }

// Listen registers l for native events and returns a function removing it.
func (f *Field) Listen(l Listener) func() {
	id := f.nextID
	f.nextID++
	f.listeners[id] = l
	return func() { delete(f.listeners, id) }
}

// OnWrite registers a hook for programmatic writes and returns a function
// removing it.
func (f *Field) OnWrite(h WriteHook) func() {
	id := f.nextID
	f.nextID++
	f.hooks[id] = h
	return func() { delete(f.hooks, id) }
}

// Type records a user edit: the field now holds value with the given
// selection, produced by an input of the given type.
func (f *Field) Type(inputType, value string, selStart, selEnd int) {
	f.setState(value, selStart, selEnd)
	f.dispatch(Event{Kind: EventInput, InputType: inputType, IsComposing: f.composing})
}

// BeginComposition starts an IME composition.
func (f *Field) BeginComposition() {
	f.composing = true
	f.dispatch(Event{Kind: EventCompositionStart})
}

// Compose records an intermediate composition state.
func (f *Field) Compose(value string, selStart, selEnd int) {
	f.Type("insertCompositionText", value, selStart, selEnd)
}

// EndComposition finishes an IME composition.
func (f *Field) EndComposition() {
	f.composing = false
	f.dispatch(Event{Kind: EventCompositionEnd})
}

// Select records a user selection change.
func (f *Field) Select(start, end int) {
	n := f.Len()
	f.selStart, f.selEnd = clamp(start, 0, n), clamp(end, 0, n)
	f.dispatch(Event{Kind: EventSelectionChange})
}

// Scroll records a user scroll.
func (f *Field) Scroll(top, left int) {
	f.scrollTop, f.scrollLeft = top, left
	f.dispatch(Event{Kind: EventScroll})
}

func (f *Field) setState(value string, selStart, selEnd int) {
	f.value = value
	n := f.Len()
	f.selStart, f.selEnd = clamp(selStart, 0, n), clamp(selEnd, 0, n)
}

func (f *Field) dispatch(e Event) {
	for _, id := range sortedIDs(len(f.listeners), f.nextID, func(id int) bool { _, ok := f.listeners[id]; return ok }) {
		// a listener may remove another during dispatch
		if l, ok := f.listeners[id]; ok {
			l(e)
		}
	}
}

func sortedIDs(n, next int, has func(int) bool) []int {
	ids := make([]int, 0, n)
	for id := 0; id < next; id++ {
		if has(id) {
			ids = append(ids, id)
		}
	}
	return ids
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
