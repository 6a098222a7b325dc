// Package session keeps a text field and a shared document consistent.
//
// An Editor receives the edits the binding translates from the field and
// applies them to the document; it reflects every other document change back
// into the field and restores the local cursor from its relative position.
// Edits, local or remote, restart a debounce timer. When it fires and someone
// edited since the last snapshot, the editor writes a version snapshot and
// tells its version observers.
//
// All Editor methods must run on the session's event loop (see Loop).
// Persistence happens on background goroutines and reports back through
// Config.Dispatch. Without a Dispatch, timer and persistence callbacks are
// queued and run on the caller's goroutine when it next enters the editor
// or calls RunPending.
package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"collabtext/awareness"
	"collabtext/binding"
	"collabtext/crdt"
	"collabtext/delta"
	"collabtext/diff"
	"collabtext/observability"
	"collabtext/sanitize"
	"collabtext/versions"
	"collabtext/widget"
)

// ErrNotViewing is returned by RestoreViewed when no snapshot is selected.
var ErrNotViewing = errors.New("no version selected")

// Default intervals.
const (
	DefaultDebounceInterval = time.Second
	DefaultCaptureTimeout   = 200 * time.Millisecond
)

// Config tunes an Editor. Zero values select defaults.
type Config struct {
	DebounceInterval time.Duration
	CaptureTimeout   time.Duration
	Retry            versions.RetryPolicy
	Clock            Clock
	// Dispatch runs a function on the editor's event loop. It is called
	// from timer and persistence goroutines. When nil the editor queues
	// the function for RunPending.
	Dispatch func(func())
	Logger   observability.Logger
	Metrics  *observability.Metrics
}

func (c Config) withDefaults() Config {
	if c.DebounceInterval <= 0 {
		c.DebounceInterval = DefaultDebounceInterval
	}
	if c.CaptureTimeout <= 0 {
		c.CaptureTimeout = DefaultCaptureTimeout
	}
	if c.Retry == (versions.RetryPolicy{}) {
		c.Retry = versions.DefaultRetryPolicy
	}
	if c.Clock == nil {
		c.Clock = RealClock
	}
	if c.Logger == nil {
		c.Logger = observability.NopLogger{}
	}
	if c.Metrics == nil {
		c.Metrics = observability.NewMetrics("collabtext", nil)
	}
	return c
}

// Preview is a stored snapshot selected for viewing.
type Preview struct {
	Snapshot versions.Snapshot
	// Markup is the sanitised diff from the snapshot's origin text to its
	// new text.
	Markup string
	// LiveMarkup is the sanitised diff from the snapshot's text to the
	// current document.
	LiveMarkup string
}

// Editor is the reconciliation engine for one document session.
type Editor struct {
	cfg   Config
	log   observability.Logger
	doc   *crdt.Doc
	undo  *crdt.UndoManager
	aw    *awareness.Awareness
	store versions.Store
	field *widget.Field

	debounce *Debouncer
	editors  map[string]bool
	baseline string
	viewing  *Preview

	observers    map[int]func(key string)
	nextObserver int

	// callbacks waiting for RunPending when no Dispatch is configured
	queueMu sync.Mutex
	queue   []func()
	running bool

	detach []func()
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

// New wires an editor between field and doc. If doc or aw is nil the
// editor stays inert and every entry point is a no-op.
func New(doc *crdt.Doc, aw *awareness.Awareness, store versions.Store, field *widget.Field, cfg Config) *Editor {
	cfg = cfg.withDefaults()
	e := &Editor{
		cfg:       cfg,
		log:       cfg.Logger.WithPrefix("session"),
		doc:       doc,
		aw:        aw,
		store:     store,
		field:     field,
		editors:   make(map[string]bool),
		observers: make(map[int]func(string)),
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	if e.cfg.Dispatch == nil {
		e.cfg.Dispatch = e.enqueue
	}
	e.debounce = NewDebouncer(cfg.Clock, cfg.DebounceInterval, e.cfg.Dispatch, e.snapshot)
	if !e.ready() {
		return e
	}

	e.baseline = doc.String()
	e.undo = crdt.NewUndoManager(doc,
		crdt.WithCaptureTimeout(cfg.CaptureTimeout),
		crdt.WithUndoClock(cfg.Clock.Now))
	e.detach = append(e.detach,
		binding.Bind(field, binding.Options{
			OnChange:    e.handleChange,
			OnSelection: func(int, int) {
				e.RunPending()
				e.captureCursor()
			},
		}),
		doc.Observe(e.handleDocUpdate),
		aw.Observe(e.handleAwareness),
	)
	e.handleDocUpdate(crdt.Update{}, e.undo)
	return e
}

func (e *Editor) enqueue(fn func()) {
	e.queueMu.Lock()
	e.queue = append(e.queue, fn)
	e.queueMu.Unlock()
}

// RunPending runs queued timer and persistence callbacks. It only has work
// when the editor was created without a Dispatch, and must be called from
// the goroutine driving the editor.
func (e *Editor) RunPending() {
	if e.running {
		return
	}
	e.running = true
	defer func() { e.running = false }()
	for {
		e.queueMu.Lock()
		batch := e.queue
		e.queue = nil
		e.queueMu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, fn := range batch {
			fn()
		}
	}
}

func (e *Editor) ready() bool {
	return !e.closed && e.doc != nil && e.aw != nil && e.field != nil
}

// Doc returns the shared document.
func (e *Editor) Doc() *crdt.Doc { return e.doc }

// Awareness returns the presence channel.
func (e *Editor) Awareness() *awareness.Awareness { return e.aw }

// Field returns the text field.
func (e *Editor) Field() *widget.Field { return e.field }

// Text returns the canonical document text.
func (e *Editor) Text() string {
	if e.doc == nil {
		return ""
	}
	return e.doc.String()
}

func (e *Editor) handleChange(ch binding.Change) {
	e.RunPending()
	if !e.ready() {
		return
	}
	var err error
	switch ch.History {
	case binding.Undo, binding.Redo:
		e.cfg.Metrics.HistorySignals.WithLabelValues(ch.History.String()).Inc()
		if ch.History == binding.Undo {
			err = e.undo.Undo()
		} else {
			err = e.undo.Redo()
		}
	default:
		e.cfg.Metrics.LocalOps.Inc()
		err = e.doc.ApplyDelta(ch.Delta, nil)
	}
	e.field.SetText(e.doc.String())

	switch {
	case err == nil:
		e.debounce.Restart()
		e.aw.SetEdited(true)
	case err == crdt.ErrNothingToUndo || err == crdt.ErrNothingToRedo:
	default:
		// the field was resynced above; the document stays canonical
		e.log.Warn("dropping edit", map[string]interface{}{"error": err})
	}
	e.captureCursor()
}

func (e *Editor) handleDocUpdate(_ crdt.Update, origin interface{}) {
	e.RunPending()
	if !e.ready() {
		return
	}
	canonical := e.doc.String()
	if (origin != interface{}(e.undo) && origin != nil) || e.field.Text() != canonical {
		if origin == crdt.Remote {
			e.cfg.Metrics.RemoteUpdates.Inc()
		}
		// read before SetText: clamping the selection recaptures the cursor
		cursor := e.aw.LocalState().Cursor
		e.debounce.Restart()
		e.field.SetText(canonical)
		e.restoreCursor(cursor)
		e.captureCursor()
	}
}

func (e *Editor) handleAwareness(c awareness.Change) {
	if !e.ready() {
		return
	}
	states := e.aw.States()
	for _, ids := range [][]string{c.Added, c.Updated} {
		for _, id := range ids {
			if s, ok := states[id]; ok && s.User.Edited && s.User.Name != "" {
				e.editors[s.User.Name] = true
			}
		}
	}
}

// restoreCursor moves the field selection to where c now resolves. If
// either end no longer resolves the selection is collapsed at its clamped
// start.
func (e *Editor) restoreCursor(c *awareness.Cursor) {
	if c == nil {
		return
	}
	anchor := e.doc.AbsolutePosition(c.Anchor)
	focus := e.doc.AbsolutePosition(c.Focus)
	if anchor == crdt.Unresolved || focus == crdt.Unresolved {
		start, _ := e.field.Selection()
		e.field.SetSelectionRange(start, start)
		return
	}
	if focus < anchor {
		anchor, focus = focus, anchor
	}
	e.field.SetSelectionRange(anchor, focus)
}

// captureCursor stores the field selection as a relative cursor in the
// local presence state.
func (e *Editor) captureCursor() {
	if !e.ready() {
		return
	}
	start, end := e.field.Selection()
	e.aw.SetCursor(&awareness.Cursor{
		Anchor: e.doc.RelativePosition(start),
		Focus:  e.doc.RelativePosition(end),
	})
}

// SnapshotPending reports whether the debounce timer is armed.
func (e *Editor) SnapshotPending() bool { return e.debounce.Pending() }

// Flush writes a snapshot now if anything was edited since the last one.
func (e *Editor) Flush() {
	e.RunPending()
	e.debounce.Cancel()
	e.snapshot()
}

func (e *Editor) snapshot() {
	if !e.ready() || len(e.editors) == 0 {
		return
	}
	names := make([]string, 0, len(e.editors))
	for name := range e.editors {
		names = append(names, name)
	}
	sort.Strings(names)
	snap := versions.NewSnapshot(e.cfg.Clock.Now(), names, e.baseline, e.doc.String())

	e.editors = make(map[string]bool)
	e.aw.SetEdited(false)
	e.baseline = snap.NewText
	e.persist(snap)
}

func (e *Editor) persist(snap versions.Snapshot) {
	if e.store == nil {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		stored, err := versions.PutWithRetry(e.ctx, e.store, snap, e.cfg.Retry, func(err error, next time.Duration) {
			e.log.Warn("snapshot write failed, retrying", map[string]interface{}{
				"key":   snap.Key,
				"error": err,
				"next":  next,
			})
		})
		e.cfg.Dispatch(func() { e.persisted(stored, err) })
	}()
}

func (e *Editor) persisted(snap versions.Snapshot, err error) {
	if err != nil {
		e.cfg.Metrics.SnapshotFailures.Inc()
		e.log.Warn("snapshot dropped", map[string]interface{}{"key": snap.Key, "error": err})
		return
	}
	e.cfg.Metrics.SnapshotsWritten.Inc()
	e.log.Debug("snapshot written", map[string]interface{}{"key": snap.Key, "editors": snap.Editors})
	if e.closed {
		return
	}
	for id := 0; id < e.nextObserver; id++ {
		if fn, ok := e.observers[id]; ok {
			fn(snap.Key)
		}
	}
}

// WaitPersisted blocks until in-flight snapshot writes have finished or
// given up, or ctx is done. Queued callbacks run before and after waiting.
func (e *Editor) WaitPersisted(ctx context.Context) error {
	e.RunPending()
	defer e.RunPending()
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnVersionsChanged registers fn to run after each snapshot write and
// returns a function that removes it.
func (e *Editor) OnVersionsChanged(fn func(key string)) func() {
	id := e.nextObserver
	e.nextObserver++
	e.observers[id] = fn
	return func() { delete(e.observers, id) }
}

// Versions lists stored snapshots that have at least one editor, oldest
// first.
func (e *Editor) Versions(ctx context.Context) ([]versions.Snapshot, error) {
	e.RunPending()
	if e.store == nil {
		return nil, nil
	}
	all, err := e.store.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list versions")
	}
	out := all[:0]
	for _, s := range all {
		if len(s.Editors) > 0 {
			out = append(out, s)
		}
	}
	return out, nil
}

// View selects a stored snapshot for display and returns its preview.
func (e *Editor) View(ctx context.Context, key string) (Preview, error) {
	if e.store == nil {
		return Preview{}, versions.ErrNotFound
	}
	snap, err := e.store.Get(ctx, key)
	if err != nil {
		return Preview{}, errors.Wrapf(err, "load version %s", key)
	}
	p := Preview{
		Snapshot:   snap,
		Markup:     sanitize.Diff(diff.String(snap.OriginText, snap.NewText)),
		LiveMarkup: sanitize.Diff(diff.String(snap.NewText, e.Text())),
	}
	e.viewing = &p
	return p, nil
}

// Viewing returns the selected preview, if any.
func (e *Editor) Viewing() (Preview, bool) {
	if e.viewing == nil {
		return Preview{}, false
	}
	return *e.viewing, true
}

// CancelView clears the selected preview.
func (e *Editor) CancelView() { e.viewing = nil }

// Restore replaces the whole document with text in one operation and
// clears the selected preview.
func (e *Editor) Restore(text string) error {
	if !e.ready() {
		return nil
	}
	d := delta.New().Delete(e.doc.Len()).Insert(text)
	if err := e.doc.ApplyDelta(d, nil); err != nil {
		return errors.Wrap(err, "restore")
	}
	e.viewing = nil
	e.debounce.Restart()
	e.aw.SetEdited(true)
	return nil
}

// RestoreViewed restores the selected preview's text.
func (e *Editor) RestoreViewed() error {
	if e.viewing == nil {
		return ErrNotViewing
	}
	return e.Restore(e.viewing.Snapshot.NewText)
}

// SetName changes the local display name, keeping color and edited flag.
func (e *Editor) SetName(name string) {
	if !e.ready() || name == "" {
		return
	}
	e.aw.SetName(name)
}

// Close cancels the debounce timer, detaches from the field, document and
// awareness, and waits for in-flight snapshot writes to give up or finish.
// The document, awareness and store stay owned by the caller.
func (e *Editor) Close() {
	if e.closed {
		return
	}
	e.closed = true
	e.debounce.Cancel()
	for i := len(e.detach) - 1; i >= 0; i-- {
		e.detach[i]()
	}
	e.detach = nil
	if e.undo != nil {
		e.undo.Destroy()
	}
	e.observers = make(map[int]func(string))
	e.cancel()
	e.wg.Wait()
	e.queueMu.Lock()
	e.queue = nil
	e.queueMu.Unlock()
}
