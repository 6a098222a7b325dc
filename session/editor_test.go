package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collabtext/awareness"
	"collabtext/crdt"
	"collabtext/observability"
	"collabtext/versions"
	"collabtext/widget"
)

type fixture struct {
	clock   *fakeClock
	queue   queue
	doc     *crdt.Doc
	aw      *awareness.Awareness
	store   *versions.MemoryStore
	field   *widget.Field
	metrics *observability.Metrics
	editor  *Editor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		clock:   newFakeClock(),
		queue:   newQueue(),
		doc:     crdt.NewDoc("a"),
		aw:      awareness.New("a", awareness.User{Name: "Ann", Color: "#e91e63"}),
		store:   versions.NewMemoryStore(),
		field:   widget.NewField(""),
		metrics: observability.NewMetrics("test", nil),
	}
	f.editor = New(f.doc, f.aw, f.store, f.field, Config{
		Retry:    versions.RetryPolicy{InitialInterval: time.Millisecond, MaxElapsedTime: 20 * time.Millisecond},
		Clock:    f.clock,
		Dispatch: f.queue.dispatch,
		Metrics:  f.metrics,
	})
	t.Cleanup(f.editor.Close)
	return f
}

// typeAt inserts s at the caret the way a native field would.
func (f *fixture) typeAt(pos int, s string) {
	r := []rune(f.field.Text())
	f.field.Select(pos, pos)
	text := string(r[:pos]) + s + string(r[pos:])
	caret := pos + len([]rune(s))
	f.field.Type("insertText", text, caret, caret)
}

// remote returns a second replica synced with f.doc whose changes are
// forwarded to f.doc as remote updates.
func (f *fixture) remote(t *testing.T) *crdt.Doc {
	t.Helper()
	b := crdt.NewDoc("b")
	require.NoError(t, b.Apply(f.doc.State(), crdt.Remote))
	b.Observe(func(u crdt.Update, origin interface{}) {
		if origin == crdt.Remote {
			return
		}
		require.NoError(t, f.doc.Apply(u.Ops, crdt.Remote))
	})
	return b
}

// snapshotNow fires the debounce timer and waits for the write to land.
func (f *fixture) snapshotNow(t *testing.T) {
	t.Helper()
	f.clock.Advance(DefaultDebounceInterval)
	f.queue.next(t) // debounce callback
	f.queue.next(t) // persistence result
}

func TestTypingUpdatesDocument(t *testing.T) {
	f := newFixture(t)

	f.typeAt(0, "hi")
	f.typeAt(2, " there")

	assert.Equal(t, "hi there", f.doc.String())
	assert.Equal(t, "hi there", f.field.Text())
	assert.True(t, f.editor.SnapshotPending())
	assert.True(t, f.aw.LocalState().User.Edited)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.LocalOps))

	c := f.aw.LocalState().Cursor
	require.NotNil(t, c)
	assert.Equal(t, 8, f.doc.AbsolutePosition(c.Focus))
}

func TestDeletionAndReplacement(t *testing.T) {
	f := newFixture(t)
	f.typeAt(0, "hello world")

	f.field.Select(6, 11)
	f.field.Type("insertText", "hello there", 11, 11)
	assert.Equal(t, "hello there", f.doc.String())

	f.field.Select(11, 11)
	f.field.Type("deleteContentBackward", "hello ther", 10, 10)
	assert.Equal(t, "hello ther", f.doc.String())
}

func TestUndoRevertsBurstAsOneStep(t *testing.T) {
	f := newFixture(t)

	f.typeAt(0, "a")
	f.typeAt(1, "b")
	f.typeAt(2, "c")
	f.clock.Advance(DefaultCaptureTimeout + time.Millisecond)
	f.queue.drain()
	f.typeAt(3, "d")

	f.field.Type("historyUndo", f.field.Text(), 4, 4)
	assert.Equal(t, "abc", f.doc.String())
	assert.Equal(t, "abc", f.field.Text())

	f.field.Type("historyUndo", f.field.Text(), 3, 3)
	assert.Equal(t, "", f.doc.String())
	assert.Equal(t, "", f.field.Text())

	f.field.Type("historyRedo", f.field.Text(), 0, 0)
	assert.Equal(t, "abc", f.doc.String())
	assert.Equal(t, "abc", f.field.Text())

	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.HistorySignals.WithLabelValues("undo")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.HistorySignals.WithLabelValues("redo")))
}

func TestUndoWithEmptyStackKeepsField(t *testing.T) {
	f := newFixture(t)

	f.field.Type("historyUndo", "", 0, 0)
	assert.Equal(t, "", f.field.Text())
	assert.False(t, f.editor.SnapshotPending())
	assert.False(t, f.aw.LocalState().User.Edited)
}

func TestRemoteInsertShiftsCaret(t *testing.T) {
	f := newFixture(t)
	f.typeAt(0, "hello world")
	f.field.Select(6, 6)
	b := f.remote(t)

	require.NoError(t, b.Insert(0, "XX", nil))

	assert.Equal(t, "XXhello world", f.field.Text())
	start, end := f.field.Selection()
	assert.Equal(t, 8, start)
	assert.Equal(t, 8, end)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RemoteUpdates))
}

func TestRemoteInsertAfterCaretKeepsIt(t *testing.T) {
	f := newFixture(t)
	f.typeAt(0, "hello world")
	f.field.Select(2, 5)
	b := f.remote(t)

	require.NoError(t, b.Insert(11, "!", nil))

	assert.Equal(t, "hello world!", f.field.Text())
	start, end := f.field.Selection()
	assert.Equal(t, 2, start)
	assert.Equal(t, 5, end)
}

func TestRemoteDeleteOfAnchorCollapsesSelection(t *testing.T) {
	f := newFixture(t)
	f.typeAt(0, "hello world")
	f.field.Select(8, 8)
	b := f.remote(t)

	require.NoError(t, b.Delete(6, 5, nil))

	assert.Equal(t, "hello ", f.field.Text())
	start, end := f.field.Selection()
	assert.Equal(t, 6, start)
	assert.Equal(t, 6, end)
}

func TestRemoteEditRestartsDebounce(t *testing.T) {
	f := newFixture(t)
	b := f.remote(t)

	require.NoError(t, b.Insert(0, "x", nil))
	assert.True(t, f.editor.SnapshotPending())

	// nobody marked as edited, so the timer fires without writing
	f.clock.Advance(DefaultDebounceInterval)
	f.queue.drain()
	list, err := f.store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSnapshotAfterQuietPeriod(t *testing.T) {
	f := newFixture(t)
	var keys []string
	f.editor.OnVersionsChanged(func(k string) { keys = append(keys, k) })

	f.aw.Apply(awareness.Update{ClientID: "b", Clock: 1, State: &awareness.State{
		User: awareness.User{Name: "Bob", Color: "#00bcd4", Edited: true},
	}})
	f.typeAt(0, "hi")
	f.snapshotNow(t)

	list, err := f.store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, []string{"Ann", "Bob"}, list[0].Editors)
	assert.Equal(t, "", list[0].OriginText)
	assert.Equal(t, "hi", list[0].NewText)
	assert.Equal(t, []string{list[0].Key}, keys)
	assert.False(t, f.aw.LocalState().User.Edited)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SnapshotsWritten))

	f.typeAt(2, "!")
	f.snapshotNow(t)

	list, err = f.store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, []string{"Ann"}, list[1].Editors)
	assert.Equal(t, "hi", list[1].OriginText)
	assert.Equal(t, "hi!", list[1].NewText)
}

func TestFlushWithoutEditsWritesNothing(t *testing.T) {
	f := newFixture(t)

	f.editor.Flush()
	f.queue.drain()

	list, err := f.store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSnapshotFailureIsDropped(t *testing.T) {
	f := newFixture(t)
	called := false
	f.editor.OnVersionsChanged(func(string) { called = true })
	f.store.FailNext(1000, errors.New("disk full"))

	f.typeAt(0, "hi")
	f.snapshotNow(t)

	assert.False(t, called)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SnapshotFailures))
	// the session keeps working
	f.typeAt(2, "!")
	assert.Equal(t, "hi!", f.doc.String())
}

func TestViewAndRestore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.typeAt(0, "hi")
	f.snapshotNow(t)
	f.typeAt(2, " there")

	list, err := f.editor.Versions(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	p, err := f.editor.View(ctx, list[0].Key)
	require.NoError(t, err)
	assert.Equal(t, "<ins>hi</ins>", p.Markup)
	assert.Contains(t, p.LiveMarkup, "<ins>there</ins>")
	_, viewing := f.editor.Viewing()
	assert.True(t, viewing)

	require.NoError(t, f.editor.RestoreViewed())
	assert.Equal(t, "hi", f.doc.String())
	assert.Equal(t, "hi", f.field.Text())
	_, viewing = f.editor.Viewing()
	assert.False(t, viewing)
	assert.True(t, f.aw.LocalState().User.Edited)

	assert.ErrorIs(t, f.editor.RestoreViewed(), ErrNotViewing)
}

func TestCancelView(t *testing.T) {
	f := newFixture(t)
	f.typeAt(0, "hi")
	f.snapshotNow(t)

	list, err := f.editor.Versions(context.Background())
	require.NoError(t, err)
	_, err = f.editor.View(context.Background(), list[0].Key)
	require.NoError(t, err)

	f.editor.CancelView()
	_, viewing := f.editor.Viewing()
	assert.False(t, viewing)

	_, err = f.editor.View(context.Background(), "missing")
	assert.ErrorIs(t, err, versions.ErrNotFound)
}

func TestVersionsSkipsSnapshotsWithoutEditors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Put(ctx, versions.NewSnapshot(f.clock.Now(), nil, "", "x")))
	require.NoError(t, f.store.Put(ctx, versions.NewSnapshot(f.clock.Now().Add(time.Second), []string{"Ann"}, "x", "xy")))

	list, err := f.editor.Versions(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "xy", list[0].NewText)
}

func TestSetNameKeepsColorAndEdited(t *testing.T) {
	f := newFixture(t)
	f.typeAt(0, "x")

	f.editor.SetName("Annie")
	u := f.aw.LocalState().User
	assert.Equal(t, "Annie", u.Name)
	assert.Equal(t, "#e91e63", u.Color)
	assert.True(t, u.Edited)
}

func TestCloseDetaches(t *testing.T) {
	f := newFixture(t)
	f.typeAt(0, "hi")
	f.editor.Close()

	assert.False(t, f.editor.SnapshotPending())
	f.typeAt(2, "!")
	assert.Equal(t, "hi", f.doc.String())

	require.NoError(t, f.doc.Insert(0, "x", crdt.Remote))
	assert.Equal(t, "hi!", f.field.Text())
	f.editor.Close()
}

func TestEditorWithoutDocumentIsInert(t *testing.T) {
	field := widget.NewField("abc")
	e := New(nil, nil, nil, field, Config{})
	defer e.Close()

	field.Type("insertText", "abcd", 4, 4)
	require.NoError(t, e.Restore("x"))
	e.Flush()
	e.SetName("x")
	assert.Equal(t, "", e.Text())
	assert.Equal(t, "abcd", field.Text())
	assert.False(t, e.SnapshotPending())
}

func TestNewSyncsFieldToDocument(t *testing.T) {
	doc := crdt.NewDoc("a")
	require.NoError(t, doc.Insert(0, "shared", nil))
	field := widget.NewField("")
	q := newQueue()

	e := New(doc, awareness.New("a", awareness.User{Name: "Ann"}), nil, field, Config{
		Clock:    newFakeClock(),
		Dispatch: q.dispatch,
	})
	defer e.Close()

	assert.Equal(t, "shared", field.Text())
}

func TestRemoteDeleteBeforeCaretShiftsIt(t *testing.T) {
	f := newFixture(t)
	f.typeAt(0, "hello world")
	f.field.Select(9, 9)
	b := f.remote(t)

	require.NoError(t, b.Delete(0, 6, nil))

	assert.Equal(t, "world", f.field.Text())
	start, end := f.field.Selection()
	assert.Equal(t, 3, start)
	assert.Equal(t, 3, end)
}

func TestWaitPersisted(t *testing.T) {
	f := newFixture(t)
	f.typeAt(0, "hi")
	f.editor.Flush()

	require.NoError(t, f.editor.WaitPersisted(context.Background()))
	list, err := f.store.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestBurstFasterThanDebounceWritesOneSnapshot(t *testing.T) {
	f := newFixture(t)

	f.typeAt(0, "a")
	f.clock.Advance(600 * time.Millisecond)
	f.queue.drain()
	f.aw.Apply(awareness.Update{ClientID: "b", Clock: 1, State: &awareness.State{
		User: awareness.User{Name: "Bob", Color: "#00bcd4", Edited: true},
	}})
	f.typeAt(1, "b")
	f.clock.Advance(600 * time.Millisecond)
	f.queue.drain()
	f.typeAt(2, "c")
	f.clock.Advance(600 * time.Millisecond)
	f.queue.drain()

	list, err := f.store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.True(t, f.editor.SnapshotPending())

	f.snapshotNow(t)

	list, err = f.store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, []string{"Ann", "Bob"}, list[0].Editors)
	assert.Equal(t, "", list[0].OriginText)
	assert.Equal(t, "abc", list[0].NewText)
}

func TestSnapshotsInOneMillisecondKeepTheChain(t *testing.T) {
	f := newFixture(t)
	var keys []string
	f.editor.OnVersionsChanged(func(k string) { keys = append(keys, k) })

	f.typeAt(0, "hi")
	f.editor.Flush()
	f.queue.next(t)
	f.typeAt(2, "!")
	f.editor.Flush()
	f.queue.next(t)

	list, err := f.store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, versions.Key(f.clock.Now()), list[0].Key)
	assert.Equal(t, versions.SeqKey(list[0].Key, 1), list[1].Key)
	assert.Equal(t, "hi", list[1].OriginText)
	assert.Equal(t, "hi!", list[1].NewText)
	assert.Equal(t, []string{list[0].Key, list[1].Key}, keys)
}

func TestZeroConfigRunsCallbacksOnCallerGoroutine(t *testing.T) {
	doc := crdt.NewDoc("a")
	aw := awareness.New("a", awareness.User{Name: "Ann", Color: "#e91e63"})
	store := versions.NewMemoryStore()
	field := widget.NewField("")
	e := New(doc, aw, store, field, Config{DebounceInterval: 2 * time.Millisecond})
	defer e.Close()
	var keys []string
	e.OnVersionsChanged(func(k string) { keys = append(keys, k) })

	text := ""
	for i := 0; i < 60; i++ {
		text += "x"
		n := len(text)
		field.Type("insertText", text, n, n)
		// bursts shorter than the interval mixed with pauses longer than it
		time.Sleep(time.Duration(i%3) * 3 * time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.WaitPersisted(ctx))

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, list)
	assert.Equal(t, "", list[0].OriginText)
	for i := 1; i < len(list); i++ {
		assert.Equal(t, list[i-1].NewText, list[i].OriginText)
	}
	assert.Equal(t, text, list[len(list)-1].NewText)
	assert.Len(t, keys, len(list))
	assert.Equal(t, text, field.Text())
}
