package crdt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNow struct{ t time.Time }

func (f *fakeNow) now() time.Time { return f.t }

func (f *fakeNow) advance(d time.Duration) { f.t = f.t.Add(d) }

func newUndoFixture(t *testing.T) (*Doc, *UndoManager, *fakeNow) {
	t.Helper()
	clock := &fakeNow{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	d := NewDoc("a")
	um := NewUndoManager(d, WithCaptureTimeout(200*time.Millisecond), WithUndoClock(clock.now))
	return d, um, clock
}

func TestUndoGroupsRapidEdits(t *testing.T) {
	d, um, clock := newUndoFixture(t)

	require.NoError(t, d.Insert(0, "hello", nil))
	clock.advance(time.Second)
	for i, r := range " world" {
		require.NoError(t, d.Insert(5+i, string(r), nil))
		clock.advance(50 * time.Millisecond)
	}
	require.Equal(t, "hello world", d.String())

	require.NoError(t, um.Undo())
	assert.Equal(t, "hello", d.String())
	require.NoError(t, um.Undo())
	assert.Equal(t, "", d.String())
	assert.ErrorIs(t, um.Undo(), ErrNothingToUndo)
}

func TestUndoRestoresDeletedText(t *testing.T) {
	d, um, clock := newUndoFixture(t)
	require.NoError(t, d.Insert(0, "abcdef", nil))
	clock.advance(time.Second)
	require.NoError(t, d.Delete(1, 3, nil))
	require.Equal(t, "aef", d.String())

	require.NoError(t, um.Undo())
	assert.Equal(t, "abcdef", d.String())

	require.NoError(t, um.Redo())
	assert.Equal(t, "aef", d.String())
	require.NoError(t, um.Undo())
	assert.Equal(t, "abcdef", d.String())
}

func TestRedoClearedByNewEdit(t *testing.T) {
	d, um, clock := newUndoFixture(t)
	require.NoError(t, d.Insert(0, "abc", nil))
	require.NoError(t, um.Undo())
	assert.True(t, um.CanRedo())

	clock.advance(time.Second)
	require.NoError(t, d.Insert(0, "x", nil))
	assert.False(t, um.CanRedo())
	assert.ErrorIs(t, um.Redo(), ErrNothingToRedo)
}

func TestUndoIgnoresUntrackedOrigins(t *testing.T) {
	d, um, clock := newUndoFixture(t)
	require.NoError(t, d.Insert(0, "mine", nil))
	clock.advance(time.Second)
	require.NoError(t, d.Insert(4, " theirs", Remote))

	require.NoError(t, um.Undo())
	assert.Equal(t, " theirs", d.String())
	assert.False(t, um.CanUndo())
}

func TestUndoEditAfterUndoStartsNewStep(t *testing.T) {
	d, um, clock := newUndoFixture(t)
	require.NoError(t, d.Insert(0, "ab", nil))
	clock.advance(time.Second)
	require.NoError(t, d.Insert(2, "c", nil))
	require.NoError(t, um.Undo())
	require.Equal(t, "ab", d.String())

	// within the capture window of the undone edit, but still a fresh step
	require.NoError(t, d.Insert(2, "d", nil))
	require.NoError(t, um.Undo())
	assert.Equal(t, "ab", d.String())
}

func TestUndoDestroyDetaches(t *testing.T) {
	d, um, _ := newUndoFixture(t)
	um.Destroy()
	require.NoError(t, d.Insert(0, "x", nil))
	assert.False(t, um.CanUndo())
}
