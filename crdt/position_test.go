package crdt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelativePositionShiftsWithEarlierInsert(t *testing.T) {
	local := NewDoc("local")
	require.NoError(t, local.Insert(0, "hello world", nil))
	rp := local.RelativePosition(6)
	end := local.RelativePosition(local.Len())

	remote := NewDoc("remote")
	require.NoError(t, remote.Apply(local.State(), Remote))
	var ops []Op
	remote.Observe(func(u Update, _ interface{}) { ops = append(ops, u.Ops...) })
	require.NoError(t, remote.Insert(0, "oh, ", nil))

	require.NoError(t, local.Apply(ops, Remote))
	assert.Equal(t, 10, local.AbsolutePosition(rp))
	assert.Equal(t, 15, local.AbsolutePosition(end))
}

func TestRelativePositionUnresolvedAfterDelete(t *testing.T) {
	d := NewDoc("a")
	require.NoError(t, d.Insert(0, "hello world", nil))
	rp := d.RelativePosition(7)

	require.NoError(t, d.Delete(6, 5, Remote))
	assert.Equal(t, Unresolved, d.AbsolutePosition(rp))
}

func TestRelativePositionClampsAndEnd(t *testing.T) {
	d := NewDoc("a")
	require.NoError(t, d.Insert(0, "abc", nil))

	assert.Nil(t, d.RelativePosition(3).Item)
	assert.Nil(t, d.RelativePosition(99).Item)
	assert.Equal(t, 0, d.AbsolutePosition(d.RelativePosition(-4)))
	assert.Equal(t, 3, d.AbsolutePosition(RelativePosition{}))

	unknown := CharID{Clock: 42, PeerID: "ghost"}
	assert.Equal(t, Unresolved, d.AbsolutePosition(RelativePosition{Item: &unknown}))
}
