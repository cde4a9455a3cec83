package address

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestGlobalAddressIsUntagged(t *testing.T) {
	a := Global(42)
	_, tagged := a.Tag()
	require.False(t, tagged)
	require.Equal(t, "42", a.String())
}

func TestTaggedAddressRoundTrip(t *testing.T) {
	id := uuid.New()
	a := Tagged(id, 7)
	got, tagged := a.Tag()
	require.True(t, tagged)
	require.Equal(t, id, got)
	require.Contains(t, a.String(), id.String())
}

func TestSegmentMapping(t *testing.T) {
	require.Equal(t, uint64(0), Global(0).Segment(10))
	require.Equal(t, uint64(0), Global(9).Segment(10))
	require.Equal(t, uint64(1), Global(10).Segment(10))
	require.Equal(t, uint64(5), Global(59).Segment(10))
}

func TestEqual(t *testing.T) {
	id := uuid.New()
	a := Tagged(id, 3)
	b := Tagged(id, 3)
	require.True(t, a.Equal(b))

	c := Global(3)
	require.False(t, a.Equal(c))

	d := Global(3)
	require.True(t, c.Equal(d))

	require.False(t, Global(3).Equal(Global(4)))
}
