package graph

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConnect_RejectsDoubleSource(t *testing.T) {
	g := NewTable(4)
	require.NoError(t, g.Connect(0, 1))
	err := g.Connect(2, 1)
	require.ErrorIs(t, err, ErrAlreadyConnected)

	src, ok := g.Source(1)
	require.True(t, ok)
	require.Equal(t, 0, src)
}

func TestDisconnect_ClearsEdge(t *testing.T) {
	g := NewTable(4)
	require.NoError(t, g.Connect(0, 1))
	g.Disconnect(1)
	_, ok := g.Source(1)
	require.False(t, ok)

	g.Disconnect(99) // out of range, must not panic
}

func TestSetSkip_ClampsNumeratorToDenominator(t *testing.T) {
	g := NewTable(4)
	require.NoError(t, g.Connect(0, 1))
	require.NoError(t, g.SetSkip(1, 50, 10)) // num > den, clamp

	delivered := 0
	for i := 0; i < 10; i++ {
		if g.Deliver(1) {
			delivered++
		}
	}
	require.Equal(t, 10, delivered, "clamped ratio must deliver every attempt")
}

func TestSetSkip_NoEdge(t *testing.T) {
	g := NewTable(4)
	err := g.SetSkip(1, 1, 2)
	require.ErrorIs(t, err, ErrNoEdge)
}

func TestDeliver_NoSource(t *testing.T) {
	g := NewTable(4)
	require.False(t, g.Deliver(0))
}

func TestDeliver_DefaultRatioAlwaysDelivers(t *testing.T) {
	g := NewTable(4)
	require.NoError(t, g.Connect(0, 1))
	for i := 0; i < 5; i++ {
		require.True(t, g.Deliver(1))
	}
}

// TestDeliver_ThirtyToTenFrameSkip mirrors spec scenario: a 30fps source
// connected to a sink declaring 10fps delivers exactly 10 of every 30
// attempts (skip 20 of 30, i.e. num=20, den=30).
func TestDeliver_ThirtyToTenFrameSkip(t *testing.T) {
	g := NewTable(4)
	require.NoError(t, g.Connect(0, 1))
	require.NoError(t, g.SetSkip(1, 20, 30))

	delivered := 0
	for i := 0; i < 30; i++ {
		if g.Deliver(1) {
			delivered++
		}
	}
	require.Equal(t, 10, delivered)
}

func TestDeliver_SkipRatioEvenlyDistributed(t *testing.T) {
	g := NewTable(4)
	require.NoError(t, g.Connect(0, 1))
	require.NoError(t, g.SetSkip(1, 1, 2)) // deliver every other frame

	var pattern []bool
	for i := 0; i < 6; i++ {
		pattern = append(pattern, g.Deliver(1))
	}
	require.Equal(t, []bool{false, true, false, true, false, true}, pattern)
}

func TestEnsure_GrowsBackingArray(t *testing.T) {
	g := NewTable(0)
	require.NoError(t, g.Connect(0, 10))
	src, ok := g.Source(10)
	require.True(t, ok)
	require.Equal(t, 0, src)
}
