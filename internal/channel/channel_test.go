package channel

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/qiaoweibiao/pitcher/internal/buffer"
	"github.com/qiaoweibiao/pitcher/internal/constants"
	"github.com/qiaoweibiao/pitcher/internal/interfaces"
)

func newTestBuffer(t *testing.T) *buffer.Buffer {
	t.Helper()
	desc := &buffer.Descriptor{
		PlaneCount: 1,
		PlaneSize:  64,
		InitPlane: func(p *buffer.Plane, index int, arg any) error {
			p.Virt = make([]byte, p.Size)
			return nil
		},
		UninitPlane: func(p *buffer.Plane, index int, arg any) error {
			return nil
		},
	}
	b, err := buffer.New(desc, 0)
	require.NoError(t, err)
	return b
}

func TestNew_DefaultsUnregisteredNoSource(t *testing.T) {
	ch := New(3, &interfaces.UnitDescriptor{Name: "ifile"})
	require.Equal(t, 3, ch.ID())
	require.Equal(t, "ifile", ch.Name())
	require.Equal(t, StateUnregistered, ch.State())
	require.Equal(t, constants.NoSourceID, ch.SourceID())
	require.False(t, ch.HasSource())
}

func TestIdlePool_GetPutRoundTrip(t *testing.T) {
	ch := New(0, &interfaces.UnitDescriptor{})
	require.False(t, ch.PollIdle())

	b := newTestBuffer(t)
	ch.PutIdle(b)
	require.True(t, ch.PollIdle())

	got := ch.GetIdle()
	require.Same(t, b, got)
	require.False(t, ch.PollIdle())
	require.Nil(t, ch.GetIdle())
}

func TestPutIdle_DroppedAfterEnded(t *testing.T) {
	ch := New(0, &interfaces.UnitDescriptor{})
	ch.SetState(StateEnded)
	ch.PutIdle(newTestBuffer(t))
	require.False(t, ch.PollIdle())
}

func TestOutputQueue_FIFOAndRefcount(t *testing.T) {
	ch := New(0, &interfaces.UnitDescriptor{})
	b := newTestBuffer(t)
	require.Equal(t, 1, buffer.Refcount(b))

	ch.PushOutput(b)
	require.Equal(t, 2, buffer.Refcount(b), "push must bump refcount for the queue's hold")
	require.Equal(t, 1, ch.OutputLen())

	got := ch.PopOutput()
	require.Same(t, b, got)
	require.Equal(t, 0, ch.OutputLen())
	require.Nil(t, ch.PopOutput())
}

func TestPushOutput_DroppedAfterEnded(t *testing.T) {
	ch := New(0, &interfaces.UnitDescriptor{})
	ch.SetState(StateEnded)
	ch.PushOutput(newTestBuffer(t))
	require.Equal(t, 0, ch.OutputLen())
}

func TestInputQueue_NoExtraRefcount(t *testing.T) {
	ch := New(0, &interfaces.UnitDescriptor{})
	b := newTestBuffer(t)

	ch.PushInput(b)
	require.Equal(t, 1, buffer.Refcount(b), "router already transferred the refcount")
	require.True(t, ch.PollInput())
	require.Equal(t, 1, ch.InputLen())

	got := ch.PopInput()
	require.Same(t, b, got)
	require.False(t, ch.PollInput())
}

func TestDrainAll_ReleasesEveryQueue(t *testing.T) {
	ch := New(0, &interfaces.UnitDescriptor{})
	ch.PutIdle(newTestBuffer(t))
	ch.PushOutput(newTestBuffer(t))
	ch.PushInput(newTestBuffer(t))

	n := ch.DrainAll()
	require.Equal(t, 3, n)
	require.False(t, ch.PollIdle())
	require.Equal(t, 0, ch.OutputLen())
	require.False(t, ch.PollInput())
}

func TestFrameCountAndSourceID(t *testing.T) {
	ch := New(0, &interfaces.UnitDescriptor{})
	require.Equal(t, uint64(0), ch.FrameCount())
	ch.IncFrameCount()
	ch.IncFrameCount()
	require.Equal(t, uint64(2), ch.FrameCount())

	ch.SetSourceID(5)
	require.True(t, ch.HasSource())
	require.Equal(t, 5, ch.SourceID())
}

func TestInputEndedFlag(t *testing.T) {
	ch := New(0, &interfaces.UnitDescriptor{})
	require.False(t, ch.InputEnded())
	ch.SetInputEnded(true)
	require.True(t, ch.InputEnded())
}

func TestStateString(t *testing.T) {
	require.Equal(t, "unregistered", StateUnregistered.String())
	require.Equal(t, "registered", StateRegistered.String())
	require.Equal(t, "started", StateStarted.String())
	require.Equal(t, "ended", StateEnded.String())
}
