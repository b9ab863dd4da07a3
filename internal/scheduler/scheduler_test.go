package scheduler

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/qiaoweibiao/pitcher/internal/buffer"
	"github.com/qiaoweibiao/pitcher/internal/interfaces"
)

// testBufferDescriptor returns a minimal single-plane buffer descriptor
// wired to acc for allocation accounting and recycle for the
// zero-refcount decision (typically: rehome while running, destroy once
// torn down).
func testBufferDescriptor(acc buffer.Accounting, recycle buffer.RecycleFunc) *buffer.Descriptor {
	return &buffer.Descriptor{
		PlaneCount: 1,
		PlaneSize:  16,
		InitPlane: func(p *buffer.Plane, i int, a any) error {
			p.Virt = make([]byte, p.Size)
			return nil
		},
		UninitPlane: func(p *buffer.Plane, i int, a any) error { return nil },
		Accounting:  acc,
		Recycle:     recycle,
	}
}

func TestRegisterChn_AssignsSequentialIDs(t *testing.T) {
	ctx, err := NewContext(nil, nil)
	require.NoError(t, err)
	defer ctx.Close()

	id0, err := ctx.RegisterChn(&interfaces.UnitDescriptor{Name: "a", Fd: -1})
	require.NoError(t, err)
	require.Equal(t, 0, id0)

	id1, err := ctx.RegisterChn(&interfaces.UnitDescriptor{Name: "b", Fd: -1})
	require.NoError(t, err)
	require.Equal(t, 1, id1)
}

func TestUnregisterChn_InvalidIDIsSilent(t *testing.T) {
	ctx, err := NewContext(nil, nil)
	require.NoError(t, err)
	defer ctx.Close()
	ctx.UnregisterChn(999) // must not panic
}

func TestConnect_RejectsDoubleDestination(t *testing.T) {
	ctx, err := NewContext(nil, nil)
	require.NoError(t, err)
	defer ctx.Close()

	src, _ := ctx.RegisterChn(&interfaces.UnitDescriptor{Name: "src", Fd: -1})
	dst, _ := ctx.RegisterChn(&interfaces.UnitDescriptor{Name: "dst", Fd: -1})
	other, _ := ctx.RegisterChn(&interfaces.UnitDescriptor{Name: "other", Fd: -1})

	require.NoError(t, ctx.Connect(src, dst))
	err = ctx.Connect(other, dst)
	require.ErrorIs(t, err, ErrAlreadyConnected)
}

// TestStraightCopy_EndToEnd mirrors the spec's "straight copy" scenario: a
// source channel emits totalFrames buffers (tagging the last LAST), a sink
// channel counts what it receives, and teardown returns the memory counter
// to zero.
func TestStraightCopy_EndToEnd(t *testing.T) {
	ctx, err := NewContext(nil, nil)
	require.NoError(t, err)
	defer ctx.Close()

	const totalFrames = 5
	var srcID, sinkID int
	emittedCount := 0
	torndown := false

	recycle := func(b *buffer.Buffer, arg any) (bool, error) {
		if torndown {
			return true, nil
		}
		buffer.ResetForReuse(b)
		ctx.PutBufferIdle(srcID, b)
		return false, nil
	}

	srcDesc := &interfaces.UnitDescriptor{
		Name:        "source",
		Kind:        interfaces.KindFileIn,
		BufferCount: 2,
		Fd:          -1,
		AllocBuffer: func(arg any) (*buffer.Buffer, error) {
			return buffer.New(testBufferDescriptor(ctx.Accounting(), recycle), 0)
		},
		CheckReady: func(arg any) (bool, bool) {
			return emittedCount < totalFrames, emittedCount >= totalFrames
		},
		Run: func(arg any, in *buffer.Buffer) error {
			if emittedCount >= totalFrames {
				return interfaces.ErrNotReady
			}
			b := ctx.GetIdleBuffer(srcID)
			if b == nil {
				return interfaces.ErrNotReady
			}
			if emittedCount == totalFrames-1 {
				b.Flags |= buffer.FlagLast
			}
			emittedCount++
			ctx.PushBackOutput(srcID, b)
			_ = buffer.Put(b) // drop the producer's own hold; the queue keeps its own
			return nil
		},
	}

	sinkFrames := 0
	sinkDesc := &interfaces.UnitDescriptor{
		Name:        "sink",
		Kind:        interfaces.KindFileOut,
		Fd:          -1,
		BufferCount: 0,
		CheckReady: func(arg any) (bool, bool) {
			return ctx.ChnPollInput(sinkID), false
		},
		Run: func(arg any, in *buffer.Buffer) error {
			if in == nil {
				return interfaces.ErrNotReady
			}
			sinkFrames++
			return nil
		},
	}

	var err2 error
	srcID, err2 = ctx.RegisterChn(srcDesc)
	require.NoError(t, err2)
	sinkID, err2 = ctx.RegisterChn(sinkDesc)
	require.NoError(t, err2)
	require.NoError(t, ctx.Connect(srcID, sinkID))

	for i := 0; i < 40 && ctx.Pass(); i++ {
	}

	require.Equal(t, totalFrames, sinkFrames)

	torndown = true
	ctx.UnregisterChn(sinkID)
	ctx.UnregisterChn(srcID)
	require.Equal(t, int64(0), ctx.MemCounter())
}

var errIntentional = errors.New("intentional run failure")

func TestForceExit_OnZeroFrameRunError(t *testing.T) {
	ctx, err := NewContext(nil, nil)
	require.NoError(t, err)
	defer ctx.Close()

	calls := 0
	desc := &interfaces.UnitDescriptor{
		Name: "flaky",
		Fd:   -1,
		CheckReady: func(arg any) (bool, bool) {
			return true, false
		},
		Run: func(arg any, in *buffer.Buffer) error {
			calls++
			return errIntentional
		},
	}
	id, err := ctx.RegisterChn(desc)
	require.NoError(t, err)
	require.NoError(t, ctx.StartChn(id))

	ctx.Pass()
	require.Equal(t, 1, calls)
	require.True(t, ctx.Terminated())
}

// TestCheckReady_ReadyAndEndSameCallStillRuns covers spec §4.D's "mark the
// channel Ended after this pass": a channel whose CheckReady reports
// (ready=true, isEnd=true) in the same call must still have Run invoked
// for that final buffer before Ended takes effect, not be silently
// skipped because Select already flipped its state.
func TestCheckReady_ReadyAndEndSameCallStillRuns(t *testing.T) {
	ctx, err := NewContext(nil, nil)
	require.NoError(t, err)
	defer ctx.Close()

	calls := 0
	desc := &interfaces.UnitDescriptor{
		Name: "last-and-ready",
		Fd:   -1,
		CheckReady: func(arg any) (bool, bool) {
			return true, true
		},
		Run: func(arg any, in *buffer.Buffer) error {
			calls++
			return nil
		},
	}
	id, err := ctx.RegisterChn(desc)
	require.NoError(t, err)
	require.NoError(t, ctx.StartChn(id))

	ctx.Pass()
	require.Equal(t, 1, calls, "Run must fire on the same pass CheckReady reports isEnd")
}
