// Package file implements ifile/ofile channel adapters: raw-frame file
// sources and sinks driving the pitcher channel contract (spec end-to-end
// scenarios 1, 2, 4, 5, 6 all use one of these as source or sink).
package file

import (
	"io"
	"os"

	"github.com/qiaoweibiao/pitcher"
	"github.com/qiaoweibiao/pitcher/internal/buffer"
	"github.com/qiaoweibiao/pitcher/internal/constants"
	"github.com/qiaoweibiao/pitcher/internal/interfaces"
)

// InParams configures an In (ifile) adapter.
type InParams struct {
	Name string
	Path string

	// FrameSize is the byte size of one raw frame (e.g. width*height*3/2
	// for NV12/I420).
	FrameSize uint64

	// FrameNum caps how many frames are read per pass; 0 means "read
	// until the file is exhausted."
	FrameNum int

	// Loop is the total number of passes over the file (1 = no looping).
	// A Loop <= 0 is treated as 1.
	Loop int

	BufferCount int
}

// DefaultInParams fills BufferCount/Loop with sensible defaults.
func DefaultInParams(name, path string, frameSize uint64) InParams {
	return InParams{
		Name:        name,
		Path:        path,
		FrameSize:   frameSize,
		Loop:        1,
		BufferCount: constants.DefaultBufferCount,
	}
}

// In is a source channel that emits fixed-size raw frames read from a
// file, optionally looping over it Loop times and tagging the final
// emitted buffer LAST.
type In struct {
	params InParams

	ctx *pitcher.Context
	id  int

	f         *os.File
	frameNum  int // resolved frame count per pass; always > 0 once init succeeds
	passesLeft int
	framesThisPass int
	torndown  bool
}

// NewIn returns an unregistered In adapter bound to ctx; params.Path is
// opened later, by the Init callback during registration. ctx must be supplied up front (not after RegisterChannel): the
// scheduler calls AllocBuffer synchronously while registering the
// channel, before RegisterChannel has a channel id to hand back, so
// AllocBuffer's ctx.Accounting() call needs ctx already in hand. Call
// Bind once RegisterChannel returns the assigned channel id.
func NewIn(ctx *pitcher.Context, params InParams) (*In, error) {
	if params.Loop <= 0 {
		params.Loop = 1
	}
	if params.BufferCount <= 0 {
		params.BufferCount = constants.DefaultBufferCount
	}
	return &In{params: params, ctx: ctx, passesLeft: params.Loop}, nil
}

// Bind records the channel id this adapter was registered under, so its
// Run/CheckReady callbacks can address the right queue.
func (a *In) Bind(id int) {
	a.id = id
}

// Descriptor builds the UnitDescriptor for RegisterChannel.
func (a *In) Descriptor() *interfaces.UnitDescriptor {
	return &interfaces.UnitDescriptor{
		Name:        a.params.Name,
		Kind:        interfaces.KindFileIn,
		Fd:          -1,
		BufferCount: a.params.BufferCount,
		Init:        a.init,
		Cleanup:     a.cleanup,
		AllocBuffer: a.allocBuffer,
		CheckReady:  a.checkReady,
		Run:         a.run,
	}
}

// init opens the file and resolves frameNum: an explicit FrameNum wins,
// otherwise it is derived from the file size, so the emitting side always
// knows exactly which frame is the last one of a pass and can tag it LAST
// deterministically instead of discovering EOF after the fact.
func (a *In) init(any) error {
	f, err := os.Open(a.params.Path)
	if err != nil {
		return pitcher.WrapError("ifile.init", a.id, err)
	}
	a.f = f

	if a.params.FrameNum > 0 {
		a.frameNum = a.params.FrameNum
		return nil
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return pitcher.WrapError("ifile.init", a.id, err)
	}
	if a.params.FrameSize == 0 {
		return pitcher.NewChannelError("ifile.init", a.id, pitcher.CodeInvalid, "frame size is zero")
	}
	a.frameNum = int(uint64(info.Size()) / a.params.FrameSize)
	if a.frameNum <= 0 {
		return pitcher.NewChannelError("ifile.init", a.id, pitcher.CodeInvalid, "file too small for one frame")
	}
	return nil
}

func (a *In) cleanup(any) error {
	a.torndown = true
	if a.f != nil {
		return a.f.Close()
	}
	return nil
}

func (a *In) allocBuffer(any) (*buffer.Buffer, error) {
	return buffer.New(&buffer.Descriptor{
		PlaneCount: 1,
		PlaneSize:  a.params.FrameSize,
		InitPlane:  initPooledPlane,
		UninitPlane: uninitPooledPlane,
		Recycle:    a.recycle,
		Accounting: a.ctx.Accounting(),
	}, 0)
}

// recycle rehomes a buffer onto this channel's idle pool while the channel
// is running, and lets it be destroyed once torn down — see the
// refcount-discipline convention: buffers reach refcount 0 exactly once
// per production/consumption cycle because run drops its own hold right
// after PushBackOutput.
func (a *In) recycle(b *buffer.Buffer, arg any) (bool, error) {
	if a.torndown {
		return true, nil
	}
	buffer.ResetForReuse(b)
	a.ctx.PutBufferIdle(a.id, b)
	return false, nil
}

func (a *In) checkReady(any) (ready bool, isEnd bool) {
	if a.passesLeft <= 0 {
		return false, true
	}
	return a.ctx.PollIdleBuffer(a.id), false
}

func (a *In) run(_ any, _ *buffer.Buffer) error {
	if a.passesLeft <= 0 {
		return interfaces.ErrNotReady
	}
	b := a.ctx.GetIdleBuffer(a.id)
	if b == nil {
		return interfaces.ErrNotReady
	}

	plane := &b.Planes[0]
	n, err := io.ReadFull(a.f, plane.Virt[:plane.Size])
	if err != nil {
		a.ctx.PutBufferIdle(a.id, b)
		return pitcher.WrapError("ifile.run", a.id, err)
	}
	plane.BytesUsed = uint64(n)
	a.framesThisPass++

	last := a.framesThisPass >= a.frameNum
	if last {
		a.passesLeft--
		if a.passesLeft <= 0 {
			b.Flags |= buffer.FlagLast
		}
	}

	a.ctx.PushBackOutput(a.id, b)
	_ = buffer.Put(b) // drop this Run's own hold; the output queue keeps its own
	if last && a.passesLeft > 0 {
		return a.rewind()
	}
	return nil
}

func (a *In) rewind() error {
	a.framesThisPass = 0
	if _, err := a.f.Seek(0, io.SeekStart); err != nil {
		return pitcher.WrapError("ifile.rewind", a.id, err)
	}
	return nil
}

func initPooledPlane(p *buffer.Plane, _ int, _ any) error {
	p.Virt = buffer.GetPooled(p.Size)
	return nil
}

func uninitPooledPlane(p *buffer.Plane, _ int, _ any) error {
	buffer.PutPooled(p.Virt)
	p.Virt = nil
	return nil
}
