// Package convert implements a pixel-format converter channel adapter:
// a mid-pipeline channel that consumes one input buffer per Run, owns
// its own output buffer pool like a source does, and pushes a converted
// frame downstream (spec end-to-end scenario 4).
package convert

import (
	"github.com/qiaoweibiao/pitcher"
	"github.com/qiaoweibiao/pitcher/internal/buffer"
	"github.com/qiaoweibiao/pitcher/internal/constants"
	"github.com/qiaoweibiao/pitcher/internal/interfaces"
)

// Format names the pixel format on either side of the conversion.
type Format int

const (
	FormatI420 Format = iota
	FormatNV12
)

// Params configures a converter channel. Only I420 -> NV12 is
// implemented, matching the one conversion the pack's end-to-end
// scenarios exercise; Params carries no format fields, and NewI420ToNV12
// rejects only non-positive dimensions.
type Params struct {
	Name   string
	Width  int
	Height int

	BufferCount int
}

// DefaultParams fills BufferCount with a sensible default.
func DefaultParams(name string, width, height int) Params {
	return Params{Name: name, Width: width, Height: height, BufferCount: constants.DefaultBufferCount}
}

// I420ToNV12 converts packed planar I420 (Y, then U, then V, each
// contiguous) into packed semi-planar NV12 (Y, then interleaved UV),
// both as a single packed plane per buffer — the same "one plane, file
// adapters read/write it whole" layout ifile/ofile use.
type I420ToNV12 struct {
	params Params

	ctx *pitcher.Context
	id  int

	ySize   int
	cSize   int // one chroma plane's size (W/2 * H/2)
	frameSz uint64

	torndown bool
}

// NewI420ToNV12 returns an unregistered converter adapter bound to ctx.
// ctx must be supplied up front for the same reason file.NewIn requires
// it: RegisterChannel calls AllocBuffer synchronously before a channel id
// exists to Bind.
func NewI420ToNV12(ctx *pitcher.Context, params Params) (*I420ToNV12, error) {
	if params.Width <= 0 || params.Height <= 0 {
		return nil, pitcher.NewError("convert.NewI420ToNV12", pitcher.CodeInvalid, "width and height must be positive")
	}
	if params.BufferCount <= 0 {
		params.BufferCount = constants.DefaultBufferCount
	}
	ySize := params.Width * params.Height
	cSize := (params.Width / 2) * (params.Height / 2)
	return &I420ToNV12{
		params:  params,
		ctx:     ctx,
		ySize:   ySize,
		cSize:   cSize,
		frameSz: uint64(ySize + 2*cSize),
	}, nil
}

// Bind records the channel id this adapter was registered under.
func (a *I420ToNV12) Bind(id int) { a.id = id }

// Descriptor builds the UnitDescriptor for RegisterChannel.
func (a *I420ToNV12) Descriptor() *interfaces.UnitDescriptor {
	return &interfaces.UnitDescriptor{
		Name:        a.params.Name,
		Kind:        interfaces.KindConvert,
		Fd:          -1,
		BufferCount: a.params.BufferCount,
		Cleanup:     a.cleanup,
		AllocBuffer: a.allocBuffer,
		CheckReady:  a.checkReady,
		Run:         a.run,
	}
}

func (a *I420ToNV12) cleanup(any) error {
	a.torndown = true
	return nil
}

func (a *I420ToNV12) allocBuffer(any) (*buffer.Buffer, error) {
	return buffer.New(&buffer.Descriptor{
		PlaneCount:  1,
		PlaneSize:   a.frameSz,
		InitPlane:   initPooledPlane,
		UninitPlane: uninitPooledPlane,
		Recycle:     a.recycle,
		Accounting:  a.ctx.Accounting(),
	}, 0)
}

func (a *I420ToNV12) recycle(b *buffer.Buffer, arg any) (bool, error) {
	if a.torndown {
		return true, nil
	}
	buffer.ResetForReuse(b)
	a.ctx.PutBufferIdle(a.id, b)
	return false, nil
}

// checkReady requires both an input frame and a free output slot before
// the scheduler is allowed to pop the input buffer, so a converted frame
// is never dropped for want of somewhere to put it.
func (a *I420ToNV12) checkReady(any) (ready bool, isEnd bool) {
	return a.ctx.ChnPollInput(a.id) && a.ctx.PollIdleBuffer(a.id), false
}

func (a *I420ToNV12) run(_ any, in *buffer.Buffer) error {
	if in == nil {
		return interfaces.ErrNotReady
	}
	out := a.ctx.GetIdleBuffer(a.id)
	if out == nil {
		return interfaces.ErrNotReady
	}

	src := in.Planes[0].Virt[:in.Planes[0].BytesUsed]
	if uint64(len(src)) < a.frameSz {
		a.ctx.PutBufferIdle(a.id, out)
		return pitcher.NewChannelError("convert.run", a.id, pitcher.CodeInvalid, "short input frame")
	}
	dst := out.Planes[0].Virt[:a.frameSz]

	y := src[:a.ySize]
	u := src[a.ySize : a.ySize+a.cSize]
	v := src[a.ySize+a.cSize : a.ySize+2*a.cSize]

	copy(dst[:a.ySize], y)
	uv := dst[a.ySize:]
	for i := 0; i < a.cSize; i++ {
		uv[2*i] = u[i]
		uv[2*i+1] = v[i]
	}
	out.Planes[0].BytesUsed = a.frameSz

	if in.Flags&buffer.FlagLast != 0 {
		out.Flags |= buffer.FlagLast
	}

	a.ctx.PushBackOutput(a.id, out)
	_ = buffer.Put(out) // drop this Run's own hold; the output queue keeps its own
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
