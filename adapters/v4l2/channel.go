// Channel adapters wiring a V4L2 M2M device's OUTPUT and CAPTURE queues
// into the pitcher graph: Output is a sink channel that feeds raw frames
// to the encoder, Capture is a source channel that dequeues the encoded
// bitstream. Both sides of one hardware transform share a *Device (one
// open fd, two queues) the way a single /dev/videoN node drives both
// directions of an M2M encoder.
package v4l2

import (
	"github.com/qiaoweibiao/pitcher"
	"github.com/qiaoweibiao/pitcher/internal/buffer"
	"github.com/qiaoweibiao/pitcher/internal/constants"
	"github.com/qiaoweibiao/pitcher/internal/interfaces"
)

// DeviceParams configures one direction (OUTPUT or CAPTURE) of an M2M
// device: the frame geometry/pixel format on that side, the buffer count
// hint, and an optional frame rate.
type DeviceParams struct {
	Name   string
	Width  int
	Height int
	PixFmt uint32

	// FrameRate, in frames per second. Zero skips VIDIOC_S_PARM entirely
	// (v4l2.c's __set_v4l2_fps convention).
	FrameRate uint32

	// NumPlanes is fixed at registration time rather than discovered from
	// the driver's S_FMT reply (go4vl's bundled format plumbing doesn't
	// surface the negotiated plane count): both adapters' real-world use
	// here is a single packed plane per frame (NV12 on the OUTPUT side,
	// an H.264 elementary stream on CAPTURE), so it defaults to 1. A
	// driver reporting IsMultiplanar still gets the correct buffer type
	// and REQBUFS/QBUF/DQBUF ioctl shape; only the plane-count-per-buffer
	// is config-provided rather than driver-discovered.
	NumPlanes int

	BufferCount int
}

// DefaultDeviceParams fills NumPlanes/BufferCount with sensible defaults.
func DefaultDeviceParams(name string, width, height int, pixFmt uint32) DeviceParams {
	return DeviceParams{
		Name:        name,
		Width:       width,
		Height:      height,
		PixFmt:      pixFmt,
		NumPlanes:   1,
		BufferCount: constants.DefaultBufferCount,
	}
}

// directionSetup is the result of negotiating one direction of a device:
// format, minimum buffer count, and the mmap'd region backing every
// requested buffer index.
type directionSetup struct {
	multiplanar bool
	planeMmaps  [][][]byte // [bufIndex][planeIndex][]byte
	bufferCount int
}

// setupDirection drives init's full negotiation sequence for one
// direction, folding in SPEC_FULL §5's supplemented V4L2 detail: the
// multiplanar branch (§"Multi-planar vs single-planar"), the min-buffers
// floor (§"Minimum-buffer-count query"), and the optional frame-rate
// ioctl (§"Frame-rate configuration"), in the same order v4l2.c's
// __set_v4l2_fmt/__get_v4l2_min_buffers/__set_v4l2_fps run them.
func setupDirection(backend Backend, fd int, dir Direction, p DeviceParams) (*directionSetup, error) {
	multiplanar, err := backend.IsMultiplanar(fd, dir)
	if err != nil {
		return nil, err
	}

	numPlanes := p.NumPlanes
	if numPlanes <= 0 {
		numPlanes = 1
	}
	planeSizes := make([]uint32, numPlanes)
	if err := backend.SetFormat(fd, dir, multiplanar, p.Width, p.Height, p.PixFmt, planeSizes); err != nil {
		return nil, err
	}

	count := p.BufferCount
	if count <= 0 {
		count = constants.DefaultBufferCount
	}
	// A driver that doesn't support the min-buffers control returns an
	// error, which is silently ignored per SPEC_FULL §5 rather than
	// failing init over an old-driver gap.
	if minB, err := backend.MinBuffers(fd, dir); err == nil && int(minB) > count {
		count = int(minB)
	}

	if p.FrameRate > 0 {
		if err := backend.SetFrameRate(fd, dir, p.FrameRate); err != nil {
			return nil, err
		}
	}

	actual, err := backend.RequestBuffers(fd, dir, multiplanar, uint32(count))
	if err != nil {
		return nil, err
	}

	mmaps := make([][][]byte, actual)
	for i := uint32(0); i < actual; i++ {
		offsets, lengths, err := backend.QueryBuffer(fd, dir, multiplanar, i, numPlanes)
		if err != nil {
			return nil, err
		}
		planes := make([][]byte, len(offsets))
		for pi := range offsets {
			mem, err := backend.Mmap(fd, offsets[pi], int(lengths[pi]))
			if err != nil {
				munmapAll(backend, mmaps[:i])
				return nil, err
			}
			planes[pi] = mem
		}
		mmaps[i] = planes
	}

	return &directionSetup{multiplanar: multiplanar, planeMmaps: mmaps, bufferCount: int(actual)}, nil
}

func munmapAll(backend Backend, mmaps [][][]byte) {
	for _, planes := range mmaps {
		for _, mem := range planes {
			_ = backend.Munmap(mem)
		}
	}
}

// Output is a sink channel that queues raw input frames onto a device's
// OUTPUT queue. It owns BufferCount mmap'd driver buffers; Run copies the
// upstream frame's bytes into one and hands it to the driver via QBUF, and
// CheckReady dequeues any buffer the driver has finished consuming back
// onto the idle pool before reporting readiness.
type Output struct {
	params DeviceParams
	dev    *Device

	ctx  *pitcher.Context
	id   int
	desc *interfaces.UnitDescriptor // cached so init can correct BufferCount in place, see Descriptor

	multiplanar bool
	planeMmaps  [][][]byte
	allocCount  int
	slots       []*buffer.Buffer // index -> buffer currently queued to the driver, or nil

	flushed  bool
	torndown bool
}

// NewOutput returns an unregistered Output adapter bound to ctx and
// sharing dev with its Capture counterpart (or used alone, for an
// OUTPUT-only device).
func NewOutput(ctx *pitcher.Context, dev *Device, params DeviceParams) (*Output, error) {
	if params.BufferCount <= 0 {
		params.BufferCount = constants.DefaultBufferCount
	}
	if params.NumPlanes <= 0 {
		params.NumPlanes = 1
	}
	return &Output{params: params, dev: dev, ctx: ctx}, nil
}

// Bind records the channel id this adapter was registered under.
func (a *Output) Bind(id int) { a.id = id }

// Descriptor builds the UnitDescriptor for RegisterChannel. The returned
// pointer is cached on a: RegisterChn calls Init before reading
// desc.BufferCount to size its AllocBuffer loop, and init (below)
// corrects BufferCount in place on that same struct once the driver's
// min-buffers query is known, so the loop allocates exactly as many
// pitcher buffers as REQBUFS actually granted rather than the
// pre-negotiation hint.
func (a *Output) Descriptor() *interfaces.UnitDescriptor {
	a.desc = &interfaces.UnitDescriptor{
		Name: a.params.Name,
		Kind: interfaces.KindV4L2Output,
		// -1: go4vl-backed adapters poll their own fd non-blockingly from
		// inside CheckReady (SPEC_FULL §5's poll()-gated dequeue), rather
		// than registering with the context's epoll set.
		Fd:          -1,
		BufferCount: a.params.BufferCount,
		Init:        a.init,
		Start:       a.start,
		Stop:        a.stop,
		Cleanup:     a.cleanup,
		AllocBuffer: a.allocBuffer,
		CheckReady:  a.checkReady,
		Run:         a.run,
	}
	return a.desc
}

func (a *Output) init(any) error {
	fd, err := a.dev.open()
	if err != nil {
		return pitcher.WrapError("v4l2.output.init", a.id, err)
	}
	setup, err := setupDirection(a.dev.Backend, fd, DirectionOutput, a.params)
	if err != nil {
		_ = a.dev.release()
		return pitcher.WrapError("v4l2.output.init", a.id, err)
	}
	a.multiplanar = setup.multiplanar
	a.planeMmaps = setup.planeMmaps
	a.params.BufferCount = setup.bufferCount
	a.slots = make([]*buffer.Buffer, setup.bufferCount)
	if a.desc != nil {
		a.desc.BufferCount = setup.bufferCount
	}
	return nil
}

func (a *Output) allocBuffer(any) (*buffer.Buffer, error) {
	idx := a.allocCount
	a.allocCount++
	planes := a.planeMmaps[idx]
	return buffer.New(&buffer.Descriptor{
		PlaneCount: len(planes),
		InitPlane: func(p *buffer.Plane, i int, _ any) error {
			p.Virt = planes[i]
			p.Size = uint64(len(planes[i]))
			return nil
		},
		UninitPlane: func(_ *buffer.Plane, i int, _ any) error {
			return a.dev.Backend.Munmap(planes[i])
		},
		Recycle:    a.recycle,
		Accounting: a.ctx.Accounting(),
	}, idx)
}

func (a *Output) recycle(b *buffer.Buffer, _ any) (bool, error) {
	if a.torndown {
		return true, nil
	}
	buffer.ResetForReuse(b)
	a.ctx.PutBufferIdle(a.id, b)
	return false, nil
}

func (a *Output) start(any) error {
	if err := a.dev.Backend.StreamOn(a.devFd(), DirectionOutput, a.multiplanar); err != nil {
		return pitcher.WrapError("v4l2.output.start", a.id, err)
	}
	return nil
}

func (a *Output) stop(any) error {
	// Belt-and-suspenders: run should already have flushed on observing
	// its own upstream LAST, but a channel can also be stopped directly
	// (Terminate, or an explicit StopChannel call) without ever seeing
	// one.
	a.doFlush()
	if err := a.dev.Backend.StreamOff(a.devFd(), DirectionOutput, a.multiplanar); err != nil {
		return pitcher.WrapError("v4l2.output.stop", a.id, err)
	}
	return nil
}

func (a *Output) cleanup(any) error {
	a.torndown = true
	for i, b := range a.slots {
		if b != nil {
			a.slots[i] = nil
			_ = buffer.Put(b)
		}
	}
	return a.dev.release()
}

// checkReady drains any buffer the driver has finished consuming back
// onto the idle pool, then reports ready only once both an input frame
// and a free driver slot exist — a converted frame (or the raw source
// frame, if there's no converter) is never popped off the input queue
// for want of somewhere to put it. It never reports isEnd itself: the
// core already transitions a sink channel to Ended as soon as it runs an
// input buffer carrying LAST with nothing left queued behind it (spec's
// end-of-stream propagation rule), which is the same pass run() issues
// Flush on, so there is no later pass left for this to report from.
func (a *Output) checkReady(any) (ready bool, isEnd bool) {
	a.drainCompleted()
	return a.ctx.ChnPollInput(a.id) && a.ctx.PollIdleBuffer(a.id), false
}

func (a *Output) drainCompleted() {
	for {
		ready, err := a.dev.Backend.Poll(a.devFd(), DirectionOutput, 0)
		if err != nil || !ready {
			return
		}
		dq, err := a.dev.Backend.DequeueBuffer(a.devFd(), DirectionOutput, a.multiplanar)
		if err != nil {
			return
		}
		if int(dq.Index) >= len(a.slots) {
			return
		}
		b := a.slots[dq.Index]
		a.slots[dq.Index] = nil
		if b != nil {
			_ = buffer.Put(b)
		}
	}
}

func (a *Output) run(_ any, in *buffer.Buffer) error {
	if in == nil {
		return interfaces.ErrNotReady
	}
	out := a.ctx.GetIdleBuffer(a.id)
	if out == nil {
		return interfaces.ErrNotReady
	}
	src := in.Planes[0].Virt[:in.Planes[0].BytesUsed]
	n := copy(out.Planes[0].Virt, src)
	out.Planes[0].BytesUsed = uint64(n)

	if err := a.dev.Backend.QueueBuffer(a.devFd(), DirectionOutput, a.multiplanar, uint32(out.Index), []uint32{uint32(n)}); err != nil {
		a.ctx.PutBufferIdle(a.id, out)
		return pitcher.WrapError("v4l2.output.run", a.id, err)
	}
	// The driver is now out's sole holder (it left the idle pool and
	// entered a.slots, never an output queue — Output is terminal, it has
	// no downstream channel); no extra Get/Put needed to balance this.
	a.slots[out.Index] = out
	if in.Flags&buffer.FlagLast != 0 {
		a.doFlush()
	}
	return nil
}

// doFlush issues VIDIOC_ENCODER_CMD(STOP) at most once, telling the
// encoder no more OUTPUT is coming so it drains and tags the last
// CAPTURE buffer LAST.
func (a *Output) doFlush() {
	if a.flushed {
		return
	}
	a.flushed = true
	_ = a.dev.Backend.Flush(a.devFd())
}

func (a *Output) devFd() int { return a.dev.fd() }

// Capture is a source channel that dequeues encoded frames from a
// device's CAPTURE queue. It primes the driver with every idle buffer
// (seeded by the scheduler's post-Start sweep, same as any other source
// channel) and, once a buffer comes back via DQBUF, pushes it downstream;
// recycle re-queues it to the driver instead of merely idling it, so a
// capture buffer cycles continuously through hardware.
type Capture struct {
	params DeviceParams
	dev    *Device

	ctx  *pitcher.Context
	id   int
	desc *interfaces.UnitDescriptor

	multiplanar bool
	planeMmaps  [][][]byte
	allocCount  int
	slots       []*buffer.Buffer

	ended    bool
	torndown bool
}

// NewCapture returns an unregistered Capture adapter bound to ctx and
// sharing dev with its Output counterpart (or used alone, for a
// CAPTURE-only device such as a plain camera).
func NewCapture(ctx *pitcher.Context, dev *Device, params DeviceParams) (*Capture, error) {
	if params.BufferCount <= 0 {
		params.BufferCount = constants.DefaultBufferCount
	}
	if params.NumPlanes <= 0 {
		params.NumPlanes = 1
	}
	return &Capture{params: params, dev: dev, ctx: ctx}, nil
}

// Bind records the channel id this adapter was registered under.
func (a *Capture) Bind(id int) { a.id = id }

// Descriptor builds the UnitDescriptor for RegisterChannel; see Output's
// Descriptor doc comment for why the pointer is cached on a.
func (a *Capture) Descriptor() *interfaces.UnitDescriptor {
	a.desc = &interfaces.UnitDescriptor{
		Name:        a.params.Name,
		Kind:        interfaces.KindV4L2Capture,
		Fd:          -1,
		BufferCount: a.params.BufferCount,
		Init:        a.init,
		Start:       a.start,
		Stop:        a.stop,
		Cleanup:     a.cleanup,
		AllocBuffer: a.allocBuffer,
		CheckReady:  a.checkReady,
		Run:         a.run,
	}
	return a.desc
}

func (a *Capture) init(any) error {
	fd, err := a.dev.open()
	if err != nil {
		return pitcher.WrapError("v4l2.capture.init", a.id, err)
	}
	setup, err := setupDirection(a.dev.Backend, fd, DirectionCapture, a.params)
	if err != nil {
		_ = a.dev.release()
		return pitcher.WrapError("v4l2.capture.init", a.id, err)
	}
	a.multiplanar = setup.multiplanar
	a.planeMmaps = setup.planeMmaps
	a.params.BufferCount = setup.bufferCount
	a.slots = make([]*buffer.Buffer, setup.bufferCount)
	if a.desc != nil {
		a.desc.BufferCount = setup.bufferCount
	}
	return nil
}

func (a *Capture) allocBuffer(any) (*buffer.Buffer, error) {
	idx := a.allocCount
	a.allocCount++
	planes := a.planeMmaps[idx]
	return buffer.New(&buffer.Descriptor{
		PlaneCount: len(planes),
		InitPlane: func(p *buffer.Plane, i int, _ any) error {
			p.Virt = planes[i]
			p.Size = uint64(len(planes[i]))
			return nil
		},
		UninitPlane: func(_ *buffer.Plane, i int, _ any) error {
			return a.dev.Backend.Munmap(planes[i])
		},
		Recycle:    a.recycle,
		Accounting: a.ctx.Accounting(),
	}, idx)
}

// recycle re-queues a drained buffer straight back to the driver rather
// than parking it in the idle pool, so the capture side never needs a
// separate priming pass after the first one. If that re-queue fails, the
// buffer is parked in the idle pool instead and prime retries it.
func (a *Capture) recycle(b *buffer.Buffer, _ any) (bool, error) {
	if a.torndown {
		return true, nil
	}
	buffer.ResetForReuse(b)
	if err := a.dev.Backend.QueueBuffer(a.devFd(), DirectionCapture, a.multiplanar, uint32(b.Index), nil); err != nil {
		a.ctx.PutBufferIdle(a.id, b)
		return false, pitcher.WrapError("v4l2.capture.recycle", a.id, err)
	}
	a.slots[b.Index] = b
	return false, nil
}

func (a *Capture) start(any) error {
	if err := a.dev.Backend.StreamOn(a.devFd(), DirectionCapture, a.multiplanar); err != nil {
		return pitcher.WrapError("v4l2.capture.start", a.id, err)
	}
	return nil
}

func (a *Capture) stop(any) error {
	if err := a.dev.Backend.StreamOff(a.devFd(), DirectionCapture, a.multiplanar); err != nil {
		return pitcher.WrapError("v4l2.capture.stop", a.id, err)
	}
	return nil
}

func (a *Capture) cleanup(any) error {
	a.torndown = true
	for i, b := range a.slots {
		if b != nil {
			a.slots[i] = nil
			_ = buffer.Put(b)
		}
	}
	return a.dev.release()
}

// prime hands every currently-idle buffer to the driver. It runs at the
// top of every CheckReady: the first time it queues the buffers Start
// seeded into the idle pool, and later only finds buffers whose re-queue
// in recycle failed and fell back to idling (see recycle).
func (a *Capture) prime() {
	for a.ctx.PollIdleBuffer(a.id) {
		b := a.ctx.GetIdleBuffer(a.id)
		if b == nil {
			return
		}
		if err := a.dev.Backend.QueueBuffer(a.devFd(), DirectionCapture, a.multiplanar, uint32(b.Index), nil); err != nil {
			a.ctx.PutBufferIdle(a.id, b)
			return
		}
		a.slots[b.Index] = b
	}
}

func (a *Capture) checkReady(any) (ready bool, isEnd bool) {
	if a.ended {
		return false, true
	}
	a.prime()
	ok, err := a.dev.Backend.Poll(a.devFd(), DirectionCapture, 0)
	if err != nil {
		return false, false
	}
	return ok, false
}

// run dequeues one completed CAPTURE buffer and pushes it downstream,
// propagating the driver's own V4L2_BUF_FLAG_LAST into the pitcher LAST
// flag (SPEC_FULL §5's "LAST flag sourced from V4L2_BUF_FLAG_LAST").
// After a LAST buffer, the next CheckReady reports end.
func (a *Capture) run(_ any, _ *buffer.Buffer) error {
	dq, err := a.dev.Backend.DequeueBuffer(a.devFd(), DirectionCapture, a.multiplanar)
	if err != nil {
		return pitcher.WrapError("v4l2.capture.run", a.id, err)
	}
	if int(dq.Index) >= len(a.slots) || a.slots[dq.Index] == nil {
		return pitcher.NewChannelError("v4l2.capture.run", a.id, pitcher.CodeInvalid, "dequeued unknown buffer index")
	}
	b := a.slots[dq.Index]
	a.slots[dq.Index] = nil

	if len(dq.BytesUsed) > 0 {
		b.Planes[0].BytesUsed = uint64(dq.BytesUsed[0])
	}
	if dq.Last {
		b.Flags |= buffer.FlagLast
		a.ended = true
	}

	a.ctx.PushBackOutput(a.id, b)
	_ = buffer.Put(b) // drop this Run's own hold; the output queue keeps its own
	return nil
}

func (a *Capture) devFd() int { return a.dev.fd() }
