// Package scheduler implements the cooperative single-threaded pass that
// drives every registered channel: readiness polling, buffer routing
// across the connection table, lifecycle invocation, and graph teardown
// on termination (spec §4.D).
package scheduler

import (
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/qiaoweibiao/pitcher/internal/buffer"
	"github.com/qiaoweibiao/pitcher/internal/channel"
	"github.com/qiaoweibiao/pitcher/internal/constants"
	"github.com/qiaoweibiao/pitcher/internal/graph"
	"github.com/qiaoweibiao/pitcher/internal/interfaces"
	"github.com/qiaoweibiao/pitcher/internal/logging"
)

type pendingConnect struct {
	src, dst int
}

// Context owns every channel, the connection table, the readiness poll
// set, and the memory-accounting counter. It is not safe for concurrent
// use — like the teacher's queue runner, exactly one goroutine is meant
// to drive Pass/Run.
type Context struct {
	slots []*channel.Channel
	conns *graph.Table

	pending []pendingConnect

	epfd    int
	fdToID  map[int]int

	memCounter atomic.Int64
	terminate  atomic.Bool
	forceExit  atomic.Bool

	log      *logging.Logger
	observer interfaces.Observer
}

// NewContext creates a Context with room for constants.MaxNodes channels
// and an epoll-backed readiness poll set.
func NewContext(log *logging.Logger, observer interfaces.Observer) (*Context, error) {
	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.Default()
	}
	if observer == nil {
		observer = noopObserver{}
	}
	return &Context{
		slots:  make([]*channel.Channel, constants.MaxNodes),
		conns:  graph.NewTable(constants.MaxNodes),
		epfd:   epfd,
		fdToID: make(map[int]int),
		log:    log.WithOp("scheduler"),
		observer: observer,
	}, nil
}

// Close releases the poll set. Call once the scheduler loop has exited.
func (c *Context) Close() error {
	return unix.Close(c.epfd)
}

// MemCounter reports the live allocation counter (buffers currently
// allocated). Used only for leak detection in tests, per spec §3.
func (c *Context) MemCounter() int64 { return c.memCounter.Load() }

// Accounting returns a buffer.Accounting backed by this Context's memory
// counter. Adapters must pass this into every buffer.Descriptor they build
// in AllocBuffer so allocation and destruction are tracked symmetrically;
// the counter is otherwise never touched by the scheduler itself.
func (c *Context) Accounting() buffer.Accounting { return ctxAccounting{&c.memCounter} }

type ctxAccounting struct {
	counter *atomic.Int64
}

func (a ctxAccounting) Alloc() { a.counter.Add(1) }
func (a ctxAccounting) Free()  { a.counter.Add(-1) }

// Terminate sets the sticky, process-wide termination flag. Safe to call
// from a signal handler.
func (c *Context) Terminate() { c.terminate.Store(true) }

// Terminated reports whether Terminate has been called.
func (c *Context) Terminated() bool { return c.terminate.Load() }

// ForceExited reports whether any channel was ever force-ended having
// produced zero frames (spec §7's nonzero-exit condition).
func (c *Context) ForceExited() bool { return c.forceExit.Load() }

// RegisterChn inserts desc into the first free slot, registers its fd
// with the poll set if desc.Fd >= 0, and calls desc.Init if present.
func (c *Context) RegisterChn(desc *interfaces.UnitDescriptor) (int, error) {
	id := -1
	for i, s := range c.slots {
		if s == nil {
			id = i
			break
		}
	}
	if id < 0 {
		return -1, ErrNoSlot
	}

	ch := channel.New(id, desc)

	if desc.Init != nil {
		if err := desc.Init(desc.Arg); err != nil {
			return -1, err
		}
	}

	if desc.Fd >= 0 {
		ev := unix.EpollEvent{Events: desc.Events, Fd: int32(desc.Fd)}
		if err := unix.EpollCtl(c.epfd, unix.EPOLL_CTL_ADD, desc.Fd, &ev); err != nil {
			return -1, err
		}
		c.fdToID[desc.Fd] = id
	}

	if desc.AllocBuffer != nil {
		for i := 0; i < desc.BufferCount; i++ {
			b, err := desc.AllocBuffer(desc.Arg)
			if err != nil {
				return -1, err
			}
			ch.TrackAllocated(b)
		}
	}

	ch.SetState(channel.StateRegistered)
	c.slots[id] = ch
	return id, nil
}

// UnregisterChn calls Cleanup if present, removes any registered fd,
// drains every queue the channel owns, and frees the slot. Silent if id
// is invalid, per spec §4.B.
func (c *Context) UnregisterChn(id int) {
	ch := c.chn(id)
	if ch == nil {
		return
	}

	if ch.Desc().Cleanup != nil {
		if err := ch.Desc().Cleanup(ch.Desc().Arg); err != nil {
			c.log.WithChannel(id).WithError(err).Warn("cleanup failed")
		}
	}

	if ch.Fd() >= 0 {
		_ = unix.EpollCtl(c.epfd, unix.EPOLL_CTL_DEL, ch.Fd(), nil)
		delete(c.fdToID, ch.Fd())
	}

	ch.DrainAll()

	c.conns.Disconnect(id)
	ch.SetState(channel.StateUnregistered)
	c.slots[id] = nil
}

// StartChn transitions id Registered -> Started and calls its Start
// callback, then seeds the idle pool from every allocated buffer the
// adapter did not already claim (refcount still 1).
func (c *Context) StartChn(id int) error {
	ch := c.chn(id)
	if ch == nil || ch.State() != channel.StateRegistered {
		return ErrInvalid
	}

	if ch.Desc().Start != nil {
		if err := ch.Desc().Start(ch.Desc().Arg); err != nil {
			return err
		}
	}

	for _, b := range ch.Allocated() {
		if buffer.Refcount(b) == 1 {
			ch.PutIdle(b)
		}
	}

	ch.SetState(channel.StateStarted)
	ch.SetStarted(true)
	return nil
}

// StopChn transitions id Started -> Ended, calls Stop, and clears its
// connection references.
func (c *Context) StopChn(id int) error {
	ch := c.chn(id)
	if ch == nil {
		return ErrInvalid
	}
	if ch.Started() && !ch.Stopped() {
		if ch.Desc().Stop != nil {
			if err := ch.Desc().Stop(ch.Desc().Arg); err != nil {
				c.log.WithChannel(id).WithError(err).Warn("stop failed")
			}
		}
		ch.SetStopped(true)
		c.observer.ObserveEnd(id, ch.FrameCount())
	}
	c.conns.Disconnect(id)
	ch.SetState(channel.StateEnded)
	return nil
}

// Connect validates and queues src->dst as a pending connection; it is
// realized (and both endpoints started) on the next Reconfigure phase,
// per the "single quiescent reconfiguration step" rule.
func (c *Context) Connect(src, dst int) error {
	srcCh, dstCh := c.chn(src), c.chn(dst)
	if srcCh == nil || dstCh == nil {
		return ErrInvalid
	}
	if _, ok := c.conns.Source(dst); ok {
		return ErrAlreadyConnected
	}
	for _, p := range c.pending {
		if p.dst == dst {
			return ErrAlreadyConnected
		}
	}
	c.pending = append(c.pending, pendingConnect{src: src, dst: dst})
	return nil
}

// Disconnect clears the edge feeding dst immediately (no-op if absent).
func (c *Context) Disconnect(dst int) {
	c.conns.Disconnect(dst)
	if ch := c.chn(dst); ch != nil {
		ch.SetSourceID(constants.NoSourceID)
	}
}

// SetSkip sets the frame-skip ratio on the edge feeding dst.
func (c *Context) SetSkip(dst, num, den int) error {
	return c.conns.SetSkip(dst, num, den)
}

// PollIdleBuffer, GetIdleBuffer, PutBufferIdle, PushBackOutput and
// ChnPollInput expose the per-channel queue operations of spec §4.B to
// adapters, addressed by channel id.

func (c *Context) PollIdleBuffer(id int) bool {
	ch := c.chn(id)
	return ch != nil && ch.PollIdle()
}

func (c *Context) GetIdleBuffer(id int) *buffer.Buffer {
	ch := c.chn(id)
	if ch == nil {
		return nil
	}
	return ch.GetIdle()
}

func (c *Context) PutBufferIdle(id int, b *buffer.Buffer) {
	ch := c.chn(id)
	if ch == nil || b == nil {
		return
	}
	ch.PutIdle(b)
}

func (c *Context) PushBackOutput(id int, b *buffer.Buffer) {
	ch := c.chn(id)
	if ch == nil || b == nil {
		return
	}
	ch.PushOutput(b)
	c.observer.ObserveQueueDepth(id, ch.OutputLen())
}

func (c *Context) ChnPollInput(id int) bool {
	ch := c.chn(id)
	return ch != nil && ch.PollInput()
}

func (c *Context) chn(id int) *channel.Channel {
	if id < 0 || id >= len(c.slots) {
		return nil
	}
	return c.slots[id]
}

type noopObserver struct{}

func (noopObserver) ObserveFrame(int, uint64, uint64) {}
func (noopObserver) ObserveDrop(int)                  {}
func (noopObserver) ObserveSkip(int)                  {}
func (noopObserver) ObserveEnd(int, uint64)           {}
func (noopObserver) ObserveQueueDepth(int, int)       {}
