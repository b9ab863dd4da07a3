package scheduler

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"

	"github.com/qiaoweibiao/pitcher/internal/buffer"
	"github.com/qiaoweibiao/pitcher/internal/channel"
	"github.com/qiaoweibiao/pitcher/internal/constants"
	"github.com/qiaoweibiao/pitcher/internal/interfaces"
)

// Pass executes one iteration of the 7-phase cooperative loop (spec
// §4.D): Reconfigure, Readiness, Select, Route, Execute, Reap,
// Termination test. It returns false once the loop should stop (no
// channel remains Started, or force-exit was raised).
func (c *Context) Pass() bool {
	c.reconfigure()
	c.readiness()
	ready, endedBySelect := c.selectReady()
	c.route()
	forceExit := c.execute(ready)
	c.applyCheckReadyEnd(endedBySelect)
	c.reap()
	return c.terminationTest(forceExit)
}

// reconfigure realizes every pending connection queued by Connect,
// starting both endpoints if they are not already Started. Any failure
// here forces global termination, per spec §4.D phase 1.
func (c *Context) reconfigure() {
	if len(c.pending) == 0 {
		return
	}
	pending := c.pending
	c.pending = nil

	for _, p := range pending {
		if err := c.conns.Connect(p.src, p.dst); err != nil {
			c.log.WithError(err).Error("reconfigure: connect failed, forcing termination")
			c.Terminate()
			continue
		}
		if dstCh := c.chn(p.dst); dstCh != nil {
			dstCh.SetSourceID(p.src)
		}
		for _, id := range [2]int{p.src, p.dst} {
			ch := c.chn(id)
			if ch == nil {
				continue
			}
			if ch.State() == channel.StateRegistered {
				if err := c.StartChn(id); err != nil {
					c.log.WithChannel(id).WithError(err).Error("reconfigure: start failed, forcing termination")
					c.Terminate()
				}
			}
		}
	}
}

// readiness polls the fd set with a short timeout and marks nothing
// directly — go4vl-backed adapters read their own fd's readiness inside
// CheckReady, so this phase's only job is to let the poll block briefly
// instead of busy-spinning when no fd is registered.
func (c *Context) readiness() {
	if len(c.fdToID) == 0 {
		time.Sleep(constants.PollTimeout)
		return
	}
	var events [constants.MaxEpollEvents]unix.EpollEvent
	_, _ = unix.EpollWait(c.epfd, events[:], int(constants.PollTimeout/time.Millisecond))
}

// selectReady builds the set of Started, non-Ended channels whose
// CheckReady returns true, and separately the set reporting isEnd. A
// channel may legitimately report (ready=true, isEnd=true) in the same
// call — this is its last unit of work, not a reason to skip it — so the
// Ended transition is deferred to applyCheckReadyEnd, run after execute,
// per spec §4.D's "mark the channel Ended after this pass" (not during
// Select, which would make execute() skip a channel still owed its Run).
func (c *Context) selectReady() (ready []int, endedBySelect []int) {
	for id, ch := range c.slots {
		if ch == nil || ch.State() != channel.StateStarted {
			continue
		}
		if ch.Desc().CheckReady == nil {
			ready = append(ready, id)
			continue
		}
		isReady, isEnd := ch.Desc().CheckReady(ch.Desc().Arg)
		if isEnd {
			endedBySelect = append(endedBySelect, id)
		}
		if isReady {
			ready = append(ready, id)
		}
	}
	return ready, endedBySelect
}

// applyCheckReadyEnd transitions every channel selectReady flagged isEnd
// to Ended, once this pass's execute has had the chance to run it. A
// channel execute already ended for another reason (error, or observing
// its own input's LAST) is left alone.
func (c *Context) applyCheckReadyEnd(ids []int) {
	for _, id := range ids {
		ch := c.chn(id)
		if ch != nil && ch.State() == channel.StateStarted {
			ch.SetState(channel.StateEnded)
		}
	}
}

// route moves buffers along every dst with a source, subject to the
// skip-ratio algorithm, transferring exactly one refcount per move.
func (c *Context) route() {
	for dstID, dstCh := range c.slots {
		if dstCh == nil || dstCh.State() != channel.StateStarted {
			continue
		}
		srcID, ok := c.conns.Source(dstID)
		if !ok {
			continue
		}
		srcCh := c.chn(srcID)
		if srcCh == nil {
			continue
		}
		for srcCh.OutputLen() > 0 {
			if !c.conns.Deliver(dstID) {
				c.observer.ObserveSkip(dstID)
				b := srcCh.PopOutput()
				if b == nil {
					break
				}
				// A dropped buffer still carries the output queue's one
				// refcount (PushOutput bumped it); release it here since
				// it never reaches PushInput to hand that ref onward. Its
				// LAST flag, if any, still has to reach dst — end of
				// stream can't be silently dropped along with the frame.
				if b.Flags&buffer.FlagLast != 0 {
					dstCh.SetInputEnded(true)
				}
				_ = buffer.Put(b)
				continue
			}
			b := srcCh.PopOutput()
			if b == nil {
				break
			}
			dstCh.PushInput(b)
			if b.Flags&buffer.FlagLast != 0 {
				dstCh.SetInputEnded(true)
			}
		}
	}
}

// execute runs each selected channel once, consuming at most one input
// buffer. It returns true if the force-exit condition was raised: a
// channel ended this pass having produced zero frames.
func (c *Context) execute(ready []int) bool {
	forceExit := false
	for _, id := range ready {
		ch := c.chn(id)
		if ch == nil || ch.State() != channel.StateStarted {
			continue
		}

		in := ch.PopInput()

		start := time.Now()
		err := ch.Desc().Run(ch.Desc().Arg, in)
		latency := uint64(time.Since(start).Nanoseconds())

		if in != nil {
			_ = buffer.Put(in)
		}

		switch {
		case err == nil:
			ch.IncFrameCount()
			var bytesUsed uint64
			if in != nil && len(in.Planes) > 0 {
				bytesUsed = in.Planes[0].BytesUsed
			}
			c.observer.ObserveFrame(id, bytesUsed, latency)
		case errors.Is(err, interfaces.ErrNotReady):
			// retried next pass
		default:
			c.log.WithChannel(id).WithError(err).Warn("run failed, ending channel")
			ch.SetState(channel.StateEnded)
			if ch.FrameCount() == 0 {
				forceExit = true
			}
		}

		if ch.InputEnded() && ch.InputLen() == 0 {
			ch.SetState(channel.StateEnded)
		}
	}
	return forceExit
}

// reap transitions every channel marked Ended this pass out: deliver what
// it produced on its last run, stop it, release its connections, and
// propagate end-of-stream downstream.
func (c *Context) reap() {
	// Route once more before any edge is released, so output pushed by a
	// channel that ended during this pass's execute still reaches its dst.
	c.route()
	for id, ch := range c.slots {
		if ch == nil || ch.State() != channel.StateEnded {
			continue
		}
		if !ch.Stopped() {
			_ = c.StopChn(id)
		}

		for dstID, dst := range c.slots {
			if dst == nil {
				continue
			}
			if src, ok := c.conns.Source(dstID); ok && src == id {
				c.conns.Disconnect(dstID)
				dst.SetSourceID(constants.NoSourceID)
				dst.SetInputEnded(true)
			}
		}
	}
}

// terminationTest forces every channel Ended when the termination flag
// or forceExit is set, and reports whether the loop should continue.
func (c *Context) terminationTest(forceExit bool) bool {
	if forceExit {
		c.forceExit.Store(true)
		c.Terminate()
	}
	if c.Terminated() {
		for id, ch := range c.slots {
			if ch != nil && ch.State() != channel.StateEnded {
				_ = c.StopChn(id)
			}
		}
	}
	for _, ch := range c.slots {
		if ch != nil && ch.State() == channel.StateStarted {
			return true
		}
	}
	return false
}
