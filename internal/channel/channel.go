// Package channel implements the pitcher runtime's named processing unit:
// an idle pool, an output queue, a per-upstream-edge input queue, and the
// Unregistered->Registered->Started->Ended state machine described in
// spec §3/§4.B. A Channel never calls its own adapter callbacks — the
// scheduler package owns lifecycle invocation so it can enforce ordering
// and error propagation across the whole graph; Channel itself is just the
// bookkeeping the scheduler drives.
package channel

import (
	"github.com/qiaoweibiao/pitcher/internal/buffer"
	"github.com/qiaoweibiao/pitcher/internal/constants"
	"github.com/qiaoweibiao/pitcher/internal/interfaces"
)

// Channel is a named processing unit with pluggable lifecycle callbacks.
type Channel struct {
	id   int
	desc *interfaces.UnitDescriptor

	state      State
	sourceID   int
	frameCount uint64
	inputEnded bool
	stopped    bool
	started    bool

	idle      []*buffer.Buffer
	output    []*buffer.Buffer
	input     []*buffer.Buffer
	allocated []*buffer.Buffer
	retired   []*buffer.Buffer
}

// New creates a Channel bound to desc, not yet registered.
func New(id int, desc *interfaces.UnitDescriptor) *Channel {
	return &Channel{
		id:       id,
		desc:     desc,
		state:    StateUnregistered,
		sourceID: constants.NoSourceID,
	}
}

func (c *Channel) ID() int                        { return c.id }
func (c *Channel) Name() string                    { return c.desc.Name }
func (c *Channel) Kind() interfaces.Kind           { return c.desc.Kind }
func (c *Channel) Desc() *interfaces.UnitDescriptor { return c.desc }
func (c *Channel) State() State                    { return c.state }
func (c *Channel) SetState(s State)                { c.state = s }
func (c *Channel) Fd() int                         { return c.desc.Fd }
func (c *Channel) Events() uint32                  { return c.desc.Events }

func (c *Channel) SourceID() int      { return c.sourceID }
func (c *Channel) SetSourceID(id int) { c.sourceID = id }
func (c *Channel) HasSource() bool    { return c.sourceID != constants.NoSourceID }

func (c *Channel) FrameCount() uint64 { return c.frameCount }
func (c *Channel) IncFrameCount()     { c.frameCount++ }

// InputEnded reports whether this channel's input has been marked ended,
// either by observing a LAST-flagged buffer drain or by synthetic
// end-of-input propagation from an upstream channel that ended without
// ever emitting LAST.
func (c *Channel) InputEnded() bool    { return c.inputEnded }
func (c *Channel) SetInputEnded(v bool) { c.inputEnded = v }

// Stopped reports whether the Stop callback has already fired, so the
// scheduler can call StopChn more than once across the state transitions
// of a single pass without invoking Stop twice.
func (c *Channel) Stopped() bool      { return c.stopped }
func (c *Channel) SetStopped(v bool)  { c.stopped = v }

// Started reports whether the channel ever reached StateStarted — a
// channel that never did may skip its Stop callback entirely.
func (c *Channel) Started() bool     { return c.started }
func (c *Channel) SetStarted(v bool) { c.started = v }

// TrackAllocated remembers a buffer this channel's AllocBuffer callback
// produced; StartChn reads this list to seed the idle pool with every
// allocated buffer not already claimed by the adapter.
func (c *Channel) TrackAllocated(b *buffer.Buffer) {
	c.allocated = append(c.allocated, b)
}

func (c *Channel) Allocated() []*buffer.Buffer { return c.allocated }

// PollIdle reports whether the idle pool has a buffer available.
func (c *Channel) PollIdle() bool { return len(c.idle) > 0 }

// GetIdle pops one buffer from the idle pool, refcount already 1. Returns
// nil if the pool is empty.
func (c *Channel) GetIdle() *buffer.Buffer {
	if len(c.idle) == 0 {
		return nil
	}
	b := c.idle[0]
	c.idle = c.idle[1:]
	return b
}

// PutIdle resets b's refcount to 1 and pushes it onto the idle pool. Once
// the channel has ended the buffer is no longer offered as idle; it is
// held aside instead and released by DrainAll at teardown.
func (c *Channel) PutIdle(b *buffer.Buffer) {
	if b == nil {
		return
	}
	buffer.ResetForReuse(b)
	if c.state == StateEnded {
		c.retired = append(c.retired, b)
		return
	}
	c.idle = append(c.idle, b)
}

// PushOutput appends b to the output queue, bumping its refcount. Silently
// drops the buffer once the channel has ended.
func (c *Channel) PushOutput(b *buffer.Buffer) {
	if b == nil || c.state == StateEnded {
		return
	}
	buffer.Get(b)
	c.output = append(c.output, b)
}

// PopOutput pops the oldest buffer off the output queue (FIFO), or nil.
func (c *Channel) PopOutput() *buffer.Buffer {
	if len(c.output) == 0 {
		return nil
	}
	b := c.output[0]
	c.output = c.output[1:]
	return b
}

func (c *Channel) OutputLen() int { return len(c.output) }

// PushInput appends a buffer delivered by the router to this channel's
// input queue. The router has already transferred one refcount to this
// edge, so PushInput does not bump it again.
func (c *Channel) PushInput(b *buffer.Buffer) {
	c.input = append(c.input, b)
}

// PopInput pops the oldest buffer off the input queue, or nil if empty.
func (c *Channel) PopInput() *buffer.Buffer {
	if len(c.input) == 0 {
		return nil
	}
	b := c.input[0]
	c.input = c.input[1:]
	return b
}

func (c *Channel) PollInput() bool { return len(c.input) > 0 }
func (c *Channel) InputLen() int   { return len(c.input) }

// DrainAll empties every queue the channel owns, putting each buffer
// exactly once (used during unregister_chn teardown). It returns the
// number of buffers released so callers can sanity-check accounting.
func (c *Channel) DrainAll() int {
	n := 0
	for _, b := range c.idle {
		_ = buffer.Put(b)
		n++
	}
	c.idle = nil
	for _, b := range c.output {
		_ = buffer.Put(b)
		n++
	}
	c.output = nil
	for _, b := range c.input {
		_ = buffer.Put(b)
		n++
	}
	c.input = nil
	for _, b := range c.retired {
		_ = buffer.Put(b)
		n++
	}
	c.retired = nil
	return n
}
