// Package pitcher implements a single-threaded, cooperatively scheduled
// video pipeline runtime: channels (named processing units backed by
// adapter-supplied lifecycle callbacks) are wired into a graph through a
// connection table with per-edge frame-skip ratios, and driven by a
// Context's repeated Pass over the graph until every channel reaches Ended.
package pitcher

import (
	stdctx "context"
	"time"

	"github.com/qiaoweibiao/pitcher/internal/buffer"
	"github.com/qiaoweibiao/pitcher/internal/interfaces"
	"github.com/qiaoweibiao/pitcher/internal/logging"
	"github.com/qiaoweibiao/pitcher/internal/scheduler"
)

// Options configures a new Context.
type Options struct {
	// Logger receives debug/info/warn/error messages from the scheduler
	// and channels. Defaults to logging.Default().
	Logger *logging.Logger

	// Observer receives per-channel telemetry. Defaults to a
	// MetricsObserver backed by a freshly created Metrics, retrievable via
	// Context.Metrics().
	Observer interfaces.Observer
}

// Context owns every channel, the connection table, and the poll loop. It
// is the public entry point to the runtime; internal/scheduler.Context
// does the actual work.
type Context struct {
	sched   *scheduler.Context
	metrics *Metrics
}

// New creates a Context ready for RegisterChannel calls.
func New(opts *Options) (*Context, error) {
	if opts == nil {
		opts = &Options{}
	}

	var metrics *Metrics
	observer := opts.Observer
	if observer == nil {
		metrics = NewMetrics()
		observer = NewMetricsObserver(metrics)
	}

	sched, err := scheduler.NewContext(opts.Logger, observer)
	if err != nil {
		return nil, WrapError("New", -1, err)
	}
	return &Context{sched: sched, metrics: metrics}, nil
}

// Close releases the poll set. Call once Run has returned.
func (c *Context) Close() error { return c.sched.Close() }

// RegisterChannel inserts desc into the first free channel slot.
func (c *Context) RegisterChannel(desc *interfaces.UnitDescriptor) (int, error) {
	id, err := c.sched.RegisterChn(desc)
	if err != nil {
		return -1, WrapError("RegisterChannel", id, err)
	}
	return id, nil
}

// UnregisterChannel tears down id: Cleanup callback, fd deregistration,
// queue drain, slot release. Silent on an invalid id.
func (c *Context) UnregisterChannel(id int) { c.sched.UnregisterChn(id) }

// StartChannel transitions id Registered -> Started.
func (c *Context) StartChannel(id int) error {
	if err := c.sched.StartChn(id); err != nil {
		return WrapError("StartChannel", id, err)
	}
	return nil
}

// StopChannel transitions id to Ended, invoking its Stop callback.
func (c *Context) StopChannel(id int) error {
	if err := c.sched.StopChn(id); err != nil {
		return WrapError("StopChannel", id, err)
	}
	return nil
}

// Connect queues src -> dst; realized on the next Pass's reconfigure phase.
func (c *Context) Connect(src, dst int) error {
	if err := c.sched.Connect(src, dst); err != nil {
		return WrapError("Connect", dst, err)
	}
	return nil
}

// Disconnect clears the edge feeding dst.
func (c *Context) Disconnect(dst int) { c.sched.Disconnect(dst) }

// SetSkip sets the frame-skip ratio (num skipped out of every den) on the
// edge feeding dst.
func (c *Context) SetSkip(dst, num, den int) error {
	if err := c.sched.SetSkip(dst, num, den); err != nil {
		return WrapError("SetSkip", dst, err)
	}
	return nil
}

// Terminate sets the sticky termination flag; safe to call from a signal
// handler goroutine.
func (c *Context) Terminate() { c.sched.Terminate() }

// Terminated reports whether Terminate has fired.
func (c *Context) Terminated() bool { return c.sched.Terminated() }

// MemCounter reports the live buffer-allocation counter (spec §8's
// leak-detection property): it returns to zero once every buffer any
// adapter allocated has been destroyed.
func (c *Context) MemCounter() int64 { return c.sched.MemCounter() }

// Accounting returns the buffer.Accounting adapters must wire into every
// buffer.Descriptor they build in AllocBuffer, so MemCounter reflects real
// construction/destruction events.
func (c *Context) Accounting() buffer.Accounting { return c.sched.Accounting() }

// Metrics returns the Context's built-in Metrics, or nil if the caller
// supplied a custom Observer via Options.
func (c *Context) Metrics() *Metrics { return c.metrics }

// MetricsSnapshot returns a point-in-time snapshot, or a zero value if no
// built-in Metrics exists.
func (c *Context) MetricsSnapshot() MetricsSnapshot {
	if c.metrics == nil {
		return MetricsSnapshot{}
	}
	if c.sched != nil {
		c.metrics.SetMemCounter(c.sched.MemCounter())
	}
	return c.metrics.Snapshot()
}

// PollIdleBuffer, GetIdleBuffer, PutBufferIdle, PushBackOutput and
// ChnPollInput are the per-channel buffer-queue operations adapters call
// from within their Run/CheckReady callbacks (spec §4.B), addressed by
// channel id.

func (c *Context) PollIdleBuffer(id int) bool                { return c.sched.PollIdleBuffer(id) }
func (c *Context) GetIdleBuffer(id int) *buffer.Buffer        { return c.sched.GetIdleBuffer(id) }
func (c *Context) PutBufferIdle(id int, b *buffer.Buffer)      { c.sched.PutBufferIdle(id, b) }
func (c *Context) PushBackOutput(id int, b *buffer.Buffer)     { c.sched.PushBackOutput(id, b) }
func (c *Context) ChnPollInput(id int) bool                   { return c.sched.ChnPollInput(id) }

// Run drives Pass in a loop with no sleep of its own between passes (the
// readiness phase inside Pass already blocks up to PollTimeout). It
// returns when no channel is left Started. Once goCtx is done it calls
// Terminate, so the pass in progress or the next one winds the graph down
// and Run returns after it.
//
// The return value matches spec §7's user-visible failure rule: non-nil
// once any channel force-ended having produced zero frames.
func (c *Context) Run(goCtx stdctx.Context) error {
	if goCtx == nil {
		goCtx = stdctx.Background()
	}
	done := make(chan struct{})
	if goCtx.Done() != nil {
		go func() {
			select {
			case <-goCtx.Done():
				c.Terminate()
			case <-done:
			}
		}()
	}
	defer close(done)

	for c.sched.Pass() {
	}
	if c.metrics != nil {
		c.metrics.Stop()
	}
	if c.sched.ForceExited() {
		return NewError("Run", CodeInvalid, "a channel was force-ended having produced zero frames")
	}
	return nil
}

// RunFor is a convenience wrapper around Run for callers that want a hard
// wall-clock deadline rather than a caller-supplied context.
func (c *Context) RunFor(timeout time.Duration) error {
	goCtx, cancel := stdctx.WithTimeout(stdctx.Background(), timeout)
	defer cancel()
	return c.Run(goCtx)
}
