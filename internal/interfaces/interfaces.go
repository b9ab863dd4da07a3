// Package interfaces defines the adapter-facing contract a channel plugs
// into the pitcher core through, and the small ambient Logger/Observer
// contracts used across the runtime. It is kept separate from the public
// root package to avoid an import cycle between the channel/scheduler
// internals and the public API that wires them together.
package interfaces

import (
	"errors"

	"github.com/qiaoweibiao/pitcher/internal/buffer"
)

// ErrNotReady is returned by Run when a channel has no capacity to consume
// or produce a buffer this pass; the scheduler retries on the next pass.
// This is not a failure of the channel.
var ErrNotReady = errors.New("pitcher: not ready")

// Kind tags a channel with the adapter family it belongs to, purely for
// logging/metrics labeling — dispatch never switches on it.
type Kind string

const (
	KindFileIn      Kind = "file_in"
	KindFileOut     Kind = "file_out"
	KindConvert     Kind = "convert"
	KindV4L2Capture Kind = "v4l2_capture"
	KindV4L2Output  Kind = "v4l2_output"
	KindControl     Kind = "control"
)

// UnitDescriptor is the adapter-facing surface a channel is registered
// with. Every callback except Run is optional; a nil callback means "no
// lifecycle action at that transition" (the core guarantees it never calls
// a nil callback).
type UnitDescriptor struct {
	// Name identifies the channel; truncated to 64 bytes by the caller.
	Name string
	Kind Kind

	Init        func(arg any) error
	Cleanup     func(arg any) error
	Start       func(arg any) error
	Stop        func(arg any) error
	AllocBuffer func(arg any) (*buffer.Buffer, error)

	// CheckReady reports whether Run should be invoked this pass, and
	// whether the channel has reached end-of-stream (in which case the
	// scheduler transitions it to Ended once this pass completes). It must
	// be cheap and side-effect-free beyond updating the adapter's own
	// end-of-stream bookkeeping; it is called frequently and must never
	// block.
	CheckReady func(arg any) (ready bool, isEnd bool)

	// Run consumes at most one input buffer (nil if the channel has no
	// upstream, e.g. a source) and may emit buffers onto its own output
	// queue via the channel's PushBackOutput. It returns ErrNotReady to
	// ask for a retry next pass, or any other error to mark the channel
	// Ended.
	Run func(arg any, buf *buffer.Buffer) error

	// BufferCount is a hint; adapters may clamp it to a device minimum.
	BufferCount int

	// Fd, when >= 0, is registered with the context's poll set under
	// Events. -1 skips fd registration (the channel is driven purely by
	// the scheduler's per-pass select/route/execute phases).
	Fd     int
	Events uint32

	// Arg is the opaque per-channel argument forwarded to every callback.
	Arg any
}

// Logger is the minimal logging contract adapters and internals depend on.
type Logger interface {
	Printf(format string, args ...any)
	Debugf(format string, args ...any)
}

// Observer receives scheduler/channel telemetry. Implementations must be
// safe to call from the scheduler's single thread only — no concurrent
// calls are ever made, matching the single-threaded cooperative model.
type Observer interface {
	ObserveFrame(channelID int, bytesUsed uint64, latencyNs uint64)
	ObserveDrop(channelID int)
	ObserveSkip(channelID int)
	ObserveEnd(channelID int, framesProduced uint64)
	ObserveQueueDepth(channelID int, depth int)
}
