// Package constants holds tunables shared across the pitcher runtime.
package constants

import "time"

// Core sizing constants
const (
	// MaxNodes bounds the dense channel-id space a Context allocates slots
	// from. Channel ids are always in [0, MaxNodes).
	MaxNodes = 64

	// MaxPlanesPerBuffer is the V4L2 adapter's plane cap; the core itself
	// imposes no hard limit on plane count.
	MaxPlanesPerBuffer = 8

	// DefaultBufferCount is used when a channel descriptor doesn't specify
	// BufferCount.
	DefaultBufferCount = 4

	// DefaultPlaneSize is the fallback plane allocation size for adapters
	// that don't know their frame size up front.
	DefaultPlaneSize = 1 << 20 // 1MB

	// NoSourceID marks a channel with no upstream connection.
	NoSourceID = -1

	// NoFd marks a channel descriptor that doesn't register a readiness fd.
	NoFd = -1
)

// Timing constants for the scheduler loop.
//
// The scheduler is cooperative and single-threaded: only the readiness poll
// (phase 2 of a pass) may block, and only for a short, bounded time so that
// every channel gets a turn at a predictable cadence.
const (
	// PollTimeout bounds how long a scheduler pass blocks waiting for fd
	// readiness events before moving on to select/route/execute.
	PollTimeout = 4 * time.Millisecond

	// MaxEpollEvents bounds how many ready fds a single EpollWait call
	// drains in one pass.
	MaxEpollEvents = 32
)
