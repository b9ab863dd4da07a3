package pitcher

import "github.com/qiaoweibiao/pitcher/internal/constants"

// Re-exported tunables, following the teacher's pattern of surfacing the
// internal constants package at the root for adapter authors who don't
// want to import internal/constants directly.
const (
	MaxNodes           = constants.MaxNodes
	MaxPlanesPerBuffer = constants.MaxPlanesPerBuffer
	DefaultBufferCount = constants.DefaultBufferCount
	DefaultPlaneSize   = constants.DefaultPlaneSize
	NoSourceID         = constants.NoSourceID
	NoFd               = constants.NoFd
	PollTimeout        = constants.PollTimeout
	MaxEpollEvents     = constants.MaxEpollEvents
)
