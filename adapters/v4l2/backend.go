// Package v4l2 implements the V4L2 memory-to-memory capture/output
// channel adapters (go4vl-backed): Output feeds raw frames to the
// hardware encoder's OUTPUT queue, Capture dequeues encoded frames from
// its CAPTURE queue. Both directions share a Device and talk to the
// kernel exclusively through the Backend interface, so tests run
// against a fake in-memory driver instead of a real /dev/videoN node —
// go4vl has no loopback test device, the same gap the teacher's
// NewStubRunner/stubLoop fill for /dev/ublkc*.
package v4l2

// Direction distinguishes the OUTPUT queue (application -> driver, the
// raw frames fed to the encoder) from the CAPTURE queue (driver ->
// application, the encoded bitstream).
type Direction int

const (
	DirectionOutput Direction = iota
	DirectionCapture
)

// DequeuedBuffer reports what VIDIOC_DQBUF returned for one buffer.
type DequeuedBuffer struct {
	Index      uint32
	BytesUsed  []uint32 // one entry per plane
	Last       bool     // V4L2_BUF_FLAG_LAST was set
	Error      bool     // V4L2_BUF_FLAG_ERROR was set
}

// Backend is the ioctl/mmap seam every real V4L2 call goes through.
// Production code is backed by go4vl's v4l2 package plus
// golang.org/x/sys/unix for mmap and poll; tests substitute fakeBackend.
type Backend interface {
	Open(path string) (fd int, err error)
	Close(fd int) error

	// IsMultiplanar reports V4L2_TYPE_IS_MULTIPLANAR for dir's buffer
	// type, queried once from the device's reported capabilities.
	IsMultiplanar(fd int, dir Direction) (bool, error)

	SetFormat(fd int, dir Direction, multiplanar bool, width, height int, pixFmt uint32, planeSizes []uint32) error

	// MinBuffers queries V4L2_CID_MIN_BUFFERS_FOR_OUTPUT/_FOR_CAPTURE. A
	// driver that doesn't support the control returns (0, err); callers
	// must treat that as "no minimum" rather than propagating the error.
	MinBuffers(fd int, dir Direction) (uint32, error)

	// SetFrameRate issues VIDIOC_S_PARM with TimePerFrame = 1/fps. Never
	// called when fps == 0.
	SetFrameRate(fd int, dir Direction, fps uint32) error

	RequestBuffers(fd int, dir Direction, multiplanar bool, count uint32) (actual uint32, err error)

	// QueryBuffer returns, for buffer index, the mmap offset and length
	// of each plane (one entry for a single-planar type).
	QueryBuffer(fd int, dir Direction, multiplanar bool, index uint32, numPlanes int) (offsets []int64, lengths []uint32, err error)

	Mmap(fd int, offset int64, length int) ([]byte, error)
	Munmap(buf []byte) error

	StreamOn(fd int, dir Direction, multiplanar bool) error
	StreamOff(fd int, dir Direction, multiplanar bool) error

	// QueueBuffer issues VIDIOC_QBUF. bytesUsed is ignored (zero) for the
	// CAPTURE direction, where the driver fills it in on dequeue.
	QueueBuffer(fd int, dir Direction, multiplanar bool, index uint32, bytesUsed []uint32) error

	// Poll performs a single non-blocking (timeoutMs==0) poll for
	// POLLOUT (OUTPUT direction) or POLLIN (CAPTURE direction) and
	// reports whether the fd is ready, mirroring v4l2.c's __dqbuf: a
	// dequeue is only ever attempted after a successful poll.
	Poll(fd int, dir Direction, timeoutMs int) (ready bool, err error)

	DequeueBuffer(fd int, dir Direction, multiplanar bool) (DequeuedBuffer, error)

	// Flush issues VIDIOC_ENCODER_CMD(V4L2_ENC_CMD_STOP): the OUTPUT side's
	// way of telling a stateful encoder "no more input is coming, drain
	// whatever you're holding and mark the last CAPTURE buffer LAST."
	// Called at most once per Output: when the OUTPUT channel observes its
	// own upstream LAST, or from its Stop if no LAST arrived.
	Flush(fd int) error
}
