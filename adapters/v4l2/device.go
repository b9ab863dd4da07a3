package v4l2

import (
	"fmt"
	"unsafe"

	gov4l2 "github.com/vladimirvivien/go4vl/v4l2"
	"golang.org/x/sys/unix"
)

// V4L2 buffer-type values (videodev2.h's v4l2_buf_type enum). go4vl only
// exports the single-planar pair (BufTypeVideoCapture/BufTypeVideoOutput
// in its streaming.go); the multi-planar pair isn't in the bundled
// snapshot, so they're defined locally at their standard enum values.
const (
	bufTypeVideoCapture      uint32 = 1
	bufTypeVideoOutput       uint32 = 2
	bufTypeVideoCaptureMPlane uint32 = 9
	bufTypeVideoOutputMPlane  uint32 = 10

	memoryMMAP uint32 = 1
)

func bufType(dir Direction, multiplanar bool) uint32 {
	switch {
	case dir == DirectionCapture && multiplanar:
		return bufTypeVideoCaptureMPlane
	case dir == DirectionCapture:
		return bufTypeVideoCapture
	case multiplanar:
		return bufTypeVideoOutputMPlane
	default:
		return bufTypeVideoOutput
	}
}

func minBuffersCtrl(dir Direction) gov4l2.CtrlID {
	if dir == DirectionCapture {
		return gov4l2.CtrlMinimumCaptureBuffers
	}
	return gov4l2.CtrlMinimumOutputBuffers
}

// realBackend implements Backend against an actual V4L2 character
// device: go4vl's v4l2 package supplies the coherent, already-correct
// pieces (open/close, capability query, the minimum-buffers control
// IDs); VIDIOC_S_FMT/REQBUFS/QBUF/DQBUF/STREAMON/STREAMOFF/S_PARM are
// issued directly through golang.org/x/sys/unix the way the scheduler's
// readiness phase already uses unix for epoll, following the same
// ioctl-number derivation go4vl itself uses (see ioctl.go).
type realBackend struct{}

// NewRealBackend returns the Backend implementation that talks to an
// actual V4L2 M2M device node.
func NewRealBackend() Backend { return realBackend{} }

func (realBackend) Open(path string) (int, error) {
	fd, err := gov4l2.OpenDevice(path, unix.O_RDWR|unix.O_NONBLOCK, 0)
	if err != nil {
		return -1, err
	}
	return int(fd), nil
}

func (realBackend) Close(fd int) error {
	return gov4l2.CloseDevice(uintptr(fd))
}

func (realBackend) IsMultiplanar(fd int, dir Direction) (bool, error) {
	cap, err := gov4l2.GetCapability(uintptr(fd))
	if err != nil {
		return false, err
	}
	if dir == DirectionCapture {
		return cap.IsVideoCaptureMultiplanarSupported(), nil
	}
	return cap.IsVideoOutputMultiplanerSupported(), nil
}

func (realBackend) SetFormat(fd int, dir Direction, multiplanar bool, width, height int, pixFmt uint32, planeSizes []uint32) error {
	var raw rawFormat
	raw.Type = bufType(dir, multiplanar)
	raw.Width = uint32(width)
	raw.Height = uint32(height)
	raw.PixelFormat = pixFmt
	if multiplanar {
		raw.NumPlanes = uint32(len(planeSizes))
	}
	return ioctl(fd, vidiocSFmt, unsafe.Pointer(&raw))
}

func (realBackend) MinBuffers(fd int, dir Direction) (uint32, error) {
	v, err := gov4l2.GetControlValue(uintptr(fd), minBuffersCtrl(dir))
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, fmt.Errorf("v4l2: negative min-buffers control value %d", v)
	}
	return uint32(v), nil
}

func (realBackend) SetFrameRate(fd int, dir Direction, fps uint32) error {
	var raw rawStreamParam
	raw.Type = bufType(dir, false)
	raw.TimePerFrame = rawFract{Numerator: 1, Denominator: fps}
	return ioctl(fd, vidiocSParm, unsafe.Pointer(&raw))
}

func (realBackend) RequestBuffers(fd int, dir Direction, multiplanar bool, count uint32) (uint32, error) {
	raw := rawRequestBuffers{Count: count, Type: bufType(dir, multiplanar), Memory: memoryMMAP}
	if err := ioctl(fd, vidiocReqBufs, unsafe.Pointer(&raw)); err != nil {
		return 0, err
	}
	return raw.Count, nil
}

func (realBackend) QueryBuffer(fd int, dir Direction, multiplanar bool, index uint32, numPlanes int) ([]int64, []uint32, error) {
	if multiplanar {
		planes := make([]rawPlane, numPlanes)
		raw := rawBuffer{Index: index, Type: bufType(dir, multiplanar), Memory: memoryMMAP,
			NumPlanes: uint32(numPlanes), PlanesPtr: uintptr(unsafe.Pointer(&planes[0]))}
		if err := ioctl(fd, vidiocQueryBuf, unsafe.Pointer(&raw)); err != nil {
			return nil, nil, err
		}
		offsets := make([]int64, numPlanes)
		lengths := make([]uint32, numPlanes)
		for i, p := range planes {
			offsets[i] = int64(p.MemOffset)
			lengths[i] = p.Length
		}
		return offsets, lengths, nil
	}

	raw := rawBuffer{Index: index, Type: bufType(dir, multiplanar), Memory: memoryMMAP}
	if err := ioctl(fd, vidiocQueryBuf, unsafe.Pointer(&raw)); err != nil {
		return nil, nil, err
	}
	return []int64{int64(raw.MemOffset)}, []uint32{raw.Length}, nil
}

func (realBackend) Mmap(fd int, offset int64, length int) ([]byte, error) {
	return unix.Mmap(fd, offset, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}

func (realBackend) Munmap(buf []byte) error {
	return unix.Munmap(buf)
}

func (realBackend) StreamOn(fd int, dir Direction, multiplanar bool) error {
	t := bufType(dir, multiplanar)
	return ioctl(fd, vidiocStreamOn, unsafe.Pointer(&t))
}

func (realBackend) StreamOff(fd int, dir Direction, multiplanar bool) error {
	t := bufType(dir, multiplanar)
	return ioctl(fd, vidiocStreamOff, unsafe.Pointer(&t))
}

func (realBackend) QueueBuffer(fd int, dir Direction, multiplanar bool, index uint32, bytesUsed []uint32) error {
	raw := rawBuffer{Index: index, Type: bufType(dir, multiplanar), Memory: memoryMMAP}
	if len(bytesUsed) > 0 {
		raw.BytesUsed = bytesUsed[0]
	}
	return ioctl(fd, vidiocQBuf, unsafe.Pointer(&raw))
}

func (realBackend) Poll(fd int, dir Direction, timeoutMs int) (bool, error) {
	event := int16(unix.POLLIN)
	if dir == DirectionOutput {
		event = int16(unix.POLLOUT)
	}
	fds := []unix.PollFd{{Fd: int32(fd), Events: event}}
	n, err := unix.Poll(fds, timeoutMs)
	if err != nil {
		return false, err
	}
	return n > 0 && fds[0].Revents&event != 0, nil
}

func (realBackend) DequeueBuffer(fd int, dir Direction, multiplanar bool) (DequeuedBuffer, error) {
	raw := rawBuffer{Type: bufType(dir, multiplanar), Memory: memoryMMAP}
	if err := ioctl(fd, vidiocDQBuf, unsafe.Pointer(&raw)); err != nil {
		return DequeuedBuffer{}, err
	}
	const bufFlagLast = uint32(gov4l2.BufFlagLast)
	const bufFlagError = uint32(gov4l2.BufFlagError)
	return DequeuedBuffer{
		Index:     raw.Index,
		BytesUsed: []uint32{raw.BytesUsed},
		Last:      raw.Flags&bufFlagLast != 0,
		Error:     raw.Flags&bufFlagError != 0,
	}, nil
}

func (realBackend) Flush(fd int) error {
	raw := rawEncoderCmd{Cmd: encCmdStop}
	return ioctl(fd, vidiocEncoderCmd, unsafe.Pointer(&raw))
}

// Device wraps one open V4L2 M2M file descriptor, shared between its
// Output (OUTPUT queue) and Capture (CAPTURE queue) channel adapters: a
// transform device is a single fd driven on both queues at once, so the
// channel that registers first actually opens it and the second reuses
// the same fd; refs tracks how many of the two still need it open.
type Device struct {
	Backend Backend
	Path    string

	fdNum int
	refs  int
}

// NewDevice returns a Device bound to path, talking through backend (a
// fake in tests, NewRealBackend() in production).
func NewDevice(backend Backend, path string) *Device {
	if backend == nil {
		backend = NewRealBackend()
	}
	return &Device{Backend: backend, Path: path, fdNum: -1}
}

func (d *Device) open() (int, error) {
	d.refs++
	if d.fdNum >= 0 {
		return d.fdNum, nil
	}
	fd, err := d.Backend.Open(d.Path)
	if err != nil {
		d.refs--
		return -1, err
	}
	d.fdNum = fd
	return fd, nil
}

// fd returns the currently open file descriptor, or -1 if the device
// hasn't been opened (or has already been released) yet. Unlike open, it
// never adjusts refs — call sites that already hold a reference (every
// adapter method after init has run) use this, not open, so repeated
// calls within a single pass don't inflate the open count.
func (d *Device) fd() int { return d.fdNum }

func (d *Device) release() error {
	if d.refs == 0 {
		return nil
	}
	d.refs--
	if d.refs > 0 {
		return nil
	}
	fd := d.fdNum
	d.fdNum = -1
	return d.Backend.Close(fd)
}
