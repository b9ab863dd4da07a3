package v4l2

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// ioctl command encoding mirrors go4vl's own pure-Go derivation of the
// VIDIOC_* request numbers (lower 16 bits command, next 14 bits
// parameter size, top 2 bits read/write direction) rather than pulling
// in cgo's <linux/videodev2.h> constants directly.
const (
	iocNone  = 0
	iocWrite = 1
	iocRead  = 2

	iocNumberBits = 8
	iocTypeBits   = 8
	iocSizeBits   = 14

	iocNumberPos = 0
	iocTypePos   = iocNumberPos + iocNumberBits
	iocSizePos   = iocTypePos + iocTypeBits
	iocOpPos     = iocSizePos + iocSizeBits
)

func iocEnc(op, typ, nr, size uintptr) uintptr {
	return (op << iocOpPos) | (typ << iocTypePos) | (nr << iocNumberPos) | (size << iocSizePos)
}

func iocReadWrite(nr, size uintptr) uintptr { return iocEnc(iocRead|iocWrite, 'V', nr, size) }
func iocWriteOnly(nr, size uintptr) uintptr { return iocEnc(iocWrite, 'V', nr, size) }

var (
	vidiocSFmt     = iocReadWrite(5, unsafe.Sizeof(rawFormat{}))
	vidiocReqBufs  = iocReadWrite(8, unsafe.Sizeof(rawRequestBuffers{}))
	vidiocQueryBuf = iocReadWrite(9, unsafe.Sizeof(rawBuffer{}))
	vidiocQBuf     = iocReadWrite(15, unsafe.Sizeof(rawBuffer{}))
	vidiocDQBuf    = iocReadWrite(17, unsafe.Sizeof(rawBuffer{}))
	vidiocStreamOn = iocWriteOnly(18, unsafe.Sizeof(int32(0)))
	vidiocStreamOff = iocWriteOnly(19, unsafe.Sizeof(int32(0)))
	vidiocGCtrl    = iocReadWrite(29, unsafe.Sizeof(rawControl{}))
	vidiocSParm    = iocReadWrite(22, unsafe.Sizeof(rawStreamParam{}))
	vidiocEncoderCmd = iocReadWrite(77, unsafe.Sizeof(rawEncoderCmd{}))
)

func ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg)); errno != 0 {
		return errno
	}
	return nil
}

// rawFormat mirrors the fixed-size prefix of struct v4l2_format that
// matters for pix/pix_mp (type, then a union whose first fields are
// width/height/pixelformat for both single- and multi-planar layouts).
type rawFormat struct {
	Type         uint32
	Width        uint32
	Height       uint32
	PixelFormat  uint32
	Field        uint32
	NumPlanes    uint32 // multiplanar only; ignored for single-planar
	_            [32]byte
}

type rawRequestBuffers struct {
	Count  uint32
	Type   uint32
	Memory uint32
	_      [8]byte
}

type rawPlane struct {
	BytesUsed uint32
	Length    uint32
	MemOffset uint32
	_         [4]byte
}

// rawBuffer mirrors struct v4l2_buffer closely enough for our own
// backend<->kernel round trip: index/type/flags plus either a single
// mem offset+length (single-planar) or a pointer to a rawPlane array
// (multi-planar, filled in by QueryBuffer/DequeueBuffer callers).
type rawBuffer struct {
	Index      uint32
	Type       uint32
	BytesUsed  uint32
	Flags      uint32
	Memory     uint32
	MemOffset  uint32
	Length     uint32
	PlanesPtr  uintptr // *rawPlane array when multiplanar
	NumPlanes  uint32
	_          [12]byte
}

type rawControl struct {
	ID    uint32
	Value int32
}

type rawFract struct {
	Numerator   uint32
	Denominator uint32
}

type rawStreamParam struct {
	Type         uint32
	TimePerFrame rawFract
	_            [24]byte
}

// encCmdStop is V4L2_ENC_CMD_STOP: flush the encoder and mark the last
// produced CAPTURE buffer V4L2_BUF_FLAG_LAST.
const encCmdStop uint32 = 1

// rawEncoderCmd mirrors struct v4l2_encoder_cmd.
type rawEncoderCmd struct {
	Cmd   uint32
	Flags uint32
	_     [8]uint32
}
