package v4l2

import "fmt"

// fakeDirState tracks one direction's (OUTPUT or CAPTURE) negotiated
// buffers and in-flight queue state for fakeBackend.
type fakeDirState struct {
	multiplanar bool
	count       uint32
	planeLen    uint32
	mem         map[uint32][]byte

	// completed holds buffers the "driver" has finished with and that are
	// waiting to be picked up by DequeueBuffer, in FIFO order.
	completed []DequeuedBuffer
}

// fakeBackend is an in-process Backend double standing in for a real
// V4L2 M2M device: it has no kernel, no ioctls, and no mmap — "mmap'd"
// planes are just Go byte slices the fake owns, grounded on the
// teacher's NewStubRunner/stubLoop convention of swapping out the real
// I/O path for an in-memory simulation keyed off the same interface.
//
// Its encode model is a pass-through echo: every OUTPUT buffer queued is
// immediately "consumed", and its bytes are copied into the next CAPTURE
// buffer the adapter has queued to the driver (truncated to the
// CAPTURE-side plane size), simulating a trivial one-in-one-out codec.
// After Flush, once every pending OUTPUT frame has been encoded and a
// CAPTURE slot is free, it produces one empty (zero-byte) CAPTURE buffer
// marked LAST.
type fakeBackend struct {
	multiplanar bool
	opened      bool
	path        string

	dirs map[Direction]*fakeDirState

	pendingOutputData [][]byte
	pendingLast       []bool
	freeCapture       []uint32
	flushed           bool

	// lastDir/lastIndex remember the (direction, index) of the most
	// recent QueryBuffer call so the immediately-following Mmap call(s)
	// for that buffer's planes know which backing slice to hand back;
	// setupDirection always finishes mmap'ing one buffer's planes before
	// querying the next, so this is never stale when read.
	lastDir   Direction
	lastIndex uint32
}

// NewFakeBackend returns a fakeBackend whose IsMultiplanar reply is
// fixed to multiplanar for both directions (tests don't need the two
// directions to disagree).
func NewFakeBackend(multiplanar bool) *fakeBackend {
	return &fakeBackend{
		multiplanar: multiplanar,
		dirs: map[Direction]*fakeDirState{
			DirectionOutput:  {},
			DirectionCapture: {},
		},
	}
}

func (f *fakeBackend) Open(path string) (int, error) {
	f.opened = true
	f.path = path
	return 1, nil
}

func (f *fakeBackend) Close(fd int) error {
	f.opened = false
	return nil
}

func (f *fakeBackend) IsMultiplanar(fd int, dir Direction) (bool, error) {
	return f.multiplanar, nil
}

func (f *fakeBackend) SetFormat(fd int, dir Direction, multiplanar bool, width, height int, pixFmt uint32, planeSizes []uint32) error {
	d := f.dirs[dir]
	d.multiplanar = multiplanar
	d.planeLen = uint32(width * height)
	if d.planeLen == 0 {
		d.planeLen = 4096
	}
	return nil
}

func (f *fakeBackend) MinBuffers(fd int, dir Direction) (uint32, error) {
	return 0, fmt.Errorf("v4l2fake: min-buffers control not supported")
}

func (f *fakeBackend) SetFrameRate(fd int, dir Direction, fps uint32) error { return nil }

func (f *fakeBackend) RequestBuffers(fd int, dir Direction, multiplanar bool, count uint32) (uint32, error) {
	d := f.dirs[dir]
	d.count = count
	d.mem = make(map[uint32][]byte, count)
	return count, nil
}

func (f *fakeBackend) QueryBuffer(fd int, dir Direction, multiplanar bool, index uint32, numPlanes int) ([]int64, []uint32, error) {
	d := f.dirs[dir]
	if d.mem[index] == nil {
		d.mem[index] = make([]byte, d.planeLen)
	}
	offsets := make([]int64, numPlanes)
	lengths := make([]uint32, numPlanes)
	for i := range lengths {
		offsets[i] = int64(index)<<8 | int64(i) // opaque; Mmap below doesn't decode it
		lengths[i] = d.planeLen
	}
	f.lastDir = dir
	f.lastIndex = index
	return offsets, lengths, nil
}

func (f *fakeBackend) Mmap(fd int, offset int64, length int) ([]byte, error) {
	d := f.dirs[f.lastDir]
	mem := d.mem[f.lastIndex]
	if len(mem) < length {
		mem = append(mem, make([]byte, length-len(mem))...)
		d.mem[f.lastIndex] = mem
	}
	return mem[:length], nil
}

func (f *fakeBackend) Munmap(buf []byte) error { return nil }

func (f *fakeBackend) StreamOn(fd int, dir Direction, multiplanar bool) error  { return nil }
func (f *fakeBackend) StreamOff(fd int, dir Direction, multiplanar bool) error { return nil }

func (f *fakeBackend) QueueBuffer(fd int, dir Direction, multiplanar bool, index uint32, bytesUsed []uint32) error {
	d := f.dirs[dir]
	if dir == DirectionOutput {
		n := d.planeLen
		if len(bytesUsed) > 0 {
			n = bytesUsed[0]
		}
		data := append([]byte(nil), d.mem[index][:n]...)
		f.pendingOutputData = append(f.pendingOutputData, data)
		f.pendingLast = append(f.pendingLast, f.flushed)
		f.flushed = false
		d.completed = append(d.completed, DequeuedBuffer{Index: index, BytesUsed: []uint32{n}})
		f.tryEncode()
		return nil
	}
	f.freeCapture = append(f.freeCapture, index)
	f.tryEncode()
	return nil
}

// tryEncode pairs queued OUTPUT data with free CAPTURE slots, FIFO on
// both sides, the way a real stateful encoder drains its input queue
// into whatever CAPTURE buffers the application has made available.
func (f *fakeBackend) tryEncode() {
	captureDir := f.dirs[DirectionCapture]
	for len(f.pendingOutputData) > 0 && len(f.freeCapture) > 0 {
		data := f.pendingOutputData[0]
		last := f.pendingLast[0]
		f.pendingOutputData = f.pendingOutputData[1:]
		f.pendingLast = f.pendingLast[1:]

		idx := f.freeCapture[0]
		f.freeCapture = f.freeCapture[1:]

		mem := captureDir.mem[idx]
		n := copy(mem, data)
		captureDir.completed = append(captureDir.completed, DequeuedBuffer{Index: idx, BytesUsed: []uint32{uint32(n)}, Last: last})
	}
	if f.flushed && len(f.pendingOutputData) == 0 && len(f.freeCapture) > 0 {
		idx := f.freeCapture[0]
		f.freeCapture = f.freeCapture[1:]
		captureDir.completed = append(captureDir.completed, DequeuedBuffer{Index: idx, BytesUsed: []uint32{0}, Last: true})
		f.flushed = false
	}
}

func (f *fakeBackend) Poll(fd int, dir Direction, timeoutMs int) (bool, error) {
	return len(f.dirs[dir].completed) > 0, nil
}

func (f *fakeBackend) DequeueBuffer(fd int, dir Direction, multiplanar bool) (DequeuedBuffer, error) {
	d := f.dirs[dir]
	if len(d.completed) == 0 {
		return DequeuedBuffer{}, fmt.Errorf("v4l2fake: no buffer ready on %v", dir)
	}
	dq := d.completed[0]
	d.completed = d.completed[1:]
	return dq, nil
}

func (f *fakeBackend) Flush(fd int) error {
	f.flushed = true
	f.tryEncode()
	return nil
}

var _ Backend = (*fakeBackend)(nil)
