// Package buffer implements the pitcher runtime's reference-counted,
// multi-plane buffer: the unit of data that flows through the channel
// graph. It has no dependency on the channel/scheduler packages above it —
// a Buffer only knows its own planes, its refcount, and the callbacks its
// owning channel supplied at construction time.
package buffer

import "errors"

// Flag is a bit in a Buffer's flag set.
type Flag uint32

// FlagLast marks a buffer as the last one a channel will ever emit: the
// end-of-stream sentinel.
const FlagLast Flag = 1 << 0

// RecycleFunc is invoked exactly once per refcount zero-transition. It must
// either arrange for the buffer's reuse (typically by resetting its
// refcount and pushing it back onto the owning channel's idle pool) or
// return del=true to request destruction. It must never itself adjust the
// buffer's refcount.
type RecycleFunc func(b *Buffer, arg any) (del bool, err error)

// Accounting lets a Buffer's owner track live allocations, e.g. for the
// Context's leak-detecting memory counter.
type Accounting interface {
	Alloc()
	Free()
}

// Descriptor configures how a Buffer's planes are allocated and how the
// buffer is recycled once its refcount reaches zero.
type Descriptor struct {
	PlaneCount  int
	PlaneSize   uint64
	InitPlane   InitPlaneFunc
	UninitPlane UninitPlaneFunc
	Recycle     RecycleFunc
	Accounting  Accounting
	// Arg is the opaque argument forwarded to InitPlane/UninitPlane/Recycle
	// (typically the owning channel).
	Arg any
}

var (
	// ErrNoMemory is returned when plane allocation fails.
	ErrNoMemory = errors.New("buffer: allocation failed")
	// ErrInvalid is returned for a malformed descriptor.
	ErrInvalid = errors.New("buffer: invalid descriptor")
)

// Buffer is a bundle of 1..N planes with a non-negative reference count
// that starts at 1 on construction, an index identifying it within its
// owning pool, a flag set, and an opaque priv pointer adapters use to pin
// upstream state (e.g. the driver buffer whose memory a plane references).
type Buffer struct {
	Planes []Plane
	Index  int
	Flags  Flag
	Priv   any

	refcount int
	desc     *Descriptor
}

// New allocates a Buffer's plane array and initializes each plane via
// desc.InitPlane. On any failure it unwinds by calling UninitPlane on the
// planes already initialized, in reverse order, and returns ErrNoMemory.
// The returned buffer (on success) has refcount 1.
func New(desc *Descriptor, index int) (*Buffer, error) {
	if desc == nil || desc.PlaneCount <= 0 || desc.InitPlane == nil {
		return nil, ErrInvalid
	}

	b := &Buffer{
		Planes:   make([]Plane, desc.PlaneCount),
		Index:    index,
		desc:     desc,
		refcount: 1,
	}

	for i := range b.Planes {
		b.Planes[i].Size = desc.PlaneSize
		if err := desc.InitPlane(&b.Planes[i], i, desc.Arg); err != nil {
			for j := i - 1; j >= 0; j-- {
				if desc.UninitPlane != nil {
					_ = desc.UninitPlane(&b.Planes[j], j, desc.Arg)
				}
			}
			return nil, ErrNoMemory
		}
	}

	if desc.Accounting != nil {
		desc.Accounting.Alloc()
	}

	return b, nil
}

// Get bumps the refcount and returns b, so callers can chain
// `held := buffer.Get(b)`.
func Get(b *Buffer) *Buffer {
	if b == nil {
		return nil
	}
	b.refcount++
	return b
}

// Put decrements the refcount. On the zero-transition it invokes the
// buffer's Recycle callback; if the callback requests deletion, Put
// uninitializes every plane and releases the buffer's accounting slot.
// Recycle is responsible for re-homing the buffer otherwise (typically:
// reset refcount to 1, push back onto the owning channel's idle pool).
func Put(b *Buffer) error {
	if b == nil {
		return nil
	}
	b.refcount--
	if b.refcount > 0 {
		return nil
	}
	if b.refcount < 0 {
		// Should never happen; clamp so a double-put can't go further negative.
		b.refcount = 0
	}

	del := true
	var err error
	if b.desc != nil && b.desc.Recycle != nil {
		del, err = b.desc.Recycle(b, b.desc.Arg)
		if err != nil {
			return err
		}
	}
	if del {
		destroy(b)
	}
	return nil
}

// Refcount returns b's current reference count. Inspection only.
func Refcount(b *Buffer) int {
	if b == nil {
		return 0
	}
	return b.refcount
}

// ResetForReuse resets a recycled buffer's refcount to 1. Called by a
// channel's Recycle implementation before pushing the buffer back onto its
// idle pool.
func ResetForReuse(b *Buffer) {
	b.refcount = 1
	b.Flags = 0
}

func destroy(b *Buffer) {
	if b.desc != nil && b.desc.UninitPlane != nil {
		for i := range b.Planes {
			_ = b.desc.UninitPlane(&b.Planes[i], i, b.desc.Arg)
		}
	}
	if b.desc != nil && b.desc.Accounting != nil {
		b.desc.Accounting.Free()
	}
	b.Planes = nil
}
