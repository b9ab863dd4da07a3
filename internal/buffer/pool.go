package buffer

import "sync"

// Pool hands out pooled byte slices for software-backed (non-mmap) plane
// memory, avoiding a fresh allocation on every buffer recycle. Uses
// size-bucketed pools with power-of-2 sizes (64KB, 256KB, 1MB, 4MB) to
// balance memory efficiency with allocation reduction; a request larger
// than every bucket falls through to a plain allocation.
const (
	size64k  = 64 * 1024
	size256k = 256 * 1024
	size1m   = 1024 * 1024
	size4m   = 4 * 1024 * 1024
)

var globalPool = struct {
	pool64k  sync.Pool
	pool256k sync.Pool
	pool1m   sync.Pool
	pool4m   sync.Pool
}{
	pool64k:  sync.Pool{New: func() any { b := make([]byte, size64k); return &b }},
	pool256k: sync.Pool{New: func() any { b := make([]byte, size256k); return &b }},
	pool1m:   sync.Pool{New: func() any { b := make([]byte, size1m); return &b }},
	pool4m:   sync.Pool{New: func() any { b := make([]byte, size4m); return &b }},
}

// GetPooled returns a pooled buffer of at least the requested size.
// The caller must call PutPooled when the memory is no longer referenced.
func GetPooled(size uint64) []byte {
	switch {
	case size <= size64k:
		return (*globalPool.pool64k.Get().(*[]byte))[:size]
	case size <= size256k:
		return (*globalPool.pool256k.Get().(*[]byte))[:size]
	case size <= size1m:
		return (*globalPool.pool1m.Get().(*[]byte))[:size]
	case size <= size4m:
		return (*globalPool.pool4m.Get().(*[]byte))[:size]
	default:
		return make([]byte, size)
	}
}

// PutPooled returns a buffer to the pool it came from. A buffer whose
// capacity doesn't match a bucket exactly (e.g. one returned by the
// `default` branch of GetPooled) is simply dropped.
func PutPooled(buf []byte) {
	c := cap(buf)
	buf = buf[:c]
	switch c {
	case size64k:
		globalPool.pool64k.Put(&buf)
	case size256k:
		globalPool.pool256k.Put(&buf)
	case size1m:
		globalPool.pool1m.Put(&buf)
	case size4m:
		globalPool.pool4m.Put(&buf)
	}
}
