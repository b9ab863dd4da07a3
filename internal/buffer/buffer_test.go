package buffer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func simpleDescriptor(planeCount int, accounting Accounting) *Descriptor {
	return &Descriptor{
		PlaneCount: planeCount,
		PlaneSize:  4096,
		InitPlane: func(p *Plane, index int, arg any) error {
			p.Virt = make([]byte, p.Size)
			return nil
		},
		UninitPlane: func(p *Plane, index int, arg any) error {
			p.Virt = nil
			return nil
		},
		Accounting: accounting,
	}
}

type counter struct {
	allocs int
	frees  int
}

func (c *counter) Alloc() { c.allocs++ }
func (c *counter) Free()  { c.frees++ }

func TestNew_RefcountStartsAtOne(t *testing.T) {
	c := &counter{}
	desc := simpleDescriptor(2, c)
	b, err := New(desc, 0)
	require.NoError(t, err)
	require.Equal(t, 1, Refcount(b))
	require.Len(t, b.Planes, 2)
	require.Equal(t, 1, c.allocs)
}

func TestNew_UnwindsOnPartialFailure(t *testing.T) {
	initCalls := 0
	desc := &Descriptor{
		PlaneCount: 3,
		PlaneSize:  4096,
		InitPlane: func(p *Plane, index int, arg any) error {
			initCalls++
			if index == 2 {
				return errors.New("boom")
			}
			p.Virt = make([]byte, p.Size)
			return nil
		},
		UninitPlane: func(p *Plane, index int, arg any) error {
			require.NotNil(t, p.Virt, "uninit should only run on initialized planes")
			return nil
		},
	}

	b, err := New(desc, 0)
	require.ErrorIs(t, err, ErrNoMemory)
	require.Nil(t, b)
	require.Equal(t, 3, initCalls)
}

func TestGetPut_RecycleDestroysOnZero(t *testing.T) {
	c := &counter{}
	recycled := false
	desc := simpleDescriptor(1, c)
	desc.Recycle = func(b *Buffer, arg any) (bool, error) {
		recycled = true
		return true, nil // request destruction
	}

	b, err := New(desc, 0)
	require.NoError(t, err)

	Get(b)
	require.Equal(t, 2, Refcount(b))

	require.NoError(t, Put(b))
	require.Equal(t, 1, Refcount(b))
	require.False(t, recycled)

	require.NoError(t, Put(b))
	require.True(t, recycled)
	require.Equal(t, 1, c.frees)
	require.Nil(t, b.Planes)
}

func TestGetPut_RecycleCanRehome(t *testing.T) {
	desc := simpleDescriptor(1, nil)
	desc.Recycle = func(b *Buffer, arg any) (bool, error) {
		ResetForReuse(b)
		return false, nil
	}

	b, err := New(desc, 0)
	require.NoError(t, err)

	require.NoError(t, Put(b))
	require.Equal(t, 1, Refcount(b))
	require.NotNil(t, b.Planes, "rehomed buffer keeps its planes")
}

func TestInvalidDescriptor(t *testing.T) {
	_, err := New(nil, 0)
	require.ErrorIs(t, err, ErrInvalid)

	_, err = New(&Descriptor{}, 0)
	require.ErrorIs(t, err, ErrInvalid)
}
