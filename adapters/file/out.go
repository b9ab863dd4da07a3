package file

import (
	"os"

	"github.com/qiaoweibiao/pitcher"
	"github.com/qiaoweibiao/pitcher/internal/buffer"
	"github.com/qiaoweibiao/pitcher/internal/interfaces"
)

// OutParams configures an Out (ofile) adapter.
type OutParams struct {
	Name string
	Path string

	// Skip, when non-nil, requests a frame-skip ratio be set on the edge
	// feeding this channel once it is connected (scenario 3: frame skip).
	// Num/Den follow spec §4.C; a nil Skip delivers every frame.
	Skip *SkipRatio
}

// SkipRatio is Num skipped out of every Den frames attempted (spec §4.C's
// token-bucket ratio), so e.g. a 30fps source down to 10fps is Num: 20,
// Den: 30 — deliver the other 10.
type SkipRatio struct {
	Num int
	Den int
}

// Out is a sink channel that appends every consumed buffer's used bytes to
// a file, byte-identical to the source for an unskipped straight copy.
type Out struct {
	params OutParams

	ctx *pitcher.Context
	id  int

	f *os.File
}

// NewOut returns an unregistered Out adapter bound to ctx; params.Path is
// created (truncating) later, by the Init callback during registration. Mirrors In's constructor shape for consistency,
// even though Out has no AllocBuffer that would need ctx before Bind.
func NewOut(ctx *pitcher.Context, params OutParams) (*Out, error) {
	return &Out{params: params, ctx: ctx}, nil
}

// Bind records the channel id this adapter was registered under.
func (a *Out) Bind(id int) {
	a.id = id
}

// Descriptor builds the UnitDescriptor for RegisterChannel.
func (a *Out) Descriptor() *interfaces.UnitDescriptor {
	return &interfaces.UnitDescriptor{
		Name:    a.params.Name,
		Kind:    interfaces.KindFileOut,
		Fd:      -1,
		Init:    a.init,
		Start:   a.start,
		Cleanup: a.cleanup,
		CheckReady: func(any) (bool, bool) {
			return a.ctx.ChnPollInput(a.id), false
		},
		Run: a.run,
	}
}

// ApplySkip sets the configured skip ratio on the edge feeding this
// channel; a nil Skip is a no-op (deliver every frame, the connection
// table's default). Called automatically from start, since that is the
// first point after Connect's reconfigure phase has actually realized the
// edge (Connect only queues it; SetSkip needs the edge to already exist).
// Exported so a caller can re-apply the configured params.Skip mid-run,
// which also resets the edge's skip state; it takes no other ratio.
func (a *Out) ApplySkip() error {
	if a.params.Skip == nil {
		return nil
	}
	return a.ctx.SetSkip(a.id, a.params.Skip.Num, a.params.Skip.Den)
}

func (a *Out) start(any) error {
	return a.ApplySkip()
}

func (a *Out) init(any) error {
	f, err := os.Create(a.params.Path)
	if err != nil {
		return pitcher.WrapError("ofile.init", a.id, err)
	}
	a.f = f
	return nil
}

func (a *Out) cleanup(any) error {
	if a.f != nil {
		return a.f.Close()
	}
	return nil
}

func (a *Out) run(_ any, in *buffer.Buffer) error {
	if in == nil {
		return interfaces.ErrNotReady
	}
	plane := &in.Planes[0]
	if _, err := a.f.Write(plane.Virt[:plane.BytesUsed]); err != nil {
		return pitcher.WrapError("ofile.run", a.id, err)
	}
	return nil
}
