// Package control implements a channel adapter with no media buffers of
// its own: its only job is to watch for OS shutdown signals and call
// Context.Terminate (a canceled context passed to Context.Run is handled
// by Run itself, not by this adapter),
// the same SIGINT/SIGTERM -> cancel -> graceful-drain shape
// cmd/ublk-mem/main.go wires by hand around its own CreateAndServe call,
// folded into the channel lifecycle so a pipeline's own Run loop reacts
// to it without a second goroutine managed by the caller.
package control

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/qiaoweibiao/pitcher"
	"github.com/qiaoweibiao/pitcher/internal/buffer"
	"github.com/qiaoweibiao/pitcher/internal/interfaces"
)

// Params configures a Control adapter.
type Params struct {
	Name string

	// Signals is the set of OS signals that trigger Terminate. Defaults
	// to os.Interrupt and syscall.SIGTERM (set by DefaultParams; a nil
	// or empty Signals here means "don't watch any OS signal," useful
	// when a caller only wants the deadline/manual-stop behavior).
	Signals []os.Signal
}

// DefaultParams watches SIGINT/SIGTERM, mirroring the teacher's own
// signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM) call.
func DefaultParams(name string) Params {
	return Params{Name: name, Signals: []os.Signal{os.Interrupt, syscall.SIGTERM}}
}

// Control is a no-op channel (it never produces or consumes a buffer)
// registered purely so its Start/Stop lifecycle can own a
// signal.Notify subscription for the duration of a pipeline's Run.
type Control struct {
	params Params

	ctx *pitcher.Context
	id  int

	sigCh chan os.Signal
	done  chan struct{}
}

// New returns an unregistered Control adapter bound to ctx. It has no
// connection of its own for Connect's reconfigure phase to auto-start,
// so the caller must call ctx.StartChannel on its id directly after
// RegisterChannel, or its signal.Notify subscription never gets wired up.
func New(ctx *pitcher.Context, params Params) *Control {
	return &Control{params: params, ctx: ctx}
}

// Bind records the channel id this adapter was registered under.
func (a *Control) Bind(id int) { a.id = id }

// Descriptor builds the UnitDescriptor for RegisterChannel.
func (a *Control) Descriptor() *interfaces.UnitDescriptor {
	return &interfaces.UnitDescriptor{
		Name:       a.params.Name,
		Kind:       interfaces.KindControl,
		Fd:         -1,
		Start:      a.start,
		Stop:       a.stop,
		CheckReady: a.checkReady,
		Run:        a.run,
	}
}

func (a *Control) start(any) error {
	if len(a.params.Signals) == 0 {
		return nil
	}
	a.sigCh = make(chan os.Signal, 1)
	a.done = make(chan struct{})
	signal.Notify(a.sigCh, a.params.Signals...)
	go func() {
		select {
		case <-a.sigCh:
			a.ctx.Terminate()
		case <-a.done:
		}
	}()
	return nil
}

func (a *Control) stop(any) error {
	if a.sigCh == nil {
		return nil
	}
	signal.Stop(a.sigCh)
	close(a.done)
	a.sigCh = nil
	return nil
}

// checkReady never reports ready (this channel has no Run work beyond
// what a direct Terminate call already provides) and never tags itself
// Ended from the inside — it runs until the scheduler reaps it as part
// of global termination's sweep, same as any channel with no connection
// and no source, so the pipeline doesn't end prematurely just because
// the control channel itself has nothing left to read or write.
func (a *Control) checkReady(any) (ready bool, isEnd bool) {
	return false, false
}

func (a *Control) run(any, *buffer.Buffer) error {
	return interfaces.ErrNotReady
}
