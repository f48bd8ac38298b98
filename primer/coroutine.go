package primer

import (
	"github.com/garbageslam/lua-primer/vm"
)

// ---------------------------------------------------------------------------
// Coroutine: resumable bound callable
// ---------------------------------------------------------------------------

// Coroutine drives a bound callable on its own resumable context. Each
// resume delivers arguments and collects whatever the body yields or
// returns; whether the body suspended or finished is read from Status
// afterwards, never inferred from the values.
type Coroutine struct {
	t  *vm.Thread
	fn *Ref
}

// NewCoroutine creates a resumable context for the bound callable. The
// coroutine holds its own share of the callable, so resetting f
// afterwards does not unbind it.
func NewCoroutine(f *BoundFunction) Result[*Coroutine] {
	if !f.Valid() {
		return Failf[*Coroutine](KindEnvGone, "cannot create a coroutine from an empty binding")
	}
	env, ok := f.ref.Lock()
	if !ok {
		return Failf[*Coroutine](KindEnvGone, "cannot lock environment")
	}
	t, err := env.NewThread()
	if err != nil {
		return Failure[*Coroutine](allocError(err))
	}
	return Success(&Coroutine{t: t, fn: f.ref.Clone()})
}

// Status reports the coroutine's lifecycle state.
func (c *Coroutine) Status() vm.ThreadState {
	return c.t.State()
}

// Thread exposes the underlying resumable context.
func (c *Coroutine) Thread() *vm.Thread {
	return c.t
}

// Release drops the coroutine's share of the callable. A suspended body
// is not interrupted; it simply can no longer be started fresh.
func (c *Coroutine) Release() {
	c.fn.Reset()
}

// prepareResume checks lifecycle preconditions and places the callable
// (on first resume) and arguments on the coroutine's stack. On failure
// the stack is untouched.
func (c *Coroutine) prepareResume(args []any) (*vm.Env, *Error) {
	state := c.t.State()
	switch state {
	case vm.ThreadRunning:
		return nil, NewError(KindRuntime, "cannot resume a running coroutine")
	case vm.ThreadDone, vm.ThreadFailed:
		return nil, NewError(KindRuntime, "cannot resume a dead coroutine")
	}
	te := c.t.Env()
	if te.Closed() {
		return nil, NewError(KindEnvGone, "environment unavailable")
	}

	extra := EstimatePush(args...)
	if state == vm.ThreadNotStarted {
		extra = extra.AddInt(1) // the callable goes beneath the arguments
	}
	margin, known := extra.Get()
	if !known {
		margin = te.Config().Stack.DefaultReserve
	}
	if !te.CheckStack(margin + 2) {
		return nil, NewError(KindInsufficientStack,
			"insufficient stack space: needed %d slots", margin+2)
	}

	baseTop := te.Top()
	if state == vm.ThreadNotStarted {
		if !c.fn.Push(te) {
			return nil, NewError(KindEnvGone, "bound callable could not be pushed")
		}
	}
	if err := pushEach(te, args...); err != nil {
		te.SetTop(baseTop)
		return nil, err
	}
	return te, nil
}

// ResumeNoRet starts or continues the coroutine with the given arguments,
// discarding whatever it yields or returns.
func (c *Coroutine) ResumeNoRet(args ...any) Result[Unit] {
	if _, err := c.prepareResume(args); err != nil {
		return Failure[Unit](err)
	}
	return ResumeStackedNoRet(c.t, len(args))
}

// ResumeOneRet starts or continues the coroutine, capturing the first
// yielded or returned value.
func (c *Coroutine) ResumeOneRet(args ...any) Result[*Ref] {
	if _, err := c.prepareResume(args); err != nil {
		return Failure[*Ref](err)
	}
	return ResumeStackedOneRet(c.t, len(args))
}

// Resume starts or continues the coroutine, capturing every yielded or
// returned value.
func (c *Coroutine) Resume(args ...any) Result[RefSeq] {
	if _, err := c.prepareResume(args); err != nil {
		return Failure[RefSeq](err)
	}
	return ResumeStacked(c.t, len(args))
}
