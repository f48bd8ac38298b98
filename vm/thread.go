package vm

import (
	"sync"
)

// ---------------------------------------------------------------------------
// Thread: resumable execution context (coroutine)
// ---------------------------------------------------------------------------

// ThreadState reports where a resumable context is in its lifecycle.
type ThreadState int

const (
	ThreadNotStarted ThreadState = iota
	ThreadRunning
	ThreadSuspended
	ThreadDone
	ThreadFailed
)

// String returns the state name.
func (s ThreadState) String() string {
	switch s {
	case ThreadNotStarted:
		return "not started"
	case ThreadRunning:
		return "running"
	case ThreadSuspended:
		return "suspended"
	case ThreadDone:
		return "done"
	case ThreadFailed:
		return "failed"
	}
	return "unknown"
}

// resumeSignal carries the outcome of one resume back to the host.
type resumeSignal struct {
	status Status
	nres   int
}

// Thread is a coroutine context: its own stack sharing the family
// registry, driven by Resume and suspended by Yield. The body runs on a
// dedicated goroutine, but control is strictly handed off: exactly one of
// {host, body} runs at any time, preserving the single-threaded stack
// discipline.
type Thread struct {
	env *Env

	mu      sync.Mutex
	state   ThreadState
	started bool

	resumeCh chan int          // host -> body: argument count
	signalCh chan resumeSignal // body -> host: yield/return/error
	quit     chan struct{}
}

// NewThread creates a resumable context sharing this environment's
// registry, globals, and configuration.
func (e *Env) NewThread() (*Thread, error) {
	if e.closed {
		return nil, ErrEnvClosed
	}
	t := &Thread{
		state:    ThreadNotStarted,
		resumeCh: make(chan int),
		signalCh: make(chan resumeSignal, 1),
		quit:     make(chan struct{}),
	}
	t.env = &Env{
		g:      e.g,
		stack:  make([]Value, 0, e.g.cfg.Stack.InitialDepth),
		thread: t,
	}
	e.g.threads = append(e.g.threads, t)
	return t, nil
}

// Env returns the thread's execution context. Before the first resume the
// host positions the callable and arguments on it; after a yield or return
// the result values are on its top.
func (t *Thread) Env() *Env {
	return t.env
}

// State returns the thread's lifecycle state. This is the status primitive
// callers consult to tell a suspension from a completion.
func (t *Thread) State() ThreadState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Thread) setState(s ThreadState) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// Resume starts or continues the thread with nargs argument values on top
// of its stack (beneath them the callable, if not yet started). It blocks
// until the body returns, yields, or errors, and reports the status along
// with the number of result values on the thread's stack top: return
// values for StatusOK, yielded values for StatusYield, the error value
// (count 1) for StatusErrRun.
func (t *Thread) Resume(nargs int) (Status, int) {
	if t.env.closed {
		return t.pushResumeError("cannot resume: environment is closed")
	}
	switch t.State() {
	case ThreadRunning:
		return t.pushResumeError("cannot resume a running coroutine")
	case ThreadDone, ThreadFailed:
		return t.pushResumeError("cannot resume a dead coroutine")
	}

	if !t.started {
		if t.env.Top() < nargs+1 {
			return t.pushResumeError("cannot resume: missing callable")
		}
		t.started = true
		t.setState(ThreadRunning)
		go t.run(nargs)
	} else {
		t.setState(ThreadRunning)
		t.resumeCh <- nargs
	}

	sig := <-t.signalCh
	return sig.status, sig.nres
}

// pushResumeError reports a precondition failure without touching the
// body: the error value is pushed on the thread stack like a runtime
// error, so callers drain it uniformly.
func (t *Thread) pushResumeError(msg string) (Status, int) {
	// No protected boundary is active here, so a full stack must not
	// raise; fall back to the raw error slot.
	if !t.env.CheckStack(1) {
		t.env.stack = append(t.env.stack, Nil)
		return StatusErrRun, 1
	}
	if err := t.env.PushString(msg); err != nil {
		t.env.stack = append(t.env.stack, Nil)
	}
	return StatusErrRun, 1
}

// run is the body goroutine: one unprotected call whose error signal is
// intercepted here, at the resumable boundary.
func (t *Thread) run(nargs int) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if _, killed := r.(threadKilled); killed {
			// Environment teardown; nobody is listening.
			t.setState(ThreadFailed)
			return
		}
		rte, ok := r.(*runtimeError)
		if !ok {
			panic(r)
		}
		e := t.env
		e.stack = e.stack[:0]
		e.base = 0
		if rte.hasVal {
			e.stack = append(e.stack, rte.val)
		} else if err := e.PushString(rte.msg); err != nil {
			e.stack = append(e.stack, Nil)
			t.setState(ThreadFailed)
			t.signalCh <- resumeSignal{status: StatusErrMem, nres: 1}
			return
		}
		t.setState(ThreadFailed)
		t.signalCh <- resumeSignal{status: StatusErrRun, nres: 1}
	}()

	nres := t.env.Call(nargs, MultRet)
	t.setState(ThreadDone)
	t.signalCh <- resumeSignal{status: StatusOK, nres: nres}
}

// Yield suspends the running thread, reporting the top nres values to the
// resumer. It returns when the host resumes the thread again; the return
// value is the count of new argument values the resumer placed on top of
// the stack. Raises when called outside a coroutine.
func (e *Env) Yield(nres int) int {
	t := e.thread
	if t == nil {
		e.RaiseError("attempt to yield from outside a coroutine")
	}
	if nres < 0 || nres > e.Top() {
		e.RaiseError("yield: %d results with top %d", nres, e.Top())
	}
	t.setState(ThreadSuspended)
	t.signalCh <- resumeSignal{status: StatusYield, nres: nres}

	select {
	case nargs := <-t.resumeCh:
		return nargs
	case <-t.quit:
		panic(threadKilled{})
	}
}

// kill unblocks a parked thread goroutine during Close.
func (t *Thread) kill() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == ThreadSuspended {
		close(t.quit)
	}
	t.env.closed = true
}
