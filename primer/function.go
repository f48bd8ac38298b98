package primer

import (
	"strings"

	"github.com/tliron/commonlog"

	"github.com/garbageslam/lua-primer/vm"
)

var callLog = commonlog.GetLogger("primer.call")

// ---------------------------------------------------------------------------
// Protected invocation over stacked arguments
// ---------------------------------------------------------------------------

// tracebackHandler is the message handler installed beneath every
// protected call. String error values gain the traceback captured at the
// raise site; every other value passes through untouched.
func tracebackHandler(e *vm.Env) int {
	msg, ok := e.StringAt(-1)
	if !ok {
		return 1
	}
	tb := e.LastRaiseTraceback()
	if tb == "" {
		return 1
	}
	if err := e.PushString(msg + "\n" + tb); err != nil {
		// Keep the plain message when decoration cannot allocate.
		return 1
	}
	return 1
}

// pcallHelper runs a protected call over the callable and nargs arguments
// on top of the stack, with the traceback handler installed beneath the
// callable and removed again before returning. It returns the call status
// and the absolute depth of the stack beneath the callable: on StatusOK
// the results sit above that depth, on error the single error value does.
func pcallHelper(e *vm.Env, nargs, nret int) (vm.Status, int) {
	base := e.Top() - nargs - 1
	if !e.CheckStack(2) {
		// No room for handler plus error slot: run unhandled.
		return e.ProtectedCall(nargs, nret, 0), base
	}
	if err := e.PushGoFunction("traceback", tracebackHandler); err != nil {
		callLog.Debugf("could not allocate traceback handler: %v", err)
		return e.ProtectedCall(nargs, nret, 0), base
	}
	handlerIdx := base + 1
	e.Insert(handlerIdx)
	st := e.ProtectedCall(nargs, nret, handlerIdx)
	e.Remove(handlerIdx)
	return st, base
}

// popError pops the error value left by a failed protected call and maps
// it into the error taxonomy. Decorated string errors keep one line per
// traceback level.
func popError(e *vm.Env, st vm.Status) *Error {
	kind := KindRuntime
	if st == vm.StatusErrMem {
		kind = KindAlloc
	}
	var perr *Error
	if msg, ok := e.StringAt(-1); ok {
		perr = &Error{kind: kind, lines: strings.Split(msg, "\n")}
	} else {
		perr = NewError(kind, "uncaught error: %s", e.Describe(-1))
	}
	e.Pop(1)
	return perr
}

// CallStackedNoRet invokes the callable beneath nargs arguments on top of
// the stack, protected, discarding any results. The callable and
// arguments are consumed on every path; on failure the error value has
// been converted and removed, leaving the stack at its depth beneath the
// callable.
func CallStackedNoRet(e *vm.Env, nargs int) Result[Unit] {
	st, _ := pcallHelper(e, nargs, 0)
	if st != vm.StatusOK {
		return Failure[Unit](popError(e, st))
	}
	return Success(Unit{})
}

// CallStackedOneRet invokes like CallStackedNoRet but captures the first
// result as a token. A callable producing no results yields a token to
// nil, the way call results pad out.
func CallStackedOneRet(e *vm.Env, nargs int) Result[*Ref] {
	st, _ := pcallHelper(e, nargs, 1)
	if st != vm.StatusOK {
		return Failure[*Ref](popError(e, st))
	}
	return CaptureRef(e)
}

// CallStacked invokes like CallStackedNoRet but captures every result, in
// order, as tokens.
func CallStacked(e *vm.Env, nargs int) Result[RefSeq] {
	st, base := pcallHelper(e, nargs, vm.MultRet)
	if st != vm.StatusOK {
		return Failure[RefSeq](popError(e, st))
	}
	return CaptureSeq(e, e.Top()-base)
}

// ---------------------------------------------------------------------------
// Resume over stacked arguments
// ---------------------------------------------------------------------------

// decorateResumeError appends the raise-site traceback to a string error
// value on top of the thread stack, mirroring the protected-call handler.
func decorateResumeError(t *vm.Thread) {
	te := t.Env()
	msg, ok := te.StringAt(-1)
	if !ok {
		return
	}
	tb := te.LastRaiseTraceback()
	if tb == "" || t.State() != vm.ThreadFailed {
		return
	}
	// No protected boundary is active here: without a free slot the
	// message stays undecorated rather than raising.
	if !te.CheckStack(1) {
		return
	}
	if err := te.PushString(msg + "\n" + tb); err != nil {
		return
	}
	te.Remove(-2)
}

// resumeHelper resumes the thread and normalizes a failure into the error
// taxonomy, consuming the error value. On success it reports the number
// of yield or return values left on the thread's stack top.
func resumeHelper(t *vm.Thread, nargs int) (int, *Error) {
	st, nres := t.Resume(nargs)
	switch st {
	case vm.StatusOK, vm.StatusYield:
		return nres, nil
	default:
		decorateResumeError(t)
		return 0, popError(t.Env(), st)
	}
}

// ResumeStackedNoRet resumes the thread with nargs argument values on top
// of its stack, discarding whatever it yields or returns. Whether the
// body suspended or completed is read from the thread state afterwards.
func ResumeStackedNoRet(t *vm.Thread, nargs int) Result[Unit] {
	nres, err := resumeHelper(t, nargs)
	if err != nil {
		return Failure[Unit](err)
	}
	t.Env().Pop(nres)
	return Success(Unit{})
}

// ResumeStackedOneRet resumes like ResumeStackedNoRet but captures the
// first yielded or returned value as a token; with no values it yields an
// empty token.
func ResumeStackedOneRet(t *vm.Thread, nargs int) Result[*Ref] {
	nres, err := resumeHelper(t, nargs)
	if err != nil {
		return Failure[*Ref](err)
	}
	te := t.Env()
	if nres == 0 {
		return Success(&Ref{})
	}
	te.Pop(nres - 1)
	return CaptureRef(te)
}

// ResumeStacked resumes like ResumeStackedNoRet but captures every
// yielded or returned value, in order, as tokens.
func ResumeStacked(t *vm.Thread, nargs int) Result[RefSeq] {
	nres, err := resumeHelper(t, nargs)
	if err != nil {
		return Failure[RefSeq](err)
	}
	return CaptureSeq(t.Env(), nres)
}
