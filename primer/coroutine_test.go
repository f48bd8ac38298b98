package primer

import (
	"strings"
	"testing"

	"github.com/garbageslam/lua-primer/config"
	"github.com/garbageslam/lua-primer/vm"
)

func newCoroutine(t *testing.T, e *vm.Env, name string, fn vm.GoFunction) *Coroutine {
	t.Helper()
	b := bindFn(t, e, name, fn)
	r := NewCoroutine(b)
	if r.IsFailure() {
		t.Fatalf("coroutine: %v", r.Err())
	}
	return r.Value()
}

func TestCoroutineRunToCompletion(t *testing.T) {
	e := vm.NewEnv(nil)
	defer e.Close()

	double := func(e *vm.Env) int {
		e.PushInt(e.At(1).SmallInt() * 2)
		return 1
	}
	c := newCoroutine(t, e, "double", double)

	if c.Status() != vm.ThreadNotStarted {
		t.Errorf("initial status = %v", c.Status())
	}
	r := c.ResumeOneRet(int64(21))
	if r.IsFailure() {
		t.Fatalf("resume: %v", r.Err())
	}
	if c.Status() != vm.ThreadDone {
		t.Errorf("status = %v, want done", c.Status())
	}

	te := c.Thread().Env()
	if !r.Value().Push(te) {
		t.Fatal("push result")
	}
	if got := te.At(-1).SmallInt(); got != 42 {
		t.Errorf("result = %d", got)
	}
	te.Pop(1)
}

func TestCoroutineYieldThenComplete(t *testing.T) {
	e := vm.NewEnv(nil)
	defer e.Close()

	// Yields its argument plus one, then returns double whatever the
	// second resume supplies.
	body := func(e *vm.Env) int {
		e.PushInt(e.At(1).SmallInt() + 1)
		nargs := e.Yield(1)
		m := e.At(-1).SmallInt()
		e.Pop(nargs)
		e.PushInt(m * 2)
		return 1
	}
	c := newCoroutine(t, e, "stepper", body)
	te := c.Thread().Env()

	r1 := c.ResumeOneRet(int64(10))
	if r1.IsFailure() {
		t.Fatalf("first resume: %v", r1.Err())
	}
	if c.Status() != vm.ThreadSuspended {
		t.Fatalf("status after yield = %v", c.Status())
	}
	r1.Value().Push(te)
	if got := te.At(-1).SmallInt(); got != 11 {
		t.Errorf("yielded = %d", got)
	}
	te.Pop(1)

	r2 := c.ResumeOneRet(int64(8))
	if r2.IsFailure() {
		t.Fatalf("second resume: %v", r2.Err())
	}
	if c.Status() != vm.ThreadDone {
		t.Fatalf("status after return = %v", c.Status())
	}
	r2.Value().Push(te)
	if got := te.At(-1).SmallInt(); got != 16 {
		t.Errorf("returned = %d", got)
	}
	te.Pop(1)
}

func TestCoroutineMultipleYieldValues(t *testing.T) {
	e := vm.NewEnv(nil)
	defer e.Close()

	body := func(e *vm.Env) int {
		e.PushInt(1)
		e.PushInt(2)
		e.Yield(2)
		return 0
	}
	c := newCoroutine(t, e, "pair", body)
	te := c.Thread().Env()

	r := c.Resume()
	if r.IsFailure() {
		t.Fatalf("resume: %v", r.Err())
	}
	seq := r.Value()
	if len(seq) != 2 {
		t.Fatalf("yielded %d values", len(seq))
	}
	seq[0].Push(te)
	seq[1].Push(te)
	if te.At(-2).SmallInt() != 1 || te.At(-1).SmallInt() != 2 {
		t.Errorf("yield order wrong: %v, %v", te.At(-2), te.At(-1))
	}
	te.Pop(2)
	seq.Release()

	if r := c.ResumeNoRet(); r.IsFailure() {
		t.Fatalf("final resume: %v", r.Err())
	}
	if c.Status() != vm.ThreadDone {
		t.Errorf("status = %v", c.Status())
	}
	if te.Top() != 0 {
		t.Errorf("thread stack not drained: top = %d", te.Top())
	}
}

func TestCoroutineErrorThenDead(t *testing.T) {
	e := vm.NewEnv(nil)
	defer e.Close()

	body := func(e *vm.Env) int {
		e.RaiseError("exploded")
		return 0
	}
	c := newCoroutine(t, e, "exploder", body)

	r := c.ResumeNoRet()
	if r.IsSuccess() {
		t.Fatal("expected failure")
	}
	if r.Err().Kind() != KindRuntime {
		t.Errorf("Kind = %v", r.Err().Kind())
	}
	if !strings.Contains(r.Err().Error(), "exploded") {
		t.Errorf("message = %q", r.Err().Error())
	}
	if c.Status() != vm.ThreadFailed {
		t.Errorf("status = %v", c.Status())
	}

	// A dead coroutine refuses further resumes without touching its stack.
	r2 := c.ResumeNoRet()
	if r2.IsSuccess() {
		t.Fatal("resumed a dead coroutine")
	}
	if !strings.Contains(r2.Err().Error(), "dead coroutine") {
		t.Errorf("message = %q", r2.Err().Error())
	}
}

func TestCoroutineErrorCarriesTraceback(t *testing.T) {
	e := vm.NewEnv(nil)
	defer e.Close()

	body := func(e *vm.Env) int {
		e.RaiseError("deep failure")
		return 0
	}
	c := newCoroutine(t, e, "fails", body)

	r := c.ResumeNoRet()
	if r.IsSuccess() {
		t.Fatal("expected failure")
	}
	msg := r.Err().Error()
	if !strings.Contains(msg, "deep failure") || !strings.Contains(msg, "stack traceback:") {
		t.Errorf("message = %q", msg)
	}
}

func TestResumeErrorUndecoratedAtFullStack(t *testing.T) {
	cfg := config.Default()
	cfg.Stack.InitialDepth = 1
	cfg.Stack.MaxDepth = 1
	e := vm.NewEnv(cfg)
	defer e.Close()

	thr, err := e.NewThread()
	if err != nil {
		t.Fatal(err)
	}
	te := thr.Env()
	if err := te.PushGoFunction("angry", func(e *vm.Env) int {
		e.RaiseError("grr")
		return 0
	}); err != nil {
		t.Fatalf("push function: %v", err)
	}

	// The error value fills the only slot, so there is no room to append
	// the traceback: the message must come back undecorated, not raise.
	r := ResumeStackedNoRet(thr, 0)
	if r.IsSuccess() {
		t.Fatal("expected failure")
	}
	if got := r.Err().Lines()[0]; got != "grr" {
		t.Errorf("first line = %q", got)
	}
	if strings.Contains(r.Err().Error(), "stack traceback:") {
		t.Error("decoration should be skipped when no slot is free")
	}
	if te.Top() != 0 {
		t.Errorf("top = %d", te.Top())
	}
}

func TestCoroutineFromEmptyBinding(t *testing.T) {
	e := vm.NewEnv(nil)
	defer e.Close()

	e.PushInt(1)
	b := BindFunction(e).Value() // not a callable: empty binding
	if r := NewCoroutine(b); r.IsSuccess() {
		t.Fatal("expected failure")
	}
}

func TestCoroutineOutlivesBindingReset(t *testing.T) {
	e := vm.NewEnv(nil)
	defer e.Close()

	b := bindFn(t, e, "identity", identity)
	c := NewCoroutine(b).Value()
	b.Reset()

	if r := c.ResumeNoRet(int64(1)); r.IsFailure() {
		t.Errorf("resume after binding reset: %v", r.Err())
	}
}

func TestCoroutineAfterEnvClose(t *testing.T) {
	e := vm.NewEnv(nil)
	c := newCoroutine(t, e, "identity", identity)
	e.Close()

	r := c.ResumeNoRet()
	if r.IsSuccess() {
		t.Fatal("expected failure")
	}
	if r.Err().Kind() != KindEnvGone {
		t.Errorf("Kind = %v", r.Err().Kind())
	}
}
