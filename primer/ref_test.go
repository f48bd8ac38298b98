package primer

import (
	"testing"

	"github.com/garbageslam/lua-primer/vm"
)

func TestCaptureRefRoundTrip(t *testing.T) {
	e := vm.NewEnv(nil)
	defer e.Close()

	if err := e.PushString("hello"); err != nil {
		t.Fatalf("push: %v", err)
	}
	r := CaptureRef(e)
	if r.IsFailure() {
		t.Fatalf("capture: %v", r.Err())
	}
	if e.Top() != 0 {
		t.Fatalf("capture left %d values on the stack", e.Top())
	}

	ref := r.Value()
	if !ref.Valid() {
		t.Fatal("captured token should be valid")
	}
	if !ref.Push(e) {
		t.Fatal("push failed")
	}
	s, ok := e.StringAt(-1)
	if !ok || s != "hello" {
		t.Errorf("round trip = %q, %v", s, ok)
	}
	e.Pop(1)
}

func TestCaptureRefEmptyStack(t *testing.T) {
	e := vm.NewEnv(nil)
	defer e.Close()

	r := CaptureRef(e)
	if r.IsFailure() {
		t.Fatalf("capture: %v", r.Err())
	}
	if r.Value().Valid() {
		t.Error("empty-stack capture should yield an empty token")
	}
	if r.Value().Push(e) {
		t.Error("empty token pushed something")
	}
}

func TestRefReset(t *testing.T) {
	e := vm.NewEnv(nil)
	defer e.Close()

	e.PushInt(7)
	ref := CaptureRef(e).Value()
	ref.Reset()
	if ref.Valid() {
		t.Error("token valid after Reset")
	}
	if ref.Push(e) {
		t.Error("reset token pushed something")
	}
	ref.Reset() // idempotent
}

func TestRefCloneSharesSlot(t *testing.T) {
	e := vm.NewEnv(nil)
	defer e.Close()

	e.PushInt(99)
	a := CaptureRef(e).Value()
	b := a.Clone()

	a.Reset()
	if !b.Push(e) {
		t.Fatal("clone could not push after original reset")
	}
	v := e.At(-1)
	if !v.IsSmallInt() || v.SmallInt() != 99 {
		t.Errorf("clone value = %v", v)
	}
	e.Pop(1)
	b.Reset()
}

func TestRefInvalidAfterClose(t *testing.T) {
	e := vm.NewEnv(nil)
	e.PushInt(1)
	ref := CaptureRef(e).Value()

	e.Close()
	if _, ok := ref.Lock(); ok {
		t.Error("Lock succeeded after Close")
	}
	if ref.Push(vm.NewEnv(nil)) {
		t.Error("token pushed after its environment closed")
	}
	ref.Reset() // must not panic
}

func TestCaptureSeqOrderAndNeutrality(t *testing.T) {
	e := vm.NewEnv(nil)
	defer e.Close()

	e.PushInt(1)
	e.PushInt(2)
	e.PushInt(3)
	r := CaptureSeq(e, 2)
	if r.IsFailure() {
		t.Fatalf("capture: %v", r.Err())
	}
	if e.Top() != 1 {
		t.Fatalf("top = %d, want 1", e.Top())
	}

	seq := r.Value()
	if len(seq) != 2 {
		t.Fatalf("len = %d", len(seq))
	}
	// Bottom-most captured value first.
	for i, want := range []int64{2, 3} {
		if !seq[i].Push(e) {
			t.Fatalf("push %d failed", i)
		}
		if got := e.At(-1).SmallInt(); got != want {
			t.Errorf("seq[%d] = %d, want %d", i, got, want)
		}
		e.Pop(1)
	}
	seq.Release()
}

func TestCaptureSeqTooMany(t *testing.T) {
	e := vm.NewEnv(nil)
	defer e.Close()

	e.PushInt(1)
	if r := CaptureSeq(e, 2); r.IsSuccess() {
		t.Error("expected failure capturing more values than the stack holds")
	}
}

func TestRefSeqPushEach(t *testing.T) {
	e := vm.NewEnv(nil)
	defer e.Close()

	e.PushInt(10)
	e.PushInt(20)
	seq := CaptureSeq(e, 2).Value()

	if err := seq.PushEach(e); err != nil {
		t.Fatalf("PushEach: %v", err)
	}
	if e.Top() != 2 {
		t.Fatalf("top = %d", e.Top())
	}
	if e.At(1).SmallInt() != 10 || e.At(2).SmallInt() != 20 {
		t.Errorf("order wrong: %d, %d", e.At(1).SmallInt(), e.At(2).SmallInt())
	}
	e.Pop(2)

	// A released sequence restores the stack on failure.
	seq.Release()
	if err := seq.PushEach(e); err == nil {
		t.Fatal("PushEach succeeded on released tokens")
	}
	if e.Top() != 0 {
		t.Errorf("failed PushEach left %d values", e.Top())
	}
}
