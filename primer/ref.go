package primer

import (
	"github.com/garbageslam/lua-primer/vm"
)

// ---------------------------------------------------------------------------
// Ref: capability token for a VM-resident value
// ---------------------------------------------------------------------------

// Ref is a revocable, shareable handle to a VM-resident value, decoupled
// from any stack position. It holds a weak back-reference to the owning
// environment plus a pinned ref-slot id; it never keeps the environment
// alive. A Ref whose environment has been closed, or that has been Reset,
// behaves as empty: Push reports failure and Lock reports none, never
// undefined behavior.
type Ref struct {
	w     *vm.EnvRef
	id    uint64
	valid bool
}

// CaptureRef pops the top-of-stack value into a new token, pinning it in
// the owning environment. With an empty stack it returns an empty token.
// The value is popped whether or not pinning succeeds.
func CaptureRef(e *vm.Env) Result[*Ref] {
	if e.Top() == 0 {
		return Success(&Ref{})
	}
	id, err := e.CreateRef()
	if err != nil {
		return Failure[*Ref](allocError(err).PrependLine("while capturing a reference,"))
	}
	return Success(&Ref{w: e.Weak(), id: id, valid: true})
}

// CaptureIf pops the top-of-stack value and captures it only when pred
// accepts it; otherwise it returns an empty token. The value is popped in
// every case.
func CaptureIf(e *vm.Env, pred func(e *vm.Env, idx int) bool) Result[*Ref] {
	if e.Top() == 0 {
		return Success(&Ref{})
	}
	if !pred(e, -1) {
		e.Pop(1)
		return Success(&Ref{})
	}
	return CaptureRef(e)
}

// Valid reports whether the token references anything.
func (r *Ref) Valid() bool {
	return r != nil && r.valid
}

// Lock returns the owning environment, or false if it no longer exists or
// the token is empty.
func (r *Ref) Lock() (*vm.Env, bool) {
	if !r.Valid() {
		return nil, false
	}
	e := r.w.Lock()
	if e == nil {
		return nil, false
	}
	return e, true
}

// Push re-pushes the referenced value onto the given environment's stack.
// Returns false, pushing nothing, if the token is empty, the owning
// environment is gone, or the stack cannot grow by one slot.
func (r *Ref) Push(e *vm.Env) bool {
	if !r.Valid() {
		return false
	}
	if owner := r.w.Lock(); owner == nil {
		return false
	}
	if !e.CheckStack(1) {
		return false
	}
	return e.PushRef(r.id)
}

// Reset invalidates the token eagerly, releasing its share of the pinned
// slot. Safe to call repeatedly.
func (r *Ref) Reset() {
	if !r.Valid() {
		return
	}
	if e := r.w.Lock(); e != nil {
		e.ReleaseRef(r.id)
	}
	r.valid = false
}

// Clone returns a token sharing the same pinned slot. The slot is freed
// when the last sharing token is Reset or the environment closes.
func (r *Ref) Clone() *Ref {
	if !r.Valid() {
		return &Ref{}
	}
	if e := r.w.Lock(); e != nil {
		e.RetainRef(r.id)
		return &Ref{w: r.w, id: r.id, valid: true}
	}
	return &Ref{}
}

// allocError classifies a vm-level allocation or teardown error.
func allocError(err error) *Error {
	switch err {
	case vm.ErrEnvClosed:
		return NewError(KindEnvGone, "environment unavailable")
	case vm.ErrObjectLimit, vm.ErrRefLimit:
		return NewError(KindAlloc, "allocation failed: %v", err)
	default:
		return NewError(KindRuntime, "%v", err)
	}
}
