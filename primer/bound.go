package primer

import (
	"github.com/garbageslam/lua-primer/vm"
)

// ---------------------------------------------------------------------------
// BoundFunction: a callable capability
// ---------------------------------------------------------------------------

// BoundFunction owns a token to a VM-resident callable and invokes it
// protected, with stack-space checked up front: a call either runs inside
// a reserved margin or fails with an insufficient-stack error before
// anything touches the VM.
type BoundFunction struct {
	ref *Ref
}

// BindFunction pops the top-of-stack value and binds it when it is a
// callable; any other value is popped and discarded, producing an empty
// binding. An empty stack also produces an empty binding.
func BindFunction(e *vm.Env) Result[*BoundFunction] {
	r := CaptureIf(e, func(e *vm.Env, idx int) bool {
		return e.IsFunction(idx)
	})
	if r.IsFailure() {
		return Failure[*BoundFunction](r.Err())
	}
	return Success(&BoundFunction{ref: r.Value()})
}

// Valid reports whether the binding holds a callable whose environment
// may still exist.
func (b *BoundFunction) Valid() bool {
	return b != nil && b.ref.Valid()
}

// Push re-pushes the bound callable onto the environment's stack,
// reporting false if the binding is empty or the environment is gone.
func (b *BoundFunction) Push(e *vm.Env) bool {
	return b.ref.Push(e)
}

// Reset releases the binding eagerly.
func (b *BoundFunction) Reset() {
	b.ref.Reset()
}

// Clone returns a binding sharing the same pinned callable.
func (b *BoundFunction) Clone() *BoundFunction {
	return &BoundFunction{ref: b.ref.Clone()}
}

// prepare locks the owning environment, checks the stack margin for the
// call, and pushes the callable. extra is the slot margin the arguments
// need beyond the callable itself. On any failure the environment's stack
// is untouched.
func (b *BoundFunction) prepare(extra Space) (*vm.Env, *Error) {
	env, ok := b.ref.Lock()
	if !ok {
		return nil, NewError(KindEnvGone, "cannot lock environment")
	}
	// Margin: the callable slot plus the arguments' high-water mark, plus
	// two working slots for the message handler and the error value.
	margin, known := extra.AddInt(1).Get()
	if !known {
		margin = env.Config().Stack.DefaultReserve
	}
	if !env.CheckStack(margin + 2) {
		return nil, NewError(KindInsufficientStack,
			"insufficient stack space: needed %d slots", margin+2)
	}
	if !b.ref.Push(env) {
		return nil, NewError(KindEnvGone, "bound callable could not be pushed")
	}
	return env, nil
}

// setup pushes the callable and all arguments, rolling the stack back on
// failure, and returns the environment ready for a stacked call.
func (b *BoundFunction) setup(args ...any) (*vm.Env, *Error) {
	env, err := b.prepare(EstimatePush(args...))
	if err != nil {
		return nil, err
	}
	if perr := pushEach(env, args...); perr != nil {
		env.Pop(1) // the callable
		return nil, perr
	}
	return env, nil
}

// CallNoRet invokes the bound callable with the given arguments,
// discarding results.
func (b *BoundFunction) CallNoRet(args ...any) Result[Unit] {
	env, err := b.setup(args...)
	if err != nil {
		return Failure[Unit](err)
	}
	return CallStackedNoRet(env, len(args))
}

// CallOneRet invokes the bound callable and captures its first result.
func (b *BoundFunction) CallOneRet(args ...any) Result[*Ref] {
	env, err := b.setup(args...)
	if err != nil {
		return Failure[*Ref](err)
	}
	return CallStackedOneRet(env, len(args))
}

// Call invokes the bound callable and captures all its results.
func (b *BoundFunction) Call(args ...any) Result[RefSeq] {
	env, err := b.setup(args...)
	if err != nil {
		return Failure[RefSeq](err)
	}
	return CallStacked(env, len(args))
}

// setupSeq pushes the callable and a token sequence as arguments.
func (b *BoundFunction) setupSeq(args RefSeq) (*vm.Env, *Error) {
	env, err := b.prepare(KnownSpace(len(args)))
	if err != nil {
		return nil, err
	}
	if perr := args.PushEach(env); perr != nil {
		env.Pop(1)
		return nil, perr
	}
	return env, nil
}

// CallNoRetSeq invokes with captured tokens as arguments, discarding
// results.
func (b *BoundFunction) CallNoRetSeq(args RefSeq) Result[Unit] {
	env, err := b.setupSeq(args)
	if err != nil {
		return Failure[Unit](err)
	}
	return CallStackedNoRet(env, len(args))
}

// CallOneRetSeq invokes with captured tokens as arguments, capturing the
// first result.
func (b *BoundFunction) CallOneRetSeq(args RefSeq) Result[*Ref] {
	env, err := b.setupSeq(args)
	if err != nil {
		return Failure[*Ref](err)
	}
	return CallStackedOneRet(env, len(args))
}

// CallSeq invokes with captured tokens as arguments, capturing all
// results.
func (b *BoundFunction) CallSeq(args RefSeq) Result[RefSeq] {
	env, err := b.setupSeq(args)
	if err != nil {
		return Failure[RefSeq](err)
	}
	return CallStacked(env, len(args))
}
