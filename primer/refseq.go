package primer

import (
	"github.com/garbageslam/lua-primer/vm"
)

// RefSeq is an ordered sequence of tokens, typically the results of a
// protected call captured off the stack.
type RefSeq []*Ref

// CaptureSeq pops the top n values of the stack into tokens, preserving
// their stack order (the bottom-most of the n becomes element 0). All n
// values are popped whether or not every capture succeeds.
func CaptureSeq(e *vm.Env, n int) Result[RefSeq] {
	if n < 0 || n > e.Top() {
		return Failf[RefSeq](KindRuntime, "cannot capture %d results from a stack of depth %d", n, e.Top())
	}
	seq := make(RefSeq, n)
	var failed *Error
	for i := n - 1; i >= 0; i-- {
		// CaptureRef pops its value even on failure, so the loop always
		// consumes exactly n slots.
		r := CaptureRef(e)
		if r.IsFailure() {
			if failed == nil {
				failed = r.Err().PrependLine("while retaining result %d,", i+1)
			}
			seq[i] = &Ref{}
			continue
		}
		seq[i] = r.Value()
	}
	if failed != nil {
		seq.Release()
		return Failure[RefSeq](failed)
	}
	return Success(seq)
}

// PushEach re-pushes every token in order onto the environment's stack.
// On any failure the stack is restored to its prior depth.
func (s RefSeq) PushEach(e *vm.Env) *Error {
	if !e.CheckStack(len(s)) {
		return NewError(KindInsufficientStack,
			"insufficient stack space: needed %d slots", len(s))
	}
	base := e.Top()
	for i, r := range s {
		if !r.Push(e) {
			e.SetTop(base)
			return NewError(KindEnvGone, "reference %d could not be pushed", i+1)
		}
	}
	return nil
}

// Release resets every token in the sequence.
func (s RefSeq) Release() {
	for _, r := range s {
		r.Reset()
	}
}
