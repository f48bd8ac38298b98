// Package primer is the safety layer between Go host code and an
// embedded stack VM. It wraps the raw stack API of package vm behind
// operations that check stack space before pushing, report failures as
// values instead of raised errors, and hand out revocable tokens in place
// of stack positions, so host code can hold VM values across calls and
// environment teardown without dangling anything.
//
// The main entry points are BindFunction, which turns a VM callable into
// a BoundFunction that invokes protected with its margin checked up
// front, and NewCoroutine, which drives a bound callable resumably.
// Failures travel as Result values carrying an Error whose lines read
// outermost context first.
package primer
