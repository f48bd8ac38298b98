package primer

// ---------------------------------------------------------------------------
// Result: value-or-error channel for every fallible operation
// ---------------------------------------------------------------------------

// Unit is the value type of results that carry no payload.
type Unit struct{}

// Result holds either a success value or an error record, never both.
// The zero Result is a success holding the zero value; operations in this
// package always construct results through Success and Failure.
type Result[T any] struct {
	value T
	err   *Error
}

// Success wraps a value.
func Success[T any](v T) Result[T] {
	return Result[T]{value: v}
}

// Failure wraps an error record.
func Failure[T any](err *Error) Result[T] {
	return Result[T]{err: err}
}

// Failf builds a failure from a kind and message.
func Failf[T any](kind ErrorKind, format string, args ...any) Result[T] {
	return Result[T]{err: NewError(kind, format, args...)}
}

// IsSuccess reports whether the result holds a value.
func (r Result[T]) IsSuccess() bool {
	return r.err == nil
}

// IsFailure reports whether the result holds an error.
func (r Result[T]) IsFailure() bool {
	return r.err != nil
}

// Value returns the held value. Only meaningful when IsSuccess; callers
// test first.
func (r Result[T]) Value() T {
	return r.value
}

// Err returns the error record, or nil on success.
func (r Result[T]) Err() *Error {
	return r.err
}

// Unpack returns the value and the error record.
func (r Result[T]) Unpack() (T, *Error) {
	return r.value, r.err
}

// Then composes two fallible operations: the function runs only on
// success, and a failure propagates unchanged.
func Then[T, U any](r Result[T], f func(T) Result[U]) Result[U] {
	if r.err != nil {
		return Result[U]{err: r.err}
	}
	return f(r.value)
}

// MapResult transforms a success value, propagating failure unchanged.
func MapResult[T, U any](r Result[T], f func(T) U) Result[U] {
	if r.err != nil {
		return Result[U]{err: r.err}
	}
	return Result[U]{value: f(r.value)}
}
