package primer

import (
	"github.com/garbageslam/lua-primer/vm"
)

// ---------------------------------------------------------------------------
// Reading Go values off the VM stack
// ---------------------------------------------------------------------------

// unexpectedValue builds a conversion error naming what was wanted and a
// short description of what actually sat at idx.
func unexpectedValue(e *vm.Env, idx int, want string) *Error {
	return NewError(KindConversion, "expected %s, found %s", want, e.Describe(idx))
}

// ReadBool reads the value at idx as a boolean. Only true and false
// convert; other values are a conversion error, not a truthiness test.
func ReadBool(e *vm.Env, idx int) Result[bool] {
	v := e.At(idx)
	if !v.IsBool() {
		return Failure[bool](unexpectedValue(e, idx, "boolean"))
	}
	return Success(v.IsTrue())
}

// ReadInt reads the value at idx as an integer. Floats with an exact
// integral value convert; anything else is a conversion error.
func ReadInt(e *vm.Env, idx int) Result[int64] {
	v := e.At(idx)
	if v.IsSmallInt() {
		return Success(v.SmallInt())
	}
	if v.IsFloat() {
		f := v.Float64()
		n := int64(f)
		if float64(n) == f {
			return Success(n)
		}
	}
	return Failure[int64](unexpectedValue(e, idx, "integer"))
}

// ReadFloat reads the value at idx as a float. Integers widen.
func ReadFloat(e *vm.Env, idx int) Result[float64] {
	v := e.At(idx)
	if v.IsFloat() {
		return Success(v.Float64())
	}
	if v.IsSmallInt() {
		return Success(float64(v.SmallInt()))
	}
	return Failure[float64](unexpectedValue(e, idx, "number"))
}

// ReadString reads the value at idx as a string. No number coercion.
func ReadString(e *vm.Env, idx int) Result[string] {
	s, ok := e.StringAt(idx)
	if !ok {
		return Failure[string](unexpectedValue(e, idx, "string"))
	}
	return Success(s)
}

// ReadValue returns the raw boxed value at idx without conversion.
func ReadValue(e *vm.Env, idx int) Result[vm.Value] {
	abs := e.AbsIndex(idx)
	if abs < 1 || abs > e.Top() {
		return Failf[vm.Value](KindConversion, "no value at index %d", idx)
	}
	return Success(e.At(idx))
}
