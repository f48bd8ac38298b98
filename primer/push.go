package primer

import (
	"reflect"

	"github.com/garbageslam/lua-primer/vm"
)

// ---------------------------------------------------------------------------
// Stack-cost estimation and argument pushing
// ---------------------------------------------------------------------------

// Pusher is implemented by types that know how to place themselves on a
// VM stack. A Pusher leaves exactly one value on the stack on success and
// the stack unchanged on failure.
type Pusher interface {
	PushVM(e *vm.Env) *Error
}

// StackCoster is implemented by types whose push may consume more than
// one working slot. Types that do not implement it cost one slot.
type StackCoster interface {
	StackSpaceNeeded() Space
}

// costOf reports the worst-case stack slots needed to push a.
func costOf(a any) Space {
	if c, ok := a.(StackCoster); ok {
		return c.StackSpaceNeeded()
	}
	switch reflect.ValueOf(a).Kind() {
	case reflect.Struct, reflect.Map, reflect.Slice:
		return KnownSpace(StructPushCost)
	}
	return KnownSpace(1)
}

// EstimatePush reports the worst-case stack growth of pushing args in
// sequence: the high-water mark over every prefix, where pushing argument
// i begins with i earlier arguments already resting on the stack.
func EstimatePush(args ...any) Space {
	margin := KnownSpace(0)
	for i, a := range args {
		margin = margin.Max(costOf(a).AddInt(i))
	}
	return margin
}

// pushArg places a single Go value on the stack as a VM value. The caller
// is responsible for having reserved space; pushArg still guards each
// slot so that exhaustion surfaces as an error rather than a panic.
func pushArg(e *vm.Env, a any) *Error {
	if p, ok := a.(Pusher); ok {
		return p.PushVM(e)
	}
	if !e.CheckStack(1) {
		return NewError(KindInsufficientStack, "insufficient stack space")
	}
	switch v := a.(type) {
	case nil:
		e.PushNil()
	case bool:
		e.PushBool(v)
	case int:
		e.PushInt(int64(v))
	case int8:
		e.PushInt(int64(v))
	case int16:
		e.PushInt(int64(v))
	case int32:
		e.PushInt(int64(v))
	case int64:
		e.PushInt(v)
	case uint:
		e.PushInt(int64(v))
	case uint8:
		e.PushInt(int64(v))
	case uint16:
		e.PushInt(int64(v))
	case uint32:
		e.PushInt(int64(v))
	case uint64:
		e.PushInt(int64(v))
	case float32:
		e.PushFloat(float64(v))
	case float64:
		e.PushFloat(v)
	case string:
		if err := e.PushString(v); err != nil {
			return allocError(err)
		}
	case vm.Value:
		e.Push(v)
	case *Ref:
		if !v.Push(e) {
			return NewError(KindEnvGone, "reference could not be pushed")
		}
	default:
		rv := reflect.ValueOf(a)
		switch rv.Kind() {
		case reflect.Struct:
			return pushStruct(e, rv)
		case reflect.Ptr:
			if rv.IsNil() {
				e.PushNil()
				return nil
			}
			return pushArg(e, rv.Elem().Interface())
		}
		return NewError(KindConversion, "cannot convert %T to a VM value", a)
	}
	return nil
}

// pushEach pushes args left to right. On any failure the stack is
// restored to its depth at entry.
func pushEach(e *vm.Env, args ...any) *Error {
	base := e.Top()
	for i, a := range args {
		if err := pushArg(e, a); err != nil {
			e.SetTop(base)
			return err.PrependLine("while pushing argument %d,", i+1)
		}
	}
	return nil
}
