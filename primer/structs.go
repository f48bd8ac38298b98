package primer

import (
	"reflect"

	"github.com/garbageslam/lua-primer/vm"
)

// ---------------------------------------------------------------------------
// Struct <-> table conversion
// ---------------------------------------------------------------------------

// Worst-case working slots for pushing or reading one struct level. These
// are deliberately loose; a level of nesting only needs the table plus one
// field value in flight at a time.
const (
	StructPushCost = 2
	StructReadCost = 3
)

// fieldName reports the table key for a struct field, honoring the
// `primer` tag. A tag of "-" hides the field.
func fieldName(f reflect.StructField) (string, bool) {
	if !f.IsExported() {
		return "", false
	}
	if tag, ok := f.Tag.Lookup("primer"); ok {
		if tag == "-" {
			return "", false
		}
		return tag, true
	}
	return f.Name, true
}

// pushStruct pushes rv (a struct value) as a table. On failure the stack
// is unchanged.
func pushStruct(e *vm.Env, rv reflect.Value) *Error {
	if !e.CheckStack(StructPushCost) {
		return NewError(KindInsufficientStack, "insufficient stack space")
	}
	if err := e.CreateTable(); err != nil {
		return allocError(err)
	}
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		name, ok := fieldName(rt.Field(i))
		if !ok {
			continue
		}
		if err := pushArg(e, rv.Field(i).Interface()); err != nil {
			e.Pop(1) // the partial table
			return err.PrependLine("in field %q:", name)
		}
		e.SetField(-2, name)
	}
	return nil
}

// ReadInto reads the table at idx into the struct pointed to by ptr.
// Every exported, untagged-hidden field must be present with a
// convertible value; pointer fields tolerate absence and stay nil.
func ReadInto(e *vm.Env, idx int, ptr any) *Error {
	rv := reflect.ValueOf(ptr)
	if rv.Kind() != reflect.Ptr || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return NewError(KindConversion, "need a non-nil pointer to struct, got %T", ptr)
	}
	t, ok := e.TableAt(idx)
	if !ok {
		return unexpectedValue(e, idx, "table")
	}
	if !e.CheckStack(StructReadCost) {
		return NewError(KindInsufficientStack, "insufficient stack space")
	}
	sv := rv.Elem()
	st := sv.Type()
	for i := 0; i < st.NumField(); i++ {
		name, ok := fieldName(st.Field(i))
		if !ok {
			continue
		}
		if err := readField(e, t.Get(name), sv.Field(i)); err != nil {
			return err.PrependLine("in field %q:", name)
		}
	}
	return nil
}

// ReadStruct reads the table at idx into a fresh value of type T.
func ReadStruct[T any](e *vm.Env, idx int) Result[T] {
	var out T
	if err := ReadInto(e, idx, &out); err != nil {
		return Failure[T](err)
	}
	return Success(out)
}

// readField converts one table value into the reflect field fv. The value
// is pushed so conversion errors can describe what was found, then popped
// again on every path.
func readField(e *vm.Env, v vm.Value, fv reflect.Value) *Error {
	if fv.Kind() == reflect.Ptr {
		if v.IsNil() {
			fv.Set(reflect.Zero(fv.Type()))
			return nil
		}
		elem := reflect.New(fv.Type().Elem())
		if err := readField(e, v, elem.Elem()); err != nil {
			return err
		}
		fv.Set(elem)
		return nil
	}

	if fv.Type() == reflect.TypeOf(vm.Nil) {
		fv.Set(reflect.ValueOf(v))
		return nil
	}

	e.Push(v)
	defer e.Pop(1)

	switch fv.Kind() {
	case reflect.Bool:
		r := ReadBool(e, -1)
		if r.IsFailure() {
			return r.Err()
		}
		fv.SetBool(r.Value())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		r := ReadInt(e, -1)
		if r.IsFailure() {
			return r.Err()
		}
		if fv.OverflowInt(r.Value()) {
			return NewError(KindConversion, "integer %d overflows %s", r.Value(), fv.Type())
		}
		fv.SetInt(r.Value())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		r := ReadInt(e, -1)
		if r.IsFailure() {
			return r.Err()
		}
		if r.Value() < 0 || fv.OverflowUint(uint64(r.Value())) {
			return NewError(KindConversion, "integer %d overflows %s", r.Value(), fv.Type())
		}
		fv.SetUint(uint64(r.Value()))
	case reflect.Float32, reflect.Float64:
		r := ReadFloat(e, -1)
		if r.IsFailure() {
			return r.Err()
		}
		fv.SetFloat(r.Value())
	case reflect.String:
		r := ReadString(e, -1)
		if r.IsFailure() {
			return r.Err()
		}
		fv.SetString(r.Value())
	case reflect.Struct:
		return ReadInto(e, -1, fv.Addr().Interface())
	default:
		return NewError(KindConversion, "unsupported field type %s", fv.Type())
	}
	return nil
}
