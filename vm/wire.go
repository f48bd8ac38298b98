package vm

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Value export. This moves plain data values (nil, booleans, numbers,
// strings, acyclic tables) across the host boundary in a canonical binary
// form. Callables and threads are not data and do not travel.

// cborEncMode uses canonical options for deterministic encoding.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// wireKind tags a wireValue node.
type wireKind int

const (
	wireNil wireKind = iota
	wireBool
	wireInt
	wireFloat
	wireString
	wireTable
)

// wireValue is the serialized form of one value tree node.
type wireValue struct {
	Kind   wireKind             `cbor:"k"`
	Bool   bool                 `cbor:"b,omitempty"`
	Int    int64                `cbor:"i,omitempty"`
	Float  float64              `cbor:"f,omitempty"`
	Str    string               `cbor:"s,omitempty"`
	Fields map[string]wireValue `cbor:"t,omitempty"`
	Elems  []wireValue          `cbor:"e,omitempty"`
}

// DumpValue serializes the value at index idx to canonical CBOR bytes.
// Functions, threads, and cyclic tables are rejected.
func (e *Env) DumpValue(idx int) ([]byte, error) {
	seen := make(map[uint64]bool)
	wv, err := e.toWire(e.At(idx), seen)
	if err != nil {
		return nil, err
	}
	data, err := cborEncMode.Marshal(wv)
	if err != nil {
		return nil, fmt.Errorf("vm: marshal value: %w", err)
	}
	return data, nil
}

func (e *Env) toWire(v Value, seen map[uint64]bool) (wireValue, error) {
	switch {
	case v == Nil:
		return wireValue{Kind: wireNil}, nil
	case v.IsBool():
		return wireValue{Kind: wireBool, Bool: v.IsTrue()}, nil
	case v.IsSmallInt():
		return wireValue{Kind: wireInt, Int: v.SmallInt()}, nil
	case v.IsFloat():
		return wireValue{Kind: wireFloat, Float: v.Float64()}, nil
	}

	id := v.ObjectID()
	o := e.g.reg.lookup(id)
	if o == nil {
		return wireValue{}, fmt.Errorf("vm: dump of dead object id %d", id)
	}
	switch o.kind {
	case TypeString:
		return wireValue{Kind: wireString, Str: o.str}, nil
	case TypeTable:
		if seen[id] {
			return wireValue{}, fmt.Errorf("vm: dump of cyclic table")
		}
		seen[id] = true
		defer delete(seen, id)

		wv := wireValue{Kind: wireTable}
		if len(o.table.fields) > 0 {
			wv.Fields = make(map[string]wireValue, len(o.table.fields))
			for _, k := range o.table.Keys() {
				child, err := e.toWire(o.table.fields[k], seen)
				if err != nil {
					return wireValue{}, err
				}
				wv.Fields[k] = child
			}
		}
		for _, elem := range o.table.elems {
			child, err := e.toWire(elem, seen)
			if err != nil {
				return wireValue{}, err
			}
			wv.Elems = append(wv.Elems, child)
		}
		return wv, nil
	default:
		return wireValue{}, fmt.Errorf("vm: cannot dump a %s value", o.kind)
	}
}

// LoadValue deserializes CBOR bytes produced by DumpValue and pushes the
// reconstructed value.
func (e *Env) LoadValue(data []byte) error {
	var wv wireValue
	if err := cbor.Unmarshal(data, &wv); err != nil {
		return fmt.Errorf("vm: unmarshal value: %w", err)
	}
	v, err := e.fromWire(&wv)
	if err != nil {
		return err
	}
	e.Push(v)
	return nil
}

func (e *Env) fromWire(wv *wireValue) (Value, error) {
	switch wv.Kind {
	case wireNil:
		return Nil, nil
	case wireBool:
		return FromBool(wv.Bool), nil
	case wireInt:
		v, ok := TryFromSmallInt(wv.Int)
		if !ok {
			return Nil, fmt.Errorf("vm: integer %d out of range", wv.Int)
		}
		return v, nil
	case wireFloat:
		return FromFloat64(wv.Float), nil
	case wireString:
		id, err := e.allocObject(&object{kind: TypeString, str: wv.Str})
		if err != nil {
			return Nil, err
		}
		return FromObjectID(id), nil
	case wireTable:
		t := newTable()
		for k, child := range wv.Fields {
			child := child
			v, err := e.fromWire(&child)
			if err != nil {
				return Nil, err
			}
			t.Set(k, v)
		}
		for i := range wv.Elems {
			v, err := e.fromWire(&wv.Elems[i])
			if err != nil {
				return Nil, err
			}
			t.Append(v)
		}
		id, err := e.allocObject(&object{kind: TypeTable, table: t})
		if err != nil {
			return Nil, err
		}
		return FromObjectID(id), nil
	}
	return Nil, fmt.Errorf("vm: unknown wire kind %d", wv.Kind)
}
