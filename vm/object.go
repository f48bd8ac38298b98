package vm

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"
)

// Allocation failures are reported as errors, never as crashes. They stand
// in for host-side allocation exhaustion: a registry cap is the observable,
// testable analogue.
var (
	ErrObjectLimit = errors.New("vm: object registry limit reached")
	ErrRefLimit    = errors.New("vm: ref slot limit reached")
	ErrEnvClosed   = errors.New("vm: environment is closed")
)

// ---------------------------------------------------------------------------
// Types
// ---------------------------------------------------------------------------

// Type identifies the dynamic type of a Value.
type Type int

const (
	TypeNil Type = iota
	TypeBool
	TypeInt
	TypeFloat
	TypeString
	TypeTable
	TypeFunction
)

// String returns the user-visible type name.
func (t Type) String() string {
	switch t {
	case TypeNil:
		return "nil"
	case TypeBool:
		return "boolean"
	case TypeInt:
		return "integer"
	case TypeFloat:
		return "float"
	case TypeString:
		return "string"
	case TypeTable:
		return "table"
	case TypeFunction:
		return "function"
	}
	return "unknown"
}

// GoFunction is a host function callable from the VM. It receives the
// environment with its arguments at stack indexes 1..Top() and returns the
// number of result values it left on top of the stack.
type GoFunction func(e *Env) int

// Function is a registry-resident callable.
type Function struct {
	Name string
	Fn   GoFunction
}

// Table is a registry-resident associative container with a keyed part and
// an array part.
type Table struct {
	fields map[string]Value
	elems  []Value
}

func newTable() *Table {
	return &Table{fields: make(map[string]Value)}
}

// Get returns the value for key, or Nil if absent.
func (t *Table) Get(key string) Value {
	if v, ok := t.fields[key]; ok {
		return v
	}
	return Nil
}

// Set stores a value under key. Setting Nil deletes the key.
func (t *Table) Set(key string, v Value) {
	if v == Nil {
		delete(t.fields, key)
		return
	}
	t.fields[key] = v
}

// Keys returns the keyed part's keys in sorted order.
func (t *Table) Keys() []string {
	keys := make([]string, 0, len(t.fields))
	for k := range t.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Append adds a value to the array part.
func (t *Table) Append(v Value) {
	t.elems = append(t.elems, v)
}

// Elem returns the i-th (1-based) array element, or Nil if out of range.
func (t *Table) Elem(i int) Value {
	if i < 1 || i > len(t.elems) {
		return Nil
	}
	return t.elems[i-1]
}

// Len returns the length of the array part.
func (t *Table) Len() int {
	return len(t.elems)
}

// object is one registry slot. Exactly one of the payload fields is set,
// according to kind.
type object struct {
	kind  Type
	str   string
	table *Table
	fn    *Function
}

// ---------------------------------------------------------------------------
// registry: arena of VM-resident objects and pinned ref slots
// ---------------------------------------------------------------------------

// refSlot pins a value so capability tokens can re-push it later. Copies of
// a token share one slot through its count.
type refSlot struct {
	value Value
	count int
}

// registry holds every heap object of one environment family. Ids are
// monotonic and never reused, so a stale id can only miss, never alias.
type registry struct {
	mu      sync.RWMutex
	objects map[uint64]*object
	nextID  atomic.Uint64

	refs      map[uint64]*refSlot
	nextRefID atomic.Uint64

	maxObjects int
	maxRefs    int
}

func newRegistry(maxObjects, maxRefs int) *registry {
	return &registry{
		objects:    make(map[uint64]*object),
		refs:       make(map[uint64]*refSlot),
		maxObjects: maxObjects,
		maxRefs:    maxRefs,
	}
}

func (r *registry) alloc(o *object) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.objects) >= r.maxObjects {
		return 0, ErrObjectLimit
	}
	id := r.nextID.Add(1)
	r.objects[id] = o
	return id, nil
}

func (r *registry) lookup(id uint64) *object {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.objects[id]
}

// createRef pins a value into a fresh slot with count 1.
func (r *registry) createRef(v Value) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.refs) >= r.maxRefs {
		return 0, ErrRefLimit
	}
	id := r.nextRefID.Add(1)
	r.refs[id] = &refSlot{value: v, count: 1}
	return id, nil
}

func (r *registry) refValue(id uint64) (Value, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	slot, ok := r.refs[id]
	if !ok {
		return Nil, false
	}
	return slot.value, true
}

func (r *registry) retainRef(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if slot, ok := r.refs[id]; ok {
		slot.count++
	}
}

// releaseRef drops one share of a slot; the last release frees it.
func (r *registry) releaseRef(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	slot, ok := r.refs[id]
	if !ok {
		return
	}
	slot.count--
	if slot.count <= 0 {
		delete(r.refs, id)
	}
}

// clear drops every object and ref slot. Called on environment teardown.
func (r *registry) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.objects = make(map[uint64]*object)
	r.refs = make(map[uint64]*refSlot)
}

func (r *registry) objectCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.objects)
}

func (r *registry) refCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.refs)
}
