// Package vm implements a small embedded virtual machine environment with a
// C-style stack API: a mutable value stack shared between host and VM,
// explicit push/pop primitives, and non-local error signaling that is
// intercepted only at the protected-call boundary.
//
// The package deliberately mirrors the embedding contract of classic stack
// VMs: raising an error unwinds to the innermost ProtectedCall or Resume,
// which reports a status code. Host code outside that boundary never
// observes the unwind.
//
// Environments are not thread-safe. At most one logical thread of host
// control may manipulate a given environment's stack at a time; coroutine
// handoff via Thread.Resume preserves that discipline.
package vm

import (
	"fmt"
	"strings"
	"sync"

	"github.com/tliron/commonlog"

	"github.com/garbageslam/lua-primer/config"
)

var log = commonlog.GetLogger("primer.vm")

// Status is the outcome code of a protected call or resume.
type Status int

const (
	// StatusOK: the call or resume completed normally.
	StatusOK Status = iota
	// StatusYield: the resumable context suspended itself.
	StatusYield
	// StatusErrRun: a runtime error was raised; the error value is on top
	// of the stack.
	StatusErrRun
	// StatusErrMem: an allocation failed while materializing the error
	// value; the stack top holds Nil in place of the error.
	StatusErrMem
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusYield:
		return "yield"
	case StatusErrRun:
		return "runtime error"
	case StatusErrMem:
		return "out of memory"
	}
	return "unknown"
}

// MultRet requests all available return values from a call.
const MultRet = -1

// runtimeError is the non-local error signal. It is panicked by RaiseError
// and RaiseValue and recovered only inside ProtectedCall and Thread resume
// machinery; any other panic value is a host bug and propagates.
type runtimeError struct {
	msg       string
	val       Value
	hasVal    bool
	traceback string
}

// threadKilled unwinds a parked coroutine goroutine during Close.
type threadKilled struct{}

// shared is the state common to one environment family: the main
// environment and every coroutine thread spawned from it.
type shared struct {
	reg     *registry
	cfg     *config.Config
	globals *Table
	weak    *EnvRef
	threads []*Thread
}

// Env is one execution context: the main environment or a coroutine
// thread. Each Env owns its value stack; the registry, globals, and
// configuration are shared across the family.
type Env struct {
	g      *shared
	stack  []Value
	base   int // absolute index of slot 1 of the running frame
	frames []string
	thread *Thread // non-nil for coroutine contexts
	closed bool

	// lastRaiseTrace is the traceback captured at the most recent raise,
	// readable by message handlers which run after the Go-side unwind.
	lastRaiseTrace string
}

// NewEnv creates a main environment. A nil cfg uses config.Default().
func NewEnv(cfg *config.Config) *Env {
	if cfg == nil {
		cfg = config.Default()
	}
	e := &Env{
		stack: make([]Value, 0, cfg.Stack.InitialDepth),
	}
	e.g = &shared{
		reg:     newRegistry(cfg.Limits.MaxObjects, cfg.Limits.MaxRefs),
		cfg:     cfg,
		globals: newTable(),
	}
	e.g.weak = &EnvRef{env: e}
	log.Debugf("new environment (max depth %d)", cfg.Stack.MaxDepth)
	return e
}

// Config returns the configuration of this environment family.
func (e *Env) Config() *config.Config {
	return e.g.cfg
}

// Close tears down the environment family: parked coroutines are killed,
// the registry and all ref slots are cleared, and the weak back-reference
// observed by capability tokens is invalidated. Close on a coroutine's Env
// is a no-op; only the main environment owns the family.
func (e *Env) Close() {
	if e.thread != nil || e.closed {
		return
	}
	e.closed = true
	e.g.weak.invalidate()
	for _, t := range e.g.threads {
		t.kill()
	}
	e.g.threads = nil
	e.g.reg.clear()
	e.stack = nil
	log.Debug("environment closed")
}

// Closed reports whether Close has been called on the owning environment.
func (e *Env) Closed() bool {
	return e.closed
}

// Weak returns the weak back-reference handle for this environment family.
// The handle does not keep the environment alive in any sense; after Close
// its Lock returns nil.
func (e *Env) Weak() *EnvRef {
	return e.g.weak
}

// ---------------------------------------------------------------------------
// EnvRef: weak, revocable back-reference to an environment
// ---------------------------------------------------------------------------

// EnvRef is a revocable handle to an environment family. Capability tokens
// hold an EnvRef instead of an *Env so that teardown is observable: Lock
// returns nil once the environment is gone, never a dangling pointer.
type EnvRef struct {
	mu  sync.Mutex
	env *Env
}

// Lock returns the referenced environment, or nil if it has been closed.
func (w *EnvRef) Lock() *Env {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.env
}

func (w *EnvRef) invalidate() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.env = nil
}

// ---------------------------------------------------------------------------
// Stack primitives
// ---------------------------------------------------------------------------

// Top returns the number of values on the current frame's stack.
func (e *Env) Top() int {
	return len(e.stack) - e.base
}

// AbsIndex converts an acceptable index into an absolute positive index.
func (e *Env) AbsIndex(i int) int {
	if i > 0 {
		return i
	}
	return e.Top() + i + 1
}

// abs0 converts an index to a 0-based offset into the backing slice.
// Panics on out-of-range indexes; an invalid index is a host bug, not a
// recoverable VM error.
func (e *Env) abs0(i int) int {
	var n int
	if i > 0 {
		n = e.base + i - 1
	} else {
		n = len(e.stack) + i
	}
	if n < e.base || n >= len(e.stack) {
		panic(fmt.Sprintf("vm: stack index %d out of range (top %d)", i, e.Top()))
	}
	return n
}

// At returns the value at the given stack index (1-based from the frame
// bottom, or negative from the top).
func (e *Env) At(i int) Value {
	return e.stack[e.abs0(i)]
}

// CheckStack reports whether the stack can hold n more slots without
// exceeding the configured maximum depth. It never raises.
func (e *Env) CheckStack(n int) bool {
	if n < 0 {
		return false
	}
	return len(e.stack)+n <= e.g.cfg.Stack.MaxDepth
}

// Push pushes a raw value. Raises "stack overflow" past the configured
// maximum depth; callers are expected to have reserved space with
// CheckStack.
func (e *Env) Push(v Value) {
	if len(e.stack) >= e.g.cfg.Stack.MaxDepth {
		e.RaiseError("stack overflow")
	}
	e.stack = append(e.stack, v)
}

// PushNil pushes the nil value.
func (e *Env) PushNil() { e.Push(Nil) }

// PushBool pushes a boolean.
func (e *Env) PushBool(b bool) { e.Push(FromBool(b)) }

// PushInt pushes a small integer.
func (e *Env) PushInt(n int64) { e.Push(FromSmallInt(n)) }

// PushFloat pushes a float.
func (e *Env) PushFloat(f float64) { e.Push(FromFloat64(f)) }

// PushString allocates a string object and pushes it. Returns an
// allocation error if the registry cap is reached or the environment is
// closed; nothing is pushed on failure.
func (e *Env) PushString(s string) error {
	id, err := e.allocObject(&object{kind: TypeString, str: s})
	if err != nil {
		return err
	}
	e.Push(FromObjectID(id))
	return nil
}

// PushGoFunction allocates a function object and pushes it.
func (e *Env) PushGoFunction(name string, fn GoFunction) error {
	id, err := e.allocObject(&object{kind: TypeFunction, fn: &Function{Name: name, Fn: fn}})
	if err != nil {
		return err
	}
	e.Push(FromObjectID(id))
	return nil
}

// CreateTable allocates an empty table and pushes it.
func (e *Env) CreateTable() error {
	id, err := e.allocObject(&object{kind: TypeTable, table: newTable()})
	if err != nil {
		return err
	}
	e.Push(FromObjectID(id))
	return nil
}

func (e *Env) allocObject(o *object) (uint64, error) {
	if e.closed {
		return 0, ErrEnvClosed
	}
	return e.g.reg.alloc(o)
}

// Pop removes the top n values.
func (e *Env) Pop(n int) {
	if n < 0 || n > e.Top() {
		panic(fmt.Sprintf("vm: pop %d with top %d", n, e.Top()))
	}
	e.stack = e.stack[:len(e.stack)-n]
}

// SetTop truncates or extends (with nil) the current frame to n values.
func (e *Env) SetTop(n int) {
	if n < 0 {
		panic("vm: SetTop with negative count")
	}
	target := e.base + n
	for len(e.stack) < target {
		e.Push(Nil)
	}
	e.stack = e.stack[:target]
}

// Remove deletes the value at index i, shifting values above it down.
func (e *Env) Remove(i int) {
	n := e.abs0(i)
	e.stack = append(e.stack[:n], e.stack[n+1:]...)
}

// Insert moves the top value to index i, shifting values up.
func (e *Env) Insert(i int) {
	n := e.abs0(i)
	top := e.stack[len(e.stack)-1]
	copy(e.stack[n+1:], e.stack[n:len(e.stack)-1])
	e.stack[n] = top
}

// ---------------------------------------------------------------------------
// Inspection
// ---------------------------------------------------------------------------

// TypeAt returns the dynamic type of the value at index i.
func (e *Env) TypeAt(i int) Type {
	v := e.At(i)
	switch {
	case v == Nil:
		return TypeNil
	case v.IsBool():
		return TypeBool
	case v.IsSmallInt():
		return TypeInt
	case v.IsObject():
		if o := e.g.reg.lookup(v.ObjectID()); o != nil {
			return o.kind
		}
		return TypeNil
	default:
		return TypeFloat
	}
}

// IsFunction reports whether the value at index i is callable.
func (e *Env) IsFunction(i int) bool {
	return e.TypeAt(i) == TypeFunction
}

// StringAt returns the string at index i.
func (e *Env) StringAt(i int) (string, bool) {
	v := e.At(i)
	if !v.IsObject() {
		return "", false
	}
	o := e.g.reg.lookup(v.ObjectID())
	if o == nil || o.kind != TypeString {
		return "", false
	}
	return o.str, true
}

// TableAt returns the table at index i.
func (e *Env) TableAt(i int) (*Table, bool) {
	v := e.At(i)
	if !v.IsObject() {
		return nil, false
	}
	o := e.g.reg.lookup(v.ObjectID())
	if o == nil || o.kind != TypeTable {
		return nil, false
	}
	return o.table, true
}

// FunctionAt returns the function at index i.
func (e *Env) FunctionAt(i int) (*Function, bool) {
	v := e.At(i)
	if !v.IsObject() {
		return nil, false
	}
	o := e.g.reg.lookup(v.ObjectID())
	if o == nil || o.kind != TypeFunction {
		return nil, false
	}
	return o.fn, true
}

// Describe returns a short human-readable rendering of the value at index
// i, for diagnostics.
func (e *Env) Describe(i int) string {
	v := e.At(i)
	switch e.TypeAt(i) {
	case TypeNil:
		return "nil"
	case TypeBool:
		if v.IsTrue() {
			return "true"
		}
		return "false"
	case TypeInt:
		return fmt.Sprintf("%d", v.SmallInt())
	case TypeFloat:
		return fmt.Sprintf("%g", v.Float64())
	case TypeString:
		s, _ := e.StringAt(i)
		if len(s) > 40 {
			s = s[:40] + "..."
		}
		return fmt.Sprintf("%q", s)
	case TypeTable:
		return fmt.Sprintf("table (id %d)", v.ObjectID())
	case TypeFunction:
		fn, _ := e.FunctionAt(i)
		if fn.Name != "" {
			return fmt.Sprintf("function '%s'", fn.Name)
		}
		return "function"
	}
	return "unknown"
}

// ---------------------------------------------------------------------------
// Globals
// ---------------------------------------------------------------------------

// SetGlobal pops the top value and stores it under name.
func (e *Env) SetGlobal(name string) {
	v := e.At(-1)
	e.Pop(1)
	e.g.globals.Set(name, v)
}

// GetGlobal pushes the value stored under name, or nil.
func (e *Env) GetGlobal(name string) {
	e.Push(e.g.globals.Get(name))
}

// RegisterFunc registers a named Go function as a global.
func (e *Env) RegisterFunc(name string, fn GoFunction) error {
	if err := e.PushGoFunction(name, fn); err != nil {
		return err
	}
	e.SetGlobal(name)
	return nil
}

// SetFuncs registers a set of named functions into the table on top of the
// stack. The table stays on the stack.
func (e *Env) SetFuncs(funcs map[string]GoFunction) error {
	t, ok := e.TableAt(-1)
	if !ok {
		return fmt.Errorf("vm: SetFuncs requires a table on top of the stack, found %s", e.TypeAt(-1))
	}
	for name, fn := range funcs {
		id, err := e.allocObject(&object{kind: TypeFunction, fn: &Function{Name: name, Fn: fn}})
		if err != nil {
			return err
		}
		t.Set(name, FromObjectID(id))
	}
	return nil
}

// ---------------------------------------------------------------------------
// Table access through the stack
// ---------------------------------------------------------------------------

// SetField pops the top value and stores it into the table at tidx under
// key. Raises if tidx does not hold a table.
func (e *Env) SetField(tidx int, key string) {
	t, ok := e.TableAt(tidx)
	if !ok {
		e.RaiseError("attempt to index a %s value", e.TypeAt(tidx))
	}
	v := e.At(-1)
	e.Pop(1)
	t.Set(key, v)
}

// GetField pushes the value of table[key] (nil if absent). Raises if tidx
// does not hold a table.
func (e *Env) GetField(tidx int, key string) {
	t, ok := e.TableAt(tidx)
	if !ok {
		e.RaiseError("attempt to index a %s value", e.TypeAt(tidx))
	}
	e.Push(t.Get(key))
}

// AppendElem pops the top value and appends it to the array part of the
// table at tidx.
func (e *Env) AppendElem(tidx int) {
	t, ok := e.TableAt(tidx)
	if !ok {
		e.RaiseError("attempt to index a %s value", e.TypeAt(tidx))
	}
	v := e.At(-1)
	e.Pop(1)
	t.Append(v)
}

// ---------------------------------------------------------------------------
// Ref slots (pinned values backing capability tokens)
// ---------------------------------------------------------------------------

// CreateRef pops the top value and pins it into a ref slot, returning the
// slot id. The value stays reachable until the last share of the slot is
// released or the environment closes.
func (e *Env) CreateRef() (uint64, error) {
	if e.closed {
		if e.Top() > 0 {
			e.Pop(1)
		}
		return 0, ErrEnvClosed
	}
	v := e.At(-1)
	id, err := e.g.reg.createRef(v)
	// Pop whether or not the slot was created: capture has pop-always
	// semantics.
	e.Pop(1)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// PushRef re-pushes the pinned value of a slot. Returns false if the slot
// is gone or the environment is closed.
func (e *Env) PushRef(id uint64) bool {
	if e.closed {
		return false
	}
	v, ok := e.g.reg.refValue(id)
	if !ok {
		return false
	}
	e.Push(v)
	return true
}

// RetainRef adds a share to a ref slot.
func (e *Env) RetainRef(id uint64) {
	e.g.reg.retainRef(id)
}

// ReleaseRef drops a share of a ref slot; the last release frees it.
func (e *Env) ReleaseRef(id uint64) {
	e.g.reg.releaseRef(id)
}

// ---------------------------------------------------------------------------
// Error signaling
// ---------------------------------------------------------------------------

// RaiseError formats a message and raises it as a VM error. It does not
// return. The raise performs a non-local unwind to the innermost protected
// boundary; calling it with no such boundary on the Go call path is a host
// bug and will surface as a panic.
func (e *Env) RaiseError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	e.lastRaiseTrace = e.Traceback()
	panic(&runtimeError{msg: msg, traceback: e.lastRaiseTrace})
}

// RaiseValue pops the top value and raises it as a VM error.
func (e *Env) RaiseValue() {
	v := e.At(-1)
	e.Pop(1)
	e.lastRaiseTrace = e.Traceback()
	panic(&runtimeError{val: v, hasVal: true, traceback: e.lastRaiseTrace})
}

// Traceback renders the active call frames, innermost first.
func (e *Env) Traceback() string {
	var b strings.Builder
	b.WriteString("stack traceback:")
	for i := len(e.frames) - 1; i >= 0; i-- {
		b.WriteString("\n\tin function '")
		b.WriteString(e.frames[i])
		b.WriteString("'")
	}
	return b.String()
}

// LastRaiseTraceback returns the traceback captured at the most recent
// raise. Message handlers run after the frames have unwound, so they read
// the captured copy instead of the live frame stack.
func (e *Env) LastRaiseTraceback() string {
	return e.lastRaiseTrace
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

// Call invokes the callable at the top of the stack beneath nargs
// arguments, unprotected: errors raised by the callee propagate to the
// innermost protected boundary. Returns the number of results left on the
// stack (nret, or the actual count under MultRet).
func (e *Env) Call(nargs, nret int) int {
	if nargs < 0 || e.Top() < nargs+1 {
		panic(fmt.Sprintf("vm: Call(%d) with top %d", nargs, e.Top()))
	}
	fnAbs := len(e.stack) - nargs - 1
	fn := e.functionAtAbs(fnAbs)
	if fn == nil {
		e.RaiseError("attempt to call a %s value", e.typeAtAbs(fnAbs))
	}

	oldBase := e.base
	frameDepth := len(e.frames)
	e.frames = append(e.frames, fn.Name)
	e.base = fnAbs + 1
	defer func() {
		e.base = oldBase
		e.frames = e.frames[:frameDepth]
	}()

	nres := fn.Fn(e)
	if nres < 0 || nres > e.Top() {
		panic(fmt.Sprintf("vm: function '%s' reported %d results with top %d", fn.Name, nres, e.Top()))
	}

	// Slide results down over the callable and its frame.
	resStart := len(e.stack) - nres
	copy(e.stack[fnAbs:], e.stack[resStart:])
	e.stack = e.stack[:fnAbs+nres]

	e.base = oldBase
	if nret == MultRet {
		return nres
	}
	for nres < nret {
		e.Push(Nil)
		nres++
	}
	if nres > nret {
		e.Pop(nres - nret)
	}
	return nret
}

func (e *Env) functionAtAbs(abs int) *Function {
	v := e.stack[abs]
	if !v.IsObject() {
		return nil
	}
	o := e.g.reg.lookup(v.ObjectID())
	if o == nil || o.kind != TypeFunction {
		return nil
	}
	return o.fn
}

func (e *Env) typeAtAbs(abs int) Type {
	v := e.stack[abs]
	switch {
	case v == Nil:
		return TypeNil
	case v.IsBool():
		return TypeBool
	case v.IsSmallInt():
		return TypeInt
	case v.IsObject():
		if o := e.g.reg.lookup(v.ObjectID()); o != nil {
			return o.kind
		}
		return TypeNil
	default:
		return TypeFloat
	}
}

// ProtectedCall invokes the callable beneath nargs arguments like Call,
// but intercepts any error raised during execution. msgh, if nonzero, is
// the stack index of a message handler that maps the error value before it
// is reported; it runs before this function returns.
//
// On StatusOK the callable and arguments have been replaced by the
// results. On error the stack is restored to its depth below the callable
// and the (handled) error value is pushed, so the net depth is that base
// plus one. The handler itself is not removed; callers that pushed one
// remove it afterwards.
func (e *Env) ProtectedCall(nargs, nret, msgh int) (status Status) {
	if e.closed {
		// Consume the callable and arguments so the frame invariant holds
		// even on this path.
		if n := nargs + 1; n >= 0 && n <= e.Top() {
			e.Pop(n)
		}
		e.stack = append(e.stack, Nil)
		return StatusErrRun
	}
	if nargs < 0 || e.Top() < nargs+1 {
		panic(fmt.Sprintf("vm: ProtectedCall(%d) with top %d", nargs, e.Top()))
	}
	fnAbs := len(e.stack) - nargs - 1
	msghAbs := -1
	if msgh != 0 {
		msghAbs = e.abs0(msgh)
	}

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		rte, ok := r.(*runtimeError)
		if !ok {
			// Not a VM error signal: a genuine host bug escapes.
			panic(r)
		}
		e.stack = e.stack[:fnAbs]
		status = e.pushHandledError(rte, msghAbs)
	}()

	e.Call(nargs, nret)
	return StatusOK
}

// pushHandledError materializes a raised error onto the stack, running the
// message handler at msghAbs (absolute 0-based, -1 for none) over it.
func (e *Env) pushHandledError(rte *runtimeError, msghAbs int) Status {
	status := StatusErrRun

	// Materialize the error value.
	if rte.hasVal {
		e.stack = append(e.stack, rte.val)
	} else if err := e.PushString(rte.msg); err != nil {
		// Allocation failed while building the error value itself.
		e.stack = append(e.stack, Nil)
		return StatusErrMem
	}

	if msghAbs < 0 {
		return status
	}

	// Run the handler over the error value, protected: a failing handler
	// falls back to the unhandled error value.
	errVal := e.At(-1)
	e.Pop(1)
	handled, ok := e.runHandler(e.stack[msghAbs], errVal)
	if !ok {
		log.Debug("message handler failed, reporting unhandled error")
		handled = errVal
	}
	e.stack = append(e.stack, handled)
	return status
}

func (e *Env) runHandler(handler, errVal Value) (res Value, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			if _, isVM := r.(*runtimeError); !isVM {
				panic(r)
			}
			res, ok = Nil, false
		}
	}()
	e.Push(handler)
	e.Push(errVal)
	e.Call(1, 1)
	res = e.At(-1)
	e.Pop(1)
	return res, true
}
