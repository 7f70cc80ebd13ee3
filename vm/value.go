package vm

import (
	"fmt"
	"sync/atomic"
)

// List is the runtime representation of a list value: a shared, mutable
// sequence. Wrapped in a pointer so aliasing (two variables referring to the
// same list) behaves like the language's reference semantics for
// collections.
type List struct {
	Items []any
}

// Dict is the runtime representation of a dict value: a shared mapping with
// value-based key equality. Go's map equality on comparable built-in types
// (string, int64, float64, bool) gives us that for free.
type Dict struct {
	Entries map[any]any
	// order preserves insertion order for deterministic iteration (dicts are
	// otherwise unordered in Go).
	order []any
}

func NewDict() *Dict {
	return &Dict{Entries: make(map[any]any)}
}

func (d *Dict) Set(key, value any) {
	if _, exists := d.Entries[key]; !exists {
		d.order = append(d.order, key)
	}
	d.Entries[key] = value
}

// Range is the runtime representation of `a..b` / `a...b`. Immutable, so no
// pointer indirection is needed.
type Range struct {
	Start     int64
	End       int64
	Inclusive bool
}

// Instance is a class instance: a shared record with field slots and a
// reference back to the class that produced it (for method lookup).
type Instance struct {
	ClassIndex int
	ClassName  string
	Fields     map[string]any
}

// ErrValue is an error-union value's error case: a kind name (an identifier
// in scope, or "" for the generic error), a human message, and an ordered
// list of argument values.
type ErrValue struct {
	Kind    string
	Message string
	Args    []any
}

func (e *ErrValue) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return e.Kind
}

// FunctionValue is the value produced by referencing a function or method by
// name: a handle into Bytecode.Functions. Calling it is what OP_CALL does.
type FunctionValue struct {
	Index int
	Name  string
}

// BoundMethod pairs a method handle with the instance it was looked up on,
// so OP_GET_THIS inside the call resolves to the right receiver.
type BoundMethod struct {
	Receiver *Instance
	Function FunctionValue
}

// Iterator is the runtime counterpart of the GET_ITERATOR/ITERATOR_HAS_NEXT/
// ITERATOR_NEXT/ITERATOR_NEXT_KEY_VALUE protocol. Implementations are fused:
// calling Next after exhaustion is a developer error, guarded by HasNext.
type Iterator interface {
	HasNext() bool
	Next() any
	NextKeyValue() (any, any)
}

type listIterator struct {
	items []any
	pos   int
}

func (it *listIterator) HasNext() bool { return it.pos < len(it.items) }
func (it *listIterator) Next() any {
	v := it.items[it.pos]
	it.pos++
	return v
}
func (it *listIterator) NextKeyValue() (any, any) {
	k := int64(it.pos)
	v := it.items[it.pos]
	it.pos++
	return k, v
}

type dictIterator struct {
	dict *Dict
	pos  int
}

func (it *dictIterator) HasNext() bool { return it.pos < len(it.dict.order) }
func (it *dictIterator) Next() any {
	k := it.dict.order[it.pos]
	it.pos++
	return it.dict.Entries[k]
}
func (it *dictIterator) NextKeyValue() (any, any) {
	k := it.dict.order[it.pos]
	it.pos++
	return k, it.dict.Entries[k]
}

type rangeIterator struct {
	current int64
	end     int64
	done    bool
}

func newRangeIterator(r *Range) *rangeIterator {
	last := r.End
	if !r.Inclusive {
		last--
	}
	return &rangeIterator{current: r.Start, end: last}
}

func (it *rangeIterator) HasNext() bool { return !it.done && it.current <= it.end }
func (it *rangeIterator) Next() any {
	v := it.current
	if it.current == it.end {
		it.done = true
	}
	it.current++
	return v
}
func (it *rangeIterator) NextKeyValue() (any, any) {
	v := it.Next()
	return v, v
}

// Channel is a bounded/unbounded message-passing handle backed by a real Go
// channel, addressed by OP_CHANNEL_SEND/OP_CHANNEL_RECEIVE/OP_CHANNEL_CLOSE.
type Channel struct {
	ch     chan any
	closed int32
}

func NewChannel(capacity int) *Channel {
	return &Channel{ch: make(chan any, capacity)}
}

func (c *Channel) Send(value any) {
	c.ch <- value
}

func (c *Channel) Receive() (any, bool) {
	v, ok := <-c.ch
	return v, ok
}

func (c *Channel) Close() {
	if atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		close(c.ch)
	}
}

// Atomic wraps an int64 for OP_ATOMIC_FETCH_ADD/SUB/COMPARE_EXCHANGE.
type Atomic struct {
	value int64
}

func NewAtomic(initial int64) *Atomic { return &Atomic{value: initial} }

func (a *Atomic) FetchAdd(delta int64) int64 { return atomic.AddInt64(&a.value, delta) - delta }
func (a *Atomic) FetchSub(delta int64) int64 { return atomic.AddInt64(&a.value, -delta) + delta }
func (a *Atomic) CompareExchange(old, new int64) bool {
	return atomic.CompareAndSwapInt64(&a.value, old, new)
}

// Task is a `task expr;` submission: expr is compiled as a zero-argument
// function and handed to the enclosing parallel/concurrent block's worker
// pool (see submitTask in concurrency.go), so Await blocks only the goroutine
// that reaches it, not the rest of the block.
type Task struct {
	future *schedulerFuture
}

// Await blocks until the task's body has finished running and reports its
// result, unwrapping a thrown error into the second return value the same
// way OP_UNWRAP_OR_RETURN does for `?`.
func (t *Task) Await() (any, *ErrValue) {
	result, err := t.future.Await()
	if err != nil {
		if errVal, ok := err.(*ErrValue); ok {
			return nil, errVal
		}
		return nil, &ErrValue{Kind: "RuntimeError", Message: err.Error()}
	}
	if errVal, ok := result.(*ErrValue); ok {
		return nil, errVal
	}
	return result, nil
}

// truthy implements the language's boolean-coercion rule for conditions:
// nil and false are falsy, everything else (including 0 and "") is truthy.
func truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	default:
		return true
	}
}

// display renders a value for OP_PRINT.
func display(value any) string {
	switch v := value.(type) {
	case nil:
		return "nil"
	case *List:
		items := make([]string, len(v.Items))
		for i, item := range v.Items {
			items[i] = display(item)
		}
		s := "["
		for i, item := range items {
			if i > 0 {
				s += ", "
			}
			s += item
		}
		return s + "]"
	case *Dict:
		s := "{"
		for i, k := range v.order {
			if i > 0 {
				s += ", "
			}
			s += fmt.Sprintf("%v: %s", k, display(v.Entries[k]))
		}
		return s + "}"
	case *Instance:
		return fmt.Sprintf("%s instance", v.ClassName)
	case *ErrValue:
		return "error: " + v.Error()
	case *Range:
		sep := ".."
		if v.Inclusive {
			sep = "..."
		}
		return fmt.Sprintf("%d%s%d", v.Start, sep, v.End)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// valuesEqual implements `==` across the value model. List/Dict compare by
// structural equality (not identity), matching value-based key equality for
// dicts described in the spec.
func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch av := a.(type) {
	case *List:
		bv, ok := b.(*List)
		if !ok || len(av.Items) != len(bv.Items) {
			return false
		}
		for i := range av.Items {
			if !valuesEqual(av.Items[i], bv.Items[i]) {
				return false
			}
		}
		return true
	case *Dict:
		bv, ok := b.(*Dict)
		if !ok || len(av.Entries) != len(bv.Entries) {
			return false
		}
		for k, v := range av.Entries {
			bvv, ok := bv.Entries[k]
			if !ok || !valuesEqual(v, bvv) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}
