package vm

import (
	"encoding/binary"
	"fmt"
	"limit/ast"
	"limit/compiler"
	"sync"
	"time"
)

// VM is a stack-based virtual machine: the runtime environment where Limit
// bytecode gets executed.
type VM struct {
	stack Stack
	ip    int
	debug bool

	bytecode compiler.Bytecode
	globals  []any
	// globalsMu guards globals against concurrent access from task bodies
	// spawned onto their own child VM (see runChildFunction); nil until Run
	// initializes it, since a freshly-constructed VM used only as a
	// single-threaded child doesn't need its own lock (it shares the
	// parent's).
	globalsMu *sync.RWMutex
	frames    []*frame
	tryStack  []*tryFrame

	// pools holds the active parallel/concurrent block scopes, innermost
	// last; OP_TASK submits into pools[len(pools)-1].
	pools []*blockScope
}

// New creates a new VM instance.
func New() *VM {
	return &VM{debug: true}
}

// haltSignal unwinds the dispatch loop from deep inside opcode handling
// (a `return` at the outermost frame) without treating it as an error.
type haltSignal struct{}

func (haltSignal) Error() string { return "halt" }

// Run executes the provided bytecode on the virtual machine.
//
// It fetches and decodes each instruction starting at the first instruction
// (the instruction pointer is reset to 0), dispatches on its opcode, and mutates the VM's stack
// and frame state accordingly. Execution terminates normally on OP_END (or
// when the outermost frame returns), and returns an error if an unhandled
// runtime error or unknown opcode is encountered.
func (vm *VM) Run(bytecode compiler.Bytecode) error {
	vm.bytecode = bytecode
	vm.globals = make([]any, len(bytecode.NameConstants))
	vm.globalsMu = &sync.RWMutex{}
	vm.ip = 0
	vm.frames = []*frame{{callBase: 0, basePointer: 0, pendingDefaultSlot: -1, temps: map[uint16]any{}}}
	vm.tryStack = nil

	return vm.loop()
}

// runChildFunction executes fn to completion on a fresh, independent frame
// stack that shares this VM's bytecode and globals (guarded by globalsMu),
// so concurrently running tasks don't trample each other's call stacks. Used
// by spawned `task` bodies (see submitTask in concurrency.go); plain function
// values closing over enclosing locals aren't supported, matching
// compileFunctionBody's existing no-closures restriction.
func (vm *VM) runChildFunction(fn FunctionValue) (any, error) {
	child := &VM{
		bytecode:  vm.bytecode,
		globals:   vm.globals,
		globalsMu: vm.globalsMu,
	}
	child.frames = []*frame{{callBase: 0, basePointer: 0, pendingDefaultSlot: -1, temps: map[uint16]any{}}}
	child.push(fn)
	// Start past the last instruction so fn's return address ends the loop.
	child.ip = len(vm.bytecode.Instructions)
	child.call(0)

	if err := child.loop(); err != nil {
		return nil, err
	}
	if child.stack.Depth() == 0 {
		return nil, nil
	}
	result := child.stack.At(child.stack.Depth() - 1)
	if errVal, ok := result.(*ErrValue); ok {
		return nil, errVal
	}
	return result, nil
}

// loop is the fetch-decode-execute cycle shared by a top-level Run and a
// child VM spawned to evaluate a task body.
func (vm *VM) loop() (err error) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(haltSignal); ok {
				return
			}
			if rtErr, ok := r.(RuntimeError); ok {
				err = rtErr
				return
			}
			panic(r)
		}
	}()

	for {
		if vm.ip >= len(vm.bytecode.Instructions) {
			return nil
		}
		opCode := compiler.Opcode(vm.bytecode.Instructions[vm.ip])

		if opCode == compiler.OP_END {
			return nil
		}

		def, defErr := compiler.Get(opCode)
		if defErr != nil {
			return fmt.Errorf("unknown opcode %v at ip %d", opCode, vm.ip)
		}
		operandWidth := 0
		for _, w := range def.OperandWidths {
			operandWidth += w
		}
		instructionLength := compiler.OPCODE_TOTAL_BYTES + operandWidth

		var operand int
		if operandWidth == 2 {
			operand = int(binary.BigEndian.Uint16(vm.bytecode.Instructions[vm.ip+compiler.OPCODE_TOTAL_BYTES:]))
		}

		advance := vm.dispatch(opCode, operand, instructionLength)
		if advance {
			vm.ip += instructionLength
		}
	}
}

// dispatch executes a single instruction and reports whether the VM's ip
// should advance by instructionLength (false means the handler already set
// vm.ip itself, e.g. a jump or a call).
func (vm *VM) dispatch(op compiler.Opcode, operand int, instructionLength int) bool {
	switch op {

	// --- stack manipulation ---

	case compiler.OP_CONSTANT:
		vm.push(vm.bytecode.ConstantsPool[operand])
	case compiler.OP_POP:
		vm.pop()
	case compiler.OP_NULL:
		vm.push(nil)
	case compiler.OP_TRUE:
		vm.push(true)
	case compiler.OP_FALSE:
		vm.push(false)

	// --- arithmetic / comparison / logic ---

	case compiler.OP_ADD:
		vm.binaryOp(op)
	case compiler.OP_SUBTRACT, compiler.OP_MULTIPLY, compiler.OP_DIVIDE, compiler.OP_MODULO, compiler.OP_POWER,
		compiler.OP_LARGER, compiler.OP_LARGER_EQUAL, compiler.OP_LESS, compiler.OP_LESS_EQUAL:
		vm.binaryOp(op)
	case compiler.OP_EQUALITY:
		b, a := vm.pop(), vm.pop()
		vm.push(valuesEqual(a, b))
	case compiler.OP_NOT_EQUAL:
		b, a := vm.pop(), vm.pop()
		vm.push(!valuesEqual(a, b))
	case compiler.OP_NEGATE:
		v := vm.pop()
		switch n := v.(type) {
		case int64:
			vm.push(-n)
		case float64:
			vm.push(-n)
		default:
			vm.throwRuntime("TypeMismatch", fmt.Sprintf("cannot negate %T", v))
		}
	case compiler.OP_NOT:
		vm.push(!truthy(vm.pop()))
	case compiler.OP_AND:
		b, a := vm.pop(), vm.pop()
		vm.push(truthy(a) && truthy(b))
	case compiler.OP_OR:
		b, a := vm.pop(), vm.pop()
		vm.push(truthy(a) || truthy(b))

	// --- variables / temps ---

	case compiler.OP_GET_GLOBAL:
		vm.globalsMu.RLock()
		value := vm.globals[operand]
		vm.globalsMu.RUnlock()
		vm.push(value)
	case compiler.OP_SET_GLOBAL:
		vm.globalsMu.Lock()
		vm.globals[operand] = vm.peek()
		vm.globalsMu.Unlock()
	case compiler.OP_GET_LOCAL:
		f := vm.currentFrame()
		vm.push(vm.stack.At(f.basePointer + operand))
	case compiler.OP_SET_LOCAL:
		f := vm.currentFrame()
		vm.stack.SetAt(f.basePointer+operand, vm.peek())
	case compiler.OP_DEFINE_LOCAL:
		// No runtime effect: by the time this would execute, the value is
		// already sitting in its slot (see VisitVarStmt's local branch).
	case compiler.OP_SCOPE_EXIT:
		vm.stack.Truncate(vm.stack.Depth() - operand)
	case compiler.OP_STORE_TEMP:
		f := vm.currentFrame()
		f.temps[uint16(operand)] = vm.pop()
	case compiler.OP_LOAD_TEMP:
		f := vm.currentFrame()
		vm.push(f.temps[uint16(operand)])
	case compiler.OP_CLEAR_TEMP:
		f := vm.currentFrame()
		delete(f.temps, uint16(operand))

	// --- control flow ---

	case compiler.OP_JUMP:
		vm.ip = operand
		return false
	case compiler.OP_JUMP_IF_FALSE:
		if !truthy(vm.peek()) {
			vm.ip = operand
			return false
		}
	case compiler.OP_LOOP:
		vm.ip = operand
		return false

	// --- collections ---

	case compiler.OP_CREATE_LIST:
		items := make([]any, operand)
		for i := operand - 1; i >= 0; i-- {
			items[i] = vm.pop()
		}
		vm.push(&List{Items: items})
	case compiler.OP_CREATE_DICT:
		entries := make([]struct{ k, v any }, operand)
		for i := operand - 1; i >= 0; i-- {
			entries[i].v = vm.pop()
			entries[i].k = vm.pop()
		}
		dict := NewDict()
		for _, e := range entries {
			dict.Set(e.k, e.v)
		}
		vm.push(dict)
	case compiler.OP_GET_INDEX:
		index := vm.pop()
		container := vm.pop()
		vm.push(vm.getIndex(container, index))
	case compiler.OP_SET_INDEX:
		value := vm.pop()
		index := vm.pop()
		container := vm.pop()
		vm.setIndex(container, index, value)
		vm.push(value)
	case compiler.OP_APPEND:
		value := vm.pop()
		container := vm.pop()
		list, ok := container.(*List)
		if !ok {
			vm.throwRuntime("TypeMismatch", "append target is not a list")
		}
		list.Items = append(list.Items, value)
		vm.push(list)
	case compiler.OP_LEN:
		vm.push(int64(vm.lengthOf(vm.pop())))
	case compiler.OP_CREATE_RANGE:
		end := vm.pop()
		start := vm.pop()
		vm.push(&Range{Start: asInt(start), End: asInt(end), Inclusive: operand == 1})

	// --- iterator protocol ---

	case compiler.OP_GET_ITERATOR:
		vm.push(vm.makeIterator(vm.pop()))
	case compiler.OP_ITERATOR_HAS_NEXT:
		it := vm.pop().(Iterator)
		vm.push(it.HasNext())
	case compiler.OP_ITERATOR_NEXT:
		it := vm.pop().(Iterator)
		vm.push(it.Next())
	case compiler.OP_ITERATOR_NEXT_KEY_VALUE:
		it := vm.pop().(Iterator)
		k, v := it.NextKeyValue()
		vm.push(k)
		vm.push(v)

	// --- functions ---

	case compiler.OP_BEGIN_FUNCTION:
		// Reached only by falling off the end of a guard jump, which never
		// happens (compileFunctionBody always jumps over this region); real
		// entry is via OP_CALL setting vm.ip to FunctionRecord.Start.
	case compiler.OP_END_FUNCTION:
		// The preceding OP_RETURN has already unwound the frame.
	case compiler.OP_DEFINE_OPTIONAL_PARAM:
		f := vm.currentFrame()
		if operand < f.suppliedArgs {
			f.pendingDefaultSlot = -1
		} else {
			f.pendingDefaultSlot = operand
		}
	case compiler.OP_SET_DEFAULT_VALUE:
		f := vm.currentFrame()
		value := vm.pop()
		if f.pendingDefaultSlot != -1 {
			vm.stack.SetAt(f.basePointer+f.pendingDefaultSlot, value)
		}
	case compiler.OP_CALL:
		vm.call(operand)
		return false
	case compiler.OP_RETURN:
		if vm.doReturn() {
			panic(haltSignal{})
		}
		return false
	case compiler.OP_CLOSURE, compiler.OP_GET_UPVALUE, compiler.OP_SET_UPVALUE:
		vm.throwRuntime("NotSupported", "closures are not yet supported")

	// --- classes ---

	case compiler.OP_BEGIN_CLASS, compiler.OP_END_CLASS:
		// Class bodies are compiled inline for their method table's side
		// effect on Bytecode.Classes/Functions; nothing runs at these
		// markers (methods are reached only through OP_CALL/OP_NEW_INSTANCE).
	case compiler.OP_GET_MEMBER:
		container := vm.pop()
		name := vm.bytecode.ConstantsPool[operand].(string)
		vm.push(vm.getMember(container, name))
	case compiler.OP_SET_MEMBER:
		value := vm.pop()
		container := vm.pop()
		name := vm.bytecode.ConstantsPool[operand].(string)
		inst, ok := container.(*Instance)
		if !ok {
			vm.throwRuntime("TypeMismatch", "member assignment target is not an instance")
		}
		inst.Fields[name] = value
		vm.push(value)
	case compiler.OP_GET_THIS:
		f := vm.currentFrame()
		vm.push(f.receiver)
	case compiler.OP_NEW_INSTANCE:
		vm.newInstance(operand)

	// --- error unions / propagation ---

	case compiler.OP_MAKE_OK:
		// Success values need no wrapper in this value model.
	case compiler.OP_MAKE_ERR:
		args := make([]any, operand)
		for i := operand - 1; i >= 0; i-- {
			args[i] = vm.pop()
		}
		kind := fmt.Sprintf("%v", vm.pop())
		message := ""
		if len(args) > 0 {
			message = fmt.Sprintf("%v", args[0])
		}
		vm.push(&ErrValue{Kind: kind, Message: message, Args: args})
	case compiler.OP_UNWRAP_OR_RETURN:
		value := vm.pop()
		if errVal, ok := value.(*ErrValue); ok {
			vm.push(errVal)
			if vm.doReturn() {
				panic(haltSignal{})
			}
			return false
		}
		vm.push(value)
	case compiler.OP_UNWRAP_OR_ELSE:
		value := vm.pop()
		if errVal, ok := value.(*ErrValue); ok {
			vm.push(errVal)
			vm.ip = operand
			return false
		}
		vm.push(value)

	// --- attempt/handle ---

	case compiler.OP_BEGIN_TRY:
		vm.tryStack = append(vm.tryStack, &tryFrame{
			tryStart:   vm.ip + instructionLength,
			stackDepth: vm.stack.Depth(),
			frameDepth: len(vm.frames),
		})
	case compiler.OP_END_TRY:
		if len(vm.tryStack) > 0 {
			vm.tryStack = vm.tryStack[:len(vm.tryStack)-1]
		}
	case compiler.OP_END_HANDLER:
		// No runtime action: control already reaches here only by falling
		// out of a handler body that didn't return/throw.
	case compiler.OP_THROW:
		vm.throwValue(vm.pop())
		return false

	// --- pattern matching ---

	case compiler.OP_MATCH_PATTERN:
		subject := vm.pop()
		pattern := vm.bytecode.ConstantsPool[operand].(ast.Pattern)
		vm.push(vm.matchPattern(pattern, subject))

	// --- concurrency ---
	// parallel/concurrent blocks run their tasks on a worker pool (see
	// beginBlock/submitTask in concurrency.go); OP_TASK submits the task body's
	// zero-argument function to the innermost active pool instead of
	// evaluating it inline, so sibling tasks genuinely overlap.

	case compiler.OP_BEGIN_PARALLEL:
		cores := int(asInt(vm.pop()))
		vm.beginBlock(cores, ast.OnErrorPolicy(operand), false)
	case compiler.OP_END_PARALLEL:
		if err := vm.endBlock(); err != nil {
			vm.throwRuntime("TaskFailure", err.Error())
		}
	case compiler.OP_BEGIN_CONCURRENT:
		vm.beginBlock(0, ast.PolicyContinue, true)
	case compiler.OP_END_CONCURRENT:
		_ = vm.endBlock()
	case compiler.OP_TASK:
		var fn FunctionValue
		switch fnValue := vm.pop().(type) {
		case FunctionValue:
			fn = fnValue
		case int64:
			fn = FunctionValue{Index: int(fnValue)}
		default:
			vm.throwRuntime("TypeMismatch", "task body did not compile to a function value")
		}
		vm.push(vm.submitTask(fn))
	case compiler.OP_AWAIT:
		task, ok := vm.pop().(*Task)
		if !ok {
			vm.throwRuntime("TypeMismatch", "await target is not a task")
		}
		result, errVal := task.Await()
		if errVal != nil {
			vm.push(errVal)
		} else {
			vm.push(result)
		}
	case compiler.OP_SLEEP:
		duration := asInt(vm.pop())
		time.Sleep(time.Duration(duration) * time.Millisecond)
	case compiler.OP_CHANNEL_SEND:
		value := vm.pop()
		ch := vm.pop().(*Channel)
		ch.Send(value)
	case compiler.OP_CHANNEL_RECEIVE:
		ch := vm.pop().(*Channel)
		value, ok := ch.Receive()
		if !ok {
			vm.push(nil)
		} else {
			vm.push(value)
		}
	case compiler.OP_CHANNEL_CLOSE:
		ch := vm.pop().(*Channel)
		ch.Close()
	case compiler.OP_MAKE_CHANNEL:
		capacity := asInt(vm.pop())
		vm.push(NewChannel(int(capacity)))
	case compiler.OP_MAKE_ATOMIC:
		initial := asInt(vm.pop())
		vm.push(NewAtomic(initial))
	case compiler.OP_ATOMIC_FETCH_ADD:
		delta := asInt(vm.pop())
		a := vm.pop().(*Atomic)
		vm.push(a.FetchAdd(delta))
	case compiler.OP_ATOMIC_FETCH_SUB:
		delta := asInt(vm.pop())
		a := vm.pop().(*Atomic)
		vm.push(a.FetchSub(delta))
	case compiler.OP_ATOMIC_COMPARE_EXCHANGE:
		newVal := asInt(vm.pop())
		oldVal := asInt(vm.pop())
		a := vm.pop().(*Atomic)
		vm.push(a.CompareExchange(oldVal, newVal))

	// --- module system ---

	case compiler.OP_IMPORT_MODULE, compiler.OP_EXPORT:
		// No module resolution is performed anywhere in the pipeline; the
		// VM treats these instructions as no-ops.

	// --- I/O ---

	case compiler.OP_PRINT:
		args := make([]any, operand)
		for i := operand - 1; i >= 0; i-- {
			args[i] = vm.pop()
		}
		for i, a := range args {
			if i > 0 {
				fmt.Print(" ")
			}
			fmt.Print(display(a))
		}
		fmt.Println()

	default:
		vm.throwRuntime("DeveloperError", fmt.Sprintf("unhandled opcode %v", op))
	}

	return true
}
