package vm

import (
	"fmt"

	"limit/ast"
	"limit/compiler"
)

func (vm *VM) push(value any) {
	vm.stack.Push(value)
}

func (vm *VM) pop() any {
	v, ok := vm.stack.Pop()
	if !ok {
		vm.throwRuntime("StackUnderflow", "pop on an empty stack")
	}
	return v
}

func (vm *VM) peek() any {
	v, _ := vm.stack.Peek()
	return v
}

func (vm *VM) currentFrame() *frame {
	return vm.frames[len(vm.frames)-1]
}

func (vm *VM) throwRuntime(kind, message string) {
	panic(RuntimeError{Kind: kind, Message: message})
}

// throwValue implements OP_THROW's unwind: coerce the thrown value to an
// ErrValue, then search the active try-region stack (innermost first) for a
// handler whose TryStart matches and whose ErrorKind matches (or is the
// catch-all ""). An uncaught error terminates the run.
func (vm *VM) throwValue(value any) {
	errVal, ok := value.(*ErrValue)
	if !ok {
		errVal = &ErrValue{Kind: "error", Message: fmt.Sprintf("%v", value)}
	}
	for i := len(vm.tryStack) - 1; i >= 0; i-- {
		tf := vm.tryStack[i]
		for _, h := range vm.bytecode.Handlers {
			if h.TryStart != tf.tryStart {
				continue
			}
			if h.ErrorKind != "" && h.ErrorKind != errVal.Kind {
				continue
			}
			vm.stack.Truncate(tf.stackDepth)
			vm.frames = vm.frames[:tf.frameDepth]
			vm.tryStack = vm.tryStack[:i]
			vm.push(errVal)
			vm.ip = h.HandlerStart
			return
		}
	}
	panic(RuntimeError{Kind: errVal.Kind, Message: fmt.Sprintf("uncaught error: %s", errVal.Error())})
}

// call implements OP_CALL: the callee value sits on the stack below its
// argCount arguments. Both plain function values and bound methods are
// callable; a bound method additionally seeds the new frame's receiver.
func (vm *VM) call(argCount int) {
	callBase := vm.stack.Depth() - argCount - 1
	callee := vm.stack.At(callBase)

	var fn FunctionValue
	var receiver *Instance
	switch c := callee.(type) {
	case FunctionValue:
		fn = c
	case BoundMethod:
		fn = c.Function
		receiver = c.Receiver
	case int64:
		// Function/class declarations bind their global name directly to a
		// raw function-table index (see bindDeclaration's addConstant call),
		// not a boxed FunctionValue, so a called-by-name function arrives
		// here as a plain int64.
		fn = FunctionValue{Index: int(c)}
	default:
		vm.throwRuntime("TypeMismatch", fmt.Sprintf("%v is not callable", callee))
		return
	}

	if fn.Index < 0 || fn.Index >= len(vm.bytecode.Functions) {
		vm.throwRuntime("DeveloperError", fmt.Sprintf("call to undefined function index %d", fn.Index))
		return
	}
	record := vm.bytecode.Functions[fn.Index]

	vm.frames = append(vm.frames, &frame{
		function:           fn,
		receiver:           receiver,
		callBase:           callBase,
		basePointer:        callBase + 1,
		returnIP:           vm.ip + compiler.THREE_BYTE_INSTRUCTION_LENGTH,
		suppliedArgs:       argCount,
		pendingDefaultSlot: -1,
		temps:              map[uint16]any{},
	})
	vm.ip = record.Start
}

// doReturn implements OP_RETURN/OP_UNWRAP_OR_RETURN's shared unwind: pop the
// return value, truncate the stack back to the call's base, push the result,
// and resume the caller. Returns true when the frame being returned from is
// the outermost (top-level) one, signalling the run is complete.
func (vm *VM) doReturn() bool {
	returnValue := vm.pop()
	f := vm.currentFrame()
	vm.stack.Truncate(f.callBase)
	if len(vm.frames) == 1 {
		vm.push(returnValue)
		return true
	}
	vm.frames = vm.frames[:len(vm.frames)-1]
	vm.push(returnValue)
	vm.ip = f.returnIP
	return false
}

func (vm *VM) binaryOp(op compiler.Opcode) {
	b := vm.pop()
	a := vm.pop()

	if op == compiler.OP_ADD {
		if as, ok := a.(string); ok {
			vm.push(as + display(b))
			return
		}
		if bs, ok := b.(string); ok {
			vm.push(display(a) + bs)
			return
		}
	}

	af, aIsFloat, aok := toNumber(a)
	bf, bIsFloat, bok := toNumber(b)
	if !aok || !bok {
		vm.throwRuntime("TypeMismatch", fmt.Sprintf("cannot apply operator to %T and %T", a, b))
		return
	}
	useFloat := aIsFloat || bIsFloat

	switch op {
	case compiler.OP_ADD:
		if useFloat {
			vm.push(af + bf)
		} else {
			vm.push(int64(af) + int64(bf))
		}
	case compiler.OP_SUBTRACT:
		if useFloat {
			vm.push(af - bf)
		} else {
			vm.push(int64(af) - int64(bf))
		}
	case compiler.OP_MULTIPLY:
		if useFloat {
			vm.push(af * bf)
		} else {
			vm.push(int64(af) * int64(bf))
		}
	case compiler.OP_DIVIDE:
		if bf == 0 {
			vm.throwRuntime("DivisionByZero", "division by zero")
			return
		}
		if useFloat {
			vm.push(af / bf)
		} else {
			vm.push(int64(af) / int64(bf))
		}
	case compiler.OP_MODULO:
		if int64(bf) == 0 {
			vm.throwRuntime("DivisionByZero", "modulo by zero")
			return
		}
		vm.push(int64(af) % int64(bf))
	case compiler.OP_POWER:
		result := 1.0
		base := af
		for i := 0; i < int(bf); i++ {
			result *= base
		}
		if useFloat {
			vm.push(result)
		} else {
			vm.push(int64(result))
		}
	case compiler.OP_LARGER:
		vm.push(af > bf)
	case compiler.OP_LARGER_EQUAL:
		vm.push(af >= bf)
	case compiler.OP_LESS:
		vm.push(af < bf)
	case compiler.OP_LESS_EQUAL:
		vm.push(af <= bf)
	}
}

// toNumber normalizes int64/float64 operands to a float64 for comparison and
// arithmetic, reporting whether the original was a float so integer-only ops
// (e.g. modulo) and result typing can tell the difference.
func toNumber(v any) (value float64, isFloat bool, ok bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), false, true
	case float64:
		return n, true, true
	case int:
		return float64(n), false, true
	default:
		return 0, false, false
	}
}

func asInt(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	case int:
		return int64(n)
	default:
		return 0
	}
}

func (vm *VM) lengthOf(v any) int {
	switch c := v.(type) {
	case *List:
		return len(c.Items)
	case *Dict:
		return len(c.Entries)
	case string:
		return len([]rune(c))
	default:
		vm.throwRuntime("TypeMismatch", fmt.Sprintf("cannot take length of %T", v))
		return 0
	}
}

func (vm *VM) getIndex(container, index any) any {
	switch c := container.(type) {
	case *List:
		i := int(asInt(index))
		if i < 0 {
			i += len(c.Items)
		}
		if i < 0 || i >= len(c.Items) {
			vm.throwRuntime("IndexOutOfRange", fmt.Sprintf("index %d out of range", i))
			return nil
		}
		return c.Items[i]
	case *Dict:
		v, ok := c.Entries[index]
		if !ok {
			return nil
		}
		return v
	case string:
		runes := []rune(c)
		i := int(asInt(index))
		if i < 0 {
			i += len(runes)
		}
		if i < 0 || i >= len(runes) {
			vm.throwRuntime("IndexOutOfRange", fmt.Sprintf("index %d out of range", i))
			return nil
		}
		return string(runes[i])
	default:
		vm.throwRuntime("TypeMismatch", fmt.Sprintf("cannot index %T", container))
		return nil
	}
}

func (vm *VM) setIndex(container, index, value any) {
	switch c := container.(type) {
	case *List:
		i := int(asInt(index))
		if i < 0 {
			i += len(c.Items)
		}
		if i < 0 || i >= len(c.Items) {
			vm.throwRuntime("IndexOutOfRange", fmt.Sprintf("index %d out of range", i))
			return
		}
		c.Items[i] = value
	case *Dict:
		c.Set(index, value)
	default:
		vm.throwRuntime("TypeMismatch", fmt.Sprintf("cannot index-assign %T", container))
	}
}

func (vm *VM) makeIterator(v any) Iterator {
	switch c := v.(type) {
	case *List:
		return &listIterator{items: c.Items}
	case *Dict:
		return &dictIterator{dict: c}
	case *Range:
		return newRangeIterator(c)
	default:
		vm.throwRuntime("TypeMismatch", fmt.Sprintf("%T is not iterable", v))
		return nil
	}
}

func (vm *VM) newInstance(classIndex int) {
	if classIndex < 0 || classIndex >= len(vm.bytecode.Classes) {
		vm.throwRuntime("DeveloperError", fmt.Sprintf("undefined class index %d", classIndex))
		return
	}
	record := vm.bytecode.Classes[classIndex]
	fields := make(map[string]any, len(record.FieldNames))
	for _, name := range record.FieldNames {
		fields[name] = nil
	}
	vm.push(&Instance{ClassIndex: classIndex, ClassName: record.Name, Fields: fields})
}

func (vm *VM) getMember(container any, name string) any {
	inst, ok := container.(*Instance)
	if !ok {
		vm.throwRuntime("TypeMismatch", fmt.Sprintf("cannot access member %q on %T", name, container))
		return nil
	}
	if v, ok := inst.Fields[name]; ok {
		return v
	}
	class := vm.bytecode.Classes[inst.ClassIndex]
	if idx, ok := class.Methods[name]; ok {
		return BoundMethod{Receiver: inst, Function: FunctionValue{Index: idx, Name: name}}
	}
	vm.throwRuntime("UndefinedMember", fmt.Sprintf("%s has no member %q", inst.ClassName, name))
	return nil
}

// matchPattern implements OP_MATCH_PATTERN's structural matching against
// the raw ast.Pattern stored in the constants pool. IdentifierPattern and
// WildcardPattern always match (identifier captures are bound separately
// by the compiler's generated bind code, see ASTCompiler.bindPattern); a
// top-level GuardedPattern never reaches here since the compiler splits it
// into a structural pattern plus a separately-compiled guard expression
// (see splitGuard) — a GuardedPattern nested *inside* a larger structural
// pattern still degrades to matching just its inner pattern, since there is
// no bytecode to evaluate a guard mid-structural-match.
func (vm *VM) matchPattern(pattern ast.Pattern, subject any) bool {
	switch pat := pattern.(type) {
	case ast.WildcardPattern:
		return true
	case ast.IdentifierPattern:
		return true
	case ast.LiteralPattern:
		return looseEqual(pat.Value, subject)
	case ast.ListPattern:
		list, ok := subject.(*List)
		if !ok || len(list.Items) != len(pat.Elements) {
			return false
		}
		for i, elemPattern := range pat.Elements {
			if !vm.matchPattern(elemPattern, list.Items[i]) {
				return false
			}
		}
		return true
	case ast.DictPattern:
		dict, ok := subject.(*Dict)
		if !ok {
			return false
		}
		for _, entry := range pat.Entries {
			value, exists := dict.Entries[entry.Key]
			if !exists || !vm.matchPattern(entry.Pattern, value) {
				return false
			}
		}
		return true
	case ast.VariantPattern:
		inst, ok := subject.(*Instance)
		if !ok || inst.ClassName != pat.Name {
			return false
		}
		class := vm.classByName(pat.Name)
		if class == nil {
			return len(pat.Arguments) == 0
		}
		for i, argPattern := range pat.Arguments {
			if i >= len(class.FieldNames) {
				return false
			}
			if !vm.matchPattern(argPattern, inst.Fields[class.FieldNames[i]]) {
				return false
			}
		}
		return true
	case ast.RangePattern:
		n, ok := toFloat(subject)
		if !ok {
			return false
		}
		start, _ := toFloat(pat.Start)
		end, _ := toFloat(pat.End)
		if pat.Inclusive {
			return n >= start && n <= end
		}
		return n >= start && n < end
	case ast.GuardedPattern:
		return vm.matchPattern(pat.Inner, subject)
	default:
		return false
	}
}

// classByName looks up a compiled class record by name, used by
// VariantPattern matching to find an instance's declared field order.
func (vm *VM) classByName(name string) *compiler.ClassRecord {
	for i := range vm.bytecode.Classes {
		if vm.bytecode.Classes[i].Name == name {
			return &vm.bytecode.Classes[i]
		}
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// looseEqual compares a pattern literal (whose numeric type comes from the
// parser, likely plain int/float64) against a runtime subject value (whose
// numeric type is always int64/float64), normalizing numerics before falling
// back to valuesEqual.
func looseEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
		return false
	}
	return valuesEqual(a, b)
}
