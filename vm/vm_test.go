package vm

import (
	"limit/compiler"
	"testing"
)

func TestExecuteBytecodeVMStack(t *testing.T) {

	tests := []struct {
		bytecode      compiler.Bytecode
		expectedStack []int64
	}{
		{
			bytecode: compiler.Bytecode{
				Instructions: []byte{
					byte(compiler.OP_CONSTANT), 0, 0,
					byte(compiler.OP_CONSTANT), 0, 1,
					byte(compiler.OP_END),
				},
				ConstantsPool: []any{int64(5), int64(1)},
			},
			expectedStack: []int64{5, 1},
		},
	}

	for _, tt := range tests {

		vm := New()
		vm.Run(tt.bytecode)
		for i := 0; i < len(vm.stack); i++ {
			if vm.stack[i] != tt.expectedStack[i] {
				t.Errorf("vm stack at index: %d - got: %d, want: %d", i, vm.stack[i], tt.expectedStack[i])
			}
		}
	}
}

func inst(op compiler.Opcode, operands ...int) []byte {
	return compiler.MakeInstruction(op, operands...)
}

func concatInstructions(chunks ...[]byte) []byte {
	var out []byte
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}

func TestVMArithmetic(t *testing.T) {
	tests := []struct {
		name     string
		op       compiler.Opcode
		a, b     any
		expected any
	}{
		{"add ints", compiler.OP_ADD, int64(2), int64(3), int64(5)},
		{"add floats", compiler.OP_ADD, float64(1.5), float64(2.5), float64(4)},
		{"subtract", compiler.OP_SUBTRACT, int64(5), int64(3), int64(2)},
		{"multiply", compiler.OP_MULTIPLY, int64(4), int64(3), int64(12)},
		{"divide", compiler.OP_DIVIDE, int64(10), int64(2), int64(5)},
		{"modulo", compiler.OP_MODULO, int64(10), int64(3), int64(1)},
		{"concat strings", compiler.OP_ADD, "foo", "bar", "foobar"},
		{"larger", compiler.OP_LARGER, int64(5), int64(3), true},
		{"less equal", compiler.OP_LESS_EQUAL, int64(3), int64(3), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bytecode := compiler.Bytecode{
				Instructions: concatInstructions(
					inst(compiler.OP_CONSTANT, 0),
					inst(compiler.OP_CONSTANT, 1),
					inst(tt.op),
					inst(compiler.OP_END),
				),
				ConstantsPool: []any{tt.a, tt.b},
			}
			machine := New()
			if err := machine.Run(bytecode); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			got := machine.peek()
			if got != tt.expected {
				t.Errorf("got: %v, want: %v", got, tt.expected)
			}
		})
	}
}

func TestVMGlobalVariables(t *testing.T) {
	// var x = 5; x = x + 1;
	bytecode := compiler.Bytecode{
		Instructions: concatInstructions(
			inst(compiler.OP_CONSTANT, 0), // 5
			inst(compiler.OP_SET_GLOBAL, 0),
			inst(compiler.OP_POP),
			inst(compiler.OP_GET_GLOBAL, 0),
			inst(compiler.OP_CONSTANT, 1), // 1
			inst(compiler.OP_ADD),
			inst(compiler.OP_SET_GLOBAL, 0),
			inst(compiler.OP_POP),
			inst(compiler.OP_GET_GLOBAL, 0),
			inst(compiler.OP_END),
		),
		ConstantsPool: []any{int64(5), int64(1)},
		NameConstants: []string{"x"},
	}
	machine := New()
	if err := machine.Run(bytecode); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := machine.peek(); got != int64(6) {
		t.Errorf("got: %v, want: 6", got)
	}
}

func TestVMJumpIfFalse(t *testing.T) {
	// if (false) { push 1 } else { push 2 }
	condition := inst(compiler.OP_FALSE)
	thenBranch := concatInstructions(inst(compiler.OP_POP), inst(compiler.OP_CONSTANT, 0))
	elseBranch := concatInstructions(inst(compiler.OP_POP), inst(compiler.OP_CONSTANT, 1))
	jumpWidth := 3 // OP_JUMP_IF_FALSE/OP_JUMP are always 3 bytes (1 opcode + 2-byte operand)

	elseStart := len(condition) + jumpWidth + len(thenBranch) + jumpWidth
	end := elseStart + len(elseBranch)

	instructions := concatInstructions(
		condition,
		compiler.MakeInstruction(compiler.OP_JUMP_IF_FALSE, elseStart),
		thenBranch,
		compiler.MakeInstruction(compiler.OP_JUMP, end),
		elseBranch,
	)
	instructions = append(instructions, byte(compiler.OP_END))

	bytecode := compiler.Bytecode{
		Instructions:  instructions,
		ConstantsPool: []any{int64(1), int64(2)},
	}
	machine := New()
	if err := machine.Run(bytecode); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := machine.peek(); got != int64(2) {
		t.Errorf("got: %v, want: 2", got)
	}
}

func TestVMFunctionCall(t *testing.T) {
	// function add(a, b) { return a + b; } print add(2, 3);
	// Body: slot 0 = a, slot 1 = b. Main runs first and stops at OP_END; the
	// body, placed after it, is reached only through OP_CALL.
	body := concatInstructions(
		inst(compiler.OP_GET_LOCAL, 0),
		inst(compiler.OP_GET_LOCAL, 1),
		inst(compiler.OP_ADD),
		inst(compiler.OP_RETURN),
	)
	bodyEnd := len(body)

	mainInstructions := concatInstructions(
		inst(compiler.OP_CONSTANT, 2), // function index 0, pushed as callee
		inst(compiler.OP_CONSTANT, 0), // 2
		inst(compiler.OP_CONSTANT, 1), // 3
		inst(compiler.OP_CALL, 2),
		inst(compiler.OP_END),
	)

	bytecode := compiler.Bytecode{
		Instructions:  concatInstructions(mainInstructions, body),
		ConstantsPool: []any{int64(2), int64(3), int64(0)},
		Functions: []compiler.FunctionRecord{
			{Name: "add", ParamCount: 2, Start: len(mainInstructions), End: len(mainInstructions) + bodyEnd},
		},
	}
	machine := New()
	if err := machine.Run(bytecode); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := machine.peek(); got != int64(5) {
		t.Errorf("got: %v, want: 5", got)
	}
}

func TestVMListAndIndex(t *testing.T) {
	// [1, 2, 3][1]
	bytecode := compiler.Bytecode{
		Instructions: concatInstructions(
			inst(compiler.OP_CONSTANT, 0),
			inst(compiler.OP_CONSTANT, 1),
			inst(compiler.OP_CONSTANT, 2),
			inst(compiler.OP_CREATE_LIST, 3),
			inst(compiler.OP_CONSTANT, 0), // index 1 (reusing the constant holding int64(1))
			inst(compiler.OP_GET_INDEX),
			inst(compiler.OP_END),
		),
		ConstantsPool: []any{int64(1), int64(2), int64(3)},
	}
	machine := New()
	if err := machine.Run(bytecode); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := machine.peek(); got != int64(2) {
		t.Errorf("got: %v, want: 2", got)
	}
}

func TestVMAttemptHandleCatchesThrow(t *testing.T) {
	// attempt { throw err("boom"); } handle (e) { }
	// Uses a pre-built ErrValue constant directly rather than going through
	// OP_MAKE_ERR, to keep this test focused on try/handle unwinding.
	tryBegin := inst(compiler.OP_BEGIN_TRY, 0) // patched below
	tryBody := concatInstructions(
		inst(compiler.OP_CONSTANT, 0),
		inst(compiler.OP_THROW),
	)
	tryEnd := inst(compiler.OP_END_TRY, 0)
	jumpOverHandler := inst(compiler.OP_JUMP, 0)
	handlerBody := concatInstructions(
		inst(compiler.OP_POP), // discard the bound error value
		inst(compiler.OP_CONSTANT, 1),
	)
	handlerEnd := inst(compiler.OP_END_HANDLER)

	tryStart := len(tryBegin)
	handlerStart := tryStart + len(tryBody) + len(tryEnd) + len(jumpOverHandler)
	afterHandler := handlerStart + len(handlerBody) + len(handlerEnd)

	instructions := concatInstructions(
		tryBegin,
		tryBody,
		tryEnd,
		compiler.MakeInstruction(compiler.OP_JUMP, afterHandler),
		handlerBody,
		handlerEnd,
	)
	instructions = append(instructions, byte(compiler.OP_END))

	bytecode := compiler.Bytecode{
		Instructions:  instructions,
		ConstantsPool: []any{&ErrValue{Kind: "boom"}, int64(42)},
		Handlers: []compiler.HandlerRecord{
			{TryStart: tryStart, TryEnd: tryStart + len(tryBody), HandlerStart: handlerStart, HandlerEnd: handlerStart + len(handlerBody), ErrorKind: ""},
		},
	}
	machine := New()
	if err := machine.Run(bytecode); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := machine.peek(); got != int64(42) {
		t.Errorf("got: %v, want: 42", got)
	}
}

func TestVMUncaughtThrowReturnsError(t *testing.T) {
	bytecode := compiler.Bytecode{
		Instructions: concatInstructions(
			inst(compiler.OP_CONSTANT, 0),
			inst(compiler.OP_THROW),
			inst(compiler.OP_END),
		),
		ConstantsPool: []any{&ErrValue{Kind: "boom"}},
	}
	machine := New()
	if err := machine.Run(bytecode); err == nil {
		t.Fatalf("expected an error for an uncaught throw")
	}
}
