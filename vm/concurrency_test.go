package vm

import (
	"limit/compiler"
	"testing"
)

func TestTaskAwaitRunsBodyOnChildVM(t *testing.T) {
	// task 99; then await it.
	body := concatInstructions(
		inst(compiler.OP_CONSTANT, 0), // 99
		inst(compiler.OP_RETURN),
	)

	// Main runs first and stops at OP_END; the body, placed after it, runs
	// only on the child VM the task spawns.
	main := concatInstructions(
		inst(compiler.OP_CONSTANT, 1), // function table index 0
		inst(compiler.OP_TASK),
		inst(compiler.OP_AWAIT),
		inst(compiler.OP_END),
	)
	bodyStart := len(main)
	bodyEnd := bodyStart + len(body)

	bytecode := compiler.Bytecode{
		Instructions:  concatInstructions(main, body),
		ConstantsPool: []any{int64(99), int64(0)},
		Functions: []compiler.FunctionRecord{
			{Name: "<task>", ParamCount: 0, Start: bodyStart, End: bodyEnd},
		},
	}

	machine := New()
	if err := machine.Run(bytecode); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := machine.peek(); got != int64(99) {
		t.Fatalf("got: %v, want: 99", got)
	}
}

func TestParallelBlockRunsTasksConcurrently(t *testing.T) {
	// parallel { task 1; task 2; }
	taskA := concatInstructions(inst(compiler.OP_CONSTANT, 0), inst(compiler.OP_RETURN))
	taskB := concatInstructions(inst(compiler.OP_CONSTANT, 1), inst(compiler.OP_RETURN))

	// Main runs first; the task bodies follow it and run only on child VMs.
	main := concatInstructions(
		inst(compiler.OP_CONSTANT, 2), // cores = 0 (Auto)
		inst(compiler.OP_BEGIN_PARALLEL, int(0)),
		inst(compiler.OP_CONSTANT, 3), // function index 0
		inst(compiler.OP_TASK),
		inst(compiler.OP_POP),
		inst(compiler.OP_CONSTANT, 4), // function index 1
		inst(compiler.OP_TASK),
		inst(compiler.OP_POP),
		inst(compiler.OP_END_PARALLEL),
		inst(compiler.OP_END),
	)
	taskAStart, taskAEnd := len(main), len(main)+len(taskA)
	taskBStart, taskBEnd := taskAEnd, taskAEnd+len(taskB)

	bytecode := compiler.Bytecode{
		Instructions:  concatInstructions(main, taskA, taskB),
		ConstantsPool: []any{int64(1), int64(2), int64(0), int64(0), int64(1)},
		Functions: []compiler.FunctionRecord{
			{Name: "<task>", ParamCount: 0, Start: taskAStart, End: taskAEnd},
			{Name: "<task>", ParamCount: 0, Start: taskBStart, End: taskBEnd},
		},
	}

	machine := New()
	if err := machine.Run(bytecode); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
