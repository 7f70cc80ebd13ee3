package vm

// frame is one call's activation record. Locals live directly on the VM's
// value stack (classic single-stack design): a local's "slot" from the
// compiler is an index relative to basePointer, not an absolute stack
// position, since the same bytecode range is re-entered at a different
// stack depth on every call.
type frame struct {
	function FunctionValue
	receiver *Instance // non-nil inside a bound method call, for OP_GET_THIS

	// callBase is the stack length just before the callee value was pushed
	// at the call site; on return the stack is truncated back to callBase
	// and the result value is pushed there.
	callBase int
	// basePointer is callBase+1: the stack position of local slot 0.
	basePointer int
	// returnIP is where execution resumes in the caller after this call
	// returns.
	returnIP int

	// suppliedArgs is the argument count the call site actually passed,
	// used by OP_DEFINE_OPTIONAL_PARAM to tell an omitted optional argument
	// from a supplied one.
	suppliedArgs int
	// pendingDefaultSlot is the optional-parameter slot most recently
	// introduced by OP_DEFINE_OPTIONAL_PARAM that still needs its default
	// value applied by OP_SET_DEFAULT_VALUE, or -1 if the call already
	// supplied that argument.
	pendingDefaultSlot int

	// temps holds OP_STORE_TEMP/OP_LOAD_TEMP scratch slots. These are a
	// separate address space from locals (the compiler numbers them
	// starting at 0 independently), so they can't share the local slot
	// array.
	temps map[uint16]any
}

// tryFrame records one active `attempt` block's protected region, pushed by
// OP_BEGIN_TRY and popped by OP_END_TRY (on normal completion) or by a
// matching throw (on error unwind).
type tryFrame struct {
	tryStart    int
	stackDepth  int
	frameDepth  int
}
