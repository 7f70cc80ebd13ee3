package compiler

// This file implements the ASTCompiler, which compiles the abstract syntax tree (AST) directly to bytecode.

import (
	"encoding/binary"
	"fmt"
	"limit/ast"
	"limit/token"
	"os"
	"strings"
)

// Local represents a local variable in the compiler.
// NOTE/TODO: The struct layout can probably be optimised by packing the fields differently.
// So the struct has better cache locality and takes up less memory.
type Local struct {

	// The variable's name
	name string
	// The variable's depth in the scope stack. Used to determine when variables go out of scope.
	depth uint16
	// Whether the variable has been initialized. Used to prevent accessing uninitialized variables.
	initialized bool
	// The slot index where the variable is stored. Used for local variable access in the VM.
	slot uint16
}

// ASTCompiler is a visitor that compiles AST nodes directly to bytecode.
// It implements both ast.ExpressionVisitor and ast.StmtVisitor interfaces
// to traverse and compile the abstract syntax tree to bytecode.
type ASTCompiler struct {

	// The resulting compiled bytecode.
	bytecode Bytecode
	// Tracks initialized global variables
	initialized map[string]bool
	// A stack of local variables in the current scope. Used for local variable management and access.
	// Locals are orderd by by their declaration order that appears in the code. The most recently declared variable
	// will always be at the top of the stack.
	// TODO: We can re-factor the `Stack` implementation in the VM package so it can be used here. We should move that implementation
	// to a new package.
	locals []Local
	// The current depth of nested scopes. Used to determine when local variables go out of scope.
	scopeDepth uint16
	// loopStack tracks the break/continue jump patches for each loop currently
	// being compiled, innermost last.
	loopStack []*loopContext
	// tempBase is the next free scratch slot used by OP_STORE_TEMP/OP_LOAD_TEMP
	// when compiling a compound assignment to an index or member target.
	tempBase uint16
}

// loopContext collects the placeholder jump positions emitted by `break`
// and `continue` inside one loop, to be patched once the loop's start and
// end positions are known.
type loopContext struct {
	breakJumps    []int
	continueJumps []int
}

// NewASTCompiler creates a new AST-to-bytecode compiler.
func NewASTCompiler() *ASTCompiler {
	return &ASTCompiler{
		bytecode: Bytecode{
			Instructions:  Instructions{},
			ConstantsPool: []any{},
			NameConstants: []string{},
		},
		initialized: make(map[string]bool),
		locals:      []Local{},
		scopeDepth:  0,
	}
}

// DumpBytecode writes the compiled bytecode to a file with a `.nic` extension.
// The bytecode is encoded as hexadecimal so it can be viewed in a text editor.
func (ac *ASTCompiler) DumpBytecode(filePath string) error {
	if filePath == "" {
		filePath = "bytecode.nic"
	} else {
		filePath = filePath + ".nic"
	}
	fDescriptor, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("error creating bytecode file: %s", err.Error())
	}

	encoded := fmt.Sprintf("%x", ac.bytecode.Instructions)
	fDescriptor.Write([]byte(encoded))
	defer fDescriptor.Close()
	return nil
}

// DiassembleBytecode disassembles the compiled bytecode to a human readable format
// and optionally saves it to disk.
// It returns the disassembled bytecode as a string or an error if the file could not be created.
func (ac *ASTCompiler) DiassembleBytecode(saveToDisk bool, filePath string) (string, error) {
	var diassembledBytecode string
	var builder strings.Builder
	var instructionLength int
	totalInstructions := len(ac.bytecode.Instructions) - 1
	ip := 0

	// NOTE: Slicing in go includes the first element, but excludes the last one.
	// for example, [0:4] will include index 0 to index 3 of the array.

	for ip <= totalInstructions {
		opCode := Opcode(ac.bytecode.Instructions[ip])
		switch opCode {
		case OP_GET_LOCAL, OP_SET_LOCAL:
			// The operand is the index where the local variable is stored in the VM's stack.
			operand, dia := ac.diassemble3ByteInstruction(ip)
			result := dia + fmt.Sprintf(", vm stack index: %d", operand)
			builder.WriteString(result)
			builder.WriteString("\n")
			instructionLength = THREE_BYTE_INSTRUCTION_LENGTH

		case OP_SCOPE_EXIT:
			operand, dia := ac.diassemble3ByteInstruction(ip)
			result := dia + fmt.Sprintf(", total local variables to pop from the VM's stack: %d", operand)
			builder.WriteString(result)
			builder.WriteString("\n")
			instructionLength = THREE_BYTE_INSTRUCTION_LENGTH

		case OP_PRINT, OP_CALL, OP_NEW_INSTANCE, OP_CREATE_LIST, OP_CREATE_DICT:
			operand, dia := ac.diassemble3ByteInstruction(ip)
			result := dia + fmt.Sprintf(", count: %d", operand)
			builder.WriteString(result)
			builder.WriteString("\n")
			instructionLength = THREE_BYTE_INSTRUCTION_LENGTH

		// Handles all opcodes which store data in the constants pool.
		// all these opcodes have an operand (index into constants pool) with a width of 2 bytes.
		case OP_CONSTANT, OP_GET_MEMBER, OP_SET_MEMBER,
			OP_IMPORT_MODULE, OP_EXPORT:

			// The operand is the index into the constants pool where the actual value is stored.
			operand, dia := ac.diassemble3ByteInstruction(ip)
			value := ac.bytecode.ConstantsPool[operand]
			result := dia + fmt.Sprintf(", value: %v", value)
			builder.WriteString(result)
			builder.WriteString("\n")
			instructionLength = THREE_BYTE_INSTRUCTION_LENGTH

		// Global reads/writes carry an index into NameConstants.
		case OP_SET_GLOBAL, OP_GET_GLOBAL:
			operand, dia := ac.diassemble3ByteInstruction(ip)
			result := dia + fmt.Sprintf(", name: %s", ac.bytecode.NameConstants[operand])
			builder.WriteString(result)
			builder.WriteString("\n")
			instructionLength = THREE_BYTE_INSTRUCTION_LENGTH

		case OP_JUMP, OP_JUMP_IF_FALSE:

			operand, dia := ac.diassemble3ByteInstruction(ip)
			result := dia + fmt.Sprintf(", byte index in instruction array: %d", operand)
			builder.WriteString(result)
			builder.WriteString("\n")
			instructionLength = THREE_BYTE_INSTRUCTION_LENGTH

		case OP_MATCH_PATTERN:
			operand, dia := ac.diassemble3ByteInstruction(ip)
			pattern := ac.bytecode.ConstantsPool[operand]
			result := dia + fmt.Sprintf(", pattern: %v", pattern)
			builder.WriteString(result)
			builder.WriteString("\n")
			instructionLength = THREE_BYTE_INSTRUCTION_LENGTH

		case OP_BEGIN_FUNCTION:
			operand, dia := ac.diassemble3ByteInstruction(ip)
			result := dia + fmt.Sprintf(", param count: %d", operand)
			builder.WriteString(result)
			builder.WriteString("\n")
			instructionLength = THREE_BYTE_INSTRUCTION_LENGTH

		case OP_BEGIN_CLASS:
			operand, dia := ac.diassemble3ByteInstruction(ip)
			result := dia + fmt.Sprintf(", class table index: %d", operand)
			builder.WriteString(result)
			builder.WriteString("\n")
			instructionLength = THREE_BYTE_INSTRUCTION_LENGTH

		case OP_STORE_TEMP, OP_LOAD_TEMP, OP_CLEAR_TEMP, OP_DEFINE_OPTIONAL_PARAM:
			operand, dia := ac.diassemble3ByteInstruction(ip)
			result := dia + fmt.Sprintf(", slot: %d", operand)
			builder.WriteString(result)
			builder.WriteString("\n")
			instructionLength = THREE_BYTE_INSTRUCTION_LENGTH

		default:
			// Every remaining opcode's operand widths (0 or 1) are known
			// statically from its definition; fall back to the generic
			// single-instruction disassembly rather than hand-listing every
			// case, so a newly added opcode always advances ip correctly
			// even before it earns a richer annotation above.
			def, err := Get(opCode)
			if err != nil {
				panic(err.Error())
			}
			width := 0
			for _, w := range def.OperandWidths {
				width += w
			}
			instructionLength = OPCODE_TOTAL_BYTES + width

			result, err := DiassembleInstruction(ac.bytecode.Instructions[ip:min(ip+instructionLength, len(ac.bytecode.Instructions))])
			if err != nil {
				panic(err.Error())
			}
			builder.WriteString(result)
			if opCode == OP_END {
				break
			}
			builder.WriteString("\n")
		}

		ip += instructionLength
	}
	diassembledBytecode = builder.String()
	if saveToDisk {
		if filePath == "" {
			filePath = "bytecode.dnic"
		} else {
			filePath = filePath + ".dnic"
		}
		fDescriptor, err := os.Create(filePath)
		if err != nil {
			return "", fmt.Errorf("error creating diassembled bytecode file: %s", err.Error())
		}
		fDescriptor.WriteString(diassembledBytecode)
		defer fDescriptor.Close()
	}
	return diassembledBytecode, nil
}

func (ac *ASTCompiler) CompileAST(statements []ast.Stmt) (b Bytecode, err error) {
	// Recover from any panic that may occur during compilation
	defer func() {
		if r := recover(); r != nil {
			switch v := r.(type) {
			case SemanticError:
				err = v
			case DeveloperError:
				err = v
			}
		}
	}()

	// If previous compilation left an OP_END at the end, drop it
	if len(ac.bytecode.Instructions) > 0 {
		if ac.bytecode.Instructions[len(ac.bytecode.Instructions)-1] == byte(OP_END) {
			ac.bytecode.Instructions = ac.bytecode.Instructions[:len(ac.bytecode.Instructions)-1]
		}
	}

	for _, stmt := range statements {
		func() {
			//NOTE: Catch panics per statement to avoid aborting the whole loop
			defer func() {
				if r := recover(); r != nil {
					panic(r)
				}
			}()
			stmt.Accept(ac)
		}()
	}

	ac.emit(OP_END)
	return ac.bytecode, nil
}

// VisitBinary handles binary expressions (arithmetic operators: +, -, *, /,
// %, **, and the comparison operators)
func (ac *ASTCompiler) VisitBinary(binary ast.Binary) any {

	// NOTE: Left expression is compiled first to ensure correct evaluation order
	binary.Left.Accept(ac)
	binary.Right.Accept(ac)

	switch binary.Operator.TokenType {
	case token.ADD:
		ac.emit(OP_ADD)
	case token.SUB:
		ac.emit(OP_SUBTRACT)
	case token.MULT:
		ac.emit(OP_MULTIPLY)
	case token.DIV:
		ac.emit(OP_DIVIDE)
	case token.MOD:
		ac.emit(OP_MODULO)
	case token.POWER:
		ac.emit(OP_POWER)

	case token.EQUAL_EQUAL:
		ac.emit(OP_EQUALITY)
	case token.LARGER:
		ac.emit(OP_LARGER)
	case token.LESS:
		ac.emit(OP_LESS)
	case token.LESS_EQUAL:
		ac.emit(OP_LESS_EQUAL)
	case token.LARGER_EQUAL:
		ac.emit(OP_LARGER_EQUAL)
	case token.NOT_EQUAL:
		ac.emit(OP_NOT_EQUAL)
	}

	return nil
}

// VisitUnary handles unary expressions (operators: -, !)
func (ac *ASTCompiler) VisitUnary(unary ast.Unary) any {

	unary.Right.Accept(ac)

	switch unary.Operator.TokenType {
	case token.SUB:
		ac.emit(OP_NEGATE)
	case token.BANG:
		ac.emit(OP_NOT)
	}
	return nil
}

// VisitLiteral handles literal values (numbers, strings, booleans, null)
// Adds the literal value to the constants pool.
func (ac *ASTCompiler) VisitLiteral(literal ast.Literal) any {
	ac.addConstant(literal.Value)
	return nil
}

// VisitGrouping handles parenthesized expressions
func (ac *ASTCompiler) VisitGrouping(grouping ast.Grouping) any {
	// Recursively compile the inner expression
	grouping.Expression.Accept(ac)
	return nil
}

// VisitVariableExpression compiles variable access by emitting bytecode to load the variable's
// value onto the VM's stack.
//
// For local variabables, it emites an OP_GET_LOCAL instruction with the variable's slot index as the operand.
//
// For global variables, it emits an OP_GET_GLOBAL instruction with the variable's index in the NameConstants pool as the operand.
//
// For example, this compiles code such as `x` or `y` by emitting the appropriate instruction to get
// the variable's value from the VM's stack.
func (ac *ASTCompiler) VisitVariableExpression(variable ast.Variable) any {

	identifier := variable.Name.Lexeme

	slotIndex := ac.resolveLocal(identifier)
	if slotIndex != -1 {
		if !ac.locals[slotIndex].initialized {
			panic(SemanticError{
				Message: fmt.Sprintf("Cant access uninitialised variable '%s'", identifier),
			})
		}
		ac.emit(OP_GET_LOCAL, slotIndex)
		return nil
	}

	globalIndex := ac.resolveGlobal(identifier)
	if globalIndex == -1 {
		panic(SemanticError{
			Kind:    "UndefinedName",
			Message: fmt.Sprintf("name '%s' is not defined", identifier),
		})
	}
	if !ac.initialized[identifier] {
		panic(SemanticError{
			Message: fmt.Sprintf("Cant access uninitialised variable '%s'", identifier),
		})
	}

	ac.emit(OP_GET_GLOBAL, globalIndex)
	return nil
}

// VisitAssignExpression compiles an assignment expression by first compiling the right-hand side expression,
// and then attempting to resolve the variable name as local or global.
//
// For local variables, it emits an OP_SET_LOCAL instruction with the variable's slot index as the operand.
//
// For global variables, it emits an OP_SET_GLOBAL instruction with the variable's index in the NameConstants pool as the operand.
//
// For exmaple, this compiles code such as `x = 5` or `y = x + 2` by first compiling the right hand side expression
// (`5` or `x + 2`), then emitting the appropriate instruction to store the value in the corresponding variable.
func (ac *ASTCompiler) VisitAssignExpression(assign ast.Assign) any {

	name := assign.Name.Lexeme

	// compile the right hand side expression first.
	// This ensures that the correct value is on top of the stack when the OP_SET_LOCAL
	// or OP_SET_GLOBAL instruction is emitted.
	assign.Value.Accept(ac)

	slotIndex := ac.resolveLocal(name)
	if slotIndex != -1 {
		ac.locals[slotIndex].initialized = true
		ac.emit(OP_SET_LOCAL, slotIndex)
		return nil
	}

	globalIndex := ac.resolveGlobal(name)
	if globalIndex == -1 {
		panic(SemanticError{
			Message: fmt.Sprintf("name '%s' is not defined", name),
		})
	}

	ac.initialized[name] = true
	ac.emit(OP_SET_GLOBAL, globalIndex)
	return nil
}

// VisitVarStmt handles variable declaration statements.
//
// For global variables, it adds the variable name to the NameConstants pool and
// emits an OP_SET_GLOBAL instruction.
//
// For local variables it declares the variable in the current scope and emits an OP_SET_LOCAL instruction.
//
// For example, this compiles code such as `var x = 5`,  `var y`, var z = 10+2` ... etc
func (ac *ASTCompiler) VisitVarStmt(varStmt ast.VarStmt) any {

	variableName := varStmt.Name.Lexeme
	if ac.scopeDepth == 0 {
		// Handles global variable declaration.
		index := ac.addNameConstant(variableName)
		if varStmt.Initializer != nil {
			varStmt.Initializer.Accept(ac)
			ac.emit(OP_SET_GLOBAL, index)
			ac.emit(OP_POP)
		}
		ac.initialized[variableName] = varStmt.Initializer != nil
	} else {
		// Handles local variable declaration.
		ac.declareLocal(variableName)
		if varStmt.Initializer != nil {
			varStmt.Initializer.Accept(ac)
		} else {
			ac.addConstant(nil)
		}
		slot := ac.locals[len(ac.locals)-1].slot
		ac.emit(OP_SET_LOCAL, int(slot))
		ac.locals[len(ac.locals)-1].initialized = varStmt.Initializer != nil
	}

	return nil
}

// VisitLogicalExpression compiles logical expressions (and, or) by emitting bytecode that implements short-circuiting behaviour.
func (ac *ASTCompiler) VisitLogicalExpression(logical ast.Logical) any {

	// left expression is compiled first to ensure correct evaluation order and short-circuiting behaviour.
	logical.Left.Accept(ac)

	switch logical.Operator.TokenType {
	case token.OR:
		// For an "or" expression, if the left operand is truthy, we want to short-circuit and skip
		// evaluating the right operand.

		jumpIfFalsePos := ac.emitPlaceholderJump(OP_JUMP_IF_FALSE)
		jumpEndPos := ac.emitPlaceholderJump(OP_JUMP)

		rightStart := len(ac.bytecode.Instructions)
		ac.patchJump(jumpIfFalsePos, rightStart)

		ac.emit(OP_POP)

		// The right expression is compiled after emitting the jump instruction. If the left operand is truthy,
		// the VM will jump over the right expression. This is achieved by the below patchJump call.
		logical.Right.Accept(ac)

		ac.patchJump(jumpEndPos, len(ac.bytecode.Instructions))
	case token.AND:
		// For an "and" expression, if the left operand is falsy, we want to short-circuit and skip evaluating the right operand.
		jumpIfFalsePos := ac.emitPlaceholderJump(OP_JUMP_IF_FALSE)

		ac.emit(OP_POP)
		logical.Right.Accept(ac)

		ac.patchJump(jumpIfFalsePos, len(ac.bytecode.Instructions))
	}
	return nil
}

// VisitExpressionStmt compiles a bare expression statement (`foo();`,
// `x = 5;`). The expression's value is discarded: every expression leaves
// exactly one value on the stack, and a statement has no use for it.
func (ac *ASTCompiler) VisitExpressionStmt(exprStmt ast.ExpressionStmt) any {
	exprStmt.Expression.Accept(ac)
	ac.emit(OP_POP)
	return nil
}

func (ac *ASTCompiler) VisitPrintStmt(printStmt ast.PrintStmt) any {
	for _, argument := range printStmt.Arguments {
		argument.Accept(ac)
	}
	ac.emit(OP_PRINT, len(printStmt.Arguments))
	return nil
}

// VisitBlockStmt compiles a block statement by sequentially compiling each statement
// in the block.
func (ac *ASTCompiler) VisitBlockStmt(blockStmt ast.BlockStmt) any {

	ac.beginScope()
	for _, stmt := range blockStmt.Statements {
		func() {
			//NOTE: Catch panics per statement to avoid aborting the whole loop
			defer func() {
				if r := recover(); r != nil {
					panic(r)
				}
			}()
			stmt.Accept(ac)
		}()
	}

	popped := ac.endScope()
	if popped > 0 {
		ac.emit(OP_SCOPE_EXIT, popped)
	}
	return nil
}

// VisitIfStmt compiles an if or if-else statement by emitting bytecode.
// It uses backpatching to resolve jump offsets for branching.
func (ac *ASTCompiler) VisitIfStmt(ifStmt ast.IfStmt) any {

	// compile the condition expression first
	ifStmt.Condition.Accept(ac)

	jumpIfFalsePatch := ac.emitPlaceholderJump(OP_JUMP_IF_FALSE)
	// For example, the intructions would now be something like: [..., OP_JUMP_IF_FALSE,  0x00, 0x00]
	// where `0x00, 0x0` are the placeholder operand bytes.

	ifStmt.Then.Accept(ac)

	if ifStmt.Else != nil {
		// If there is an "else" branch, emit a jump instruction to skip over it after executing the "then" branch.
		jumpPatch := ac.emitPlaceholderJump(OP_JUMP)

		// Patch the operand of the OP_JUMP_IF_FALSE instruction defined at the beginning.
		// This allows the VM to correctly jump to the start of the "else" branch, if the "then"
		// branch condition evaluates false.
		elsePos := len(ac.bytecode.Instructions)
		ac.patchJump(jumpIfFalsePatch, elsePos)

		ifStmt.Else.Accept(ac)

		endPos := len(ac.bytecode.Instructions)
		// Patch the operand of `OP_JUMP` so the VM can jump to the end of the "else" branch.
		ac.patchJump(jumpPatch, endPos)
	} else {
		// If there is no "else" branch, patch the OP_JUMP_IF_FALSE so that
		// control jumps to the instruction after the "then" branch when
		// the condition is false.
		afterPos := len(ac.bytecode.Instructions)
		ac.patchJump(jumpIfFalsePatch, afterPos)
	}
	// Emits `OP_POP` so the VM can pop the condition expression's value from the stack.
	ac.emit(OP_POP)
	return nil
}

func (ac *ASTCompiler) VisitWhileStmt(whileStmt ast.WhileStmt) any {

	loopstartPos := len(ac.bytecode.Instructions)

	ac.pushLoop()

	// compile the condition expression first
	whileStmt.Condition.Accept(ac)

	jumpIfFalsePatch := ac.emitPlaceholderJump(OP_JUMP_IF_FALSE)

	// compile the loop body
	whileStmt.Body.Accept(ac)

	// `continue` re-enters right here: pop the (still-on-stack) condition
	// value and re-evaluate the loop condition from scratch.
	continueTarget := len(ac.bytecode.Instructions)
	ctx := ac.currentLoop()
	for _, pos := range ctx.continueJumps {
		ac.patchJump(pos, continueTarget)
	}

	// After compiling the loop body, we need to emit a jump instruction
	// so the VM can jump back to the start of the loop condition.
	ac.emit(OP_POP)
	ac.emit(OP_JUMP, loopstartPos)

	// if the while condition is false, the VM needs to jump to the end of the loop body,
	// which is the current position in the instruction array.
	loopEndPos := len(ac.bytecode.Instructions)
	ac.patchJump(jumpIfFalsePatch, loopEndPos)
	ac.emit(OP_POP)

	ctx = ac.popLoop()
	for _, pos := range ctx.breakJumps {
		ac.patchJump(pos, loopEndPos)
	}

	return nil
}

// VisitForStmt compiles a C-style `for (init; cond; step) { body }` loop.
// `continue` jumps to the step expression rather than the condition, so the
// step still runs on every iteration.
func (ac *ASTCompiler) VisitForStmt(stmt ast.ForStmt) any {
	ac.beginScope()
	if stmt.Init != nil {
		stmt.Init.Accept(ac)
	}

	ac.pushLoop()

	conditionStart := len(ac.bytecode.Instructions)
	hasCondition := stmt.Condition != nil
	var jumpIfFalsePatch int
	if hasCondition {
		stmt.Condition.Accept(ac)
		jumpIfFalsePatch = ac.emitPlaceholderJump(OP_JUMP_IF_FALSE)
	}

	stmt.Body.Accept(ac)

	stepStart := len(ac.bytecode.Instructions)
	ctx := ac.currentLoop()
	for _, pos := range ctx.continueJumps {
		ac.patchJump(pos, stepStart)
	}
	if stmt.Step != nil {
		stmt.Step.Accept(ac)
		ac.emit(OP_POP)
	}
	if hasCondition {
		ac.emit(OP_POP)
	}
	ac.emit(OP_JUMP, conditionStart)

	loopEndPos := len(ac.bytecode.Instructions)
	if hasCondition {
		ac.patchJump(jumpIfFalsePatch, loopEndPos)
		ac.emit(OP_POP)
	}
	ctx = ac.popLoop()
	for _, pos := range ctx.breakJumps {
		ac.patchJump(pos, loopEndPos)
	}

	popped := ac.endScope()
	if popped > 0 {
		ac.emit(OP_SCOPE_EXIT, popped)
	}
	return nil
}

// VisitIterStmt compiles `iter (name[, name] in expr) { body }` using the
// iterator protocol opcodes. A hidden local (an identifier no lexer could
// ever produce) holds the iterator across iterations.
func (ac *ASTCompiler) VisitIterStmt(stmt ast.IterStmt) any {
	ac.beginScope()

	stmt.Iterable.Accept(ac)
	ac.emit(OP_GET_ITERATOR)
	iterSlot := ac.declareHiddenLocal(" iter")
	ac.emit(OP_SET_LOCAL, iterSlot)

	ac.pushLoop()

	loopStart := len(ac.bytecode.Instructions)
	ac.emit(OP_GET_LOCAL, iterSlot)
	ac.emit(OP_ITERATOR_HAS_NEXT)
	jumpIfFalsePatch := ac.emitPlaceholderJump(OP_JUMP_IF_FALSE)
	ac.emit(OP_POP)

	ac.beginScope()
	ac.emit(OP_GET_LOCAL, iterSlot)
	if len(stmt.Bindings) == 2 {
		ac.emit(OP_ITERATOR_NEXT_KEY_VALUE)
		keySlot := ac.declareHiddenLocal(stmt.Bindings[0].Lexeme)
		ac.emit(OP_SET_LOCAL, keySlot)
		valueSlot := ac.declareHiddenLocal(stmt.Bindings[1].Lexeme)
		ac.emit(OP_SET_LOCAL, valueSlot)
	} else {
		ac.emit(OP_ITERATOR_NEXT)
		valueSlot := ac.declareHiddenLocal(stmt.Bindings[0].Lexeme)
		ac.emit(OP_SET_LOCAL, valueSlot)
	}

	stmt.Body.Accept(ac)

	popped := ac.endScope()
	if popped > 0 {
		ac.emit(OP_SCOPE_EXIT, popped)
	}

	continueTarget := len(ac.bytecode.Instructions)
	ctx := ac.currentLoop()
	for _, pos := range ctx.continueJumps {
		ac.patchJump(pos, continueTarget)
	}
	ac.emit(OP_JUMP, loopStart)

	loopEndPos := len(ac.bytecode.Instructions)
	ac.patchJump(jumpIfFalsePatch, loopEndPos)
	ac.emit(OP_POP)
	ctx = ac.popLoop()
	for _, pos := range ctx.breakJumps {
		ac.patchJump(pos, loopEndPos)
	}

	outerPopped := ac.endScope()
	if outerPopped > 0 {
		ac.emit(OP_SCOPE_EXIT, outerPopped)
	}
	return nil
}

// VisitReturnStmt compiles `return;`/`return expr;`. A bare `return` returns
// null.
func (ac *ASTCompiler) VisitReturnStmt(stmt ast.ReturnStmt) any {
	if stmt.Value != nil {
		stmt.Value.Accept(ac)
	} else {
		ac.addConstant(nil)
	}
	ac.emit(OP_RETURN)
	return nil
}

func (ac *ASTCompiler) VisitBreakStmt(stmt ast.BreakStmt) any {
	ctx := ac.currentLoop()
	if ctx == nil {
		panic(SemanticError{Message: "'break' used outside of a loop"})
	}
	pos := ac.emitPlaceholderJump(OP_JUMP)
	ctx.breakJumps = append(ctx.breakJumps, pos)
	return nil
}

func (ac *ASTCompiler) VisitContinueStmt(stmt ast.ContinueStmt) any {
	ctx := ac.currentLoop()
	if ctx == nil {
		panic(SemanticError{Message: "'continue' used outside of a loop"})
	}
	pos := ac.emitPlaceholderJump(OP_JUMP)
	ctx.continueJumps = append(ctx.continueJumps, pos)
	return nil
}

// VisitTernary compiles `cond ? then : else`, following the same
// short-circuit jump idiom as VisitLogicalExpression but popping the
// condition on both arms so exactly one value (the chosen branch's) is left
// on the stack.
func (ac *ASTCompiler) VisitTernary(ternary ast.Ternary) any {
	ternary.Condition.Accept(ac)

	jumpIfFalsePatch := ac.emitPlaceholderJump(OP_JUMP_IF_FALSE)
	ac.emit(OP_POP)
	ternary.Then.Accept(ac)
	jumpEndPatch := ac.emitPlaceholderJump(OP_JUMP)

	ac.patchJump(jumpIfFalsePatch, len(ac.bytecode.Instructions))
	ac.emit(OP_POP)
	ternary.Else.Accept(ac)

	ac.patchJump(jumpEndPatch, len(ac.bytecode.Instructions))
	return nil
}

// VisitCall compiles `callee(args...)`. The callee is pushed first, followed
// by each argument in source order; argument names are ignored, so every
// argument is passed positionally in the order it is written.
//
// `ok(...)`/`err(...)` are not declared functions: they are the error-union
// constructors, recognized here by callee name rather than by a dedicated
// AST node, since they parse as ordinary identifier calls and need no new
// grammar.
func (ac *ASTCompiler) VisitCall(call ast.Call) any {
	if callee, isVariable := call.Callee.(ast.Variable); isVariable {
		switch callee.Name.Lexeme {
		case "ok":
			return ac.compileMakeOk(call)
		case "err":
			return ac.compileMakeErr(call)
		case "channel":
			return ac.compileMakeChannel(call)
		case "atomic":
			return ac.compileMakeAtomic(call)
		case "sleep":
			return ac.compileSleep(call)
		}
	}
	if member, isMember := call.Callee.(ast.Member); isMember {
		if op, ok := concurrencyMemberOps[member.Name.Lexeme]; ok {
			return ac.compileConcurrencyMemberCall(member, call, op)
		}
	}
	call.Callee.Accept(ac)
	for _, argument := range call.Arguments {
		argument.Value.Accept(ac)
	}
	ac.emit(OP_CALL, len(call.Arguments))
	return nil
}

// concurrencyMemberOps maps the method-call syntax used on channel/atomic/
// task handles to the opcode that implements it, so `ch.send(x)` and
// friends compile directly to the concurrency opcodes instead of a generic
// OP_CALL (channels and atomics have no user-declared methods to dispatch
// through).
var concurrencyMemberOps = map[string]Opcode{
	"send":            OP_CHANNEL_SEND,
	"receive":         OP_CHANNEL_RECEIVE,
	"close":           OP_CHANNEL_CLOSE,
	"fetchAdd":        OP_ATOMIC_FETCH_ADD,
	"fetchSub":        OP_ATOMIC_FETCH_SUB,
	"compareExchange": OP_ATOMIC_COMPARE_EXCHANGE,
	"await":           OP_AWAIT,
}

// compileConcurrencyMemberCall compiles `target.method(args...)` for one of
// concurrencyMemberOps: the target handle first, then its arguments in
// order, then the opcode.
func (ac *ASTCompiler) compileConcurrencyMemberCall(member ast.Member, call ast.Call, op Opcode) any {
	member.Target.Accept(ac)
	for _, argument := range call.Arguments {
		argument.Value.Accept(ac)
	}
	ac.emit(op)
	return nil
}

// compileMakeChannel compiles `channel(capacity)`; an omitted capacity
// defaults to 0 (unbuffered).
func (ac *ASTCompiler) compileMakeChannel(call ast.Call) any {
	if len(call.Arguments) > 0 {
		call.Arguments[0].Value.Accept(ac)
	} else {
		ac.addConstant(int64(0))
	}
	ac.emit(OP_MAKE_CHANNEL)
	return nil
}

// compileMakeAtomic compiles `atomic(initial)`; an omitted initial value
// defaults to 0.
func (ac *ASTCompiler) compileMakeAtomic(call ast.Call) any {
	if len(call.Arguments) > 0 {
		call.Arguments[0].Value.Accept(ac)
	} else {
		ac.addConstant(int64(0))
	}
	ac.emit(OP_MAKE_ATOMIC)
	return nil
}

// compileSleep compiles `sleep(milliseconds)`.
func (ac *ASTCompiler) compileSleep(call ast.Call) any {
	if len(call.Arguments) > 0 {
		call.Arguments[0].Value.Accept(ac)
	} else {
		ac.addConstant(int64(0))
	}
	ac.emit(OP_SLEEP)
	return nil
}

// compileMakeOk compiles `ok(value)`. OP_MAKE_OK needs no operand: the
// success value itself is the error union's runtime representation.
func (ac *ASTCompiler) compileMakeOk(call ast.Call) any {
	if len(call.Arguments) > 0 {
		call.Arguments[0].Value.Accept(ac)
	} else {
		ac.emit(OP_NULL)
	}
	ac.emit(OP_MAKE_OK)
	return nil
}

// compileMakeErr compiles `err(Kind, arg...)`. Kind is a bare identifier
// naming the error, not a variable reference, so it's interned as a string
// constant rather than compiled as a Variable lookup; the remaining
// arguments are pushed in order and become the ErrValue's Args.
func (ac *ASTCompiler) compileMakeErr(call ast.Call) any {
	kind := ""
	rest := call.Arguments
	if len(call.Arguments) > 0 {
		if kindName, isVariable := call.Arguments[0].Value.(ast.Variable); isVariable {
			kind = kindName.Name.Lexeme
			rest = call.Arguments[1:]
		}
	}
	ac.addConstant(kind)
	for _, argument := range rest {
		argument.Value.Accept(ac)
	}
	ac.emit(OP_MAKE_ERR, len(rest))
	return nil
}

// VisitIndex compiles `target[index]`.
func (ac *ASTCompiler) VisitIndex(index ast.Index) any {
	index.Target.Accept(ac)
	index.Index.Accept(ac)
	ac.emit(OP_GET_INDEX)
	return nil
}

// VisitMember compiles `target.name`. The member name is interned into the
// constants pool (not NameConstants, which rejects duplicates and is
// reserved for global variable/function/class names).
func (ac *ASTCompiler) VisitMember(member ast.Member) any {
	member.Target.Accept(ac)
	nameIndex := ac.internString(member.Name.Lexeme)
	ac.emit(OP_GET_MEMBER, nameIndex)
	return nil
}

// VisitCompoundAssign compiles `target = value` and `target += value` (and
// its `-=`/`*=`/`/=`/`%=` siblings) against a Variable, Index, or Member
// target. For a compound op on an Index/Member target the container (and
// index) are evaluated once and stored in OP_STORE_TEMP scratch slots, then
// reloaded with OP_LOAD_TEMP for both the read and the write side (rather
// than duplicated by a dedicated opcode).
func (ac *ASTCompiler) VisitCompoundAssign(assign ast.CompoundAssign) any {
	switch target := assign.Target.(type) {
	case ast.Variable:
		if assign.Operator.TokenType == token.ASSIGN {
			ast.Assign{Name: target.Name, Value: assign.Value}.Accept(ac)
			return nil
		}
		target.Accept(ac)
		assign.Value.Accept(ac)
		ac.emitCompoundOp(assign.Operator.TokenType)
		ac.compileStoreVariable(target.Name)
		return nil

	case ast.Index:
		if assign.Operator.TokenType == token.ASSIGN {
			target.Target.Accept(ac)
			target.Index.Accept(ac)
			assign.Value.Accept(ac)
			ac.emit(OP_SET_INDEX)
			return nil
		}

		base := ac.reserveTemps(3)
		containerSlot, indexSlot, valueSlot := base, base+1, base+2

		target.Target.Accept(ac)
		ac.emit(OP_STORE_TEMP, containerSlot)
		target.Index.Accept(ac)
		ac.emit(OP_STORE_TEMP, indexSlot)

		ac.emit(OP_LOAD_TEMP, containerSlot)
		ac.emit(OP_LOAD_TEMP, indexSlot)
		ac.emit(OP_GET_INDEX)
		assign.Value.Accept(ac)
		ac.emitCompoundOp(assign.Operator.TokenType)
		ac.emit(OP_STORE_TEMP, valueSlot)

		ac.emit(OP_LOAD_TEMP, containerSlot)
		ac.emit(OP_LOAD_TEMP, indexSlot)
		ac.emit(OP_LOAD_TEMP, valueSlot)
		ac.emit(OP_SET_INDEX)

		ac.emit(OP_CLEAR_TEMP, containerSlot)
		ac.emit(OP_CLEAR_TEMP, indexSlot)
		ac.emit(OP_CLEAR_TEMP, valueSlot)
		ac.releaseTemps(3)
		return nil

	case ast.Member:
		nameIndex := ac.internString(target.Name.Lexeme)
		if assign.Operator.TokenType == token.ASSIGN {
			target.Target.Accept(ac)
			assign.Value.Accept(ac)
			ac.emit(OP_SET_MEMBER, nameIndex)
			return nil
		}

		base := ac.reserveTemps(2)
		containerSlot, valueSlot := base, base+1

		target.Target.Accept(ac)
		ac.emit(OP_STORE_TEMP, containerSlot)

		ac.emit(OP_LOAD_TEMP, containerSlot)
		ac.emit(OP_GET_MEMBER, nameIndex)
		assign.Value.Accept(ac)
		ac.emitCompoundOp(assign.Operator.TokenType)
		ac.emit(OP_STORE_TEMP, valueSlot)

		ac.emit(OP_LOAD_TEMP, containerSlot)
		ac.emit(OP_LOAD_TEMP, valueSlot)
		ac.emit(OP_SET_MEMBER, nameIndex)

		ac.emit(OP_CLEAR_TEMP, containerSlot)
		ac.emit(OP_CLEAR_TEMP, valueSlot)
		ac.releaseTemps(2)
		return nil
	}

	panic(DeveloperError{Message: fmt.Sprintf("unsupported assignment target: %T", assign.Target)})
}

// VisitListLiteral compiles `[e1, e2, ...]`.
func (ac *ASTCompiler) VisitListLiteral(list ast.ListLiteral) any {
	for _, element := range list.Elements {
		element.Accept(ac)
	}
	ac.emit(OP_CREATE_LIST, len(list.Elements))
	return nil
}

// VisitDictLiteral compiles `{k1: v1, k2: v2, ...}`, pushing each key then
// its value so the VM can pop them off in pairs.
func (ac *ASTCompiler) VisitDictLiteral(dict ast.DictLiteral) any {
	for _, entry := range dict.Entries {
		entry.Key.Accept(ac)
		entry.Value.Accept(ac)
	}
	ac.emit(OP_CREATE_DICT, len(dict.Entries))
	return nil
}

// VisitRange compiles `a..b` / `a...b`.
func (ac *ASTCompiler) VisitRange(rangeExpr ast.Range) any {
	rangeExpr.Start.Accept(ac)
	rangeExpr.End.Accept(ac)
	inclusive := 0
	if rangeExpr.Inclusive {
		inclusive = 1
	}
	ac.emit(OP_CREATE_RANGE, inclusive)
	return nil
}

// VisitInterpolatedString compiles a (possibly single-segment) string
// literal. Literal text segments are pushed as constants; `{expr}` segments
// are compiled and concatenated left to right with OP_ADD.
func (ac *ASTCompiler) VisitInterpolatedString(str ast.InterpolatedString) any {
	if len(str.Parts) == 0 {
		ac.addConstant("")
		return nil
	}
	for i, part := range str.Parts {
		if part.Expr != nil {
			part.Expr.Accept(ac)
		} else {
			ac.addConstant(part.Text)
		}
		if i > 0 {
			ac.emit(OP_ADD)
		}
	}
	return nil
}

// VisitFunctionExpression compiles an anonymous function literal, pushing
// the resulting function's table index as the expression's value.
func (ac *ASTCompiler) VisitFunctionExpression(fn ast.FunctionExpression) any {
	start, end := ac.compileFunctionBody(fn.Params, fn.Body)
	record := FunctionRecord{
		Name:       "<anonymous>",
		ParamCount: len(fn.Params),
		Start:      start,
		End:        end,
		ErrorKinds: fn.Throws,
	}
	ac.bytecode.Functions = append(ac.bytecode.Functions, record)
	ac.addConstant(int64(len(ac.bytecode.Functions) - 1))
	return nil
}

// VisitPropagate compiles the postfix `expr?` operator: unwrap an Ok value,
// or return the Err unchanged from the enclosing function.
func (ac *ASTCompiler) VisitPropagate(propagate ast.Propagate) any {
	propagate.Operand.Accept(ac)
	ac.emit(OP_UNWRAP_OR_RETURN)
	return nil
}

// VisitElseHandler compiles `expr ? else (err) { block }`. On success the
// unwrapped value is left on the stack; on error, the error value is bound
// (or discarded, if unnamed) and the handler block runs, implicitly
// producing null unless it returns/throws first.
func (ac *ASTCompiler) VisitElseHandler(handler ast.ElseHandler) any {
	handler.Operand.Accept(ac)

	jumpToHandler := ac.emitPlaceholderJump(OP_UNWRAP_OR_ELSE)
	jumpOverHandler := ac.emitPlaceholderJump(OP_JUMP)

	ac.patchJump(jumpToHandler, len(ac.bytecode.Instructions))

	ac.beginScope()
	if handler.ErrName != "" {
		errSlot := ac.declareHiddenLocal(handler.ErrName)
		ac.emit(OP_SET_LOCAL, errSlot)
	} else {
		ac.emit(OP_POP)
	}
	for _, stmt := range handler.Block {
		stmt.Accept(ac)
	}
	popped := ac.endScope()
	if popped > 0 {
		ac.emit(OP_SCOPE_EXIT, popped)
	}
	ac.addConstant(nil)

	ac.patchJump(jumpOverHandler, len(ac.bytecode.Instructions))
	return nil
}

// VisitThis compiles `this`/`self` inside a class method body.
func (ac *ASTCompiler) VisitThis(this ast.This) any {
	ac.emit(OP_GET_THIS)
	return nil
}

// VisitFunctionStmt compiles a named function declaration. The body is
// compiled in its own, isolated local-variable space (see
// compileFunctionBody); closures over enclosing locals are not yet
// supported (OP_GET_UPVALUE/OP_SET_UPVALUE are reserved for that).
func (ac *ASTCompiler) VisitFunctionStmt(stmt ast.FunctionStmt) any {
	start, end := ac.compileFunctionBody(stmt.Params, stmt.Body)

	optionalCount := 0
	for _, param := range stmt.Params {
		if param.Optional {
			optionalCount++
		}
	}
	record := FunctionRecord{
		Name:               stmt.Name.Lexeme,
		ParamCount:         len(stmt.Params),
		OptionalParamCount: optionalCount,
		Start:              start,
		End:                end,
		ErrorKinds:         stmt.Throws,
	}
	ac.bytecode.Functions = append(ac.bytecode.Functions, record)
	functionIndex := int64(len(ac.bytecode.Functions) - 1)

	ac.bindDeclaration(stmt.Name.Lexeme, func() { ac.addConstant(functionIndex) })
	return nil
}

// VisitClassStmt compiles a class declaration: a ClassRecord describing its
// fields and method table, with each method compiled the same way a
// top-level function is.
func (ac *ASTCompiler) VisitClassStmt(stmt ast.ClassStmt) any {
	fieldNames := make([]string, 0, len(stmt.Fields))
	for _, field := range stmt.Fields {
		fieldNames = append(fieldNames, field.Name.Lexeme)
	}

	classIndex := len(ac.bytecode.Classes)
	ac.bytecode.Classes = append(ac.bytecode.Classes, ClassRecord{
		Name:       stmt.Name.Lexeme,
		Super:      stmt.Super,
		FieldNames: fieldNames,
		Methods:    make(map[string]int),
	})
	ac.emit(OP_BEGIN_CLASS, classIndex)

	for _, method := range stmt.Methods {
		start, end := ac.compileFunctionBody(method.Params, method.Body)
		ac.bytecode.Functions = append(ac.bytecode.Functions, FunctionRecord{
			Name:       method.Name.Lexeme,
			ParamCount: len(method.Params),
			Start:      start,
			End:        end,
			ErrorKinds: method.Throws,
		})
		ac.bytecode.Classes[classIndex].Methods[method.Name.Lexeme] = len(ac.bytecode.Functions) - 1
	}

	ac.emit(OP_END_CLASS)

	ac.bindDeclaration(stmt.Name.Lexeme, func() { ac.addConstant(int64(classIndex)) })
	return nil
}

// VisitInterfaceStmt: interfaces constrain structural typing at the checker
// level only; they have no runtime representation.
func (ac *ASTCompiler) VisitInterfaceStmt(stmt ast.InterfaceStmt) any {
	return nil
}

// VisitTraitStmt compiles a trait's default methods the same way class
// methods are compiled, namespaced under the trait's name so a class that
// mixes the trait in can resolve `TraitName.method`.
func (ac *ASTCompiler) VisitTraitStmt(stmt ast.TraitStmt) any {
	for _, method := range stmt.Methods {
		start, end := ac.compileFunctionBody(method.Params, method.Body)
		ac.bytecode.Functions = append(ac.bytecode.Functions, FunctionRecord{
			Name:       stmt.Name.Lexeme + "." + method.Name.Lexeme,
			ParamCount: len(method.Params),
			Start:      start,
			End:        end,
			ErrorKinds: method.Throws,
		})
	}
	return nil
}

// VisitTypeAliasStmt: type aliases are resolved at the checker level only;
// they have no runtime representation.
func (ac *ASTCompiler) VisitTypeAliasStmt(stmt ast.TypeAliasStmt) any {
	return nil
}

// VisitModuleStmt inlines the module body at its declaration site. Full
// namespace-qualified member resolution (`Module.name`) is left to the
// import/checker layer; the compiler does not yet box module members behind
// a distinct value.
func (ac *ASTCompiler) VisitModuleStmt(stmt ast.ModuleStmt) any {
	for _, stmt := range stmt.Body {
		stmt.Accept(ac)
	}
	return nil
}

// VisitImportStmt compiles `import path as alias (show|hide names...)?;`
// into a single OP_IMPORT_MODULE referencing the dotted path string.
func (ac *ASTCompiler) VisitImportStmt(stmt ast.ImportStmt) any {
	pathIndex := ac.internString(strings.Join(stmt.Path, "."))
	ac.emit(OP_IMPORT_MODULE, pathIndex)
	return nil
}

// VisitMatchStmt compiles `match expr { case p1: ...; case p2: ...; }` as a
// chain of pattern tests against a hidden local holding the subject value.
// Each case's structural pattern (its GuardedPattern wrapper, if any, is
// stripped here) is stored as AST data in the constants pool and matched at
// runtime by OP_MATCH_PATTERN. On a structural match, any names the
// pattern captures (identifier patterns, list/dict/variant sub-patterns)
// are bound into fresh locals before the guard expression, if present, and
// the case body are compiled, so both can reference the captured names.
func (ac *ASTCompiler) VisitMatchStmt(stmt ast.MatchStmt) any {
	ac.beginScope()
	stmt.Subject.Accept(ac)
	subjectSlot := ac.declareHiddenLocal(" match")
	ac.emit(OP_SET_LOCAL, subjectSlot)

	var endJumps []int
	for _, matchCase := range stmt.Cases {
		structural, guard := splitGuard(matchCase.Pattern)

		ac.emit(OP_GET_LOCAL, subjectSlot)
		patternIndex := ac.addPatternConstant(structural)
		ac.emit(OP_MATCH_PATTERN, patternIndex)

		mismatchJump := ac.emitPlaceholderJump(OP_JUMP_IF_FALSE)
		ac.emit(OP_POP)

		ac.beginScope()
		ac.bindPattern(structural, func() { ac.emit(OP_GET_LOCAL, subjectSlot) })

		var guardMismatchJump int
		hasGuard := guard != nil
		if hasGuard {
			guard.Accept(ac)
			guardMismatchJump = ac.emitPlaceholderJump(OP_JUMP_IF_FALSE)
			ac.emit(OP_POP)
		}

		for _, s := range matchCase.Body {
			s.Accept(ac)
		}
		popped := ac.endScope()
		if popped > 0 {
			ac.emit(OP_SCOPE_EXIT, popped)
		}
		endJumps = append(endJumps, ac.emitPlaceholderJump(OP_JUMP))

		if hasGuard {
			ac.patchJump(guardMismatchJump, len(ac.bytecode.Instructions))
			ac.emit(OP_POP)
			if popped > 0 {
				ac.emit(OP_SCOPE_EXIT, popped)
			}
		}

		ac.patchJump(mismatchJump, len(ac.bytecode.Instructions))
		ac.emit(OP_POP)
	}

	for _, pos := range endJumps {
		ac.patchJump(pos, len(ac.bytecode.Instructions))
	}

	popped := ac.endScope()
	if popped > 0 {
		ac.emit(OP_SCOPE_EXIT, popped)
	}
	return nil
}

// splitGuard separates a case pattern's structural shape from its optional
// `if` guard expression, so the two compile to independent bytecode: one
// structural test consumed by OP_MATCH_PATTERN, one ordinary boolean
// expression evaluated with the structural match's captures already bound.
func splitGuard(pattern ast.Pattern) (ast.Pattern, ast.Expression) {
	if guarded, ok := pattern.(ast.GuardedPattern); ok {
		return guarded.Inner, guarded.Guard
	}
	return pattern, nil
}

// bindPattern walks a structural pattern and, for every name it captures,
// emits code to fetch that name's value (via pushPath, which pushes the
// value found at the current path into the subject) and store it into a
// freshly declared local. pushPath starts out as "load the match subject"
// and grows a GET_INDEX/GET_MEMBER access chain as bindPattern descends
// into list elements, dict entries, and variant constructor arguments.
func (ac *ASTCompiler) bindPattern(pattern ast.Pattern, pushPath func()) {
	switch pat := pattern.(type) {
	case ast.IdentifierPattern:
		pushPath()
		ac.declareLocal(pat.Name)
		slot := ac.locals[len(ac.locals)-1].slot
		ac.emit(OP_SET_LOCAL, int(slot))
	case ast.WildcardPattern, ast.LiteralPattern, ast.RangePattern:
		// nothing to bind
	case ast.ListPattern:
		for i, element := range pat.Elements {
			index := int64(i)
			ac.bindPattern(element, func() {
				pushPath()
				ac.addConstant(index)
				ac.emit(OP_GET_INDEX)
			})
		}
	case ast.DictPattern:
		for _, entry := range pat.Entries {
			key := entry.Key
			ac.bindPattern(entry.Pattern, func() {
				pushPath()
				ac.addConstant(key)
				ac.emit(OP_GET_INDEX)
			})
		}
	case ast.VariantPattern:
		fields := ac.classFieldNames(pat.Name)
		for i, argument := range pat.Arguments {
			if i >= len(fields) {
				break
			}
			fieldName := fields[i]
			ac.bindPattern(argument, func() {
				pushPath()
				nameIndex := ac.internString(fieldName)
				ac.emit(OP_GET_MEMBER, nameIndex)
			})
		}
	case ast.GuardedPattern:
		// Only reachable for a guard nested inside a larger structural
		// pattern (not a top-level case guard, which splitGuard already
		// extracted); the nested guard itself isn't evaluated.
		ac.bindPattern(pat.Inner, pushPath)
	}
}

// classFieldNames returns the declared field order of a class, used to map
// a VariantPattern's positional sub-patterns onto instance fields by
// index. Returns nil if no class with that name has been compiled yet.
func (ac *ASTCompiler) classFieldNames(name string) []string {
	for _, class := range ac.bytecode.Classes {
		if class.Name == name {
			return class.FieldNames
		}
	}
	return nil
}

// VisitAttemptStmt compiles `attempt { body } handle (...) { }...`. The
// protected region and each handler are recorded as HandlerRecord side-table
// entries keyed by instruction range, rather than inline jumps, since an
// uncaught throw needs to unwind to whichever handler matches the error
// kind that actually occurred, not a statically-known branch.
func (ac *ASTCompiler) VisitAttemptStmt(stmt ast.AttemptStmt) any {
	ac.emit(OP_BEGIN_TRY, 0)
	tryStart := len(ac.bytecode.Instructions)

	ac.beginScope()
	for _, s := range stmt.Body {
		s.Accept(ac)
	}
	popped := ac.endScope()
	if popped > 0 {
		ac.emit(OP_SCOPE_EXIT, popped)
	}
	ac.emit(OP_END_TRY, 0)
	tryEnd := len(ac.bytecode.Instructions)

	endJumpPos := ac.emitPlaceholderJump(OP_JUMP)

	for _, handler := range stmt.Handlers {
		handlerStart := len(ac.bytecode.Instructions)
		ac.beginScope()
		if handler.Binding != "" {
			slot := ac.declareHiddenLocal(handler.Binding)
			ac.emit(OP_SET_LOCAL, slot)
		} else {
			ac.emit(OP_POP)
		}
		for _, s := range handler.Body {
			s.Accept(ac)
		}
		popped := ac.endScope()
		if popped > 0 {
			ac.emit(OP_SCOPE_EXIT, popped)
		}
		ac.emit(OP_END_HANDLER)
		handlerEnd := len(ac.bytecode.Instructions)

		ac.bytecode.Handlers = append(ac.bytecode.Handlers, HandlerRecord{
			TryStart:     tryStart,
			TryEnd:       tryEnd,
			HandlerStart: handlerStart,
			HandlerEnd:   handlerEnd,
			ErrorKind:    handler.ErrorKind,
		})
	}

	ac.patchJump(endJumpPos, len(ac.bytecode.Instructions))
	return nil
}

// VisitParallelStmt compiles `parallel(cores=, onError=, timeout=) { body }`.
// Cores is evaluated and popped by OP_BEGIN_PARALLEL to size the block's
// worker pool (0 means Auto, i.e. NumCPU); the enclosed `task` statements
// submit onto that pool rather than running inline. Timeout isn't enforced
// yet — see the Open Questions entry in DESIGN.md.
func (ac *ASTCompiler) VisitParallelStmt(stmt ast.ParallelStmt) any {
	if stmt.Cores != nil {
		stmt.Cores.Accept(ac)
	} else {
		ac.addConstant(int64(0))
	}
	ac.emit(OP_BEGIN_PARALLEL, int(stmt.OnError))
	ac.beginScope()
	for _, s := range stmt.Body {
		s.Accept(ac)
	}
	popped := ac.endScope()
	if popped > 0 {
		ac.emit(OP_SCOPE_EXIT, popped)
	}
	ac.emit(OP_END_PARALLEL)
	return nil
}

// VisitConcurrentStmt compiles `concurrent { body }`, scheduled cooperatively
// rather than across OS threads.
func (ac *ASTCompiler) VisitConcurrentStmt(stmt ast.ConcurrentStmt) any {
	ac.emit(OP_BEGIN_CONCURRENT, 0)
	ac.beginScope()
	for _, s := range stmt.Body {
		s.Accept(ac)
	}
	popped := ac.endScope()
	if popped > 0 {
		ac.emit(OP_SCOPE_EXIT, popped)
	}
	ac.emit(OP_END_CONCURRENT)
	return nil
}

// VisitTaskStmt compiles `task expr;`. expr is compiled as an isolated,
// zero-argument function (the same machinery VisitFunctionExpression uses
// for anonymous function literals) so OP_TASK can hand it to the enclosing block's worker pool
// for deferred, concurrent evaluation rather than running it inline.
func (ac *ASTCompiler) VisitTaskStmt(stmt ast.TaskStmt) any {
	start, end := ac.compileFunctionBody(nil, []ast.Stmt{ast.ReturnStmt{Value: stmt.Expression}})
	record := FunctionRecord{
		Name:       "<task>",
		ParamCount: 0,
		Start:      start,
		End:        end,
	}
	ac.bytecode.Functions = append(ac.bytecode.Functions, record)
	ac.addConstant(int64(len(ac.bytecode.Functions) - 1))
	ac.emit(OP_TASK)
	return nil
}

// VisitUnsafeStmt: per the open design question on `unsafe`, its body is
// rejected at compile time rather than given relaxed-checking semantics
// nothing in this pipeline actually implements.
func (ac *ASTCompiler) VisitUnsafeStmt(stmt ast.UnsafeStmt) any {
	panic(SemanticError{Message: "'unsafe' blocks are not yet supported"})
}

// VisitComptimeStmt: per the open design question on `comptime`, its body
// is rejected at compile time rather than simulated by running it through
// the ordinary (runtime) compiler pipeline.
func (ac *ASTCompiler) VisitComptimeStmt(stmt ast.ComptimeStmt) any {
	panic(SemanticError{Message: "'comptime' blocks are not yet supported"})
}

// VisitContractStmt compiles `contract(expr);` into a runtime assertion:
// if the predicate is false, throw a "contract violated" error rather than
// silently continuing.
func (ac *ASTCompiler) VisitContractStmt(stmt ast.ContractStmt) any {
	stmt.Predicate.Accept(ac)
	jumpIfFalsePatch := ac.emitPlaceholderJump(OP_JUMP_IF_FALSE)
	ac.emit(OP_POP)
	jumpOverThrow := ac.emitPlaceholderJump(OP_JUMP)

	ac.patchJump(jumpIfFalsePatch, len(ac.bytecode.Instructions))
	ac.emit(OP_POP)
	ac.addConstant("contract violated")
	ac.emit(OP_THROW)

	ac.patchJump(jumpOverThrow, len(ac.bytecode.Instructions))
	return nil
}

// patchjump overwrites a jump instruction's operand with the actual correct byte offset.
// When compiling if statements, its not possible to know the else branch (or the statement after
// the if) will be until the then-branch is compiled. Jump instructions are emmited with placeholder operands,
// then later call patchJump to fix those operands.

// The jumpPos is the byte index where the jump instruction's OPCODE is located.
//
//	This is the position BEFORE the jump was emitted
//
// The targetPos is the byte index where the jump instruction should jump to.
// Example:
// jumpPos = 10, targetPos = 20
// Before patching: [..., OP_JUMP_IF_FALSE, 0x00, 0x00, ...] (jump instruction starts at index 10)
// After patching: [..., OP_JUMP_IF_FALSE, 0x00, 0x14, ...] (jump instruction now correctly jumps to index 20)
func (ac *ASTCompiler) patchJump(jumpPos int, targetPos int) {

	operandPos := jumpPos + OPCODE_TOTAL_BYTES

	instruction := make([]byte, 2)
	binary.BigEndian.PutUint16(instruction, uint16(targetPos))

	// override the 2-byte placeholder operand in the instruction array with
	// the correct operand bytes that will make the jump instruction jump to the target position.
	ac.bytecode.Instructions[operandPos] = instruction[0]
	ac.bytecode.Instructions[operandPos+1] = instruction[1]

}

// addConstant appends a value to the constant pool and emits an OP_CONSTANT instruction.
// The operand of the instruction will be its index in the constants pool.
func (ac *ASTCompiler) addConstant(value any) {
	ac.bytecode.ConstantsPool = append(ac.bytecode.ConstantsPool, value)
	index := len(ac.bytecode.ConstantsPool) - 1
	ac.emit(OP_CONSTANT, index)
}

// addNameConstant adds a variable name to the NameConstants pool
// and returns its index.
func (ac *ASTCompiler) addNameConstant(value string) int {

	for _, name := range ac.bytecode.NameConstants {
		if name == value {
			panic(SemanticError{
				Message: fmt.Sprintf("Redefinition of variable '%s'", value),
			})
		}
	}
	ac.bytecode.NameConstants = append(ac.bytecode.NameConstants, value)
	return len(ac.bytecode.NameConstants) - 1
}

// emit constructs a bytecode instruction and appends it to the instruction stream
func (ac *ASTCompiler) emit(opcode Opcode, operands ...int) {
	instruction, err := AssembleInstruction(opcode, operands...)
	if err != nil {
		// TODO: Improve error handling in compiler.
		// Although in this case its can be OK as the error returned is of type `DeveloperError`
		// which would only be raised during development.
		panic(err.Error())
	}
	ac.bytecode.Instructions = append(ac.bytecode.Instructions, instruction...)
}

// emitPlaceholderJump emits a jump instruction with the specified opcode and a placeholder operand (0).
// It returns the position in the bytecode where the jump instruction was emitted,
// which can later be passed to `patchJump` to update the operand with
// the correct jump target.
func (ac *ASTCompiler) emitPlaceholderJump(opcode Opcode) int {
	position := len(ac.bytecode.Instructions)
	ac.emit(opcode, 0)
	return position
}

// beginScope increments the scope depth, when compiling a block statement.
func (ac *ASTCompiler) beginScope() {
	ac.scopeDepth++
}

// endScope decrements the scope depth and removes any local variables that go out of scope.
// It returns the number of local variables that went out of scope,
// which is used by the VM to pop them from the stack.
func (ac *ASTCompiler) endScope() int {
	ac.scopeDepth--

	count := 0
	for len(ac.locals) > 0 && ac.locals[len(ac.locals)-1].depth > ac.scopeDepth {
		ac.locals = ac.locals[:len(ac.locals)-1]
		count++
	}

	return count
}

// declareLocal adds a local variable name, checking for same-scope duplicates
// and assigns it a slot index for the VM to access it.
// It panics if there is a duplicate variable declaration in the same scope.
func (ac *ASTCompiler) declareLocal(name string) {

	for i := len(ac.locals) - 1; i >= 0; i-- {

		// By virtue of iterating backwards through the local stack,
		// we can stop checking
		if ac.locals[i].depth < ac.scopeDepth {
			break
		}
		if ac.locals[i].name == name {
			panic(SemanticError{
				Message: fmt.Sprintf("Redefinition of variable '%s'", name),
			})
		}
	}

	slot := uint16(len(ac.locals))
	local := Local{
		name:        name,
		depth:       ac.scopeDepth,
		initialized: false,
		slot:        slot,
	}
	ac.locals = append(ac.locals, local)

}

// defineLocal marks the most recently declared local variable as initialized.
func (ac *ASTCompiler) defineLocal() {
	if len(ac.locals) > 0 {
		ac.locals[len(ac.locals)-1].initialized = true
	}
}

// resolveLocal checks if a variable name exists in the current local scope and returns its slot index.
// It returns -1 if the variable is not found in the local scope.
func (ac *ASTCompiler) resolveLocal(name string) int {
	for i := len(ac.locals) - 1; i >= 0; i-- {
		if ac.locals[i].name == name {
			return int(ac.locals[i].slot)
		}
	}
	return -1
}

// resolveGlobal checks if a variable name exists in the global scope and returns its index in the NameConstants pool.
// It returns -1 if the variable is not found in the global scope.
func (ac ASTCompiler) resolveGlobal(name string) int {
	for i, n := range ac.bytecode.NameConstants {
		if n == name {
			return i
		}
	}
	return -1
}

// pushLoop starts tracking break/continue jumps for a new loop, nested
// inside whichever loop is already being compiled.
func (ac *ASTCompiler) pushLoop() {
	ac.loopStack = append(ac.loopStack, &loopContext{})
}

// currentLoop returns the innermost loop currently being compiled, or nil
// outside of any loop.
func (ac *ASTCompiler) currentLoop() *loopContext {
	if len(ac.loopStack) == 0 {
		return nil
	}
	return ac.loopStack[len(ac.loopStack)-1]
}

// popLoop stops tracking the innermost loop and returns its accumulated
// break jumps for the caller to patch.
func (ac *ASTCompiler) popLoop() *loopContext {
	ctx := ac.currentLoop()
	ac.loopStack = ac.loopStack[:len(ac.loopStack)-1]
	return ctx
}

// declareHiddenLocal introduces a local variable outside the ordinary
// declareLocal path, for compiler-synthesized bindings (loop iterators,
// match subjects, handler-bound error values) and for names that arrive
// already resolved as tokens (iter/handle bindings). It still participates
// in endScope's slot cleanup like any other local.
func (ac *ASTCompiler) declareHiddenLocal(name string) int {
	ac.declareLocal(name)
	ac.defineLocal()
	return int(ac.locals[len(ac.locals)-1].slot)
}

// compileStoreVariable emits the store instruction for whichever kind of
// variable `name` resolves to, assuming the value to store is already on
// top of the stack. Factored out of VisitAssignExpression so
// VisitCompoundAssign can reuse it after computing a binary op's result.
func (ac *ASTCompiler) compileStoreVariable(name token.Token) {
	identifier := name.Lexeme

	slotIndex := ac.resolveLocal(identifier)
	if slotIndex != -1 {
		ac.locals[slotIndex].initialized = true
		ac.emit(OP_SET_LOCAL, slotIndex)
		return
	}

	globalIndex := ac.resolveGlobal(identifier)
	if globalIndex == -1 {
		panic(SemanticError{
			Kind:    "UndefinedName",
			Message: fmt.Sprintf("name '%s' is not defined", identifier),
		})
	}
	ac.initialized[identifier] = true
	ac.emit(OP_SET_GLOBAL, globalIndex)
}

// emitCompoundOp emits the arithmetic instruction corresponding to a
// compound-assignment operator token (`+=`, `-=`, `*=`, `/=`, `%=`).
func (ac *ASTCompiler) emitCompoundOp(operator token.TokenType) {
	switch operator {
	case token.PLUS_ASSIGN:
		ac.emit(OP_ADD)
	case token.MINUS_ASSIGN:
		ac.emit(OP_SUBTRACT)
	case token.STAR_ASSIGN:
		ac.emit(OP_MULTIPLY)
	case token.SLASH_ASSIGN:
		ac.emit(OP_DIVIDE)
	case token.MOD_ASSIGN:
		ac.emit(OP_MODULO)
	default:
		panic(DeveloperError{Message: fmt.Sprintf("unsupported compound assignment operator: %v", operator)})
	}
}

// internString appends a string to the constants pool without emitting an
// OP_CONSTANT, for opcodes (OP_GET_MEMBER, OP_SET_MEMBER, OP_IMPORT_MODULE)
// whose operand is itself the constants-pool index of a name.
func (ac *ASTCompiler) internString(value string) int {
	ac.bytecode.ConstantsPool = append(ac.bytecode.ConstantsPool, value)
	return len(ac.bytecode.ConstantsPool) - 1
}

// addPatternConstant stores a match arm's pattern AST node directly in the
// constants pool, to be interpreted by the VM's OP_MATCH_PATTERN handler.
func (ac *ASTCompiler) addPatternConstant(pattern ast.Pattern) int {
	ac.bytecode.ConstantsPool = append(ac.bytecode.ConstantsPool, pattern)
	return len(ac.bytecode.ConstantsPool) - 1
}

// reserveTemps allocates n scratch slots for OP_STORE_TEMP/OP_LOAD_TEMP and
// returns the first one; the caller addresses the rest as base+1, base+2...
// Nested compound assignments (e.g. a[b[x] += 1] += 2) get disjoint ranges
// since tempBase is restored by the matching releaseTemps.
func (ac *ASTCompiler) reserveTemps(n int) int {
	base := int(ac.tempBase)
	ac.tempBase += uint16(n)
	return base
}

// releaseTemps frees n scratch slots previously returned by reserveTemps.
func (ac *ASTCompiler) releaseTemps(n int) {
	ac.tempBase -= uint16(n)
}

// bindDeclaration binds a module- or class-level declaration name (function,
// class) to whatever value pushValue puts on the stack, following the same
// global-vs-local placement rules as VisitVarStmt.
func (ac *ASTCompiler) bindDeclaration(name string, pushValue func()) {
	if ac.scopeDepth == 0 {
		index := ac.addNameConstant(name)
		pushValue()
		ac.emit(OP_SET_GLOBAL, index)
		ac.emit(OP_POP)
		ac.initialized[name] = true
		return
	}

	ac.declareLocal(name)
	pushValue()
	slot := ac.locals[len(ac.locals)-1].slot
	ac.emit(OP_SET_LOCAL, int(slot))
	ac.defineLocal()
}

// compileFunctionBody compiles a function/method body in its own isolated
// local-variable space (locals/scopeDepth/loopStack are saved and restored
// around the call), so a function's slot numbering always starts fresh at
// 0 regardless of where it's declared. The body is preceded by a guard jump
// so linear control flow at the declaration site skips over it, and the
// Start/End range returned points at the body's own instructions (after the
// guard jump and OP_BEGIN_FUNCTION marker, up to and including the implicit
// trailing return and OP_END_FUNCTION marker).
//
// Parameter values are not stored by emitted instructions: the calling
// convention places each argument directly into the new frame's slots
// 0..ParamCount-1 when OP_CALL sets up the frame. Closures over enclosing
// locals are not implemented; OP_GET_UPVALUE/OP_SET_UPVALUE are reserved for
// that future work.
func (ac *ASTCompiler) compileFunctionBody(params []ast.Param, body []ast.Stmt) (start int, end int) {
	jumpOverPos := ac.emitPlaceholderJump(OP_JUMP)

	savedLocals := ac.locals
	savedDepth := ac.scopeDepth
	savedLoopStack := ac.loopStack
	savedTempBase := ac.tempBase
	ac.locals = []Local{}
	ac.scopeDepth = 1
	ac.loopStack = nil
	ac.tempBase = 0

	ac.emit(OP_BEGIN_FUNCTION, len(params))
	start = len(ac.bytecode.Instructions)

	for _, param := range params {
		ac.declareLocal(param.Name.Lexeme)
		ac.defineLocal()
		slot := int(ac.locals[len(ac.locals)-1].slot)
		if param.Optional {
			ac.emit(OP_DEFINE_OPTIONAL_PARAM, slot)
			if param.Default != nil {
				param.Default.Accept(ac)
				ac.emit(OP_SET_DEFAULT_VALUE)
			}
		}
	}

	for _, stmt := range body {
		stmt.Accept(ac)
	}
	ac.addConstant(nil)
	ac.emit(OP_RETURN)
	ac.emit(OP_END_FUNCTION)
	end = len(ac.bytecode.Instructions)

	ac.locals = savedLocals
	ac.scopeDepth = savedDepth
	ac.loopStack = savedLoopStack
	ac.tempBase = savedTempBase

	ac.patchJump(jumpOverPos, len(ac.bytecode.Instructions))
	return start, end
}

// diassemble3ByteInstruction reads a 3-byte instruction starting at the instruction pointer(ip),
// in the bytecodes instruction array. IT interprets the final two bytes as a big-endian uint16 operand,
// and returns it along with the textual disassembly produced by DiassembleInstruction.
// A panic is raised if DiassembleInstruction returns an error.
func (ac *ASTCompiler) diassemble3ByteInstruction(ip int) (uint16, string) {
	offset := ip + 3
	instruction := ac.bytecode.Instructions[ip:offset]
	operand := binary.BigEndian.Uint16(instruction[OPCODE_TOTAL_BYTES:])
	dia, err := DiassembleInstruction(instruction)
	if err != nil {
		panic(err.Error())
	}

	return operand, dia
}
