package compiler

import (
	"encoding/binary"
	"fmt"
)

// Bytecode is the artifact produced by the compiler and consumed by the VM:
// a linear instruction stream plus the constant/name/function/class side
// tables referenced by instruction operands.
//
// Fields:
//   - Instructions: an array of instructions defined by opcodes and their operands.
//   - ConstantsPool: the literal values (numbers, strings, booleans) from the source.
//   - NameConstants: global variable/function/class names, addressed by
//     OP_GET_GLOBAL/OP_SET_GLOBAL's operand.
//   - Functions: one record per compiled function, indexed by the function
//     value the callee holds (OP_CALL's operand is the argument count).
//   - Classes: one record per compiled class, indexed by OP_BEGIN_CLASS's operand.
type Bytecode struct {
	Instructions  Instructions
	ConstantsPool []any
	NameConstants []string
	Functions     []FunctionRecord
	Classes       []ClassRecord
	Handlers      []HandlerRecord
}

// HandlerRecord maps a protected instruction range (an attempt block) to one
// of its handle clauses. When a throw unwinds past TryEnd without being
// caught, the VM scans for the first record whose [TryStart, TryEnd) range
// contains the faulting instruction and whose ErrorKind matches (or is
// empty, meaning catch-all), then resumes execution at HandlerStart.
type HandlerRecord struct {
	TryStart, TryEnd         int
	HandlerStart, HandlerEnd int
	ErrorKind                string
}

// FunctionRecord describes a compiled function's calling convention and the
// bytecode range implementing its body.
type FunctionRecord struct {
	Name               string
	ParamCount         int
	OptionalParamCount int
	Start              int
	End                int
	ErrorKinds         []string
	GenericError       bool
}

// ClassRecord describes a compiled class's field layout and method table.
type ClassRecord struct {
	Name       string
	Super      string
	FieldNames []string
	Methods    map[string]int // method name -> index into Functions
}

type Opcode byte

type Instructions []byte

// OPCODE_TOTAL_BYTES is the width, in bytes, of an opcode tag itself (every
// instruction starts with exactly one opcode byte).
const OPCODE_TOTAL_BYTES = 1

// THREE_BYTE_INSTRUCTION_LENGTH is the total width of an instruction
// carrying a single 2-byte operand: 1 opcode byte + 2 operand bytes.
const THREE_BYTE_INSTRUCTION_LENGTH = 3

// opcodes
// iota generates a distinct byte for each bytecode. Every opcode with an
// operand uses a single 2-byte (uint16) operand, restricting a program to
// 65535 entries in any one pool/table. This is not a hard constraint and
// could be widened to uint32 if a program ever needs more.
const (
	// stack manipulation
	OP_CONSTANT Opcode = iota
	OP_POP
	OP_NULL
	OP_TRUE
	OP_FALSE

	// arithmetic / comparison / logic
	OP_ADD
	OP_SUBTRACT
	OP_MULTIPLY
	OP_DIVIDE
	OP_MODULO
	OP_POWER
	OP_NEGATE
	OP_NOT
	OP_EQUALITY
	OP_NOT_EQUAL
	OP_LARGER
	OP_LARGER_EQUAL
	OP_LESS
	OP_LESS_EQUAL
	OP_AND
	OP_OR

	// variables / temps
	OP_GET_GLOBAL
	OP_SET_GLOBAL
	OP_GET_LOCAL
	OP_SET_LOCAL
	OP_DEFINE_LOCAL
	OP_SCOPE_EXIT
	OP_STORE_TEMP
	OP_LOAD_TEMP
	OP_CLEAR_TEMP

	// control flow
	OP_JUMP
	OP_JUMP_IF_FALSE
	OP_LOOP
	OP_END

	// collections
	OP_CREATE_LIST
	OP_CREATE_DICT
	OP_GET_INDEX
	OP_SET_INDEX
	OP_APPEND
	OP_LEN
	OP_CREATE_RANGE

	// iterator protocol
	OP_GET_ITERATOR
	OP_ITERATOR_HAS_NEXT
	OP_ITERATOR_NEXT
	OP_ITERATOR_NEXT_KEY_VALUE

	// functions
	OP_BEGIN_FUNCTION
	OP_END_FUNCTION
	OP_DEFINE_OPTIONAL_PARAM
	OP_SET_DEFAULT_VALUE
	OP_CALL
	OP_RETURN
	OP_CLOSURE
	OP_GET_UPVALUE
	OP_SET_UPVALUE

	// classes
	OP_BEGIN_CLASS
	OP_END_CLASS
	OP_GET_MEMBER
	OP_SET_MEMBER
	OP_GET_THIS
	OP_NEW_INSTANCE

	// error unions / propagation
	OP_MAKE_OK
	OP_MAKE_ERR
	OP_UNWRAP_OR_RETURN
	OP_UNWRAP_OR_ELSE

	// attempt/handle
	OP_BEGIN_TRY
	OP_END_TRY
	OP_END_HANDLER
	OP_THROW

	// pattern matching
	OP_MATCH_PATTERN

	// concurrency block delimiters
	OP_BEGIN_PARALLEL
	OP_END_PARALLEL
	OP_BEGIN_CONCURRENT
	OP_END_CONCURRENT
	OP_TASK
	OP_AWAIT
	OP_SLEEP
	OP_CHANNEL_SEND
	OP_CHANNEL_RECEIVE
	OP_CHANNEL_CLOSE
	OP_ATOMIC_FETCH_ADD
	OP_ATOMIC_FETCH_SUB
	OP_ATOMIC_COMPARE_EXCHANGE
	OP_MAKE_CHANNEL
	OP_MAKE_ATOMIC

	// module system
	OP_IMPORT_MODULE
	OP_EXPORT

	// I/O
	OP_PRINT
)

// OpCodeDefinition describes the human-readable name of an opcode and the
// byte width of each of its operands.
//
// Fields:
//   - Name: the human-readable name for the opcode e.g "OP_CONSTANT".
//   - OperandWidths: the number of bytes each operand takes up.
type OpCodeDefinition struct {
	Name          string
	OperandWidths []int
}

func noOperand(name string) *OpCodeDefinition {
	return &OpCodeDefinition{Name: name, OperandWidths: []int{}}
}

func oneOperand(name string) *OpCodeDefinition {
	return &OpCodeDefinition{Name: name, OperandWidths: []int{2}}
}

var definitions = map[Opcode]*OpCodeDefinition{
	OP_CONSTANT: oneOperand("OP_CONSTANT"),
	OP_POP:      noOperand("OP_POP"),
	OP_NULL:     noOperand("OP_NULL"),
	OP_TRUE:     noOperand("OP_TRUE"),
	OP_FALSE:    noOperand("OP_FALSE"),

	OP_ADD:          noOperand("OP_ADD"),
	OP_SUBTRACT:     noOperand("OP_SUBTRACT"),
	OP_MULTIPLY:     noOperand("OP_MULTIPLY"),
	OP_DIVIDE:       noOperand("OP_DIVIDE"),
	OP_MODULO:       noOperand("OP_MODULO"),
	OP_POWER:        noOperand("OP_POWER"),
	OP_NEGATE:       noOperand("OP_NEGATE"),
	OP_NOT:          noOperand("OP_NOT"),
	OP_EQUALITY:     noOperand("OP_EQUALITY"),
	OP_NOT_EQUAL:    noOperand("OP_NOT_EQUAL"),
	OP_LARGER:       noOperand("OP_LARGER"),
	OP_LARGER_EQUAL: noOperand("OP_LARGER_EQUAL"),
	OP_LESS:         noOperand("OP_LESS"),
	OP_LESS_EQUAL:   noOperand("OP_LESS_EQUAL"),
	OP_AND:          noOperand("OP_AND"),
	OP_OR:           noOperand("OP_OR"),

	OP_GET_GLOBAL: oneOperand("OP_GET_GLOBAL"),
	OP_SET_GLOBAL: oneOperand("OP_SET_GLOBAL"),
	OP_GET_LOCAL:    oneOperand("OP_GET_LOCAL"),
	OP_SET_LOCAL:    oneOperand("OP_SET_LOCAL"),
	OP_DEFINE_LOCAL: oneOperand("OP_DEFINE_LOCAL"),
	OP_SCOPE_EXIT:   oneOperand("OP_SCOPE_EXIT"),
	OP_STORE_TEMP: oneOperand("OP_STORE_TEMP"),
	OP_LOAD_TEMP:  oneOperand("OP_LOAD_TEMP"),
	OP_CLEAR_TEMP: oneOperand("OP_CLEAR_TEMP"),

	OP_JUMP:          oneOperand("OP_JUMP"),
	OP_JUMP_IF_FALSE: oneOperand("OP_JUMP_IF_FALSE"),
	OP_LOOP:          oneOperand("OP_LOOP"),
	OP_END:           noOperand("OP_END"),

	OP_CREATE_LIST:  oneOperand("OP_CREATE_LIST"),
	OP_CREATE_DICT:  oneOperand("OP_CREATE_DICT"),
	OP_GET_INDEX:    noOperand("OP_GET_INDEX"),
	OP_SET_INDEX:    noOperand("OP_SET_INDEX"),
	OP_APPEND:       noOperand("OP_APPEND"),
	OP_LEN:          noOperand("OP_LEN"),
	OP_CREATE_RANGE: oneOperand("OP_CREATE_RANGE"),

	OP_GET_ITERATOR:            noOperand("OP_GET_ITERATOR"),
	OP_ITERATOR_HAS_NEXT:       noOperand("OP_ITERATOR_HAS_NEXT"),
	OP_ITERATOR_NEXT:           noOperand("OP_ITERATOR_NEXT"),
	OP_ITERATOR_NEXT_KEY_VALUE: noOperand("OP_ITERATOR_NEXT_KEY_VALUE"),

	OP_BEGIN_FUNCTION:        oneOperand("OP_BEGIN_FUNCTION"),
	OP_END_FUNCTION:          noOperand("OP_END_FUNCTION"),
	OP_DEFINE_OPTIONAL_PARAM: oneOperand("OP_DEFINE_OPTIONAL_PARAM"),
	OP_SET_DEFAULT_VALUE:     noOperand("OP_SET_DEFAULT_VALUE"),
	OP_CALL:                  oneOperand("OP_CALL"),
	OP_RETURN:                noOperand("OP_RETURN"),
	OP_CLOSURE:               oneOperand("OP_CLOSURE"),
	OP_GET_UPVALUE:           oneOperand("OP_GET_UPVALUE"),
	OP_SET_UPVALUE:           oneOperand("OP_SET_UPVALUE"),

	OP_BEGIN_CLASS:  oneOperand("OP_BEGIN_CLASS"),
	OP_END_CLASS:    noOperand("OP_END_CLASS"),
	OP_GET_MEMBER:   oneOperand("OP_GET_MEMBER"),
	OP_SET_MEMBER:   oneOperand("OP_SET_MEMBER"),
	OP_GET_THIS:     noOperand("OP_GET_THIS"),
	OP_NEW_INSTANCE: oneOperand("OP_NEW_INSTANCE"),

	OP_MAKE_OK:          noOperand("OP_MAKE_OK"),
	OP_MAKE_ERR:         oneOperand("OP_MAKE_ERR"),
	OP_UNWRAP_OR_RETURN: noOperand("OP_UNWRAP_OR_RETURN"),
	OP_UNWRAP_OR_ELSE:   oneOperand("OP_UNWRAP_OR_ELSE"),

	OP_BEGIN_TRY:   oneOperand("OP_BEGIN_TRY"),
	OP_END_TRY:     oneOperand("OP_END_TRY"),
	OP_END_HANDLER: noOperand("OP_END_HANDLER"),
	OP_THROW:       noOperand("OP_THROW"),

	OP_MATCH_PATTERN: oneOperand("OP_MATCH_PATTERN"),

	OP_BEGIN_PARALLEL:          oneOperand("OP_BEGIN_PARALLEL"),
	OP_END_PARALLEL:            noOperand("OP_END_PARALLEL"),
	OP_BEGIN_CONCURRENT:        oneOperand("OP_BEGIN_CONCURRENT"),
	OP_END_CONCURRENT:          noOperand("OP_END_CONCURRENT"),
	OP_TASK:                    noOperand("OP_TASK"),
	OP_AWAIT:                   noOperand("OP_AWAIT"),
	OP_SLEEP:                   noOperand("OP_SLEEP"),
	OP_CHANNEL_SEND:            noOperand("OP_CHANNEL_SEND"),
	OP_CHANNEL_RECEIVE:         noOperand("OP_CHANNEL_RECEIVE"),
	OP_CHANNEL_CLOSE:           noOperand("OP_CHANNEL_CLOSE"),
	OP_ATOMIC_FETCH_ADD:        noOperand("OP_ATOMIC_FETCH_ADD"),
	OP_ATOMIC_FETCH_SUB:        noOperand("OP_ATOMIC_FETCH_SUB"),
	OP_ATOMIC_COMPARE_EXCHANGE: noOperand("OP_ATOMIC_COMPARE_EXCHANGE"),
	OP_MAKE_CHANNEL:            noOperand("OP_MAKE_CHANNEL"),
	OP_MAKE_ATOMIC:             noOperand("OP_MAKE_ATOMIC"),

	OP_IMPORT_MODULE: oneOperand("OP_IMPORT_MODULE"),
	OP_EXPORT:        oneOperand("OP_EXPORT"),

	OP_PRINT: oneOperand("OP_PRINT"),
}

func Get(op Opcode) (*OpCodeDefinition, error) {
	def, ok := definitions[op]
	if !ok {
		return nil, fmt.Errorf("opcode: '%d' undefined", op)
	}
	return def, nil
}

// MakeInstruction constructs a bytecode instruction from an opcode and its
// operands, Big-Endian encoded. Returns an empty slice if the opcode is not
// recognized. Kept alongside AssembleInstruction (which returns an error
// instead) for callers that don't need to distinguish the failure.
func MakeInstruction(op Opcode, operands ...int) []byte {
	instruction, err := AssembleInstruction(op, operands...)
	if err != nil {
		return []byte{}
	}
	return instruction
}

// AssembleInstruction constructs a bytecode instruction from an opcode and
// its operands.
//
// The resulting byte slice always begins with the opcode, followed by each
// operand encoded according to its defined width in Big-Endian order. This
// means that each `uint16` operand will be encoded with the two bytes stored
// with the most significant byte first, followed by the least significant
// byte. For example, the instruction for OP_CONSTANT with operand 65000
// would be: [0, 253, 232].
func AssembleInstruction(op Opcode, operands ...int) ([]byte, error) {
	def, err := Get(op)
	if err != nil {
		return nil, DeveloperError{Message: err.Error()}
	}

	byteOffset := OPCODE_TOTAL_BYTES
	instructionLength := byteOffset
	for _, width := range def.OperandWidths {
		instructionLength += width
	}

	instruction := make([]byte, instructionLength)
	instruction[0] = byte(op)

	for i, operand := range operands {
		if i >= len(def.OperandWidths) {
			return nil, DeveloperError{Message: fmt.Sprintf("%s: too many operands supplied", def.Name)}
		}
		width := def.OperandWidths[i]
		switch width {
		case 2:
			binary.BigEndian.PutUint16(instruction[byteOffset:], uint16(operand))
		}
		byteOffset += width
	}
	return instruction, nil
}

// DiassembleInstruction renders a single instruction as
// "opcode: NAME, operand: VALUE|None, operand widths: N bytes". It does not
// resolve pool/global indices to the values they point at; callers with
// access to the surrounding Bytecode (e.g. ASTCompiler.DiassembleBytecode)
// append that themselves.
func DiassembleInstruction(instruction []byte) (string, error) {
	if len(instruction) == 0 {
		return "", DeveloperError{Message: "cannot disassemble an empty instruction"}
	}
	op := Opcode(instruction[0])
	def, err := Get(op)
	if err != nil {
		return "", DeveloperError{Message: err.Error()}
	}

	totalWidth := 0
	for _, width := range def.OperandWidths {
		totalWidth += width
	}

	operandText := "None"
	if totalWidth > 0 && len(instruction) >= OPCODE_TOTAL_BYTES+totalWidth {
		switch totalWidth {
		case 2:
			operandText = fmt.Sprintf("%d", binary.BigEndian.Uint16(instruction[OPCODE_TOTAL_BYTES:]))
		}
	}

	return fmt.Sprintf("opcode: %s, operand: %s, operand widths: %d bytes", def.Name, operandText, totalWidth), nil
}
