package cfg

import "fmt"

// Opcode is a PHP VM opcode as recorded by the instrumented interpreter.
type Opcode uint8

// TargetPolicy describes whether a branch opcode must carry a target.
type TargetPolicy uint8

const (
	// TargetNone means the opcode never branches.
	TargetNone TargetPolicy = iota
	// TargetRequired means a branch node with this opcode must have a target.
	TargetRequired
	// TargetNullable means the target may be absent (e.g. the last CATCH).
	TargetNullable
	// TargetDynamic means the target is resolved at runtime and may be absent.
	TargetDynamic
)

func (p TargetPolicy) String() string {
	switch p {
	case TargetNone:
		return "none"
	case TargetRequired:
		return "required"
	case TargetNullable:
		return "nullable"
	case TargetDynamic:
		return "dynamic"
	default:
		return fmt.Sprintf("policy(%d)", uint8(p))
	}
}

// Opcodes with control-flow significance.
const (
	OpNop           Opcode = 0
	OpJmp           Opcode = 42
	OpJmpz          Opcode = 43
	OpJmpnz         Opcode = 44
	OpJmpznz        Opcode = 45
	OpJmpzEx        Opcode = 46
	OpJmpnzEx       Opcode = 47
	OpCase          Opcode = 48
	OpBrk           Opcode = 50
	OpCont          Opcode = 51
	OpDoFcall       Opcode = 60
	OpDoFcallByName Opcode = 61
	OpReturn        Opcode = 62
	OpNew           Opcode = 68
	OpIncludeOrEval Opcode = 73
	OpFeReset       Opcode = 77
	OpFeFetch       Opcode = 78
	OpExit          Opcode = 79
	OpGoto          Opcode = 100
	OpCatch         Opcode = 107
	OpThrow         Opcode = 108
	OpJmpSet        Opcode = 152
	OpJmpSetVar     Opcode = 158
	OpFastCall      Opcode = 162
	OpFastRet       Opcode = 163

	// MaxOpcode is the highest opcode the interpreter emits.
	MaxOpcode Opcode = 168
)

type opcodeInfo struct {
	name   string
	policy TargetPolicy
}

var opcodeTable = map[Opcode]opcodeInfo{
	OpNop:           {"NOP", TargetNone},
	OpJmp:           {"JMP", TargetRequired},
	OpJmpz:          {"JMPZ", TargetRequired},
	OpJmpnz:         {"JMPNZ", TargetRequired},
	OpJmpznz:        {"JMPZNZ", TargetRequired},
	OpJmpzEx:        {"JMPZ_EX", TargetRequired},
	OpJmpnzEx:       {"JMPNZ_EX", TargetRequired},
	OpCase:          {"CASE", TargetNone},
	OpBrk:           {"BRK", TargetDynamic},
	OpCont:          {"CONT", TargetDynamic},
	OpDoFcall:       {"DO_FCALL", TargetNone},
	OpDoFcallByName: {"DO_FCALL_BY_NAME", TargetNone},
	OpReturn:        {"RETURN", TargetNone},
	OpNew:           {"NEW", TargetNullable},
	OpIncludeOrEval: {"INCLUDE_OR_EVAL", TargetNone},
	OpFeReset:       {"FE_RESET", TargetRequired},
	OpFeFetch:       {"FE_FETCH", TargetRequired},
	OpExit:          {"EXIT", TargetNone},
	OpGoto:          {"GOTO", TargetRequired},
	OpCatch:         {"CATCH", TargetNullable},
	OpThrow:         {"THROW", TargetNone},
	OpJmpSet:        {"JMP_SET", TargetRequired},
	OpJmpSetVar:     {"JMP_SET_VAR", TargetRequired},
	OpFastCall:      {"FAST_CALL", TargetRequired},
	OpFastRet:       {"FAST_RET", TargetDynamic},
}

// Known reports whether the interpreter can emit this opcode.
func (op Opcode) Known() bool {
	return op <= MaxOpcode
}

// TargetPolicy returns the branch target policy for the opcode.
// Opcodes without control-flow significance report TargetNone.
func (op Opcode) TargetPolicy() TargetPolicy {
	return opcodeTable[op].policy
}

// IsUnconditional reports whether the opcode always transfers to its target.
func (op Opcode) IsUnconditional() bool {
	return op == OpJmp || op == OpGoto
}

// String returns the VM name of the opcode, or OP_<n> for opcodes that
// carry no control-flow meaning here.
func (op Opcode) String() string {
	if info, ok := opcodeTable[op]; ok {
		return info.name
	}
	return fmt.Sprintf("OP_%d", uint8(op))
}
