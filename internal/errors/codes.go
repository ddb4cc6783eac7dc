package errors

// Error codes for the trace JIT IR layer.
//
// Error code ranges:
// E0001-E0099: Builder contract violations (caller bugs, abort the unit)
// E0100-E0199: IR script (asm) errors
// E0200-E0299: Graph checker failures
// W0001-W0099: Warnings

const (
	// E0001: popBlock with an empty emission context stack
	ErrorUnbalancedContext = "E0001"

	// E0002: emission context stack not empty when the pass completes
	ErrorContextLeak = "E0002"

	// E0003: startBlock on a block with no saved frame state
	ErrorUnreachableBlock = "E0003"

	// E0004: operand count does not match the opcode
	ErrorOperandCount = "E0004"

	// E0005: argument of the wrong kind passed to instruction construction
	ErrorBadArgument = "E0005"

	// E0006: instruction appended after a block-end instruction
	ErrorBlockTerminated = "E0006"

	// E0007: no block to emit into
	ErrorNoCurrentBlock = "E0007"

	// E0100: IR script syntax error
	ErrorScriptSyntax = "E0100"

	// E0101: reference to an undefined value name
	ErrorUndefinedValue = "E0101"

	// E0102: reference to an undefined block label
	ErrorUndefinedBlock = "E0102"

	// E0103: unknown opcode or type name
	ErrorUnknownName = "E0103"

	// E0200: instruction input does not dominate its use
	ErrorDominance = "E0200"

	// E0201: value produced by more than one instruction
	ErrorMultipleProducers = "E0201"

	// E0202: operand type not accepted by the opcode
	ErrorOperandType = "E0202"

	// E0203: block parameter count differs from an incoming edge
	ErrorLabelArity = "E0203"

	// E0204: block-end instruction not last, or more than one
	ErrorTerminatorPlacement = "E0204"

	// W0001: block skipped because no predecessor reached it
	WarningUnreachableBlock = "W0001"

	// W0002: pre-optimization stopped at the iteration bound
	WarningRewriteBound = "W0002"
)

// GetErrorDescription returns a human-readable description of the error code
func GetErrorDescription(code string) string {
	switch code {
	case ErrorUnbalancedContext:
		return "Emission context popped more times than pushed"
	case ErrorContextLeak:
		return "Emission context still pushed when the pass completed"
	case ErrorUnreachableBlock:
		return "Block started without incoming frame state"
	case ErrorOperandCount:
		return "Operand count does not match the opcode"
	case ErrorBadArgument:
		return "Invalid argument for instruction construction"
	case ErrorBlockTerminated:
		return "Instruction emitted after the block was terminated"
	case ErrorNoCurrentBlock:
		return "No block is active for emission"
	case ErrorScriptSyntax:
		return "IR script could not be parsed"
	case ErrorUndefinedValue:
		return "Value name is used before it is defined"
	case ErrorUndefinedBlock:
		return "Block label is not defined in the unit"
	case ErrorUnknownName:
		return "Unknown opcode or type"
	case ErrorDominance:
		return "Instruction input is not dominated by its definition"
	case ErrorMultipleProducers:
		return "Value has more than one producing instruction"
	case ErrorOperandType:
		return "Operand type is not accepted by the opcode"
	case ErrorLabelArity:
		return "Jump arguments do not match the target's block parameters"
	case ErrorTerminatorPlacement:
		return "Block-end instruction is misplaced"
	case WarningUnreachableBlock:
		return "Block is unreachable and was not built"
	case WarningRewriteBound:
		return "Pre-optimization rewrite limit reached"
	default:
		return "Unknown error code"
	}
}

// IsWarning returns true if the error code represents a warning rather than an error
func IsWarning(code string) bool {
	return len(code) > 0 && code[0] == 'W'
}

// GetErrorCategory returns the category of the error based on its code
func GetErrorCategory(code string) string {
	switch {
	case IsWarning(code):
		return "Warning"
	case code >= "E0001" && code < "E0100":
		return "Builder Contract"
	case code >= "E0100" && code < "E0200":
		return "IR Script"
	case code >= "E0200" && code < "E0300":
		return "Graph Check"
	default:
		return "Unknown"
	}
}
