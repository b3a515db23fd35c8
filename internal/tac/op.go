package tac

import "github.com/semunits/disco/internal/opcodes"

// Op is a single three-address instruction: an opcode applied to Args,
// optionally producing a value bound to LHS.
type Op struct {
	Opcode opcodes.OpCode
	Args   []*Variable
	PC     int
	Block  int
	// LocationIndex is this op's position within the per-path TAC stream,
	// used by C8 to compute SSA generation counts.
	LocationIndex int
	LHS           *Variable
}

// PseudoLOG, PseudoCONST etc. are not real EVM opcodes; they label the
// canonical TAC ops the destackifier emits for LOGn and PUSH_n so callers
// don't need to special-case opcode ranges downstream.
const (
	pseudoBase   = opcodes.MISSING + 1
	PseudoCONST  = pseudoBase
	PseudoLOG    = pseudoBase + 1
	PseudoMSTORE = pseudoBase + 2
)
