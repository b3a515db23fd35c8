package optree

import (
	"github.com/semunits/disco/internal/opcodes"
	"github.com/semunits/disco/internal/tac"
)

// OpIndex maps a Variable's name to the TAC op that produced it, letting
// Build follow "the unique definition site" (spec.md §4.5) without every
// caller threading the whole op stream through by hand.
type OpIndex map[string]*tac.Op

// NewOpIndex indexes every op with an LHS across a set of TAC ops
// (typically every op on one path, across all its blocks).
func NewOpIndex(ops []tac.Op) OpIndex {
	idx := make(OpIndex, len(ops))
	for i := range ops {
		if ops[i].LHS != nil {
			idx[ops[i].LHS.Name] = &ops[i]
		}
	}
	return idx
}

// namedLeafOps are opcodes whose defining variable becomes a named leaf
// rather than being recursed into: the destackifier already gave them a
// stable identity (CALLRETURN<n>@<pc>@<block>, NEWCONTRACT<n>@<pc>@<block>) that later phases key
// off of directly.
var namedLeafOps = map[opcodes.OpCode]bool{
	opcodes.CALL: true, opcodes.CALLCODE: true, opcodes.DELEGATECALL: true, opcodes.STATICCALL: true,
	opcodes.CREATE: true, opcodes.CREATE2: true,
}

// Build recursively constructs the expression tree rooted at v by
// following its unique TAC definition site, per spec.md §4.5. Arithmetic
// ops become interior nodes; CALL/CREATE-family results become named
// leaves so later phases (storage analysis, semantic extraction) can
// recognize their role without re-walking the TAC stream.
func Build(v *tac.Variable, idx OpIndex) *Tree {
	if v.Concrete {
		t := newLeaf("CONST")
		t.Concrete = true
		t.Value = v.Value
		return t
	}

	op, ok := idx[v.Name]
	if !ok {
		// No TAC op defines it: it's a root leaf (an argument load, a
		// property read with no further structure, or a variable from a
		// predecessor block not covered by this index).
		return newLeaf(v.Name)
	}

	if namedLeafOps[op.Opcode] {
		return newLeaf(v.Name)
	}

	if len(op.Args) == 0 {
		return newLeaf(mnemonicOf(op.Opcode))
	}

	sons := make([]*Tree, len(op.Args))
	for i, a := range op.Args {
		sons[i] = Build(a, idx)
	}
	return newNode(mnemonicOf(op.Opcode), sons...)
}

func mnemonicOf(op opcodes.OpCode) string {
	if op == opcodes.OpCode(tac.PseudoCONST) {
		return "CONST"
	}
	return op.String()
}
