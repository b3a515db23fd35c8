// Package semantic implements the semantic unit extractor (C9): it walks
// one path's blocks in order, tracking a condition stack and emitting
// SemanticUnits for each externally-observable Behavior (SSTORE, CALL
// family, CREATE family, SELFDESTRUCT).
package semantic

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bits-and-blooms/bitset"

	"github.com/semunits/disco/internal/evmvar"
	"github.com/semunits/disco/internal/optree"
)

// BehaviorKind tags the externally-observable effect a Behavior records.
type BehaviorKind int

const (
	BehaviorSSTORE BehaviorKind = iota
	BehaviorPush // dynamic array append, recognized by the post-processor
	BehaviorCreate
	BehaviorCreate2
	BehaviorCall
	BehaviorCallcode
	BehaviorDelegatecall
	BehaviorStaticcall
	BehaviorSelfdestruct
)

func (k BehaviorKind) String() string {
	switch k {
	case BehaviorSSTORE:
		return "SSTORE"
	case BehaviorPush:
		return "PUSH"
	case BehaviorCreate:
		return "CREATE"
	case BehaviorCreate2:
		return "CREATE2"
	case BehaviorCall:
		return "CALL"
	case BehaviorCallcode:
		return "CALLCODE"
	case BehaviorDelegatecall:
		return "DELEGATECALL"
	case BehaviorStaticcall:
		return "STATICCALL"
	case BehaviorSelfdestruct:
		return "SELFDESTRUCT"
	default:
		return "UNKNOWN"
	}
}

// Behavior is one externally-observable effect, per spec.md §3.
type Behavior struct {
	RHS         *evmvar.Variable
	LHS         []*optree.Tree
	Kind        BehaviorKind
	BehaviorPCs []int
	BlockIdent  int
}

func (b Behavior) structuralString() string {
	parts := make([]string, len(b.LHS))
	for i, t := range b.LHS {
		parts[i] = t.StructuralString()
	}
	rhs := "<nil>"
	if b.RHS != nil {
		rhs = b.RHS.StructuralString()
	}
	return fmt.Sprintf("%s(rhs=%s,lhs=[%s])", b.Kind, rhs, strings.Join(parts, ","))
}

// Condition is a guarded predicate attached to a block, per spec.md §3.
type Condition struct {
	ID          int
	OpTree      *optree.Tree
	ConditionPC int
	DstVar      string
	CondVar     string
	CStates     *bitset.BitSet
	BlockIdent  int
}

// SemanticUnit is the unit of output: a snapshot of active conditions plus
// one Behavior plus the set of functions the containing path belongs to.
type SemanticUnit struct {
	Conditions      []*Condition
	Behavior        Behavior
	BelongFunctions map[string]bool

	// WithLoops is set by the post-processor (C13) when this unit is the
	// collapsed representative of several occurrences with an identical
	// behavior pc set and an identical rhs, discovered across different
	// loop iterations of the same path.
	WithLoops bool
}

// Hash renders the structural-hash equality key spec.md §3/§8 require:
// two SemanticUnits with the same rendered textual form are the same unit.
func (u *SemanticUnit) Hash() string {
	condStrs := make([]string, len(u.Conditions))
	for i, c := range u.Conditions {
		condStrs[i] = c.OpTree.StructuralString()
	}
	sort.Strings(condStrs)
	return fmt.Sprintf("SU(conds=[%s],behavior=%s)", strings.Join(condStrs, ","), u.Behavior.structuralString())
}
