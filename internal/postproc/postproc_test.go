package postproc

import (
	"testing"

	"github.com/semunits/disco/internal/evmvar"
	"github.com/semunits/disco/internal/optree"
	"github.com/semunits/disco/internal/semantic"
)

func stateVar(index int, keys ...evmvar.KeyTree) *evmvar.Variable {
	return evmvar.NewState(&evmvar.State{Index: index, Keys: keys})
}

type fakeKey string

func (k fakeKey) StructuralString() string { return string(k) }

func TestMergeDynamicSSTOREs_DistinctKeys_MergeAndWiden(t *testing.T) {
	rhs0 := stateVar(3, fakeKey("0"))
	rhs1 := stateVar(3, fakeKey("1"))

	units := []*semantic.SemanticUnit{
		{Behavior: semantic.Behavior{Kind: semantic.BehaviorSSTORE, RHS: rhs0, LHS: []*optree.Tree{{Name: "v0"}}}, BelongFunctions: map[string]bool{"0xaa": true}},
		{Behavior: semantic.Behavior{Kind: semantic.BehaviorSSTORE, RHS: rhs1, LHS: []*optree.Tree{{Name: "v1"}}}, BelongFunctions: map[string]bool{"0xbb": true}},
	}

	out := mergeDynamicSSTOREs(units)
	if len(out) != 1 {
		t.Fatalf("expected 1 merged unit, got %d", len(out))
	}
	if !out[0].Behavior.RHS.State.Type.IsDynamic {
		t.Errorf("expected RHS widened to dynamic")
	}
	if !out[0].BelongFunctions["0xaa"] || !out[0].BelongFunctions["0xbb"] {
		t.Errorf("expected belong_functions unioned, got %+v", out[0].BelongFunctions)
	}
}

func TestMergeDynamicSSTOREs_SingleKey_NotMerged(t *testing.T) {
	rhs := stateVar(3, fakeKey("0"))
	units := []*semantic.SemanticUnit{
		{Behavior: semantic.Behavior{Kind: semantic.BehaviorSSTORE, RHS: rhs, LHS: []*optree.Tree{{Name: "v0"}}}, BelongFunctions: map[string]bool{}},
	}
	out := mergeDynamicSSTOREs(units)
	if len(out) != 1 {
		t.Fatalf("expected unit preserved, got %d", len(out))
	}
	if out[0].Behavior.RHS.State.Type.IsDynamic {
		t.Errorf("expected type left untouched with only one key instantiation")
	}
}

func TestMergeDynamicSSTOREs_DoubledOperand_BecomesPush(t *testing.T) {
	rhs0 := stateVar(3, fakeKey("0"))
	rhs1 := stateVar(3, fakeKey("1"))
	elem := &optree.Tree{Name: "elem"}
	doubled := &optree.Tree{Name: "ADD", Sons: []*optree.Tree{elem, elem}}

	units := []*semantic.SemanticUnit{
		{Behavior: semantic.Behavior{Kind: semantic.BehaviorSSTORE, RHS: rhs0, LHS: []*optree.Tree{doubled}}, BelongFunctions: map[string]bool{}},
		{Behavior: semantic.Behavior{Kind: semantic.BehaviorSSTORE, RHS: rhs1, LHS: []*optree.Tree{{Name: "v1"}}}, BelongFunctions: map[string]bool{}},
	}

	out := mergeDynamicSSTOREs(units)
	if out[0].Behavior.Kind != semantic.BehaviorPush {
		t.Errorf("expected behavior rewritten to PUSH, got %v", out[0].Behavior.Kind)
	}
	if len(out[0].Behavior.LHS) != 1 || out[0].Behavior.LHS[0] != elem {
		t.Errorf("expected lhs rewritten to the single appended element")
	}
}

func TestDropLengthUpdates_ORDoubled_Dropped(t *testing.T) {
	elem := &optree.Tree{Name: "len"}
	doubled := &optree.Tree{Name: "ADD", Sons: []*optree.Tree{elem, elem}}
	orTree := &optree.Tree{Name: "OR", Sons: []*optree.Tree{doubled, {Name: "flag"}}}

	units := []*semantic.SemanticUnit{
		{Behavior: semantic.Behavior{Kind: semantic.BehaviorSSTORE, LHS: []*optree.Tree{orTree}}},
		{Behavior: semantic.Behavior{Kind: semantic.BehaviorSSTORE, LHS: []*optree.Tree{{Name: "other"}}}},
	}

	out := dropLengthUpdates(units)
	if len(out) != 1 {
		t.Fatalf("expected length-increment store dropped, got %d units", len(out))
	}
}

func TestPruneConditions_DynamicSubset_Dropped(t *testing.T) {
	st := &evmvar.State{Index: 1, Type: evmvar.Type{IsDynamic: true}}
	v := evmvar.NewState(st)
	leaf := &optree.Tree{Name: "SLOAD", AliasState: v}
	cond := &semantic.Condition{OpTree: &optree.Tree{Name: "LT", Sons: []*optree.Tree{leaf, {Name: "c"}}}}

	unit := &semantic.SemanticUnit{
		Conditions: []*semantic.Condition{cond},
		Behavior:   semantic.Behavior{Kind: semantic.BehaviorSSTORE, RHS: v},
	}

	out := pruneConditions([]*semantic.SemanticUnit{unit})
	if len(out[0].Conditions) != 0 {
		t.Errorf("expected condition referencing only the dynamic rhs to be pruned, got %d remaining", len(out[0].Conditions))
	}
}

func TestDedupGuards_StructurallyEqualConditions_Collapse(t *testing.T) {
	c1 := &semantic.Condition{OpTree: &optree.Tree{Name: "EQ", Sons: []*optree.Tree{{Name: "a"}, {Name: "b"}}}}
	c2 := &semantic.Condition{OpTree: &optree.Tree{Name: "EQ", Sons: []*optree.Tree{{Name: "a"}, {Name: "b"}}}}

	unit := &semantic.SemanticUnit{Conditions: []*semantic.Condition{c1, c2}}
	dedupGuards([]*semantic.SemanticUnit{unit})

	if len(unit.Conditions) != 1 {
		t.Errorf("expected structurally equal conditions collapsed, got %d", len(unit.Conditions))
	}
}

func TestCollapseLoops_IdenticalPCSet_CollapsesWithFlag(t *testing.T) {
	units := []*semantic.SemanticUnit{
		{Behavior: semantic.Behavior{BehaviorPCs: []int{10, 11}}, BelongFunctions: map[string]bool{"0xaa": true}},
		{Behavior: semantic.Behavior{BehaviorPCs: []int{11, 10}}, BelongFunctions: map[string]bool{"0xbb": true}},
		{Behavior: semantic.Behavior{BehaviorPCs: []int{99}}, BelongFunctions: map[string]bool{"0xcc": true}},
	}

	out := collapseLoops(units)
	if len(out) != 2 {
		t.Fatalf("expected 2 units after collapse, got %d", len(out))
	}
	if !out[0].WithLoops {
		t.Errorf("expected the repeated-pc-set unit to be marked with_loops")
	}
	if out[1].WithLoops {
		t.Errorf("expected the unique-pc-set unit to remain unmarked")
	}
}

// TestCollapseLoops_SamePCDistinctRHS_NotCollapsed reproduces spec.md §8
// scenario 4: two packed fields written by the very same SSTORE
// instruction share one BehaviorPCs entry but are distinct fields (here,
// offset 0 vs offset 16 of the same slot) and must survive as two units,
// not collapse into one the way true repeated-iteration duplicates do.
func TestCollapseLoops_SamePCDistinctRHS_NotCollapsed(t *testing.T) {
	lowField := stateVar(5)
	lowField.State.Offset, lowField.State.Length = 0, 16
	highField := stateVar(5)
	highField.State.Offset, highField.State.Length = 16, 16

	units := []*semantic.SemanticUnit{
		{Behavior: semantic.Behavior{Kind: semantic.BehaviorSSTORE, RHS: lowField, BehaviorPCs: []int{42}}, BelongFunctions: map[string]bool{"0xaa": true}},
		{Behavior: semantic.Behavior{Kind: semantic.BehaviorSSTORE, RHS: highField, BehaviorPCs: []int{42}}, BelongFunctions: map[string]bool{"0xaa": true}},
	}

	out := collapseLoops(units)
	if len(out) != 2 {
		t.Fatalf("expected 2 distinct packed-field units to survive, got %d", len(out))
	}
	if out[0].WithLoops || out[1].WithLoops {
		t.Errorf("expected neither unit marked with_loops; they are distinct fields, not loop repeats")
	}
}

// TestCollapseLoops_SamePCSameRHS_StillCollapses guards against the fix
// over-correcting: true loop-repeated writes to the identical field at
// the identical pc set must still collapse.
func TestCollapseLoops_SamePCSameRHS_StillCollapses(t *testing.T) {
	field1 := stateVar(5)
	field1.State.Offset, field1.State.Length = 0, 32
	field2 := stateVar(5)
	field2.State.Offset, field2.State.Length = 0, 32

	units := []*semantic.SemanticUnit{
		{Behavior: semantic.Behavior{Kind: semantic.BehaviorSSTORE, RHS: field1, BehaviorPCs: []int{42}}, BelongFunctions: map[string]bool{"0xaa": true}},
		{Behavior: semantic.Behavior{Kind: semantic.BehaviorSSTORE, RHS: field2, BehaviorPCs: []int{42}}, BelongFunctions: map[string]bool{"0xbb": true}},
	}

	out := collapseLoops(units)
	if len(out) != 1 {
		t.Fatalf("expected identical repeated writes to collapse, got %d", len(out))
	}
	if !out[0].WithLoops {
		t.Errorf("expected collapsed unit marked with_loops")
	}
	if !out[0].BelongFunctions["0xaa"] || !out[0].BelongFunctions["0xbb"] {
		t.Errorf("expected belong_functions unioned across collapsed iterations, got %+v", out[0].BelongFunctions)
	}
}
