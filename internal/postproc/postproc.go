// Package postproc implements the post-processor (C13): once every path
// has been walked and every semantic unit extracted, it merges
// multi-store dynamic writes, prunes redundant length-check guards, and
// collapses loop-repeated units, per spec.md §4.11.
package postproc

import (
	"strconv"
	"strings"

	"golang.org/x/exp/slices"

	"github.com/semunits/disco/internal/evmvar"
	"github.com/semunits/disco/internal/optree"
	"github.com/semunits/disco/internal/semantic"
)

// Process runs the full post-processing pipeline over every semantic unit
// extracted from a contract, in the order spec.md §4.11 lists its rules.
func Process(units []*semantic.SemanticUnit) []*semantic.SemanticUnit {
	units = mergeDynamicSSTOREs(units)
	units = dropLengthUpdates(units)
	units = pruneConditions(units)
	dedupGuards(units)
	units = collapseLoops(units)
	return units
}

// mergeDynamicSSTOREs implements the "dynamic-typed merges" and "type
// normalization" rules: SSTORE units that share the same base storage slot
// but were seen with more than one distinct key instantiation describe a
// mapping/array whose individual elements can't all be enumerated
// statically, so they collapse into one dynamic-typed unit. The `ADD(x,x)`
// idiom in the merged value — Solidity's "doubled" push encoding — is
// recognized and rewritten into a `BehaviorPush` whose lhs is the single
// appended element.
func mergeDynamicSSTOREs(units []*semantic.SemanticUnit) []*semantic.SemanticUnit {
	type group struct {
		index     int
		keySigs   map[string]bool
		members   []int // indices into units
	}
	groups := map[int]*group{}
	var order []int

	for i, u := range units {
		if u.Behavior.Kind != semantic.BehaviorSSTORE || u.Behavior.RHS == nil {
			continue
		}
		rhs := u.Behavior.RHS
		if rhs.Kind != evmvar.KindState || len(rhs.State.Keys) == 0 {
			continue
		}
		g, ok := groups[rhs.State.Index]
		if !ok {
			g = &group{index: rhs.State.Index, keySigs: map[string]bool{}}
			groups[rhs.State.Index] = g
			order = append(order, rhs.State.Index)
		}
		g.members = append(g.members, i)
		g.keySigs[keysSignature(rhs.State.Keys)] = true
	}

	drop := map[int]bool{}
	for _, idx := range order {
		g := groups[idx]
		if len(g.keySigs) < 2 {
			continue // a single key instantiation isn't a dynamic access pattern
		}
		rep := units[g.members[0]]
		rep.Behavior.RHS.State.Type.WidenToDynamic()

		belong := map[string]bool{}
		for _, m := range g.members {
			for f := range units[m].BelongFunctions {
				belong[f] = true
			}
			if m != g.members[0] {
				drop[m] = true
			}
		}
		rep.BelongFunctions = belong

		if len(rep.Behavior.LHS) == 1 {
			if x, ok := doubledOperand(rep.Behavior.LHS[0]); ok {
				rep.Behavior.Kind = semantic.BehaviorPush
				rep.Behavior.LHS = []*optree.Tree{x}
			}
		}
	}

	out := make([]*semantic.SemanticUnit, 0, len(units))
	for i, u := range units {
		if !drop[i] {
			out = append(out, u)
		}
	}
	return out
}

// keysSignature renders the canonical signature of a State's key list,
// used to tell distinct key instantiations of the same base slot apart.
func keysSignature(keys []evmvar.KeyTree) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k.StructuralString()
	}
	return strings.Join(parts, "|")
}

// doubledOperand recognizes `ADD(x, x)` (structurally identical operands)
// and returns the single operand it doubles.
func doubledOperand(t *optree.Tree) (*optree.Tree, bool) {
	if t == nil || t.Name != "ADD" || len(t.Sons) != 2 {
		return nil, false
	}
	if t.Sons[0].StructuralString() != t.Sons[1].StructuralString() {
		return nil, false
	}
	return t.Sons[0], true
}

// dropLengthUpdates implements the "length updates" rule: an SSTORE whose
// value tree is `OR(ADD(x,x), …)` — the canonical Solidity dynamic-array
// length increment wrapped in the packed-slot flag bits — is already
// covered by the merged PUSH unit and is removed.
func dropLengthUpdates(units []*semantic.SemanticUnit) []*semantic.SemanticUnit {
	out := units[:0:0]
	for _, u := range units {
		if u.Behavior.Kind == semantic.BehaviorSSTORE && isLengthIncrement(u.Behavior.LHS) {
			continue
		}
		out = append(out, u)
	}
	return out
}

func isLengthIncrement(lhs []*optree.Tree) bool {
	if len(lhs) == 0 {
		return false
	}
	t := lhs[0]
	if t.Name != "OR" {
		return false
	}
	for _, son := range t.Sons {
		if _, ok := doubledOperand(son); ok {
			return true
		}
	}
	return false
}

// pruneConditions implements "condition pruning": any condition whose
// state references are entirely covered by the behavior's own dynamic
// operands is a length/bounds check on the same access already captured
// by the behavior, and is dropped from the unit's condition list.
func pruneConditions(units []*semantic.SemanticUnit) []*semantic.SemanticUnit {
	for _, u := range units {
		dynamicRefs := behaviorDynamicRefs(u.Behavior)
		if len(dynamicRefs) == 0 {
			continue
		}
		kept := u.Conditions[:0:0]
		for _, c := range u.Conditions {
			if !conditionSubsetOf(c, dynamicRefs) {
				kept = append(kept, c)
			}
		}
		u.Conditions = kept
	}
	return units
}

// behaviorDynamicRefs collects the structural strings of every leaf in the
// behavior's lhs/rhs that names a dynamic-typed state.
func behaviorDynamicRefs(b semantic.Behavior) map[string]bool {
	refs := map[string]bool{}
	add := func(v *evmvar.Variable) {
		if v != nil && v.Kind == evmvar.KindState && v.State.Type.IsDynamic {
			refs[v.StructuralString()] = true
		}
	}
	add(b.RHS)
	for _, t := range b.LHS {
		if t.AliasState != nil {
			add(t.AliasState)
		}
	}
	return refs
}

// conditionSubsetOf reports whether every dynamic state leaf a condition's
// tree touches is already present in refs.
func conditionSubsetOf(c *semantic.Condition, refs map[string]bool) bool {
	if c.OpTree == nil {
		return false
	}
	found := false
	all := true
	var walk func(t *optree.Tree)
	walk = func(t *optree.Tree) {
		if t.AliasState != nil && t.AliasState.Kind == evmvar.KindState && t.AliasState.State.Type.IsDynamic {
			found = true
			if !refs[t.AliasState.StructuralString()] {
				all = false
			}
		}
		for _, s := range t.Sons {
			walk(s)
		}
	}
	walk(c.OpTree)
	return found && all
}

// dedupGuards implements "guard deduplication": within one unit's
// condition list, two conditions whose trees are structurally equal
// collapse to a single entry.
func dedupGuards(units []*semantic.SemanticUnit) {
	for _, u := range units {
		seen := map[string]bool{}
		kept := u.Conditions[:0:0]
		for _, c := range u.Conditions {
			key := ""
			if c.OpTree != nil {
				key = c.OpTree.StructuralString()
			}
			if seen[key] {
				continue
			}
			seen[key] = true
			kept = append(kept, c)
		}
		u.Conditions = kept
	}
}

// collapseLoops implements "loop collapse": semantic units whose behavior
// pc set AND rhs state are identical (the same store/call instruction
// writing the same field, witnessed once per loop iteration on a path
// that revisits the same block) are collapsed into a single
// representative with WithLoops set. Two units that merely share a pc set
// — e.g. two distinct packed fields written by the same SSTORE — are
// kept apart by folding the rhs's structural signature into the key,
// since they are different fields, not repeated iterations of one write.
func collapseLoops(units []*semantic.SemanticUnit) []*semantic.SemanticUnit {
	byPCs := map[string][]int{}
	var order []string
	for i, u := range units {
		key := pcSetKey(u.Behavior.BehaviorPCs) + "|" + rhsSignature(u.Behavior)
		if _, ok := byPCs[key]; !ok {
			order = append(order, key)
		}
		byPCs[key] = append(byPCs[key], i)
	}

	out := make([]*semantic.SemanticUnit, 0, len(units))
	for _, key := range order {
		members := byPCs[key]
		rep := units[members[0]]
		if len(members) > 1 {
			rep.WithLoops = true
			for _, m := range members[1:] {
				for f := range units[m].BelongFunctions {
					rep.BelongFunctions[f] = true
				}
			}
		}
		out = append(out, rep)
	}
	return out
}

// rhsSignature renders the structural signature of a behavior's rhs
// variable, or "" for behaviors with no rhs (CALL/CREATE family), so
// those still collapse purely on pc set as before.
func rhsSignature(b semantic.Behavior) string {
	if b.RHS == nil {
		return ""
	}
	return b.RHS.StructuralString()
}

// pcSetKey renders a pc list as an order-independent set key.
func pcSetKey(pcs []int) string {
	sorted := append([]int(nil), pcs...)
	slices.Sort(sorted)
	parts := make([]string, len(sorted))
	for i, pc := range sorted {
		parts[i] = strconv.Itoa(pc)
	}
	return strings.Join(parts, ",")
}
