package storage

import (
	"github.com/holiman/uint256"

	"github.com/semunits/disco/internal/evmvar"
	"github.com/semunits/disco/internal/optree"
)

// PackedUpdate is one recovered (state, new_value) pair out of an SSTORE,
// per spec.md §4.6. Value is nil for the "clear this field" case, in which
// callers should treat the write as assigning the constant 0.
type PackedUpdate struct {
	State *evmvar.State
	Value *optree.Tree
}

// AnalyzeSSTORE recognizes the masked-OR packed-write pattern
// OR(AND(SLOAD(slot), keep_mask), MUL(new_value, shift)), in either
// operand order and possibly nested to represent multiple packed field
// updates landing in one SSTORE. valueTree is the tree rooted at the
// value argument being stored; slotExpr is the tree rooted at the slot
// being written to.
func (a *Analyzer) AnalyzeSSTORE(slotExpr *optree.Tree, valueTree *optree.Tree) ([]PackedUpdate, error) {
	bw, err := a.analyzeBackward(slotExpr)
	if err != nil {
		return nil, err
	}

	// AND(SLOAD, mask) with no surrounding OR clears exactly one field.
	if valueTree.Name == "AND" && len(valueTree.Sons) == 2 {
		if sloadSide, maskSide, ok := splitSloadMask(valueTree); ok {
			_ = sloadSide
			offset, length := maskToOffsetLength(maskSide)
			st := a.canonicalize(stateFromBackward(bw, offset, length))
			return []PackedUpdate{{State: st, Value: nil}}, nil
		}
	}

	if valueTree.Name != "OR" {
		// No OR at all: overwrite the whole slot.
		st := a.canonicalize(stateFromBackward(bw, 0, 32))
		return []PackedUpdate{{State: st, Value: valueTree}}, nil
	}

	leaves := flattenOR(valueTree)
	var updates []PackedUpdate
	for _, leaf := range leaves {
		if _, _, ok := splitSloadMask(leaf); ok {
			// The "preserve the rest of the slot" component; not itself
			// a distinct field update.
			continue
		}
		value, shift := splitMulShift(leaf)
		offset := 0
		if shift != nil {
			offset = log2Floor(shift) / 8
		}
		st := a.canonicalize(stateFromBackward(bw, offset, 32-offset))
		updates = append(updates, PackedUpdate{State: st, Value: value})
	}
	return updates, nil
}

func stateFromBackward(bw backward, offset, length int) *evmvar.State {
	st := &evmvar.State{Index: bw.index, Offset: offset, Length: length, Keys: bw.keys}
	st.Type.IsMapping = bw.isMapping
	st.Type.IsArray = bw.isArray
	st.Type.IsDynamic = bw.isDynamic
	if length > 0 {
		st.Type.ByteLength = length
	}
	return st
}

// flattenOR walks a (possibly nested, either-order) chain of OR nodes and
// returns every non-OR leaf.
func flattenOR(t *optree.Tree) []*optree.Tree {
	if t.Name != "OR" || len(t.Sons) != 2 {
		return []*optree.Tree{t}
	}
	var out []*optree.Tree
	out = append(out, flattenOR(t.Sons[0])...)
	out = append(out, flattenOR(t.Sons[1])...)
	return out
}

// splitSloadMask recognizes AND(SLOAD-like, mask) in either operand order.
func splitSloadMask(t *optree.Tree) (sload, mask *optree.Tree, ok bool) {
	if t.Name != "AND" || len(t.Sons) != 2 {
		return nil, nil, false
	}
	a, b := t.Sons[0], t.Sons[1]
	if a.Name == "SLOAD" && b.Concrete {
		return a, b, true
	}
	if b.Name == "SLOAD" && a.Concrete {
		return b, a, true
	}
	return nil, nil, false
}

// splitMulShift recognizes MUL(new_value, shift) in either operand order;
// a bare non-MUL leaf is treated as a field written at offset 0.
func splitMulShift(t *optree.Tree) (value *optree.Tree, shift *uint256.Int) {
	if t.Name != "MUL" || len(t.Sons) != 2 {
		return t, nil
	}
	a, b := t.Sons[0], t.Sons[1]
	if a.Concrete && a.Value != nil {
		return b, a.Value
	}
	if b.Concrete && b.Value != nil {
		return a, b.Value
	}
	return t, nil
}

// maskToOffsetLength mirrors the forward-analysis mask classification used
// for SLOAD, applied here to a clearing mask's complement.
func maskToOffsetLength(mask *optree.Tree) (offset, length int) {
	if !mask.Concrete || mask.Value == nil {
		return 0, 32
	}
	cleared := new(uint256.Int).Not(mask.Value)
	if isAllOnesLow(cleared) {
		return 0, countOnesBytes(cleared)
	}
	if isAllOnesHigh(cleared) {
		return 0, countOnesBytes(cleared)
	}
	return 0, 32
}
