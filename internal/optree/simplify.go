package optree

import "github.com/holiman/uint256"

// Simplify applies the always-safe peephole rules from spec.md §4.5:
// ADD x 0 -> x, SUB x 0 -> x, MUL 0 _ -> 0, DIV 0 _ -> 0. It returns the
// (possibly replaced) tree; when a node is replaced, the replacement takes
// over the father's son slot and father pointer, following the "allocate a
// new node, patch the father's son slot" guidance in spec.md §9.
func Simplify(t *Tree) *Tree {
	for _, s := range t.Sons {
		Simplify(s)
	}
	if len(t.Sons) != 2 {
		return t
	}
	a, b := t.Sons[0], t.Sons[1]
	switch t.Name {
	case "ADD":
		if isConstZero(b) {
			return reparent(t, a)
		}
		if isConstZero(a) {
			return reparent(t, b)
		}
	case "SUB":
		if isConstZero(b) {
			return reparent(t, a)
		}
	case "MUL":
		if isConstZero(a) || isConstZero(b) {
			return reparent(t, zero())
		}
	case "DIV":
		if isConstZero(a) {
			return reparent(t, zero())
		}
	}
	return t
}

// ApplyCastRemoval implements the canonical-mask rewrites from spec.md
// §4.5: AND x <low-n-byte mask> -> x, SIGNEXTEND n x -> x,
// ISZERO ISZERO x -> x (marking the inner node boolean), SHR 0 x -> x,
// SAR 0 x -> x.
func ApplyCastRemoval(t *Tree) *Tree {
	for _, s := range t.Sons {
		ApplyCastRemoval(s)
	}
	switch t.Name {
	case "AND":
		if len(t.Sons) == 2 {
			if isLowByteMask(t.Sons[1]) {
				return reparent(t, t.Sons[0])
			}
			if isLowByteMask(t.Sons[0]) {
				return reparent(t, t.Sons[1])
			}
		}
	case "SIGNEXTEND":
		if len(t.Sons) == 2 {
			return reparent(t, t.Sons[1])
		}
	case "ISZERO":
		if len(t.Sons) == 1 && t.Sons[0].Name == "ISZERO" && len(t.Sons[0].Sons) == 1 {
			inner := t.Sons[0].Sons[0]
			inner.booleanHint = true
			return reparent(t, inner)
		}
	case "SHR", "SAR":
		if len(t.Sons) == 2 && isConstZero(t.Sons[0]) {
			return reparent(t, t.Sons[1])
		}
	}
	return t
}

func reparent(old, replacement *Tree) *Tree {
	replacement.Father = old.Father
	if old.Father != nil {
		for i, s := range old.Father.Sons {
			if s == old {
				old.Father.Sons[i] = replacement
			}
		}
	}
	return replacement
}

func isConstZero(t *Tree) bool {
	return t.Concrete && t.Value != nil && t.Value.IsZero()
}

func zero() *Tree {
	t := newLeaf("CONST")
	t.Concrete = true
	t.Value = uint256.NewInt(0)
	return t
}

// isLowByteMask reports whether t is a constant of the shape
// 0x00...00ff...ff (some number of low bytes set, the rest clear) — the
// canonical Solidity truncation-to-width mask.
func isLowByteMask(t *Tree) bool {
	if !t.Concrete || t.Value == nil {
		return false
	}
	b := t.Value.Bytes32()
	i := 0
	for i < 32 && b[i] == 0x00 {
		i++
	}
	if i == 32 {
		return false
	}
	for ; i < 32; i++ {
		if b[i] != 0xff {
			return false
		}
	}
	return true
}
