package optree

// SHA3Lookup resolves a known keccak256 output back to the (key, index)
// pair that produced it — the table spec.md §6 calls "SHA3 substitution
// table", loaded by internal/sha3table. Kept as a narrow interface here so
// optree never depends on how the table is populated.
type SHA3Lookup interface {
	Lookup(hashHex string) (key string, index string, ok bool)
}

// SubstituteSHA3 walks t looking for CONST leaves whose value is a known
// keccak256 output and rewrites them into a SHA3(key, index) subtree, the
// trick that lets storage-slot recovery see through compiler-constant-
// folded mapping keys (spec.md §4.5).
func SubstituteSHA3(t *Tree, table SHA3Lookup) *Tree {
	for i, s := range t.Sons {
		t.Sons[i] = SubstituteSHA3(s, table)
		t.Sons[i].Father = t
	}
	if !t.Concrete || t.Value == nil {
		return t
	}
	key, index, ok := table.Lookup(t.Value.Hex())
	if !ok {
		return t
	}
	sha3 := newNode("SHA3", newLeaf(key), newLeaf(index))
	sha3.Father = t.Father
	return sha3
}

// NormalizeCondition implements the "expanded condition tree" shape from
// spec.md §4.5: the root must be one of ISZERO, EQ, LT, GT, SLT, SGT, XOR.
// Anything else is wrapped in ISZERO ISZERO so every condition has a
// definite boolean polarity. needOpposite negates the result (the JUMPI
// fallthrough branch): an ISZERO root loses its outer ISZERO, any other
// root is wrapped in one more ISZERO.
func NormalizeCondition(t *Tree, needOpposite bool) *Tree {
	out := t
	switch t.Name {
	case "ISZERO", "EQ", "LT", "GT", "SLT", "SGT", "XOR":
		// already boolean-shaped
	default:
		out = newNode("ISZERO", newNode("ISZERO", t))
	}
	if needOpposite {
		if out.Name == "ISZERO" && len(out.Sons) == 1 {
			return out.Sons[0]
		}
		out = newNode("ISZERO", out)
	}
	return out
}
