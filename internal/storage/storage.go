// Package storage implements the storage variable analyzer (C8): given an
// expression tree rooted at an SLOAD (or SSTORE slot), recover the
// canonical (slot_index, keys, byte_offset, byte_length, type hints) and
// canonicalize recovered States across a path.
package storage

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/semunits/disco/internal/disasm"
	"github.com/semunits/disco/internal/evmvar"
	"github.com/semunits/disco/internal/optree"
)

// ConstError is a sentinel-error-as-string-constant, matching the pattern
// used across internal/symstack, internal/memory and internal/tac.
type ConstError string

func (e ConstError) Error() string { return string(e) }

// ErrNoConcreteSlot is returned when a backward analysis bottoms out
// without ever finding a concrete slot index to anchor on.
const ErrNoConcreteSlot = ConstError("storage: backward analysis found no concrete slot index")

// Analyzer canonicalizes recovered States across one path, per spec.md
// §4.6's "every recovered State is canonicalized through a set keyed by
// index" rule. spec.md §9 clarifies that the canonical identity trees
// actually refer to is index *and* offset *and* length: two sub-word
// fields packed into the same slot (e.g. two uint128 fields in one slot)
// are distinct States, not the same entry, so the set is keyed by the
// full (index, offset, length) tuple.
type Analyzer struct {
	Language disasm.Language
	byKey    map[string]*evmvar.State

	// countsMapping tracks, per (slot,keys) tuple, the TAC location of
	// every write seen so far along the current path (spec.md §4.6's SSA
	// generation counter).
	countsMapping map[string][]int
}

// New creates an Analyzer for a single path's worth of storage reads/writes.
func New(lang disasm.Language) *Analyzer {
	return &Analyzer{
		Language:      lang,
		byKey:         make(map[string]*evmvar.State),
		countsMapping: make(map[string][]int),
	}
}

// ResetPathSensitiveArgs clears per-path scratch state (the SSA write
// counters) while leaving the canonicalized {State} set untouched, per
// spec.md §5's cooperative-sharing model: the same Analyzer is reused
// across every path of a contract, widening States as it goes, and only
// the path-local counters are cleared between paths.
func (a *Analyzer) ResetPathSensitiveArgs() {
	a.countsMapping = make(map[string][]int)
}

// RecordWrite appends location to the (slot,keys) tuple's write history,
// called once per SSTORE component emitted by AnalyzeSSTORE.
func (a *Analyzer) RecordWrite(index int, keys []evmvar.KeyTree, location int) {
	k := slotKey(index, keys)
	a.countsMapping[k] = append(a.countsMapping[k], location)
}

// CountAtRead returns the number of recorded writes to (index,keys) at a
// location ≤ the read's own location — the SSA generation assigned to
// that read, per spec.md §4.6.
func (a *Analyzer) CountAtRead(index int, keys []evmvar.KeyTree, location int) int {
	n := 0
	for _, loc := range a.countsMapping[slotKey(index, keys)] {
		if loc <= location {
			n++
		}
	}
	return n
}

func slotKey(index int, keys []evmvar.KeyTree) string {
	s := fmt.Sprintf("%d", index)
	for _, k := range keys {
		s += "|" + k.StructuralString()
	}
	return s
}

// backward is the recovered shape before byte-offset/length resolution.
type backward struct {
	index     int
	isMapping bool
	isArray   bool
	isDynamic bool
	keys      []evmvar.KeyTree
}

// AnalyzeSLOAD recovers the canonical State for an expression tree rooted
// at the SLOAD's argument (the slot expression), merging it into the
// by-index canonical set and returning the live *evmvar.State.
func (a *Analyzer) AnalyzeSLOAD(slotExpr *optree.Tree, sload *optree.Tree) (*evmvar.State, error) {
	bw, err := a.analyzeBackward(slotExpr)
	if err != nil {
		return nil, err
	}
	offset, length, signed, higherOrder := analyzeForward(sload)

	st := &evmvar.State{
		Index:  bw.index,
		Offset: offset,
		Length: length,
		Keys:   bw.keys,
	}
	st.Type.IsSigned = signed
	st.Type.IsHigherOrder = higherOrder
	st.Type.IsMapping = bw.isMapping
	st.Type.IsArray = bw.isArray
	st.Type.IsDynamic = bw.isDynamic
	if length > 0 {
		st.Type.ByteLength = length
	}

	return a.canonicalize(st), nil
}

// canonicalize implements spec.md §4.6's merge rule, keyed by the full
// (index, offset, length) identity (spec.md §9): two reads that land on
// the exact same sub-word field merge, with a dynamic entry always
// winning over a static one; a read naming a different (offset, length)
// within the same slot names a distinct packed field and gets its own
// canonical entry instead of clobbering the first one.
func (a *Analyzer) canonicalize(st *evmvar.State) *evmvar.State {
	key := stateKey(st.Index, st.Offset, st.Length)
	existing, ok := a.byKey[key]
	if !ok {
		a.byKey[key] = st
		return st
	}
	if existing.Type.IsDynamic && !st.Type.IsDynamic {
		return existing
	}
	if st.Type.IsDynamic && !existing.Type.IsDynamic {
		a.byKey[key] = st
		return st
	}
	return existing
}

func stateKey(index, offset, length int) string {
	return fmt.Sprintf("%d_%d_%d", index, offset, length)
}

// States returns every canonical State recovered so far, keyed by the
// (index, offset, length) identity stateKey renders.
func (a *Analyzer) States() map[string]*evmvar.State {
	return a.byKey
}

// FallbackState implements spec.md §7's `OutOfRulesException` policy for
// the case analysis cannot resolve a canonical state at all: the caller
// still proceeds with the safe default shape (offset=0, length=32)
// rather than dropping the access, canonicalized under slot index 0 —
// the same fallback the original's backward analysis CONST case uses
// for a non-concrete slot root.
func (a *Analyzer) FallbackState() *evmvar.State {
	st := &evmvar.State{Index: 0, Offset: 0, Length: 32}
	st.Type.IsArray = true
	st.Type.ByteLength = 32
	return a.canonicalize(st)
}

// analyzeBackward walks the slot expression per spec.md §4.6's backward
// analysis: SHA3(key,slot) marks a mapping, SHA3(slot) alone marks a
// dynamic array, ADD(base,idx) over a SHA3 base marks a dynamic array
// index, ADD(base,idx) otherwise marks a static array, and a bare
// concrete integer is the base case.
func (a *Analyzer) analyzeBackward(t *optree.Tree) (backward, error) {
	if t.Concrete && t.Value != nil {
		return backward{index: int(t.Value.Uint64())}, nil
	}

	switch t.Name {
	case "SHA3":
		if len(t.Sons) == 2 {
			key, slot := t.Sons[0], t.Sons[1]
			if a.Language == disasm.LanguageVyper {
				// Vyper emits the operands in the opposite order.
				key, slot = slot, key
			}
			inner, err := a.analyzeBackward(slot)
			if err != nil {
				return backward{}, err
			}
			inner.isMapping = true
			inner.keys = append(inner.keys, key)
			return inner, nil
		}
		if len(t.Sons) == 1 {
			inner, err := a.analyzeBackward(t.Sons[0])
			if err != nil {
				return backward{}, err
			}
			inner.isArray = true
			inner.isDynamic = true
			return inner, nil
		}

	case "ADD":
		if len(t.Sons) == 2 {
			base, idx := t.Sons[0], t.Sons[1]
			if !containsSHA3(base) && containsSHA3(idx) {
				base, idx = idx, base
			}
			inner, err := a.analyzeBackward(base)
			if err != nil {
				return backward{}, err
			}
			inner.keys = append(inner.keys, idx)
			if containsSHA3(base) {
				inner.isArray = true
				inner.isDynamic = true
			} else {
				inner.isArray = true
			}
			return inner, nil
		}
	}

	return backward{}, ErrNoConcreteSlot
}

// containsSHA3 reports whether t is, or is rooted through, a SHA3 node —
// the signal that an ADD's base is a dynamic-array storage base rather
// than a plain static-array base offset.
func containsSHA3(t *optree.Tree) bool {
	if t.Name == "SHA3" {
		return true
	}
	for _, s := range t.Sons {
		if containsSHA3(s) {
			return true
		}
	}
	return false
}

// analyzeForward inspects the SLOAD node's ancestors per spec.md §4.6's
// forward analysis, returning (offset, length, signed, higherOrder).
// sload.Father is the immediate parent in the built tree, if any.
func analyzeForward(sload *optree.Tree) (offset, length int, signed, higherOrder bool) {
	parent := sload.Father
	if parent == nil {
		return 0, 32, false, false
	}

	switch parent.Name {
	case "AND":
		mask := maskOperand(parent, sload)
		if mask == nil {
			return 0, 32, false, false
		}
		if isAllOnesLow(mask) {
			return 0, countOnesBytes(mask), false, false
		}
		if mask.IsUint64() && mask.Uint64() == 1 {
			return 0, 0, false, false // dynamic marker; length resolved elsewhere
		}
		if isAllOnesHigh(mask) {
			return 0, countOnesBytes(mask), false, true
		}
		return 0, 32, false, false

	case "DIV":
		shiftConst := constOperand(parent, sload)
		if shiftConst == nil || shiftConst.IsZero() {
			return 0, 32, false, false
		}
		k := log2Floor(shiftConst)
		off := k / 8

		grandparent := parent.Father
		if grandparent == nil {
			return off, 32, false, false
		}
		switch grandparent.Name {
		case "SIGNEXTEND":
			if len(grandparent.Sons) == 2 && grandparent.Sons[0].Concrete {
				bits := int(grandparent.Sons[0].Value.Uint64())
				return off, bits + 1, true, false
			}
		case "AND":
			mask := maskOperand(grandparent, parent)
			if mask != nil {
				return off, countOnesBytes(mask), false, false
			}
		case "MUL":
			return off, 32, false, false
		}
		return off, 32, false, false
	}

	return 0, 32, false, false
}

// maskOperand returns the constant operand of a two-son node when the
// other operand is child.
func maskOperand(parent, child *optree.Tree) *uint256.Int {
	return constOperand(parent, child)
}

func constOperand(parent, child *optree.Tree) *uint256.Int {
	if len(parent.Sons) != 2 {
		return nil
	}
	var other *optree.Tree
	if parent.Sons[0] == child {
		other = parent.Sons[1]
	} else if parent.Sons[1] == child {
		other = parent.Sons[0]
	} else {
		return nil
	}
	if !other.Concrete || other.Value == nil {
		return nil
	}
	return other.Value
}

// isAllOnesLow reports a mask of the shape 0x00..00ff..ff (low bytes set).
func isAllOnesLow(mask *uint256.Int) bool {
	b := mask.Bytes32()
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

// isAllOnesHigh reports a mask of the shape 0xff..ff00..00 (high bytes
// set), spec.md's "higher-order ordering" signal.
func isAllOnesHigh(mask *uint256.Int) bool {
	b := mask.Bytes32()
	i := 0
	for i < 32 && b[i] == 0xff {
		i++
	}
	if i == 0 {
		return false
	}
	for ; i < 32; i++ {
		if b[i] != 0x00 {
			return false
		}
	}
	return true
}

func countOnesBytes(mask *uint256.Int) int {
	b := mask.Bytes32()
	n := 0
	for _, v := range b {
		if v == 0xff {
			n++
		}
	}
	return n
}

func log2Floor(v *uint256.Int) int {
	n := 0
	tmp := new(uint256.Int).Set(v)
	one := uint256.NewInt(1)
	for tmp.Gt(one) {
		tmp.Rsh(tmp, 1)
		n++
	}
	return n
}
