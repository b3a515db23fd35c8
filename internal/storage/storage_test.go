package storage

import (
	"testing"

	"github.com/holiman/uint256"

	"github.com/semunits/disco/internal/disasm"
	"github.com/semunits/disco/internal/optree"
)

func leaf(name string) *optree.Tree {
	return &optree.Tree{Name: name}
}

func constLeaf(v uint64) *optree.Tree {
	return &optree.Tree{Name: "CONST", Concrete: true, Value: uint256.NewInt(v)}
}

func node(name string, sons ...*optree.Tree) *optree.Tree {
	t := &optree.Tree{Name: name, Sons: sons}
	for _, s := range sons {
		s.Father = t
	}
	return t
}

func TestAnalyzeSLOAD_ConcreteSlot_BareIndex(t *testing.T) {
	a := New(disasm.LanguageSolidity)
	slot := constLeaf(3)
	sload := node("SLOAD", slot)

	st, err := a.AnalyzeSLOAD(slot, sload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Index != 3 {
		t.Errorf("expected index 3, got %d", st.Index)
	}
	if st.Offset != 0 || st.Length != 32 {
		t.Errorf("expected whole-slot read, got offset=%d length=%d", st.Offset, st.Length)
	}
}

func TestAnalyzeSLOAD_SolidityMapping_SHA3KeySlot(t *testing.T) {
	a := New(disasm.LanguageSolidity)
	key := leaf("CALLER")
	slot := constLeaf(1)
	sha3 := node("SHA3", key, slot)
	sload := node("SLOAD", sha3)

	st, err := a.AnalyzeSLOAD(sha3, sload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !st.Type.IsMapping {
		t.Errorf("expected mapping type")
	}
	if st.Index != 1 {
		t.Errorf("expected index 1, got %d", st.Index)
	}
	if len(st.Keys) != 1 {
		t.Fatalf("expected 1 key, got %d", len(st.Keys))
	}
}

func TestAnalyzeSLOAD_VyperMapping_OperandsSwapped(t *testing.T) {
	a := New(disasm.LanguageVyper)
	slot := constLeaf(2)
	key := leaf("CALLER")
	// Vyper emits SHA3(slot, key) -- operand order swapped vs. Solidity.
	sha3 := node("SHA3", slot, key)
	sload := node("SLOAD", sha3)

	st, err := a.AnalyzeSLOAD(sha3, sload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Index != 2 {
		t.Errorf("expected index 2, got %d", st.Index)
	}
	if !st.Type.IsMapping {
		t.Errorf("expected mapping type")
	}
}

func TestAnalyzeSLOAD_DynamicArray_BareSHA3(t *testing.T) {
	a := New(disasm.LanguageSolidity)
	slot := constLeaf(5)
	sha3 := node("SHA3", slot)
	sload := node("SLOAD", sha3)

	st, err := a.AnalyzeSLOAD(sha3, sload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !st.Type.IsArray || !st.Type.IsDynamic {
		t.Errorf("expected dynamic array type, got %+v", st.Type)
	}
}

func TestAnalyzeSLOAD_StaticArray_AddBaseIdx(t *testing.T) {
	a := New(disasm.LanguageSolidity)
	base := constLeaf(9)
	idx := leaf("CALLDATALOAD")
	add := node("ADD", base, idx)
	sload := node("SLOAD", add)

	st, err := a.AnalyzeSLOAD(add, sload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !st.Type.IsArray || st.Type.IsDynamic {
		t.Errorf("expected static array type, got %+v", st.Type)
	}
	if len(st.Keys) != 1 {
		t.Fatalf("expected 1 key, got %d", len(st.Keys))
	}
}

func TestAnalyzeSLOAD_ForwardMask_RecoversSubWordLength(t *testing.T) {
	a := New(disasm.LanguageSolidity)
	slot := constLeaf(0)
	sload := node("SLOAD", slot)
	mask := constLeaf(0xffff) // low 2 bytes set
	_ = node("AND", sload, mask)

	st, err := a.AnalyzeSLOAD(slot, sload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Length != 2 {
		t.Errorf("expected length 2 from 0xffff mask, got %d", st.Length)
	}
}

func TestAnalyzeSLOAD_ForwardDivSignextend_RecoversSignedLength(t *testing.T) {
	a := New(disasm.LanguageSolidity)
	slot := constLeaf(0)
	sload := node("SLOAD", slot)
	shift := constLeaf(256) // 2^8, offset = 1 byte
	div := node("DIV", sload, shift)
	bits := constLeaf(3)
	_ = node("SIGNEXTEND", bits, div)

	st, err := a.AnalyzeSLOAD(slot, sload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.Offset != 1 {
		t.Errorf("expected offset 1, got %d", st.Offset)
	}
	if st.Length != 4 || !st.Type.IsSigned {
		t.Errorf("expected signed length 4, got length=%d signed=%v", st.Length, st.Type.IsSigned)
	}
}

func TestCanonicalize_DynamicEntryWinsOverStatic(t *testing.T) {
	a := New(disasm.LanguageSolidity)
	slot := constLeaf(7)
	sload1 := node("SLOAD", slot)
	st1, _ := a.AnalyzeSLOAD(slot, sload1)
	if st1.Type.IsDynamic {
		t.Fatalf("expected first read to be static")
	}

	slot2 := constLeaf(7)
	sha3 := node("SHA3", slot2)
	sload2 := node("SLOAD", sha3)
	st2, _ := a.AnalyzeSLOAD(sha3, sload2)

	canonical := a.States()[stateKey(7, st2.Offset, st2.Length)]
	if !canonical.Type.IsDynamic {
		t.Errorf("expected dynamic entry to win canonicalization")
	}
	if st2 != canonical {
		t.Errorf("expected second (dynamic) read to become the canonical entry")
	}
}

// TestCanonicalize_DistinctPackedFields_DoNotClobberEachOther reproduces
// spec.md §8 scenario 4: two sub-word fields packed into the same slot
// (e.g. two uint128 fields in slot 5) must each keep their own recovered
// offset, not have the second field's canonicalize call silently return
// the first field's State.
func TestCanonicalize_DistinctPackedFields_DoNotClobberEachOther(t *testing.T) {
	a := New(disasm.LanguageSolidity)

	lowMaskVal := new(uint256.Int).SetAllOne()
	lowMaskVal.Rsh(lowMaskVal, 128) // bits 0..127 set, bits 128..255 clear
	lowMask := &optree.Tree{Name: "CONST", Concrete: true, Value: lowMaskVal}
	lowSlot := constLeaf(5)
	lowSload := node("SLOAD", lowSlot)
	node("AND", lowSload, lowMask)
	lowState, err := a.AnalyzeSLOAD(lowSlot, lowSload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	shiftVal := new(uint256.Int).Lsh(uint256.NewInt(1), 128) // 2**128, offset 16
	shift := &optree.Tree{Name: "CONST", Concrete: true, Value: shiftVal}
	highSlot := constLeaf(5)
	highSload := node("SLOAD", highSlot)
	node("DIV", highSload, shift)
	highState, err := a.AnalyzeSLOAD(highSlot, highSload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if lowState.Offset != 0 || lowState.Length != 16 {
		t.Errorf("expected the first field at offset 0 length 16, got offset=%d length=%d", lowState.Offset, lowState.Length)
	}
	if highState.Offset != 16 {
		t.Errorf("expected the second field to keep its own offset 16, got offset=%d (clobbered by the first field's entry)", highState.Offset)
	}
	if lowState == highState {
		t.Errorf("expected two distinct canonical States for two distinct packed fields in the same slot")
	}
}

func TestAnalyzeSSTORE_NoOR_OverwritesWholeSlot(t *testing.T) {
	a := New(disasm.LanguageSolidity)
	slot := constLeaf(4)
	value := leaf("CALLVALUE")

	updates, err := a.AnalyzeSSTORE(slot, value)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(updates) != 1 {
		t.Fatalf("expected 1 update, got %d", len(updates))
	}
	if updates[0].State.Offset != 0 || updates[0].State.Length != 32 {
		t.Errorf("expected whole-slot overwrite, got %+v", updates[0].State)
	}
	if updates[0].Value != value {
		t.Errorf("expected value tree passed through unchanged")
	}
}

func TestAnalyzeSSTORE_ClearField_AndSloadMask(t *testing.T) {
	a := New(disasm.LanguageSolidity)
	slot := constLeaf(4)
	sload := node("SLOAD", slot)
	mask := constLeaf(0xff) // keeps the low byte, clears the rest
	value := node("AND", sload, mask)

	updates, err := a.AnalyzeSSTORE(slot, value)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(updates) != 1 {
		t.Fatalf("expected 1 update, got %d", len(updates))
	}
	if updates[0].Value != nil {
		t.Errorf("expected cleared field to carry a nil value, got %+v", updates[0].Value)
	}
}

func TestAnalyzeSSTORE_PackedOR_TwoFields(t *testing.T) {
	a := New(disasm.LanguageSolidity)
	slot := constLeaf(4)
	sload := node("SLOAD", slot)
	keepMask := constLeaf(0xff) // preserve low byte, write the rest
	preserve := node("AND", sload, keepMask)

	newValue := leaf("CALLER")
	shift := constLeaf(256) // offset 1 byte
	shifted := node("MUL", newValue, shift)

	value := node("OR", preserve, shifted)

	updates, err := a.AnalyzeSSTORE(slot, value)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(updates) != 1 {
		t.Fatalf("expected 1 update (preserve component skipped), got %d", len(updates))
	}
	if updates[0].State.Offset != 1 {
		t.Errorf("expected offset 1 from shift, got %d", updates[0].State.Offset)
	}
	if updates[0].Value != newValue {
		t.Errorf("expected the MUL's value operand extracted")
	}
}

func TestRecordWrite_CountAtRead_CountsPriorWritesOnly(t *testing.T) {
	a := New(disasm.LanguageSolidity)
	a.RecordWrite(1, nil, 5)
	a.RecordWrite(1, nil, 10)
	a.RecordWrite(1, nil, 20)

	if got := a.CountAtRead(1, nil, 10); got != 2 {
		t.Errorf("expected 2 writes at or before location 10, got %d", got)
	}
	if got := a.CountAtRead(1, nil, 4); got != 0 {
		t.Errorf("expected 0 writes before location 4, got %d", got)
	}
	if got := a.CountAtRead(1, nil, 100); got != 3 {
		t.Errorf("expected all 3 writes counted at location 100, got %d", got)
	}
}
