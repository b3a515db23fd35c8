package function

import (
	"testing"

	"github.com/semunits/disco/internal/cfg"
	"github.com/semunits/disco/internal/disasm"
	"github.com/semunits/disco/internal/opcodes"
)

func op(pc int, code opcodes.OpCode) disasm.Operation {
	return disasm.Operation{PC: pc, Op: code}
}

func pushOp(pc int, code opcodes.OpCode, imm ...byte) disasm.Operation {
	return disasm.Operation{PC: pc, Op: code, Immediate: imm}
}

func TestBuildTable_SolidityDUP1Pattern(t *testing.T) {
	ft := 40
	b := &cfg.Block{
		Entry: 0,
		Ops: []disasm.Operation{
			op(0, opcodes.DUP1),
			pushOp(1, opcodes.PUSH4, 0x12, 0x34, 0x56, 0x78),
			op(6, opcodes.EQ),
			pushOp(7, opcodes.PUSH2, 0x00, 0x32),
			op(10, opcodes.JUMPI),
		},
		Succs:       []int{50, 40},
		Fallthrough: &ft,
	}
	g := &cfg.Graph{Blocks: []*cfg.Block{b}}

	table := BuildTable(g)
	d, ok := table[0]
	if !ok {
		t.Fatalf("expected dispatcher recognized at block 0")
	}
	if d.Selector != "0x12345678" {
		t.Errorf("expected selector 0x12345678, got %s", d.Selector)
	}
	if d.BodyEntry != 50 {
		t.Errorf("expected body entry 50, got %d", d.BodyEntry)
	}
}

func TestBuildTable_VyperPushDup2Pattern(t *testing.T) {
	ft := 40
	b := &cfg.Block{
		Entry: 0,
		Ops: []disasm.Operation{
			pushOp(0, opcodes.PUSH4, 0xaa, 0xbb, 0xcc, 0xdd),
			op(5, opcodes.DUP2),
			op(6, opcodes.EQ),
			pushOp(7, opcodes.PUSH2, 0x00, 0x32),
			op(10, opcodes.JUMPI),
		},
		Succs:       []int{50, 40},
		Fallthrough: &ft,
	}
	g := &cfg.Graph{Blocks: []*cfg.Block{b}}

	table := BuildTable(g)
	d, ok := table[0]
	if !ok {
		t.Fatalf("expected dispatcher recognized at block 0")
	}
	if d.Selector != "0xaabbccdd" {
		t.Errorf("expected selector 0xaabbccdd, got %s", d.Selector)
	}
}

func TestBuildTable_ShortSelectorZeroPadded(t *testing.T) {
	ft := 40
	b := &cfg.Block{
		Entry: 0,
		Ops: []disasm.Operation{
			op(0, opcodes.DUP1),
			pushOp(1, opcodes.PUSH1, 0x01),
			op(3, opcodes.EQ),
			pushOp(4, opcodes.PUSH2, 0x00, 0x32),
			op(7, opcodes.JUMPI),
		},
		Succs:       []int{50, 40},
		Fallthrough: &ft,
	}
	g := &cfg.Graph{Blocks: []*cfg.Block{b}}

	table := BuildTable(g)
	if got := table[0].Selector; got != "0x00000001" {
		t.Errorf("expected zero-padded selector, got %s", got)
	}
}

func TestBuildTable_NoEQ_NotRecognized(t *testing.T) {
	ft := 40
	b := &cfg.Block{
		Entry: 0,
		Ops: []disasm.Operation{
			op(0, opcodes.DUP1),
			pushOp(1, opcodes.PUSH2, 0x00, 0x32),
			op(4, opcodes.JUMPI),
		},
		Succs:       []int{50, 40},
		Fallthrough: &ft,
	}
	g := &cfg.Graph{Blocks: []*cfg.Block{b}}

	if _, ok := BuildTable(g)[0]; ok {
		t.Errorf("expected no dispatcher recognized without an EQ")
	}
}

func TestFunctionOf_MatchingPathAttributesSelector(t *testing.T) {
	table := map[int]Dispatcher{
		0: {Selector: "0x12345678", BodyEntry: 50},
	}
	path := []int{0, 50, 60}
	if got := FunctionOf(path, table); got != "0x12345678" {
		t.Errorf("expected matched selector, got %s", got)
	}
}

func TestFunctionOf_NoMatch_Fallback(t *testing.T) {
	table := map[int]Dispatcher{
		0: {Selector: "0x12345678", BodyEntry: 50},
	}
	path := []int{0, 40, 60} // took the fallthrough, not the dispatcher's target
	if got := FunctionOf(path, table); got != Fallback {
		t.Errorf("expected fallback, got %s", got)
	}
}

func TestFunctionOf_LatestDispatcherWins(t *testing.T) {
	table := map[int]Dispatcher{
		0: {Selector: "0x11111111", BodyEntry: 10},
		10: {Selector: "0x22222222", BodyEntry: 20},
	}
	path := []int{0, 10, 20}
	if got := FunctionOf(path, table); got != "0x22222222" {
		t.Errorf("expected latest-matched dispatcher to win, got %s", got)
	}
}
