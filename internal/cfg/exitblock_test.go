package cfg

import (
	"testing"

	"github.com/semunits/disco/internal/disasm"
)

func TestResolveExitBlocks_BranchesJoin_FindsCommonSuccessor(t *testing.T) {
	// PUSH1 1; PUSH1 8; JUMPI (to pc8)
	// PUSH1 12; JUMP            (pc5, fallthrough branch)
	// JUMPDEST; PUSH1 12; JUMP  (pc8, jump-taken branch)
	// JUMPDEST; STOP            (pc12, join point)
	code := []byte{
		0x60, 0x01,
		0x60, 0x08,
		0x57,
		0x60, 0x0c,
		0x56,
		0x5b,
		0x60, 0x0c,
		0x56,
		0x5b,
		0x00,
	}
	g := Build(disasm.Disassemble(code))
	paths := NewExplorer(g).Explore()
	exitOf := ResolveExitBlocks(g, paths)

	if got, ok := exitOf[0]; !ok || got != 12 {
		t.Fatalf("expected JUMPI block 0 to exit at pc 12, got %d (ok=%v)", got, ok)
	}
}

func TestResolveExitBlocks_SelfLoop_MarksOwnExit(t *testing.T) {
	// PUSH1 0 (left on the stack, so every iteration has a new stack
	// snapshot); PUSH1 1; PUSH1 0; JUMPI (loops back to its own entry);
	// STOP (fallthrough)
	code := []byte{
		0x60, 0x00,
		0x60, 0x01,
		0x60, 0x00,
		0x57,
		0x00,
	}
	g := Build(disasm.Disassemble(code))
	paths := NewExplorer(g).Explore()
	exitOf := ResolveExitBlocks(g, paths)

	if got, ok := exitOf[0]; !ok || got != 0 {
		t.Fatalf("expected self-looping block 0 to mark itself as its own exit, got %d (ok=%v)", got, ok)
	}
}

func TestResolveExitBlocks_NonJumpiBlocks_NotIncluded(t *testing.T) {
	// PUSH1 3; JUMP; JUMPDEST; STOP -- no JUMPI anywhere.
	code := []byte{0x60, 0x03, 0x56, 0x5b, 0x00}
	g := Build(disasm.Disassemble(code))
	paths := NewExplorer(g).Explore()
	exitOf := ResolveExitBlocks(g, paths)

	if len(exitOf) != 0 {
		t.Errorf("expected no exit-block entries without any JUMPI, got %v", exitOf)
	}
}
