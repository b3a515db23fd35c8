package cfg

import (
	"github.com/holiman/uint256"

	"github.com/semunits/disco/internal/disasm"
	"github.com/semunits/disco/internal/opcodes"
	"github.com/semunits/disco/internal/symstack"
)

// LightValue is the element type of the "light" symbolic stack used only
// by the dynamic-edge pass (§4.2): it models AND, DUP, SWAP, PUSH, POP and
// PC precisely and treats every other opcode's result as unknown. That is
// just enough accuracy to resolve jump tables built from bitmasking, which
// is the dominant compiler pattern for dynamic dispatch.
type LightValue struct {
	Known bool
	Value *uint256.Int
}

func unknown() LightValue { return LightValue{} }

func concrete(v *uint256.Int) LightValue { return LightValue{Known: true, Value: v} }

// executeLight runs a block's operations over stack, mutating it in place.
// Errors (overflow/underflow) are swallowed into "unknown" rather than
// propagated: a path whose light stack can't keep up just loses the
// ability to resolve a dynamic jump, it does not abort.
func executeLight(b *Block, stack *symstack.Stack[LightValue]) {
	for _, op := range b.Ops {
		execOneLight(op, stack)
	}
}

func execOneLight(op disasm.Operation, stack *symstack.Stack[LightValue]) {
	if op.IsMissing() {
		return
	}
	d, ok := opcodes.Lookup(byte(op.Op))
	if !ok {
		return
	}

	switch {
	case d.IsPush:
		v := new(uint256.Int).SetBytes(op.Immediate)
		_ = stack.Push(concrete(v))
		return
	case d.IsDup:
		n := int(op.Op - opcodes.DUP1)
		_ = stack.Dup(n)
		return
	case d.IsSwap:
		n := int(op.Op-opcodes.SWAP1) + 1
		_ = stack.Swap(n)
		return
	}

	switch op.Op {
	case opcodes.POP:
		_, _ = stack.Pop()
		return
	case opcodes.PC:
		_ = stack.Push(concrete(uint256.NewInt(uint64(op.PC))))
		return
	case opcodes.AND:
		b, errB := stack.Pop()
		a, errA := stack.Pop()
		if errA != nil || errB != nil {
			return
		}
		if a.Known && b.Known {
			r := new(uint256.Int).And(a.Value, b.Value)
			_ = stack.Push(concrete(r))
		} else {
			_ = stack.Push(unknown())
		}
		return
	}

	// Every other op: pop its operands (best-effort) and push unknown
	// results, matching the opcode table's declared stack effect.
	for i := 0; i < d.Pops; i++ {
		if _, err := stack.Pop(); err != nil {
			break
		}
	}
	for i := 0; i < d.Pushes; i++ {
		_ = stack.Push(unknown())
	}
}
