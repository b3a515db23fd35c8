package tac

import (
	"github.com/holiman/uint256"

	"github.com/semunits/disco/internal/opcodes"
)

// fold constant-folds an arithmetic/comparison/bitwise opcode when every
// argument is concrete, using 256-bit modular semantics (spec.md §3: "all
// arithmetic is modulo 2^256; signed ops use two's complement"). Argument
// order follows EVM stack-pop order: args[0] was popped first (the former
// top of stack).
func fold(op opcodes.OpCode, args []*Variable) (*uint256.Int, bool) {
	for _, a := range args {
		if !a.Concrete {
			return nil, false
		}
	}
	z := new(uint256.Int)
	switch op {
	case opcodes.ADD:
		return z.Add(args[0].Value, args[1].Value), true
	case opcodes.SUB:
		return z.Sub(args[0].Value, args[1].Value), true
	case opcodes.MUL:
		return z.Mul(args[0].Value, args[1].Value), true
	case opcodes.DIV:
		return z.Div(args[0].Value, args[1].Value), true
	case opcodes.SDIV:
		return z.SDiv(args[0].Value, args[1].Value), true
	case opcodes.MOD:
		return z.Mod(args[0].Value, args[1].Value), true
	case opcodes.SMOD:
		return z.SMod(args[0].Value, args[1].Value), true
	case opcodes.ADDMOD:
		return z.AddMod(args[0].Value, args[1].Value, args[2].Value), true
	case opcodes.MULMOD:
		return z.MulMod(args[0].Value, args[1].Value, args[2].Value), true
	case opcodes.EXP:
		return z.Exp(args[0].Value, args[1].Value), true
	case opcodes.SIGNEXTEND:
		return z.ExtendSign(args[1].Value, args[0].Value), true
	case opcodes.LT:
		return boolToInt(args[0].Value.Lt(args[1].Value)), true
	case opcodes.GT:
		return boolToInt(args[0].Value.Gt(args[1].Value)), true
	case opcodes.SLT:
		return boolToInt(args[0].Value.Slt(args[1].Value)), true
	case opcodes.SGT:
		return boolToInt(args[0].Value.Sgt(args[1].Value)), true
	case opcodes.EQ:
		return boolToInt(args[0].Value.Eq(args[1].Value)), true
	case opcodes.ISZERO:
		return boolToInt(args[0].Value.IsZero()), true
	case opcodes.AND:
		return z.And(args[0].Value, args[1].Value), true
	case opcodes.OR:
		return z.Or(args[0].Value, args[1].Value), true
	case opcodes.XOR:
		return z.Xor(args[0].Value, args[1].Value), true
	case opcodes.NOT:
		return z.Not(args[0].Value), true
	case opcodes.BYTE:
		return z.Set(args[1].Value).Byte(args[0].Value), true
	case opcodes.SHL:
		return z.Lsh(args[1].Value, uint(args[0].Value.Uint64())), true
	case opcodes.SHR:
		return z.Rsh(args[1].Value, uint(args[0].Value.Uint64())), true
	case opcodes.SAR:
		return z.SRsh(args[1].Value, uint(args[0].Value.Uint64())), true
	}
	return nil, false
}

func boolToInt(b bool) *uint256.Int {
	if b {
		return uint256.NewInt(1)
	}
	return uint256.NewInt(0)
}
