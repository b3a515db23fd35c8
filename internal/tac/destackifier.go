package tac

import (
	"fmt"

	"github.com/holiman/uint256"
	"golang.org/x/crypto/sha3"

	"github.com/semunits/disco/internal/cfg"
	"github.com/semunits/disco/internal/disasm"
	"github.com/semunits/disco/internal/memory"
	"github.com/semunits/disco/internal/opcodes"
	"github.com/semunits/disco/internal/symstack"
)

// ConstError is a sentinel error usable in const declarations.
type ConstError string

func (e ConstError) Error() string { return string(e) }

// ErrUnresolvedOffset names the case of a memory range whose offset or
// length is not concrete and that no prior symbolic write covers. The
// destackifier does not return it: such copies and reads are modeled with
// a fresh symbolic variable instead.
const ErrUnresolvedOffset = ConstError("tac: unresolved symbolic memory offset")

// Destackifier converts one block's operations into three-address code,
// maintaining the symbolic stack and memory model across the whole path
// it's walking (memory and stack are passed in so they persist block to
// block along a single path, per spec.md §3's "TAC blocks are appended per
// path but share the underlying EVM blocks").
type Destackifier struct {
	Mem *memory.Memory

	counter        int
	locIndex       int
	seenExternalIO bool // RETURNDATASIZE is 0 until the first external call
}

// New returns a Destackifier sharing mem across every block of one path.
func New(mem *memory.Memory) *Destackifier {
	return &Destackifier{Mem: mem}
}

func (d *Destackifier) fresh(name string, block, pc int) *Variable {
	d.counter++
	full := fmt.Sprintf("%s%d@%d@%d", name, d.counter, pc, block)
	return &Variable{Name: full, DefSite: Location{Block: block, PC: pc, Index: d.locIndex}}
}

func (d *Destackifier) freshConst(block, pc int, v *uint256.Int) *Variable {
	d.counter++
	full := fmt.Sprintf("V%d@%d@%d", d.counter, pc, block)
	return &Variable{Name: full, Concrete: true, Value: v, DefSite: Location{Block: block, PC: pc, Index: d.locIndex}}
}

// Run destackifies one block, given the stack state inherited from its
// predecessor on this path. It mutates stack in place and returns the
// emitted TAC ops in order.
func (d *Destackifier) Run(b *cfg.Block, stack *symstack.Stack[*Variable]) ([]Op, error) {
	var ops []Op
	for _, eop := range b.Ops {
		d.locIndex++
		op, emitted, err := d.step(b.Entry, eop, stack)
		if err != nil {
			return ops, err
		}
		if emitted {
			ops = append(ops, op)
		}
	}
	return ops, nil
}

func (d *Destackifier) pop(n int, stack *symstack.Stack[*Variable], loc Location) ([]*Variable, error) {
	vars, err := stack.PopMany(n)
	if err != nil {
		return nil, err
	}
	for _, v := range vars {
		v.markUse(loc)
	}
	return vars, nil
}

// step processes a single disassembled operation and reports whether a TAC
// op was emitted (DUP/SWAP/POP are pure stack permutation and emit none).
func (d *Destackifier) step(block int, eop disasm.Operation, stack *symstack.Stack[*Variable]) (Op, bool, error) {
	loc := Location{Block: block, PC: eop.PC, Index: d.locIndex}

	if eop.IsMissing() {
		return Op{}, false, nil
	}

	desc := opcodes.MustLookup(eop.Op)

	switch {
	case desc.IsPush:
		v := d.freshConst(block, eop.PC, new(uint256.Int).SetBytes(eop.Immediate))
		if err := stack.Push(v); err != nil {
			return Op{}, false, err
		}
		return Op{Opcode: opcodes.OpCode(PseudoCONST), Args: nil, PC: eop.PC, Block: block, LocationIndex: d.locIndex, LHS: v}, true, nil
	case desc.IsDup:
		n := int(eop.Op - opcodes.DUP1)
		if err := stack.Dup(n); err != nil {
			return Op{}, false, err
		}
		return Op{}, false, nil
	case desc.IsSwap:
		n := int(eop.Op-opcodes.SWAP1) + 1
		if err := stack.Swap(n); err != nil {
			return Op{}, false, err
		}
		return Op{}, false, nil
	case desc.IsLog:
		n := int(eop.Op - opcodes.LOG0)
		args, err := d.pop(n+2, stack, loc)
		if err != nil {
			return Op{}, false, err
		}
		return Op{Opcode: opcodes.OpCode(PseudoLOG), Args: args, PC: eop.PC, Block: block, LocationIndex: d.locIndex}, true, nil
	}

	switch eop.Op {
	case opcodes.POP:
		if _, err := d.pop(1, stack, loc); err != nil {
			return Op{}, false, err
		}
		return Op{}, false, nil

	case opcodes.MLOAD:
		args, err := d.pop(1, stack, loc)
		if err != nil {
			return Op{}, false, err
		}
		lhs := d.loadFromMemory(block, eop.PC, args[0])
		if err := stack.Push(lhs); err != nil {
			return Op{}, false, err
		}
		return Op{Opcode: eop.Op, Args: args, PC: eop.PC, Block: block, LocationIndex: d.locIndex, LHS: lhs}, true, nil

	case opcodes.SHA3:
		args, err := d.pop(2, stack, loc)
		if err != nil {
			return Op{}, false, err
		}
		lhs := d.hashFromMemory(block, eop.PC, args[0], args[1])
		if err := stack.Push(lhs); err != nil {
			return Op{}, false, err
		}
		return Op{Opcode: eop.Op, Args: args, PC: eop.PC, Block: block, LocationIndex: d.locIndex, LHS: lhs}, true, nil

	case opcodes.MSTORE, opcodes.MSTORE8:
		args, err := d.pop(2, stack, loc)
		if err != nil {
			return Op{}, false, err
		}
		length := 32
		if eop.Op == opcodes.MSTORE8 {
			length = 1
		}
		if args[0].Concrete {
			d.Mem.MStoreConst(int(args[0].Value.Uint64()), length, args[1])
		} else {
			d.Mem.MStoreSymbolic(args[0].Name, length, args[1])
		}
		return Op{Opcode: eop.Op, Args: args, PC: eop.PC, Block: block, LocationIndex: d.locIndex}, true, nil

	case opcodes.CALLDATACOPY, opcodes.CODECOPY, opcodes.RETURNDATACOPY:
		args, err := d.pop(3, stack, loc)
		if err != nil {
			return Op{}, false, err
		}
		return d.emitMemoryCopy(block, eop, args, 0, 2)

	case opcodes.EXTCODECOPY:
		args, err := d.pop(4, stack, loc)
		if err != nil {
			return Op{}, false, err
		}
		return d.emitMemoryCopy(block, eop, args, 1, 3)

	case opcodes.CALL, opcodes.CALLCODE, opcodes.DELEGATECALL, opcodes.STATICCALL:
		n := desc.Pops
		args, err := d.pop(n, stack, loc)
		if err != nil {
			return Op{}, false, err
		}
		d.seenExternalIO = true
		lhs := d.fresh("CALLRETURN", block, eop.PC)
		if err := stack.Push(lhs); err != nil {
			return Op{}, false, err
		}
		return Op{Opcode: eop.Op, Args: args, PC: eop.PC, Block: block, LocationIndex: d.locIndex, LHS: lhs}, true, nil

	case opcodes.CREATE, opcodes.CREATE2:
		args, err := d.pop(desc.Pops, stack, loc)
		if err != nil {
			return Op{}, false, err
		}
		lhs := d.fresh("NEWCONTRACT", block, eop.PC)
		if err := stack.Push(lhs); err != nil {
			return Op{}, false, err
		}
		return Op{Opcode: eop.Op, Args: args, PC: eop.PC, Block: block, LocationIndex: d.locIndex, LHS: lhs}, true, nil

	case opcodes.SELFDESTRUCT:
		args, err := d.pop(1, stack, loc)
		if err != nil {
			return Op{}, false, err
		}
		return Op{Opcode: eop.Op, Args: args, PC: eop.PC, Block: block, LocationIndex: d.locIndex}, true, nil

	case opcodes.RETURNDATASIZE:
		var lhs *Variable
		if !d.seenExternalIO {
			lhs = d.freshConst(block, eop.PC, uint256.NewInt(0))
		} else {
			lhs = d.fresh("V", block, eop.PC)
		}
		if err := stack.Push(lhs); err != nil {
			return Op{}, false, err
		}
		return Op{Opcode: eop.Op, PC: eop.PC, Block: block, LocationIndex: d.locIndex, LHS: lhs}, true, nil
	}

	// Every remaining opcode: pop its operands, fold if possible, push the
	// result.
	args, err := d.pop(desc.Pops, stack, loc)
	if err != nil {
		return Op{}, false, err
	}
	var lhs *Variable
	if desc.Pushes > 0 {
		if folded, ok := fold(eop.Op, args); ok {
			lhs = d.freshConst(block, eop.PC, folded)
		} else {
			lhs = d.fresh("V", block, eop.PC)
		}
		if err := stack.Push(lhs); err != nil {
			return Op{}, false, err
		}
	}
	return Op{Opcode: eop.Op, Args: args, PC: eop.PC, Block: block, LocationIndex: d.locIndex, LHS: lhs}, true, nil
}

// emitMemoryCopy handles CALLDATACOPY/CODECOPY/RETURNDATACOPY/EXTCODECOPY:
// args are in EVM pop order; destOffsetIdx/lengthIdx locate the
// destination offset and length among them. The copied region is modeled
// as a fresh variable named "<MNEMONIC>@<n>@<pc>@<block>".
func (d *Destackifier) emitMemoryCopy(block int, eop disasm.Operation, args []*Variable, destOffsetIdx, lengthIdx int) (Op, bool, error) {
	src := d.fresh(eop.Op.String()+"@", block, eop.PC)
	destOffset, destConst := args[destOffsetIdx], args[destOffsetIdx].Concrete
	length, lengthConst := args[lengthIdx], args[lengthIdx].Concrete
	if destConst && lengthConst {
		d.Mem.MStoreConst(int(destOffset.Value.Uint64()), int(length.Value.Uint64()), src)
	} else if destConst {
		d.Mem.MStoreSymbolic(destOffset.Name, -1, src)
	} else {
		d.Mem.MStoreSymbolic(destOffset.Name, -1, src)
	}
	return Op{Opcode: eop.Op, Args: args, PC: eop.PC, Block: block, LocationIndex: d.locIndex, LHS: src}, true, nil
}

// loadFromMemory resolves an MLOAD whose offset variable may or may not be
// concrete, returning a fresh Variable standing in for the resulting
// value. When the 32-byte read resolves to a single cell spanning the
// whole source value, that source is reused directly instead of wrapping
// it in a new variable, matching spec.md §4.4's raw-value collapse.
func (d *Destackifier) loadFromMemory(block, pc int, offset *Variable) *Variable {
	if offset.Concrete {
		cells, err := d.Mem.MLoadConst(int(offset.Value.Uint64()), 32)
		if err == nil && len(cells) == 1 && cells[0].IsRawRootValue() {
			if v, ok := cells[0].Source.(*Variable); ok {
				return v
			}
		}
	}
	return d.fresh("V", block, pc)
}

// hashFromMemory folds SHA3 over a fully concrete input region: when
// offset and length are both concrete and the region resolves to a
// single cell wrapping one whole concrete Variable's value, the real
// Keccak256 digest is computed and returned as a concrete constant.
// Anything less than fully concrete falls back to a fresh symbolic
// variable; internal/optree's SHA3 substitution table recovers the
// (key, index) structure for the symbolic case at the tree-building
// stage instead.
func (d *Destackifier) hashFromMemory(block, pc int, offset, length *Variable) *Variable {
	if offset.Concrete && length.Concrete {
		n := int(length.Value.Uint64())
		if n >= 0 && n <= 32 {
			cells, err := d.Mem.MLoadConst(int(offset.Value.Uint64()), n)
			if err == nil && len(cells) == 1 && cells[0].Length == n && cells[0].SourceOffset == 0 {
				if v, ok := cells[0].Source.(*Variable); ok && v.Concrete {
					buf := v.Value.Bytes32()
					h := sha3.NewLegacyKeccak256()
					h.Write(buf[32-n:])
					return d.freshConst(block, pc, new(uint256.Int).SetBytes(h.Sum(nil)))
				}
			}
		}
	}
	return d.fresh("V", block, pc)
}
