// Package function implements the function splitter (C11): it recognizes
// compiler dispatcher prologues and attributes explored paths to the
// function selector whose branch they took.
package function

import (
	"fmt"

	"github.com/semunits/disco/internal/cfg"
	"github.com/semunits/disco/internal/opcodes"
)

// Fallback is the signature a path is attributed to when no dispatcher
// block along it matched.
const Fallback = "0x"

// Dispatcher records one recognized selector-comparison block: Selector is
// the zero-padded 4-byte hex signature it compares against, BodyEntry is
// the block entered when the comparison succeeds (the JUMPI's jump
// target, as opposed to its fallthrough).
type Dispatcher struct {
	Selector  string
	BodyEntry int
}

// BuildTable scans every block in g for a dispatcher prologue and returns
// a map keyed by the dispatcher block's entry pc.
func BuildTable(g *cfg.Graph) map[int]Dispatcher {
	table := make(map[int]Dispatcher)
	for _, b := range g.Blocks {
		if d, ok := detect(b); ok {
			table[b.Entry] = d
		}
	}
	return table
}

// detect recognizes one of the two dispatcher prologue shapes spec.md §4.9
// names: a `DUP1 ... PUSH_n EQ` window or a `PUSH_n DUP2 EQ` window, closed
// by the block's own JUMPI. Either shape needs: a PUSH immediately before
// the EQ, or immediately before a DUP2 that directly precedes the EQ (the
// candidate selector), a DUP1 or DUP2 elsewhere before the EQ, and the
// block must end in JUMPI with a resolved jump target.
func detect(b *cfg.Block) (Dispatcher, bool) {
	if len(b.Ops) < 4 {
		return Dispatcher{}, false
	}
	last := b.Ops[len(b.Ops)-1]
	if last.Op != opcodes.JUMPI {
		return Dispatcher{}, false
	}

	eqIdx := -1
	for i, op := range b.Ops {
		if op.Op == opcodes.EQ {
			eqIdx = i
			break
		}
	}
	if eqIdx < 1 {
		return Dispatcher{}, false
	}

	pushIdx := eqIdx - 1
	if b.Ops[pushIdx].Op == opcodes.DUP2 && pushIdx >= 1 {
		pushIdx--
	}
	push := b.Ops[pushIdx]
	if d, ok := opcodes.Lookup(byte(push.Op)); !ok || !d.IsPush {
		return Dispatcher{}, false
	}

	sawDup := false
	for i := 0; i < eqIdx; i++ {
		if i == pushIdx {
			continue
		}
		if op := b.Ops[i].Op; op == opcodes.DUP1 || op == opcodes.DUP2 {
			sawDup = true
			break
		}
	}
	if !sawDup {
		return Dispatcher{}, false
	}

	bodyEntry, ok := jumpTarget(b)
	if !ok {
		return Dispatcher{}, false
	}

	return Dispatcher{Selector: selectorHex(push.Immediate), BodyEntry: bodyEntry}, true
}

// jumpTarget returns the JUMPI's taken-branch target: the one successor
// that isn't the recorded fallthrough.
func jumpTarget(b *cfg.Block) (int, bool) {
	for _, s := range b.Succs {
		if b.Fallthrough == nil || s != *b.Fallthrough {
			return s, true
		}
	}
	return 0, false
}

// selectorHex renders a (possibly short) PUSH immediate as an 8-hex-digit
// signature, truncating to the low 4 bytes and zero-padding shorter ones,
// per spec.md §4.9.
func selectorHex(imm []byte) string {
	if len(imm) > 4 {
		imm = imm[len(imm)-4:]
	}
	v := 0
	for _, b := range imm {
		v = v<<8 | int(b)
	}
	return fmt.Sprintf("0x%08x", v)
}

// FunctionOf implements spec.md §4.9's attribution rule: walking the path's
// blocks in order, the latest dispatcher whose BodyEntry equals the path's
// next block wins; a path matching no dispatcher belongs to the fallback
// function.
func FunctionOf(path []int, table map[int]Dispatcher) string {
	latest := Fallback
	for i := 0; i+1 < len(path); i++ {
		d, ok := table[path[i]]
		if ok && d.BodyEntry == path[i+1] {
			latest = d.Selector
		}
	}
	return latest
}
