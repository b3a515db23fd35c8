// Package tac implements the destackifier (C6): it turns a basic block's
// stack-machine operations into three-address code, folding constant
// arithmetic and consulting the memory model (C5) for load/store effects.
package tac

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Location pins a Variable's definition or use to one point in the TAC
// stream: which block, which original pc, and the op's position within
// the per-path location-index sequence.
type Location struct {
	Block int
	PC    int
	Index int
}

// Variable is either a concrete 256-bit value or a named symbolic value.
// |DefSite| is always exactly one per the SSA invariant in spec.md §3;
// UseSites accumulates every place the variable is later consumed.
type Variable struct {
	Name     string
	Concrete bool
	Value    *uint256.Int

	DefSite  Location
	UseSites []Location
}

// SourceID and IsZero satisfy memory.Source so a Variable can be written
// directly into the memory model without that package depending on tac.
func (v *Variable) SourceID() string { return v.Name }

func (v *Variable) IsZero() bool {
	return v.Concrete && v.Value != nil && v.Value.IsZero()
}

func (v *Variable) String() string {
	if v.Concrete {
		return fmt.Sprintf("%s=0x%x", v.Name, v.Value.Bytes())
	}
	return v.Name
}

// markUse appends loc to v's use-site list. Called by the destackifier
// whenever an op consumes v as an argument.
func (v *Variable) markUse(loc Location) {
	v.UseSites = append(v.UseSites, loc)
}
