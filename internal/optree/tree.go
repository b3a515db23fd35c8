// Package optree implements the OpTree expression DAG (C7): a recursive
// expression tree reconstructed from a Variable's unique definition site,
// tagged with a cstates bitset describing which semantic checks it
// performs.
package optree

import (
	"fmt"
	"strings"

	"github.com/bits-and-blooms/bitset"
	"github.com/holiman/uint256"

	"github.com/semunits/disco/internal/evmvar"
)

// CState is one bit of the cstates bitset spec.md §3 describes: "on_sload,
// on_caller, on_callvalue, on_extcodesize, on_calldatasize, on_calls,
// on_creates, on_selfdestruct, on_callreturn".
type CState uint

const (
	OnSload CState = iota
	OnCaller
	OnCallvalue
	OnExtcodesize
	OnCalldatasize
	OnCalls
	OnCreates
	OnSelfdestruct
	OnCallreturn
	numCStates
)

// Tree is one node of the expression DAG. Sons/Father give it both
// directions of traversal, matching spec.md §9's "recursive tree with
// upward pointers".
type Tree struct {
	Name   string
	Sons   []*Tree
	Father *Tree

	// AliasState is set when this node stands for a canonical EVMVariable
	// (an SLOAD result, an Arg, or a Property leaf).
	AliasState *evmvar.Variable

	ContainedStates     []*evmvar.State
	ContainedArgs       []*evmvar.Arg
	ContainedProperties []*evmvar.Property

	Concrete bool
	Value    *uint256.Int

	// booleanHint is set by the ISZERO ISZERO cast-removal rule, marking
	// the inner single-byte state as a boolean (spec.md §4.5).
	booleanHint bool

	CStates *bitset.BitSet
}

// IsBooleanHint reports whether cast removal marked this node boolean.
func (t *Tree) IsBooleanHint() bool { return t.booleanHint }

// newLeaf builds a zero-son node and seeds its own cstates bit.
func newLeaf(name string) *Tree {
	t := &Tree{Name: name, CStates: bitset.New(uint(numCStates))}
	if bit, ok := impliedCState(name); ok {
		t.CStates.Set(uint(bit))
	}
	return t
}

// newNode builds an interior node, ORing its own implied bit with every
// son's cstates, matching the invariant in spec.md §3:
// "OpTree.cstates = OR(self.name) | OR(cstates of sons)".
func newNode(name string, sons ...*Tree) *Tree {
	t := newLeaf(name)
	t.Sons = sons
	for _, s := range sons {
		s.Father = t
		t.CStates = t.CStates.Union(s.CStates)
	}
	return t
}

func impliedCState(name string) (CState, bool) {
	switch {
	case name == "SLOAD":
		return OnSload, true
	case name == "CALLER":
		return OnCaller, true
	case name == "CALLVALUE":
		return OnCallvalue, true
	case name == "EXTCODESIZE":
		return OnExtcodesize, true
	case name == "CALLDATASIZE":
		return OnCalldatasize, true
	case name == "CALL" || name == "CALLCODE" || name == "DELEGATECALL" || name == "STATICCALL":
		return OnCalls, true
	case name == "CREATE" || name == "CREATE2":
		return OnCreates, true
	case name == "SELFDESTRUCT":
		return OnSelfdestruct, true
	case strings.HasPrefix(name, "CALLRETURN"):
		return OnCallreturn, true
	}
	return 0, false
}

// Has reports whether the tree's cstates include c.
func (t *Tree) Has(c CState) bool {
	return t.CStates.Test(uint(c))
}

// StructuralString renders a stable, deterministic textual form used for
// structural-hash equality (spec.md §9): two trees are equal iff their
// StructuralString matches.
func (t *Tree) StructuralString() string {
	if t.Concrete {
		return fmt.Sprintf("0x%x", t.Value.Bytes())
	}
	if len(t.Sons) == 0 {
		return t.Name
	}
	parts := make([]string, len(t.Sons))
	for i, s := range t.Sons {
		parts[i] = s.StructuralString()
	}
	return fmt.Sprintf("%s(%s)", t.Name, strings.Join(parts, ","))
}

// Background implements the original's get_background supplement
// (SPEC_FULL.md §3 item 3): the set of zero-arg, one-push "background"
// leaves inside a tree — things like CALLVALUE/TIMESTAMP that a
// description generator may want to surface even though they carry no
// operands of their own.
var backgroundLeaves = map[string]bool{
	"CALLVALUE": true, "TIMESTAMP": true, "NUMBER": true, "COINBASE": true,
	"ORIGIN": true, "GASPRICE": true, "CHAINID": true, "BASEFEE": true,
	"CALLDATASIZE": true, "ADDRESS": true, "SELFBALANCE": true,
}

func (t *Tree) Background() []*Tree {
	var out []*Tree
	var walk func(n *Tree)
	walk = func(n *Tree) {
		if len(n.Sons) == 0 && backgroundLeaves[n.Name] {
			out = append(out, n)
		}
		for _, s := range n.Sons {
			walk(s)
		}
	}
	walk(t)
	return out
}
