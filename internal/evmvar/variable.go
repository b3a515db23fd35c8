package evmvar

import "fmt"

// KeyTree is the minimal surface a map/array index expression tree must
// provide to be attached as a State or Arg's Keys entry. internal/optree's
// Tree type implements this; evmvar never imports optree, so OpTree can
// freely reference State/Arg/Property without an import cycle.
type KeyTree interface {
	// StructuralString renders a canonical, deterministic textual form
	// used for structural-hash equality (spec.md §9).
	StructuralString() string
}

// Kind tags which of State/Arg/Property a Variable actually holds.
type Kind int

const (
	KindState Kind = iota
	KindArg
	KindProperty
)

func (k Kind) String() string {
	switch k {
	case KindState:
		return "EVMState"
	case KindArg:
		return "EVMArg"
	default:
		return "EVMProperty"
	}
}

// State is a storage location, possibly sub-word (spec.md §3).
type State struct {
	Index   int
	Offset  int
	Length  int
	Type    Type
	IsPublic bool
	Signature string
	Name    string

	// Counts is the SSA-like generation of this slot along the current
	// path: how many stores to (Index, Keys) precede the current read.
	Counts int
	// CountsMapping records the TAC location index of every write to
	// (Index, Keys) seen so far, in order; Counts is len(CountsMapping)
	// entries ≤ the read's own location.
	CountsMapping []int

	Keys []KeyTree
}

// StructuralString renders State for structural-hash comparisons.
func (s *State) StructuralString() string {
	return fmt.Sprintf("State(index=%d,offset=%d,length=%d,keys=%d)", s.Index, s.Offset, s.Length, len(s.Keys))
}

// canonicalTotalSupplySignature is the well-known ERC20 totalSupply()
// selector; spec.md §3 supplement #2 carries the original's hot fix that
// renames the internal "voting_var" placeholder name to "totalSupply" for
// this one signature.
const canonicalTotalSupplySignature = "0x18160ddd"

// ApplyKnownSignatureRename implements the totalSupply() naming hot fix.
func (s *State) ApplyKnownSignatureRename() {
	if s.Signature == canonicalTotalSupplySignature && s.Name == "" {
		s.Name = "totalSupply"
	}
}

// Arg is a calldata parameter.
type Arg struct {
	Index     int
	IsDynamic bool
	Keys      []KeyTree
}

func (a *Arg) StructuralString() string {
	return fmt.Sprintf("Arg(index=%d,dynamic=%v,keys=%d)", a.Index, a.IsDynamic, len(a.Keys))
}

// NormalizedIndex implements the original's EVMArg index-normalization
// rule: calldata argument slots start at byte 4 (past the selector) and
// are 32-byte aligned, so (index-4) must be a multiple of 0x20.
func (a *Arg) NormalizedIndex() (int, bool) {
	if a.Index < 4 {
		return 0, false
	}
	if (a.Index-4)%0x20 != 0 {
		return 0, false
	}
	return (a.Index - 4) / 0x20, true
}

// Property is a transaction/block property (CALLER, CALLVALUE, TIMESTAMP,
// etc.) carried as a named leaf rather than a resolved value.
type Property struct {
	Name string
}

func (p *Property) StructuralString() string {
	return fmt.Sprintf("Property(%s)", p.Name)
}

// Variable is the tagged EVMVariable union: exactly one of State, Arg or
// Property is set, matching Kind.
type Variable struct {
	Kind     Kind
	State    *State
	Arg      *Arg
	Property *Property
}

func NewState(s *State) *Variable     { return &Variable{Kind: KindState, State: s} }
func NewArg(a *Arg) *Variable         { return &Variable{Kind: KindArg, Arg: a} }
func NewProperty(p *Property) *Variable { return &Variable{Kind: KindProperty, Property: p} }

func (v *Variable) StructuralString() string {
	switch v.Kind {
	case KindState:
		return v.State.StructuralString()
	case KindArg:
		return v.Arg.StructuralString()
	default:
		return v.Property.StructuralString()
	}
}
