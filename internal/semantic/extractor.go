package semantic

import (
	"sort"
	"strings"

	"github.com/holiman/uint256"

	"github.com/semunits/disco/internal/evmvar"
	"github.com/semunits/disco/internal/opcodes"
	"github.com/semunits/disco/internal/optree"
	"github.com/semunits/disco/internal/storage"
	"github.com/semunits/disco/internal/tac"
)

// ConstError is a sentinel-error-as-string-constant, matching the pattern
// used across internal/symstack, internal/memory, internal/tac.
type ConstError string

func (e ConstError) Error() string { return string(e) }

// ErrInfeasiblePath is returned when a concrete JUMPI condition contradicts
// the branch this path actually takes, or the feasibility checker rejects
// the expanded condition set.
const ErrInfeasiblePath = ConstError("semantic: path is infeasible")

// FeasibilityChecker is the narrow interface the SMT checker (C10) plugs
// in through. Extraction proceeds unconditionally when Checker is nil.
type FeasibilityChecker interface {
	Check(conditions []*Condition) (feasible bool)
}

// propertyLeaves names the zero-arg opcodes that resolve directly to an
// EVMProperty rather than needing further structural analysis.
var propertyLeaves = map[string]bool{
	"CALLER": true, "CALLVALUE": true, "TIMESTAMP": true, "NUMBER": true,
	"COINBASE": true, "ORIGIN": true, "GASPRICE": true, "CHAINID": true,
	"BASEFEE": true, "CALLDATASIZE": true, "ADDRESS": true, "SELFBALANCE": true,
	"GAS": true, "DIFFICULTY": true,
}

// Extractor walks one path's TAC ops block by block, per spec.md §4.7.
type Extractor struct {
	Storage     *storage.Analyzer
	ExitBlockOf map[int]int
	Checker     FeasibilityChecker

	// SHA3 is the optional constant-preimage table (§4.6): when set,
	// every tree built from a TAC variable has its concrete SHA3-result
	// leaves substituted back into SHA3(key, index) subtrees before
	// reaching storage analysis.
	SHA3 optree.SHA3Lookup

	opIndex optree.OpIndex

	conditions []*Condition
	nextCondID int
	depsByVar  map[string]map[int]bool
	condByID   map[int]*Condition

	// precompileCall maps a CALLRETURN variable's name to the concrete
	// target address it called, letting later JUMPI conditions recognize
	// ecrecover(0x1)/sha256(0x2) results (spec.md §4.7 item 3 last clause).
	precompileCall map[string]int
}

// NewExtractor creates an Extractor for a single path.
func NewExtractor(st *storage.Analyzer, exitBlockOf map[int]int, checker FeasibilityChecker) *Extractor {
	return &Extractor{
		Storage:        st,
		ExitBlockOf:    exitBlockOf,
		Checker:        checker,
		opIndex:        make(optree.OpIndex),
		depsByVar:      make(map[string]map[int]bool),
		condByID:       make(map[int]*Condition),
		precompileCall: make(map[string]int),
	}
}

// ProcessBlock walks one block's TAC ops in path order, returning every
// SemanticUnit emitted while processing it. branchCondTrue only matters
// when the block ends in a JUMPI: it reports which branch this path
// actually follows (true = jump taken, false = fallthrough).
func (e *Extractor) ProcessBlock(blockIdent int, ops []tac.Op, branchCondTrue bool, functionName string) ([]*SemanticUnit, error) {
	for i := range ops {
		if ops[i].LHS != nil {
			e.opIndex[ops[i].LHS.Name] = &ops[i]
		}
	}

	e.dropStale(blockIdent)

	var emitted []*SemanticUnit
	for i := range ops {
		op := ops[i]
		e.propagateDeps(op)

		switch op.Opcode {
		case opcodes.JUMPI:
			if err := e.handleJUMPI(blockIdent, op, branchCondTrue); err != nil {
				return emitted, err
			}
		case opcodes.SSTORE:
			units, err := e.handleSSTORE(blockIdent, op, functionName)
			if err != nil {
				return emitted, err
			}
			emitted = append(emitted, units...)
		case opcodes.CALL, opcodes.CALLCODE, opcodes.DELEGATECALL, opcodes.STATICCALL:
			emitted = append(emitted, e.handleCall(blockIdent, op, functionName))
		case opcodes.CREATE, opcodes.CREATE2:
			emitted = append(emitted, e.handleCreate(blockIdent, op, functionName))
		case opcodes.SELFDESTRUCT:
			emitted = append(emitted, e.handleSelfdestruct(blockIdent, op, functionName))
		}
	}
	return emitted, nil
}

// dropStale implements spec.md §4.7 item 1: any condition whose owning
// block's exit is the current block is popped.
func (e *Extractor) dropStale(blockIdent int) {
	for len(e.conditions) > 0 {
		top := e.conditions[len(e.conditions)-1]
		if exit, ok := e.ExitBlockOf[top.BlockIdent]; ok && exit == blockIdent {
			e.conditions = e.conditions[:len(e.conditions)-1]
			continue
		}
		break
	}
}

func (e *Extractor) activeIDs() map[int]bool {
	ids := make(map[int]bool, len(e.conditions))
	for _, c := range e.conditions {
		ids[c.ID] = true
	}
	return ids
}

// propagateDeps implements spec.md §4.7 item 2: an op's LHS depends on the
// conditions currently active plus the union of its args' dependencies.
func (e *Extractor) propagateDeps(op tac.Op) {
	if op.LHS == nil {
		return
	}
	deps := e.activeIDs()
	for _, a := range op.Args {
		for id := range e.depsByVar[a.Name] {
			deps[id] = true
		}
	}
	e.depsByVar[op.LHS.Name] = deps
}

// handleJUMPI implements spec.md §4.7 item 3.
func (e *Extractor) handleJUMPI(blockIdent int, op tac.Op, branchCondTrue bool) error {
	condVar := op.Args[1]
	if condVar.Concrete {
		isTrue := !condVar.Value.IsZero()
		if isTrue != branchCondTrue {
			return ErrInfeasiblePath
		}
		return nil
	}

	tree := e.build(condVar)
	tree = optree.Simplify(tree)
	tree = optree.ApplyCastRemoval(tree)
	tree = optree.NormalizeCondition(tree, !branchCondTrue)

	switch {
	case tree.Has(optree.OnCalls) || tree.Has(optree.OnCreates) || tree.Has(optree.OnSelfdestruct):
		return nil
	case tree.Has(optree.OnExtcodesize):
		e.widenExtcodesizeSubject(tree)
		return nil
	default:
		cond := &Condition{
			ID:          e.nextCondID,
			OpTree:      tree,
			ConditionPC: op.PC,
			DstVar:      op.Args[0].Name,
			CondVar:     condVar.Name,
			CStates:     tree.CStates,
			BlockIdent:  blockIdent,
		}
		e.nextCondID++
		e.condByID[cond.ID] = cond
		e.conditions = append(e.conditions, cond)

		if tree.Has(optree.OnSload) && tree.Has(optree.OnCallreturn) {
			e.rewriteEcrecoverSha256Subject(tree)
		}

		if e.Checker != nil && !e.Checker.Check(e.conditions) {
			return ErrInfeasiblePath
		}
		return nil
	}
}

// build renders a TAC variable into its expression tree, applying SHA3
// constant substitution first when a lookup table is configured.
func (e *Extractor) build(v *tac.Variable) *optree.Tree {
	t := optree.Build(v, e.opIndex)
	if e.SHA3 != nil {
		t = optree.SubstituteSHA3(t, e.SHA3)
	}
	return t
}

func findNode(t *optree.Tree, name string) *optree.Tree {
	if t.Name == name {
		return t
	}
	for _, s := range t.Sons {
		if f := findNode(s, name); f != nil {
			return f
		}
	}
	return nil
}

func findNodeByPrefix(t *optree.Tree, prefix string) *optree.Tree {
	if strings.HasPrefix(t.Name, prefix) {
		return t
	}
	for _, s := range t.Sons {
		if f := findNodeByPrefix(s, prefix); f != nil {
			return f
		}
	}
	return nil
}

// widenExtcodesizeSubject implements the "SLOAD subject widened to
// contract" rewrite for an on_extcodesize condition.
func (e *Extractor) widenExtcodesizeSubject(tree *optree.Tree) {
	sload := findNode(tree, "SLOAD")
	if sload == nil || len(sload.Sons) == 0 {
		return
	}
	st, err := e.Storage.AnalyzeSLOAD(sload.Sons[0], sload)
	if err != nil {
		return
	}
	st.Type.WidenToContract()
}

// rewriteEcrecoverSha256Subject marks the SLOAD-resolved state compared
// against an ecrecover/sha256 CALLRETURN as a full 32-byte word.
func (e *Extractor) rewriteEcrecoverSha256Subject(tree *optree.Tree) {
	callLeaf := findNodeByPrefix(tree, "CALLRETURN")
	if callLeaf == nil {
		return
	}
	target, ok := e.precompileCall[callLeaf.Name]
	if !ok || (target != 1 && target != 2) {
		return
	}
	sload := findNode(tree, "SLOAD")
	if sload == nil || len(sload.Sons) == 0 {
		return
	}
	st, err := e.Storage.AnalyzeSLOAD(sload.Sons[0], sload)
	if err != nil {
		return
	}
	st.Type.ByteLength = 32
}

// handleSSTORE implements spec.md §4.7 item 4.
func (e *Extractor) handleSSTORE(blockIdent int, op tac.Op, functionName string) ([]*SemanticUnit, error) {
	slotTree := e.build(op.Args[0])
	valueTree := e.build(op.Args[1])
	valueTree = optree.Simplify(valueTree)
	valueTree = optree.ApplyCastRemoval(valueTree)

	updates, err := e.Storage.AnalyzeSSTORE(slotTree, valueTree)
	if err != nil {
		// OutOfRulesException (spec.md §7): caller falls back to
		// (offset=0, length=32) and still emits a unit for the write,
		// rather than silently dropping it.
		updates = []storage.PackedUpdate{{State: e.Storage.FallbackState(), Value: valueTree}}
	}

	expanded := e.expandConditions(valueTree)

	units := make([]*SemanticUnit, 0, len(updates))
	for _, upd := range updates {
		e.Storage.RecordWrite(upd.State.Index, upd.State.Keys, op.LocationIndex)

		lhs := upd.Value
		if lhs == nil {
			lhs = &optree.Tree{Name: "CONST", Concrete: true, Value: uint256.NewInt(0)}
		}

		units = append(units, &SemanticUnit{
			Conditions: expanded,
			Behavior: Behavior{
				RHS:         evmvar.NewState(upd.State),
				LHS:         []*optree.Tree{lhs},
				Kind:        BehaviorSSTORE,
				BehaviorPCs: []int{op.PC},
				BlockIdent:  blockIdent,
			},
			BelongFunctions: map[string]bool{functionName: true},
		})
	}
	return units, nil
}

// expandConditions implements the expanded-condition rule shared by
// SSTORE/CALL/CREATE/SELFDESTRUCT emission: the active stack, plus
// whatever conditions the value's variable dependencies reach.
func (e *Extractor) expandConditions(valueTree *optree.Tree) []*Condition {
	ids := e.activeIDs()
	for _, leafName := range collectLeafNames(valueTree) {
		for id := range e.depsByVar[leafName] {
			ids[id] = true
		}
	}
	result := make([]*Condition, 0, len(ids))
	for id := range ids {
		if c, ok := e.condByID[id]; ok {
			result = append(result, c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

func collectLeafNames(t *optree.Tree) []string {
	if len(t.Sons) == 0 {
		return []string{t.Name}
	}
	var out []string
	for _, s := range t.Sons {
		out = append(out, collectLeafNames(s)...)
	}
	return out
}

// resolveEVMVariable recognizes an expression tree as a canonical
// EVMVariable: an SLOAD (State), a CALLDATALOAD (Arg), or a known
// environment property leaf (Property). Anything else returns nil.
func (e *Extractor) resolveEVMVariable(t *optree.Tree) *evmvar.Variable {
	switch {
	case t.Name == "SLOAD" && len(t.Sons) == 1:
		st, err := e.Storage.AnalyzeSLOAD(t.Sons[0], t)
		if err != nil {
			return nil
		}
		return evmvar.NewState(st)
	case t.Name == "CALLDATALOAD" && len(t.Sons) == 1:
		idx := t.Sons[0]
		if idx.Concrete && idx.Value != nil {
			return evmvar.NewArg(&evmvar.Arg{Index: int(idx.Value.Uint64())})
		}
		return evmvar.NewArg(&evmvar.Arg{IsDynamic: true})
	case propertyLeaves[t.Name]:
		return evmvar.NewProperty(&evmvar.Property{Name: t.Name})
	default:
		return nil
	}
}

func orFallback(v *evmvar.Variable, t *optree.Tree) *evmvar.Variable {
	if v != nil {
		return v
	}
	return evmvar.NewProperty(&evmvar.Property{Name: t.StructuralString()})
}

// handleCall implements spec.md §4.7 item 5.
func (e *Extractor) handleCall(blockIdent int, op tac.Op, functionName string) *SemanticUnit {
	addrTree := e.build(op.Args[1])
	addrVar := e.resolveEVMVariable(addrTree)
	if addrVar != nil && addrVar.Kind == evmvar.KindState {
		addrVar.State.Type.WidenToContract()
	}

	if addrTree.Concrete && addrTree.Value != nil && op.LHS != nil {
		e.precompileCall[op.LHS.Name] = int(addrTree.Value.Uint64())
	}

	var lhs []*optree.Tree
	var kind BehaviorKind
	switch op.Opcode {
	case opcodes.CALL:
		kind = BehaviorCall
		lhs = append(lhs, e.build(op.Args[2]))
	case opcodes.CALLCODE:
		kind = BehaviorCallcode
		lhs = append(lhs, e.build(op.Args[2]))
	case opcodes.DELEGATECALL:
		kind = BehaviorDelegatecall
	case opcodes.STATICCALL:
		kind = BehaviorStaticcall
	}

	return &SemanticUnit{
		Conditions: e.expandConditions(addrTree),
		Behavior: Behavior{
			RHS:         orFallback(addrVar, addrTree),
			LHS:         lhs,
			Kind:        kind,
			BehaviorPCs: []int{op.PC},
			BlockIdent:  blockIdent,
		},
		BelongFunctions: map[string]bool{functionName: true},
	}
}

// handleCreate implements spec.md §4.7 item 6.
func (e *Extractor) handleCreate(blockIdent int, op tac.Op, functionName string) *SemanticUnit {
	lhs := []*optree.Tree{{Name: "MEMCODE"}}
	kind := BehaviorCreate
	if op.Opcode == opcodes.CREATE2 && len(op.Args) == 4 {
		lhs = append(lhs, e.build(op.Args[3]))
		kind = BehaviorCreate2
	}

	return &SemanticUnit{
		Conditions: append([]*Condition(nil), e.conditions...),
		Behavior: Behavior{
			RHS:         evmvar.NewProperty(&evmvar.Property{Name: "newContract"}),
			LHS:         lhs,
			Kind:        kind,
			BehaviorPCs: []int{op.PC},
			BlockIdent:  blockIdent,
		},
		BelongFunctions: map[string]bool{functionName: true},
	}
}

// handleSelfdestruct implements spec.md §4.7 item 7.
func (e *Extractor) handleSelfdestruct(blockIdent int, op tac.Op, functionName string) *SemanticUnit {
	beneficiary := e.build(op.Args[0])
	balance := &optree.Tree{Name: "SELFBALANCE"}

	return &SemanticUnit{
		Conditions: append([]*Condition(nil), e.conditions...),
		Behavior: Behavior{
			RHS:         orFallback(e.resolveEVMVariable(beneficiary), beneficiary),
			LHS:         []*optree.Tree{balance},
			Kind:        BehaviorSelfdestruct,
			BehaviorPCs: []int{op.PC},
			BlockIdent:  blockIdent,
		},
		BelongFunctions: map[string]bool{functionName: true},
	}
}
