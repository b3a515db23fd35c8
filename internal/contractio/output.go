package contractio

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/semunits/disco/internal/evmvar"
	"github.com/semunits/disco/internal/optree"
	"github.com/semunits/disco/internal/semantic"
)

// cstateNames mirrors internal/optree's CState iota order, used to render
// a condition's cstates bitset as the named `{...}` object spec.md §6 shows.
var cstateNames = []string{
	"on_sload", "on_caller", "on_callvalue", "on_extcodesize",
	"on_calldatasize", "on_calls", "on_creates", "on_selfdestruct",
	"on_callreturn",
}

type treeJSON struct {
	Name               string      `json:"name"`
	AliasEVMVariable   *varJSON    `json:"alias_evm_variable,omitempty"`
	ContainedEVMStates []string    `json:"contained_evm_states,omitempty"`
	Sons               []*treeJSON `json:"sons"`
}

type varJSON struct {
	VariableType string `json:"variableType"`
	Index        int    `json:"index,omitempty"`
	Offset       int    `json:"offset,omitempty"`
	Length       int    `json:"length,omitempty"`
	Name         string `json:"name,omitempty"`
	IsDynamic    bool   `json:"isDynamic,omitempty"`
}

type conditionJSON struct {
	Optree      *treeJSON       `json:"optree"`
	ConditionPC string          `json:"condition_pc"`
	CStates     map[string]bool `json:"cstates"`
}

type behaviorJSON struct {
	RHS          *varJSON    `json:"rhs,omitempty"`
	LHS          []*treeJSON `json:"lhs"`
	BehaviorType string      `json:"behavior_type"`
	BehaviorPCs  []string    `json:"behavior_pcs"`
}

type unitJSON struct {
	Conditions      []conditionJSON `json:"conditions"`
	Behavior        behaviorJSON    `json:"behavior"`
	BelongFunctions []string        `json:"belong_functions"`
}

func hexPC(pc int) string {
	return fmt.Sprintf("0x%x", pc)
}

func variableToJSON(v *evmvar.Variable) *varJSON {
	if v == nil {
		return nil
	}
	switch v.Kind {
	case evmvar.KindState:
		return &varJSON{
			VariableType: "EVMState",
			Index:        v.State.Index,
			Offset:       v.State.Offset,
			Length:       v.State.Length,
			Name:         v.State.Name,
		}
	case evmvar.KindArg:
		return &varJSON{
			VariableType: "EVMArg",
			Index:        v.Arg.Index,
			IsDynamic:    v.Arg.IsDynamic,
		}
	default:
		return &varJSON{
			VariableType: "EVMProperty",
			Name:         v.Property.Name,
		}
	}
}

func treeToJSON(t *optree.Tree) *treeJSON {
	if t == nil {
		return nil
	}
	if t.Concrete {
		return &treeJSON{Name: t.Value.Hex()}
	}
	sons := make([]*treeJSON, len(t.Sons))
	for i, s := range t.Sons {
		sons[i] = treeToJSON(s)
	}
	states := make([]string, len(t.ContainedStates))
	for i, s := range t.ContainedStates {
		states[i] = s.StructuralString()
	}
	return &treeJSON{
		Name:               t.Name,
		AliasEVMVariable:   variableToJSON(t.AliasState),
		ContainedEVMStates: states,
		Sons:               sons,
	}
}

func conditionToJSON(c *semantic.Condition) conditionJSON {
	cstates := make(map[string]bool, len(cstateNames))
	for i, name := range cstateNames {
		cstates[name] = c.CStates != nil && c.CStates.Test(uint(i))
	}
	return conditionJSON{
		Optree:      treeToJSON(c.OpTree),
		ConditionPC: hexPC(c.ConditionPC),
		CStates:     cstates,
	}
}

func behaviorToJSON(b semantic.Behavior) behaviorJSON {
	lhs := make([]*treeJSON, len(b.LHS))
	for i, t := range b.LHS {
		lhs[i] = treeToJSON(t)
	}
	pcs := make([]string, len(b.BehaviorPCs))
	for i, pc := range b.BehaviorPCs {
		pcs[i] = hexPC(pc)
	}
	return behaviorJSON{
		RHS:          variableToJSON(b.RHS),
		LHS:          lhs,
		BehaviorType: b.Kind.String(),
		BehaviorPCs:  pcs,
	}
}

func unitToJSON(u *semantic.SemanticUnit) unitJSON {
	conditions := make([]conditionJSON, len(u.Conditions))
	for i, c := range u.Conditions {
		conditions[i] = conditionToJSON(c)
	}
	fns := make([]string, 0, len(u.BelongFunctions))
	for name := range u.BelongFunctions {
		fns = append(fns, name)
	}
	sort.Strings(fns)
	return unitJSON{
		Conditions:      conditions,
		Behavior:        behaviorToJSON(u.Behavior),
		BelongFunctions: fns,
	}
}

// WriteSemanticUnits encodes units as newline-delimited JSON, one object
// per unit, per spec.md §6's output schema.
func WriteSemanticUnits(w io.Writer, units []*semantic.SemanticUnit) error {
	enc := json.NewEncoder(w)
	for _, u := range units {
		if err := enc.Encode(unitToJSON(u)); err != nil {
			return err
		}
	}
	return nil
}
