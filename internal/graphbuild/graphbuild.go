// Package graphbuild is the narrow seam between the semantic unit
// extractor's output and the separate graph-construction tool spec.md §6
// calls out as "out of scope": a DAG over units whose behaviors write the
// same storage slot index (units sharing only a behavior pc are not
// connected), good enough to exercise the pipeline end to end without
// pulling in the real graph database/visualization stack.
package graphbuild

import (
	"sort"

	"github.com/semunits/disco/internal/evmvar"
	"github.com/semunits/disco/internal/semantic"
)

// Node is one semantic unit placed in the graph.
type Node struct {
	Unit *semantic.SemanticUnit
	Key  string
}

// Edge connects two units that reference the same storage state, the
// simplest real correlation a reader can verify without re-running the
// analysis.
type Edge struct {
	From, To string
}

// Graph is the built DAG: nodes keyed by SemanticUnit.Hash(), edges
// between units sharing a storage state.
type Graph struct {
	Nodes []Node
	Edges []Edge
}

// Build constructs a Graph from a deduplicated unit set.
func Build(units []*semantic.SemanticUnit) *Graph {
	g := &Graph{Nodes: make([]Node, 0, len(units))}
	stateOwners := map[int][]string{}

	for _, u := range units {
		key := u.Hash()
		g.Nodes = append(g.Nodes, Node{Unit: u, Key: key})
		if idx, ok := stateIndex(u.Behavior.RHS); ok {
			stateOwners[idx] = append(stateOwners[idx], key)
		}
	}

	seen := map[[2]string]bool{}
	for _, keys := range stateOwners {
		sort.Strings(keys)
		for i := 0; i < len(keys); i++ {
			for j := i + 1; j < len(keys); j++ {
				pair := [2]string{keys[i], keys[j]}
				if seen[pair] {
					continue
				}
				seen[pair] = true
				g.Edges = append(g.Edges, Edge{From: keys[i], To: keys[j]})
			}
		}
	}
	return g
}

func stateIndex(v *evmvar.Variable) (int, bool) {
	if v == nil || v.Kind != evmvar.KindState {
		return 0, false
	}
	return v.State.Index, true
}
