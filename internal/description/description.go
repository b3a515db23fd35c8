// Package description is the narrow seam between the semantic unit
// extractor's output and the separate description-generation tool spec.md
// §6 calls out as "out of scope": a textual summary for a human reviewer,
// kept intentionally small so the real generator can live in its own repo.
package description

import (
	"fmt"
	"sort"
	"strings"

	"github.com/semunits/disco/internal/semantic"
)

// Generator turns semantic units into human-readable one-line summaries.
// The real description generator (richer NLP-style phrasing, variable
// naming heuristics) is an external collaborator; this is a narrow,
// dependency-free stand-in good enough to exercise the rest of the
// pipeline end to end.
type Generator struct{}

// New returns a Generator.
func New() *Generator { return &Generator{} }

// Describe renders one line per unit: its behavior, the functions it
// belongs to, and the number of guarding conditions, sorted by function
// name then behavior pc for a stable, reviewable ordering.
func (g *Generator) Describe(units []*semantic.SemanticUnit) []string {
	sorted := make([]*semantic.SemanticUnit, len(units))
	copy(sorted, units)
	sort.Slice(sorted, func(i, j int) bool {
		fi, fj := firstFunction(sorted[i]), firstFunction(sorted[j])
		if fi != fj {
			return fi < fj
		}
		return firstPC(sorted[i]) < firstPC(sorted[j])
	})

	lines := make([]string, len(sorted))
	for i, u := range sorted {
		lines[i] = describeOne(u)
	}
	return lines
}

func describeOne(u *semantic.SemanticUnit) string {
	fns := make([]string, 0, len(u.BelongFunctions))
	for name := range u.BelongFunctions {
		fns = append(fns, name)
	}
	sort.Strings(fns)

	pcs := make([]string, len(u.Behavior.BehaviorPCs))
	for i, pc := range u.Behavior.BehaviorPCs {
		pcs[i] = fmt.Sprintf("0x%x", pc)
	}

	return fmt.Sprintf("%s at [%s] in %s, guarded by %d condition(s)",
		u.Behavior.Kind, strings.Join(pcs, ","), strings.Join(fns, "|"), len(u.Conditions))
}

func firstFunction(u *semantic.SemanticUnit) string {
	best := ""
	for name := range u.BelongFunctions {
		if best == "" || name < best {
			best = name
		}
	}
	return best
}

func firstPC(u *semantic.SemanticUnit) int {
	if len(u.Behavior.BehaviorPCs) == 0 {
		return 0
	}
	min := u.Behavior.BehaviorPCs[0]
	for _, pc := range u.Behavior.BehaviorPCs[1:] {
		if pc < min {
			min = pc
		}
	}
	return min
}
