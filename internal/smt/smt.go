// Package smt implements the SMT feasibility checker (C10): every
// expanded condition along a path is converted to an integer-theory
// expression and checked with Z3, pruning paths the solver proves
// contradictory. 256-bit modular arithmetic is deliberately
// over-approximated with unbounded integers (spec.md §4.8) — acceptable
// because the solver is only ever used for cheap pruning, never to prove
// a positive result.
package smt

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aclements/go-z3/z3"

	"github.com/semunits/disco/internal/evmvar"
	"github.com/semunits/disco/internal/optree"
	"github.com/semunits/disco/internal/semantic"
)

// ConstError is a sentinel-error-as-string-constant, matching the pattern
// used across internal/symstack, internal/memory, internal/tac.
type ConstError string

func (e ConstError) Error() string { return string(e) }

// queryTimeout is the 1-second per-query cap spec.md §4.8 fixes; a solver
// timeout is treated as feasible rather than propagated as an error.
const queryTimeout = 1 * time.Second

// Checker implements semantic.FeasibilityChecker against a Z3 context,
// caching path prefixes already proven infeasible.
type Checker struct {
	ctx     *z3.Context
	infeasible *lru.Cache[string, bool]
}

// NewChecker builds a Checker with an infeasible-prefix cache of the given
// size (spec.md doesn't fix a size; a few thousand entries comfortably
// covers one contract's worth of path exploration).
func NewChecker(cacheSize int) (*Checker, error) {
	cache, err := lru.New[string, bool](cacheSize)
	if err != nil {
		return nil, err
	}
	cfg := z3.NewConfig()
	ctx := z3.NewContext(cfg)
	return &Checker{ctx: ctx, infeasible: cache}, nil
}

// Close releases the underlying Z3 context.
func (c *Checker) Close() {
	c.ctx.Close()
}

// Check implements semantic.FeasibilityChecker: the conjunction of every
// condition's expanded tree must be jointly satisfiable. An unsat result
// marks the path infeasible (cached by its structural-hash prefix); a
// solver timeout is treated as feasible per spec.md §4.8.
func (c *Checker) Check(conditions []*semantic.Condition) bool {
	key := prefixKey(conditions)
	if infeasible, ok := c.infeasible.Get(key); ok {
		return !infeasible
	}

	solver := z3.NewSolver(c.ctx)
	defer solver.Close()
	params := z3.NewParams(c.ctx)
	params.SetUint("timeout", uint(queryTimeout.Milliseconds()))
	solver.SetParams(params)

	leaves := make(map[string]z3.Int)
	solver.Assert(c.backgroundFact())

	for _, cond := range conditions {
		expr, ok := c.encodeBool(cond.OpTree, leaves, solver)
		if !ok {
			continue
		}
		solver.Assert(expr)
	}

	switch solver.Check() {
	case z3.Unsat:
		c.infeasible.Add(key, true)
		return false
	case z3.Unknown:
		// Solver hit the timeout or otherwise gave up: treat as feasible.
		return true
	default:
		return true
	}
}

// backgroundFact encodes spec.md §4.8's standing background knowledge:
// TIMESTAMP > 0.
func (c *Checker) backgroundFact() z3.Bool {
	ts := c.ctx.IntConst("TIMESTAMP")
	return ts.GT(c.ctx.FromInt(0, c.ctx.IntSort()))
}

// prefixKey renders a cache key for an ordered set of conditions: two
// paths sharing the same rendered condition prefix share infeasibility.
func prefixKey(conditions []*semantic.Condition) string {
	s := ""
	for _, c := range conditions {
		s += c.OpTree.StructuralString() + ";"
	}
	return s
}

// encodeBool converts a condition's OpTree into a Z3 boolean expression
// per spec.md §4.8's node mapping table. Leaves (state/arg/property
// references) become fresh integer constants keyed by their tree
// stringification, matching spec.md's "fresh integer constant keyed by
// the tree's stringification" rule; ok is false when the root isn't one
// of the recognized boolean-shaped nodes (ISZERO/EQ/LT/GT/SLT/SGT/XOR),
// in which case the condition contributes nothing to the query.
func (c *Checker) encodeBool(t *optree.Tree, leaves map[string]z3.Int, solver *z3.Solver) (z3.Bool, bool) {
	switch t.Name {
	case "ISZERO":
		if len(t.Sons) != 1 {
			return z3.Bool{}, false
		}
		inner, ok := c.encodeBool(t.Sons[0], leaves, solver)
		if ok {
			return inner.Not(), true
		}
		x := c.encodeInt(t.Sons[0], leaves, solver)
		return x.Eq(c.ctx.FromInt(0, c.ctx.IntSort())), true
	case "EQ":
		if len(t.Sons) != 2 {
			return z3.Bool{}, false
		}
		return c.encodeInt(t.Sons[0], leaves, solver).Eq(c.encodeInt(t.Sons[1], leaves, solver)), true
	case "LT":
		return c.encodeInt(t.Sons[0], leaves, solver).LT(c.encodeInt(t.Sons[1], leaves, solver)), true
	case "GT":
		return c.encodeInt(t.Sons[0], leaves, solver).GT(c.encodeInt(t.Sons[1], leaves, solver)), true
	case "SLT":
		return c.encodeInt(t.Sons[0], leaves, solver).LT(c.encodeInt(t.Sons[1], leaves, solver)), true
	case "SGT":
		return c.encodeInt(t.Sons[0], leaves, solver).GT(c.encodeInt(t.Sons[1], leaves, solver)), true
	case "XOR":
		if len(t.Sons) != 2 {
			return z3.Bool{}, false
		}
		a, aok := c.encodeBool(t.Sons[0], leaves, solver)
		b, bok := c.encodeBool(t.Sons[1], leaves, solver)
		if !aok || !bok {
			return z3.Bool{}, false
		}
		return a.Xor(b), true
	}
	return z3.Bool{}, false
}

// encodeInt converts an arithmetic subtree per spec.md §4.8's
// ADD/SUB/MUL/DIV mapping; unrecognized nodes fall back to a fresh
// integer constant keyed by the subtree's structural string. The first
// time a leaf is allocated, its alias (if the tree carries one) drives
// the type-aware positivity background fact: non-signed state types get
// ≥0, contract-typed ones get >0, per spec.md §4.8.
func (c *Checker) encodeInt(t *optree.Tree, leaves map[string]z3.Int, solver *z3.Solver) z3.Int {
	if t.Concrete && t.Value != nil {
		return c.ctx.FromBigInt(t.Value.ToBig(), c.ctx.IntSort())
	}

	switch t.Name {
	case "ADD":
		return c.encodeInt(t.Sons[0], leaves, solver).Add(c.encodeInt(t.Sons[1], leaves, solver))
	case "SUB":
		return c.encodeInt(t.Sons[0], leaves, solver).Sub(c.encodeInt(t.Sons[1], leaves, solver))
	case "MUL":
		return c.encodeInt(t.Sons[0], leaves, solver).Mul(c.encodeInt(t.Sons[1], leaves, solver))
	case "DIV", "SDIV":
		return c.encodeInt(t.Sons[0], leaves, solver).Div(c.encodeInt(t.Sons[1], leaves, solver))
	}

	key := t.StructuralString()
	if v, ok := leaves[key]; ok {
		return v
	}
	v := c.ctx.IntConst(key)
	leaves[key] = v
	if fact, ok := c.positivityFact(t, v); ok {
		solver.Assert(fact)
	}
	return v
}

// positivityFact returns the background knowledge spec.md §4.8 wants for
// a freshly allocated leaf: addresses (contract-typed states) are
// strictly positive, everything else non-signed is non-negative. Signed
// fields get no additional constraint, so ok is false for them.
func (c *Checker) positivityFact(t *optree.Tree, v z3.Int) (z3.Bool, bool) {
	zero := c.ctx.FromInt(0, c.ctx.IntSort())
	if t.AliasState == nil || t.AliasState.Kind != evmvar.KindState {
		return v.GE(zero), true
	}
	st := t.AliasState.State
	if st.Type.IsContract {
		return v.GT(zero), true
	}
	if !st.Type.IsSigned {
		return v.GE(zero), true
	}
	return z3.Bool{}, false
}
