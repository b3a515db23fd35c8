package cfg

import (
	"fmt"

	"github.com/semunits/disco/internal/opcodes"
	"github.com/semunits/disco/internal/symstack"
)

// Explorer runs the bounded dynamic-edge pass described in spec.md §4.2:
// a breadth-first worklist over (path, light-stack) that resolves dynamic
// jump destinations and extends the CFG as it goes.
type Explorer struct {
	Graph *Graph

	// LoopUncoverTimes bounds how many times a single directed edge may be
	// traversed within one explored path (default 16).
	LoopUncoverTimes int
	// LoopDepth bounds the number of blocks in a single path (default 256).
	LoopDepth int
	// BlockLimit bounds the total number of block visits across the whole
	// exploration (default 200000).
	BlockLimit int
}

// NewExplorer returns an Explorer with spec.md's default bounds.
func NewExplorer(g *Graph) *Explorer {
	return &Explorer{Graph: g, LoopUncoverTimes: 16, LoopDepth: 256, BlockLimit: 200000}
}

// Path is a sequence of block entry PCs representing one maximal feasible
// execution path (a sequence of blocks terminating at a normal halt).
type Path []int

type pathState struct {
	blocks   []int
	stack    *symstack.Stack[LightValue]
	edgeUses map[edgeKey]int
}

type edgeKey struct{ src, dst int }

// Explore returns the set of maximal feasible paths. Paths that hit an
// abnormal halt are not emitted, but the edges leading to them remain in
// the graph from the static pass.
func (e *Explorer) Explore() []Path {
	if len(e.Graph.Blocks) == 0 {
		return nil
	}

	root := e.Graph.Blocks[0]
	initial := &pathState{
		blocks:   []int{root.Entry},
		stack:    symstack.New[LightValue](),
		edgeUses: map[edgeKey]int{},
	}
	executeLight(root, initial.stack)

	worklist := []*pathState{initial}
	visited := map[string]bool{}
	var paths []Path

	blockVisits := 0
	for len(worklist) > 0 {
		cur := worklist[0]
		worklist = worklist[1:]
		blockVisits++
		if blockVisits > e.BlockLimit {
			break
		}
		if len(cur.blocks) > e.LoopDepth {
			continue
		}

		last := cur.blocks[len(cur.blocks)-1]
		blk, ok := e.Graph.ByEntry[last]
		if !ok {
			continue
		}
		if blk.HasInvalid || blk.HasRevert {
			continue
		}

		flow := blk.lastFlow()
		if flow.IsHalting() {
			if flow == opcodes.FlowHaltNormal {
				paths = append(paths, append(Path{}, cur.blocks...))
			}
			continue
		}

		for _, dst := range e.successorsFor(blk, cur.stack) {
			key := edgeKey{last, dst}
			if cur.edgeUses[key] >= e.LoopUncoverTimes {
				continue
			}
			snap := snapshot(cur.stack)
			vkey := fmt.Sprintf("%d|%d|%s", last, dst, snap)
			if visited[vkey] {
				continue
			}
			visited[vkey] = true

			dstBlock, ok := e.Graph.ByEntry[dst]
			if !ok {
				continue
			}
			nextStack := cur.stack.Clone()
			executeLight(dstBlock, nextStack)

			nextEdgeUses := make(map[edgeKey]int, len(cur.edgeUses)+1)
			for k, v := range cur.edgeUses {
				nextEdgeUses[k] = v
			}
			nextEdgeUses[key]++

			nextBlocks := make([]int, len(cur.blocks)+1)
			copy(nextBlocks, cur.blocks)
			nextBlocks[len(cur.blocks)] = dst

			worklist = append(worklist, &pathState{blocks: nextBlocks, stack: nextStack, edgeUses: nextEdgeUses})
		}
	}

	return paths
}

// successorsFor returns the block's known successors, adding a dynamically
// resolved JUMP/JUMPI target (extending the graph) when the static pass
// could not resolve one but the light stack's top is concrete after
// executing the block.
func (e *Explorer) successorsFor(b *Block, stack *symstack.Stack[LightValue]) []int {
	succs := append([]int{}, b.Succs...)

	flow := b.lastFlow()
	if flow != opcodes.FlowUnconditionalJump && flow != opcodes.FlowConditionalJump {
		return succs
	}
	if _, ok := precedingPushTarget(b); ok {
		// Already resolved statically; no dynamic work needed.
		return succs
	}

	top, err := stack.Peek()
	if err != nil || !top.Known {
		return succs
	}
	dst := int(top.Value.Uint64())
	if _, ok := e.Graph.ByEntry[dst]; !ok {
		return succs
	}
	addEdge(e.Graph, b, dst)
	for _, s := range succs {
		if s == dst {
			return succs
		}
	}
	return append(succs, dst)
}

// snapshot renders the light stack into a string used to deduplicate
// visited (src, dst, stack_snapshot) triples.
func snapshot(stack *symstack.Stack[LightValue]) string {
	out := make([]byte, 0, stack.Len()*8)
	for i := 0; i < stack.Len(); i++ {
		v, _ := stack.PeekN(i)
		if v.Known {
			out = append(out, []byte(v.Value.Hex())...)
		} else {
			out = append(out, '?')
		}
		out = append(out, ',')
	}
	return string(out)
}
