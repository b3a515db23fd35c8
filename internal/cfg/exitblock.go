package cfg

import "github.com/semunits/disco/internal/opcodes"

// ResolveExitBlocks implements the exit-block resolution pass of spec.md
// §4.10: for every JUMPI block, the first position (looking up to 20 blocks
// ahead) at which the successor sequences of every explored path through it
// agree on the same block identifies the join point where the block's
// condition stops applying. A block that
// recurs on one of its own visiting paths before any join is found marks
// itself as its own exit.
func ResolveExitBlocks(g *Graph, paths []Path) map[int]int {
	const lookahead = 20

	// visitsOf collects, for every JUMPI block, the tails (this block's
	// entry and everything after it) of every path that passes through it.
	visitsOf := map[int][][]int{}
	for _, p := range paths {
		for i, entry := range p {
			b, ok := g.ByEntry[entry]
			if !ok || b.lastFlow() != opcodes.FlowConditionalJump {
				continue
			}
			tail := p[i:]
			if len(tail) > lookahead+1 {
				tail = tail[:lookahead+1]
			}
			visitsOf[entry] = append(visitsOf[entry], tail)
		}
	}

	exitOf := map[int]int{}
	for entry, tails := range visitsOf {
		if selfLoops(entry, tails) {
			exitOf[entry] = entry
			continue
		}
		if exit, ok := commonSuccessor(tails); ok {
			exitOf[entry] = exit
		}
	}
	return exitOf
}

// selfLoops reports whether any path revisits the JUMPI block itself
// before the tail window closes.
func selfLoops(entry int, tails [][]int) bool {
	for _, t := range tails {
		for _, pc := range t[1:] {
			if pc == entry {
				return true
			}
		}
	}
	return false
}

// commonSuccessor returns the first block entry shared by the
// continuations of every tail (skipping the JUMPI block itself), i.e. the
// longest common prefix of successors collapses back to a single join pc.
func commonSuccessor(tails [][]int) (int, bool) {
	minLen := -1
	for _, t := range tails {
		n := len(t) - 1
		if minLen == -1 || n < minLen {
			minLen = n
		}
	}
	for i := 0; i < minLen; i++ {
		candidate := tails[0][i+1]
		agree := true
		for _, t := range tails[1:] {
			if t[i+1] != candidate {
				agree = false
				break
			}
		}
		if agree {
			return candidate, true
		}
	}
	return 0, false
}
