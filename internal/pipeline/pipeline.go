// Package pipeline wires the disassembler, control-flow explorer, TAC
// destackifier, semantic unit extractor and post-processor (C1-C13) into
// the two entry points external callers use: StaticAnalysis walks every
// statically-explored path through a contract's bytecode, and
// TransactionAnalysis replays a single concrete execution trace.
package pipeline

import (
	"github.com/semunits/disco/internal/cfg"
	"github.com/semunits/disco/internal/disasm"
	"github.com/semunits/disco/internal/function"
	"github.com/semunits/disco/internal/memory"
	"github.com/semunits/disco/internal/opcodes"
	"github.com/semunits/disco/internal/optree"
	"github.com/semunits/disco/internal/postproc"
	"github.com/semunits/disco/internal/semantic"
	"github.com/semunits/disco/internal/storage"
	"github.com/semunits/disco/internal/symstack"
	"github.com/semunits/disco/internal/tac"
)

// Options carries the per-run configuration that'd otherwise be a pile of
// positional parameters strung across every entry point.
type Options struct {
	// Language overrides automatic detection (disasm.DetectLanguage) when
	// LanguageSet is true; otherwise it's detected from the bytecode.
	Language    disasm.Language
	LanguageSet bool
	SHA3Lookup  optree.SHA3Lookup
	Checker     semantic.FeasibilityChecker

	// LoopUncoverTimes, LoopDepth and BlockLimit override the explorer's
	// default bounds (spec.md §5); zero means "use the explorer default".
	LoopUncoverTimes int
	LoopDepth        int
	BlockLimit       int
}

// Result is what every entry point returns: the deduplicated, post-
// processed set of semantic units plus the language the analysis ran
// against (supplemented feature: callers downstream, such as the
// description generator, branch on it).
type Result struct {
	Units    []*semantic.SemanticUnit
	Language disasm.Language
}

// StaticAnalysis disassembles code, explores every bounded feasible path
// through it and extracts the deduplicated set of semantic units, per
// spec.md §4.
func StaticAnalysis(code []byte, opts Options) (*Result, error) {
	ops := disasm.Disassemble(code)
	lang := opts.Language
	if !opts.LanguageSet {
		lang = disasm.DetectLanguage(ops)
	}

	g := cfg.Build(ops)
	explorer := cfg.NewExplorer(g)
	if opts.LoopUncoverTimes > 0 {
		explorer.LoopUncoverTimes = opts.LoopUncoverTimes
	}
	if opts.LoopDepth > 0 {
		explorer.LoopDepth = opts.LoopDepth
	}
	if opts.BlockLimit > 0 {
		explorer.BlockLimit = opts.BlockLimit
	}
	paths := explorer.Explore()

	dispatchTable := function.BuildTable(g)
	exitBlockOf := cfg.ResolveExitBlocks(g, paths)

	st := storage.New(lang)
	var units []*semantic.SemanticUnit
	seen := map[string]bool{}

	for _, path := range paths {
		st.ResetPathSensitiveArgs()
		fnName := function.FunctionOf(path, dispatchTable)
		blocks := make([]*cfg.Block, 0, len(path))
		for _, entry := range path {
			if b, ok := g.ByEntry[entry]; ok {
				blocks = append(blocks, b)
			}
		}
		extracted, err := walkPath(blocks, st, exitBlockOf, opts, fnName)
		if err != nil && err != semantic.ErrInfeasiblePath {
			return nil, err
		}
		for _, u := range extracted {
			key := u.Hash()
			if seen[key] {
				continue
			}
			seen[key] = true
			units = append(units, u)
		}
	}

	return &Result{Units: postproc.Process(units), Language: lang}, nil
}

// walkPath runs one path's blocks through the destackifier and extractor
// in order, stopping the moment the path turns out infeasible and
// returning semantic.ErrInfeasiblePath (which callers do not treat as a
// failure); everything extracted before that point is still valid and is
// returned alongside the sentinel.
func walkPath(blocks []*cfg.Block, st *storage.Analyzer, exitBlockOf map[int]int, opts Options, fnName string) ([]*semantic.SemanticUnit, error) {
	mem := memory.New()
	destack := tac.New(mem)
	stack := symstack.New[*tac.Variable]()
	extractor := semantic.NewExtractor(st, exitBlockOf, opts.Checker)
	extractor.SHA3 = opts.SHA3Lookup

	var units []*semantic.SemanticUnit
	for i, b := range blocks {
		tacOps, err := destack.Run(b, stack)
		if err != nil {
			return units, err
		}

		branchTaken := true
		if i+1 < len(blocks) && len(b.Ops) > 0 {
			last := b.Ops[len(b.Ops)-1]
			if last.Op == opcodes.JUMPI && blocks[i+1].Entry == last.PC+1 {
				branchTaken = false
			}
		}

		emitted, err := extractor.ProcessBlock(b.Entry, tacOps, branchTaken, fnName)
		units = append(units, emitted...)
		if err != nil {
			return units, err
		}
	}
	return units, nil
}

// TransactionAnalysis replays a single concrete execution trace — already
// filtered to its depth-1 steps and decoded into disasm.Operations by
// internal/trace — as one fixed path, per spec.md §6. Unlike
// StaticAnalysis it never calls cfg.Build on the raw step sequence: a
// trace can revisit the same program counter across loop iterations,
// which would corrupt a block graph keyed by entry pc, so blocks are
// split locally in execution order instead.
func TransactionAnalysis(ops []disasm.Operation, opts Options) (*Result, error) {
	lang := opts.Language
	if !opts.LanguageSet {
		lang = disasm.DetectLanguage(ops)
	}

	blocks := splitTraceBlocks(ops)
	dispatchTable := map[int]function.Dispatcher{}
	path := make(cfg.Path, len(blocks))
	for i, b := range blocks {
		path[i] = b.Entry
	}
	exitBlockOf := resolveTraceExitBlocks(blocks)

	st := storage.New(lang)
	fnName := function.FunctionOf(path, dispatchTable)
	units, err := walkPath(blocks, st, exitBlockOf, opts, fnName)
	if err != nil && err != semantic.ErrInfeasiblePath {
		return nil, err
	}

	return &Result{Units: postproc.Process(units), Language: lang}, nil
}

// splitTraceBlocks applies the same block-closure rule cfg.Build uses
// (close on a flow-altering op or just before a JUMPDEST) to a trace's
// already-linear, possibly pc-repeating operation sequence, without ever
// keying blocks by entry pc.
func splitTraceBlocks(ops []disasm.Operation) []*cfg.Block {
	var blocks []*cfg.Block
	if len(ops) == 0 {
		return blocks
	}

	cur := &cfg.Block{Entry: ops[0].PC}
	for i, op := range ops {
		cur.Ops = append(cur.Ops, op)
		cur.Exit = op.PC

		isLast := i == len(ops)-1
		nextIsJumpdest := !isLast && ops[i+1].Op == opcodes.JUMPDEST
		flow := flowOfOp(op)

		if flow != opcodes.FlowFallthrough || isLast || nextIsJumpdest {
			blocks = append(blocks, cur)
			if !isLast {
				cur = &cfg.Block{Entry: ops[i+1].PC}
			}
		}
	}
	return blocks
}

func flowOfOp(op disasm.Operation) opcodes.FlowCategory {
	if op.IsMissing() {
		return opcodes.FlowFallthrough
	}
	return opcodes.MustLookup(op.Op).Flow
}

// resolveTraceExitBlocks mirrors cfg.ResolveExitBlocks's join-point rule
// for the single linear block sequence a trace produces: a JUMPI block's
// exit is the nearest later block the trace actually reaches once, since
// there is no branching left to join across (the trace already picked a
// side), so the very next block in sequence is, by construction, the
// join point — unless the trace loops back through the same JUMPI block
// again first, in which case it is its own exit.
func resolveTraceExitBlocks(blocks []*cfg.Block) map[int]int {
	exitOf := map[int]int{}
	for i, b := range blocks {
		if len(b.Ops) == 0 {
			continue
		}
		last := b.Ops[len(b.Ops)-1]
		if last.Op != opcodes.JUMPI {
			continue
		}
		loops := false
		for _, later := range blocks[i+1:] {
			if later.Entry == b.Entry {
				loops = true
				break
			}
		}
		if loops {
			exitOf[b.Entry] = b.Entry
		} else if i+1 < len(blocks) {
			exitOf[b.Entry] = blocks[i+1].Entry
		}
	}
	return exitOf
}
