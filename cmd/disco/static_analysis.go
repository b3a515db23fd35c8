package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dsnet/golib/unitconv"
	"github.com/urfave/cli/v2"

	"github.com/semunits/disco/internal/contractio"
	"github.com/semunits/disco/internal/pipeline"
	"github.com/semunits/disco/internal/selectordb"
	"github.com/semunits/disco/internal/sha3table"
	"github.com/semunits/disco/internal/smt"
)

var StaticAnalysisCmd = cli.Command{
	Action: doStaticAnalysis,
	Name:   "static-analysis",
	Usage:  "Explore every bounded feasible path through a contract's bytecode",
	Flags: []cli.Flag{
		addressFlag,
		workingDirFlag,
		mongoURIFlag,
		&cli.StringFlag{
			Name:  "sha3-mappings",
			Usage: "path to an optional sha3_mappings.json preimage table",
		},
		&cli.IntFlag{Name: "loop-uncover-times", Usage: "bound on revisits of a single edge"},
		&cli.IntFlag{Name: "loop-depth", Usage: "bound on blocks per path"},
		&cli.IntFlag{Name: "block-limit", Usage: "bound on total block visits across all paths"},
	},
}

// runStaticAnalysis loads a contract's bytecode and analysis collaborators
// from c's flags and runs the static analysis pipeline, relabeling belong
// functions when a selector database is configured. build-graph and
// describe share this instead of accepting a serialized units file, since
// spec.md §6 keeps the graph/description artifacts out of scope for the
// lifter itself.
func runStaticAnalysis(ctx context.Context, c *cli.Context) (*pipeline.Result, error) {
	address := c.String("address")
	workingDir := c.String("working-dir")

	code, err := contractio.LoadBytecode(workingDir, address)
	if err != nil {
		return nil, fmt.Errorf("loading bytecode: %w", err)
	}

	sha3Path := c.String("sha3-mappings")
	if sha3Path == "" {
		sha3Path = filepath.Join(workingDir, "sha3_mappings.json")
	}
	table, err := sha3table.Load(sha3Path)
	if err != nil {
		return nil, fmt.Errorf("loading sha3 mappings: %w", err)
	}

	lookup, closeLookup, err := dialSelectorLookup(ctx, c.String("mongo-uri"))
	if err != nil {
		return nil, fmt.Errorf("connecting to selector database: %w", err)
	}
	defer closeLookup(ctx)

	checker, err := smt.NewChecker(4096)
	if err != nil {
		return nil, fmt.Errorf("starting SMT checker: %w", err)
	}
	defer checker.Close()

	result, err := pipeline.StaticAnalysis(code, pipeline.Options{
		SHA3Lookup:       table,
		Checker:          checker,
		LoopUncoverTimes: c.Int("loop-uncover-times"),
		LoopDepth:        c.Int("loop-depth"),
		BlockLimit:       c.Int("block-limit"),
	})
	if err != nil {
		return nil, fmt.Errorf("static analysis: %w", err)
	}

	if lookup != nil {
		selectordb.RelabelFunctions(ctx, result.Units, lookup)
	}
	return result, nil
}

func doStaticAnalysis(c *cli.Context) error {
	ctx := context.Background()
	start := time.Now()

	result, err := runStaticAnalysis(ctx, c)
	if err != nil {
		return err
	}

	elapsed := time.Since(start)
	rate := float64(len(result.Units)) / elapsed.Seconds()
	fmt.Fprintf(os.Stderr, "%s: %d units across %s (~%s units/sec, %s)\n",
		c.String("address"), len(result.Units), result.Language, unitconv.FormatPrefix(rate, unitconv.SI, 0), elapsed)

	return contractio.WriteSemanticUnits(os.Stdout, result.Units)
}
