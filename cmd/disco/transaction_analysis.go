package main

import (
	"context"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/urfave/cli/v2"

	"github.com/semunits/disco/internal/contractio"
	"github.com/semunits/disco/internal/pipeline"
	"github.com/semunits/disco/internal/selectordb"
	"github.com/semunits/disco/internal/trace"
)

var TransactionAnalysisCmd = cli.Command{
	Action: doTransactionAnalysis,
	Name:   "transaction-analysis",
	Usage:  "Replay a single concrete transaction trace as one fixed path",
	Flags: []cli.Flag{
		workingDirFlag,
		mongoURIFlag,
		&cli.StringFlag{
			Name:     "transaction-hash",
			Usage:    "transaction hash to trace via debug_traceTransaction",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "rpc-url",
			Usage: "JSON-RPC endpoint supporting debug_traceTransaction; omit to replay a cached trace file instead",
		},
	},
}

func doTransactionAnalysis(c *cli.Context) error {
	ctx := context.Background()
	workingDir := c.String("working-dir")
	txHash := c.String("transaction-hash")

	steps, err := loadOrFetchTrace(ctx, workingDir, txHash, c.String("rpc-url"))
	if err != nil {
		return fmt.Errorf("obtaining trace: %w", err)
	}

	ops, err := trace.ToOperations(steps)
	if err != nil {
		return fmt.Errorf("decoding trace: %w", err)
	}

	lookup, closeLookup, err := dialSelectorLookup(ctx, c.String("mongo-uri"))
	if err != nil {
		return fmt.Errorf("connecting to selector database: %w", err)
	}
	defer closeLookup(ctx)

	result, err := pipeline.TransactionAnalysis(ops, pipeline.Options{})
	if err != nil {
		return fmt.Errorf("transaction analysis: %w", err)
	}

	if lookup != nil {
		selectordb.RelabelFunctions(ctx, result.Units, lookup)
	}

	fmt.Fprintf(os.Stderr, "%s: %d units replayed (%s)\n", txHash, len(result.Units), result.Language)
	return contractio.WriteSemanticUnits(os.Stdout, result.Units)
}

func loadOrFetchTrace(ctx context.Context, workingDir, txHash, rpcURL string) ([]trace.StepRecord, error) {
	if rpcURL == "" {
		return contractio.LoadTrace(workingDir, txHash)
	}
	client, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	steps, err := trace.Fetch(ctx, client, txHash)
	if err != nil {
		return nil, err
	}
	if err := contractio.SaveTrace(workingDir, txHash, steps); err != nil {
		return nil, err
	}
	return steps, nil
}
