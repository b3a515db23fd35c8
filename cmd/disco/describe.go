package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/semunits/disco/internal/description"
)

var DescribeCmd = cli.Command{
	Action: doDescribe,
	Name:   "describe",
	Usage:  "Run static analysis and print a one-line summary per semantic unit",
	Flags: []cli.Flag{
		addressFlag,
		workingDirFlag,
		mongoURIFlag,
		&cli.StringFlag{Name: "sha3-mappings"},
		&cli.IntFlag{Name: "loop-uncover-times"},
		&cli.IntFlag{Name: "loop-depth"},
		&cli.IntFlag{Name: "block-limit"},
	},
}

func doDescribe(c *cli.Context) error {
	ctx := context.Background()
	result, err := runStaticAnalysis(ctx, c)
	if err != nil {
		return err
	}

	for _, line := range description.New().Describe(result.Units) {
		fmt.Fprintln(os.Stdout, line)
	}
	return nil
}
