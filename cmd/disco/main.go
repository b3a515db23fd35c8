// Command disco is the EVM bytecode semantic unit lifter's entry point:
// four subcommands wired straight to the internal pipeline, following the
// shape of Tosca's ct/driver (github.com/urfave/cli/v2, one file per
// subcommand).
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:      "disco",
		Usage:     "EVM bytecode semantic unit lifter",
		Copyright: "(c) 2026",
		Commands: []*cli.Command{
			&StaticAnalysisCmd,
			&TransactionAnalysisCmd,
			&BuildGraphCmd,
			&DescribeCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
