package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/semunits/disco/internal/graphbuild"
)

var BuildGraphCmd = cli.Command{
	Action: doBuildGraph,
	Name:   "build-graph",
	Usage:  "Run static analysis and connect its semantic units sharing a storage slot",
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

type graphEdgeJSON struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type graphJSON struct {
	NodeCount int             `json:"node_count"`
	Edges     []graphEdgeJSON `json:"edges"`
}

func doBuildGraph(c *cli.Context) error {
	ctx := context.Background()
	result, err := runStaticAnalysis(ctx, c)
	if err != nil {
		return err
	}

	g := graphbuild.Build(result.Units)
	out := graphJSON{NodeCount: len(g.Nodes)}
	for _, e := range g.Edges {
		out.Edges = append(out.Edges, graphEdgeJSON{From: e.From, To: e.To})
	}

	fmt.Fprintf(os.Stderr, "%s: %d nodes, %d edges\n", c.String("address"), len(g.Nodes), len(g.Edges))
	return json.NewEncoder(os.Stdout).Encode(out)
}
