package main

import "github.com/urfave/cli/v2"

var addressFlag = &cli.StringFlag{
	Name:     "address",
	Usage:    "contract address whose <address>.hex bytecode file to load",
	Required: true,
}

var workingDirFlag = &cli.StringFlag{
	Name:     "working-dir",
	Usage:    "directory holding bytecode/trace input files and sha3_mappings.json",
	Required: true,
}

var mongoURIFlag = &cli.StringFlag{
	Name:  "mongo-uri",
	Usage: "optional MongoDB URI for resolving function selectors to signatures",
}
