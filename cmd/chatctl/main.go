package main

import (
	"fmt"
	"os"

	"github.com/chuc13-collab1/agileproject-sub000/internal/cli"
)

// set via ldflags during release builds
var version = "dev"

func main() {
	if err := cli.NewRootCmd(version).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
