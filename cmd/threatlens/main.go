// Package main is the threatlens command line entry point.
package main

import (
	"fmt"
	"os"

	"github.com/lvonguyen/threatlens/internal/cli"
)

// Version information (injected at build time via ldflags)
var Version = "dev"

func main() {
	cli.Version = Version
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "threatlens: %v\n", err)
		os.Exit(1)
	}
}
