// Package main is the entry point for snapfleet.
package main

import (
	"fmt"
	"os"

	"snapfleet/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(cli.GetExitCode(err))
}
