// Package main provides the leaptrace command-line interface.
package main

import (
	"os"

	"github.com/leapstack-labs/leaptrace/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
