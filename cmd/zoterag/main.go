// Package main provides the entry point for the zoterag CLI.
package main

import (
	"os"

	"github.com/zoterag/zoterag/cmd/zoterag/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
