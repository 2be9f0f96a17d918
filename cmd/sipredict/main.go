// Package main is the entry point for the sipredict CLI.
package main

import (
	"os"

	"github.com/YuminosukeSato/sipredict/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
