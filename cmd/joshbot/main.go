// Package main is the entry point for the joshbot CLI.
package main

import (
	"os"

	"github.com/bigknoxy/joshbot/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
