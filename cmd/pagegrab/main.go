// Package main is the entry point for the pagegrab CLI.
package main

import (
	"os"

	"github.com/pagegrab/pagegrab/cmd/pagegrab/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
