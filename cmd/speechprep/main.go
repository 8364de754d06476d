// Package main is the entry point for the speechprep CLI.
//
// Usage:
//
//	speechprep -o DIR --language CODE --vocab-type {bpe|unigram|char} [--vocab-size N]
//	speechprep version
package main

import (
	"fmt"
	"os"

	"github.com/haivivi/speechprep/cmd/speechprep/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
