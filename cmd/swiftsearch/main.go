// Package main provides the entry point for the swiftsearch mediator.
package main

import (
	"os"

	"github.com/keerthi16/SwiftSearch/cmd/swiftsearch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
