// Package main is the entry point for flowreelctl, the terminal client for
// the flowreel API.
package main

import (
	"os"

	"github.com/shehryarbajwa/flowreel/cmd/flowreelctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
