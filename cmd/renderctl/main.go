// Package main is the entry point for the renderctl CLI, the terminal
// tool for driving the workflow bridge.
package main

import (
	"os"

	"renderflow/cmd/renderctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
