// Package main is the entry point for the kedo CLI.
//
// Build with: go build -o kedo ./cmd/kedo
// Run with: ./kedo run script.js
package main

import (
	"os"

	"github.com/kedojs/kedo/cmd/kedo/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
