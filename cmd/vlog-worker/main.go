// Package main is the entry point for the vlog worker agent.
package main

import (
	"os"

	"github.com/vlogmedia/vlog/cmd/vlog-worker/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
