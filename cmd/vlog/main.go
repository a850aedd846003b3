// Package main is the entry point for the vlog coordinator and CLI.
package main

import (
	"os"

	"github.com/vlogmedia/vlog/cmd/vlog/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
