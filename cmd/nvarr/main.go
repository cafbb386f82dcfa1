// Package main is the entry point for the nvarr recorder.
package main

import (
	"os"

	"github.com/jmylchreest/nvarr/cmd/nvarr/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
