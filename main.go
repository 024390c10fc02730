// Package main provides the entry point for the aip-coordinator application.
package main

import (
	"os"

	"github.com/adweave/aip-coordinator/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
