// Package main is the entry point for the crewclaw CLI.
package main

import (
	"os"

	"github.com/CrewClaw/CrewClaw/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
