// Package main is the entry point for the siteagent CLI.
package main

import (
	"os"

	"github.com/KafClaw/siteagent/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
