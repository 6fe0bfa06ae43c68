// Package main is the entry point for the STR investigation dashboard.
package main

import (
	"context"
	"os"

	"strdash/cmd"
)

// main runs the CLI; without a subcommand it serves the dashboard.
func main() {
	if err := cmd.Execute(context.Background()); err != nil {
		os.Exit(cmd.ExitCode(err))
	}
}
