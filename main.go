package main

import (
	"github.com/codedbyjessica/ga4audit/cmd"
)

// main is the entry point for the ga4audit application.
func main() {
	// Execute the root command defined in the cmd package.
	// This handles all command-line parsing, configuration, and execution.
	cmd.Execute()
}
