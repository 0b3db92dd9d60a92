// Package main provides the CLI entry point for the Parley chat service.
//
// Parley exposes a multi-tenant agentic chat API backed by an LLM with
// tool execution, usage accounting, and tier-based rate limits.
//
// # Basic Usage
//
// Start the server:
//
//	parley serve --config parley.yaml
//
// # Environment Variables
//
//   - PARLEY_CONFIG: Path to configuration file
//   - ANTHROPIC_API_KEY: Anthropic API key
//   - PARLEY_JWT_SECRET: Secret used to verify bearer tokens
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	root := &cobra.Command{
		Use:           "parley",
		Short:         "Parley multi-tenant agentic chat service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(buildServeCmd(), buildVersionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("parley %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
