// Package main provides the CLI entry point for the forgegate gateway.
//
// forgegate fronts Anthropic, OpenAI, and Google LLM providers behind a
// single OpenAI-compatible chat endpoint, with server-side tool execution
// (web search, sandboxed code, file recall) and per-conversation
// compaction.
//
// # Basic Usage
//
// Start the server:
//
//	forgegate serve --config forgegate.yaml
//
// Apply persistence-store migrations:
//
//	forgegate migrate up
//
// # Environment Variables
//
// Every config field has a FORGEGATE_* environment override; see
// internal/config for the full list (bearer secret, data root, bind
// host/port, allow-list, token budgets, compaction thresholds).
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "forgegate",
		Short: "forgegate - OpenAI-compatible LLM gateway with server-side tools",
		Long: `forgegate fronts Anthropic, OpenAI, and Google LLM providers behind a single
chat endpoint, executing tools (web search, sandboxed code, file recall)
server-side and compacting long conversations automatically.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildMigrateCmd(),
		buildVersionCmd(),
	)

	return rootCmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "forgegate %s (commit: %s, built: %s)\n", version, commit, date)
			return nil
		},
	}
}
