// Package main is the hearthd CLI: a local-first AI assistant gateway that
// serves a loopback WebSocket RPC surface over provider-backed agents with
// approval-gated tools and a cron scheduler.
//
// Start the daemon:
//
//	HEARTHD_TOKEN=<token> hearthd serve
//
// Environment variables:
//
//   - HEARTHD_TOKEN: gateway auth token (required for serve)
//   - HEARTHD_HOST, HEARTHD_PORT: override the loopback bind address
//   - ANTHROPIC_API_KEY, OPENAI_API_KEY: provider credentials
package main

import (
	"fmt"
	"log/slog"
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
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "hearthd",
		Short:        "hearthd - local-first AI assistant gateway",
		Long:         "hearthd serves AI agents over a loopback WebSocket with approval-gated tools,\npersistent sessions and a cron scheduler. All state stays on this machine.",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.AddCommand(
		buildServeCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("hearthd %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
