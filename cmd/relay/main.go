// Package main provides the CLI entry point for the relay conversation gateway.
//
// Relay fronts an OpenAI-compatible model with a tool-calling orchestration
// loop, bridges Model Context Protocol tool servers into the model's tool
// catalog, and persists conversations in Redis.
//
// # Basic Usage
//
// Start the server:
//
//	relay serve --config relay.yaml
//
// # Environment Variables
//
// Values in the config file are expanded from the environment, so secrets
// are typically provided as:
//
//   - OPENAI_API_KEY: model provider API key
//   - REDIS_PASSWORD: Redis auth, when required
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
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
		Use:   "relay",
		Short: "Relay - conversational tool-calling gateway",
		Long: `Relay fronts an OpenAI-compatible model with a tool orchestration loop.

Tool servers speak the Model Context Protocol over stdio or HTTP.
Conversations persist in Redis and replay across restarts.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
	)
	return rootCmd
}

func buildServeCmd() *cobra.Command {
	var configPath string
	var debug bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the relay gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "relay.yaml", "Path to configuration file")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")
	return cmd
}
