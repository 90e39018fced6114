// Package main provides the CLI entry point for the meowgent Discord bot.
//
// Meowgent joins Discord channels as a chat participant: it answers when
// addressed, occasionally joins conversations on its own, follows up on
// threaded replies, announces voice channel activity, and runs scheduled
// prompts.
//
// # Basic Usage
//
// Start the bot:
//
//	meowgent serve --config meowgent.yaml
//
// # Environment Variables
//
// Configuration can be provided via environment variables (a .env file in
// the working directory is loaded automatically):
//
//   - DISCORD_BOT_TOKEN: Discord bot token (required)
//   - LLM_PROVIDER: "openai" (default) or "anthropic"
//   - OPEN_AI_API_KEY / OPENAI_API_KEY: OpenAI API key
//   - ANTHROPIC_API_KEY: Anthropic API key
//   - CHARACTER_PROMPT: system prompt defining the bot's persona
//   - SEARXNG_URL: SearXNG instance for the web_search tool
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

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "meowgent",
		Short: "Meowgent - conversational Discord agent",
		Long: `Meowgent is a Discord bot that chats as a persistent character.

It replies when mentioned, sometimes interjects on its own, keeps
follow-up threads alive, announces voice channel joins and leaves, and
can schedule prompts for later via its create_task tool.

Supported LLM providers: OpenAI, Anthropic`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(buildServeCmd())
	return rootCmd
}
