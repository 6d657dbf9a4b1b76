// Command agent runs one conversational engine behind several chat
// surfaces. The same sessions answer an interactive terminal, a
// Telegram bot, the web gateway (browser websockets, REST and an MCP
// endpoint) or a single scripted prompt; --chat picks the surface.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build metadata, injected via ldflags.
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
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// chatOptions carries the root command flags.
type chatOptions struct {
	configPath string
	mode       string
	agentID    string
	prompt     string
	debug      bool
}

func buildRootCmd() *cobra.Command {
	opts := &chatOptions{}

	root := &cobra.Command{
		Use:   "agent",
		Short: "Multi-surface conversational AI agent",
		Long: `agent runs one session engine behind several chat surfaces.

Pick a surface with --chat:

  terminal  interactive session on stdin/stdout (default)
  bot       Telegram long-polling bot
  web       HTTP server: browser websockets, REST and an MCP endpoint
  once      send --prompt, print the reply, exit`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runChat(opts)
		},
	}

	root.Flags().StringVarP(&opts.configPath, "config", "c", "config.yaml",
		"Path to YAML configuration file")
	root.Flags().StringVar(&opts.mode, "chat", modeTerminal,
		"Chat surface: terminal, bot, web or once")
	root.Flags().StringVar(&opts.agentID, "agent", "",
		"Agent to talk to (default: first configured agent)")
	root.Flags().StringVar(&opts.prompt, "prompt", "",
		"Prompt text for --chat once")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false,
		"Enable debug logging")

	root.AddCommand(buildVersionCmd())
	root.AddCommand(buildConfigCmd())
	return root
}
