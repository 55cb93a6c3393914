package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/sheetlink/companion/internal/commands"
	"github.com/sheetlink/companion/internal/logging"
)

var (
	// Version is set at build time via -ldflags "-X main.Version=X.Y.Z"
	Version = "0.0.0-dev"
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "sheetlink",
	Short: "SheetLink Companion - Bridge your character sheets to remote chat",
	Long: `SheetLink Companion pairs your local character-sheet app with the remote
relay, executes chat commands against the cached sheets, and feeds table
overlays through a local WebSocket surface.

Quick Start:
  sheetlink                  Launch interactive dashboard (default)
  sheetlink pair <code>      Redeem a pairing code (first time)
  sheetlink start            Run the companion daemon

Commands:
  start                 Run the companion daemon in the foreground
  pair <code>           Redeem a pairing code from the chat side
  unpair                Forget the current pairing
  status                Show pairing, daemon and session status
  drain                 Ask the daemon to work off the command backlog
  profiles              List cached characters merged with the relay copies
  use <character>       Set the active character for unaddressed commands
  keygen                Generate a cache encryption key
  tui                   Launch the interactive dashboard

Examples:
  sheetlink pair 7HG2-KQ9D                # First-time setup
  sheetlink start                         # Run the daemon
  sheetlink profiles --format json        # Scriptable character listing

Config: ~/.sheetlink/companion.yaml
Logs:   ~/.sheetlink/logs/commands.jsonl`,
	Version: Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		// When no subcommand is specified, try to launch TUI
		return commands.RunTUIDefault()
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	// Add all commands
	rootCmd.AddCommand(commands.StartCmd)
	rootCmd.AddCommand(commands.PairCmd)
	rootCmd.AddCommand(commands.UnpairCmd)
	rootCmd.AddCommand(commands.StatusCmd)
	rootCmd.AddCommand(commands.DrainCmd)
	rootCmd.AddCommand(commands.ProfilesCmd)
	rootCmd.AddCommand(commands.UseCmd)
	rootCmd.AddCommand(commands.KeygenCmd)
	rootCmd.AddCommand(commands.TUICmd)
}

func main() {
	// Configure logging
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Initialize structured logging
	logging.Init()

	commands.AppVersion = Version
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
