package commands

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sheetlink/companion/internal/config"
	"github.com/sheetlink/companion/internal/tui"
)

// TUICmd launches the interactive dashboard against a running daemon
var TUICmd = &cobra.Command{
	Use:   "tui",
	Short: "Launch interactive dashboard",
	Long: `Launch the terminal dashboard for a running companion daemon.

The dashboard shows:
  - Relay session state and heartbeat freshness
  - Cached characters with their sync status
  - Attached sheet panel and overlay views

Navigation:
  - Use 1-2 or Tab to switch tabs
  - Use arrow keys or j/k to navigate lists
  - Press 'q' to quit (the daemon keeps running)`,
	RunE: runTUI,
}

func runTUI(cmd *cobra.Command, args []string) error {
	// Redirect log output to file to avoid corrupting TUI display
	originalOutput := log.Writer()
	logDir := filepath.Join(config.GetConfigDir(), "logs")
	os.MkdirAll(logDir, 0755)
	logFile, logErr := os.OpenFile(filepath.Join(logDir, "tui.log"), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if logErr == nil {
		log.SetOutput(logFile)
		defer logFile.Close()
	} else {
		log.SetOutput(io.Discard)
	}
	defer log.SetOutput(originalOutput)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if !cfg.Hub.Enabled {
		return fmt.Errorf("the local surface is disabled in %s; the dashboard needs hub.enabled: true", config.GetConfigPath())
	}

	if err := tui.Run(cfg.Hub.Addr, AppVersion); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

// RunTUIDefault runs the dashboard when no subcommand is specified
func RunTUIDefault() error {
	// Check if we have a TTY
	fi, _ := os.Stdout.Stat()
	if (fi.Mode() & os.ModeCharDevice) == 0 {
		// Not a terminal, don't run TUI
		return fmt.Errorf("not a terminal, use specific commands instead")
	}
	return runTUI(nil, nil)
}

// AppVersion is set by main.go before command execution. The TUI reads it.
var AppVersion = "0.0.0-dev"
