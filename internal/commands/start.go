package commands

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/sheetlink/companion/internal/config"
	"github.com/sheetlink/companion/internal/daemon"
)

var StartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the companion daemon",
	Long: `Starts the companion in the foreground: subscribes to the paired
channel, serves the local observer surface for sheet panels and table
overlays, and keeps the command backlog drained. Without a pairing it still
runs, serving local data only.`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, using system environment variables")
	} else {
		log.Println("✅ Loaded environment variables from .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	verbose, _ := cmd.Flags().GetBool("verbose")

	log.Println("🚀 Starting SheetLink Companion")
	log.Printf("📍 Config: %s", config.GetConfigPath())
	log.Printf("🌐 Relay: %s", cfg.RelayURL)

	d, err := daemon.New(cfg, verbose)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return d.Run(ctx)
}
