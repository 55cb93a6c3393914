package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sheetlink/companion/internal/config"
	"github.com/sheetlink/companion/internal/dispatch"
)

var DrainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Process the pending command backlog now",
	Long: `Asks the running daemon to fetch and execute every pending command
for the pairing, oldest first. The daemon does this on its own when a
subscription comes up and on a timer; this just forces a pass.`,
	RunE: runDrain,
}

func runDrain(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	var res dispatch.DrainResult
	if err := hubPost(cfg.Hub.Addr, "/api/drain", &res); err != nil {
		return fmt.Errorf("daemon not reachable at %s (is it running?): %w", cfg.Hub.Addr, err)
	}

	if res.Collapsed {
		fmt.Println("🔄 A drain was already running; nothing extra to do.")
		return nil
	}
	if !res.RemoteAvailable {
		fmt.Println("⚠️ Relay unreachable; the companion is running local-only.")
		return nil
	}
	fmt.Printf("📦 Drained: %d completed, %d failed, %d skipped\n", res.Processed, res.Failed, res.Skipped)
	return nil
}
