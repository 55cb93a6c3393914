package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sheetlink/companion/internal/config"
	"github.com/sheetlink/companion/internal/relay"
)

var StatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show companion status and configuration",
	Long:  `Display the pairing, the relay session of a running daemon, and where the config lives.`,
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	fmt.Println("📊 SheetLink Companion Status")
	fmt.Println()

	// Pairing status
	if cfg.PairingID != "" {
		fmt.Printf("🔗 Pairing: ✅ %s\n", cfg.PairingID)
	} else {
		fmt.Println("🔗 Pairing: ❌ Not paired")
		fmt.Println("   Run 'sheetlink pair <code>' to pair")
	}
	fmt.Println()

	fmt.Printf("🌐 Relay: %s\n", cfg.RelayURL)
	fmt.Println()

	// Live state from the running daemon
	var status struct {
		Session       relay.PairingSession `json:"session"`
		ActiveProfile string               `json:"activeProfile"`
		UptimeSeconds int                  `json:"uptimeSeconds"`
		Views         int                  `json:"views"`
	}
	if err := hubGet(cfg.Hub.Addr, "/api/status", &status); err != nil {
		fmt.Println("🛌 Daemon: not running")
		fmt.Println("   Run: sheetlink start")
	} else {
		fmt.Printf("🚀 Daemon: up for %s\n", (time.Duration(status.UptimeSeconds) * time.Second).Round(time.Second))
		fmt.Printf("   Session: %s", status.Session.State)
		if !status.Session.LastHeartbeatAt.IsZero() {
			fmt.Printf(" (last heartbeat %s ago)", time.Since(status.Session.LastHeartbeatAt).Round(time.Second))
		}
		fmt.Println()
		if status.Session.Reconnects > 0 {
			fmt.Printf("   Reconnects: %d\n", status.Session.Reconnects)
		}
		fmt.Printf("   Views attached: %d\n", status.Views)
		if status.ActiveProfile != "" {
			fmt.Printf("   Active profile: %s\n", status.ActiveProfile)
		}
	}
	fmt.Println()

	fmt.Printf("📁 Config file: %s\n", config.GetConfigPath())
	return nil
}
