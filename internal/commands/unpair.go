package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sheetlink/companion/internal/config"
)

var unpairPurge bool

var UnpairCmd = &cobra.Command{
	Use:   "unpair",
	Short: "Drop the current pairing",
	Long: `Forgets the pairing id and tokens. A running daemon closes its
subscription and keeps serving local data only. With --purge the whole
config file is removed and the next run starts from defaults.`,
	RunE: runUnpair,
}

func init() {
	UnpairCmd.Flags().BoolVar(&unpairPurge, "purge", false, "Remove the config file entirely")
}

func runUnpair(cmd *cobra.Command, args []string) error {
	if unpairPurge {
		config.Delete()
		fmt.Printf("✅ Removed %s\n", config.GetConfigPath())
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.PairingID == "" {
		fmt.Println("Not paired.")
		return nil
	}

	old := cfg.PairingID
	cfg.PairingID = ""
	cfg.AccessToken = ""
	cfg.RefreshToken = ""
	if err := config.Save(cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Printf("✅ Unpaired from %s\n", old)
	return nil
}
