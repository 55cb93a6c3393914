package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sheetlink/companion/internal/config"
	"github.com/sheetlink/companion/internal/relay"
)

var PairCmd = &cobra.Command{
	Use:   "pair <code>",
	Short: "Pair this companion with a chat channel",
	Long: `Redeems a pairing code generated by the chat integration and stores
the pairing id and tokens in the config file. A running daemon picks the
new pairing up without a restart.`,
	Args: cobra.ExactArgs(1),
	RunE: runPair,
}

func runPair(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	client := relay.NewClient(cfg.APIBase(), cfg.APIKey)

	fmt.Println("🔗 Redeeming pairing code...")
	grant, err := client.ExchangePairingCode(args[0], cfg.ClientID)
	if err != nil {
		return fmt.Errorf("pairing failed: %w", err)
	}

	cfg.PairingID = grant.PairingID
	cfg.AccessToken = grant.AccessToken
	cfg.RefreshToken = grant.RefreshToken
	if err := config.Save(cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Printf("✅ Paired! Pairing id: %s\n", grant.PairingID)
	fmt.Println("   A running daemon adopts the new pairing automatically.")
	fmt.Println("   Otherwise run: sheetlink start")
	return nil
}
