package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sheetlink/companion/internal/config"
	"github.com/sheetlink/companion/internal/store"
)

var UseCmd = &cobra.Command{
	Use:   "use <character>",
	Short: "Set the active character",
	Long: `Marks a cached character as the active one. Chat commands that name
no character fall back to it.`,
	Args: cobra.ExactArgs(1),
	RunE: runUse,
}

func runUse(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	var cipher *store.Cipher
	if key := os.Getenv("SHEETLINK_CACHE_KEY"); key != "" {
		c, err := store.NewCipher(key)
		if err != nil {
			return err
		}
		cipher = c
	}

	st, err := store.Open(cfg.CachePath, cipher)
	if err != nil {
		return err
	}
	defer st.Close()

	slotKey, sheet, err := st.ResolveCharacter(args[0])
	if err != nil {
		return fmt.Errorf("no cached character matches %q: %w", args[0], err)
	}
	if err := st.SetActiveProfileKey(slotKey); err != nil {
		return err
	}

	fmt.Printf("✅ Active character: %s (%s %d)\n", sheet.Name, sheet.Class, sheet.Level)
	return nil
}
