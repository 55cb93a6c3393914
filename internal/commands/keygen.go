package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sheetlink/companion/internal/store"
)

var KeygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a cache encryption key",
	Long: `Generates a random master key for encrypting the local cache.
Export it as SHEETLINK_CACHE_KEY before starting the daemon. Without the
same key the cache cannot be read back.`,
	RunE: runKeygen,
}

func runKeygen(cmd *cobra.Command, args []string) error {
	key, err := store.GenerateKey()
	if err != nil {
		return err
	}
	fmt.Println(key)
	fmt.Fprintln(os.Stderr, "Export this as SHEETLINK_CACHE_KEY and keep it somewhere safe.")
	return nil
}
