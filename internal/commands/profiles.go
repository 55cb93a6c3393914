package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sheetlink/companion/internal/config"
	"github.com/sheetlink/companion/internal/profile"
	"github.com/sheetlink/companion/internal/store"
)

var profilesFormat string

var ProfilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List merged character profiles",
	Long: `Shows the reconciled character list: local sheets first, enriched
with remote display fields where the relay has a copy. Works against the
running daemon; falls back to the local cache when no daemon is up.`,
	RunE: runProfiles,
}

func init() {
	ProfilesCmd.Flags().StringVarP(&profilesFormat, "format", "f", "text", "Output format: text, json or yaml")
}

func runProfiles(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	var merged profile.MergeResult
	if err := hubGet(cfg.Hub.Addr, "/api/profiles", &merged); err != nil {
		// No daemon: read the local cache directly
		merged, err = localProfiles(cfg)
		if err != nil {
			return err
		}
	}

	switch profilesFormat {
	case "json":
		out, err := json.MarshalIndent(merged, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))

	case "yaml":
		out, err := yaml.Marshal(merged)
		if err != nil {
			return err
		}
		fmt.Print(string(out))

	default:
		if !merged.RemoteAvailable {
			fmt.Println("⚠️ Local-only view (relay or daemon unreachable)")
			fmt.Println()
		}
		if len(merged.Profiles) == 0 {
			fmt.Println("No profiles yet.")
			return nil
		}
		fmt.Printf("📦 %d profile(s):\n", len(merged.Profiles))
		for _, p := range merged.Profiles {
			line := fmt.Sprintf("  • %s (%s %d)", p.Sheet.Name, p.Sheet.Class, p.Sheet.Level)
			if p.Sheet.MaxHP > 0 {
				line += fmt.Sprintf(", HP %d/%d", p.Sheet.HP, p.Sheet.MaxHP)
			}
			if p.HasRemoteCopy {
				line += " [synced]"
			}
			if p.Source == profile.SourceRemote {
				line += " [remote]"
			}
			fmt.Println(line)
		}
	}
	return nil
}

// localProfiles opens the cache directly when no daemon is running.
func localProfiles(cfg *config.Config) (profile.MergeResult, error) {
	var cipher *store.Cipher
	if key := os.Getenv("SHEETLINK_CACHE_KEY"); key != "" {
		c, err := store.NewCipher(key)
		if err != nil {
			return profile.MergeResult{}, err
		}
		cipher = c
	}

	st, err := store.Open(cfg.CachePath, cipher)
	if err != nil {
		return profile.MergeResult{}, err
	}
	defer st.Close()

	local, err := st.Profiles()
	if err != nil {
		return profile.MergeResult{}, err
	}
	return profile.NewReconciler().LocalOnly(local), nil
}
