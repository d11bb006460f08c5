// Package catalog implements catalog inspection subcommands that operate
// directly on the catalog database.
package catalog

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/romstack/romstack/pkg/catalog/store"
	"github.com/romstack/romstack/pkg/config"
)

// Cmd is the catalog subcommand.
var Cmd = &cobra.Command{
	Use:   "catalog",
	Short: "Inspect the ingested library",
	Long: `Inspect and manage the ingested ROM library.

These commands open the catalog database directly, so they work whether or
not the server is running (SQLite access is serialized through the store).

Subcommands:
  list    List catalog entries
  stats   Show per-platform totals
  remove  Remove an entry and its file`,
}

func init() {
	Cmd.AddCommand(listCmd)
	Cmd.AddCommand(statsCmd)
	Cmd.AddCommand(removeCmd)
}

// openStore loads the configuration and opens the catalog store.
func openStore(cmd *cobra.Command) (*store.GORMStore, *config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.MustLoad(configPath)
	if err != nil {
		return nil, nil, err
	}

	st, err := store.New(&cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open catalog store: %w", err)
	}
	return st, cfg, nil
}
