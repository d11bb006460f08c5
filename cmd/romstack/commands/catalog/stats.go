package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/romstack/romstack/internal/bytesize"
	"github.com/romstack/romstack/internal/cli/output"
	"github.com/romstack/romstack/pkg/platform"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show per-platform totals",
	Long: `Show entry counts and total sizes grouped by platform, plus BIOS
availability for platforms that require one.

Examples:
  romstack catalog stats`,
	RunE: runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	st, cfg, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	rollups, err := st.RollupByPlatform(context.Background())
	if err != nil {
		return fmt.Errorf("failed to aggregate catalog: %w", err)
	}

	if len(rollups) == 0 {
		fmt.Println("The catalog is empty.")
		return nil
	}

	table := output.NewTableData("Platform", "Entries", "Total Size", "BIOS")
	var totalEntries, totalBytes int64
	for _, r := range rollups {
		table.AddRow(
			r.PlatformID,
			fmt.Sprintf("%d", r.EntryCount),
			bytesize.ByteSize(r.TotalBytes).String(),
			biosState(platform.ID(r.PlatformID), cfg.Ingest.RomDir),
		)
		totalEntries += r.EntryCount
		totalBytes += r.TotalBytes
	}
	if err := output.PrintTable(os.Stdout, table); err != nil {
		return err
	}

	fmt.Printf("\nTotal: %d entries, %s\n", totalEntries, bytesize.ByteSize(totalBytes))
	return nil
}

// biosState reports BIOS availability for a platform: "-" when none is
// needed, otherwise ok or missing.
func biosState(id platform.ID, romDir string) string {
	spec, ok := platform.Get(id)
	if !ok || !spec.BIOSRequired {
		return "-"
	}
	for _, name := range spec.BIOSFiles {
		if _, err := os.Stat(filepath.Join(romDir, "bios", name)); err == nil {
			return "ok"
		}
	}
	return "missing"
}
