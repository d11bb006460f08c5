package catalog

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/romstack/romstack/internal/bytesize"
	"github.com/romstack/romstack/internal/cli/output"
	"github.com/romstack/romstack/pkg/catalog/store"
)

var (
	listPlatform string
	listSearch   string
	listLimit    int
	listOffset   int
	listOutput   string
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalog entries",
	Long: `List ingested catalog entries, newest first.

Examples:
  # List everything
  romstack catalog list

  # Filter by platform
  romstack catalog list --platform snes

  # Search titles
  romstack catalog list -q mario

  # JSON output
  romstack catalog list -o json`,
	RunE: runList,
}

func init() {
	listCmd.Flags().StringVar(&listPlatform, "platform", "", "Filter by platform ID")
	listCmd.Flags().StringVarP(&listSearch, "query", "q", "", "Search titles and names")
	listCmd.Flags().IntVar(&listLimit, "limit", 50, "Maximum entries to show")
	listCmd.Flags().IntVar(&listOffset, "offset", 0, "Entries to skip")
	listCmd.Flags().StringVarP(&listOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

func runList(cmd *cobra.Command, args []string) error {
	st, _, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	filter := store.EntryFilter{
		PlatformID: listPlatform,
		Search:     listSearch,
		Limit:      listLimit,
		Offset:     listOffset,
	}
	entries, total, err := st.ListEntries(context.Background(), filter)
	if err != nil {
		return fmt.Errorf("failed to list entries: %w", err)
	}

	format, err := output.ParseFormat(listOutput)
	if err != nil {
		return err
	}
	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, entries)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, entries)
	}

	if len(entries) == 0 {
		fmt.Println("No catalog entries found.")
		return nil
	}

	table := output.NewTableData("ID", "Title", "Platform", "Size", "Region", "Ingested")
	for _, e := range entries {
		table.AddRow(
			e.ID,
			e.Title,
			e.PlatformID,
			bytesize.ByteSize(e.Size).String(),
			e.Region,
			e.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	if err := output.PrintTable(os.Stdout, table); err != nil {
		return err
	}

	fmt.Printf("\nShowing %d of %d entries\n", len(entries), total)
	return nil
}
