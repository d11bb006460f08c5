package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/romstack/romstack/internal/cli/prompt"
	"github.com/romstack/romstack/pkg/catalog/models"
)

var removeForce bool

var removeCmd = &cobra.Command{
	Use:   "remove <entry-id>",
	Short: "Remove an entry and its file",
	Long: `Remove a catalog entry and delete its file from the library.

Object-store mirrors are not touched; expire them with bucket lifecycle
rules.

Examples:
  # Remove with confirmation
  romstack catalog remove 6f1c9a30-...

  # Remove without prompting
  romstack catalog remove 6f1c9a30-... --force`,
	Args: cobra.ExactArgs(1),
	RunE: runRemove,
}

func init() {
	removeCmd.Flags().BoolVarP(&removeForce, "force", "f", false, "Skip confirmation prompt")
}

func runRemove(cmd *cobra.Command, args []string) error {
	id := args[0]

	st, _, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	ctx := context.Background()
	entry, err := st.GetEntry(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrEntryNotFound) {
			return fmt.Errorf("no catalog entry with ID %s", id)
		}
		return fmt.Errorf("failed to look up entry: %w", err)
	}

	label := fmt.Sprintf("Remove %q (%s) and delete %s", entry.Title, entry.PlatformID, entry.FinalPath)
	confirmed, err := prompt.ConfirmWithForce(label, removeForce)
	if err != nil {
		return err
	}
	if !confirmed {
		fmt.Println("Aborted.")
		return nil
	}

	if err := st.DeleteEntry(ctx, id); err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}
	if err := os.Remove(entry.FinalPath); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Warning: entry removed but file deletion failed: %v\n", err)
	}

	fmt.Printf("Removed %s\n", id)
	return nil
}
