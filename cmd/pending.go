package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/photo-dedup/internal/constants"
	"github.com/kozaktomas/photo-dedup/internal/database"
)

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "Inspect and release outstanding hash jobs",
	Long: `Commands for the pending table. A path stays pending from the moment its
hash request is sent until a collector stores the result. Entries left behind
by lost requests block re-sending; purge them to let the next scan retry.`,
}

var pendingListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending paths",
	RunE:  runPendingList,
}

var pendingPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Remove stale pending entries",
	RunE:  runPendingPurge,
}

func init() {
	rootCmd.AddCommand(pendingCmd)
	pendingCmd.AddCommand(pendingListCmd, pendingPurgeCmd)

	pendingListCmd.Flags().Duration("older-than", 0, "Only entries enqueued at least this long ago")
	pendingListCmd.Flags().Bool("json", false, "Output as JSON")

	pendingPurgeCmd.Flags().Duration("older-than", constants.DefaultStaleAfter, "Remove entries enqueued at least this long ago")
	pendingPurgeCmd.Flags().Bool("dry-run", false, "Print what would be removed")
}

// PendingEntry is a pending path in command output.
type PendingEntry struct {
	Path       string    `json:"path"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Age        string    `json:"age"`
}

func loadPending(cmd *cobra.Command) ([]database.PendingImage, database.Repository, error) {
	olderThan := mustGetDuration(cmd, "older-than")

	repo, err := openRepository(cmd.Context(), cfg)
	if err != nil {
		return nil, nil, err
	}
	entries, err := repo.ListPending(cmd.Context(), time.Now().Add(-olderThan))
	if err != nil {
		repo.Close()
		return nil, nil, fmt.Errorf("listing pending: %w", err)
	}
	return entries, repo, nil
}

func runPendingList(cmd *cobra.Command, args []string) error {
	entries, repo, err := loadPending(cmd)
	if err != nil {
		return err
	}
	defer repo.Close()

	now := time.Now()
	out := make([]PendingEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, PendingEntry{
			Path:       e.Path,
			EnqueuedAt: e.EnqueuedAt,
			Age:        formatDuration(now.Sub(e.EnqueuedAt)),
		})
	}

	if mustGetBool(cmd, "json") {
		return outputJSON(out)
	}
	if len(out) == 0 {
		fmt.Println("No pending entries")
		return nil
	}
	for _, e := range out {
		fmt.Printf("%8s  %s\n", e.Age, e.Path)
	}
	fmt.Printf("\n%d pending\n", len(out))
	return nil
}

func runPendingPurge(cmd *cobra.Command, args []string) error {
	entries, repo, err := loadPending(cmd)
	if err != nil {
		return err
	}
	defer repo.Close()

	dryRun := mustGetBool(cmd, "dry-run")
	removed := 0
	for _, e := range entries {
		if dryRun {
			fmt.Printf("would remove %s\n", e.Path)
			continue
		}
		if err := repo.DeletePending(cmd.Context(), e.Path); err != nil {
			return fmt.Errorf("removing %s: %w", e.Path, err)
		}
		removed++
	}

	if dryRun {
		fmt.Printf("%d entries would be removed\n", len(entries))
		return nil
	}
	logger.WithField("removed", removed).Info("purged stale pending entries")
	fmt.Printf("Removed %d pending entries\n", removed)
	return nil
}
