package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/photo-dedup/internal/cluster"
	"github.com/kozaktomas/photo-dedup/internal/constants"
	"github.com/kozaktomas/photo-dedup/internal/database"
	"github.com/kozaktomas/photo-dedup/internal/fingerprint"
)

var duplicatesCmd = &cobra.Command{
	Use:   "duplicates",
	Short: "List groups of near-duplicate images",
	Long: `Group stored fingerprints whose Hamming distance is at most the threshold.

Grouping is transitive: if A is close to B and B is close to C, all three
land in the same bucket even when A and C are further apart.`,
	RunE: runDuplicates,
}

func init() {
	rootCmd.AddCommand(duplicatesCmd)

	duplicatesCmd.Flags().Int("threshold", -1, "Maximum Hamming distance (default from config)")
	duplicatesCmd.Flags().Bool("json", false, "Output as JSON")
}

// DuplicateImage is one bucket member in command output.
type DuplicateImage struct {
	ID       int64  `json:"id"`
	Path     string `json:"path"`
	Hash     string `json:"hash"`
	Distance int    `json:"distance"` // to the representative
}

// DuplicateBucket is a group in command output.
type DuplicateBucket struct {
	Representative DuplicateImage   `json:"representative"`
	Duplicates     []DuplicateImage `json:"duplicates"`
}

// DuplicatesResult is the command output.
type DuplicatesResult struct {
	Threshold int               `json:"threshold"`
	Images    int               `json:"images"`
	Buckets   []DuplicateBucket `json:"buckets"`
}

func runDuplicates(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	threshold := cfg.Hash.Threshold
	if n := mustGetInt(cmd, "threshold"); n >= 0 {
		threshold = n
	}
	if threshold > constants.MaxThreshold {
		return fmt.Errorf("threshold must be in [0, %d], got %d", constants.MaxThreshold, threshold)
	}

	repo, err := openRepository(ctx, cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	records, err := database.CollectRecords(ctx, repo)
	if err != nil {
		return fmt.Errorf("loading records: %w", err)
	}

	result := buildDuplicatesResult(records, threshold)
	if mustGetBool(cmd, "json") {
		return outputJSON(result)
	}
	printDuplicates(result)
	return nil
}

func buildDuplicatesResult(records []database.ImageRecord, threshold int) DuplicatesResult {
	byID := make(map[int64]database.ImageRecord, len(records))
	for _, r := range records {
		byID[r.ID] = r
	}

	buckets := cluster.Cluster(cluster.FromRecords(records), threshold)
	result := DuplicatesResult{
		Threshold: threshold,
		Images:    len(records),
		Buckets:   make([]DuplicateBucket, 0, len(buckets)),
	}

	for _, b := range buckets {
		rep := byID[b.Representative]
		out := DuplicateBucket{Representative: duplicateImage(rep, rep.Hash)}
		for _, id := range b.Members {
			if id == b.Representative {
				continue
			}
			out.Duplicates = append(out.Duplicates, duplicateImage(byID[id], rep.Hash))
		}
		result.Buckets = append(result.Buckets, out)
	}
	return result
}

func duplicateImage(r database.ImageRecord, repHash uint64) DuplicateImage {
	return DuplicateImage{
		ID:       r.ID,
		Path:     r.Path,
		Hash:     fingerprint.FormatHash(r.Hash),
		Distance: fingerprint.HammingDistance(r.Hash, repHash),
	}
}

func printDuplicates(r DuplicatesResult) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	if len(r.Buckets) == 0 {
		fmt.Printf("No duplicates among %d images (threshold %d)\n", r.Images, r.Threshold)
		return
	}

	fmt.Printf("%s among %d images (threshold %d)\n\n",
		cyan(fmt.Sprintf("%d duplicate groups", len(r.Buckets))), r.Images, r.Threshold)
	for i, b := range r.Buckets {
		fmt.Printf("%s %s %s\n", cyan(fmt.Sprintf("#%d", i+1)), b.Representative.Path, gray(b.Representative.Hash))
		for _, d := range b.Duplicates {
			fmt.Printf("   %s %s %s\n", yellow(fmt.Sprintf("d=%-2d", d.Distance)), d.Path, gray(d.Hash))
		}
	}
}
