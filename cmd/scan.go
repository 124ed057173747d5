package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/photo-dedup/internal/database"
	"github.com/kozaktomas/photo-dedup/internal/jobs"
	"github.com/kozaktomas/photo-dedup/internal/pipeline"
	"github.com/kozaktomas/photo-dedup/internal/sigcache"
)

var scanCmd = &cobra.Command{
	Use:   "scan <dir> [dir...]",
	Short: "Fingerprint every image below the given directories",
	Long: `Walk the directories and compute a perceptual hash for each image.

Files whose size and modification time match the signature cache are skipped.
With pipeline.local_workers set to 0 hashing is offloaded to remote workers
through the shared queue; run "photo-dedup collect" to store their results.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().Bool("force", false, "Ignore the signature cache and rehash every file")
	scanCmd.Flags().Bool("json", false, "Output summary as JSON")
	scanCmd.Flags().Int("concurrency", 0, "Files processed in parallel (default from config)")
	scanCmd.Flags().Int("local-workers", -1, "Concurrent local hash computations, 0 offloads to workers (default from config)")
}

// ScanResult is the command output.
type ScanResult struct {
	Roots    []string         `json:"roots"`
	Summary  pipeline.Summary `json:"summary"`
	Stats    database.Stats   `json:"stats"`
	Duration string           `json:"duration"`
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	jsonOutput := mustGetBool(cmd, "json")
	force := mustGetBool(cmd, "force")
	if n := mustGetInt(cmd, "concurrency"); n > 0 {
		cfg.Pipeline.Concurrency = n
	}
	if n := mustGetInt(cmd, "local-workers"); n >= 0 {
		cfg.Pipeline.LocalWorkers = n
	}
	if cfg.Pipeline.Remote() {
		if err := requireQueue(cfg, "remote hashing"); err != nil {
			return err
		}
	}

	repo, err := openRepository(ctx, cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	store, closeStore, err := openCacheStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	cache := sigcache.New(store, logger)

	transport, err := openTransport(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer transport.Close()

	hasher, err := newHasher(cfg)
	if err != nil {
		return err
	}

	p, err := pipeline.New(pipeline.Deps{
		Cache:        cache,
		Hasher:       hasher,
		Applier:      jobs.NewApplier(repo, cache, logger),
		Channel:      newChannel(cfg, transport, repo, logger),
		LocalWorkers: cfg.Pipeline.LocalWorkers,
		Concurrency:  cfg.Pipeline.Concurrency,
		Force:        force,
		Log:          logger,
	})
	if err != nil {
		return err
	}

	paths, err := discover(ctx, args)
	if err != nil {
		return err
	}
	if !jsonOutput {
		fmt.Printf("Found %d images\n", len(paths))
	}

	bar := newScanProgressBar(len(paths), jsonOutput)
	start := time.Now()

	feed := make(chan string)
	go func() {
		defer close(feed)
		for _, path := range paths {
			select {
			case feed <- path:
			case <-ctx.Done():
				return
			}
		}
	}()

	summary := p.Run(ctx, feed, func(o pipeline.Outcome) {
		if bar != nil {
			bar.Add(1)
		}
		if o.Kind == pipeline.Failed {
			logger.WithField("path", o.Path).WithError(o.Err).Debug("file failed")
		}
	})
	if bar != nil {
		bar.Finish()
		fmt.Println()
	}

	// Stats are read after cancellation too, so use a fresh context.
	statsCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	stats, err := database.LoadStats(statsCtx, repo)
	if err != nil {
		logger.WithError(err).Warn("failed to load stats")
	}

	result := ScanResult{
		Roots:    args,
		Summary:  summary,
		Stats:    stats,
		Duration: formatDuration(time.Since(start)),
	}
	if jsonOutput {
		if err := outputJSON(result); err != nil {
			return err
		}
	} else {
		printScanResult(result)
	}

	if errors.Is(ctx.Err(), context.Canceled) {
		return errors.New("scan interrupted")
	}
	return nil
}

// discover walks every root and returns the image paths found.
func discover(ctx context.Context, roots []string) ([]string, error) {
	out := make(chan string)
	errc := make(chan error, 1)
	go func() {
		defer close(out)
		for _, root := range roots {
			if err := pipeline.Walk(ctx, root, out, logger); err != nil {
				errc <- err
				return
			}
		}
		errc <- nil
	}()

	var paths []string
	for path := range out {
		paths = append(paths, path)
	}
	if err := <-errc; err != nil {
		return nil, err
	}
	return paths, nil
}

func newScanProgressBar(count int, jsonOutput bool) *progressbar.ProgressBar {
	if jsonOutput || count == 0 {
		return nil
	}
	return progressbar.NewOptions(count,
		progressbar.OptionSetDescription("Hashing images"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("images"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)
}

func printScanResult(r ScanResult) {
	s := r.Summary
	fmt.Printf("Processed %d files in %s\n", s.Total(), r.Duration)
	fmt.Printf("  Completed: %d\n", s.Completed)
	fmt.Printf("  Enqueued:  %d\n", s.Enqueued)
	fmt.Printf("  Skipped:   %d\n", s.Skipped)
	fmt.Printf("  Failed:    %d\n", s.Failed)
	fmt.Printf("Store: %d records, %d pending\n", r.Stats.Records, r.Stats.Pending)

	if len(s.Failures) > 0 {
		fmt.Printf("\nFailures (first %d):\n", len(s.Failures))
		for _, f := range s.Failures {
			fmt.Printf("  - %s: %s\n", f.Path, f.Error)
		}
	}
	if s.Enqueued > 0 {
		fmt.Println("\nRun \"photo-dedup collect\" to store results from remote workers.")
	}
}
