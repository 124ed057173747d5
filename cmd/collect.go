package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/photo-dedup/internal/jobs"
	"github.com/kozaktomas/photo-dedup/internal/sigcache"
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Store hash results published by workers",
	Long: `Consume hash results from the shared queue and persist them.

Each result upserts the image record, clears its pending entry and stamps the
signature cache. Results for the same path are applied once. Several
collectors may run against the same store.`,
	RunE: runCollect,
}

func init() {
	rootCmd.AddCommand(collectCmd)
}

func runCollect(cmd *cobra.Command, args []string) error {
	if err := requireQueue(cfg, "collect"); err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

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

	collector := jobs.NewCollector(
		newChannel(cfg, transport, repo, logger),
		jobs.NewApplier(repo, cache, logger),
		logger,
	)

	logger.Info("collector started")
	err = collector.Run(ctx)

	stats := collector.Stats()
	fmt.Printf("Applied %d results, %d failed, %d dropped\n", stats.Applied, stats.Failed, stats.Dropped)
	if err != nil {
		return fmt.Errorf("collector: %w", err)
	}
	return nil
}
