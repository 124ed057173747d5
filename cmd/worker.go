package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/photo-dedup/internal/jobs"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Compute hashes for requests from the shared queue",
	Long: `Run a hash worker. The worker reads hash requests from the queue,
computes the perceptual hash of the attached image bytes and publishes the
result. It needs no database access and runs until interrupted.`,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)

	workerCmd.Flags().Int("concurrency", 0, "Requests processed in parallel (default from config)")
}

func runWorker(cmd *cobra.Command, args []string) error {
	if err := requireQueue(cfg, "worker"); err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	concurrency := cfg.Pipeline.WorkerConcurrency
	if n := mustGetInt(cmd, "concurrency"); n > 0 {
		concurrency = n
	}

	transport, err := openTransport(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer transport.Close()

	hasher, err := newHasher(cfg)
	if err != nil {
		return err
	}

	log := logger.WithField("matrix_size", cfg.Hash.MatrixSize)
	if err := jobs.NewWorker(transport, hasher, concurrency, log).Run(ctx); err != nil {
		return fmt.Errorf("worker: %w", err)
	}
	return nil
}
