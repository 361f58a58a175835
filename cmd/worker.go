package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/frahmantamala/stkpush-checkout/internal/transaction"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start background workers",
	Long:  `Start background workers that run alongside the HTTP server.`,
}

var reconcileWorkerCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Start the stale pending sweeper",
	Long:  `Periodically re-check pending transactions whose callback never arrived against PesaFlux.`,
	Run: func(cmd *cobra.Command, args []string) {
		startReconcileWorker()
	},
}

var (
	maxWorkers   int
	jobQueueSize int
	batchSize    int
)

func startReconcileWorker() {
	ctx := context.Background()

	deps, err := initializeDependencies(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}
	defer deps.Close()

	sweeper := newSweeper(deps)

	sweeper.Start(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	deps.Logger.Info("reconcile worker is running. Press Ctrl+C to stop.")

	// wait for shutdown signal
	sig := <-sigChan
	deps.Logger.Info("received signal, shutting down reconcile worker", "signal", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	shutdownDone := make(chan struct{})
	go func() {
		sweeper.Shutdown()
		close(shutdownDone)
	}()

	select {
	case <-shutdownDone:
		deps.Logger.Info("reconcile worker shutdown complete", "settled", sweeper.Settled())
	case <-shutdownCtx.Done():
		deps.Logger.Warn("shutdown timeout reached, forcing exit")
	}

	if err := deps.EventBus.Drain(shutdownCtx); err != nil {
		deps.Logger.Warn("event handlers still running at shutdown", "error", err)
	}
}

func newSweeper(deps *Dependencies) *transaction.Sweeper {
	cfg := deps.Config.Reconciler
	return transaction.NewSweeper(deps.Service, transaction.SweeperConfig{
		Interval:   cfg.Interval,
		StaleAfter: cfg.StaleAfter,
		MaxAge:     cfg.MaxAge,
		BatchSize:  getIntFlag(batchSize, cfg.BatchSize),
		MaxWorkers: getIntFlag(maxWorkers, cfg.MaxWorkers),
		QueueSize:  getIntFlag(jobQueueSize, cfg.QueueSize),
	}, deps.Logger)
}

func getIntFlag(flagValue, configValue int) int {
	if flagValue > 0 {
		return flagValue
	}
	return configValue
}

func init() {
	reconcileWorkerCmd.Flags().IntVar(&maxWorkers, "max-workers", 0, "Maximum number of workers (overrides config)")
	reconcileWorkerCmd.Flags().IntVar(&jobQueueSize, "job-queue-size", 0, "Job queue buffer size (overrides config)")
	reconcileWorkerCmd.Flags().IntVar(&batchSize, "batch-size", 0, "Rows fetched per sweep (overrides config)")

	workerCmd.AddCommand(reconcileWorkerCmd)

	rootCmd.AddCommand(workerCmd)
}
