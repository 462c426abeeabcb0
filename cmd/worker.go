package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	orderPostgres "github.com/pickandplay/guitar-api/internal/order/postgres"
	"github.com/pickandplay/guitar-api/internal/payment"
	paymentPostgres "github.com/pickandplay/guitar-api/internal/payment/postgres"
	"github.com/pickandplay/guitar-api/internal/sweeper"
	"github.com/pickandplay/guitar-api/pkg/logger"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start background workers",
	Long:  `Start background workers that keep order state consistent with the payment ledger.`,
}

var sweeperWorkerCmd = &cobra.Command{
	Use:   "sweeper",
	Short: "Start the order sweeper",
	Long:  `Periodically recompute unsettled orders that already have successful payments`,
	Run: func(cmd *cobra.Command, args []string) {
		startSweeperWorker()
	},
}

var (
	sweepInterval  time.Duration
	sweepBatchSize int
	sweepOnce      bool
)

func startSweeperWorker() {
	config, err := loadConfig(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logger.LoggerWrapper()

	db, err := initDB(config.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	gdb, err := initGorm(db)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize gorm: %v\n", err)
		os.Exit(1)
	}

	// recompute never records payments, so no QR verifier or stream hub is needed
	reconciler := payment.NewReconciler(
		orderPostgres.NewOrderRepository(gdb),
		payment.NewLedger(paymentPostgres.NewPaymentRepository(gdb), logger),
		nil, nil, nil, logger)

	s := sweeper.New(db, reconciler,
		getDurationFlag(sweepInterval, config.Sweeper.Interval),
		getIntFlag(sweepBatchSize, config.Sweeper.BatchSize),
		logger)

	if sweepOnce {
		settled, err := s.SweepOnce(context.Background())
		if err != nil {
			logger.Error("sweep failed", "error", err)
			os.Exit(1)
		}
		logger.Info("sweep complete", "settled", settled)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("sweeper worker is running. Press Ctrl+C to stop.")
	s.Run(ctx)
	logger.Info("sweeper worker shutdown complete")
}

func getIntFlag(flagValue, configValue int) int {
	if flagValue > 0 {
		return flagValue
	}
	return configValue
}

func getDurationFlag(flagValue, configValue time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	return configValue
}

func init() {
	sweeperWorkerCmd.Flags().DurationVar(&sweepInterval, "interval", 0, "Sweep interval (overrides config)")
	sweeperWorkerCmd.Flags().IntVar(&sweepBatchSize, "batch-size", 0, "Orders per sweep (overrides config)")
	sweeperWorkerCmd.Flags().BoolVar(&sweepOnce, "once", false, "Run a single sweep and exit")

	workerCmd.AddCommand(sweeperWorkerCmd)

	rootCmd.AddCommand(workerCmd)
}
