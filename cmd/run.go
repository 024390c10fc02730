package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/adweave/aip-coordinator/pkg/auction"
	"github.com/adweave/aip-coordinator/pkg/bidder"
	"github.com/adweave/aip-coordinator/pkg/config"
	"github.com/adweave/aip-coordinator/pkg/distribution"
	"github.com/adweave/aip-coordinator/pkg/events"
	"github.com/adweave/aip-coordinator/pkg/ledger"
	"github.com/adweave/aip-coordinator/pkg/schema"
	"github.com/adweave/aip-coordinator/pkg/server"
	"github.com/adweave/aip-coordinator/pkg/storage"
	"github.com/adweave/aip-coordinator/pkg/transport"
	"github.com/adweave/aip-coordinator/pkg/weave"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the coordinator",
	Long: `Starts the auction coordinator: record store, bidder registry,
distribution publisher, auction services, and the HTTP surface.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if err := config.ValidateConfig(cfg); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		biddersPath := config.BiddersPath(biddersFile)
		if biddersPath == "" {
			return fmt.Errorf("--bidders (or $%s) is required", config.EnvBiddersPath)
		}

		// 1. Record store
		logger.WithField("backend", cfg.Ledger.Backend).Info("Opening record store...")

		store, err := storage.Build(ctx, cfg.Ledger, logger)
		if err != nil {
			return fmt.Errorf("failed to open record store: %w", err)
		}
		defer store.Close() //nolint:errcheck // cleanup

		// 2. Bidder registry
		registry, err := bidder.NewRegistry(biddersPath, logger)
		if err != nil {
			return fmt.Errorf("failed to load bidder inventory: %w", err)
		}

		// 3. Transport guards
		nonces := transport.NewNonceCache(time.Duration(cfg.Transport.NonceTTLSeconds) * time.Second)
		maxSkew := time.Duration(cfg.Transport.MaxClockSkewMS) * time.Millisecond
		validator := schema.NewRuleValidator()

		// 4. Distribution publisher
		logger.WithField("backend", cfg.Auction.Distribution.Backend).Info("Starting distribution publisher...")

		publisher, err := distribution.Build(ctx, cfg.Auction.Distribution, logger)
		if err != nil {
			return fmt.Errorf("failed to start publisher: %w", err)
		}
		defer publisher.Close() //nolint:errcheck // cleanup

		// 5. Auction services
		ledgerSvc := ledger.NewService(store, logger)
		inbox := auction.NewInbox(logger)
		window := time.Duration(cfg.Auction.WindowMS) * time.Millisecond
		runner := auction.NewRunner(ledgerSvc, registry, inbox, publisher, window, logger)
		submissions := auction.NewSubmissionService(registry, nonces, inbox, maxSkew, logger)
		eventsSvc := events.NewService(ledgerSvc, registry, nonces, validator, maxSkew, logger)

		// 6. Recommendation coordinator (process-owned worker pool)
		coordinator := weave.NewCoordinator(store, runner, cfg.Weave, cfg.Operator, logger)
		if err := coordinator.Start(ctx); err != nil {
			return fmt.Errorf("failed to start recommendation coordinator: %w", err)
		}
		defer coordinator.Stop()

		// 7. HTTP surface
		srv := server.NewServer(cfg, registry, runner, submissions, eventsSvc, coordinator, ledgerSvc, validator, logger)
		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		defer srv.Stop() //nolint:errcheck // cleanup

		logger.Info("Coordinator is running. Press Ctrl+C to stop.")

		// 8. Wait for shutdown signal
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			logger.WithField("signal", sig.String()).Info("Received shutdown signal")
		case <-ctx.Done():
			logger.Info("Context cancelled")
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
