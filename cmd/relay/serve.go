package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"voucherRelay/internal/relay"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Relay listings and poll reports until interrupted",
		RunE:  runServe,
	}
	cmd.Flags().Duration("poll-interval", 30*time.Second, "report refresh interval, 0 disables polling")
	addChainFlags(cmd.Flags())
	addListingFlags(cmd.Flags())
	addIndexerFlags(cmd.Flags())
	addSinkFlags(cmd.Flags())
	addCommonFlags(cmd.Flags())
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, err := connectChain(ctx, cfg)
	if err != nil {
		return err
	}
	defer chainClient.Close()

	client, err := newIndexerClient(cfg, logger)
	if err != nil {
		return err
	}

	sink, closeSinks, err := openSinks(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSinks()

	sub, err := newListingSubscription(cfg, chainClient, sink, logger)
	if err != nil {
		return err
	}

	coordinator, err := relay.NewCoordinator(relay.CoordinatorConfig{PollInterval: cfg.PollInterval}, relay.Deps{
		Reports:  client,
		Vouchers: client,
		Listings: sub,
		Sink:     sink,
	}, logger)
	if err != nil {
		return err
	}

	logger.Info("serve start",
		zap.String("rpc", cfg.RPCURL),
		zap.String("indexer", cfg.IndexerURL),
		zap.String("marketplace", cfg.Marketplace),
		zap.Duration("poll_interval", cfg.PollInterval),
	)

	if err := coordinator.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	coordinator.Stop()

	logger.Info("serve stopped")
	return nil
}
