package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print ListingCreated events until interrupted",
		RunE:  runWatch,
	}
	addChainFlags(cmd.Flags())
	addListingFlags(cmd.Flags())
	addSinkFlags(cmd.Flags())
	addCommonFlags(cmd.Flags())
	return cmd
}

func runWatch(cmd *cobra.Command, _ []string) error {
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

	sink, closeSinks, err := openSinks(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSinks()

	sub, err := newListingSubscription(cfg, chainClient, sink, logger)
	if err != nil {
		return err
	}

	logger.Info("watch start",
		zap.String("rpc", cfg.RPCURL),
		zap.String("marketplace", cfg.Marketplace),
		zap.Uint64("from_block", cfg.FromBlock),
		zap.String("out", cfg.Out),
		zap.Bool("postgres", cfg.PGDSN != ""),
	)

	if err := sub.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	sub.Stop()

	logger.Info("watch stopped")
	return nil
}
