package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"voucherRelay/internal/chain"
	"voucherRelay/internal/config"
	"voucherRelay/internal/indexer"
	"voucherRelay/internal/listing"
	"voucherRelay/internal/storage"
	"voucherRelay/internal/storage/postgres"
)

func main() {
	root := &cobra.Command{
		Use:          "relay",
		Short:        "Rollup output relay: listings, reports and voucher execution",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	root.AddCommand(newWatchCmd())
	root.AddCommand(newReportsCmd())
	root.AddCommand(newExecuteCmd())
	root.AddCommand(newServeCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addChainFlags(flags *pflag.FlagSet) {
	flags.String("rpc", "", "websocket RPC URL of the base layer")
}

func addListingFlags(flags *pflag.FlagSet) {
	flags.String("marketplace", "", "marketplace contract address")
	flags.Uint64("from-block", 0, "replay listings from this block before live events, 0 disables replay")
	flags.Uint64("batch-size", 2000, "blocks per replay batch")
	flags.Duration("reconnect-backoff", time.Second, "initial resubscribe backoff")
}

func addIndexerFlags(flags *pflag.FlagSet) {
	flags.String("indexer", "", "GraphQL indexer URL")
	flags.Duration("indexer-timeout", 15*time.Second, "indexer request timeout")
}

func addExecutionFlags(flags *pflag.FlagSet) {
	flags.String("dapp", "", "dapp contract address")
	flags.String("private-key", "", "hex private key used to sign executions")
	flags.Duration("confirm-timeout", 2*time.Minute, "how long to wait for a mined receipt")
	flags.Bool("check-executed", true, "ask the dapp contract before submitting")
}

func addCommonFlags(flags *pflag.FlagSet) {
	flags.Int("max-retries", 5, "maximum retry attempts")
	flags.Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
}

func addSinkFlags(flags *pflag.FlagSet) {
	flags.String("out", "", "output directory for JSONL exports")
	flags.String("pg-dsn", "", "Postgres DSN for exports")
}

func loadConfig(cmd *cobra.Command) (config.Config, *zap.Logger, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return config.Config{}, nil, err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

func connectChain(ctx context.Context, cfg config.Config) (*chain.Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	client, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("connect rpc: %w", err)
	}
	return client, nil
}

func newIndexerClient(cfg config.Config, logger *zap.Logger) (*indexer.Client, error) {
	return indexer.NewClient(indexer.Config{
		Endpoint:     cfg.IndexerURL,
		Timeout:      cfg.IndexerTimeout,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
	}, logger)
}

// openSinks builds the configured export sinks. The returned close func is never nil.
func openSinks(ctx context.Context, cfg config.Config) (storage.Storage, func(), error) {
	var sinks storage.Multi
	closeFn := func() {}

	if cfg.Out != "" {
		sinks = append(sinks, storage.NewJsonlStorage(cfg.Out))
	}
	if cfg.PGDSN != "" {
		store, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return nil, closeFn, fmt.Errorf("connect postgres: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, closeFn, err
		}
		sinks = append(sinks, store)
		closeFn = store.Close
	}

	if len(sinks) == 0 {
		return storage.Nop{}, closeFn, nil
	}
	return sinks, closeFn, nil
}

func newListingSubscription(cfg config.Config, source listing.LogSource, sink storage.Storage, logger *zap.Logger) (*listing.Subscription, error) {
	marketplace, err := config.ParseAddress("marketplace", cfg.Marketplace)
	if err != nil {
		return nil, err
	}

	sub, err := listing.NewSubscription(listing.Config{
		Marketplace:      marketplace,
		FromBlock:        cfg.FromBlock,
		BatchSize:        cfg.BatchSize,
		MaxRetries:       cfg.MaxRetries,
		RetryBackoff:     cfg.RetryBackoff,
		ReconnectBackoff: cfg.ReconnectBackoff,
	}, source, logger)
	if err != nil {
		return nil, err
	}

	sub.Subscribe(listing.LogHandler(logger))
	sub.Subscribe(listing.SinkHandler(sink, logger))
	return sub, nil
}
