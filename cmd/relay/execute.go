package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"voucherRelay/internal/chain"
	"voucherRelay/internal/config"
	"voucherRelay/internal/contracts"
	"voucherRelay/internal/model"
	"voucherRelay/internal/relay"
)

func newExecuteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "execute",
		Short: "Fetch one voucher and execute it once its proof is available",
		RunE:  runExecute,
	}
	cmd.Flags().Uint64("input", 0, "input index of the voucher")
	cmd.Flags().Uint64("voucher", 0, "voucher index within the input")
	cmd.Flags().Bool("calldata", false, "print executeVoucher calldata instead of submitting")
	addChainFlags(cmd.Flags())
	addIndexerFlags(cmd.Flags())
	addExecutionFlags(cmd.Flags())
	addSinkFlags(cmd.Flags())
	addCommonFlags(cmd.Flags())
	return cmd
}

func runExecute(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	key := model.VoucherKey{}
	key.InputIndex, _ = cmd.Flags().GetUint64("input")
	key.VoucherIndex, _ = cmd.Flags().GetUint64("voucher")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if calldata, _ := cmd.Flags().GetBool("calldata"); calldata {
		client, err := newIndexerClient(cfg, logger)
		if err != nil {
			return err
		}
		return writeCalldata(ctx, cmd.OutOrStdout(), cfg, client, key)
	}

	chainClient, err := connectChain(ctx, cfg)
	if err != nil {
		return err
	}
	defer chainClient.Close()

	executor, err := newExecutor(ctx, cfg, chainClient, logger)
	if err != nil {
		return err
	}

	client, err := newIndexerClient(cfg, logger)
	if err != nil {
		return err
	}

	sink, closeSinks, err := openSinks(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSinks()

	coordinator, err := relay.NewCoordinator(relay.CoordinatorConfig{}, relay.Deps{
		Reports:  client,
		Vouchers: client,
		Executor: executor,
		Sink:     sink,
	}, logger)
	if err != nil {
		return err
	}

	logger.Info("execute voucher", zap.Stringer("voucher", key), zap.String("dapp", cfg.Dapp))
	receipt, err := coordinator.Execute(ctx, key)
	return writeOutcome(cmd.OutOrStdout(), key, receipt, err)
}

func newExecutor(ctx context.Context, cfg config.Config, chainClient *chain.Client, logger *zap.Logger) (*relay.Executor, error) {
	dappAddress, err := config.ParseAddress("dapp", cfg.Dapp)
	if err != nil {
		return nil, err
	}
	if cfg.PrivateKey == "" {
		return nil, fmt.Errorf("private key is required")
	}

	chainID, err := chainClient.GetChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain id: %w", err)
	}
	opts, err := chain.NewTransactor(cfg.PrivateKey, chainID)
	if err != nil {
		return nil, err
	}

	dapp, err := contracts.NewDappContract(dappAddress, chainClient.Backend())
	if err != nil {
		return nil, err
	}

	logger.Info("dapp bound", zap.String("dapp", dapp.Address().Hex()), zap.String("from", opts.From.Hex()))

	return relay.NewExecutor(relay.ExecutorConfig{
		ConfirmTimeout: cfg.ConfirmTimeout,
		CheckExecuted:  cfg.CheckExecuted,
	}, dapp, chainClient, opts, logger)
}

type calldataLine struct {
	To   string `json:"to"`
	Data string `json:"data"`
}

func writeCalldata(ctx context.Context, w io.Writer, cfg config.Config, vouchers relay.VoucherSource, key model.VoucherKey) error {
	dappAddress, err := config.ParseAddress("dapp", cfg.Dapp)
	if err != nil {
		return err
	}

	voucher, err := vouchers.FetchVoucher(ctx, key.InputIndex, key.VoucherIndex)
	if err != nil {
		return err
	}
	if voucher.Executed {
		return writeOutcome(w, key, nil, relay.ErrAlreadyExecuted)
	}
	if !voucher.HasProof() {
		return writeOutcome(w, key, nil, relay.ErrProofNotReady)
	}

	data, err := contracts.PackExecuteVoucher(voucher)
	if err != nil {
		return err
	}
	return json.NewEncoder(w).Encode(calldataLine{To: dappAddress.Hex(), Data: hexutil.Encode(data)})
}

// writeOutcome prints the execution result. Not-ready and already-executed vouchers are
// reported without failing the command.
func writeOutcome(w io.Writer, key model.VoucherKey, receipt *types.Receipt, err error) error {
	record := model.ExecutionRecord{
		InputIndex:   key.InputIndex,
		VoucherIndex: key.VoucherIndex,
		At:           time.Now().UTC().Format(time.RFC3339Nano),
	}

	var execErr *relay.ExecutionError
	switch {
	case err == nil:
		record.State = relay.StateExecuted.String()
		if receipt != nil {
			record.TxHash = receipt.TxHash.Hex()
			if receipt.BlockNumber != nil {
				record.BlockNumber = receipt.BlockNumber.Uint64()
			}
		}
	case errors.Is(err, relay.ErrProofNotReady):
		record.State = relay.StateNotReady.String()
		record.Error = err.Error()
	case errors.Is(err, relay.ErrAlreadyExecuted):
		record.State = relay.StateExecuted.String()
		record.Error = err.Error()
	case errors.Is(err, relay.ErrConfirmationPending):
		record.State = relay.StatePending.String()
		record.Error = err.Error()
		if errors.As(err, &execErr) {
			record.TxHash = execErr.TxHash.Hex()
		}
	default:
		return err
	}

	return json.NewEncoder(w).Encode(record)
}
