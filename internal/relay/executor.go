package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"voucherRelay/internal/model"
)

// VoucherContract is the dapp contract surface used for execution.
type VoucherContract interface {
	ExecuteVoucher(opts *bind.TransactOpts, voucher model.Voucher) (*types.Transaction, error)
	WasVoucherExecuted(ctx context.Context, key model.VoucherKey) (bool, error)
}

// ReceiptWaiter tracks submitted transactions by hash.
type ReceiptWaiter interface {
	WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	// TransactionKnown reports whether the node still has the transaction, pooled or mined.
	TransactionKnown(ctx context.Context, hash common.Hash) (bool, error)
}

// ExecutorConfig holds execution settings.
type ExecutorConfig struct {
	ConfirmTimeout time.Duration
	// CheckExecuted asks the contract whether the voucher was executed before
	// submitting.
	CheckExecuted bool
}

// Executor submits vouchers to the dapp contract.
type Executor struct {
	cfg      ExecutorConfig
	contract VoucherContract
	waiter   ReceiptWaiter
	opts     *bind.TransactOpts
	logger   *zap.Logger
}

// NewExecutor builds an Executor signing with opts.
func NewExecutor(cfg ExecutorConfig, contract VoucherContract, waiter ReceiptWaiter, opts *bind.TransactOpts, logger *zap.Logger) (*Executor, error) {
	if contract == nil {
		return nil, fmt.Errorf("voucher contract is nil")
	}
	if waiter == nil {
		return nil, fmt.Errorf("receipt waiter is nil")
	}
	if opts == nil {
		return nil, fmt.Errorf("transact opts are nil")
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 2 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		cfg:      cfg,
		contract: contract,
		waiter:   waiter,
		opts:     opts,
		logger:   logger,
	}, nil
}

// Execute submits the voucher and waits for the mined receipt. A voucher without a proof
// is never submitted: ErrProofNotReady is returned instead.
func (e *Executor) Execute(ctx context.Context, voucher model.Voucher) (*types.Receipt, error) {
	key := voucher.Key()
	logger := e.logger.With(zap.Uint64("input_index", key.InputIndex), zap.Uint64("voucher_index", key.VoucherIndex))

	if !voucher.HasProof() {
		logger.Info("voucher has no proof yet")
		return nil, ErrProofNotReady
	}
	if voucher.Executed {
		return nil, ErrAlreadyExecuted
	}

	if e.cfg.CheckExecuted {
		executed, err := e.contract.WasVoucherExecuted(ctx, key)
		if err != nil {
			logger.Warn("executed precheck failed", zap.Error(err))
			return nil, &ExecutionError{Stage: StagePrecheck, Err: err}
		}
		if executed {
			logger.Info("voucher already executed on chain")
			return nil, ErrAlreadyExecuted
		}
	}

	opts := *e.opts
	opts.Context = ctx
	tx, err := e.contract.ExecuteVoucher(&opts, voucher)
	if err != nil {
		logger.Warn("submit voucher failed", zap.Error(err))
		return nil, &ExecutionError{Stage: StageSubmit, Err: err}
	}
	logger = logger.With(zap.String("tx_hash", tx.Hash().Hex()))
	logger.Info("voucher submitted")

	return e.confirm(ctx, logger, tx.Hash())
}

// Resume waits again for a transaction sent by an earlier Execute call and never
// submits. A transaction the node no longer knows yields ErrDropped.
func (e *Executor) Resume(ctx context.Context, key model.VoucherKey, hash common.Hash) (*types.Receipt, error) {
	logger := e.logger.With(
		zap.Uint64("input_index", key.InputIndex),
		zap.Uint64("voucher_index", key.VoucherIndex),
		zap.String("tx_hash", hash.Hex()),
	)

	known, err := e.waiter.TransactionKnown(ctx, hash)
	if err != nil {
		logger.Warn("lookup pending transaction failed", zap.Error(err))
		return nil, &ExecutionError{Stage: StageConfirm, TxHash: hash, Err: err}
	}
	if !known {
		logger.Warn("pending voucher transaction dropped")
		return nil, &ExecutionError{Stage: StageConfirm, TxHash: hash, Err: ErrDropped}
	}

	logger.Info("resume voucher confirmation")
	return e.confirm(ctx, logger, hash)
}

// confirm waits for hash to be mined within ConfirmTimeout.
func (e *Executor) confirm(ctx context.Context, logger *zap.Logger, hash common.Hash) (*types.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, e.cfg.ConfirmTimeout)
	defer cancel()
	receipt, err := e.waiter.WaitMined(waitCtx, hash)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			logger.Warn("voucher confirmation pending", zap.Duration("timeout", e.cfg.ConfirmTimeout))
			return nil, &ExecutionError{Stage: StageConfirm, TxHash: hash, Err: ErrConfirmationPending}
		}
		logger.Warn("wait for voucher receipt failed", zap.Error(err))
		return nil, &ExecutionError{Stage: StageConfirm, TxHash: hash, Err: err}
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		logger.Warn("voucher execution reverted", zap.Uint64("block_number", receiptBlock(receipt)))
		return receipt, &ExecutionError{Stage: StageRevert, TxHash: hash, Err: ErrReverted}
	}

	logger.Info("voucher executed",
		zap.Uint64("block_number", receiptBlock(receipt)),
		zap.Int("logs", len(receipt.Logs)),
	)
	return receipt, nil
}

func receiptBlock(receipt *types.Receipt) uint64 {
	if receipt == nil || receipt.BlockNumber == nil {
		return 0
	}
	return receipt.BlockNumber.Uint64()
}
