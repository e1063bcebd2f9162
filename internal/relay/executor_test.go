package relay

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"voucherRelay/internal/model"
)

type fakeContract struct {
	mu          sync.Mutex
	submits     int
	submitErr   error
	executed    bool
	precheckErr error
	lastPayload []byte
}

func (f *fakeContract) ExecuteVoucher(opts *bind.TransactOpts, voucher model.Voucher) (*types.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	f.lastPayload = voucher.Payload
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return types.NewTx(&types.LegacyTx{Nonce: uint64(f.submits), Data: voucher.Payload}), nil
}

func (f *fakeContract) WasVoucherExecuted(context.Context, model.VoucherKey) (bool, error) {
	return f.executed, f.precheckErr
}

func (f *fakeContract) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits
}

type fakeWaiter struct {
	mu      sync.Mutex
	status  uint64
	err     error
	block   bool
	gate    chan struct{}
	dropped bool
	waits   int
}

func (f *fakeWaiter) WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	f.waits++
	block, gate, status, err := f.block, f.gate, f.status, f.err
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &types.Receipt{
		Status:      status,
		TxHash:      hash,
		BlockNumber: big.NewInt(42),
		Logs:        []*types.Log{{Index: 0}},
	}, nil
}

func (f *fakeWaiter) TransactionKnown(context.Context, common.Hash) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.dropped, nil
}

func (f *fakeWaiter) update(fn func(w *fakeWaiter)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeWaiter) waitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.waits
}

func testProof() *model.Proof {
	return &model.Proof{
		Validity: model.OutputValidityProof{
			OutputHashesRootHash: common.HexToHash("0x01"),
		},
		Context: []byte{},
	}
}

func readyVoucher(inputIndex uint64) model.Voucher {
	return model.Voucher{
		ID:          "v",
		InputIndex:  inputIndex,
		Destination: common.HexToAddress("0x5555555555555555555555555555555555555555"),
		Payload:     []byte{0x75, 0x5e, 0xdd, 0x17},
		Proof:       testProof(),
	}
}

func newTestExecutor(t *testing.T, cfg ExecutorConfig, contract VoucherContract, waiter ReceiptWaiter) *Executor {
	t.Helper()
	executor, err := NewExecutor(cfg, contract, waiter, &bind.TransactOpts{From: common.HexToAddress("0x01")}, zap.NewNop())
	require.NoError(t, err)
	return executor
}

func TestExecutorNoProofIsNoop(t *testing.T) {
	contract := &fakeContract{}
	executor := newTestExecutor(t, ExecutorConfig{CheckExecuted: true}, contract, &fakeWaiter{status: types.ReceiptStatusSuccessful})

	voucher := readyVoucher(1)
	voucher.Proof = nil

	receipt, err := executor.Execute(context.Background(), voucher)
	require.ErrorIs(t, err, ErrProofNotReady)
	require.Nil(t, receipt)
	require.Equal(t, 0, contract.submitCount())
}

func TestExecutorSuccess(t *testing.T) {
	contract := &fakeContract{}
	executor := newTestExecutor(t, ExecutorConfig{}, contract, &fakeWaiter{status: types.ReceiptStatusSuccessful})

	voucher := readyVoucher(1)
	receipt, err := executor.Execute(context.Background(), voucher)
	require.NoError(t, err)
	require.NotNil(t, receipt)
	require.Equal(t, uint64(42), receipt.BlockNumber.Uint64())
	require.Equal(t, 1, contract.submitCount())
	require.Equal(t, voucher.Payload, contract.lastPayload)
}

func TestExecutorAlreadyExecuted(t *testing.T) {
	contract := &fakeContract{executed: true}
	executor := newTestExecutor(t, ExecutorConfig{CheckExecuted: true}, contract, &fakeWaiter{status: types.ReceiptStatusSuccessful})

	_, err := executor.Execute(context.Background(), readyVoucher(1))
	require.ErrorIs(t, err, ErrAlreadyExecuted)
	require.Equal(t, 0, contract.submitCount())

	voucher := readyVoucher(2)
	voucher.Executed = true
	_, err = newTestExecutor(t, ExecutorConfig{}, &fakeContract{}, &fakeWaiter{}).Execute(context.Background(), voucher)
	require.ErrorIs(t, err, ErrAlreadyExecuted)
}

func TestExecutorFailures(t *testing.T) {
	cases := []struct {
		name     string
		contract *fakeContract
		waiter   *fakeWaiter
		stage    Stage
		cause    error
	}{
		{
			name:     "signing rejected",
			contract: &fakeContract{submitErr: errors.New("user rejected")},
			waiter:   &fakeWaiter{},
			stage:    StageSubmit,
		},
		{
			name:     "precheck transport",
			contract: &fakeContract{precheckErr: errors.New("connection refused")},
			waiter:   &fakeWaiter{},
			stage:    StagePrecheck,
		},
		{
			name:     "reverted",
			contract: &fakeContract{},
			waiter:   &fakeWaiter{status: types.ReceiptStatusFailed},
			stage:    StageRevert,
			cause:    ErrReverted,
		},
		{
			name:     "confirm transport",
			contract: &fakeContract{},
			waiter:   &fakeWaiter{err: errors.New("eof")},
			stage:    StageConfirm,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			executor := newTestExecutor(t, ExecutorConfig{CheckExecuted: true}, tc.contract, tc.waiter)
			_, err := executor.Execute(context.Background(), readyVoucher(1))

			var execErr *ExecutionError
			require.ErrorAs(t, err, &execErr)
			require.Equal(t, tc.stage, execErr.Stage)
			if tc.cause != nil {
				require.ErrorIs(t, err, tc.cause)
			}
		})
	}
}

func TestExecutorConfirmationTimeout(t *testing.T) {
	contract := &fakeContract{}
	executor := newTestExecutor(t, ExecutorConfig{ConfirmTimeout: 10 * time.Millisecond}, contract, &fakeWaiter{block: true})

	_, err := executor.Execute(context.Background(), readyVoucher(1))
	require.ErrorIs(t, err, ErrConfirmationPending)

	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	require.NotEqual(t, common.Hash{}, execErr.TxHash)
}

func TestExecutorResume(t *testing.T) {
	hash := common.HexToHash("0xabc")
	key := model.VoucherKey{InputIndex: 1}

	t.Run("mined", func(t *testing.T) {
		contract := &fakeContract{}
		executor := newTestExecutor(t, ExecutorConfig{}, contract, &fakeWaiter{status: types.ReceiptStatusSuccessful})

		receipt, err := executor.Resume(context.Background(), key, hash)
		require.NoError(t, err)
		require.Equal(t, hash, receipt.TxHash)
		require.Equal(t, 0, contract.submitCount())
	})

	t.Run("still pending", func(t *testing.T) {
		contract := &fakeContract{}
		executor := newTestExecutor(t, ExecutorConfig{ConfirmTimeout: 10 * time.Millisecond}, contract, &fakeWaiter{block: true})

		_, err := executor.Resume(context.Background(), key, hash)
		require.ErrorIs(t, err, ErrConfirmationPending)
		sent, ok := submittedTx(err)
		require.True(t, ok)
		require.Equal(t, hash, sent)
		require.Equal(t, 0, contract.submitCount())
	})

	t.Run("dropped", func(t *testing.T) {
		waiter := &fakeWaiter{dropped: true}
		executor := newTestExecutor(t, ExecutorConfig{}, &fakeContract{}, waiter)

		_, err := executor.Resume(context.Background(), key, hash)
		require.ErrorIs(t, err, ErrDropped)
		_, ok := submittedTx(err)
		require.False(t, ok)
		require.Equal(t, 0, waiter.waitCount())
	})
}

func TestExecutorCancelledWaitKeepsTxHash(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	waiter := &fakeWaiter{gate: make(chan struct{})}
	executor := newTestExecutor(t, ExecutorConfig{ConfirmTimeout: time.Minute}, &fakeContract{}, waiter)

	go func() {
		for waiter.waitCount() == 0 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	_, err := executor.Execute(ctx, readyVoucher(1))
	require.ErrorIs(t, err, context.Canceled)
	_, ok := submittedTx(err)
	require.True(t, ok)
}

func TestNewExecutorValidation(t *testing.T) {
	_, err := NewExecutor(ExecutorConfig{}, nil, &fakeWaiter{}, &bind.TransactOpts{}, nil)
	require.Error(t, err)
	_, err = NewExecutor(ExecutorConfig{}, &fakeContract{}, nil, &bind.TransactOpts{}, nil)
	require.Error(t, err)
	_, err = NewExecutor(ExecutorConfig{}, &fakeContract{}, &fakeWaiter{}, nil, nil)
	require.Error(t, err)
}
