package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"voucherRelay/internal/model"
)

// ReportSource lists computation reports.
type ReportSource interface {
	FetchReports(ctx context.Context) ([]model.Report, error)
}

// VoucherSource fetches one voucher with its current proof state.
type VoucherSource interface {
	FetchVoucher(ctx context.Context, inputIndex, voucherIndex uint64) (model.Voucher, error)
}

// VoucherExecutor executes a voucher on chain and resumes waiting on a transaction
// already sent for it.
type VoucherExecutor interface {
	Execute(ctx context.Context, voucher model.Voucher) (*types.Receipt, error)
	Resume(ctx context.Context, key model.VoucherKey, hash common.Hash) (*types.Receipt, error)
}

// ListingFeed is a background listing subscription owned by the coordinator.
type ListingFeed interface {
	Start(ctx context.Context) error
	Stop()
}

// ExecutionSink records terminal execution outcomes.
type ExecutionSink interface {
	PutExecution(record model.ExecutionRecord) error
}

// Deps are the collaborators of a Coordinator. Executor, Listings and Sink are optional;
// without an Executor the coordinator only serves reports.
type Deps struct {
	Reports  ReportSource
	Vouchers VoucherSource
	Executor VoucherExecutor
	Listings ListingFeed
	Sink     ExecutionSink
}

// CoordinatorConfig holds coordinator settings.
type CoordinatorConfig struct {
	// PollInterval refreshes reports in the background when positive.
	PollInterval time.Duration
	OnTransition TransitionFunc
}

// Coordinator drives the per-voucher execution state machine and keeps the report view.
// At most one attempt runs per voucher at a time.
type Coordinator struct {
	cfg    CoordinatorConfig
	deps   Deps
	logger *zap.Logger

	mu      sync.Mutex
	states  map[model.VoucherKey]State
	// sent transactions whose outcome is unknown
	pending map[model.VoucherKey]common.Hash
	view    ReportView
	viewGen uint64

	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewCoordinator builds a Coordinator.
func NewCoordinator(cfg CoordinatorConfig, deps Deps, logger *zap.Logger) (*Coordinator, error) {
	if deps.Reports == nil {
		return nil, fmt.Errorf("report source is nil")
	}
	if deps.Vouchers == nil {
		return nil, fmt.Errorf("voucher source is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		cfg:     cfg,
		deps:    deps,
		logger:  logger,
		states:  make(map[model.VoucherKey]State),
		pending: make(map[model.VoucherKey]common.Hash),
	}, nil
}

// State returns the current state of a voucher.
func (c *Coordinator) State(key model.VoucherKey) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.states[key]
}

// Execute fetches the voucher and executes it once its proof is available.
//
// A trigger for a voucher whose attempt is still fetching or executing returns
// ErrInFlight without side effects. A voucher without proof returns ErrProofNotReady and
// is never submitted. Once a transaction was sent, later triggers wait on that
// transaction again instead of submitting a new one, unless it reverted or was dropped.
func (c *Coordinator) Execute(ctx context.Context, key model.VoucherKey) (*types.Receipt, error) {
	if c.deps.Executor == nil {
		return nil, ErrReadOnly
	}
	hash, err := c.begin(key)
	if err != nil {
		c.logger.Info("execute trigger ignored", zap.Stringer("voucher", key), zap.Error(err))
		return nil, err
	}

	if hash != (common.Hash{}) {
		receipt, err := c.deps.Executor.Resume(ctx, key, hash)
		if !errors.Is(err, ErrDropped) {
			return c.settle(key, receipt, err)
		}
		c.logger.Info("resubmitting dropped voucher", zap.Stringer("voucher", key), zap.String("tx_hash", hash.Hex()))
		c.clearPending(key)
		c.transition(key, StateFetching)
	}

	voucher, err := c.deps.Vouchers.FetchVoucher(ctx, key.InputIndex, key.VoucherIndex)
	if err != nil {
		c.logger.Warn("fetch voucher failed", zap.Stringer("voucher", key), zap.Error(err))
		c.transition(key, StateIdle)
		return nil, err
	}

	if voucher.Executed {
		c.transition(key, StateExecuted)
		c.record(key, StateExecuted, nil, nil)
		return nil, ErrAlreadyExecuted
	}
	if !voucher.HasProof() {
		c.logger.Info("voucher proof not ready", zap.Stringer("voucher", key))
		c.transition(key, StateNotReady)
		c.transition(key, StateIdle)
		return nil, ErrProofNotReady
	}

	c.transition(key, StateReady)
	c.transition(key, StateExecuting)

	receipt, err := c.deps.Executor.Execute(ctx, voucher)
	return c.settle(key, receipt, err)
}

// settle moves an executing voucher to its outcome state.
func (c *Coordinator) settle(key model.VoucherKey, receipt *types.Receipt, err error) (*types.Receipt, error) {
	if hash, ok := submittedTx(err); ok {
		c.mu.Lock()
		c.pending[key] = hash
		c.mu.Unlock()
		c.logger.Warn("voucher transaction outcome unknown", zap.Stringer("voucher", key), zap.String("tx_hash", hash.Hex()), zap.Error(err))
		c.transition(key, StatePending)
		c.record(key, StatePending, nil, err)
		return nil, err
	}

	c.clearPending(key)
	switch {
	case err == nil:
		c.transition(key, StateExecuted)
		c.record(key, StateExecuted, receipt, nil)
		return receipt, nil
	case errors.Is(err, ErrAlreadyExecuted):
		c.transition(key, StateExecuted)
		c.record(key, StateExecuted, nil, nil)
		return nil, err
	case errors.Is(err, ErrProofNotReady):
		c.transition(key, StateNotReady)
		c.transition(key, StateIdle)
		return nil, err
	default:
		c.logger.Warn("voucher execution failed", zap.Stringer("voucher", key), zap.Error(err))
		c.transition(key, StateFailed)
		c.record(key, StateFailed, receipt, err)
		c.transition(key, StateIdle)
		return receipt, err
	}
}

// begin claims the voucher for one attempt. A voucher with a sent transaction moves
// straight to EXECUTING and its hash is returned; otherwise it moves to FETCHING.
func (c *Coordinator) begin(key model.VoucherKey) (common.Hash, error) {
	c.mu.Lock()
	from := c.states[key]
	switch {
	case from.inFlight():
		c.mu.Unlock()
		return common.Hash{}, ErrInFlight
	case from == StateExecuted:
		c.mu.Unlock()
		return common.Hash{}, ErrAlreadyExecuted
	}
	hash, sent := c.pending[key]
	to := StateFetching
	if sent {
		to = StateExecuting
	}
	c.states[key] = to
	c.mu.Unlock()

	c.notify(Transition{Key: key, From: from, To: to})
	return hash, nil
}

func (c *Coordinator) clearPending(key model.VoucherKey) {
	c.mu.Lock()
	delete(c.pending, key)
	c.mu.Unlock()
}

// PendingTx returns the sent transaction of a voucher whose outcome is still unknown.
func (c *Coordinator) PendingTx(key model.VoucherKey) (common.Hash, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	hash, ok := c.pending[key]
	return hash, ok
}

func (c *Coordinator) transition(key model.VoucherKey, to State) {
	c.mu.Lock()
	from := c.states[key]
	if to == StateIdle {
		delete(c.states, key)
	} else {
		c.states[key] = to
	}
	c.mu.Unlock()

	c.notify(Transition{Key: key, From: from, To: to})
}

func (c *Coordinator) notify(t Transition) {
	c.logger.Debug("voucher state", zap.Stringer("voucher", t.Key), zap.Stringer("from", t.From), zap.Stringer("to", t.To))
	if c.cfg.OnTransition != nil {
		c.cfg.OnTransition(t)
	}
}

func (c *Coordinator) record(key model.VoucherKey, state State, receipt *types.Receipt, err error) {
	if c.deps.Sink == nil {
		return
	}

	record := model.ExecutionRecord{
		InputIndex:   key.InputIndex,
		VoucherIndex: key.VoucherIndex,
		State:        state.String(),
		At:           time.Now().UTC().Format(time.RFC3339Nano),
	}
	if receipt != nil {
		record.TxHash = receipt.TxHash.Hex()
		record.BlockNumber = receiptBlock(receipt)
	}
	var execErr *ExecutionError
	if record.TxHash == "" && errors.As(err, &execErr) && execErr.TxHash != (common.Hash{}) {
		record.TxHash = execErr.TxHash.Hex()
	}
	if err != nil {
		record.Error = err.Error()
	}

	if err := c.deps.Sink.PutExecution(record); err != nil {
		c.logger.Warn("record execution failed", zap.Stringer("voucher", key), zap.Error(err))
	}
}

// Start launches the listing subscription and the report poll loop, if configured.
func (c *Coordinator) Start(ctx context.Context) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	if c.cancel != nil {
		return fmt.Errorf("coordinator already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if c.deps.Listings != nil {
		if err := c.deps.Listings.Start(runCtx); err != nil {
			cancel()
			return fmt.Errorf("start listings: %w", err)
		}
	}

	c.cancel = cancel
	c.done = make(chan struct{})
	go c.poll(runCtx, c.done)
	return nil
}

// Stop tears down background work started by Start and waits for it to finish.
func (c *Coordinator) Stop() {
	c.lifecycleMu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.lifecycleMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	if c.deps.Listings != nil {
		c.deps.Listings.Stop()
	}
}

func (c *Coordinator) poll(ctx context.Context, done chan struct{}) {
	defer close(done)
	if c.cfg.PollInterval <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	for {
		view := c.RefreshReports(ctx)
		c.logger.Debug("reports refreshed", zap.Stringer("status", view.Status), zap.Int("count", len(view.Reports)))

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
