package relay

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrProofNotReady means the voucher's epoch is not finalized yet. It is an expected
	// outcome, not a failure.
	ErrProofNotReady = errors.New("voucher proof not ready")
	// ErrAlreadyExecuted means the voucher was executed before.
	ErrAlreadyExecuted = errors.New("voucher already executed")
	// ErrInFlight means another execution attempt for the same voucher is running.
	ErrInFlight = errors.New("voucher execution already in flight")
	// ErrConfirmationPending means the transaction was submitted but not mined within
	// the confirmation timeout.
	ErrConfirmationPending = errors.New("transaction confirmation still pending")
	// ErrReverted means the transaction was mined with a failed status.
	ErrReverted = errors.New("transaction reverted")
	// ErrDropped means a submitted transaction is no longer known to the node, so the
	// voucher may be submitted again.
	ErrDropped = errors.New("transaction dropped")
	// ErrReadOnly means the coordinator was built without an executor.
	ErrReadOnly = errors.New("coordinator has no voucher executor")
)

// Stage tells where an execution attempt failed.
type Stage string

const (
	StagePrecheck Stage = "precheck"
	StageSubmit   Stage = "submit"
	StageConfirm  Stage = "confirm"
	StageRevert   Stage = "revert"
)

// ExecutionError reports a failed voucher execution with its underlying cause.
type ExecutionError struct {
	Stage  Stage
	TxHash common.Hash
	Err    error
}

func (e *ExecutionError) Error() string {
	if e.TxHash == (common.Hash{}) {
		return fmt.Sprintf("execute voucher (%s): %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("execute voucher (%s, tx %s): %v", e.Stage, e.TxHash.Hex(), e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// submittedTx returns the hash of a transaction that was sent but whose outcome is still
// unknown: the confirmation wait timed out, was cancelled or lost its transport.
func submittedTx(err error) (common.Hash, bool) {
	var execErr *ExecutionError
	if !errors.As(err, &execErr) || execErr.Stage != StageConfirm || execErr.TxHash == (common.Hash{}) {
		return common.Hash{}, false
	}
	if errors.Is(err, ErrDropped) {
		return common.Hash{}, false
	}
	return execErr.TxHash, true
}
