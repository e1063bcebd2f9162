package relay

import "voucherRelay/internal/model"

// State is the execution state of one voucher.
type State int

const (
	StateIdle State = iota
	StateFetching
	StateReady
	StateNotReady
	StateExecuting
	StateExecuted
	StateFailed
	// StatePending means a transaction was submitted but its confirmation timed out.
	StatePending
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateFetching:
		return "FETCHING"
	case StateReady:
		return "READY"
	case StateNotReady:
		return "NOT_READY"
	case StateExecuting:
		return "EXECUTING"
	case StateExecuted:
		return "EXECUTED"
	case StateFailed:
		return "FAILED"
	case StatePending:
		return "PENDING"
	default:
		return "UNKNOWN"
	}
}

// inFlight reports whether a trigger must be ignored while in this state.
func (s State) inFlight() bool {
	return s == StateFetching || s == StateReady || s == StateExecuting
}

// Transition is one state change of a voucher.
type Transition struct {
	Key  model.VoucherKey
	From State
	To   State
}

// TransitionFunc observes state changes. It is called synchronously and must not block.
type TransitionFunc func(Transition)
