package model

// ExecutionRecord is written to export sinks once per terminal execution outcome.
type ExecutionRecord struct {
	InputIndex   uint64 `json:"input_index"`
	VoucherIndex uint64 `json:"voucher_index"`
	State        string `json:"state"`
	TxHash       string `json:"tx_hash,omitempty"`
	BlockNumber  uint64 `json:"block_number,omitempty"`
	Error        string `json:"error,omitempty"`
	At           string `json:"at"`
}
