package model

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// VoucherKey identifies a voucher by the input that produced it and its index within
// that input.
type VoucherKey struct {
	InputIndex   uint64
	VoucherIndex uint64
}

func (k VoucherKey) String() string {
	return fmt.Sprintf("%d:%d", k.InputIndex, k.VoucherIndex)
}

// Voucher is an on-chain call produced by off-chain computation. Proof is nil until the
// epoch holding the input is finalized.
type Voucher struct {
	ID          string
	Index       uint64
	InputIndex  uint64
	Destination common.Address
	Payload     []byte
	Proof       *Proof
	Executed    bool
}

func (v Voucher) Key() VoucherKey {
	return VoucherKey{InputIndex: v.InputIndex, VoucherIndex: v.Index}
}

// HasProof reports whether the voucher can be submitted for execution.
func (v Voucher) HasProof() bool {
	return v.Proof != nil
}

// Proof is the inclusion evidence checked by the dapp contract. The relay does not
// interpret it beyond passing it through.
type Proof struct {
	Validity OutputValidityProof
	Context  []byte
}

// OutputValidityProof mirrors the validity tuple accepted by executeVoucher.
type OutputValidityProof struct {
	InputIndexWithinEpoch            uint64
	OutputIndexWithinInput           uint64
	OutputHashesRootHash             common.Hash
	VouchersEpochRootHash            common.Hash
	NoticesEpochRootHash             common.Hash
	MachineStateHash                 common.Hash
	OutputHashInOutputHashesSiblings []common.Hash
	OutputHashesInEpochSiblings      []common.Hash
}
