package contracts

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"voucherRelay/internal/model"
)

// DappContract binds the rollup dapp contract methods used by the relay.
type DappContract struct {
	address  common.Address
	contract *bind.BoundContract
}

// NewDappContract binds the dapp at address to backend.
func NewDappContract(address common.Address, backend bind.ContractBackend) (*DappContract, error) {
	dappABI, err := DappABI()
	if err != nil {
		return nil, fmt.Errorf("parse dapp abi: %w", err)
	}
	return &DappContract{
		address:  address,
		contract: bind.NewBoundContract(address, dappABI, backend, backend, backend),
	}, nil
}

func (d *DappContract) Address() common.Address {
	return d.address
}

// ExecuteVoucher submits executeVoucher(destination, payload, proof). The voucher must
// carry a proof.
func (d *DappContract) ExecuteVoucher(opts *bind.TransactOpts, voucher model.Voucher) (*types.Transaction, error) {
	if voucher.Proof == nil {
		return nil, fmt.Errorf("voucher %s has no proof", voucher.Key())
	}
	return d.contract.Transact(opts, "executeVoucher", voucher.Destination, voucher.Payload, *voucher.Proof)
}

// WasVoucherExecuted asks the dapp whether the voucher has already been executed.
func (d *DappContract) WasVoucherExecuted(ctx context.Context, key model.VoucherKey) (bool, error) {
	var out []interface{}
	err := d.contract.Call(&bind.CallOpts{Context: ctx}, &out, "wasVoucherExecuted",
		new(big.Int).SetUint64(key.InputIndex),
		new(big.Int).SetUint64(key.VoucherIndex),
	)
	if err != nil {
		return false, fmt.Errorf("call wasVoucherExecuted: %w", err)
	}
	if len(out) != 1 {
		return false, fmt.Errorf("unexpected wasVoucherExecuted outputs: %d", len(out))
	}
	executed, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("unexpected wasVoucherExecuted type %T", out[0])
	}
	return executed, nil
}

// PackExecuteVoucher returns the calldata for executeVoucher.
func PackExecuteVoucher(voucher model.Voucher) ([]byte, error) {
	if voucher.Proof == nil {
		return nil, fmt.Errorf("voucher %s has no proof", voucher.Key())
	}
	dappABI, err := DappABI()
	if err != nil {
		return nil, fmt.Errorf("parse dapp abi: %w", err)
	}
	return dappABI.Pack("executeVoucher", voucher.Destination, voucher.Payload, *voucher.Proof)
}
