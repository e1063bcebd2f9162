package indexer

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"voucherRelay/internal/model"
)

const voucherQuery = `query voucher($voucherIndex: Int!, $inputIndex: Int!) {
  voucher(voucherIndex: $voucherIndex, inputIndex: $inputIndex) {
    id
    index
    destination
    input {
      index
    }
    payload
    proof {
      validity {
        inputIndexWithinEpoch
        outputIndexWithinInput
        outputHashesRootHash
        vouchersEpochRootHash
        noticesEpochRootHash
        machineStateHash
        outputHashInOutputHashesSiblings
        outputHashesInEpochSiblings
      }
      context
    }
    executed
  }
}`

type voucherData struct {
	Voucher *voucherNode `json:"voucher"`
}

type voucherNode struct {
	ID          string     `json:"id"`
	Index       uint64     `json:"index"`
	Destination string     `json:"destination"`
	Input       *inputNode `json:"input"`
	Payload     string     `json:"payload"`
	Proof       *proofNode `json:"proof"`
	Executed    bool       `json:"executed"`
}

type proofNode struct {
	Validity validityNode `json:"validity"`
	Context  string       `json:"context"`
}

type validityNode struct {
	InputIndexWithinEpoch            uint64   `json:"inputIndexWithinEpoch"`
	OutputIndexWithinInput           uint64   `json:"outputIndexWithinInput"`
	OutputHashesRootHash             string   `json:"outputHashesRootHash"`
	VouchersEpochRootHash            string   `json:"vouchersEpochRootHash"`
	NoticesEpochRootHash             string   `json:"noticesEpochRootHash"`
	MachineStateHash                 string   `json:"machineStateHash"`
	OutputHashInOutputHashesSiblings []string `json:"outputHashInOutputHashesSiblings"`
	OutputHashesInEpochSiblings      []string `json:"outputHashesInEpochSiblings"`
}

// FetchVoucher queries a voucher and its current proof state. The query always goes to
// the network since proofs appear only once the epoch is finalized.
func (c *Client) FetchVoucher(ctx context.Context, inputIndex, voucherIndex uint64) (model.Voucher, error) {
	var data voucherData
	variables := map[string]interface{}{
		"voucherIndex": voucherIndex,
		"inputIndex":   inputIndex,
	}
	if err := c.query(ctx, "voucher", voucherQuery, variables, &data); err != nil {
		return model.Voucher{}, err
	}
	if data.Voucher == nil {
		return model.Voucher{}, &FetchError{Op: "voucher", Err: fmt.Errorf("voucher %d:%d %w", inputIndex, voucherIndex, ErrNotFound)}
	}

	voucher, err := decodeVoucher(*data.Voucher, inputIndex)
	if err != nil {
		return model.Voucher{}, &FetchError{Op: "voucher", Err: err}
	}

	c.logger.Debug("voucher fetched",
		zap.Uint64("input_index", voucher.InputIndex),
		zap.Uint64("voucher_index", voucher.Index),
		zap.Bool("has_proof", voucher.HasProof()),
		zap.Bool("executed", voucher.Executed),
	)
	return voucher, nil
}

func decodeVoucher(node voucherNode, inputIndex uint64) (model.Voucher, error) {
	if !common.IsHexAddress(node.Destination) {
		return model.Voucher{}, &model.DecodeError{Field: "destination", Value: node.Destination, Err: fmt.Errorf("invalid address")}
	}
	payload, err := hexutil.Decode(node.Payload)
	if err != nil {
		return model.Voucher{}, &model.DecodeError{Field: "payload", Value: node.Payload, Err: err}
	}

	voucher := model.Voucher{
		ID:          node.ID,
		Index:       node.Index,
		InputIndex:  inputIndex,
		Destination: common.HexToAddress(node.Destination),
		Payload:     payload,
		Executed:    node.Executed,
	}
	if node.Input != nil {
		voucher.InputIndex = node.Input.Index
	}

	if node.Proof != nil {
		proof, err := decodeProof(*node.Proof)
		if err != nil {
			return model.Voucher{}, err
		}
		voucher.Proof = proof
	}
	return voucher, nil
}

func decodeProof(node proofNode) (*model.Proof, error) {
	validity := node.Validity
	var err error
	proof := &model.Proof{
		Validity: model.OutputValidityProof{
			InputIndexWithinEpoch:  validity.InputIndexWithinEpoch,
			OutputIndexWithinInput: validity.OutputIndexWithinInput,
		},
	}

	hashes := []struct {
		field string
		value string
		dst   *common.Hash
	}{
		{"outputHashesRootHash", validity.OutputHashesRootHash, &proof.Validity.OutputHashesRootHash},
		{"vouchersEpochRootHash", validity.VouchersEpochRootHash, &proof.Validity.VouchersEpochRootHash},
		{"noticesEpochRootHash", validity.NoticesEpochRootHash, &proof.Validity.NoticesEpochRootHash},
		{"machineStateHash", validity.MachineStateHash, &proof.Validity.MachineStateHash},
	}
	for _, h := range hashes {
		if *h.dst, err = decodeHash(h.field, h.value); err != nil {
			return nil, err
		}
	}

	if proof.Validity.OutputHashInOutputHashesSiblings, err = decodeHashes("outputHashInOutputHashesSiblings", validity.OutputHashInOutputHashesSiblings); err != nil {
		return nil, err
	}
	if proof.Validity.OutputHashesInEpochSiblings, err = decodeHashes("outputHashesInEpochSiblings", validity.OutputHashesInEpochSiblings); err != nil {
		return nil, err
	}

	if node.Context == "" {
		proof.Context = []byte{}
	} else if proof.Context, err = hexutil.Decode(node.Context); err != nil {
		return nil, &model.DecodeError{Field: "context", Value: node.Context, Err: err}
	}
	return proof, nil
}

func decodeHash(field, value string) (common.Hash, error) {
	data, err := hexutil.Decode(value)
	if err != nil {
		return common.Hash{}, &model.DecodeError{Field: field, Value: value, Err: err}
	}
	if len(data) != common.HashLength {
		return common.Hash{}, &model.DecodeError{Field: field, Value: value, Err: fmt.Errorf("hash length %d", len(data))}
	}
	return common.BytesToHash(data), nil
}

func decodeHashes(field string, values []string) ([]common.Hash, error) {
	out := make([]common.Hash, 0, len(values))
	for _, value := range values {
		hash, err := decodeHash(field, value)
		if err != nil {
			return nil, err
		}
		out = append(out, hash)
	}
	return out, nil
}
