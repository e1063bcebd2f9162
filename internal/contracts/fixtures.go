package contracts

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// BuildListingLog assembles a ListingCreated log emitted by marketplace. data holds the
// ABI encoded non-indexed fields.
func BuildListingLog(marketplace common.Address, id *big.Int, nftContract common.Address, tokenID *big.Int, data []byte) types.Log {
	topic0, _ := ListingCreatedTopic()
	return types.Log{
		Address: marketplace,
		Topics: []common.Hash{
			topic0,
			common.BigToHash(id),
			common.BytesToHash(nftContract.Bytes()),
			common.BigToHash(tokenID),
		},
		Data: data,
	}
}
