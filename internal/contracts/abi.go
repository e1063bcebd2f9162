package contracts

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const marketplaceABIJSON = `[
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "uint256", "name": "id", "type": "uint256"},
      {"indexed": true, "internalType": "address", "name": "nftContract", "type": "address"},
      {"indexed": true, "internalType": "uint256", "name": "tokenId", "type": "uint256"},
      {"indexed": false, "internalType": "address", "name": "seller", "type": "address"},
      {"indexed": false, "internalType": "uint256", "name": "price", "type": "uint256"}
    ],
    "name": "ListingCreated",
    "type": "event"
  }
]`

const dappABIJSON = `[
  {
    "inputs": [
      {"internalType": "address", "name": "_destination", "type": "address"},
      {"internalType": "bytes", "name": "_payload", "type": "bytes"},
      {
        "components": [
          {
            "components": [
              {"internalType": "uint64", "name": "inputIndexWithinEpoch", "type": "uint64"},
              {"internalType": "uint64", "name": "outputIndexWithinInput", "type": "uint64"},
              {"internalType": "bytes32", "name": "outputHashesRootHash", "type": "bytes32"},
              {"internalType": "bytes32", "name": "vouchersEpochRootHash", "type": "bytes32"},
              {"internalType": "bytes32", "name": "noticesEpochRootHash", "type": "bytes32"},
              {"internalType": "bytes32", "name": "machineStateHash", "type": "bytes32"},
              {"internalType": "bytes32[]", "name": "outputHashInOutputHashesSiblings", "type": "bytes32[]"},
              {"internalType": "bytes32[]", "name": "outputHashesInEpochSiblings", "type": "bytes32[]"}
            ],
            "internalType": "struct OutputValidityProof",
            "name": "validity",
            "type": "tuple"
          },
          {"internalType": "bytes", "name": "context", "type": "bytes"}
        ],
        "internalType": "struct Proof",
        "name": "_proof",
        "type": "tuple"
      }
    ],
    "name": "executeVoucher",
    "outputs": [{"internalType": "bool", "name": "", "type": "bool"}],
    "stateMutability": "nonpayable",
    "type": "function"
  },
  {
    "inputs": [
      {"internalType": "uint256", "name": "_inputIndex", "type": "uint256"},
      {"internalType": "uint256", "name": "_outputIndexWithinInput", "type": "uint256"}
    ],
    "name": "wasVoucherExecuted",
    "outputs": [{"internalType": "bool", "name": "", "type": "bool"}],
    "stateMutability": "view",
    "type": "function"
  }
]`

var (
	marketplaceABI     abi.ABI
	marketplaceABIOnce sync.Once
	marketplaceABIErr  error

	dappABI     abi.ABI
	dappABIOnce sync.Once
	dappABIErr  error
)

// MarketplaceABI returns the parsed marketplace ABI.
func MarketplaceABI() (abi.ABI, error) {
	marketplaceABIOnce.Do(func() {
		marketplaceABI, marketplaceABIErr = abi.JSON(strings.NewReader(marketplaceABIJSON))
	})
	return marketplaceABI, marketplaceABIErr
}

// DappABI returns the parsed rollup dapp ABI.
func DappABI() (abi.ABI, error) {
	dappABIOnce.Do(func() {
		dappABI, dappABIErr = abi.JSON(strings.NewReader(dappABIJSON))
	})
	return dappABI, dappABIErr
}
