package model

import (
	"encoding/json"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"
)

// ListingEvent is a decoded ListingCreated log from the marketplace contract.
type ListingEvent struct {
	ID          *big.Int
	NFTContract common.Address
	TokenID     *big.Int
	Seller      common.Address
	Price       *big.Int

	BlockNumber uint64
	TxHash      common.Hash
	LogIndex    uint
}

// PriceEther returns the listing price scaled to ether.
func (e ListingEvent) PriceEther() string {
	return FormatEther(e.Price)
}

type listingJSON struct {
	ID          string `json:"id"`
	NFTContract string `json:"nft_contract"`
	TokenID     string `json:"token_id"`
	Seller      string `json:"seller"`
	PriceWei    string `json:"price_wei"`
	PriceEther  string `json:"price_ether"`
	BlockNumber uint64 `json:"block_number"`
	TxHash      string `json:"tx_hash"`
	LogIndex    uint   `json:"log_index"`
}

// MarshalJSON encodes big integers as decimal strings.
func (e ListingEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(listingJSON{
		ID:          bigString(e.ID),
		NFTContract: e.NFTContract.Hex(),
		TokenID:     bigString(e.TokenID),
		Seller:      e.Seller.Hex(),
		PriceWei:    bigString(e.Price),
		PriceEther:  e.PriceEther(),
		BlockNumber: e.BlockNumber,
		TxHash:      e.TxHash.Hex(),
		LogIndex:    e.LogIndex,
	})
}

// FormatEther renders a wei amount as a decimal ether string. Whole amounts keep one
// fractional digit, so 1e18 wei renders as "1.0".
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0.0"
	}

	abs := new(big.Int).Abs(wei)
	whole, frac := new(big.Int).QuoRem(abs, big.NewInt(params.Ether), new(big.Int))

	fracStr := frac.String()
	fracStr = strings.Repeat("0", 18-len(fracStr)) + fracStr
	fracStr = strings.TrimRight(fracStr, "0")
	if fracStr == "" {
		fracStr = "0"
	}

	out := whole.String() + "." + fracStr
	if wei.Sign() < 0 {
		out = "-" + out
	}
	return out
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
