package contracts

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"voucherRelay/internal/model"
)

// ListingCreatedEvent is the marketplace event relayed to listing handlers.
const ListingCreatedEvent = "ListingCreated"

// ListingCreatedTopic returns topic0 of the ListingCreated event.
func ListingCreatedTopic() (common.Hash, error) {
	marketABI, err := MarketplaceABI()
	if err != nil {
		return common.Hash{}, fmt.Errorf("parse marketplace abi: %w", err)
	}
	return marketABI.Events[ListingCreatedEvent].ID, nil
}

// DecodeListing converts a ListingCreated log into a ListingEvent.
func DecodeListing(log types.Log) (model.ListingEvent, error) {
	marketABI, err := MarketplaceABI()
	if err != nil {
		return model.ListingEvent{}, fmt.Errorf("parse marketplace abi: %w", err)
	}
	event := marketABI.Events[ListingCreatedEvent]

	if len(log.Topics) == 0 || log.Topics[0] != event.ID {
		return model.ListingEvent{}, &model.DecodeError{Field: "topic0", Err: fmt.Errorf("not a %s log", ListingCreatedEvent)}
	}
	indexedArgs := indexedArguments(event.Inputs)
	if len(log.Topics) != len(indexedArgs)+1 {
		return model.ListingEvent{}, &model.DecodeError{
			Field: "topics",
			Err:   fmt.Errorf("expected %d topics, got %d", len(indexedArgs)+1, len(log.Topics)),
		}
	}

	var indexed struct {
		Id          *big.Int
		NftContract common.Address
		TokenId     *big.Int
	}
	if err := abi.ParseTopics(&indexed, indexedArgs, log.Topics[1:]); err != nil {
		return model.ListingEvent{}, &model.DecodeError{Field: "topics", Err: err}
	}

	values, err := event.Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return model.ListingEvent{}, &model.DecodeError{Field: "data", Err: err}
	}
	if len(values) != 2 {
		return model.ListingEvent{}, &model.DecodeError{Field: "data", Err: fmt.Errorf("unexpected listing values: %d", len(values))}
	}

	seller, ok := values[0].(common.Address)
	if !ok {
		return model.ListingEvent{}, &model.DecodeError{Field: "seller", Err: fmt.Errorf("unexpected type %T", values[0])}
	}
	price, ok := values[1].(*big.Int)
	if !ok {
		return model.ListingEvent{}, &model.DecodeError{Field: "price", Err: fmt.Errorf("unexpected type %T", values[1])}
	}

	return model.ListingEvent{
		ID:          indexed.Id,
		NFTContract: indexed.NftContract,
		TokenID:     indexed.TokenId,
		Seller:      seller,
		Price:       price,
		BlockNumber: log.BlockNumber,
		TxHash:      log.TxHash,
		LogIndex:    log.Index,
	}, nil
}

func indexedArguments(args abi.Arguments) abi.Arguments {
	indexed := make(abi.Arguments, 0, len(args))
	for _, arg := range args {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return indexed
}
