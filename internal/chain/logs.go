package chain

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrNotFungibleTransfer marks Transfer logs that do not have the ERC-20 shape.
// ERC-721 shares the topic but indexes the token id as a fourth topic.
var ErrNotFungibleTransfer = errors.New("not an erc20 transfer log")

// TransferLog is a decoded ERC-20 Transfer. Fields are nil when the log was malformed.
type TransferLog struct {
	From  *common.Address
	To    *common.Address
	Value *big.Int
}

// DecodeTransfer decodes an ERC-20 Transfer log using the bundled ABI.
func DecodeTransfer(lg types.Log) (TransferLog, error) {
	if len(lg.Topics) == 0 || lg.Topics[0] != TransferEvent.ID {
		return TransferLog{}, ErrNotFungibleTransfer
	}
	if len(lg.Topics) > 3 {
		return TransferLog{}, ErrNotFungibleTransfer
	}

	var out TransferLog
	indexed, nonIndexed := splitIndexed(TransferEvent.Inputs)

	if len(lg.Topics) != 3 {
		return out, nil
	}

	args := map[string]any{}
	if err := abi.ParseTopicsIntoMap(args, indexed, lg.Topics[1:]); err == nil {
		if from, ok := args["from"].(common.Address); ok {
			out.From = &from
		}
		if to, ok := args["to"].(common.Address); ok {
			out.To = &to
		}
	}
	if err := nonIndexed.UnpackIntoMap(args, lg.Data); err == nil {
		if v, ok := args["value"].(*big.Int); ok {
			out.Value = v
		}
	}
	return out, nil
}

func splitIndexed(args abi.Arguments) (indexed abi.Arguments, nonIndexed abi.Arguments) {
	for _, a := range args {
		if a.Indexed {
			indexed = append(indexed, a)
		} else {
			nonIndexed = append(nonIndexed, a)
		}
	}
	return indexed, nonIndexed
}
