// Package provider holds the data sources a category fetcher can draw from: an
// RPC log scanner, Etherscan-compatible explorers and the Moralis NFT index.
package provider

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/devblac/chain-statement/internal/transfer"
)

// HeadSource returns the latest block for the current query. *chain.Session satisfies it.
type HeadSource interface {
	LatestBlockNumber(ctx context.Context) (*big.Int, error)
}

// Classifier resolves the NFT standard of a contract. It must not fail.
type Classifier interface {
	Classify(ctx context.Context, address string) transfer.Category
}

// Query is one wallet lookup. Head is shared by every adapter in the query.
type Query struct {
	Wallet common.Address
	Head   HeadSource
}

// Adapter fetches the records of one category from one source.
type Adapter interface {
	Name() string
	Fetch(ctx context.Context, q Query) ([]transfer.Record, error)
}

// startBlock is max(0, latest - span).
func startBlock(latest *big.Int, span uint64) *big.Int {
	start := new(big.Int).Sub(latest, new(big.Int).SetUint64(span))
	if start.Sign() < 0 {
		start.SetInt64(0)
	}
	return start
}
