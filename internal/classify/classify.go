// Package classify decides which NFT standard a contract implements by probing ERC-165.
package classify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/devblac/chain-statement/internal/chain"
	"github.com/devblac/chain-statement/internal/metrics"
	"github.com/devblac/chain-statement/internal/transfer"
)

// ERC-165 interface identifiers.
var (
	InterfaceERC1155 = [4]byte{0xd9, 0xb6, 0x7a, 0x26}
	InterfaceERC721  = [4]byte{0x80, 0xac, 0x58, 0xcd}
)

// Prober runs fn against endpoints until one succeeds. *chain.Pool satisfies it.
type Prober interface {
	Do(ctx context.Context, op string, fn func(ctx context.Context, c chain.Client) error) error
}

// Classifier memoizes contract classifications for its lifetime.
type Classifier struct {
	prober  Prober
	log     *slog.Logger
	metrics *metrics.Metrics

	mu    sync.RWMutex
	cache map[string]transfer.Category
}

// New builds a classifier with an empty cache.
func New(prober Prober, log *slog.Logger, m *metrics.Metrics) *Classifier {
	if log == nil {
		log = slog.Default()
	}
	return &Classifier{
		prober:  prober,
		log:     log,
		metrics: m,
		cache:   map[string]transfer.Category{},
	}
}

// Classify returns NonFungibleMulti, NonFungibleSingle or UnresolvedNonFungible
// for address. It never fails: when every endpoint errors the contract is cached
// as unresolved. A probe cut short by ctx is not cached.
func (c *Classifier) Classify(ctx context.Context, address string) transfer.Category {
	key := strings.ToLower(address)

	c.mu.RLock()
	cat, ok := c.cache[key]
	c.mu.RUnlock()
	c.metrics.ClassificationLookup(ok)
	if ok {
		return cat
	}

	cat = c.probe(ctx, address)
	if ctx.Err() != nil {
		// A canceled probe says nothing about the contract.
		return cat
	}

	c.mu.Lock()
	c.cache[key] = cat
	c.mu.Unlock()
	return cat
}

// Cached reports the memoized category for address, if any.
func (c *Classifier) Cached(address string) (transfer.Category, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cat, ok := c.cache[strings.ToLower(address)]
	return cat, ok
}

func (c *Classifier) probe(ctx context.Context, address string) transfer.Category {
	if !common.IsHexAddress(address) {
		c.log.Warn("cannot classify invalid contract address", "contract", address)
		return transfer.UnresolvedNonFungible
	}
	contract := common.HexToAddress(address)

	var multi, single bool
	err := c.prober.Do(ctx, "classify "+contract.Hex(), func(ctx context.Context, cl chain.Client) error {
		var err error
		// Both probes run on the same endpoint so the answer is consistent.
		if multi, err = supports(ctx, cl, contract, InterfaceERC1155); err != nil {
			return err
		}
		single, err = supports(ctx, cl, contract, InterfaceERC721)
		return err
	})
	if err != nil {
		c.log.Warn("contract classification failed", "contract", contract.Hex(), "error", err)
		return transfer.UnresolvedNonFungible
	}

	switch {
	case multi:
		return transfer.NonFungibleMulti
	case single:
		return transfer.NonFungibleSingle
	default:
		return transfer.UnresolvedNonFungible
	}
}

func supports(ctx context.Context, cl chain.Client, contract common.Address, id [4]byte) (bool, error) {
	out, err := chain.Call(ctx, cl, contract, chain.ERC165ABI, "supportsInterface", id)
	if err != nil {
		return false, err
	}
	if len(out) != 1 {
		return false, fmt.Errorf("supportsInterface: %w", errUnexpectedOutput)
	}
	ok, isBool := out[0].(bool)
	if !isBool {
		return false, fmt.Errorf("supportsInterface: %w", errUnexpectedOutput)
	}
	return ok, nil
}

var errUnexpectedOutput = errors.New("unexpected output")
