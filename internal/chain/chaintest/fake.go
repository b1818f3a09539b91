// Package chaintest provides an in-memory chain.Client for tests.
package chaintest

import (
	"context"
	"errors"
	"math/big"
	"sync"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrDown is returned by a Client with Down set.
var ErrDown = errors.New("endpoint down")

// Client is a scriptable chain.Client that counts every call.
type Client struct {
	// Down fails every call with ErrDown.
	Down bool
	// Head is returned for latest-header requests.
	Head *big.Int
	// Times maps block height to header timestamp.
	Times map[uint64]uint64

	HeaderFn func(ctx context.Context, number *big.Int) (*types.Header, error)
	CallFn   func(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
	LogsFn   func(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)

	mu            sync.Mutex
	headerCalls   int
	contractCalls int
	logCalls      int
	queries       []ethereum.FilterQuery
}

func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	c.mu.Lock()
	c.headerCalls++
	c.mu.Unlock()
	if c.Down {
		return nil, ErrDown
	}
	if c.HeaderFn != nil {
		return c.HeaderFn(ctx, number)
	}
	if number == nil {
		if c.Head == nil {
			return nil, errors.New("no head configured")
		}
		return &types.Header{Number: new(big.Int).Set(c.Head)}, nil
	}
	return &types.Header{Number: new(big.Int).Set(number), Time: c.Times[number.Uint64()]}, nil
}

func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	c.mu.Lock()
	c.contractCalls++
	c.mu.Unlock()
	if c.Down {
		return nil, ErrDown
	}
	if c.CallFn == nil {
		return nil, errors.New("execution reverted")
	}
	return c.CallFn(ctx, msg)
}

func (c *Client) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	c.mu.Lock()
	c.logCalls++
	c.queries = append(c.queries, q)
	c.mu.Unlock()
	if c.Down {
		return nil, ErrDown
	}
	if c.LogsFn == nil {
		return nil, nil
	}
	return c.LogsFn(ctx, q)
}

// Calls returns the total number of calls of any kind.
func (c *Client) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.headerCalls + c.contractCalls + c.logCalls
}

func (c *Client) HeaderCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.headerCalls
}

func (c *Client) ContractCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.contractCalls
}

// Queries returns the log filters received, in order.
func (c *Client) Queries() []ethereum.FilterQuery {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ethereum.FilterQuery(nil), c.queries...)
}

// SupportsInterface answers ERC-165 probes: ids lists the interface ids the
// contract reports as supported.
func SupportsInterface(ids ...[4]byte) func(context.Context, ethereum.CallMsg) ([]byte, error) {
	return func(_ context.Context, msg ethereum.CallMsg) ([]byte, error) {
		if len(msg.Data) < 8 {
			return nil, errors.New("short call data")
		}
		var id [4]byte
		copy(id[:], msg.Data[4:8])
		out := make([]byte, 32)
		for _, want := range ids {
			if id == want {
				out[31] = 1
			}
		}
		return out, nil
	}
}

// AddressTopic left-pads addr into a topic.
func AddressTopic(addr common.Address) common.Hash {
	return common.BytesToHash(common.LeftPadBytes(addr.Bytes(), 32))
}

// TransferLog builds an ERC-20 style Transfer log.
func TransferLog(topic common.Hash, token, from, to common.Address, value int64, tx common.Hash, block uint64, index uint) types.Log {
	return types.Log{
		Address:     token,
		Topics:      []common.Hash{topic, AddressTopic(from), AddressTopic(to)},
		Data:        common.LeftPadBytes(big.NewInt(value).Bytes(), 32),
		TxHash:      tx,
		BlockHash:   common.BigToHash(new(big.Int).SetUint64(block)),
		BlockNumber: block,
		Index:       index,
	}
}
