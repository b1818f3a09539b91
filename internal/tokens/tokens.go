// Package tokens resolves ERC-20 name, symbol and decimals for enrichment.
package tokens

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/devblac/chain-statement/internal/chain"
	"github.com/devblac/chain-statement/internal/transfer"
)

// Info is the descriptive data of one token contract.
type Info struct {
	Address  string `json:"address"`
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

// Metadata renders info with the record metadata keys.
func (i Info) Metadata() map[string]string {
	return map[string]string{
		"name":     i.Name,
		"symbol":   i.Symbol,
		"decimals": strconv.Itoa(int(i.Decimals)),
	}
}

// LoadAssets reads a JSON asset list from path.
func LoadAssets(path string) (map[string]Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open assets: %w", err)
	}
	defer f.Close()
	return ParseAssets(f)
}

// ParseAssets decodes a JSON array of {address,name,symbol,decimals}, keyed by
// lower-cased address. Later entries override earlier ones.
func ParseAssets(r io.Reader) (map[string]Info, error) {
	var list []Info
	if err := json.NewDecoder(r).Decode(&list); err != nil {
		return nil, fmt.Errorf("decode assets: %w", err)
	}
	out := make(map[string]Info, len(list))
	for _, info := range list {
		if !common.IsHexAddress(info.Address) {
			return nil, fmt.Errorf("decode assets: invalid address %q", info.Address)
		}
		out[strings.ToLower(info.Address)] = info
	}
	return out, nil
}

// Prober runs fn against endpoints until one succeeds. *chain.Pool satisfies it.
type Prober interface {
	Do(ctx context.Context, op string, fn func(ctx context.Context, c chain.Client) error) error
}

// cacheSize bounds the on-chain lookup memo.
const cacheSize = 4096

// Resolver looks tokens up in the static table, then on chain. On-chain
// results, including misses, are kept in an LRU cache.
type Resolver struct {
	prober Prober
	static map[string]Info
	log    *slog.Logger
	cache  *lru.Cache[string, *Info]
}

// NewResolver builds a resolver. prober may be nil to disable on-chain lookups.
func NewResolver(prober Prober, static map[string]Info, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	// lru.New only fails for a non-positive size.
	cache, _ := lru.New[string, *Info](cacheSize)
	return &Resolver{
		prober: prober,
		static: static,
		log:    log,
		cache:  cache,
	}
}

// Lookup returns the token info for address.
func (r *Resolver) Lookup(ctx context.Context, address string) (Info, bool) {
	key := strings.ToLower(strings.TrimSpace(address))
	if info, ok := r.static[key]; ok {
		return info, true
	}

	if cached, seen := r.cache.Get(key); seen {
		if cached == nil {
			return Info{}, false
		}
		return *cached, true
	}

	info, err := r.onChain(ctx, key)
	if err != nil {
		r.log.Debug("token info unavailable", "contract", address, "error", err)
	}
	if ctx.Err() != nil {
		return Info{}, false
	}

	r.cache.Add(key, info)
	if info == nil {
		return Info{}, false
	}
	return *info, true
}

func (r *Resolver) onChain(ctx context.Context, address string) (*Info, error) {
	if r.prober == nil {
		return nil, fmt.Errorf("no rpc endpoints")
	}
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("invalid contract address %q", address)
	}
	contract := common.HexToAddress(address)

	var info Info
	err := r.prober.Do(ctx, "token info "+contract.Hex(), func(ctx context.Context, cl chain.Client) error {
		name, err := callString(ctx, cl, contract, "name")
		if err != nil {
			return err
		}
		symbol, err := callString(ctx, cl, contract, "symbol")
		if err != nil {
			return err
		}
		out, err := chain.Call(ctx, cl, contract, chain.ERC20ABI, "decimals")
		if err != nil {
			return err
		}
		decimals, ok := out[0].(uint8)
		if !ok {
			return fmt.Errorf("decimals: unexpected output %T", out[0])
		}
		info = Info{Address: contract.Hex(), Name: name, Symbol: symbol, Decimals: decimals}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &info, nil
}

func callString(ctx context.Context, cl chain.Client, contract common.Address, method string) (string, error) {
	out, err := chain.Call(ctx, cl, contract, chain.ERC20ABI, method)
	if err != nil {
		return "", err
	}
	s, ok := out[0].(string)
	if !ok {
		return "", fmt.Errorf("%s: unexpected output %T", method, out[0])
	}
	return s, nil
}

// MetadataFunc adapts the resolver to transfer.Enrich. Only fungible token
// records are looked up.
func (r *Resolver) MetadataFunc(ctx context.Context) transfer.MetadataFunc {
	return func(rec transfer.Record) (map[string]string, bool) {
		if rec.Category != transfer.FungibleToken {
			return nil, false
		}
		info, ok := r.Lookup(ctx, rec.AssetContractAddress)
		if !ok {
			return nil, false
		}
		return info.Metadata(), true
	}
}
