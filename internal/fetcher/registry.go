package fetcher

import (
	"fmt"
	"log/slog"

	"github.com/devblac/chain-statement/internal/provider"
	"github.com/devblac/chain-statement/internal/transfer"
)

// Registry maps categories to fetchers, preserving registration order.
type Registry struct {
	fetchers []Fetcher
	byCat    map[transfer.Category]Fetcher
}

// NewRegistry registers fetchers in order. Duplicate or unknown categories are rejected.
func NewRegistry(fetchers ...Fetcher) (*Registry, error) {
	r := &Registry{byCat: make(map[transfer.Category]Fetcher, len(fetchers))}
	for _, f := range fetchers {
		c := f.Category()
		if !c.Valid() {
			return nil, fmt.Errorf("%w: %q", transfer.ErrUnsupportedCategory, c)
		}
		if _, dup := r.byCat[c]; dup {
			return nil, fmt.Errorf("duplicate fetcher for category %s", c)
		}
		r.byCat[c] = f
		r.fetchers = append(r.fetchers, f)
	}
	return r, nil
}

// Get returns the fetcher registered for c.
func (r *Registry) Get(c transfer.Category) (Fetcher, bool) {
	f, ok := r.byCat[c]
	return f, ok
}

// Fetchers returns every fetcher in registration order.
func (r *Registry) Fetchers() []Fetcher {
	return append([]Fetcher(nil), r.fetchers...)
}

// Categories returns registered categories in order.
func (r *Registry) Categories() []transfer.Category {
	out := make([]transfer.Category, len(r.fetchers))
	for i, f := range r.fetchers {
		out[i] = f.Category()
	}
	return out
}

// Sources are the configured providers. Nil entries are left out of the chains.
type Sources struct {
	LogScan    provider.Adapter
	Blockscout *provider.Explorer
	Etherscan  *provider.Explorer
	Moralis    provider.Adapter
}

// NewDefaultRegistry builds one chain per fetchable category:
//
//	Native:            blockscout txlist, etherscan txlist
//	FungibleToken:     rpc log scan, blockscout tokentx, etherscan tokentx
//	NonFungibleSingle: blockscout tokennfttx, etherscan tokennfttx
//	NonFungibleMulti:  moralis
func NewDefaultRegistry(src Sources, log *slog.Logger) (*Registry, error) {
	explorers := []*provider.Explorer{src.Blockscout, src.Etherscan}

	var fetchers []Fetcher
	for _, cat := range transfer.Categories() {
		var adapters []provider.Adapter
		switch cat {
		case transfer.Native:
			for _, e := range explorers {
				if e != nil {
					adapters = append(adapters, e.Native())
				}
			}
		case transfer.FungibleToken:
			if src.LogScan != nil {
				adapters = append(adapters, src.LogScan)
			}
			for _, e := range explorers {
				if e != nil {
					adapters = append(adapters, e.Fungible())
				}
			}
		case transfer.NonFungibleSingle:
			for _, e := range explorers {
				if e != nil {
					adapters = append(adapters, e.NonFungible())
				}
			}
		case transfer.NonFungibleMulti:
			if src.Moralis != nil {
				adapters = append(adapters, src.Moralis)
			}
		default:
			return nil, fmt.Errorf("%w: %s", transfer.ErrUnsupportedCategory, cat)
		}
		fetchers = append(fetchers, NewChain(cat, adapters, log))
	}
	return NewRegistry(fetchers...)
}
