// Package fetcher runs the per-category provider chains for a wallet and merges
// their results.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/devblac/chain-statement/internal/provider"
	"github.com/devblac/chain-statement/internal/transfer"
)

// Fetcher retrieves every record of one category. The returned string names
// the provider that answered.
type Fetcher interface {
	Category() transfer.Category
	Fetch(ctx context.Context, q provider.Query) ([]transfer.Record, string, error)
}

// Chain tries its adapters in order and returns the first success.
type Chain struct {
	category transfer.Category
	adapters []provider.Adapter
	log      *slog.Logger
}

// NewChain builds a first-success fetcher. An empty adapter list is allowed
// and yields no records.
func NewChain(category transfer.Category, adapters []provider.Adapter, log *slog.Logger) *Chain {
	if log == nil {
		log = slog.Default()
	}
	return &Chain{
		category: category,
		adapters: append([]provider.Adapter(nil), adapters...),
		log:      log,
	}
}

func (c *Chain) Category() transfer.Category { return c.category }

// Providers lists adapter names in fallback order.
func (c *Chain) Providers() []string {
	out := make([]string, len(c.adapters))
	for i, a := range c.adapters {
		out[i] = a.Name()
	}
	return out
}

func (c *Chain) Fetch(ctx context.Context, q provider.Query) ([]transfer.Record, string, error) {
	if len(c.adapters) == 0 {
		c.log.Warn("no providers configured for category", "category", c.category)
		return []transfer.Record{}, "", nil
	}

	errs := make([]error, 0, len(c.adapters)+1)
	errs = append(errs, transfer.ErrAllProvidersFailedForCategory)
	for i, a := range c.adapters {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		records, err := a.Fetch(ctx, q)
		if err == nil {
			if records == nil {
				records = []transfer.Record{}
			}
			c.log.Debug("provider succeeded", "category", c.category, "provider", a.Name(), "records", len(records))
			return records, a.Name(), nil
		}

		remaining := len(c.adapters) - i - 1
		if errors.Is(err, transfer.ErrMissingCredential) {
			c.log.Warn("provider not configured, skipping",
				"category", c.category, "provider", a.Name(), "remaining", remaining, "error", err)
		} else {
			c.log.Warn("provider failed",
				"category", c.category, "provider", a.Name(), "remaining", remaining, "error", err)
		}
		errs = append(errs, fmt.Errorf("%s: %w", a.Name(), err))
	}
	return nil, "", fmt.Errorf("%s: %w", c.category, errors.Join(errs...))
}
