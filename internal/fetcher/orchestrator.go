package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/devblac/chain-statement/internal/metrics"
	"github.com/devblac/chain-statement/internal/provider"
	"github.com/devblac/chain-statement/internal/transfer"
)

// Status is the outcome of one category in a run.
type Status struct {
	Category transfer.Category
	Provider string
	Records  int
	Err      error
	Duration time.Duration
}

// OK reports whether the category produced a result.
func (s Status) OK() bool { return s.Err == nil }

// Result is the merged output of a run. Records follow registry order.
type Result struct {
	Wallet   string
	Records  []transfer.Record
	Statuses []Status
}

// Failed returns the statuses of failed categories.
func (r Result) Failed() []Status {
	var out []Status
	for _, s := range r.Statuses {
		if !s.OK() {
			out = append(out, s)
		}
	}
	return out
}

// HeadFactory opens a query-scoped latest-block source.
type HeadFactory func() provider.HeadSource

// Orchestrator dispatches every category fetcher concurrently for one wallet.
type Orchestrator struct {
	registry *Registry
	newHead  HeadFactory
	log      *slog.Logger
	metrics  *metrics.Metrics
}

// NewOrchestrator wires a registry to a head source factory, usually
// func() provider.HeadSource { return pool.NewSession() }.
func NewOrchestrator(registry *Registry, newHead HeadFactory, log *slog.Logger, m *metrics.Metrics) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{registry: registry, newHead: newHead, log: log, metrics: m}
}

// Categories lists the registered categories in dispatch order.
func (o *Orchestrator) Categories() []transfer.Category {
	return o.registry.Categories()
}

// FetchAll runs every registered category.
func (o *Orchestrator) FetchAll(ctx context.Context, wallet common.Address) (Result, error) {
	return o.Fetch(ctx, wallet)
}

// Fetch runs the named categories, or all of them when none are given. A
// category without a registered fetcher fails the call before any request.
// One failing category never cancels another; when all of them fail the
// (empty) result is returned with transfer.ErrAllCategoriesFailed.
func (o *Orchestrator) Fetch(ctx context.Context, wallet common.Address, categories ...transfer.Category) (Result, error) {
	fetchers, err := o.selectFetchers(categories)
	if err != nil {
		return Result{}, err
	}

	q := provider.Query{Wallet: wallet, Head: o.newHead()}
	statuses := make([]Status, len(fetchers))
	batches := make([][]transfer.Record, len(fetchers))

	var g errgroup.Group
	for i, f := range fetchers {
		g.Go(func() error {
			start := time.Now()
			records, name, err := f.Fetch(ctx, q)
			statuses[i] = Status{
				Category: f.Category(),
				Provider: name,
				Records:  len(records),
				Err:      err,
				Duration: time.Since(start),
			}
			if err != nil {
				o.metrics.CategoryFailed(string(f.Category()))
				o.log.Error("category failed", "category", f.Category(), "wallet", wallet.Hex(), "error", err)
				return nil
			}
			batches[i] = records
			o.metrics.RecordsFetched(string(f.Category()), len(records))
			return nil
		})
	}
	_ = g.Wait()

	res := Result{Wallet: wallet.Hex(), Records: []transfer.Record{}, Statuses: statuses}
	var failures []error
	for i, s := range statuses {
		if s.Err != nil {
			failures = append(failures, s.Err)
			continue
		}
		res.Records = append(res.Records, batches[i]...)
	}

	if len(fetchers) > 0 && len(failures) == len(fetchers) {
		o.metrics.FetchRun(false)
		return res, errors.Join(append([]error{transfer.ErrAllCategoriesFailed}, failures...)...)
	}
	o.metrics.FetchRun(true)
	o.log.Info("fetch complete", "wallet", wallet.Hex(), "records", len(res.Records), "failed_categories", len(failures))
	return res, nil
}

func (o *Orchestrator) selectFetchers(categories []transfer.Category) ([]Fetcher, error) {
	if len(categories) == 0 {
		return o.registry.Fetchers(), nil
	}
	seen := map[transfer.Category]struct{}{}
	out := make([]Fetcher, 0, len(categories))
	for _, c := range categories {
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		f, ok := o.registry.Get(c)
		if !ok {
			return nil, fmt.Errorf("%w: %s", transfer.ErrUnsupportedCategory, c)
		}
		out = append(out, f)
	}
	return out, nil
}
