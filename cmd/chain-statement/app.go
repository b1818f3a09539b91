package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/devblac/chain-statement/internal/chain"
	"github.com/devblac/chain-statement/internal/classify"
	"github.com/devblac/chain-statement/internal/config"
	"github.com/devblac/chain-statement/internal/fetcher"
	"github.com/devblac/chain-statement/internal/metrics"
	"github.com/devblac/chain-statement/internal/provider"
	"github.com/devblac/chain-statement/internal/tokens"
)

// app is the wired object graph shared by fetch, serve and validate.
type app struct {
	cfg          *config.Config
	pool         *chain.Pool
	blockscout   *provider.Explorer
	etherscan    *provider.Explorer
	moralisKey   bool
	orchestrator *fetcher.Orchestrator
	resolver     *tokens.Resolver
}

func newApp(ctx context.Context, cfg *config.Config, log *slog.Logger, m *metrics.Metrics) (*app, error) {
	pool, err := chain.Dial(ctx, cfg.Chain.RPCURLs,
		chain.WithTimeout(cfg.Chain.RequestTimeout),
		chain.WithAttempts(cfg.Chain.Retries),
		chain.WithLogger(log),
		chain.WithMetrics(m),
	)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	var assets map[string]tokens.Info
	if cfg.Tokens.AssetsFile != "" {
		if assets, err = tokens.LoadAssets(cfg.Tokens.AssetsFile); err != nil {
			pool.Close()
			return nil, err
		}
	}

	httpClient := provider.NewHTTPClient(provider.WithHTTPTimeout(cfg.Chain.RequestTimeout))
	classifier := classify.New(pool, log, m)
	native := provider.NativeAsset{Symbol: cfg.Chain.NativeSymbol, Decimals: cfg.Chain.NativeDecimals}

	bs := cfg.Providers.Blockscout
	blockscout := provider.NewExplorer(provider.ExplorerConfig{
		Name:        "blockscout",
		BaseURL:     bs.BaseURL,
		ChainID:     bs.ChainID,
		APIKey:      bs.APIKey,
		TotalBlocks: cfg.Scan.TotalBlocks,
		Native:      native,
	}, httpClient, limiter(bs.RateLimit), classifier, log, m)

	es := cfg.Providers.Etherscan
	etherscan := provider.NewExplorer(provider.ExplorerConfig{
		Name:        "etherscan",
		BaseURL:     es.BaseURL,
		ChainID:     es.ChainID,
		APIKey:      es.APIKey,
		RequireKey:  true,
		TotalBlocks: cfg.Scan.TotalBlocks,
		Native:      native,
	}, httpClient, limiter(es.RateLimit), classifier, log, m)

	mc := cfg.Providers.Moralis
	moralis := provider.NewMoralis(provider.MoralisConfig{
		BaseURL: mc.BaseURL,
		Chain:   mc.Chain,
		APIKey:  mc.APIKey,
	}, httpClient, log, m)

	scan := provider.NewLogScan(pool, provider.LogScanConfig{
		TotalBlocks:       cfg.Scan.TotalBlocks,
		SubWindow:         cfg.Scan.SubWindow,
		ResolveTimestamps: cfg.Scan.ResolveTimestamps,
	}, log)

	registry, err := fetcher.NewDefaultRegistry(fetcher.Sources{
		LogScan:    scan,
		Blockscout: blockscout,
		Etherscan:  etherscan,
		Moralis:    moralis,
	}, log)
	if err != nil {
		pool.Close()
		return nil, err
	}

	return &app{
		cfg:          cfg,
		pool:         pool,
		blockscout:   blockscout,
		etherscan:    etherscan,
		moralisKey:   mc.APIKey != "",
		orchestrator: fetcher.NewOrchestrator(registry, func() provider.HeadSource { return pool.NewSession() }, log, m),
		resolver:     tokens.NewResolver(pool, assets, log),
	}, nil
}

func (a *app) Close() {
	a.pool.Close()
}

// limiter allows a burst of one second's worth of requests.
func limiter(rate float64) *provider.TokenBucket {
	if rate <= 0 {
		return nil
	}
	return provider.NewTokenBucket(math.Max(1, rate), rate)
}
