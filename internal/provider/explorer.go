package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/devblac/chain-statement/internal/metrics"
	"github.com/devblac/chain-statement/internal/transfer"
)

// Explorer account actions.
const (
	ActionNative      = "txlist"
	ActionFungible    = "tokentx"
	ActionNonFungible = "tokennfttx"
)

// NativeAsset describes the chain currency for native records.
type NativeAsset struct {
	Symbol   string
	Decimals uint8
}

func (n NativeAsset) metadata() map[string]string {
	return map[string]string{
		"name":     n.Symbol,
		"symbol":   n.Symbol,
		"decimals": strconv.Itoa(int(n.Decimals)),
	}
}

// ExplorerConfig configures an Etherscan-compatible account API.
type ExplorerConfig struct {
	Name    string
	BaseURL string
	// ChainID is sent as the chainid parameter when set (Etherscan v2).
	ChainID string
	APIKey  string
	// RequireKey makes a missing APIKey fail before any request.
	RequireKey  bool
	TotalBlocks uint64
	Native      NativeAsset
}

// Explorer is one explorer API. The adapters it hands out share its HTTP client
// and rate limiter.
type Explorer struct {
	cfg        ExplorerConfig
	http       *retryablehttp.Client
	limiter    *TokenBucket
	classifier Classifier
	log        *slog.Logger
	metrics    *metrics.Metrics
}

// NewExplorer builds an explorer client. limiter and classifier may be nil.
func NewExplorer(cfg ExplorerConfig, client *retryablehttp.Client, limiter *TokenBucket, classifier Classifier, log *slog.Logger, m *metrics.Metrics) *Explorer {
	if client == nil {
		client = NewHTTPClient()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Explorer{
		cfg:        cfg,
		http:       client,
		limiter:    limiter,
		classifier: classifier,
		log:        log,
		metrics:    m,
	}
}

// Native returns the txlist adapter.
func (e *Explorer) Native() Adapter {
	return &explorerAdapter{explorer: e, action: ActionNative}
}

// Fungible returns the tokentx adapter.
func (e *Explorer) Fungible() Adapter {
	return &explorerAdapter{explorer: e, action: ActionFungible}
}

// NonFungible returns the tokennfttx adapter.
func (e *Explorer) NonFungible() Adapter {
	return &explorerAdapter{explorer: e, action: ActionNonFungible}
}

type explorerAdapter struct {
	explorer *Explorer
	action   string
}

func (a *explorerAdapter) Name() string {
	return a.explorer.cfg.Name + ":" + a.action
}

func (a *explorerAdapter) Fetch(ctx context.Context, q Query) ([]transfer.Record, error) {
	e := a.explorer
	if e.cfg.RequireKey && e.cfg.APIKey == "" {
		e.metrics.ProviderRequest(e.cfg.Name, metrics.OutcomeMissingCredential)
		return nil, fmt.Errorf("%s: %w: api key not set", e.cfg.Name, transfer.ErrMissingCredential)
	}

	latest, err := q.Head.LatestBlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("latest block: %w", err)
	}
	start := startBlock(latest, e.cfg.TotalBlocks)

	txs, err := e.list(ctx, a.action, q.Wallet.Hex(), start.String(), latest.String())
	if err != nil {
		e.metrics.ProviderRequest(e.cfg.Name, metrics.OutcomeError)
		return nil, fmt.Errorf("%s %s: %w", e.cfg.Name, a.action, err)
	}
	e.metrics.ProviderRequest(e.cfg.Name, metrics.OutcomeOK)

	records := make([]transfer.Record, 0, len(txs))
	skipped := 0
	for _, tx := range txs {
		r, ok := a.normalize(ctx, tx)
		if !ok {
			skipped++
			continue
		}
		records = append(records, r)
	}
	// Classification gives up on a done ctx, so the records cannot be trusted.
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s %s: %w", e.cfg.Name, a.action, err)
	}
	if skipped > 0 {
		e.log.Warn("skipped malformed explorer items", "provider", a.Name(), "skipped", skipped)
	}
	return records, nil
}

// Name is the configured explorer name.
func (e *Explorer) Name() string { return e.cfg.Name }

// Ping asks for the block closest to now, which every Etherscan-compatible API
// answers with the usual envelope.
func (e *Explorer) Ping(ctx context.Context) error {
	if e.cfg.RequireKey && e.cfg.APIKey == "" {
		return fmt.Errorf("%s: %w: api key not set", e.cfg.Name, transfer.ErrMissingCredential)
	}
	params := url.Values{}
	params.Set("module", "block")
	params.Set("action", "getblocknobytime")
	params.Set("timestamp", strconv.FormatInt(time.Now().Unix(), 10))
	params.Set("closest", "before")
	if e.cfg.ChainID != "" {
		params.Set("chainid", e.cfg.ChainID)
	}
	if e.cfg.APIKey != "" {
		params.Set("apikey", e.cfg.APIKey)
	}

	var env explorerEnvelope
	if err := getJSON(ctx, e.http, e.cfg.BaseURL, params, nil, &env); err != nil {
		return fmt.Errorf("%s: %w", e.cfg.Name, err)
	}
	if env.Status != "1" {
		return fmt.Errorf("%s: %w: status %q: %s", e.cfg.Name, transfer.ErrProviderUnavailable, env.Status, explorerMessage(env))
	}
	return nil
}

// explorerEnvelope is the {status,message,result} wrapper every account action returns.
type explorerEnvelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

type explorerTx struct {
	Hash            string `json:"hash"`
	BlockHash       string `json:"blockHash"`
	BlockNumber     string `json:"blockNumber"`
	TimeStamp       string `json:"timeStamp"`
	From            string `json:"from"`
	To              string `json:"to"`
	Value           string `json:"value"`
	GasPrice        string `json:"gasPrice"`
	GasUsed         string `json:"gasUsed"`
	ContractAddress string `json:"contractAddress"`
	TokenName       string `json:"tokenName"`
	TokenSymbol     string `json:"tokenSymbol"`
	TokenDecimal    string `json:"tokenDecimal"`
	TokenID         string `json:"tokenID"`
}

func (e *Explorer) list(ctx context.Context, action, wallet, start, end string) ([]explorerTx, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("module", "account")
	params.Set("action", action)
	params.Set("address", wallet)
	params.Set("startblock", start)
	params.Set("endblock", end)
	params.Set("sort", "desc")
	if e.cfg.ChainID != "" {
		params.Set("chainid", e.cfg.ChainID)
	}
	if e.cfg.APIKey != "" {
		params.Set("apikey", e.cfg.APIKey)
	}

	var env explorerEnvelope
	if err := getJSON(ctx, e.http, e.cfg.BaseURL, params, nil, &env); err != nil {
		return nil, err
	}
	if env.Status != "1" {
		return nil, fmt.Errorf("%w: status %q: %s", transfer.ErrProviderUnavailable, env.Status, explorerMessage(env))
	}

	var txs []explorerTx
	if err := json.Unmarshal(env.Result, &txs); err != nil {
		return nil, fmt.Errorf("%w: decode result: %v", transfer.ErrProviderUnavailable, err)
	}
	return txs, nil
}

// explorerMessage prefers the string result, which usually holds the real reason.
func explorerMessage(env explorerEnvelope) string {
	var s string
	if err := json.Unmarshal(env.Result, &s); err == nil && s != "" {
		return env.Message + ": " + s
	}
	return env.Message
}

func (a *explorerAdapter) normalize(ctx context.Context, tx explorerTx) (transfer.Record, bool) {
	block, ok := transfer.ParseAmount(tx.BlockNumber)
	if !ok || tx.Hash == "" {
		return transfer.Record{}, false
	}
	r := transfer.Record{
		TransactionHash: tx.Hash,
		BlockHash:       tx.BlockHash,
		BlockNumber:     block,
		Timestamp:       tx.TimeStamp,
		From:            tx.From,
		To:              tx.To,
		Fee:             transfer.CalculateFee(tx.GasPrice, tx.GasUsed),
	}

	switch a.action {
	case ActionNative:
		r.Category = transfer.Native
		r.AssetContractAddress = transfer.NativeAsset
		r.Amount, _ = transfer.ParseAmount(tx.Value)
		r.Metadata = a.explorer.cfg.Native.metadata()
	case ActionFungible:
		r.Category = transfer.FungibleToken
		r.AssetContractAddress = tx.ContractAddress
		r.Amount, _ = transfer.ParseAmount(tx.Value)
		r.Metadata = map[string]string{
			"name":     tx.TokenName,
			"symbol":   tx.TokenSymbol,
			"decimals": tx.TokenDecimal,
		}
	case ActionNonFungible:
		r.Category = a.classify(ctx, tx.ContractAddress)
		r.AssetContractAddress = tx.ContractAddress
		r.Amount = big.NewInt(1)
		r.Metadata = map[string]string{
			"name":    tx.TokenName,
			"symbol":  tx.TokenSymbol,
			"tokenId": tx.TokenID,
		}
	}
	if r.AssetContractAddress == "" {
		return transfer.Record{}, false
	}
	return r, true
}

func (a *explorerAdapter) classify(ctx context.Context, contract string) transfer.Category {
	if a.explorer.classifier == nil {
		return transfer.UnresolvedNonFungible
	}
	return a.explorer.classifier.Classify(ctx, strings.TrimSpace(contract))
}
