package provider

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"net/url"
	"strings"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/devblac/chain-statement/internal/metrics"
	"github.com/devblac/chain-statement/internal/transfer"
)

const moralisName = "moralis"

// MoralisConfig configures the Moralis wallet NFT transfers endpoint.
type MoralisConfig struct {
	BaseURL string
	Chain   string
	APIKey  string
}

// Moralis fetches ERC-1155 transfers from the Moralis NFT index.
type Moralis struct {
	cfg     MoralisConfig
	http    *retryablehttp.Client
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewMoralis builds the adapter. A nil client uses NewHTTPClient defaults.
func NewMoralis(cfg MoralisConfig, client *retryablehttp.Client, log *slog.Logger, m *metrics.Metrics) *Moralis {
	if client == nil {
		client = NewHTTPClient()
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.Chain == "" {
		cfg.Chain = "eth"
	}
	return &Moralis{cfg: cfg, http: client, log: log, metrics: m}
}

func (m *Moralis) Name() string { return moralisName }

type moralisResponse struct {
	Result *[]moralisTransfer `json:"result"`
}

type moralisTransfer struct {
	TransactionHash string `json:"transaction_hash"`
	BlockHash       string `json:"block_hash"`
	BlockNumber     string `json:"block_number"`
	BlockTimestamp  string `json:"block_timestamp"`
	FromAddress     string `json:"from_address"`
	ToAddress       string `json:"to_address"`
	Amount          string `json:"amount"`
	TokenAddress    string `json:"token_address"`
	TokenID         string `json:"token_id"`
	ContractType    string `json:"contract_type"`
}

// Fetch lists the wallet's NFT transfers and keeps the ERC-1155 ones.
func (m *Moralis) Fetch(ctx context.Context, q Query) ([]transfer.Record, error) {
	if m.cfg.APIKey == "" {
		m.metrics.ProviderRequest(moralisName, metrics.OutcomeMissingCredential)
		return nil, fmt.Errorf("%s: %w: api key not set", moralisName, transfer.ErrMissingCredential)
	}

	endpoint := strings.TrimRight(m.cfg.BaseURL, "/") + "/" + q.Wallet.Hex() + "/nft/transfers"
	params := url.Values{}
	params.Set("chain", m.cfg.Chain)
	params.Set("format", "decimal")
	header := http.Header{}
	header.Set("X-API-Key", m.cfg.APIKey)

	var resp moralisResponse
	if err := getJSON(ctx, m.http, endpoint, params, header, &resp); err != nil {
		m.metrics.ProviderRequest(moralisName, metrics.OutcomeError)
		return nil, fmt.Errorf("%s: %w", moralisName, err)
	}
	if resp.Result == nil {
		m.metrics.ProviderRequest(moralisName, metrics.OutcomeError)
		return nil, fmt.Errorf("%s: %w: response has no result", moralisName, transfer.ErrProviderUnavailable)
	}
	m.metrics.ProviderRequest(moralisName, metrics.OutcomeOK)

	records := make([]transfer.Record, 0, len(*resp.Result))
	skipped := 0
	for _, tx := range *resp.Result {
		if tx.ContractType != "ERC1155" {
			continue
		}
		block, ok := transfer.ParseAmount(tx.BlockNumber)
		if !ok || tx.TransactionHash == "" {
			skipped++
			continue
		}
		records = append(records, transfer.Record{
			TransactionHash:      tx.TransactionHash,
			BlockHash:            tx.BlockHash,
			BlockNumber:          block,
			Timestamp:            tx.BlockTimestamp,
			From:                 tx.FromAddress,
			To:                   tx.ToAddress,
			Amount:               big.NewInt(1),
			Category:             transfer.NonFungibleMulti,
			AssetContractAddress: tx.TokenAddress,
			Metadata: map[string]string{
				"name":     "",
				"symbol":   "",
				"tokenId":  tx.TokenID,
				"quantity": tx.Amount,
			},
		})
	}
	if skipped > 0 {
		m.log.Warn("skipped malformed moralis items", "provider", moralisName, "skipped", skipped)
	}
	return records, nil
}
