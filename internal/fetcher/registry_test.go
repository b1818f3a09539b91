package fetcher

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devblac/chain-statement/internal/chain"
	"github.com/devblac/chain-statement/internal/chain/chaintest"
	"github.com/devblac/chain-statement/internal/logging"
	"github.com/devblac/chain-statement/internal/provider"
	"github.com/devblac/chain-statement/internal/transfer"
)

func chainProviders(t *testing.T, reg *Registry, c transfer.Category) []string {
	t.Helper()
	f, ok := reg.Get(c)
	require.True(t, ok, "category %s missing", c)
	ch, ok := f.(*Chain)
	require.True(t, ok)
	return ch.Providers()
}

func TestDefaultRegistryOrder(t *testing.T) {
	log := logging.NewWriter(&bytes.Buffer{}, "error")
	client := provider.NewHTTPClient()
	blockscout := provider.NewExplorer(provider.ExplorerConfig{Name: "blockscout"}, client, nil, nil, log, nil)
	etherscan := provider.NewExplorer(provider.ExplorerConfig{Name: "etherscan", RequireKey: true}, client, nil, nil, log, nil)
	moralis := provider.NewMoralis(provider.MoralisConfig{}, client, log, nil)
	scan := provider.NewLogScan(nil, provider.LogScanConfig{}, log)

	reg, err := NewDefaultRegistry(Sources{LogScan: scan, Blockscout: blockscout, Etherscan: etherscan, Moralis: moralis}, log)
	require.NoError(t, err)

	assert.Equal(t, transfer.Categories(), reg.Categories())
	assert.Equal(t, []string{"blockscout:txlist", "etherscan:txlist"}, chainProviders(t, reg, transfer.Native))
	assert.Equal(t, []string{"rpc-logs", "blockscout:tokentx", "etherscan:tokentx"}, chainProviders(t, reg, transfer.FungibleToken))
	assert.Equal(t, []string{"blockscout:tokennfttx", "etherscan:tokennfttx"}, chainProviders(t, reg, transfer.NonFungibleSingle))
	assert.Equal(t, []string{"moralis"}, chainProviders(t, reg, transfer.NonFungibleMulti))
}

func TestDefaultRegistryLeavesOutMissingSources(t *testing.T) {
	reg, err := NewDefaultRegistry(Sources{}, logging.NewWriter(&bytes.Buffer{}, "error"))
	require.NoError(t, err)
	for _, c := range transfer.Categories() {
		assert.Empty(t, chainProviders(t, reg, c))
	}
}

// The RPC log scan fails, Blockscout reports status 0 and Etherscan answers:
// the fungible category must come from Etherscan.
func TestFungibleFallsBackToSecondExplorer(t *testing.T) {
	log := logging.NewWriter(&bytes.Buffer{}, "error")

	rpc := &chaintest.Client{
		Head: big.NewInt(19000100),
		LogsFn: func(context.Context, ethereum.FilterQuery) ([]types.Log, error) {
			return nil, errors.New("rate limited")
		},
	}
	pool, err := chain.NewPool([]chain.Endpoint{{URL: "https://rpc.example", Client: rpc}}, chain.WithLogger(log))
	require.NoError(t, err)

	blockscoutSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"0","message":"NOTOK","result":"Internal error"}`))
	}))
	defer blockscoutSrv.Close()

	var etherscanKey string
	etherscanSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		etherscanKey = r.URL.Query().Get("apikey")
		_, _ = w.Write([]byte(`{"status":"1","message":"OK","result":[
			{"hash":"0xfeed","blockHash":"0xbeef","blockNumber":"19000000","timeStamp":"1700000000",
			 "from":"0x00000000000000000000000000000000000000aa","to":"0x00000000000000000000000000000000000000bb",
			 "value":"500","gasPrice":"1000000000","gasUsed":"21000",
			 "contractAddress":"0xdac17f958d2ee523a2206206994597c13d831ec7",
			 "tokenName":"Tether USD","tokenSymbol":"USDT","tokenDecimal":"6"}
		]}`))
	}))
	defer etherscanSrv.Close()

	httpClient := provider.NewHTTPClient(provider.WithRetryMax(0))
	reg, err := NewDefaultRegistry(Sources{
		LogScan: provider.NewLogScan(pool, provider.LogScanConfig{TotalBlocks: 20000, SubWindow: 1000}, log),
		Blockscout: provider.NewExplorer(provider.ExplorerConfig{
			Name: "blockscout", BaseURL: blockscoutSrv.URL, TotalBlocks: 20000,
		}, httpClient, nil, nil, log, nil),
		Etherscan: provider.NewExplorer(provider.ExplorerConfig{
			Name: "etherscan", BaseURL: etherscanSrv.URL, APIKey: "test-key", RequireKey: true, TotalBlocks: 20000,
		}, httpClient, nil, nil, log, nil),
	}, log)
	require.NoError(t, err)

	o := NewOrchestrator(reg, func() provider.HeadSource { return pool.NewSession() }, log, nil)
	res, err := o.Fetch(context.Background(), wallet, transfer.FungibleToken)
	require.NoError(t, err)

	require.Len(t, res.Statuses, 1)
	assert.Equal(t, "etherscan:tokentx", res.Statuses[0].Provider)
	assert.Equal(t, "test-key", etherscanKey)

	require.Len(t, res.Records, 1)
	r := res.Records[0]
	assert.Equal(t, "0xfeed", r.TransactionHash)
	assert.Equal(t, transfer.FungibleToken, r.Category)
	assert.Equal(t, "500", r.AmountString())
	assert.True(t, strings.EqualFold(wallet.Hex(), r.From), "from is the wallet")
	assert.Equal(t, "0x00000000000000000000000000000000000000bb", r.To)
	assert.Equal(t, "21000000000000", r.Fee)
	assert.Equal(t, "USDT", r.Metadata["symbol"])
	assert.Equal(t, 1, rpc.HeaderCalls(), "latest block is fetched once per query")
}
