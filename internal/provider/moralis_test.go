package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devblac/chain-statement/internal/transfer"
)

const moralisFixture = `{
  "cursor": null,
  "result": [
    {
      "transaction_hash": "0x111",
      "block_hash": "0x222",
      "block_number": "18000000",
      "block_timestamp": "2023-11-14T22:13:20.000Z",
      "from_address": "0x00000000000000000000000000000000000000bb",
      "to_address": "0x00000000000000000000000000000000000000aa",
      "amount": "5",
      "token_address": "0x76be3b62873462d2142405439777e971754e8e77",
      "token_id": "10320",
      "contract_type": "ERC1155"
    },
    {
      "transaction_hash": "0x333",
      "block_number": "18000001",
      "amount": "1",
      "token_address": "0xbc4ca0eda7647a8ab7c2061c2e118a18a936f13d",
      "token_id": "1",
      "contract_type": "ERC721"
    }
  ]
}`

func TestMoralisFetchKeepsMultiTokenTransfers(t *testing.T) {
	var gotKey, gotPath, gotChain, gotFormat string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-Key")
		gotPath = r.URL.Path
		gotChain = r.URL.Query().Get("chain")
		gotFormat = r.URL.Query().Get("format")
		_, _ = w.Write([]byte(moralisFixture))
	}))
	defer srv.Close()

	m := NewMoralis(MoralisConfig{BaseURL: srv.URL + "/api/v2.2/", APIKey: "secret"}, NewHTTPClient(WithRetryMax(0)), quietLogger(), nil)
	records, err := m.Fetch(context.Background(), Query{Wallet: wallet})
	require.NoError(t, err)

	assert.Equal(t, "secret", gotKey)
	assert.Equal(t, "/api/v2.2/"+wallet.Hex()+"/nft/transfers", gotPath)
	assert.Equal(t, "eth", gotChain)
	assert.Equal(t, "decimal", gotFormat)

	require.Len(t, records, 1)
	r := records[0]
	assert.Equal(t, "0x111", r.TransactionHash)
	assert.Equal(t, transfer.NonFungibleMulti, r.Category)
	assert.Equal(t, "1", r.AmountString(), "amount normalized to one")
	assert.Equal(t, "5", r.Metadata["quantity"])
	assert.Equal(t, "10320", r.Metadata["tokenId"])
	assert.Equal(t, "", r.Fee)
	assert.Equal(t, "2023-11-14T22:13:20.000Z", r.Timestamp)
	assert.Equal(t, "18000000", r.BlockNumberString())
}

func TestMoralisSkipsItemsWithoutBlockOrHash(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"result":[
			{"transaction_hash":"0x1","block_number":"not-a-number","token_address":"0xc0","token_id":"1","contract_type":"ERC1155"},
			{"transaction_hash":"","block_number":"5","token_address":"0xc0","token_id":"2","contract_type":"ERC1155"},
			{"transaction_hash":"0x3","block_number":"","token_address":"0xc0","token_id":"3","contract_type":"ERC1155"},
			{"transaction_hash":"0x4","block_number":"7","token_address":"0xc0","token_id":"4","contract_type":"ERC1155"}
		]}`))
	}))
	defer srv.Close()

	m := NewMoralis(MoralisConfig{BaseURL: srv.URL, APIKey: "k"}, NewHTTPClient(WithRetryMax(0)), quietLogger(), nil)
	records, err := m.Fetch(context.Background(), Query{Wallet: wallet})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "0x4", records[0].TransactionHash)
	assert.Equal(t, "7", records[0].BlockNumberString())
}

func TestMoralisMissingKey(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	m := NewMoralis(MoralisConfig{BaseURL: srv.URL}, nil, quietLogger(), nil)
	_, err := m.Fetch(context.Background(), Query{Wallet: wallet})
	assert.ErrorIs(t, err, transfer.ErrMissingCredential)
	assert.Zero(t, hits.Load())
}

func TestMoralisMissingResultFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"message":"Invalid key"}`))
	}))
	defer srv.Close()

	m := NewMoralis(MoralisConfig{BaseURL: srv.URL, APIKey: "k"}, NewHTTPClient(WithRetryMax(0)), quietLogger(), nil)
	_, err := m.Fetch(context.Background(), Query{Wallet: wallet})
	assert.ErrorIs(t, err, transfer.ErrProviderUnavailable)
}

func TestMoralisUnauthorizedFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	m := NewMoralis(MoralisConfig{BaseURL: srv.URL, APIKey: "k"}, NewHTTPClient(WithRetryMax(0)), quietLogger(), nil)
	_, err := m.Fetch(context.Background(), Query{Wallet: wallet})
	assert.ErrorIs(t, err, transfer.ErrProviderUnavailable)
}
