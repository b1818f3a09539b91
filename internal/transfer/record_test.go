package transfer

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateFee(t *testing.T) {
	tests := []struct {
		name     string
		gasPrice string
		gasUsed  string
		want     string
	}{
		{"exact product", "1000000000", "21000", "21000000000000"},
		{"beyond 64 bits", "18446744073709551616", "2", "36893488147419103232"},
		{"hex inputs", "0x3b9aca00", "0x5208", "21000000000000"},
		{"non numeric price", "not-a-number", "21000", ""},
		{"non numeric gas", "1", "abc", ""},
		{"missing price", "", "21000", ""},
		{"negative", "-1", "21000", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CalculateFee(tt.gasPrice, tt.gasUsed))
		})
	}
}

func TestParseCategory(t *testing.T) {
	for in, want := range map[string]Category{
		"erc20":             FungibleToken,
		"ERC721":            NonFungibleSingle,
		"erc1155":           NonFungibleMulti,
		"eth":               Native,
		"NonFungibleMulti":  NonFungibleMulti,
		" unresolved ":      UnresolvedNonFungible,
		"nonfungiblesingle": NonFungibleSingle,
	} {
		got, ok := ParseCategory(in)
		require.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}

	_, ok := ParseCategory("erc4626")
	assert.False(t, ok)
	assert.False(t, Category("bogus").Valid())
}

func TestDedupeKeepsFirstOccurrence(t *testing.T) {
	idx0, idx1 := uint(0), uint(1)
	records := []Record{
		{TransactionHash: "0xAA", LogIndex: &idx0, From: "first"},
		{TransactionHash: "0xaa", LogIndex: &idx0, From: "second"},
		{TransactionHash: "0xaa", LogIndex: &idx1, From: "third"},
	}

	out := Dedupe(records)
	require.Len(t, out, 2)
	assert.Equal(t, "first", out[0].From)
	assert.Equal(t, "third", out[1].From)
}

func TestEnrichRunsOnce(t *testing.T) {
	records := []Record{
		{TransactionHash: "0x1", Category: FungibleToken, Amount: big.NewInt(5), Metadata: map[string]string{"symbol": "KEEP"}},
		{TransactionHash: "0x2", Category: Native},
	}

	calls := 0
	resolve := func(r Record) (map[string]string, bool) {
		calls++
		if r.Category != FungibleToken {
			return nil, false
		}
		return map[string]string{"name": "Token", "symbol": "TKN", "decimals": "6"}, true
	}

	first := Enrich(records, resolve)
	assert.Equal(t, 2, calls)
	assert.Equal(t, "Token", first[0].Metadata["name"])
	assert.Equal(t, "KEEP", first[0].Metadata["symbol"], "existing metadata wins")
	assert.True(t, first[0].Enriched())
	assert.Nil(t, first[1].Metadata)
	assert.False(t, records[0].Enriched(), "input must not be modified")
	assert.Len(t, records[0].Metadata, 1)

	second := Enrich(first, resolve)
	assert.Equal(t, 2, calls, "already enriched records are skipped")
	assert.Equal(t, first, second)
}

func TestParseCategories(t *testing.T) {
	got, err := ParseCategories([]string{"erc20, native", "", "erc1155"})
	require.NoError(t, err)
	assert.Equal(t, []Category{FungibleToken, Native, NonFungibleMulti}, got)

	_, err = ParseCategories([]string{"erc20,erc4626"})
	assert.ErrorIs(t, err, ErrUnsupportedCategory)

	got, err = ParseCategories(nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}
