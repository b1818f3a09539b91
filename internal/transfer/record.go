package transfer

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// Category is the token standard a transfer belongs to.
type Category string

const (
	Native                Category = "Native"
	FungibleToken         Category = "FungibleToken"
	NonFungibleSingle     Category = "NonFungibleSingle"
	NonFungibleMulti      Category = "NonFungibleMulti"
	UnresolvedNonFungible Category = "UnresolvedNonFungible"
)

// NativeAsset is the contract placeholder used for native currency transfers.
const NativeAsset = "NA"

// Categories lists the categories that can be fetched, in dispatch order.
func Categories() []Category {
	return []Category{Native, FungibleToken, NonFungibleSingle, NonFungibleMulti}
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case Native, FungibleToken, NonFungibleSingle, NonFungibleMulti, UnresolvedNonFungible:
		return true
	default:
		return false
	}
}

// IsNFT reports whether records of this category carry singleton amounts.
func (c Category) IsNFT() bool {
	return c == NonFungibleSingle || c == NonFungibleMulti || c == UnresolvedNonFungible
}

// ParseCategory accepts both the canonical names and the token standard aliases
// (eth, erc20, erc721, erc1155).
func ParseCategory(s string) (Category, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "native", "eth":
		return Native, true
	case "fungibletoken", "fungible", "erc20":
		return FungibleToken, true
	case "nonfungiblesingle", "nft", "erc721":
		return NonFungibleSingle, true
	case "nonfungiblemulti", "erc1155":
		return NonFungibleMulti, true
	case "unresolvednonfungible", "unresolved":
		return UnresolvedNonFungible, true
	default:
		return "", false
	}
}

// ParseCategories parses repeated and comma separated category names, keeping
// their order. Blank entries are ignored.
func ParseCategories(values []string) ([]Category, error) {
	var out []Category
	for _, v := range values {
		for _, name := range strings.Split(v, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			c, ok := ParseCategory(name)
			if !ok {
				return nil, fmt.Errorf("%w: %q", ErrUnsupportedCategory, name)
			}
			out = append(out, c)
		}
	}
	return out, nil
}

// Record is the canonical transfer shape every provider is normalized into.
// Records are values; the only later change is the one-time metadata enrichment.
type Record struct {
	TransactionHash      string
	BlockHash            string
	BlockNumber          *big.Int
	Timestamp            string
	From                 string
	To                   string
	LogIndex             *uint
	Amount               *big.Int
	Fee                  string
	Category             Category
	AssetContractAddress string
	Metadata             map[string]string

	enriched bool
}

// Enriched reports whether the metadata post-pass already ran for this record.
func (r Record) Enriched() bool {
	return r.enriched
}

// AmountString renders the amount, or "" when the provider did not report one.
func (r Record) AmountString() string {
	if r.Amount == nil {
		return ""
	}
	return r.Amount.String()
}

// BlockNumberString renders the block height, or "" when unknown.
func (r Record) BlockNumberString() string {
	if r.BlockNumber == nil {
		return ""
	}
	return r.BlockNumber.String()
}

// Key identifies a record for deduplication. Log index is included when known so
// multiple transfers inside one transaction stay distinct.
func (r Record) Key() string {
	k := strings.ToLower(r.TransactionHash)
	if r.LogIndex != nil {
		k += ":" + strconv.FormatUint(uint64(*r.LogIndex), 10)
	}
	return k
}

// CalculateFee multiplies gas price by gas used as exact integers. Non-numeric or
// missing inputs yield an empty string.
func CalculateFee(gasPrice, gasUsed string) string {
	price, ok := ParseAmount(gasPrice)
	if !ok {
		return ""
	}
	used, ok := ParseAmount(gasUsed)
	if !ok {
		return ""
	}
	return new(big.Int).Mul(price, used).String()
}

// ParseAmount parses a non-negative decimal (or 0x-prefixed hex) integer.
func ParseAmount(s string) (*big.Int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	n := new(big.Int)
	var ok bool
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		_, ok = n.SetString(s[2:], 16)
	} else {
		_, ok = n.SetString(s, 10)
	}
	if !ok || n.Sign() < 0 {
		return nil, false
	}
	return n, true
}

// Dedupe drops records whose Key was already seen, keeping the first occurrence.
// Only meaningful for records carrying a log index.
func Dedupe(records []Record) []Record {
	seen := make(map[string]struct{}, len(records))
	out := make([]Record, 0, len(records))
	for _, r := range records {
		k := r.Key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, r)
	}
	return out
}
