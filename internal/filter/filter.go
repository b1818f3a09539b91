// Package filter compiles --where expressions into record predicates.
package filter

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/devblac/chain-statement/internal/transfer"
)

// Predicate reports whether a record satisfies a condition.
type Predicate func(r transfer.Record) bool

// Fields that can be referenced in an expression. Metadata values are reached
// with metadata.<key>.
const (
	FieldHash      = "hash"
	FieldBlockHash = "block_hash"
	FieldBlock     = "block"
	FieldTimestamp = "timestamp"
	FieldFrom      = "from"
	FieldTo        = "to"
	FieldAmount    = "amount"
	FieldFee       = "fee"
	FieldType      = "type"
	FieldContract  = "contract"
	FieldLogIndex  = "log_index"

	metadataPrefix = "metadata."
)

var numericFields = map[string]bool{
	FieldBlock:     true,
	FieldTimestamp: true,
	FieldAmount:    true,
	FieldFee:       true,
	FieldLogIndex:  true,
}

var stringFields = map[string]bool{
	FieldHash:      true,
	FieldBlockHash: true,
	FieldFrom:      true,
	FieldTo:        true,
	FieldType:      true,
	FieldContract:  true,
}

var exprPattern = regexp.MustCompile(`^\s*([A-Za-z_][\w.]*)\s*(==|!=|>=|<=|>|<|in\b|contains\b)\s*(.*?)\s*$`)

// Compile parses expressions into predicates. Blank expressions are ignored.
// Supported operators: ==, !=, >, <, >=, <=, in, contains.
// Examples:
//
//	"amount >= 1e18"
//	"type in erc20,erc721"
//	"metadata.symbol == USDT"
//	"from contains 0xdead"
func Compile(exprs []string) ([]Predicate, error) {
	var preds []Predicate
	for _, raw := range exprs {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		p, err := compile(raw)
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	return preds, nil
}

// Match reports whether r satisfies every predicate.
func Match(r transfer.Record, preds []Predicate) bool {
	for _, p := range preds {
		if !p(r) {
			return false
		}
	}
	return true
}

// Apply keeps the records matching every predicate, preserving order.
func Apply(records []transfer.Record, preds []Predicate) []transfer.Record {
	if len(preds) == 0 {
		return records
	}
	out := make([]transfer.Record, 0, len(records))
	for _, r := range records {
		if Match(r, preds) {
			out = append(out, r)
		}
	}
	return out
}

func compile(expr string) (Predicate, error) {
	m := exprPattern.FindStringSubmatch(expr)
	if m == nil {
		return nil, fmt.Errorf("unsupported expression: %s", expr)
	}
	field, op, rhs := strings.ToLower(m[1]), m[2], m[3]
	if rhs == "" {
		return nil, fmt.Errorf("missing value in expression: %s", expr)
	}
	if !numericFields[field] && !stringFields[field] && !strings.HasPrefix(field, metadataPrefix) {
		return nil, fmt.Errorf("unknown field %q in expression: %s", field, expr)
	}
	if strings.HasPrefix(field, metadataPrefix) {
		// metadata keys keep their case
		field = metadataPrefix + m[1][len(metadataPrefix):]
	}

	switch op {
	case "in":
		return compileIn(field, rhs, expr)
	case "contains":
		if numericFields[field] {
			return nil, fmt.Errorf("contains needs a text field: %s", expr)
		}
		needle := strings.ToLower(rhs)
		return func(r transfer.Record) bool {
			v, ok := value(r, field)
			return ok && strings.Contains(strings.ToLower(v), needle)
		}, nil
	}

	if numericFields[field] {
		n, ok := evaluateNumber(rhs)
		if !ok {
			return nil, fmt.Errorf("%s needs an integer value: %s", field, expr)
		}
		return compareNumber(field, op, n), nil
	}

	if op != "==" && op != "!=" {
		return nil, fmt.Errorf("operator %s needs a numeric field: %s", op, expr)
	}
	want := rhs
	if field == FieldType {
		c, ok := transfer.ParseCategory(rhs)
		if !ok {
			return nil, fmt.Errorf("unknown transfer type %q: %s", rhs, expr)
		}
		want = string(c)
	}
	negate := op == "!="
	return func(r transfer.Record) bool {
		v, ok := value(r, field)
		if !ok {
			return false
		}
		return strings.EqualFold(v, want) != negate
	}, nil
}

func compileIn(field, rhs, expr string) (Predicate, error) {
	var nums []*big.Int
	values := map[string]struct{}{}
	for _, v := range strings.Split(rhs, ",") {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		switch {
		case numericFields[field]:
			n, ok := evaluateNumber(v)
			if !ok {
				return nil, fmt.Errorf("%s needs integer values: %s", field, expr)
			}
			nums = append(nums, n)
		case field == FieldType:
			c, ok := transfer.ParseCategory(v)
			if !ok {
				return nil, fmt.Errorf("unknown transfer type %q: %s", v, expr)
			}
			values[strings.ToLower(string(c))] = struct{}{}
		default:
			values[strings.ToLower(v)] = struct{}{}
		}
	}
	if len(nums) == 0 && len(values) == 0 {
		return nil, fmt.Errorf("empty list in expression: %s", expr)
	}

	if numericFields[field] {
		return func(r transfer.Record) bool {
			lhs, ok := number(r, field)
			if !ok {
				return false
			}
			for _, n := range nums {
				if lhs.Cmp(n) == 0 {
					return true
				}
			}
			return false
		}, nil
	}
	return func(r transfer.Record) bool {
		v, ok := value(r, field)
		if !ok {
			return false
		}
		_, hit := values[strings.ToLower(v)]
		return hit
	}, nil
}

func compareNumber(field, op string, rhs *big.Int) Predicate {
	return func(r transfer.Record) bool {
		lhs, ok := number(r, field)
		if !ok {
			return false
		}
		c := lhs.Cmp(rhs)
		switch op {
		case "==":
			return c == 0
		case "!=":
			return c != 0
		case ">":
			return c > 0
		case "<":
			return c < 0
		case ">=":
			return c >= 0
		case "<=":
			return c <= 0
		}
		return false
	}
}

func value(r transfer.Record, field string) (string, bool) {
	switch field {
	case FieldHash:
		return r.TransactionHash, true
	case FieldBlockHash:
		return r.BlockHash, true
	case FieldFrom:
		return r.From, true
	case FieldTo:
		return r.To, true
	case FieldType:
		return string(r.Category), true
	case FieldContract:
		return r.AssetContractAddress, true
	}
	if strings.HasPrefix(field, metadataPrefix) {
		v, ok := r.Metadata[strings.TrimPrefix(field, metadataPrefix)]
		return v, ok
	}
	return "", false
}

func number(r transfer.Record, field string) (*big.Int, bool) {
	switch field {
	case FieldBlock:
		return r.BlockNumber, r.BlockNumber != nil
	case FieldAmount:
		return r.Amount, r.Amount != nil
	case FieldFee:
		return transfer.ParseAmount(r.Fee)
	case FieldTimestamp:
		return transfer.ParseAmount(r.Timestamp)
	case FieldLogIndex:
		if r.LogIndex == nil {
			return nil, false
		}
		return new(big.Int).SetUint64(uint64(*r.LogIndex)), true
	}
	return nil, false
}

// evaluateNumber parses an exact integer, supporting:
// - plain and underscored digits: "100", "1_000_000"
// - scientific notation: "1e18", "2.5e6"
// - helper functions: "wei(1e18)", "ether(1.5)", "gwei(30)"
// - one multiplication: "21000 * 30e9"
func evaluateNumber(s string) (*big.Int, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), "_", "")

	if a, b, ok := strings.Cut(s, "*"); ok {
		x, ok1 := evaluateNumber(a)
		y, ok2 := evaluateNumber(b)
		if !ok1 || !ok2 {
			return nil, false
		}
		return new(big.Int).Mul(x, y), true
	}

	for _, unit := range []struct {
		name string
		exp  int
	}{{"wei", 0}, {"gwei", 9}, {"ether", 18}} {
		prefix := unit.name + "("
		if strings.HasPrefix(s, prefix) && strings.HasSuffix(s, ")") {
			return scaled(s[len(prefix):len(s)-1], unit.exp)
		}
	}
	return scaled(s, 0)
}

// scaled parses s as a decimal and multiplies it by 10^exp; the result must be integral.
func scaled(s string, exp int) (*big.Int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	if n, ok := new(big.Int).SetString(s, 10); ok && exp == 0 {
		return n, true
	}
	if strings.Contains(s, "/") {
		return nil, false
	}
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return nil, false
	}
	if exp > 0 {
		r.Mul(r, new(big.Rat).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil)))
	}
	if !r.IsInt() {
		return nil, false
	}
	return new(big.Int).Set(r.Num()), true
}
