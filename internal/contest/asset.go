package contest

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Asset is one tracked symbol and the identifiers the price oracles know it by.
type Asset struct {
	Symbol   string `mapstructure:"symbol" json:"symbol"`
	SourceID string `mapstructure:"coingecko_id" json:"source_id"`
	// Pair is the exchange ticker used by the fallback oracle. Empty means Symbol+"USDT".
	Pair     string `mapstructure:"binance_symbol" json:"pair,omitempty"`
}

// AssetSet is the fixed, ordered list of symbols predictions are collected for.
type AssetSet []Asset

func (s AssetSet) Symbols() []string {
	out := make([]string, 0, len(s))
	for _, a := range s {
		out = append(out, a.Symbol)
	}
	return out
}

func (s AssetSet) Lookup(symbol string) (Asset, bool) {
	symbol = NormalizeSymbol(symbol)
	for _, a := range s {
		if a.Symbol == symbol {
			return a, true
		}
	}
	return Asset{}, false
}

func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// ParseBatch validates a raw submission: every tracked asset exactly once and each value a finite
// positive number. Nothing is returned unless the whole batch is valid.
func (s AssetSet) ParseBatch(raw map[string]string) (map[string]decimal.Decimal, error) {
	if len(s) == 0 {
		return nil, &InputError{Reason: "no assets configured"}
	}
	out := make(map[string]decimal.Decimal, len(s))
	for key, value := range raw {
		symbol := NormalizeSymbol(key)
		if _, ok := s.Lookup(symbol); !ok {
			return nil, &InputError{Asset: key, Reason: "not a tracked asset"}
		}
		if _, dup := out[symbol]; dup {
			return nil, &InputError{Asset: symbol, Reason: "given more than once"}
		}
		price, err := ParsePrice(value)
		if err != nil {
			return nil, &InputError{Asset: symbol, Reason: err.Error()}
		}
		out[symbol] = price
	}
	var missing []string
	for _, a := range s {
		if _, ok := out[a.Symbol]; !ok {
			missing = append(missing, a.Symbol)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &InputError{Reason: "missing " + strings.Join(missing, ", ")}
	}
	return out, nil
}

// Prices are stored as numeric(30,10): at most 20 integer digits and 10 decimal places.
const (
	PriceScale         = 10
	PriceIntegerDigits = 20
)

var maxPrice = decimal.New(1, PriceIntegerDigits)

// ParsePrice accepts a plain decimal (optionally prefixed with "$", with "," separators).
func ParsePrice(value string) (decimal.Decimal, error) {
	v := strings.TrimSpace(value)
	v = strings.TrimPrefix(v, "$")
	v = strings.ReplaceAll(v, ",", "")
	if v == "" {
		return decimal.Decimal{}, fmt.Errorf("value is required")
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%q is not a number", value)
	}
	f := d.InexactFloat64()
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return decimal.Decimal{}, fmt.Errorf("%q is not finite", value)
	}
	if !d.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("%q must be greater than zero", value)
	}
	if !d.Equal(d.Truncate(PriceScale)) {
		return decimal.Decimal{}, fmt.Errorf("%q has more than %d decimal places", value, PriceScale)
	}
	if d.GreaterThanOrEqual(maxPrice) {
		return decimal.Decimal{}, fmt.Errorf("%q has more than %d integer digits", value, PriceIntegerDigits)
	}
	return d, nil
}
