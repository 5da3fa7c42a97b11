// Package money parses the price and market-cap strings that appear in
// finance payloads.
package money

import (
	"strings"

	"github.com/shopspring/decimal"
)

// placeholder values the finance pages use for "no data"
var placeholders = map[string]struct{}{
	"":    {},
	"-":   {},
	"—":   {},
	"N/A": {},
}

// ParsePrice parses a display price like "1,234.56" into a decimal. It
// strips thousands separators and spaces, and rejects placeholder values.
func ParsePrice(text string) (decimal.Decimal, bool) {
	cleaned := strings.ReplaceAll(text, ",", "")
	cleaned = strings.ReplaceAll(cleaned, " ", "")
	if _, bad := placeholders[cleaned]; bad {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

// CanonicalCap renders a market-cap scalar as the plain string the output
// dataset uses. Numbers lose their decimals, display strings ("3.1T") pass
// through untouched. The second return is false when there is no value.
func CanonicalCap(value any) (string, bool) {
	switch v := value.(type) {
	case float64:
		return decimal.NewFromFloat(v).Truncate(0).String(), true
	case string:
		return v, true
	case bool:
		if v {
			return "1", true
		}
		return "0", true
	default:
		return "", false
	}
}
