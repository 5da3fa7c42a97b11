package yahoo

import (
	"equity-crawler/lib/jsontree"
	"log/slog"
	"strconv"
)

// EquityRow is one normalized screener listing. Symbol is always non-empty;
// every other field may be empty when the source record lacked it.
// MarketCap and Price stay as whatever scalar the source carried (number or
// display string), no numeric parsing happens here.
type EquityRow struct {
	Symbol    string
	Name      string
	Exchange  string
	MarketCap any
	Price     any
	Currency  string
}

// NormalizeEquities maps raw quote records into uniform rows. Elements that
// are not mappings or that lack a symbol/ticker are dropped.
func NormalizeEquities(items []any) []EquityRow {
	rows := make([]EquityRow, 0, len(items))
	for _, item := range items {
		m, ok := jsontree.Map(item)
		if !ok {
			continue
		}
		row, ok := normalizeRecord(m)
		if !ok {
			continue
		}
		rows = append(rows, row)
	}
	return rows
}

func normalizeRecord(m map[string]any) (EquityRow, bool) {
	sym := m["symbol"]
	if !Truthy(sym) {
		sym = m["ticker"]
	}
	if !Truthy(sym) {
		return EquityRow{}, false
	}
	symText := Text(sym)
	if symText == "" {
		return EquityRow{}, false
	}

	return EquityRow{
		Symbol:    symText,
		Name:      Text(FirstNonEmpty(m, "shortName", "longName", "name", "displayName")),
		Exchange:  Text(FirstNonEmpty(m, "exchange", "fullExchangeName", "exchangeName")),
		MarketCap: NormalizeValue(m["marketCap"]),
		Price:     PriceValue(m, symText),
		Currency:  Text(m["currency"]),
	}, true
}

// PriceValue picks the price of a raw record: the regular market price when
// present, the previous close as a logged fallback, then the generic
// price/lastPrice variants carried by older page layouts.
func PriceValue(m map[string]any, symbol string) any {
	price := m["regularMarketPrice"]
	if price == nil {
		price = m["regularMarketPreviousClose"]
		if price != nil {
			slog.Debug("price fell back to previous close", "symbol", symbol)
		}
	}
	if price == nil {
		price = m["price"]
		if !Truthy(price) {
			price = m["lastPrice"]
		}
	}
	return NormalizeValue(price)
}

// NormalizeValue unwraps the {raw, fmt} wrapper objects the source uses for
// numeric fields: a mapping yields its "raw" entry, else its "fmt" entry,
// else the mapping itself. Anything else passes through unchanged.
func NormalizeValue(v any) any {
	m, ok := jsontree.Map(v)
	if !ok {
		return v
	}
	if raw, ok := m["raw"]; ok {
		return raw
	}
	if formatted, ok := m["fmt"]; ok {
		return formatted
	}
	return m
}

// FirstNonEmpty returns the first truthy value among the named keys.
func FirstNonEmpty(m map[string]any, keys ...string) any {
	for _, key := range keys {
		if v := m[key]; Truthy(v) {
			return v
		}
	}
	return nil
}

// Text coerces a scalar to its text form. nil becomes "".
func Text(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return ""
	}
}

// Truthy mirrors the source data's notion of "present": nil, empty strings,
// zero numbers and empty containers all count as absent.
func Truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case string:
		return x != ""
	case bool:
		return x
	case float64:
		return x != 0
	case map[string]any:
		return len(x) > 0
	case []any:
		return len(x) > 0
	default:
		return true
	}
}
