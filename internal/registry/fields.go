package registry

import (
	"fmt"
	"strconv"

	"github.com/nordledger/gateway/internal/core"
)

// Field extraction helpers. Vendor payloads arrive as decoded JSON maps;
// these tolerate missing keys and the number-vs-string slop real vendor APIs
// exhibit.

func str(raw map[string]interface{}, key string) string {
	switch v := raw[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

func num(raw map[string]interface{}, key string) (float64, bool) {
	switch v := raw[key].(type) {
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func numOr(raw map[string]interface{}, key string, fallback float64) float64 {
	if v, ok := num(raw, key); ok {
		return v
	}
	return fallback
}

func boolField(raw map[string]interface{}, key string) bool {
	switch v := raw[key].(type) {
	case bool:
		return v
	case string:
		return v == "true" || v == "1"
	default:
		return false
	}
}

// money builds the canonical Money from an amount field plus an optional
// currency field, defaulting to SEK.
func money(raw map[string]interface{}, amountKey, currencyKey string) core.Money {
	amount, _ := num(raw, amountKey)
	currency := str(raw, currencyKey)
	if currency == "" {
		currency = "SEK"
	}
	return core.Money{Value: amount, CurrencyCode: currency}
}

// moneyPtr is money for optional fields: nil when the amount key is absent.
func moneyPtr(raw map[string]interface{}, amountKey, currencyKey string) *core.Money {
	amount, ok := num(raw, amountKey)
	if !ok {
		return nil
	}
	currency := str(raw, currencyKey)
	if currency == "" {
		currency = "SEK"
	}
	return &core.Money{Value: amount, CurrencyCode: currency}
}

func objList(raw map[string]interface{}, key string) []map[string]interface{} {
	items, ok := raw[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]interface{}); ok {
			out = append(out, m)
		}
	}
	return out
}

// supplierInvoiceStatus derives paid/unpaid/unknown from a remaining balance.
func supplierInvoiceStatus(remaining float64, known bool) string {
	switch {
	case !known:
		return core.InvoiceStatusUnknown
	case remaining == 0:
		return core.InvoiceStatusPaid
	case remaining > 0:
		return core.InvoiceStatusUnpaid
	default:
		return core.InvoiceStatusUnknown
	}
}
