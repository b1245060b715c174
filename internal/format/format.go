// Package format renders numbers for the dashboard.
package format

import (
	"math/big"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
)

// Currency formats d with two decimals and thousands separators,
// e.g. "$15,750.00" or "-$1,200.50".
func Currency(d decimal.Decimal, symbol string) string {
	rounded := d.Round(2)
	sign := ""
	if rounded.IsNegative() {
		sign = "-"
	}
	return sign + symbol + grouped(rounded.Abs(), 2)
}

// Percent formats d as a percentage with two decimals, e.g. "12.35%".
func Percent(d decimal.Decimal) string {
	return d.StringFixed(2) + "%"
}

// Number formats d with two decimals and thousands separators.
func Number(d decimal.Decimal) string {
	rounded := d.Round(2)
	if rounded.IsNegative() {
		return "-" + grouped(rounded.Abs(), 2)
	}
	return grouped(rounded, 2)
}

// Count formats an integer with thousands separators.
func Count(n int) string {
	return humanize.Comma(int64(n))
}

// grouped formats a non-negative d with thousands separators in the integer part.
func grouped(d decimal.Decimal, places int32) string {
	intPart, frac, _ := strings.Cut(d.StringFixed(places), ".")
	n, ok := new(big.Int).SetString(intPart, 10)
	if !ok {
		return d.StringFixed(places)
	}
	out := humanize.BigComma(n)
	if frac != "" {
		out += "." + frac
	}
	return out
}
