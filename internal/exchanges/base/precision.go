package base

import (
	"strings"

	"github.com/shopspring/decimal"
)

// PrecisionFromTick derives price precision from a tick-size string: the
// count of digits after the decimal point up to and including the last
// non-zero digit. Computed in the string domain on purpose; parsing through
// float64 invents digits ("0.1"+"0.2" artifacts).
func PrecisionFromTick(tick string) int {
	dot := strings.IndexByte(tick, '.')
	if dot < 0 {
		return 0
	}
	frac := tick[dot+1:]
	last := -1
	for i := 0; i < len(frac); i++ {
		if frac[i] != '0' {
			last = i
		}
	}
	return last + 1
}

// RoundUpToPrecision rounds v up to the given number of decimal places,
// returning the canonical string form.
func RoundUpToPrecision(v decimal.Decimal, precision int) decimal.Decimal {
	return v.RoundUp(int32(precision))
}

// MinQuoteOrder derives the smallest quote-denominated order that passes the
// exchange's own filter: at least quoteMinSize + quoteIncrement, rounded up
// to the symbol's price precision.
func MinQuoteOrder(quoteMinSize, quoteIncrement string, precision int) (string, error) {
	minSize, err := decimal.NewFromString(quoteMinSize)
	if err != nil {
		return "", err
	}
	inc, err := decimal.NewFromString(quoteIncrement)
	if err != nil {
		return "", err
	}
	return RoundUpToPrecision(minSize.Add(inc), precision).String(), nil
}
