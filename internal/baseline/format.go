package baseline

import (
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
)

// ParseAmount parses a feed literal, dropping grouping separators.
func ParseAmount(raw string) (decimal.Decimal, error) {
	clean := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	return decimal.NewFromString(clean)
}

// FormatAmount renders d with grouped thousands and exactly two decimals,
// e.g. 58108 -> "58,108.00".
func FormatAmount(d decimal.Decimal) string {
	fixed := d.Abs().StringFixed(2)
	whole, frac, _ := strings.Cut(fixed, ".")

	intPart, err := decimal.NewFromString(whole)
	if err != nil {
		return fixed
	}

	var b strings.Builder
	if d.Sign() < 0 && fixed != "0.00" {
		b.WriteByte('-')
	}
	b.WriteString(humanize.Comma(intPart.IntPart()))
	b.WriteByte('.')
	b.WriteString(frac)
	return b.String()
}
