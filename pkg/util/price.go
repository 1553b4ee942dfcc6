package util

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// rangeSeparators split a price range such as "199 - 299" or "199–299".
var rangeSeparators = []rune{'-', '–', '—'}

// ParsePrice converts a free-text price into a non-negative decimal.
// Example: "$1,299.99 MXN" -> 1299.99
// Example: "199 - 299"     -> 199 (first bound of a range)
// Example: "N/A", "", nil  -> invalid
//
// ParsePrice never fails: anything it cannot read yields an invalid NullDecimal.
func ParsePrice(raw *string) decimal.NullDecimal {
	if raw == nil {
		return decimal.NullDecimal{}
	}
	return ParsePriceString(*raw)
}

// ParsePriceString is ParsePrice for a non-null input.
func ParsePriceString(raw string) decimal.NullDecimal {
	// Range markers must be found before stripping, which would erase them.
	s := cutRange(raw)

	var sb strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' {
			sb.WriteRune(r)
		}
	}
	cleaned := sb.String()
	if cleaned == "" {
		return decimal.NullDecimal{}
	}

	d, err := decimal.NewFromString(cleaned)
	if err != nil || d.IsNegative() {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

// cutRange returns the text before the first separator that follows a digit.
// A leading hyphen (no digit before it) is not a range marker.
func cutRange(s string) string {
	seenDigit := false
	for i, r := range s {
		if unicode.IsDigit(r) {
			seenDigit = true
			continue
		}
		if seenDigit && isRangeSeparator(r) {
			return s[:i]
		}
	}
	return s
}

func isRangeSeparator(r rune) bool {
	for _, sep := range rangeSeparators {
		if r == sep {
			return true
		}
	}
	return false
}
