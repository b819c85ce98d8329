package shared

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrEmptyAmount is returned for blank amount strings.
var ErrEmptyAmount = errors.New("shared: empty amount")

// ParseLocaleAmount parses amounts typed with either "1.234,56" or "1,234.56"
// grouping. The separator that appears last is the decimal mark; a lone
// comma is always a decimal mark; a repeated lone separator is grouping.
func ParseLocaleAmount(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		return decimal.Zero, ErrEmptyAmount
	}
	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")
	switch {
	case lastComma > lastDot && lastDot < 0 && strings.Count(s, ",") > 1:
		s = strings.ReplaceAll(s, ",", "")
	case lastComma > lastDot:
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	case lastDot > lastComma && lastComma < 0 && strings.Count(s, ".") > 1:
		s = strings.ReplaceAll(s, ".", "")
	case lastDot > lastComma:
		s = strings.ReplaceAll(s, ",", "")
	}
	value, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, NewValidationError(fmt.Sprintf("invalid amount %q", raw))
	}
	return value, nil
}

// ParseOptionalAmount parses raw and returns fallback for blank input.
func ParseOptionalAmount(raw string, fallback decimal.Decimal) (decimal.Decimal, error) {
	value, err := ParseLocaleAmount(raw)
	if errors.Is(err, ErrEmptyAmount) {
		return fallback, nil
	}
	return value, err
}
