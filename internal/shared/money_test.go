package shared

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestParseLocaleAmount(t *testing.T) {
	cases := map[string]string{
		"1.234,56":  "1234.56",
		"1,234.56":  "1234.56",
		"12,5":      "12.5",
		"1.250.000": "1250000",
		"1,250,000": "1250000",
		"$ 980":     "980",
		"-3,75":     "-3.75",
		"42":        "42",
	}
	for raw, want := range cases {
		got, err := ParseLocaleAmount(raw)
		require.NoError(t, err, raw)
		require.True(t, decimal.RequireFromString(want).Equal(got), "%s => %s", raw, got)
	}
}

func TestParseLocaleAmountRejectsGarbage(t *testing.T) {
	_, err := ParseLocaleAmount("abc")
	require.ErrorIs(t, err, ErrValidation)

	_, err = ParseLocaleAmount("   ")
	require.True(t, errors.Is(err, ErrEmptyAmount))
}

func TestParseOptionalAmountFallsBack(t *testing.T) {
	got, err := ParseOptionalAmount("", decimal.NewFromInt(1))
	require.NoError(t, err)
	require.True(t, got.Equal(decimal.NewFromInt(1)))
}
