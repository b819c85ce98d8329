package procurement

import (
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

var printer = message.NewPrinter(language.MustParse("es-CL"))

// FormatCLP renders a peso amount with Chilean grouping, e.g. "$1.234.567".
func FormatCLP(v decimal.Decimal) string {
	return printer.Sprintf("$%v", number.Decimal(v.Round(0).IntPart()))
}

// FormatKg renders a weight with up to two decimals, e.g. "12,5kg".
func FormatKg(w float64) string {
	return printer.Sprintf("%vkg", number.Decimal(w, number.MaxFractionDigits(2)))
}
