// Package settings exposes the business settings row (discounts, delivery
// cost, tax) to the services that price purchases and sales.
package settings

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ferrochem/erp/internal/shared"
)

// DefaultTaxRate is the Chilean VAT applied to sales.
var DefaultTaxRate = decimal.RequireFromString("0.19")

// ErrSettingsNotFound indicates the settings row is missing.
var ErrSettingsNotFound = fmt.Errorf("settings: row %w", shared.ErrNotFound)

// Settings is the configuration consumed by procurement and sales.
type Settings struct {
	PrepaidDiscount decimal.Decimal `json:"prepaid_discount"`
	DeliveryCost    int64           `json:"delivery_cost"`
	TaxRate         decimal.Decimal `json:"tax_rate"`
	AdminPhone      string          `json:"phone"`
}

// Provider returns the current settings.
type Provider interface {
	Current(ctx context.Context) (Settings, error)
}

// PrepaidFactor is 1 - PrepaidDiscount/100.
func (s Settings) PrepaidFactor() decimal.Decimal {
	return decimal.NewFromInt(1).Sub(s.PrepaidDiscount.Div(decimal.NewFromInt(100)))
}

// Tax returns the effective tax rate, falling back to DefaultTaxRate.
func (s Settings) Tax() decimal.Decimal {
	if s.TaxRate.IsZero() {
		return DefaultTaxRate
	}
	return s.TaxRate
}

// Static is a fixed Provider.
type Static Settings

// Current implements Provider.
func (s Static) Current(ctx context.Context) (Settings, error) {
	return Settings(s), nil
}
