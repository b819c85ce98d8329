package settings

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository reads the settings row from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Current implements Provider.
func (r *Repository) Current(ctx context.Context) (Settings, error) {
	var (
		s        Settings
		discount decimal.NullDecimal
		tax      decimal.NullDecimal
	)
	err := r.pool.QueryRow(ctx, `SELECT prepaid_discount, COALESCE(delivery_cost, 0), tax_rate, COALESCE(phone, '')
FROM settings ORDER BY id LIMIT 1`).Scan(&discount, &s.DeliveryCost, &tax, &s.AdminPhone)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Settings{}, ErrSettingsNotFound
		}
		return Settings{}, err
	}
	if discount.Valid {
		s.PrepaidDiscount = discount.Decimal
	}
	s.TaxRate = DefaultTaxRate
	if tax.Valid && tax.Decimal.IsPositive() {
		s.TaxRate = tax.Decimal
	}
	return s, nil
}
