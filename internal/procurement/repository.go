package procurement

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ferrochem/erp/internal/inventory"
	"github.com/ferrochem/erp/internal/platform/db"
)

// Reader loads the purchase order data used for costing.
type Reader interface {
	GetShopping(ctx context.Context, id int64) (Shopping, error)
	ListShoppingProducts(ctx context.Context, shoppingID int64) ([]ShoppingProduct, error)
	ListPreInventory(ctx context.Context, shoppingID int64) ([]PreInventoryStock, error)
}

// TxRepository exposes transactional procurement operations.
type TxRepository interface {
	Reader
	Inventory() inventory.TxRepository
	LockShopping(ctx context.Context, id int64) (Shopping, error)
	UpdateShoppingStatus(ctx context.Context, id int64, status ShoppingStatus) error
	UpdateLandedCosts(ctx context.Context, id int64, in LandedCostInput) error
	NextLotNumber(ctx context.Context) (int64, error)
	DeletePreInventory(ctx context.Context, shoppingID int64) error
	InsertPreInventory(ctx context.Context, row PreInventoryStock) (int64, error)
}

// Repository persists procurement data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txRepository struct {
	tx  pgx.Tx
	inv inventory.TxRepository
}

// WithTx executes the callback inside repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("procurement repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx, inv: inventory.NewTxRepository(tx)})
	})
}

func (r *Repository) GetShopping(ctx context.Context, id int64) (Shopping, error) {
	return getShopping(ctx, r.pool, id, false)
}

func (r *Repository) ListShoppingProducts(ctx context.Context, shoppingID int64) ([]ShoppingProduct, error) {
	return listShoppingProducts(ctx, r.pool, shoppingID)
}

func (r *Repository) ListPreInventory(ctx context.Context, shoppingID int64) ([]PreInventoryStock, error) {
	return listPreInventory(ctx, r.pool, shoppingID)
}

func (r *txRepository) Inventory() inventory.TxRepository { return r.inv }

func (r *txRepository) GetShopping(ctx context.Context, id int64) (Shopping, error) {
	return getShopping(ctx, r.tx, id, false)
}

func (r *txRepository) LockShopping(ctx context.Context, id int64) (Shopping, error) {
	return getShopping(ctx, r.tx, id, true)
}

func (r *txRepository) ListShoppingProducts(ctx context.Context, shoppingID int64) ([]ShoppingProduct, error) {
	return listShoppingProducts(ctx, r.tx, shoppingID)
}

func (r *txRepository) ListPreInventory(ctx context.Context, shoppingID int64) ([]PreInventoryStock, error) {
	return listPreInventory(ctx, r.tx, shoppingID)
}

func (r *txRepository) UpdateShoppingStatus(ctx context.Context, id int64, status ShoppingStatus) error {
	_, err := r.tx.Exec(ctx, `UPDATE shoppings SET status_id=$2, updated_date=NOW() WHERE id=$1`, id, int16(status))
	return err
}

func (r *txRepository) UpdateLandedCosts(ctx context.Context, id int64, in LandedCostInput) error {
	sets := []string{"commission=$2", "exchange_rate=$3", "euro_value=$4", "updated_date=NOW()"}
	args := []any{id, in.Commission, in.ExchangeRate, in.EuroValue}
	for _, field := range CostFields {
		charge, ok := in.Charges[field]
		if !ok {
			continue
		}
		args = append(args, charge.Amount, charge.DollarRate)
		sets = append(sets, fmt.Sprintf("%s=$%d, %s_dollar=$%d", field, len(args)-1, field, len(args)))
	}
	_, err := r.tx.Exec(ctx, `UPDATE shoppings SET `+strings.Join(sets, ", ")+` WHERE id=$1`, args...)
	return err
}

func (r *txRepository) NextLotNumber(ctx context.Context) (int64, error) {
	var last int64
	err := r.tx.QueryRow(ctx, `SELECT GREATEST(
	COALESCE((SELECT MAX(lot_number::bigint) FROM lots WHERE lot_number ~ '^[0-9]+$'), 0),
	COALESCE((SELECT MAX(lot_number::bigint) FROM pre_inventory_stocks WHERE lot_number ~ '^[0-9]+$'), 0))`).Scan(&last)
	return last + 1, err
}

func (r *txRepository) DeletePreInventory(ctx context.Context, shoppingID int64) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM pre_inventory_stocks WHERE shopping_id=$1`, shoppingID)
	return err
}

func (r *txRepository) InsertPreInventory(ctx context.Context, row PreInventoryStock) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO pre_inventory_stocks (shopping_id, product_id, lot_number, stock, added_date)
VALUES ($1,$2,$3,$4,NOW()) RETURNING id`, row.ShoppingID, row.ProductID, row.LotNumber, row.Stock).Scan(&id)
	return id, err
}

func shoppingColumns() string {
	cols := []string{"id", "COALESCE(supplier_id, 0)", "status_id", "COALESCE(prepaid_status_id, 0)", "exchange_rate", "euro_value", "commission", "updated_date"}
	for _, field := range CostFields {
		cols = append(cols, string(field), string(field)+"_dollar")
	}
	return strings.Join(cols, ", ")
}

func getShopping(ctx context.Context, q querier, id int64, lock bool) (Shopping, error) {
	query := `SELECT ` + shoppingColumns() + ` FROM shoppings WHERE id=$1`
	if lock {
		query += ` FOR UPDATE`
	}
	var (
		sh                                  Shopping
		status                              int16
		exchangeRate, euroValue, commission decimal.NullDecimal
	)
	charges := make([]decimal.NullDecimal, 2*len(CostFields))
	dest := []any{&sh.ID, &sh.SupplierID, &status, &sh.PrepaidStatusID, &exchangeRate, &euroValue, &commission, &sh.UpdatedAt}
	for i := range charges {
		dest = append(dest, &charges[i])
	}
	if err := q.QueryRow(ctx, query, id).Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Shopping{}, ErrShoppingNotFound
		}
		return Shopping{}, err
	}
	sh.StatusID = ShoppingStatus(status)
	sh.ExchangeRate = exchangeRate.Decimal
	sh.EuroValue = euroValue.Decimal
	sh.Commission = commission.Decimal
	sh.Charges = make(map[CostField]Charge, len(CostFields))
	for i, field := range CostFields {
		amount, rate := charges[2*i], charges[2*i+1]
		if !amount.Valid {
			continue
		}
		sh.Charges[field] = Charge{Amount: amount.Decimal, DollarRate: rate.Decimal}
	}
	return sh, nil
}

func listShoppingProducts(ctx context.Context, q querier, shoppingID int64) ([]ShoppingProduct, error) {
	rows, err := q.Query(ctx, `SELECT sp.product_id, COALESCE(p.product, ''), COALESCE(p.unit_measure_id, 0), sp.quantity,
	sp.quantity_to_buy, sp.original_unit_cost, sp.discount_percentage, sp.final_unit_cost,
	COALESCE(uf.quantity_per_package, 1), COALESCE(uf.weight_per_unit, 0), COALESCE(uf.weight_per_pallet, 0)
FROM shoppings_products sp
JOIN products p ON p.id = sp.product_id
LEFT JOIN unit_features uf ON uf.product_id = sp.product_id
WHERE sp.shopping_id=$1
ORDER BY sp.id`, shoppingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []ShoppingProduct
	for rows.Next() {
		var (
			line                                 ShoppingProduct
			toBuy, original, discount, finalCost decimal.NullDecimal
		)
		if err := rows.Scan(&line.ProductID, &line.ProductName, &line.UnitMeasureID, &line.Quantity,
			&toBuy, &original, &discount, &finalCost,
			&line.QuantityPerPackage, &line.WeightPerUnit, &line.WeightPerPallet); err != nil {
			return nil, err
		}
		line.QuantityToBuy = toBuy.Decimal
		line.OriginalUnitCost = original.Decimal
		line.DiscountPercentage = discount.Decimal
		line.FinalUnitCost = finalCost.Decimal
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func listPreInventory(ctx context.Context, q querier, shoppingID int64) ([]PreInventoryStock, error) {
	rows, err := q.Query(ctx, `SELECT id, shopping_id, product_id, lot_number, stock FROM pre_inventory_stocks WHERE shopping_id=$1 ORDER BY id`, shoppingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var staged []PreInventoryStock
	for rows.Next() {
		var row PreInventoryStock
		if err := rows.Scan(&row.ID, &row.ShoppingID, &row.ProductID, &row.LotNumber, &row.Stock); err != nil {
			return nil, err
		}
		staged = append(staged, row)
	}
	return staged, rows.Err()
}
