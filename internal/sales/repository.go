package sales

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ferrochem/erp/internal/inventory"
	"github.com/ferrochem/erp/internal/platform/db"
	"github.com/ferrochem/erp/internal/shared"
)

// TxRepository exposes transactional sale operations.
type TxRepository interface {
	Inventory() inventory.TxRepository
	LockSale(ctx context.Context, id int64) (Sale, error)
	InsertSale(ctx context.Context, sale Sale) (int64, error)
	UpdateSaleStatus(ctx context.Context, id int64, status Status, at time.Time) error
	ListSaleProducts(ctx context.Context, saleID int64) ([]SaleProduct, error)
	InsertSaleProduct(ctx context.Context, line SaleProduct) (int64, error)
	DeleteSaleProduct(ctx context.Context, id int64) error
}

// Repository persists sales in PostgreSQL.
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
		return errors.New("sales repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx, inv: inventory.NewTxRepository(tx)})
	})
}

func (r *Repository) GetSale(ctx context.Context, id int64) (Sale, error) {
	return getSale(ctx, r.pool, id, "")
}

func (r *Repository) ListSaleProducts(ctx context.Context, saleID int64) ([]SaleProduct, error) {
	return listSaleProducts(ctx, r.pool, saleID)
}

func (r *txRepository) Inventory() inventory.TxRepository { return r.inv }

// LockSale takes the sale row without waiting. A held lock surfaces as ErrSaleLocked.
func (r *txRepository) LockSale(ctx context.Context, id int64) (Sale, error) {
	sale, err := getSale(ctx, r.tx, id, " FOR UPDATE NOWAIT")
	if shared.IsLockNotAvailable(err) {
		return Sale{}, ErrSaleLocked
	}
	return sale, err
}

func (r *txRepository) InsertSale(ctx context.Context, sale Sale) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO sales (customer_id, rol_id, private_pricing, shipping_method_id, dte_type_id, status_id,
	subtotal, tax, shipping_cost, total, delivery_address, added_date, updated_date)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$12) RETURNING id`,
		sale.CustomerID, int16(sale.Role), sale.PrivatePricing, int16(sale.ShippingMethod), sale.DocumentTypeID, int16(sale.Status),
		sale.Subtotal, sale.Tax, sale.ShippingCost, sale.Total, sale.DeliveryAddress, sale.AddedAt).Scan(&id)
	return id, err
}

func (r *txRepository) UpdateSaleStatus(ctx context.Context, id int64, status Status, at time.Time) error {
	tag, err := r.tx.Exec(ctx, `UPDATE sales SET status_id=$2, updated_date=$3 WHERE id=$1`, id, int16(status), at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSaleNotFound
	}
	return nil
}

func (r *txRepository) ListSaleProducts(ctx context.Context, saleID int64) ([]SaleProduct, error) {
	return listSaleProducts(ctx, r.tx, saleID)
}

func (r *txRepository) InsertSaleProduct(ctx context.Context, line SaleProduct) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO sales_products (sale_id, product_id, inventory_movement_id, inventory_id, lot_item_id, quantity, price, lot_numbers, added_date)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW()) RETURNING id`,
		line.SaleID, line.ProductID, nullID(line.MovementID), nullID(line.InventoryID), nullID(line.LotItemID),
		line.Quantity, line.Price, strings.Join(line.LotNumbers, ",")).Scan(&id)
	return id, err
}

func (r *txRepository) DeleteSaleProduct(ctx context.Context, id int64) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM sales_products WHERE id=$1`, id)
	return err
}

func getSale(ctx context.Context, q querier, id int64, lock string) (Sale, error) {
	var (
		s                    Sale
		role, method, status int16
		dteType              *int64
		address              *string
	)
	err := q.QueryRow(ctx, `SELECT id, COALESCE(customer_id, 0), COALESCE(rol_id, 0), private_pricing, shipping_method_id, dte_type_id, status_id,
	subtotal, tax, shipping_cost, total, delivery_address, added_date, updated_date
FROM sales WHERE id=$1`+lock, id).Scan(&s.ID, &s.CustomerID, &role, &s.PrivatePricing, &method, &dteType, &status,
		&s.Subtotal, &s.Tax, &s.ShippingCost, &s.Total, &address, &s.AddedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Sale{}, ErrSaleNotFound
		}
		return Sale{}, err
	}
	s.Role = Role(role)
	s.ShippingMethod = ShippingMethod(method)
	s.Status = Status(status)
	if dteType != nil {
		s.DocumentTypeID = *dteType
	}
	if address != nil {
		s.DeliveryAddress = *address
	}
	return s, nil
}

func listSaleProducts(ctx context.Context, q querier, saleID int64) ([]SaleProduct, error) {
	rows, err := q.Query(ctx, `SELECT id, sale_id, product_id, COALESCE(inventory_movement_id, 0), COALESCE(inventory_id, 0),
	COALESCE(lot_item_id, 0), quantity, price, COALESCE(lot_numbers, '')
FROM sales_products WHERE sale_id=$1 ORDER BY id`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []SaleProduct
	for rows.Next() {
		var (
			line SaleProduct
			lots string
		)
		if err := rows.Scan(&line.ID, &line.SaleID, &line.ProductID, &line.MovementID, &line.InventoryID,
			&line.LotItemID, &line.Quantity, &line.Price, &lots); err != nil {
			return nil, err
		}
		line.LotNumbers = splitLots(lots)
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func splitLots(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func nullID(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}
