package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ferrochem/erp/internal/platform/db"
)

// TxRepository exposes the transactional lot store and kardex operations.
type TxRepository interface {
	GetInventoryByProduct(ctx context.Context, productID int64) (Inventory, error)
	InsertInventory(ctx context.Context, inv Inventory) (int64, error)
	TouchInventory(ctx context.Context, inventoryID int64, at time.Time) error
	ProductSupplierID(ctx context.Context, productID int64) (int64, error)

	FindLot(ctx context.Context, supplierID int64, lotNumber string) (Lot, error)
	InsertLot(ctx context.Context, lot Lot) (int64, error)

	FindLotItem(ctx context.Context, lotID, productID int64) (LotItem, error)
	GetLotItemForUpdate(ctx context.Context, id int64) (LotItem, error)
	InsertLotItem(ctx context.Context, item LotItem) (int64, error)
	UpdateLotItem(ctx context.Context, item LotItem) error
	ListAvailableLotItems(ctx context.Context, productID int64) ([]LotItem, error)
	FindLotItemsByNumbers(ctx context.Context, productID int64, lotNumbers []string) ([]LotItem, error)
	SumAvailableStock(ctx context.Context, productID int64) (int64, error)
	AdjustInventoryLotItem(ctx context.Context, inventoryID, lotItemID, delta int64) error

	InsertMovement(ctx context.Context, mv Movement) (int64, error)
	GetMovement(ctx context.Context, id int64) (Movement, error)

	GetKardexForUpdate(ctx context.Context, productID int64) (Kardex, error)
	UpsertKardex(ctx context.Context, k Kardex) error
}

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// NewTxRepository binds the lot store to a transaction opened by another module.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

// WithTx executes the callback inside repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const lotItemColumns = `li.id, li.lot_id, li.product_id, li.quantity, li.unit_cost, li.public_sale_price, li.private_sale_price, l.lot_number, l.arrival_date`

func scanLotItems(rows pgx.Rows) ([]LotItem, error) {
	defer rows.Close()
	var items []LotItem
	for rows.Next() {
		var item LotItem
		if err := rows.Scan(&item.ID, &item.LotID, &item.ProductID, &item.Quantity, &item.UnitCost, &item.PublicSalePrice, &item.PrivateSalePrice, &item.LotNumber, &item.ArrivalDate); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *txRepository) GetInventoryByProduct(ctx context.Context, productID int64) (Inventory, error) {
	var inv Inventory
	err := r.tx.QueryRow(ctx, `SELECT i.id, i.product_id, COALESCE(p.product, ''), COALESCE(i.location_id, 0), i.minimum_stock, i.maximum_stock, i.updated_date
FROM inventories i LEFT JOIN products p ON p.id = i.product_id
WHERE i.product_id=$1`, productID).
		Scan(&inv.ID, &inv.ProductID, &inv.ProductName, &inv.LocationID, &inv.MinimumStock, &inv.MaximumStock, &inv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Inventory{}, ErrInventoryNotFound
		}
		return Inventory{}, err
	}
	return inv, nil
}

func (r *txRepository) InsertInventory(ctx context.Context, inv Inventory) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO inventories (product_id, location_id, minimum_stock, maximum_stock, added_date, updated_date)
VALUES ($1,$2,$3,$4,NOW(),NOW()) RETURNING id`, inv.ProductID, nullInt(inv.LocationID), inv.MinimumStock, inv.MaximumStock).Scan(&id)
	return id, err
}

func (r *txRepository) TouchInventory(ctx context.Context, inventoryID int64, at time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE inventories SET updated_date=$2 WHERE id=$1`, inventoryID, at)
	return err
}

func (r *txRepository) ProductSupplierID(ctx context.Context, productID int64) (int64, error) {
	var supplierID int64
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(supplier_id, 0) FROM products WHERE id=$1`, productID).Scan(&supplierID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrInventoryNotFound
	}
	return supplierID, err
}

func (r *txRepository) FindLot(ctx context.Context, supplierID int64, lotNumber string) (Lot, error) {
	var lot Lot
	err := r.tx.QueryRow(ctx, `SELECT id, COALESCE(supplier_id, 0), lot_number, arrival_date FROM lots
WHERE lot_number=$1 AND COALESCE(supplier_id, 0)=$2
ORDER BY id LIMIT 1`, lotNumber, supplierID).Scan(&lot.ID, &lot.SupplierID, &lot.LotNumber, &lot.ArrivalDate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Lot{}, ErrLotNotFound
		}
		return Lot{}, err
	}
	return lot, nil
}

func (r *txRepository) InsertLot(ctx context.Context, lot Lot) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO lots (supplier_id, lot_number, arrival_date, added_date) VALUES ($1,$2,$3,NOW()) RETURNING id`,
		nullInt(lot.SupplierID), lot.LotNumber, lot.ArrivalDate).Scan(&id)
	return id, err
}

func (r *txRepository) FindLotItem(ctx context.Context, lotID, productID int64) (LotItem, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+lotItemColumns+`
FROM lot_items li JOIN lots l ON l.id = li.lot_id
WHERE li.lot_id=$1 AND li.product_id=$2
FOR UPDATE OF li`, lotID, productID)
	if err != nil {
		return LotItem{}, err
	}
	items, err := scanLotItems(rows)
	if err != nil {
		return LotItem{}, err
	}
	if len(items) == 0 {
		return LotItem{}, ErrLotItemNotFound
	}
	return items[0], nil
}

func (r *txRepository) GetLotItemForUpdate(ctx context.Context, id int64) (LotItem, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+lotItemColumns+`
FROM lot_items li JOIN lots l ON l.id = li.lot_id
WHERE li.id=$1
FOR UPDATE OF li`, id)
	if err != nil {
		return LotItem{}, err
	}
	items, err := scanLotItems(rows)
	if err != nil {
		return LotItem{}, err
	}
	if len(items) == 0 {
		return LotItem{}, ErrLotItemNotFound
	}
	return items[0], nil
}

func (r *txRepository) InsertLotItem(ctx context.Context, item LotItem) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO lot_items (lot_id, product_id, quantity, unit_cost, public_sale_price, private_sale_price, added_date)
VALUES ($1,$2,$3,$4,$5,$6,NOW()) RETURNING id`, item.LotID, item.ProductID, item.Quantity, item.UnitCost, item.PublicSalePrice, item.PrivateSalePrice).Scan(&id)
	return id, err
}

func (r *txRepository) UpdateLotItem(ctx context.Context, item LotItem) error {
	_, err := r.tx.Exec(ctx, `UPDATE lot_items SET quantity=$2, unit_cost=$3, public_sale_price=$4, private_sale_price=$5 WHERE id=$1`,
		item.ID, item.Quantity, item.UnitCost, item.PublicSalePrice, item.PrivateSalePrice)
	return err
}

func (r *txRepository) ListAvailableLotItems(ctx context.Context, productID int64) ([]LotItem, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+lotItemColumns+`
FROM lot_items li JOIN lots l ON l.id = li.lot_id
WHERE li.product_id=$1 AND li.quantity > 0
ORDER BY l.arrival_date ASC, li.id ASC
FOR UPDATE OF li`, productID)
	if err != nil {
		return nil, err
	}
	return scanLotItems(rows)
}

func (r *txRepository) FindLotItemsByNumbers(ctx context.Context, productID int64, lotNumbers []string) ([]LotItem, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+lotItemColumns+`
FROM lot_items li JOIN lots l ON l.id = li.lot_id
WHERE li.product_id=$1 AND l.lot_number = ANY($2)
ORDER BY array_position($2::text[], l.lot_number), li.id
FOR UPDATE OF li`, productID, lotNumbers)
	if err != nil {
		return nil, err
	}
	return scanLotItems(rows)
}

func (r *txRepository) SumAvailableStock(ctx context.Context, productID int64) (int64, error) {
	var total int64
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(SUM(quantity), 0) FROM lot_items WHERE product_id=$1 AND quantity > 0`, productID).Scan(&total)
	return total, err
}

func (r *txRepository) AdjustInventoryLotItem(ctx context.Context, inventoryID, lotItemID, delta int64) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO inventories_lots_items (inventory_id, lot_item_id, quantity, added_date)
VALUES ($1,$2,GREATEST($3, 0),NOW())
ON CONFLICT (inventory_id, lot_item_id) DO UPDATE SET quantity=GREATEST(inventories_lots_items.quantity + $3, 0)`, inventoryID, lotItemID, delta)
	return err
}

func (r *txRepository) InsertMovement(ctx context.Context, mv Movement) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO inventory_movements (inventory_id, product_id, lot_item_id, movement_type_id, quantity, unit_cost, reason, added_date)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`, mv.InventoryID, mv.ProductID, nullInt(mv.LotItemID), int16(mv.Type), mv.Quantity, mv.UnitCost, mv.Reason, mv.CreatedAt).Scan(&id)
	return id, err
}

func (r *txRepository) GetMovement(ctx context.Context, id int64) (Movement, error) {
	var mv Movement
	var mvType int16
	err := r.tx.QueryRow(ctx, `SELECT id, inventory_id, product_id, COALESCE(lot_item_id, 0), movement_type_id, quantity, unit_cost, reason, added_date
FROM inventory_movements WHERE id=$1`, id).
		Scan(&mv.ID, &mv.InventoryID, &mv.ProductID, &mv.LotItemID, &mvType, &mv.Quantity, &mv.UnitCost, &mv.Reason, &mv.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Movement{}, ErrMovementNotFound
		}
		return Movement{}, err
	}
	mv.Type = MovementType(mvType)
	return mv, nil
}

func (r *txRepository) GetKardexForUpdate(ctx context.Context, productID int64) (Kardex, error) {
	var k Kardex
	err := r.tx.QueryRow(ctx, `SELECT product_id, quantity, average_cost, added_date, updated_date FROM kardex_values WHERE product_id=$1 FOR UPDATE`, productID).
		Scan(&k.ProductID, &k.Quantity, &k.AverageCost, &k.AddedAt, &k.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Kardex{ProductID: productID}, ErrKardexNotFound
		}
		return Kardex{}, err
	}
	return k, nil
}

func (r *txRepository) UpsertKardex(ctx context.Context, k Kardex) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO kardex_values (product_id, quantity, average_cost, added_date, updated_date)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (product_id) DO UPDATE SET quantity=EXCLUDED.quantity, average_cost=EXCLUDED.average_cost, updated_date=EXCLUDED.updated_date`,
		k.ProductID, k.Quantity, k.AverageCost, k.AddedAt, k.UpdatedAt)
	return err
}

// ListKardex returns a page of kardex rows and the total row count.
func (r *Repository) ListKardex(ctx context.Context, limit, offset int) ([]KardexEntry, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM kardex_values`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT k.product_id, COALESCE(p.product, ''), k.quantity, k.average_cost, k.updated_date
FROM kardex_values k LEFT JOIN products p ON p.id = k.product_id
ORDER BY k.updated_date DESC, k.product_id
LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var entries []KardexEntry
	for rows.Next() {
		var e KardexEntry
		if err := rows.Scan(&e.ProductID, &e.ProductName, &e.Quantity, &e.AverageCost, &e.UpdatedAt); err != nil {
			return nil, 0, err
		}
		e.TotalValue = e.Quantity * e.AverageCost
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}

// GetKardex returns a single product's kardex row.
func (r *Repository) GetKardex(ctx context.Context, productID int64) (KardexEntry, error) {
	var e KardexEntry
	err := r.pool.QueryRow(ctx, `SELECT k.product_id, COALESCE(p.product, ''), k.quantity, k.average_cost, k.updated_date
FROM kardex_values k LEFT JOIN products p ON p.id = k.product_id
WHERE k.product_id=$1`, productID).Scan(&e.ProductID, &e.ProductName, &e.Quantity, &e.AverageCost, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return KardexEntry{}, ErrKardexNotFound
		}
		return KardexEntry{}, err
	}
	e.TotalValue = e.Quantity * e.AverageCost
	return e, nil
}

// AllKardex returns every kardex row for summaries and exports.
func (r *Repository) AllKardex(ctx context.Context) ([]KardexEntry, error) {
	entries, _, err := r.ListKardex(ctx, 1<<30, 0)
	return entries, err
}

// ListMovements returns ledger rows for a product, oldest first.
func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT id, inventory_id, product_id, COALESCE(lot_item_id, 0), movement_type_id, quantity, unit_cost, reason, added_date
FROM inventory_movements
WHERE product_id=$1 AND added_date BETWEEN COALESCE($2, '-infinity'::timestamptz) AND COALESCE($3, 'infinity'::timestamptz)
ORDER BY added_date ASC, id ASC
LIMIT $4`, filter.ProductID, nullTime(filter.From), nullTime(filter.To), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var movements []Movement
	for rows.Next() {
		var mv Movement
		var mvType int16
		if err := rows.Scan(&mv.ID, &mv.InventoryID, &mv.ProductID, &mv.LotItemID, &mvType, &mv.Quantity, &mv.UnitCost, &mv.Reason, &mv.CreatedAt); err != nil {
			return nil, err
		}
		mv.Type = MovementType(mvType)
		movements = append(movements, mv)
	}
	return movements, rows.Err()
}

// StockDrift lists products whose lot stock differs from the kardex quantity.
func (r *Repository) StockDrift(ctx context.Context) ([]StockDrift, error) {
	rows, err := r.pool.Query(ctx, `SELECT k.product_id, k.quantity, COALESCE(SUM(li.quantity), 0)
FROM kardex_values k LEFT JOIN lot_items li ON li.product_id = k.product_id
GROUP BY k.product_id, k.quantity
HAVING k.quantity <> COALESCE(SUM(li.quantity), 0)
ORDER BY k.product_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var drift []StockDrift
	for rows.Next() {
		var d StockDrift
		if err := rows.Scan(&d.ProductID, &d.KardexQuantity, &d.LotQuantity); err != nil {
			return nil, err
		}
		drift = append(drift, d)
	}
	return drift, rows.Err()
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
