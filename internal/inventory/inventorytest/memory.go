// Package inventorytest provides an in-memory lot store for tests.
package inventorytest

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/ferrochem/erp/internal/inventory"
)

type invLotKey struct {
	inventoryID int64
	lotItemID   int64
}

// MemoryStore implements inventory.TxRepository and inventory.RepositoryPort.
// WithTx restores the previous state when the callback fails.
type MemoryStore struct {
	mu sync.Mutex

	products    map[int64]product
	inventories map[int64]inventory.Inventory
	lots        map[int64]inventory.Lot
	lotItems    map[int64]inventory.LotItem
	invLots     map[invLotKey]int64
	movements   []inventory.Movement
	kardex      map[int64]inventory.Kardex
	nextID      int64

	// FailInsertMovement makes InsertMovement fail after n successful calls when > 0.
	FailInsertMovement int
	movementCalls      int
}

type product struct {
	name       string
	supplierID int64
}

type state struct {
	products    map[int64]product
	inventories map[int64]inventory.Inventory
	lots        map[int64]inventory.Lot
	lotItems    map[int64]inventory.LotItem
	invLots     map[invLotKey]int64
	movements   []inventory.Movement
	kardex      map[int64]inventory.Kardex
	nextID      int64
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products:    make(map[int64]product),
		inventories: make(map[int64]inventory.Inventory),
		lots:        make(map[int64]inventory.Lot),
		lotItems:    make(map[int64]inventory.LotItem),
		invLots:     make(map[invLotKey]int64),
		kardex:      make(map[int64]inventory.Kardex),
	}
}

// Snapshot captures the current state; calling the result restores it.
func (m *MemoryStore) Snapshot() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	saved := state{
		products:    maps.Clone(m.products),
		inventories: maps.Clone(m.inventories),
		lots:        maps.Clone(m.lots),
		lotItems:    maps.Clone(m.lotItems),
		invLots:     maps.Clone(m.invLots),
		movements:   slices.Clone(m.movements),
		kardex:      maps.Clone(m.kardex),
		nextID:      m.nextID,
	}
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.products = saved.products
		m.inventories = saved.inventories
		m.lots = saved.lots
		m.lotItems = saved.lotItems
		m.invLots = saved.invLots
		m.movements = saved.movements
		m.kardex = saved.kardex
		m.nextID = saved.nextID
	}
}

// WithTx runs fn and rolls the store back when it fails.
func (m *MemoryStore) WithTx(ctx context.Context, fn func(context.Context, inventory.TxRepository) error) error {
	restore := m.Snapshot()
	if err := fn(ctx, m); err != nil {
		restore()
		return err
	}
	return nil
}

// AddProduct registers a product with its inventory header.
func (m *MemoryStore) AddProduct(productID int64, name string, supplierID, minimumStock int64) inventory.Inventory {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[productID] = product{name: name, supplierID: supplierID}
	m.nextID++
	inv := inventory.Inventory{ID: m.nextID, ProductID: productID, ProductName: name, MinimumStock: minimumStock}
	m.inventories[productID] = inv
	return inv
}

// RegisterProduct records product master data without an inventory row.
func (m *MemoryStore) RegisterProduct(productID int64, name string, supplierID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[productID] = product{name: name, supplierID: supplierID}
}

// SeedLot inserts a lot with one item and mirrors it into the inventory.
func (m *MemoryStore) SeedLot(productID int64, lotNumber string, arrival time.Time, qty, unitCost, publicPrice, privatePrice int64) inventory.LotItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	lot := inventory.Lot{ID: m.nextID, SupplierID: m.products[productID].supplierID, LotNumber: lotNumber, ArrivalDate: arrival}
	m.lots[lot.ID] = lot
	m.nextID++
	item := inventory.LotItem{
		ID: m.nextID, LotID: lot.ID, ProductID: productID, Quantity: qty, UnitCost: unitCost,
		PublicSalePrice: publicPrice, PrivateSalePrice: privatePrice, LotNumber: lotNumber, ArrivalDate: arrival,
	}
	m.lotItems[item.ID] = item
	if inv, ok := m.inventories[productID]; ok {
		m.invLots[invLotKey{inv.ID, item.ID}] += qty
	}
	return item
}

// SeedKardex stores a kardex row.
func (m *MemoryStore) SeedKardex(k inventory.Kardex) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kardex[k.ProductID] = k
}

// Kardex returns the kardex row of a product.
func (m *MemoryStore) Kardex(productID int64) (inventory.Kardex, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.kardex[productID]
	return k, ok
}

// Movements returns every movement written so far.
func (m *MemoryStore) Movements() []inventory.Movement {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.movements)
}

// LotItem returns a lot item by id.
func (m *MemoryStore) LotItem(id int64) inventory.LotItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lotItems[id]
}

// Inventory returns the inventory row of a product.
func (m *MemoryStore) Inventory(productID int64) (inventory.Inventory, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.inventories[productID]
	return inv, ok
}

// MirroredQuantity returns the InventoryLotItem quantity of a lot item.
func (m *MemoryStore) MirroredQuantity(inventoryID, lotItemID int64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.invLots[invLotKey{inventoryID, lotItemID}]
}

// LotStock sums lot item quantities of a product.
func (m *MemoryStore) LotStock(productID int64) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	for _, item := range m.lotItems {
		if item.ProductID == productID {
			total += item.Quantity
		}
	}
	return total
}

func (m *MemoryStore) GetInventoryByProduct(ctx context.Context, productID int64) (inventory.Inventory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.inventories[productID]
	if !ok {
		return inventory.Inventory{}, inventory.ErrInventoryNotFound
	}
	inv.ProductName = m.products[productID].name
	return inv, nil
}

func (m *MemoryStore) InsertInventory(ctx context.Context, inv inventory.Inventory) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	inv.ID = m.nextID
	inv.ProductName = m.products[inv.ProductID].name
	m.inventories[inv.ProductID] = inv
	return inv.ID, nil
}

func (m *MemoryStore) TouchInventory(ctx context.Context, inventoryID int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for pid, inv := range m.inventories {
		if inv.ID == inventoryID {
			inv.UpdatedAt = at
			m.inventories[pid] = inv
		}
	}
	return nil
}

func (m *MemoryStore) ProductSupplierID(ctx context.Context, productID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[productID]
	if !ok {
		return 0, inventory.ErrInventoryNotFound
	}
	return p.supplierID, nil
}

func (m *MemoryStore) FindLot(ctx context.Context, supplierID int64, lotNumber string) (inventory.Lot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := slices.Sorted(maps.Keys(m.lots))
	for _, id := range ids {
		lot := m.lots[id]
		if lot.SupplierID == supplierID && lot.LotNumber == lotNumber {
			return lot, nil
		}
	}
	return inventory.Lot{}, inventory.ErrLotNotFound
}

func (m *MemoryStore) InsertLot(ctx context.Context, lot inventory.Lot) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	lot.ID = m.nextID
	m.lots[lot.ID] = lot
	return lot.ID, nil
}

func (m *MemoryStore) FindLotItem(ctx context.Context, lotID, productID int64) (inventory.LotItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range m.lotItems {
		if item.LotID == lotID && item.ProductID == productID {
			return m.withLot(item), nil
		}
	}
	return inventory.LotItem{}, inventory.ErrLotItemNotFound
}

func (m *MemoryStore) GetLotItemForUpdate(ctx context.Context, id int64) (inventory.LotItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.lotItems[id]
	if !ok {
		return inventory.LotItem{}, inventory.ErrLotItemNotFound
	}
	return m.withLot(item), nil
}

func (m *MemoryStore) InsertLotItem(ctx context.Context, item inventory.LotItem) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	item.ID = m.nextID
	m.lotItems[item.ID] = m.withLot(item)
	return item.ID, nil
}

func (m *MemoryStore) UpdateLotItem(ctx context.Context, item inventory.LotItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lotItems[item.ID]; !ok {
		return inventory.ErrLotItemNotFound
	}
	m.lotItems[item.ID] = m.withLot(item)
	return nil
}

func (m *MemoryStore) ListAvailableLotItems(ctx context.Context, productID int64) ([]inventory.LotItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var items []inventory.LotItem
	for _, item := range m.lotItems {
		if item.ProductID == productID && item.Quantity > 0 {
			items = append(items, m.withLot(item))
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].ArrivalDate.Equal(items[j].ArrivalDate) {
			return items[i].ArrivalDate.Before(items[j].ArrivalDate)
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

func (m *MemoryStore) FindLotItemsByNumbers(ctx context.Context, productID int64, lotNumbers []string) ([]inventory.LotItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var items []inventory.LotItem
	for _, number := range lotNumbers {
		ids := slices.Sorted(maps.Keys(m.lotItems))
		for _, id := range ids {
			item := m.withLot(m.lotItems[id])
			if item.ProductID == productID && item.LotNumber == number {
				items = append(items, item)
			}
		}
	}
	return items, nil
}

func (m *MemoryStore) SumAvailableStock(ctx context.Context, productID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	for _, item := range m.lotItems {
		if item.ProductID == productID && item.Quantity > 0 {
			total += item.Quantity
		}
	}
	return total, nil
}

func (m *MemoryStore) AdjustInventoryLotItem(ctx context.Context, inventoryID, lotItemID, delta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := invLotKey{inventoryID, lotItemID}
	m.invLots[key] = max(m.invLots[key]+delta, 0)
	return nil
}

func (m *MemoryStore) InsertMovement(ctx context.Context, mv inventory.Movement) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.movementCalls++
	if m.FailInsertMovement > 0 && m.movementCalls > m.FailInsertMovement {
		return 0, errInjected
	}
	m.nextID++
	mv.ID = m.nextID
	m.movements = append(m.movements, mv)
	return mv.ID, nil
}

func (m *MemoryStore) GetMovement(ctx context.Context, id int64) (inventory.Movement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mv := range m.movements {
		if mv.ID == id {
			return mv, nil
		}
	}
	return inventory.Movement{}, inventory.ErrMovementNotFound
}

func (m *MemoryStore) GetKardexForUpdate(ctx context.Context, productID int64) (inventory.Kardex, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.kardex[productID]
	if !ok {
		return inventory.Kardex{ProductID: productID}, inventory.ErrKardexNotFound
	}
	return k, nil
}

func (m *MemoryStore) UpsertKardex(ctx context.Context, k inventory.Kardex) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kardex[k.ProductID] = k
	return nil
}

func (m *MemoryStore) ListKardex(ctx context.Context, limit, offset int) ([]inventory.KardexEntry, int, error) {
	entries, _ := m.AllKardex(ctx)
	total := len(entries)
	if offset >= total {
		return nil, total, nil
	}
	end := min(offset+limit, total)
	return entries[offset:end], total, nil
}

func (m *MemoryStore) GetKardex(ctx context.Context, productID int64) (inventory.KardexEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.kardex[productID]
	if !ok {
		return inventory.KardexEntry{}, inventory.ErrKardexNotFound
	}
	return m.entry(k), nil
}

func (m *MemoryStore) AllKardex(ctx context.Context) ([]inventory.KardexEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := slices.Sorted(maps.Keys(m.kardex))
	entries := make([]inventory.KardexEntry, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, m.entry(m.kardex[id]))
	}
	return entries, nil
}

func (m *MemoryStore) ListMovements(ctx context.Context, filter inventory.MovementFilter) ([]inventory.Movement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []inventory.Movement
	for _, mv := range m.movements {
		if mv.ProductID != filter.ProductID {
			continue
		}
		if !filter.From.IsZero() && mv.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && mv.CreatedAt.After(filter.To) {
			continue
		}
		out = append(out, mv)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) StockDrift(ctx context.Context) ([]inventory.StockDrift, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var drift []inventory.StockDrift
	for _, id := range slices.Sorted(maps.Keys(m.kardex)) {
		var lots int64
		for _, item := range m.lotItems {
			if item.ProductID == id {
				lots += item.Quantity
			}
		}
		if k := m.kardex[id]; k.Quantity != lots {
			drift = append(drift, inventory.StockDrift{ProductID: id, KardexQuantity: k.Quantity, LotQuantity: lots})
		}
	}
	return drift, nil
}

func (m *MemoryStore) withLot(item inventory.LotItem) inventory.LotItem {
	if lot, ok := m.lots[item.LotID]; ok {
		item.LotNumber = lot.LotNumber
		item.ArrivalDate = lot.ArrivalDate
	}
	return item
}

func (m *MemoryStore) entry(k inventory.Kardex) inventory.KardexEntry {
	return inventory.KardexEntry{
		ProductID:   k.ProductID,
		ProductName: m.products[k.ProductID].name,
		Quantity:    k.Quantity,
		AverageCost: k.AverageCost,
		TotalValue:  k.Quantity * k.AverageCost,
		UpdatedAt:   k.UpdatedAt,
	}
}

type injectedError string

func (e injectedError) Error() string { return string(e) }

const errInjected = injectedError("inventorytest: injected failure")

var (
	_ inventory.TxRepository   = (*MemoryStore)(nil)
	_ inventory.RepositoryPort = (*MemoryStore)(nil)
)
