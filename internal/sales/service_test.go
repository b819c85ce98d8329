package sales_test

import (
	"context"
	"maps"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ferrochem/erp/internal/inventory"
	"github.com/ferrochem/erp/internal/inventory/inventorytest"
	"github.com/ferrochem/erp/internal/sales"
	"github.com/ferrochem/erp/internal/settings"
	"github.com/ferrochem/erp/internal/shared"
)

type memorySalesRepo struct {
	mu       sync.Mutex
	store    *inventorytest.MemoryStore
	sales    map[int64]sales.Sale
	products map[int64]sales.SaleProduct
	locked   map[int64]bool
	nextID   int64
}

func newMemorySalesRepo(store *inventorytest.MemoryStore) *memorySalesRepo {
	return &memorySalesRepo{
		store:    store,
		sales:    make(map[int64]sales.Sale),
		products: make(map[int64]sales.SaleProduct),
		locked:   make(map[int64]bool),
	}
}

func (m *memorySalesRepo) WithTx(ctx context.Context, fn func(context.Context, sales.TxRepository) error) error {
	restoreInventory := m.store.Snapshot()
	m.mu.Lock()
	savedSales, savedProducts, savedID := maps.Clone(m.sales), maps.Clone(m.products), m.nextID
	m.mu.Unlock()
	if err := fn(ctx, m); err != nil {
		restoreInventory()
		m.mu.Lock()
		m.sales, m.products, m.nextID = savedSales, savedProducts, savedID
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *memorySalesRepo) Inventory() inventory.TxRepository { return m.store }

func (m *memorySalesRepo) GetSale(ctx context.Context, id int64) (sales.Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sales[id]
	if !ok {
		return sales.Sale{}, sales.ErrSaleNotFound
	}
	return s, nil
}

func (m *memorySalesRepo) LockSale(ctx context.Context, id int64) (sales.Sale, error) {
	m.mu.Lock()
	locked := m.locked[id]
	m.mu.Unlock()
	if locked {
		return sales.Sale{}, sales.ErrSaleLocked
	}
	return m.GetSale(ctx, id)
}

func (m *memorySalesRepo) InsertSale(ctx context.Context, sale sales.Sale) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	sale.ID = m.nextID
	m.sales[sale.ID] = sale
	return sale.ID, nil
}

func (m *memorySalesRepo) UpdateSaleStatus(ctx context.Context, id int64, status sales.Status, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sales[id]
	if !ok {
		return sales.ErrSaleNotFound
	}
	s.Status = status
	s.UpdatedAt = at
	m.sales[id] = s
	return nil
}

func (m *memorySalesRepo) ListSaleProducts(ctx context.Context, saleID int64) ([]sales.SaleProduct, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []sales.SaleProduct
	for _, p := range m.products {
		if p.SaleID == saleID {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b sales.SaleProduct) int { return int(a.ID - b.ID) })
	return out, nil
}

func (m *memorySalesRepo) InsertSaleProduct(ctx context.Context, line sales.SaleProduct) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	line.ID = m.nextID
	m.products[line.ID] = line
	return line.ID, nil
}

func (m *memorySalesRepo) DeleteSaleProduct(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.products, id)
	return nil
}

// seedSale stores a pending sale directly.
func (m *memorySalesRepo) seedSale(role sales.Role, status sales.Status, lines ...sales.SaleProduct) int64 {
	id, _ := m.InsertSale(context.Background(), sales.Sale{Role: role, Status: status})
	for _, line := range lines {
		line.SaleID = id
		_, _ = m.InsertSaleProduct(context.Background(), line)
	}
	return id
}

type notifierSpy struct {
	sent []sales.Notification
}

func (n *notifierSpy) NotifySaleStatus(ctx context.Context, msg sales.Notification) error {
	n.sent = append(n.sent, msg)
	return nil
}

type movementSpy struct{ posted []inventory.Movement }

func (m *movementSpy) MovementPosted(mv inventory.Movement) { m.posted = append(m.posted, mv) }

type lockSpy struct{ ids []int64 }

func (l *lockSpy) SaleLocked(saleID int64) { l.ids = append(l.ids, saleID) }

type fixture struct {
	store    *inventorytest.MemoryStore
	repo     *memorySalesRepo
	notifier *notifierSpy
	posted   *movementSpy
	svc      *sales.Service
}

func day(month time.Month, d int) time.Time {
	return time.Date(2024, month, d, 0, 0, 0, 0, time.UTC)
}

func newFixture() fixture {
	store := inventorytest.NewMemoryStore()
	repo := newMemorySalesRepo(store)
	notifier := &notifierSpy{}
	posted := &movementSpy{}
	ledger := inventory.NewLedger(nil, posted).WithClock(func() time.Time { return day(time.March, 1) })
	svc := sales.NewService(repo, ledger, settings.Static{DeliveryCost: 5000}, nil, notifier, nil)
	return fixture{store: store, repo: repo, notifier: notifier, posted: posted, svc: svc}
}

// seedTwoLots gives product 7 lot A (10 @ 1000, January) and lot B (10 @ 1200, February).
func (f fixture) seedTwoLots(minimumStock int64) (inventory.LotItem, inventory.LotItem) {
	f.store.AddProduct(7, "Pintura epóxica", 2, minimumStock)
	b := f.store.SeedLot(7, "B", day(time.February, 1), 10, 1200, 2000, 1800)
	a := f.store.SeedLot(7, "A", day(time.January, 1), 10, 1000, 1900, 1700)
	f.store.SeedKardex(inventory.Kardex{ProductID: 7, Quantity: 20, AverageCost: 1100})
	return a, b
}

func TestFulfillSaleConsumesOldestLotFirst(t *testing.T) {
	f := newFixture()
	a, b := f.seedTwoLots(0)
	saleID := f.repo.seedSale(sales.RoleCustomer, sales.StatusPending)

	result, err := f.svc.FulfillSale(context.Background(), saleID, []sales.CartLine{{ProductID: 7, Quantity: 15}}, sales.RoleCustomer)
	require.NoError(t, err)
	require.Len(t, result.ProcessedLines, 2)

	require.Equal(t, a.ID, result.ProcessedLines[0].LotItemID)
	require.Equal(t, int64(10), result.ProcessedLines[0].Quantity)
	require.Equal(t, int64(1900), result.ProcessedLines[0].Price)
	require.Equal(t, b.ID, result.ProcessedLines[1].LotItemID)
	require.Equal(t, int64(5), result.ProcessedLines[1].Quantity)
	require.Equal(t, int64(2000), result.ProcessedLines[1].Price)

	require.Equal(t, int64(0), f.store.LotItem(a.ID).Quantity)
	require.Equal(t, int64(5), f.store.LotItem(b.ID).Quantity)

	k, _ := f.store.Kardex(7)
	require.Equal(t, int64(5), k.Quantity)
	require.Equal(t, int64(1100), k.AverageCost)

	for _, mv := range f.store.Movements() {
		require.Equal(t, inventory.MovementSale, mv.Type)
		// average cost, not the lot cost
		require.Equal(t, int64(1100), mv.UnitCost)
	}
	require.Equal(t, []sales.KardexDelta{{ProductID: 7, Processed: 15, Quantity: 5, AverageCost: 1100}}, result.KardexDeltas)
}

func TestFulfillSaleHonoursExplicitLots(t *testing.T) {
	f := newFixture()
	_, b := f.seedTwoLots(0)
	saleID := f.repo.seedSale(sales.RoleSeller, sales.StatusPending)

	result, err := f.svc.FulfillSale(context.Background(), saleID, []sales.CartLine{{ProductID: 7, Quantity: 4, LotNumbers: []string{"B"}}}, sales.RoleSeller)
	require.NoError(t, err)
	require.Len(t, result.ProcessedLines, 1)
	require.Equal(t, b.ID, result.ProcessedLines[0].LotItemID)
	// privileged roles buy at kardex cost
	require.Equal(t, int64(1100), result.ProcessedLines[0].Price)
}

func TestFulfillSaleRejectsBelowMinimumWithoutMutation(t *testing.T) {
	f := newFixture()
	a, _ := f.seedTwoLots(8)
	saleID := f.repo.seedSale(sales.RoleCustomer, sales.StatusPending)

	_, err := f.svc.FulfillSale(context.Background(), saleID, []sales.CartLine{{ProductID: 7, Quantity: 15}, {ProductID: 99, Quantity: 1}}, sales.RoleCustomer)
	require.ErrorIs(t, err, shared.ErrValidation)
	require.True(t, sales.IsStockError(err))
	require.Contains(t, err.Error(), "quedaría 5, mínimo requerido: 8")
	require.Contains(t, err.Error(), "Producto 99 no encontrado")

	require.Empty(t, f.store.Movements())
	require.Equal(t, int64(10), f.store.LotItem(a.ID).Quantity)
	k, _ := f.store.Kardex(7)
	require.Equal(t, int64(20), k.Quantity)
}

func TestFulfillSaleOnlyDrawsStockForPendingSales(t *testing.T) {
	f := newFixture()
	a, b := f.seedTwoLots(0)
	ctx := context.Background()
	saleID := f.repo.seedSale(sales.RoleCustomer, sales.StatusPending)
	lines := []sales.CartLine{{ProductID: 7, Quantity: 12}}

	_, err := f.svc.FulfillSale(ctx, saleID, lines, sales.RoleCustomer)
	require.NoError(t, err)
	stored, _ := f.repo.GetSale(ctx, saleID)
	require.Equal(t, sales.StatusPaymentAccepted, stored.Status)
	require.Len(t, f.store.Movements(), 2)

	_, err = f.svc.FulfillSale(ctx, saleID, lines, sales.RoleCustomer)
	require.ErrorIs(t, err, sales.ErrAlreadyInStatus)
	require.Len(t, f.store.Movements(), 2)
	require.Equal(t, int64(0), f.store.LotItem(a.ID).Quantity)
	require.Equal(t, int64(8), f.store.LotItem(b.ID).Quantity)
	k, _ := f.store.Kardex(7)
	require.Equal(t, int64(8), k.Quantity)

	rejected := f.repo.seedSale(sales.RoleCustomer, sales.StatusPaymentRejected)
	_, err = f.svc.FulfillSale(ctx, rejected, []sales.CartLine{{ProductID: 7, Quantity: 1}}, sales.RoleCustomer)
	require.ErrorIs(t, err, sales.ErrInvalidTransition)
	require.Len(t, f.store.Movements(), 2)
}

func TestSaleMovementsPublishedOnlyAfterCommit(t *testing.T) {
	f := newFixture()
	f.seedTwoLots(0)
	ctx := context.Background()

	short := f.repo.seedSale(sales.RoleCustomer, sales.StatusPending,
		sales.SaleProduct{ProductID: 7, Quantity: 25, Price: 1900})
	_, err := f.svc.AcceptPayment(ctx, short)
	require.True(t, sales.IsStockError(err))
	require.Empty(t, f.posted.posted)

	saleID := f.repo.seedSale(sales.RoleCustomer, sales.StatusPending,
		sales.SaleProduct{ProductID: 7, Quantity: 15, Price: 1900})
	result, err := f.svc.AcceptPayment(ctx, saleID)
	require.NoError(t, err)
	require.Len(t, result.Movements, 2)
	require.Equal(t, f.store.Movements(), f.posted.posted)

	reversals, err := f.svc.RejectPayment(ctx, saleID)
	require.NoError(t, err)
	require.Len(t, f.posted.posted, 4)
	require.Equal(t, reversals, f.posted.posted[2:])
}

func TestOrderTotalsRoundsTaxHalfToEven(t *testing.T) {
	// 150 * 0.19 = 28.5 and 50 * 0.19 = 9.5
	_, _, tax, total := sales.OrderTotals(150, sales.ShippingPickup, settings.Settings{})
	require.Equal(t, int64(28), tax)
	require.Equal(t, int64(178), total)

	_, _, tax, _ = sales.OrderTotals(50, sales.ShippingPickup, settings.Settings{})
	require.Equal(t, int64(10), tax)
}

func TestCheckProductInventory(t *testing.T) {
	f := newFixture()
	f.seedTwoLots(0)
	require.NoError(t, f.svc.CheckProductInventory(context.Background(), 7, 20))

	err := f.svc.CheckProductInventory(context.Background(), 7, 21)
	require.True(t, sales.IsStockError(err))
	require.Contains(t, err.Error(), "disponible: 20, solicitado: 21")
}

func TestPlaceOrderStoresPendingLinesAndTotals(t *testing.T) {
	f := newFixture()
	f.seedTwoLots(0)

	sale, err := f.svc.PlaceOrder(context.Background(), sales.OrderInput{
		CustomerID:     3,
		Role:           sales.RoleCustomer,
		ShippingMethod: sales.ShippingDelivery,
		Lines:          []sales.CartLine{{ProductID: 7, Quantity: 2, PublicSalePrice: 2000}},
	})
	require.NoError(t, err)
	require.Equal(t, sales.StatusPending, sale.Status)
	require.Equal(t, int64(4000), sale.Subtotal)
	require.Equal(t, int64(5000), sale.ShippingCost)
	require.Equal(t, int64(1710), sale.Tax)
	require.Equal(t, int64(10710), sale.Total)

	rows, _ := f.repo.ListSaleProducts(context.Background(), sale.ID)
	require.Len(t, rows, 1)
	require.True(t, rows[0].Pending())
	require.Empty(t, f.store.Movements())
	require.Len(t, f.notifier.sent, 1)

	_, err = f.svc.PlaceOrder(context.Background(), sales.OrderInput{Role: sales.RoleCustomer})
	require.ErrorIs(t, err, sales.ErrEmptyCart)
}

func TestPlaceOrderPricesPrivilegedRolesAtKardexCost(t *testing.T) {
	f := newFixture()
	f.seedTwoLots(0)

	sale, err := f.svc.PlaceOrder(context.Background(), sales.OrderInput{
		Role:           sales.RoleAdmin,
		ShippingMethod: sales.ShippingPickup,
		Lines:          []sales.CartLine{{ProductID: 7, Quantity: 3, PublicSalePrice: 2000}},
	})
	require.NoError(t, err)
	require.Equal(t, int64(3300), sale.Subtotal)
	require.Zero(t, sale.ShippingCost)
	require.Equal(t, int64(627), sale.Tax)
}

func TestAcceptAndRejectPaymentRestoresKardex(t *testing.T) {
	f := newFixture()
	a, b := f.seedTwoLots(0)
	ctx := context.Background()

	sale, err := f.svc.PlaceOrder(ctx, sales.OrderInput{
		Role:  sales.RoleCustomer,
		Lines: []sales.CartLine{{ProductID: 7, Quantity: 15, PublicSalePrice: 1900}},
	})
	require.NoError(t, err)

	result, err := f.svc.AcceptPayment(ctx, sale.ID)
	require.NoError(t, err)
	require.Len(t, result.ProcessedLines, 2)
	rows, _ := f.repo.ListSaleProducts(ctx, sale.ID)
	require.Len(t, rows, 2, "pending line is replaced by per-lot rows")
	k, _ := f.store.Kardex(7)
	require.Equal(t, int64(5), k.Quantity)

	_, err = f.svc.AcceptPayment(ctx, sale.ID)
	require.ErrorIs(t, err, sales.ErrAlreadyInStatus)
	require.ErrorIs(t, err, shared.ErrConflict)

	reversals, err := f.svc.RejectPayment(ctx, sale.ID)
	require.NoError(t, err)
	require.Len(t, reversals, 2)
	for _, mv := range reversals {
		require.Equal(t, inventory.ReasonReversal, mv.Reason)
		require.Equal(t, int64(1100), mv.UnitCost)
	}

	k, _ = f.store.Kardex(7)
	require.Equal(t, int64(20), k.Quantity)
	require.Equal(t, int64(1100), k.AverageCost)
	require.Equal(t, int64(10), f.store.LotItem(a.ID).Quantity)
	require.Equal(t, int64(10), f.store.LotItem(b.ID).Quantity)

	stored, _ := f.repo.GetSale(ctx, sale.ID)
	require.Equal(t, sales.StatusPaymentRejected, stored.Status)
	require.Len(t, f.notifier.sent, 3)

	movements, err := f.svc.ReverseSale(ctx, sale.ID)
	require.NoError(t, err)
	require.Nil(t, movements, "rejected sales are not reversed twice")
	k, _ = f.store.Kardex(7)
	require.Equal(t, int64(20), k.Quantity)
}

func TestMarkDeliveredRequiresAcceptedPayment(t *testing.T) {
	f := newFixture()
	f.seedTwoLots(0)
	ctx := context.Background()
	saleID := f.repo.seedSale(sales.RoleCustomer, sales.StatusPending, sales.SaleProduct{ProductID: 7, Quantity: 1, Price: 1900})

	require.ErrorIs(t, f.svc.MarkDelivered(ctx, saleID), sales.ErrInvalidTransition)

	_, err := f.svc.AcceptPayment(ctx, saleID)
	require.NoError(t, err)
	require.NoError(t, f.svc.MarkDelivered(ctx, saleID))
	require.ErrorIs(t, f.svc.MarkDelivered(ctx, saleID), sales.ErrAlreadyInStatus)
}

func TestLockedSaleFailsFast(t *testing.T) {
	f := newFixture()
	f.seedTwoLots(0)
	locks := &lockSpy{}
	f.svc.WithLockObserver(locks)
	saleID := f.repo.seedSale(sales.RoleCustomer, sales.StatusPending, sales.SaleProduct{ProductID: 7, Quantity: 1, Price: 1900})
	f.repo.locked[saleID] = true

	_, err := f.svc.AcceptPayment(context.Background(), saleID)
	require.ErrorIs(t, err, sales.ErrSaleLocked)
	require.ErrorIs(t, err, shared.ErrConflict)
	require.Equal(t, []int64{saleID}, locks.ids)
	require.Empty(t, f.store.Movements())
}

func TestAcceptPaymentRollsBackWhenStockVanished(t *testing.T) {
	f := newFixture()
	a, _ := f.seedTwoLots(0)
	saleID := f.repo.seedSale(sales.RoleCustomer, sales.StatusPending, sales.SaleProduct{ProductID: 7, Quantity: 25, Price: 1900})

	_, err := f.svc.AcceptPayment(context.Background(), saleID)
	require.True(t, sales.IsStockError(err))

	stored, _ := f.repo.GetSale(context.Background(), saleID)
	require.Equal(t, sales.StatusPending, stored.Status)
	rows, _ := f.repo.ListSaleProducts(context.Background(), saleID)
	require.Len(t, rows, 1)
	require.True(t, rows[0].Pending())
	require.Equal(t, int64(10), f.store.LotItem(a.ID).Quantity)
}
