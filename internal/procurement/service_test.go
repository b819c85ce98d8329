package procurement_test

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ferrochem/erp/internal/inventory"
	"github.com/ferrochem/erp/internal/inventory/inventorytest"
	"github.com/ferrochem/erp/internal/platform/db"
	"github.com/ferrochem/erp/internal/procurement"
	"github.com/ferrochem/erp/internal/settings"
	"github.com/ferrochem/erp/internal/shared"
)

type memoryRepo struct {
	mu        sync.Mutex
	store     *inventorytest.MemoryStore
	shoppings map[int64]procurement.Shopping
	products  map[int64][]procurement.ShoppingProduct
	staged    map[int64][]procurement.PreInventoryStock
	lastLot   int64
	nextID    int64
}

func newMemoryRepo(store *inventorytest.MemoryStore) *memoryRepo {
	return &memoryRepo{
		store:     store,
		shoppings: make(map[int64]procurement.Shopping),
		products:  make(map[int64][]procurement.ShoppingProduct),
		staged:    make(map[int64][]procurement.PreInventoryStock),
	}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, procurement.TxRepository) error) error {
	restoreInventory := m.store.Snapshot()
	m.mu.Lock()
	shoppings, staged, lastLot := maps.Clone(m.shoppings), maps.Clone(m.staged), m.lastLot
	m.mu.Unlock()
	if err := fn(ctx, m); err != nil {
		restoreInventory()
		m.mu.Lock()
		m.shoppings, m.staged, m.lastLot = shoppings, staged, lastLot
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *memoryRepo) Inventory() inventory.TxRepository { return m.store }

func (m *memoryRepo) GetShopping(ctx context.Context, id int64) (procurement.Shopping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sh, ok := m.shoppings[id]
	if !ok {
		return procurement.Shopping{}, procurement.ErrShoppingNotFound
	}
	return sh, nil
}

func (m *memoryRepo) LockShopping(ctx context.Context, id int64) (procurement.Shopping, error) {
	return m.GetShopping(ctx, id)
}

func (m *memoryRepo) ListShoppingProducts(ctx context.Context, shoppingID int64) ([]procurement.ShoppingProduct, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.products[shoppingID]), nil
}

func (m *memoryRepo) ListPreInventory(ctx context.Context, shoppingID int64) ([]procurement.PreInventoryStock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.staged[shoppingID]), nil
}

func (m *memoryRepo) UpdateShoppingStatus(ctx context.Context, id int64, status procurement.ShoppingStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sh := m.shoppings[id]
	sh.StatusID = status
	m.shoppings[id] = sh
	return nil
}

func (m *memoryRepo) UpdateLandedCosts(ctx context.Context, id int64, in procurement.LandedCostInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sh := m.shoppings[id]
	sh.Charges = maps.Clone(in.Charges)
	sh.Commission = in.Commission
	sh.ExchangeRate = in.ExchangeRate
	sh.EuroValue = in.EuroValue
	m.shoppings[id] = sh
	return nil
}

func (m *memoryRepo) NextLotNumber(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastLot++
	return m.lastLot, nil
}

func (m *memoryRepo) DeletePreInventory(ctx context.Context, shoppingID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.staged, shoppingID)
	return nil
}

func (m *memoryRepo) InsertPreInventory(ctx context.Context, row procurement.PreInventoryStock) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	row.ID = m.nextID
	m.staged[row.ShoppingID] = append(m.staged[row.ShoppingID], row)
	return row.ID, nil
}

type idempotencySpy struct {
	keys map[string]bool
}

func (s *idempotencySpy) CheckAndInsert(ctx context.Context, key, module string) error {
	if s.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	s.keys[key] = true
	return nil
}

func (s *idempotencySpy) Delete(ctx context.Context, key string) error {
	delete(s.keys, key)
	return nil
}

type auditSpy struct {
	actions []string
}

func (a *auditSpy) Record(ctx context.Context, log shared.AuditLog) error {
	a.actions = append(a.actions, log.Action)
	return nil
}

type fixture struct {
	store *inventorytest.MemoryStore
	repo  *memoryRepo
	idem  *idempotencySpy
	audit *auditSpy
	svc   *procurement.Service
}

func newFixture() fixture {
	store := inventorytest.NewMemoryStore()
	store.RegisterProduct(1, "Resina", 4)
	store.RegisterProduct(2, "Solvente", 4)
	repo := newMemoryRepo(store)
	repo.shoppings[1] = procurement.Shopping{
		ID: 1, SupplierID: 4, StatusID: procurement.StatusConfirmed,
		Charges: map[procurement.CostField]procurement.Charge{
			procurement.MaritimeFreight: {Amount: decimal.NewFromInt(60), DollarRate: decimal.NewFromInt(1)},
		},
	}
	repo.products[1] = []procurement.ShoppingProduct{
		{ProductID: 1, ProductName: "Resina", FinalUnitCost: decimal.NewFromInt(100), QuantityPerPackage: 1},
		{ProductID: 2, ProductName: "Solvente", FinalUnitCost: decimal.NewFromInt(50), QuantityPerPackage: 1},
	}
	idem := &idempotencySpy{keys: map[string]bool{}}
	audit := &auditSpy{}
	ledger := inventory.NewLedger(nil, nil).WithClock(func() time.Time { return time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC) })
	svc := procurement.NewService(repo, ledger, settings.Static{}, audit, idem, nil)
	return fixture{store: store, repo: repo, idem: idem, audit: audit, svc: svc}
}

func TestStageStockAssignsNextLotNumber(t *testing.T) {
	f := newFixture()
	f.repo.lastLot = 41

	staged, err := f.svc.StageStock(context.Background(), 1, []procurement.StageLine{{ProductID: 1, Stock: 2}, {ProductID: 2, Stock: 2}})
	require.NoError(t, err)
	require.Len(t, staged, 2)
	require.Equal(t, "42", staged[0].LotNumber)
	require.Equal(t, "42", staged[1].LotNumber)
	require.Equal(t, procurement.StatusStaged, f.repo.shoppings[1].StatusID)

	_, err = f.svc.StageStock(context.Background(), 1, []procurement.StageLine{{ProductID: 1, Stock: 1}, {ProductID: 1, Stock: 1}})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestComputeLandedUnitCost(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_, err := f.svc.StageStock(ctx, 1, []procurement.StageLine{{ProductID: 1, Stock: 2}, {ProductID: 2, Stock: 2}})
	require.NoError(t, err)

	// merchandise 200 + 100, shipping 60 split 2/3 and 1/3
	cost, err := f.svc.ComputeLandedUnitCost(ctx, 1, 1, 0)
	require.NoError(t, err)
	require.True(t, cost.UnitCost.Round(6).Equal(decimal.NewFromInt(120)), "unit cost %s", cost.UnitCost)

	cost, err = f.svc.ComputeLandedUnitCost(ctx, 1, 2, 0)
	require.NoError(t, err)
	require.True(t, cost.UnitCost.Round(6).Equal(decimal.NewFromInt(60)), "unit cost %s", cost.UnitCost)

	_, err = f.svc.ComputeLandedUnitCost(ctx, 1, 99, 1)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestComputeLandedUnitCostForUnstagedProduct(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_, err := f.svc.StageStock(ctx, 1, []procurement.StageLine{{ProductID: 1, Stock: 2}})
	require.NoError(t, err)

	cost, err := f.svc.ComputeLandedUnitCost(ctx, 1, 2, 3)
	require.NoError(t, err)
	require.Equal(t, int64(3), cost.RealQuantity)
	require.True(t, cost.ShippingShare.IsZero())
	require.True(t, cost.UnitCost.Equal(decimal.NewFromInt(50)))
}

func TestReceiveGoodsBooksLotsAndKardex(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_, err := f.svc.StageStock(ctx, 1, []procurement.StageLine{{ProductID: 1, Stock: 2}, {ProductID: 2, Stock: 2}})
	require.NoError(t, err)

	results, err := f.svc.ReceiveGoods(ctx, 1, []procurement.StagedItem{
		{ProductID: 1, Stock: 2, PublicSalePrice: 200},
		{ProductID: 2, Stock: 2, PublicSalePrice: 90},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	k, ok := f.store.Kardex(1)
	require.True(t, ok)
	require.Equal(t, int64(2), k.Quantity)
	require.Equal(t, int64(120), k.AverageCost)

	item := f.store.LotItem(results[0].LotItemID)
	require.Equal(t, "1", item.LotNumber)
	require.Equal(t, int64(2), item.Quantity)
	require.Equal(t, int64(120), item.UnitCost)
	require.Equal(t, int64(2), f.store.MirroredQuantity(results[0].InventoryID, results[0].LotItemID))

	require.Equal(t, procurement.StatusReceived, f.repo.shoppings[1].StatusID)
	require.Len(t, f.store.Movements(), 2)
	require.Contains(t, f.audit.actions, "SHOPPING_RECEIVE")

	_, err = f.svc.ReceiveGoods(ctx, 1, []procurement.StagedItem{{ProductID: 1, Stock: 2}})
	require.ErrorIs(t, err, procurement.ErrAlreadyReceived)
	require.Len(t, f.store.Movements(), 2)
}

func TestReceiveGoodsRollsBackOnFailure(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_, err := f.svc.StageStock(ctx, 1, []procurement.StageLine{{ProductID: 1, Stock: 2}, {ProductID: 2, Stock: 2}})
	require.NoError(t, err)
	f.store.FailInsertMovement = 1

	_, err = f.svc.ReceiveGoods(ctx, 1, []procurement.StagedItem{{ProductID: 1, Stock: 2}, {ProductID: 2, Stock: 2}})
	require.Error(t, err)
	require.Empty(t, f.store.Movements())
	_, ok := f.store.Kardex(1)
	require.False(t, ok)
	require.Equal(t, procurement.StatusStaged, f.repo.shoppings[1].StatusID)
	require.Empty(t, f.idem.keys, "idempotency key must be released")

	f.store.FailInsertMovement = 0
	_, err = f.svc.ReceiveGoods(ctx, 1, []procurement.StagedItem{{ProductID: 1, Stock: 2}, {ProductID: 2, Stock: 2}})
	require.NoError(t, err)
}

// conflictOnceRepo aborts the first commit with a serialization failure and
// reruns the closure the way db.WithTx does.
type conflictOnceRepo struct {
	*memoryRepo
	attempts int
}

func (r *conflictOnceRepo) WithTx(ctx context.Context, fn func(context.Context, procurement.TxRepository) error) error {
	var err error
	for range 3 {
		err = r.memoryRepo.WithTx(ctx, func(ctx context.Context, tx procurement.TxRepository) error {
			r.attempts++
			if err := fn(ctx, tx); err != nil {
				return err
			}
			if r.attempts == 1 {
				return &pgconn.PgError{Code: "40001"}
			}
			return nil
		})
		if !db.IsSerializationFailure(err) {
			return err
		}
	}
	return err
}

type movementSpy struct {
	posted []inventory.Movement
}

func (m *movementSpy) MovementPosted(mv inventory.Movement) { m.posted = append(m.posted, mv) }

func TestStageAndReceiveSurviveTransactionRetry(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	spy := &movementSpy{}
	repo := &conflictOnceRepo{memoryRepo: f.repo}
	svc := procurement.NewService(repo, inventory.NewLedger(nil, spy), settings.Static{}, f.audit, f.idem, nil)

	staged, err := svc.StageStock(ctx, 1, []procurement.StageLine{{ProductID: 1, Stock: 2}, {ProductID: 2, Stock: 2}})
	require.NoError(t, err)
	require.Equal(t, 2, repo.attempts)
	require.Len(t, staged, 2)
	require.Len(t, f.repo.staged[1], 2)

	repo.attempts = 0
	results, err := svc.ReceiveGoods(ctx, 1, []procurement.StagedItem{{ProductID: 1, Stock: 2}, {ProductID: 2, Stock: 2}})
	require.NoError(t, err)
	require.Equal(t, 2, repo.attempts)
	require.Len(t, results, 2)

	movements := f.store.Movements()
	require.Len(t, movements, 2)
	for i, res := range results {
		require.Equal(t, movements[i].ID, res.MovementID)
		require.Equal(t, int64(2), f.store.LotItem(res.LotItemID).Quantity)
	}
	require.Equal(t, movements, spy.posted)
	k, _ := f.store.Kardex(1)
	require.Equal(t, int64(2), k.Quantity)
}

func TestReceiveGoodsRejectsEmptyAndUnknownShopping(t *testing.T) {
	f := newFixture()
	_, err := f.svc.ReceiveGoods(context.Background(), 1, nil)
	require.ErrorIs(t, err, procurement.ErrNothingStaged)

	_, err = f.svc.ReceiveGoods(context.Background(), 77, []procurement.StagedItem{{ProductID: 1, Stock: 1}})
	require.True(t, errors.Is(err, shared.ErrNotFound))
}

func TestUpdateLandedCostsValidatesFields(t *testing.T) {
	f := newFixture()
	err := f.svc.UpdateLandedCosts(context.Background(), 1, procurement.LandedCostInput{
		Charges: map[procurement.CostField]procurement.Charge{"bogus": {}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	err = f.svc.UpdateLandedCosts(context.Background(), 1, procurement.LandedCostInput{
		Charges:    map[procurement.CostField]procurement.Charge{procurement.Honoraries: {Amount: decimal.NewFromInt(10), DollarRate: decimal.NewFromInt(2)}},
		Commission: decimal.NewFromInt(5),
	})
	require.NoError(t, err)
	require.True(t, procurement.TotalShipping(f.repo.shoppings[1]).Equal(decimal.NewFromInt(25)))
}
