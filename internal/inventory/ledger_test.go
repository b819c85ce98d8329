package inventory_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ferrochem/erp/internal/inventory"
	"github.com/ferrochem/erp/internal/inventory/inventorytest"
)

var fixedNow = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

func newLedger() *inventory.Ledger {
	return inventory.NewLedger(nil, nil).WithClock(func() time.Time { return fixedNow })
}

func day(month time.Month, d int) time.Time {
	return time.Date(2024, month, d, 0, 0, 0, 0, time.UTC)
}

func TestLedgerReceiveCreatesRowsAndKardex(t *testing.T) {
	ctx := context.Background()
	store := inventorytest.NewMemoryStore()
	store.RegisterProduct(10, "Resina epoxica", 3)
	ledger := newLedger()

	res, err := ledger.Receive(ctx, store, inventory.ReceiptInput{
		ProductID: 10, SupplierID: 3, LotNumber: "1", Quantity: 20,
		UnitCost: decimal.NewFromInt(1000), PublicSalePrice: 1500, PrivateSalePrice: 1300,
	})
	require.NoError(t, err)
	require.NotZero(t, res.InventoryID)
	require.NotZero(t, res.LotItemID)

	k, ok := store.Kardex(10)
	require.True(t, ok)
	require.Equal(t, int64(20), k.Quantity)
	require.Equal(t, int64(1000), k.AverageCost)

	res2, err := ledger.Receive(ctx, store, inventory.ReceiptInput{
		ProductID: 10, SupplierID: 3, LotNumber: "2", Quantity: 10, UnitCost: decimal.NewFromInt(1300),
	})
	require.NoError(t, err)
	require.Equal(t, res.InventoryID, res2.InventoryID)
	require.NotEqual(t, res.LotID, res2.LotID)

	k, _ = store.Kardex(10)
	require.Equal(t, int64(30), k.Quantity)
	require.Equal(t, int64(1100), k.AverageCost)

	movements := store.Movements()
	require.Len(t, movements, 2)
	require.Equal(t, inventory.MovementReceipt, movements[1].Type)
	require.Equal(t, int64(10), movements[1].Quantity)
	// post-receipt average, not the lot cost
	require.Equal(t, int64(1100), movements[1].UnitCost)
	require.Equal(t, int64(1300), store.LotItem(res2.LotItemID).UnitCost)
	require.Equal(t, int64(10), store.MirroredQuantity(res2.InventoryID, res2.LotItemID))
}

func TestLedgerReceiveReusesLotItem(t *testing.T) {
	ctx := context.Background()
	store := inventorytest.NewMemoryStore()
	store.RegisterProduct(11, "Diluyente", 3)
	ledger := newLedger()

	first, err := ledger.Receive(ctx, store, inventory.ReceiptInput{ProductID: 11, SupplierID: 3, LotNumber: "7", Quantity: 4, UnitCost: decimal.NewFromInt(200)})
	require.NoError(t, err)
	second, err := ledger.Receive(ctx, store, inventory.ReceiptInput{ProductID: 11, SupplierID: 3, LotNumber: "7", Quantity: 6, UnitCost: decimal.NewFromInt(300), Type: inventory.MovementAdjustmentIn})
	require.NoError(t, err)

	require.Equal(t, first.LotItemID, second.LotItemID)
	require.Equal(t, int64(10), store.LotItem(first.LotItemID).Quantity)
	require.Equal(t, int64(10), store.MirroredQuantity(first.InventoryID, first.LotItemID))
	require.Equal(t, int64(260), second.Kardex.AverageCost)
	require.Equal(t, inventory.MovementAdjustmentIn, second.Movement.Type)
}

func TestLedgerReceiveRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	store := inventorytest.NewMemoryStore()
	ledger := newLedger()

	_, err := ledger.Receive(ctx, store, inventory.ReceiptInput{ProductID: 1, LotNumber: "1", Quantity: 0, UnitCost: decimal.NewFromInt(1)})
	require.ErrorIs(t, err, inventory.ErrInvalidQuantity)

	_, err = ledger.Receive(ctx, store, inventory.ReceiptInput{ProductID: 1, LotNumber: "1", Quantity: 1, UnitCost: decimal.NewFromInt(-1)})
	require.ErrorIs(t, err, inventory.ErrInvalidUnitCost)

	_, err = ledger.Receive(ctx, store, inventory.ReceiptInput{ProductID: 1, LotNumber: "1", Quantity: 1, UnitCost: decimal.NewFromInt(1), Type: inventory.MovementSale})
	require.Error(t, err)
}

func TestLedgerConsumeFIFO(t *testing.T) {
	ctx := context.Background()
	store := inventorytest.NewMemoryStore()
	inv := store.AddProduct(20, "Pintura", 1, 0)
	lotB := store.SeedLot(20, "B", day(time.February, 1), 10, 900, 1500, 1200)
	lotA := store.SeedLot(20, "A", day(time.January, 1), 10, 800, 1500, 1200)
	store.SeedKardex(inventory.Kardex{ProductID: 20, Quantity: 20, AverageCost: 850})

	res, err := newLedger().Consume(ctx, store, inventory.ConsumeInput{ProductID: 20, Quantity: 15})
	require.NoError(t, err)
	require.Equal(t, int64(15), res.Processed)
	require.Len(t, res.Consumptions, 2)
	require.Equal(t, lotA.ID, res.Consumptions[0].LotItem.ID)
	require.Equal(t, int64(10), res.Consumptions[0].Taken)
	require.Equal(t, lotB.ID, res.Consumptions[1].LotItem.ID)
	require.Equal(t, int64(5), res.Consumptions[1].Taken)

	require.Zero(t, store.LotItem(lotA.ID).Quantity)
	require.Equal(t, int64(5), store.LotItem(lotB.ID).Quantity)
	require.Equal(t, int64(5), store.MirroredQuantity(inv.ID, lotB.ID))

	for _, c := range res.Consumptions {
		require.Equal(t, inventory.MovementSale, c.Movement.Type)
		require.Equal(t, -c.Taken, c.Movement.Quantity)
		require.Equal(t, int64(850), c.Movement.UnitCost)
	}
	k, _ := store.Kardex(20)
	require.Equal(t, int64(5), k.Quantity)
	require.Equal(t, int64(850), k.AverageCost)
}

func TestLedgerConsumeExplicitLots(t *testing.T) {
	ctx := context.Background()
	store := inventorytest.NewMemoryStore()
	store.AddProduct(21, "Barniz", 1, 0)
	store.SeedLot(21, "A", day(time.January, 1), 10, 800, 0, 0)
	lotB := store.SeedLot(21, "B", day(time.February, 1), 10, 900, 0, 0)
	store.SeedKardex(inventory.Kardex{ProductID: 21, Quantity: 20, AverageCost: 850})

	res, err := newLedger().Consume(ctx, store, inventory.ConsumeInput{ProductID: 21, Quantity: 4, LotNumbers: []string{"B", "A"}})
	require.NoError(t, err)
	require.Len(t, res.Consumptions, 1)
	require.Equal(t, lotB.ID, res.Consumptions[0].LotItem.ID)
}

func TestLedgerConsumeShortFails(t *testing.T) {
	ctx := context.Background()
	store := inventorytest.NewMemoryStore()
	store.AddProduct(22, "Sellador", 1, 0)
	store.SeedLot(22, "A", day(time.January, 1), 3, 800, 0, 0)
	store.SeedKardex(inventory.Kardex{ProductID: 22, Quantity: 3, AverageCost: 800})

	err := store.WithTx(ctx, func(ctx context.Context, tx inventory.TxRepository) error {
		_, err := newLedger().Consume(ctx, tx, inventory.ConsumeInput{ProductID: 22, Quantity: 5})
		return err
	})
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)
	require.Empty(t, store.Movements())
	require.Equal(t, int64(3), store.LotStock(22))
}

func TestLedgerConsumeWithoutKardexUsesLotCost(t *testing.T) {
	ctx := context.Background()
	store := inventorytest.NewMemoryStore()
	store.AddProduct(23, "Masilla", 1, 0)
	store.SeedLot(23, "A", day(time.January, 1), 5, 640, 0, 0)

	res, err := newLedger().Consume(ctx, store, inventory.ConsumeInput{ProductID: 23, Quantity: 2})
	require.NoError(t, err)
	require.False(t, res.KardexFound)
	require.Equal(t, int64(640), res.Consumptions[0].Movement.UnitCost)
	_, ok := store.Kardex(23)
	require.False(t, ok)
}

func TestLedgerReverseRestoresStock(t *testing.T) {
	ctx := context.Background()
	store := inventorytest.NewMemoryStore()
	inv := store.AddProduct(24, "Esmalte", 1, 0)
	lot := store.SeedLot(24, "A", day(time.January, 1), 10, 800, 0, 0)
	store.SeedKardex(inventory.Kardex{ProductID: 24, Quantity: 10, AverageCost: 800})
	ledger := newLedger()

	res, err := ledger.Consume(ctx, store, inventory.ConsumeInput{ProductID: 24, Quantity: 6})
	require.NoError(t, err)

	rev, err := ledger.Reverse(ctx, store, res.Consumptions[0].Movement.ID)
	require.NoError(t, err)
	require.Equal(t, int64(6), rev.Quantity)
	require.Equal(t, int64(800), rev.UnitCost)
	require.Equal(t, inventory.ReasonReversal, rev.Reason)
	require.Equal(t, lot.ID, rev.LotItemID)

	k, _ := store.Kardex(24)
	require.Equal(t, int64(10), k.Quantity)
	require.Equal(t, int64(800), k.AverageCost)
	require.Equal(t, int64(10), store.LotItem(lot.ID).Quantity)
	require.Equal(t, int64(10), store.MirroredQuantity(inv.ID, lot.ID))

	_, err = ledger.Reverse(ctx, store, rev.ID)
	require.Error(t, err)
}
