package cart

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shelfmaster/pos/internal/domain"
)

type recordingSnapshotter struct {
	mu    sync.Mutex
	saves [][]domain.CartItem
}

func (r *recordingSnapshotter) SaveCartSnapshot(_ context.Context, items []domain.CartItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves = append(r.saves, items)
	return nil
}

func (r *recordingSnapshotter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.saves)
}

func (r *recordingSnapshotter) last() []domain.CartItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saves[len(r.saves)-1]
}

func packProduct() (domain.Product, *domain.ProductUnit) {
	p := domain.Product{
		ID:           "P1",
		Name:         "Biscuit",
		Barcode:      "123",
		SellingPrice: decimal.NewFromInt(100),
		Quantity:     10,
		Units:        []domain.ProductUnit{{Name: "Pack", Multiplier: 5, Price: decimal.NewFromInt(450)}},
	}
	return p, p.Unit("Pack")
}

func TestAddPacksUsesUnitPrice(t *testing.T) {
	c := New(nil, 0, nil)
	p, pack := packProduct()

	require.NoError(t, c.AddLine(p, 2, pack))
	items := c.Items()
	require.Len(t, items, 1)
	assert.Equal(t, 2, items[0].CartQuantity)
	assert.Equal(t, "Pack", items[0].UnitName())
	assert.True(t, LineTotal(items[0]).Equal(decimal.NewFromInt(900)))

	totals := c.Totals(decimal.Zero)
	assert.True(t, totals.Total.Equal(decimal.NewFromInt(900)))
}

func TestRepeatedAddsCannotBypassStockCeiling(t *testing.T) {
	c := New(nil, 0, nil)
	p, pack := packProduct()

	require.NoError(t, c.AddLine(p, 1, pack))
	err := c.AddLine(p, 2, pack)
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Equal(t, 1, c.Items()[0].CartQuantity, "rejected add must not mutate the cart")

	require.NoError(t, c.AddLine(p, 1, pack))
	assert.Equal(t, 2, c.Items()[0].CartQuantity)
}

func TestTrainingModeSkipsStockCheck(t *testing.T) {
	c := New(nil, 0, nil)
	c.SetTrainingMode(true)
	p, pack := packProduct()

	require.NoError(t, c.AddLine(p, 50, pack))
	assert.Equal(t, 50, c.Items()[0].CartQuantity)
}

func TestNewestLineFirstAndMergeBySameUnit(t *testing.T) {
	c := New(nil, 0, nil)
	p, pack := packProduct()
	other := domain.Product{ID: "P2", Name: "Water", SellingPrice: decimal.NewFromInt(50), Quantity: 100}

	require.NoError(t, c.AddLine(p, 1, nil))
	require.NoError(t, c.AddLine(other, 1, nil))
	require.NoError(t, c.AddLine(p, 1, pack))
	require.NoError(t, c.AddLine(p, 2, nil))

	items := c.Items()
	require.Len(t, items, 3)
	assert.Equal(t, LineKey{ProductID: "P1", UnitName: "Pack"}, KeyOf(items[0]))
	assert.Equal(t, LineKey{ProductID: "P2"}, KeyOf(items[1]))
	assert.Equal(t, LineKey{ProductID: "P1"}, KeyOf(items[2]))
	assert.Equal(t, 3, items[2].CartQuantity)
}

func TestAdjustQuantityFloorsAtOne(t *testing.T) {
	c := New(nil, 0, nil)
	p, _ := packProduct()
	require.NoError(t, c.AddLine(p, 3, nil))
	key := LineKey{ProductID: "P1"}

	require.NoError(t, c.AdjustQuantity(key, -10))
	assert.Equal(t, 1, c.Items()[0].CartQuantity)

	require.NoError(t, c.AdjustQuantity(key, 9))
	assert.Equal(t, 10, c.Items()[0].CartQuantity)

	require.ErrorIs(t, c.AdjustQuantity(key, 1), domain.ErrInsufficientStock)
	assert.Equal(t, 10, c.Items()[0].CartQuantity)

	require.ErrorIs(t, c.AdjustQuantity(LineKey{ProductID: "missing"}, 1), domain.ErrLineNotFound)
}

func TestRemoveAndClear(t *testing.T) {
	c := New(nil, 0, nil)
	p, pack := packProduct()
	require.NoError(t, c.AddLine(p, 1, nil))
	require.NoError(t, c.AddLine(p, 1, pack))

	require.NoError(t, c.RemoveLine(LineKey{ProductID: "P1"}))
	require.Len(t, c.Items(), 1)
	require.ErrorIs(t, c.RemoveLine(LineKey{ProductID: "P1"}), domain.ErrLineNotFound)

	c.Clear()
	assert.Equal(t, 0, c.Len())
}

func TestComputeTotalsAppliesPercentTax(t *testing.T) {
	items := []domain.CartItem{
		{Product: domain.Product{ID: "101", SellingPrice: decimal.NewFromInt(250)}, CartQuantity: 2},
		{Product: domain.Product{ID: "102", SellingPrice: decimal.NewFromInt(150)}, CartQuantity: 1},
	}
	totals := ComputeTotals(items, decimal.RequireFromString("7.5"))
	assert.True(t, totals.Subtotal.Equal(decimal.NewFromInt(650)))
	assert.True(t, totals.Tax.Equal(decimal.RequireFromString("48.75")))
	assert.True(t, totals.Total.Equal(decimal.RequireFromString("698.75")))
	assert.True(t, totals.Discount.IsZero())
}

func TestImmediateSnapshotOnEveryMutation(t *testing.T) {
	snap := &recordingSnapshotter{}
	c := New(snap, 0, nil)
	p, _ := packProduct()

	require.NoError(t, c.AddLine(p, 1, nil))
	require.NoError(t, c.AdjustQuantity(LineKey{ProductID: "P1"}, 1))
	assert.Equal(t, 2, snap.count())
	assert.Equal(t, 2, snap.last()[0].CartQuantity)
}

func TestDebouncedSnapshotCoalescesBursts(t *testing.T) {
	snap := &recordingSnapshotter{}
	c := New(snap, time.Hour, nil)
	p, _ := packProduct()

	for i := 0; i < 5; i++ {
		require.NoError(t, c.AddLine(p, 1, nil))
	}
	assert.Equal(t, 0, snap.count())

	c.Close()
	require.Equal(t, 1, snap.count())
	assert.Equal(t, 5, snap.last()[0].CartQuantity)

	c.Flush()
	assert.Equal(t, 1, snap.count(), "nothing pending after a flush")
}

func TestDebounceTimerFires(t *testing.T) {
	snap := &recordingSnapshotter{}
	c := New(snap, 10*time.Millisecond, nil)
	p, _ := packProduct()

	require.NoError(t, c.AddLine(p, 1, nil))
	require.Eventually(t, func() bool { return snap.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestRestoreCopiesItems(t *testing.T) {
	c := New(nil, 0, nil)
	p, pack := packProduct()
	items := []domain.CartItem{{Product: p, CartQuantity: 1, SelectedUnit: pack}}

	c.Restore(items)
	items[0].SelectedUnit.Name = "Mutated"
	assert.Equal(t, "Pack", c.Items()[0].UnitName())
}
