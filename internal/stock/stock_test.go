package stock

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shelfmaster/pos/internal/domain"
)

func packProduct() domain.Product {
	return domain.Product{
		ID:           "p-1",
		Name:         "Cola",
		Barcode:      "123",
		SellingPrice: decimal.NewFromInt(100),
		Quantity:     10,
		Units: []domain.ProductUnit{
			{Name: "Pack", Multiplier: 5, Barcode: "123-PACK", Price: decimal.NewFromInt(450)},
			{Name: "Crate", Multiplier: 10},
		},
	}
}

func TestCheckCountsSameLineAlreadyInCart(t *testing.T) {
	p := packProduct()
	pack := p.Unit("Pack")

	needed, err := Policy{}.Check(p, pack, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, needed)

	needed, err = Policy{}.Check(p, pack, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 5, needed)

	_, err = Policy{}.Check(p, pack, 1, 2)
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
}

func TestCheckSkippedInTrainingMode(t *testing.T) {
	p := packProduct()
	needed, err := Policy{TrainingMode: true}.Check(p, p.Unit("Crate"), 7, 3)
	require.NoError(t, err)
	assert.Equal(t, 70, needed)
}

func TestCheckRejectsNonPositiveQuantity(t *testing.T) {
	_, err := Policy{}.Check(packProduct(), nil, 0, 0)
	require.ErrorIs(t, err, domain.ErrInvalidQuantity)
}

func TestUnitPriceFallsBackToMultiplier(t *testing.T) {
	p := packProduct()
	assert.True(t, UnitPrice(p, nil).Equal(decimal.NewFromInt(100)))
	assert.True(t, UnitPrice(p, p.Unit("Pack")).Equal(decimal.NewFromInt(450)))
	assert.True(t, UnitPrice(p, p.Unit("Crate")).Equal(decimal.NewFromInt(1000)))
}

func TestFindByBarcodePrimaryBeforeUnit(t *testing.T) {
	other := domain.Product{ID: "p-2", Barcode: "999", Units: []domain.ProductUnit{{Name: "Box", Multiplier: 2, Barcode: "123"}}}
	products := []domain.Product{other, packProduct()}

	p, unit, ok := FindByBarcode(products, "123")
	require.True(t, ok)
	assert.Equal(t, "p-1", p.ID)
	assert.Nil(t, unit)

	p, unit, ok = FindByBarcode(products, "123-PACK")
	require.True(t, ok)
	assert.Equal(t, "p-1", p.ID)
	require.NotNil(t, unit)
	assert.Equal(t, "Pack", unit.Name)

	_, _, ok = FindByBarcode(products, "nope")
	assert.False(t, ok)
}

func TestValidateUnits(t *testing.T) {
	require.NoError(t, ValidateUnits(packProduct().Units))
	require.ErrorIs(t, ValidateUnits([]domain.ProductUnit{{Name: "Solo", Multiplier: 1}}), domain.ErrInvalidUnit)
	require.ErrorIs(t, ValidateUnits([]domain.ProductUnit{{Name: " ", Multiplier: 4}}), domain.ErrInvalidUnit)
	require.ErrorIs(t, ValidateUnits([]domain.ProductUnit{{Name: "Box", Multiplier: 4}, {Name: "Box", Multiplier: 6}}), domain.ErrInvalidUnit)
}

func TestApplyDeltaFlatQuantity(t *testing.T) {
	p := ApplyDelta(packProduct(), -12)
	assert.Equal(t, -2, p.Quantity)
	p = ApplyDelta(p, 5)
	assert.Equal(t, 3, p.Quantity)
}

func TestApplyDeltaDeductsEarliestExpiryFirst(t *testing.T) {
	soon := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	later := soon.AddDate(0, 3, 0)
	p := domain.Product{
		ID: "p-3",
		Batches: []domain.Batch{
			{ID: "b-undated", BatchNumber: "L0", Quantity: 4},
			{ID: "b-later", BatchNumber: "L2", ExpiryDate: &later, Quantity: 5},
			{ID: "b-soon", BatchNumber: "L1", ExpiryDate: &soon, Quantity: 3},
		},
	}

	out := ApplyDelta(p, -6)
	assert.Equal(t, 4, out.Batches[0].Quantity)
	assert.Equal(t, 2, out.Batches[1].Quantity)
	assert.Equal(t, 0, out.Batches[2].Quantity)
	assert.Equal(t, 6, out.Quantity)
	assert.Equal(t, 3, p.Batches[2].Quantity, "input batches must not be mutated")

	oversold := ApplyDelta(out, -10)
	assert.Equal(t, -4, oversold.Quantity)
	assert.Equal(t, -4, oversold.Batches[0].Quantity)

	restocked := ApplyDelta(out, 2)
	assert.Equal(t, 2, restocked.Batches[2].Quantity)
	assert.Equal(t, 8, restocked.Quantity)
}

func TestRecomputeQuantityUsesBatchSum(t *testing.T) {
	p := domain.Product{Quantity: 99, Batches: []domain.Batch{{Quantity: 2}, {Quantity: 3}}}
	assert.Equal(t, 5, RecomputeQuantity(p).Quantity)
	assert.Equal(t, 99, RecomputeQuantity(domain.Product{Quantity: 99}).Quantity)
}
