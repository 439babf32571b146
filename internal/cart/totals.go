package cart

import (
	"github.com/shopspring/decimal"

	"shelfmaster/pos/internal/domain"
	"shelfmaster/pos/internal/stock"
)

var hundred = decimal.NewFromInt(100)

type Totals struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Tax      decimal.Decimal `json:"tax"`
	Discount decimal.Decimal `json:"discount"`
	Total    decimal.Decimal `json:"total"`
}

// LineTotal is the unit price of the selected unit times the cart quantity.
func LineTotal(item domain.CartItem) decimal.Decimal {
	return stock.UnitPrice(item.Product, item.SelectedUnit).Mul(decimal.NewFromInt(int64(item.CartQuantity)))
}

// ComputeTotals sums the lines and applies taxPercent (7.5 means 7.5%).
// Tax is rounded to cents. Discount is always zero.
func ComputeTotals(items []domain.CartItem, taxPercent decimal.Decimal) Totals {
	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(LineTotal(item))
	}
	tax := subtotal.Mul(taxPercent).Div(hundred).Round(2)
	return Totals{
		Subtotal: subtotal,
		Tax:      tax,
		Discount: decimal.Zero,
		Total:    subtotal.Add(tax),
	}
}
