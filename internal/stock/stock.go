package stock

import (
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"shelfmaster/pos/internal/domain"
)

// Policy controls availability checks. TrainingMode simulates sales and skips them.
type Policy struct {
	TrainingMode bool
}

// Multiplier returns how many base units one instance of unit holds.
func Multiplier(unit *domain.ProductUnit) int {
	if unit == nil || unit.Multiplier < 1 {
		return 1
	}
	return unit.Multiplier
}

// ResolveLineDeduction converts a quantity of the selected unit into base units.
func ResolveLineDeduction(unit *domain.ProductUnit, requestedQty int) int {
	return requestedQty * Multiplier(unit)
}

// Check verifies that product can cover requestedQty more of unit on top of
// alreadyInCart of the same line. It returns the base units the add needs.
func (p Policy) Check(product domain.Product, unit *domain.ProductUnit, requestedQty int, alreadyInCart int) (int, error) {
	if requestedQty < 1 {
		return 0, domain.ErrInvalidQuantity
	}
	needed := ResolveLineDeduction(unit, requestedQty)
	if p.TrainingMode {
		return needed, nil
	}
	reserved := ResolveLineDeduction(unit, alreadyInCart)
	if product.Quantity < reserved+needed {
		return 0, fmt.Errorf("%w: %s has %d, line needs %d", domain.ErrInsufficientStock, product.Name, product.Quantity, reserved+needed)
	}
	return needed, nil
}

// UnitPrice is the price of one instance of unit. A unit without its own
// price sells at the base selling price times its multiplier.
func UnitPrice(product domain.Product, unit *domain.ProductUnit) decimal.Decimal {
	if unit == nil {
		return product.SellingPrice
	}
	if unit.Price.IsPositive() {
		return unit.Price
	}
	return product.SellingPrice.Mul(decimal.NewFromInt(int64(Multiplier(unit))))
}

// FindByBarcode matches primary barcodes across the catalog first, then
// unit barcodes. The first match in catalog order wins.
func FindByBarcode(products []domain.Product, code string) (domain.Product, *domain.ProductUnit, bool) {
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.Product{}, nil, false
	}
	for _, p := range products {
		if p.Barcode == code {
			return p, nil, true
		}
	}
	for _, p := range products {
		for i := range p.Units {
			if p.Units[i].Barcode != "" && p.Units[i].Barcode == code {
				unit := p.Units[i]
				return p, &unit, true
			}
		}
	}
	return domain.Product{}, nil, false
}

// ValidateUnits rejects units without a name or with a multiplier of 1 or less.
func ValidateUnits(units []domain.ProductUnit) error {
	seen := make(map[string]struct{}, len(units))
	for _, u := range units {
		name := strings.TrimSpace(u.Name)
		if name == "" {
			return fmt.Errorf("%w: unit name required", domain.ErrInvalidUnit)
		}
		if u.Multiplier <= 1 {
			return fmt.Errorf("%w: %s multiplier must be greater than 1", domain.ErrInvalidUnit, name)
		}
		if u.Price.IsNegative() {
			return fmt.Errorf("%w: %s price must not be negative", domain.ErrInvalidUnit, name)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%w: duplicate unit %s", domain.ErrInvalidUnit, name)
		}
		seen[name] = struct{}{}
	}
	return nil
}

// RecomputeQuantity makes quantity the batch sum once a product carries batches.
func RecomputeQuantity(p domain.Product) domain.Product {
	if len(p.Batches) == 0 {
		return p
	}
	total := 0
	for _, b := range p.Batches {
		total += b.Quantity
	}
	p.Quantity = total
	return p
}

// ApplyDelta adds delta base units to the product's stock. Batched products
// take deductions from the earliest-expiring batch first and receive
// restocks there too. Stock may go negative when a sale oversells.
func ApplyDelta(p domain.Product, delta int) domain.Product {
	if delta == 0 {
		return p
	}
	if len(p.Batches) == 0 {
		p.Quantity += delta
		return p
	}

	batches := make([]domain.Batch, len(p.Batches))
	copy(batches, p.Batches)
	order := fefoOrder(batches)

	if delta > 0 {
		batches[order[0]].Quantity += delta
	} else {
		remaining := -delta
		for _, idx := range order {
			if remaining == 0 {
				break
			}
			if batches[idx].Quantity <= 0 {
				continue
			}
			used := min(remaining, batches[idx].Quantity)
			batches[idx].Quantity -= used
			remaining -= used
		}
		if remaining > 0 {
			batches[order[len(order)-1]].Quantity -= remaining
		}
	}

	p.Batches = batches
	return RecomputeQuantity(p)
}

func fefoOrder(batches []domain.Batch) []int {
	order := make([]int, len(batches))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return compareBatchForFEFO(batches[a], batches[b])
	})
	return order
}

// compareBatchForFEFO orders dated batches by expiry, undated ones last.
func compareBatchForFEFO(a domain.Batch, b domain.Batch) int {
	if a.ExpiryDate == nil && b.ExpiryDate != nil {
		return 1
	}
	if a.ExpiryDate != nil && b.ExpiryDate == nil {
		return -1
	}
	if a.ExpiryDate != nil && b.ExpiryDate != nil {
		if a.ExpiryDate.Before(*b.ExpiryDate) {
			return -1
		}
		if a.ExpiryDate.After(*b.ExpiryDate) {
			return 1
		}
	}
	return strings.Compare(a.BatchNumber, b.BatchNumber)
}

// IsLow reports whether the product is at or under its reorder threshold.
func IsLow(p domain.Product) bool {
	return p.Quantity <= p.MinStock
}
