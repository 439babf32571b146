package cart

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"shelfmaster/pos/internal/domain"
	"shelfmaster/pos/internal/stock"
)

const snapshotTimeout = 5 * time.Second

// Snapshotter keeps a copy of the in-progress cart outside the process.
type Snapshotter interface {
	SaveCartSnapshot(ctx context.Context, items []domain.CartItem) error
}

// LineKey identifies a cart line. Lines merge on product and selected unit.
type LineKey struct {
	ProductID string
	UnitName  string
}

func KeyOf(item domain.CartItem) LineKey {
	return LineKey{ProductID: item.Product.ID, UnitName: item.UnitName()}
}

// Cart is the in-progress sale of one terminal session, newest line first.
type Cart struct {
	mu       sync.Mutex
	items    []domain.CartItem
	training bool

	snap     Snapshotter
	debounce time.Duration
	timer    *time.Timer
	dirty    bool
	logger   *zap.Logger
}

// New returns an empty cart. Every mutation schedules a snapshot to snap
// once the cart has been quiet for debounce; a zero debounce saves at once.
func New(snap Snapshotter, debounce time.Duration, logger *zap.Logger) *Cart {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cart{snap: snap, debounce: debounce, logger: logger}
}

func (c *Cart) SetTrainingMode(on bool) {
	c.mu.Lock()
	c.training = on
	c.mu.Unlock()
}

func (c *Cart) TrainingMode() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.training
}

// AddLine adds qty of unit (nil for the base unit). The availability check
// counts what the same line already holds, and a rejected add leaves the
// cart untouched.
func (c *Cart) AddLine(product domain.Product, qty int, unit *domain.ProductUnit) error {
	c.mu.Lock()
	key := LineKey{ProductID: product.ID}
	if unit != nil {
		key.UnitName = unit.Name
	}
	idx := c.indexOf(key)
	already := 0
	if idx >= 0 {
		already = c.items[idx].CartQuantity
	}
	if _, err := (stock.Policy{TrainingMode: c.training}).Check(product, unit, qty, already); err != nil {
		c.mu.Unlock()
		return err
	}

	if idx >= 0 {
		c.items[idx].Product = product
		c.items[idx].CartQuantity += qty
	} else {
		item := domain.CartItem{Product: product, CartQuantity: qty}
		if unit != nil {
			u := *unit
			item.SelectedUnit = &u
		}
		c.items = append([]domain.CartItem{item}, c.items...)
	}
	c.mu.Unlock()
	c.touch()
	return nil
}

// AdjustQuantity changes a line by delta and never drops it below 1.
// Removing a line is RemoveLine's job.
func (c *Cart) AdjustQuantity(key LineKey, delta int) error {
	c.mu.Lock()
	idx := c.indexOf(key)
	if idx < 0 {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s/%s", domain.ErrLineNotFound, key.ProductID, key.UnitName)
	}
	line := c.items[idx]
	next := max(1, line.CartQuantity+delta)
	if next > line.CartQuantity {
		policy := stock.Policy{TrainingMode: c.training}
		if _, err := policy.Check(line.Product, line.SelectedUnit, next-line.CartQuantity, line.CartQuantity); err != nil {
			c.mu.Unlock()
			return err
		}
	}
	changed := next != line.CartQuantity
	c.items[idx].CartQuantity = next
	c.mu.Unlock()
	if changed {
		c.touch()
	}
	return nil
}

func (c *Cart) RemoveLine(key LineKey) error {
	c.mu.Lock()
	idx := c.indexOf(key)
	if idx < 0 {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s/%s", domain.ErrLineNotFound, key.ProductID, key.UnitName)
	}
	c.items = append(c.items[:idx:idx], c.items[idx+1:]...)
	c.mu.Unlock()
	c.touch()
	return nil
}

// Items returns a copy of the lines, newest first.
func (c *Cart) Items() []domain.CartItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneItems(c.items)
}

func (c *Cart) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *Cart) Clear() {
	c.mu.Lock()
	empty := len(c.items) == 0
	c.items = nil
	c.mu.Unlock()
	if !empty {
		c.touch()
	}
}

// Restore replaces the cart content, as when resuming a snapshot or a parked cart.
func (c *Cart) Restore(items []domain.CartItem) {
	c.mu.Lock()
	c.items = cloneItems(items)
	c.mu.Unlock()
	c.touch()
}

func (c *Cart) Totals(taxPercent decimal.Decimal) Totals {
	return ComputeTotals(c.Items(), taxPercent)
}

func (c *Cart) indexOf(key LineKey) int {
	for i := range c.items {
		if KeyOf(c.items[i]) == key {
			return i
		}
	}
	return -1
}

func cloneItems(items []domain.CartItem) []domain.CartItem {
	if len(items) == 0 {
		return nil
	}
	out := make([]domain.CartItem, len(items))
	for i, item := range items {
		out[i] = item
		if item.SelectedUnit != nil {
			u := *item.SelectedUnit
			out[i].SelectedUnit = &u
		}
	}
	return out
}
