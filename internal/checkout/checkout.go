package checkout

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"shelfmaster/pos/internal/cart"
	"shelfmaster/pos/internal/domain"
	"shelfmaster/pos/internal/payment"
	"shelfmaster/pos/internal/shift"
	"shelfmaster/pos/internal/stock"
	"shelfmaster/pos/internal/store"
	"shelfmaster/pos/internal/xid"
)

type Status string

const (
	StatusCommitted Status = "committed"
	// StatusPartiallyCommitted means the transaction is recorded but at least
	// one stock delta or the shift cash update did not apply.
	StatusPartiallyCommitted Status = "partially_committed"
)

// Ledger is the slice of the catalog the committer writes through.
type Ledger interface {
	store.ProductStore
	store.TransactionStore
}

type StockFailure struct {
	ProductID string `json:"product_id"`
	Delta     int    `json:"delta"`
	Err       error  `json:"-"`
}

func (f StockFailure) Error() string {
	return fmt.Sprintf("stock delta %+d for %s: %v", f.Delta, f.ProductID, f.Err)
}

type Result struct {
	Transaction   domain.Transaction `json:"transaction"`
	Settlement    payment.Settlement `json:"settlement"`
	Status        Status             `json:"status"`
	StockFailures []StockFailure     `json:"stock_failures,omitempty"`
	ShiftErr      error              `json:"-"`
}

type Request struct {
	Cart       *cart.Cart
	Payments   []domain.Payment
	Cashier    domain.User
	Customer   *domain.Customer
	TaxRate    decimal.Decimal
	TerminalID string
}

// Committer turns a settled cart into a recorded sale. The transaction is
// written first; stock deltas and shift cash follow one by one and a failure
// among them downgrades the result instead of undoing the sale.
type Committer struct {
	ledger Ledger
	shifts *shift.Reconciler
	logger *zap.Logger
	now    func() time.Time
}

func New(ledger Ledger, shifts *shift.Reconciler, logger *zap.Logger) *Committer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Committer{ledger: ledger, shifts: shifts, logger: logger, now: time.Now}
}

// Commit records the cart as a sale. Training carts are recorded but touch
// neither stock nor shift cash. The cart is cleared once the transaction is
// stored.
func (c *Committer) Commit(ctx context.Context, req Request) (*Result, error) {
	if req.Cart == nil || req.Cart.Len() == 0 {
		return nil, domain.ErrEmptyCart
	}
	items := req.Cart.Items()
	training := req.Cart.TrainingMode()

	if err := payment.Validate(req.Payments); err != nil {
		return nil, err
	}
	totals := cart.ComputeTotals(items, req.TaxRate)
	settlement := payment.Reconcile(totals.Total, req.Payments)
	if !settlement.Settled {
		return nil, fmt.Errorf("%w: %s still due", domain.ErrIncompletePayment, settlement.Remaining.StringFixed(2))
	}

	active, err := c.shifts.RequireOpen(ctx, req.Cashier)
	if err != nil {
		return nil, err
	}

	tx := domain.Transaction{
		ID:          xid.New("tx"),
		CreatedAt:   c.now().UTC(),
		TerminalID:  req.TerminalID,
		CashierID:   req.Cashier.ID,
		CashierName: req.Cashier.Name,
		Items:       BuildLines(items),
		Subtotal:    totals.Subtotal,
		Tax:         totals.Tax,
		Discount:    totals.Discount,
		Total:       totals.Total,
		Payments:    append([]domain.Payment(nil), req.Payments...),
		Type:        domain.TxTypeSale,
		IsTraining:  training,
	}
	if req.Customer != nil {
		tx.CustomerID = req.Customer.ID
		tx.CustomerName = req.Customer.Name
		tx.CustomerPhone = req.Customer.Phone
	}

	saved, err := c.ledger.CreateTransaction(ctx, tx)
	if err != nil {
		return nil, err
	}
	req.Cart.Clear()

	result := &Result{Transaction: *saved, Settlement: settlement, Status: StatusCommitted}
	if training {
		return result, nil
	}

	for i, line := range saved.Items {
		result.applyStock(ctx, c.ledger, lineKey(saved.ID, i), line.ProductID, -line.Quantity)
	}

	cash := payment.CashRetained(settlement, req.Payments)
	if active != nil && cash.IsPositive() {
		if _, err := c.shifts.RecordCashSale(ctx, active.ID, cash); err != nil {
			result.ShiftErr = err
		}
	}

	c.report(result)
	return result, nil
}

// lineKey names the stock delta of one transaction line.
func lineKey(txID string, line int) string {
	return fmt.Sprintf("%s#%d", txID, line)
}

func (r *Result) applyStock(ctx context.Context, products store.ProductStore, key string, productID string, delta int) {
	if delta == 0 {
		return
	}
	if _, err := products.AdjustStock(store.WithAdjustmentKey(ctx, key), productID, delta); err != nil {
		r.StockFailures = append(r.StockFailures, StockFailure{ProductID: productID, Delta: delta, Err: err})
	}
}

func (c *Committer) report(r *Result) {
	if len(r.StockFailures) == 0 && r.ShiftErr == nil {
		return
	}
	r.Status = StatusPartiallyCommitted

	fields := []zap.Field{zap.String("transaction_id", r.Transaction.ID)}
	for _, f := range r.StockFailures {
		fields = append(fields, zap.NamedError("stock_"+f.ProductID, f))
	}
	if r.ShiftErr != nil {
		fields = append(fields, zap.NamedError("shift", r.ShiftErr))
	}
	c.logger.Error("transaction partially committed", fields...)
}

// BuildLines snapshots cart lines. Quantities are converted to base units.
func BuildLines(items []domain.CartItem) []domain.TransactionLine {
	lines := make([]domain.TransactionLine, 0, len(items))
	for _, item := range items {
		unitName := item.UnitName()
		if unitName == "" {
			unitName = domain.DefaultUnitName
		}
		lines = append(lines, domain.TransactionLine{
			ProductID: item.Product.ID,
			Name:      item.Product.Name,
			Quantity:  stock.ResolveLineDeduction(item.SelectedUnit, item.CartQuantity),
			UnitName:  unitName,
			UnitPrice: stock.UnitPrice(item.Product, item.SelectedUnit),
			Total:     cart.LineTotal(item),
		})
	}
	return lines
}
